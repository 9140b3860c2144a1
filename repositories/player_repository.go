package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Dosada05/pong-arena/models"
)

var ErrPlayerNotFound = errors.New("player not found")

type PlayerRepository interface {
	// Ensure inserts a player with default aggregates if none exists and
	// returns the stored row.
	Ensure(ctx context.Context, id int) (*models.Player, error)
	GetByID(ctx context.Context, id int) (*models.Player, error)
	GetForUpdate(ctx context.Context, id int) (*models.Player, error)
	UpdateAggregate(ctx context.Context, p *models.Player) error
}

type postgresPlayerRepository struct {
	exec SQLExecutor
}

func NewPostgresPlayerRepository(exec SQLExecutor) PlayerRepository {
	return &postgresPlayerRepository{exec: exec}
}

const playerColumns = `id, rating_score, wins, losses, draws, total_matches, total_goals, created_at`

func (r *postgresPlayerRepository) Ensure(ctx context.Context, id int) (*models.Player, error) {
	query := `
		INSERT INTO players (id, rating_score)
		VALUES ($1, $2)
		ON CONFLICT (id) DO NOTHING`
	if _, err := r.exec.ExecContext(ctx, query, id, models.DefaultRating); err != nil {
		return nil, fmt.Errorf("failed to ensure player %d: %w", id, err)
	}
	return r.GetByID(ctx, id)
}

func (r *postgresPlayerRepository) GetByID(ctx context.Context, id int) (*models.Player, error) {
	return r.get(ctx, `SELECT `+playerColumns+` FROM players WHERE id = $1`, id)
}

func (r *postgresPlayerRepository) GetForUpdate(ctx context.Context, id int) (*models.Player, error) {
	return r.get(ctx, `SELECT `+playerColumns+` FROM players WHERE id = $1 FOR UPDATE`, id)
}

func (r *postgresPlayerRepository) get(ctx context.Context, query string, id int) (*models.Player, error) {
	p := &models.Player{}
	err := r.exec.QueryRowContext(ctx, query, id).Scan(
		&p.ID, &p.RatingScore, &p.Wins, &p.Losses, &p.Draws, &p.TotalMatches, &p.TotalGoals, &p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPlayerNotFound
		}
		return nil, fmt.Errorf("failed to scan player %d: %w", id, err)
	}
	return p, nil
}

func (r *postgresPlayerRepository) UpdateAggregate(ctx context.Context, p *models.Player) error {
	query := `
		UPDATE players SET
			rating_score = $1,
			wins = $2,
			losses = $3,
			draws = $4,
			total_matches = $5,
			total_goals = $6
		WHERE id = $7`
	result, err := r.exec.ExecContext(ctx, query,
		p.RatingScore, p.Wins, p.Losses, p.Draws, p.TotalMatches, p.TotalGoals, p.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update player %d: %w", p.ID, err)
	}
	return checkAffectedRows(result, ErrPlayerNotFound)
}

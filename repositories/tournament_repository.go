package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Dosada05/pong-arena/models"
)

var (
	ErrTournamentNotFound       = errors.New("tournament not found")
	ErrTournamentStatusConflict = errors.New("tournament is not in the expected status")
	ErrTournamentInvalidCreator = errors.New("invalid creator reference")
	ErrParticipantConflict      = errors.New("player already registered for this tournament")
	ErrParticipantNotFound      = errors.New("player is not registered for this tournament")
)

type ListTournamentsFilter struct {
	Status *models.TournamentStatus
	Limit  int
	Offset int
}

type TournamentRepository interface {
	Create(ctx context.Context, t *models.Tournament) error
	GetByID(ctx context.Context, id int) (*models.Tournament, error)
	GetForUpdate(ctx context.Context, id int) (*models.Tournament, error)
	List(ctx context.Context, filter ListTournamentsFilter) ([]models.Tournament, error)
	// Transition moves the tournament from one status to another. It fails
	// with ErrTournamentStatusConflict when the row is not in status from.
	Transition(ctx context.Context, id int, from, to models.TournamentStatus, at time.Time) error
	SetChampion(ctx context.Context, id int, playerID int) error

	AddParticipant(ctx context.Context, p *models.TournamentParticipant) error
	RemoveParticipant(ctx context.Context, tournamentID, playerID int) error
	// ListParticipants returns participants in registration order.
	ListParticipants(ctx context.Context, tournamentID int) ([]models.TournamentParticipant, error)
	CountParticipants(ctx context.Context, tournamentID int) (int, error)
	SetSeed(ctx context.Context, tournamentID, playerID, seed int) error
	SetPlacement(ctx context.Context, tournamentID, playerID, placement int) error
}

type postgresTournamentRepository struct {
	exec SQLExecutor
}

func NewPostgresTournamentRepository(exec SQLExecutor) TournamentRepository {
	return &postgresTournamentRepository{exec: exec}
}

const tournamentColumns = `id, name, status, player_count, creator_id, champion_id, created_at, started_at, completed_at`

func scanTournament(row rowScanner, t *models.Tournament) error {
	return row.Scan(
		&t.ID, &t.Name, &t.Status, &t.PlayerCount, &t.CreatorID, &t.ChampionID,
		&t.CreatedAt, &t.StartedAt, &t.CompletedAt,
	)
}

func (r *postgresTournamentRepository) Create(ctx context.Context, t *models.Tournament) error {
	query := `
		INSERT INTO tournaments (name, status, player_count, creator_id)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`

	err := r.exec.QueryRowContext(ctx, query, t.Name, t.Status, t.PlayerCount, t.CreatorID).Scan(&t.ID, &t.CreatedAt)
	return r.handleTournamentError(err)
}

func (r *postgresTournamentRepository) GetByID(ctx context.Context, id int) (*models.Tournament, error) {
	return r.get(ctx, `SELECT `+tournamentColumns+` FROM tournaments WHERE id = $1`, id)
}

func (r *postgresTournamentRepository) GetForUpdate(ctx context.Context, id int) (*models.Tournament, error) {
	return r.get(ctx, `SELECT `+tournamentColumns+` FROM tournaments WHERE id = $1 FOR UPDATE`, id)
}

func (r *postgresTournamentRepository) get(ctx context.Context, query string, id int) (*models.Tournament, error) {
	t := &models.Tournament{}
	if err := scanTournament(r.exec.QueryRowContext(ctx, query, id), t); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTournamentNotFound
		}
		return nil, fmt.Errorf("failed to scan tournament %d: %w", id, err)
	}
	return t, nil
}

func (r *postgresTournamentRepository) List(ctx context.Context, filter ListTournamentsFilter) ([]models.Tournament, error) {
	query := `SELECT ` + tournamentColumns + ` FROM tournaments WHERE 1=1`

	args := []interface{}{}
	argID := 1

	if filter.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", argID)
		args = append(args, *filter.Status)
		argID++
	}

	query += " ORDER BY created_at DESC, id DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argID)
		args = append(args, filter.Limit)
		argID++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argID)
		args = append(args, filter.Offset)
	}

	rows, err := r.exec.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tournaments: %w", err)
	}
	defer rows.Close()

	tournaments := make([]models.Tournament, 0)
	for rows.Next() {
		var t models.Tournament
		if scanErr := scanTournament(rows, &t); scanErr != nil {
			return nil, fmt.Errorf("failed to scan tournament row: %w", scanErr)
		}
		tournaments = append(tournaments, t)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during tournament rows iteration: %w", err)
	}
	return tournaments, nil
}

func (r *postgresTournamentRepository) Transition(ctx context.Context, id int, from, to models.TournamentStatus, at time.Time) error {
	var query string
	switch to {
	case models.TournamentInProgress:
		query = `UPDATE tournaments SET status = $1, started_at = $2 WHERE id = $3 AND status = $4`
	case models.TournamentCompleted:
		query = `UPDATE tournaments SET status = $1, completed_at = $2 WHERE id = $3 AND status = $4`
	default:
		return fmt.Errorf("unsupported tournament transition to %q", to)
	}

	result, err := r.exec.ExecContext(ctx, query, to, at, id, from)
	if err != nil {
		return r.handleTournamentError(err)
	}
	if err := checkAffectedRows(result, ErrTournamentStatusConflict); err != nil {
		if errors.Is(err, ErrTournamentStatusConflict) {
			if _, getErr := r.GetByID(ctx, id); getErr != nil {
				return getErr
			}
		}
		return err
	}
	return nil
}

func (r *postgresTournamentRepository) SetChampion(ctx context.Context, id int, playerID int) error {
	result, err := r.exec.ExecContext(ctx, `UPDATE tournaments SET champion_id = $1 WHERE id = $2`, playerID, id)
	if err != nil {
		return fmt.Errorf("failed to set champion of tournament %d: %w", id, err)
	}
	return checkAffectedRows(result, ErrTournamentNotFound)
}

func (r *postgresTournamentRepository) AddParticipant(ctx context.Context, p *models.TournamentParticipant) error {
	query := `
		INSERT INTO tournament_participants (tournament_id, player_id)
		VALUES ($1, $2)
		RETURNING joined_at`
	err := r.exec.QueryRowContext(ctx, query, p.TournamentID, p.PlayerID).Scan(&p.JoinedAt)
	if err != nil {
		switch code, _ := pqCode(err); code {
		case pqUniqueViolation:
			return ErrParticipantConflict
		case pqForeignKeyViolation:
			return ErrTournamentNotFound
		}
		return fmt.Errorf("failed to register player %d for tournament %d: %w", p.PlayerID, p.TournamentID, err)
	}
	return nil
}

func (r *postgresTournamentRepository) RemoveParticipant(ctx context.Context, tournamentID, playerID int) error {
	query := `DELETE FROM tournament_participants WHERE tournament_id = $1 AND player_id = $2`
	result, err := r.exec.ExecContext(ctx, query, tournamentID, playerID)
	if err != nil {
		return fmt.Errorf("failed to unregister player %d from tournament %d: %w", playerID, tournamentID, err)
	}
	return checkAffectedRows(result, ErrParticipantNotFound)
}

func (r *postgresTournamentRepository) ListParticipants(ctx context.Context, tournamentID int) ([]models.TournamentParticipant, error) {
	query := `
		SELECT tournament_id, player_id, seed, placement, joined_at
		FROM tournament_participants
		WHERE tournament_id = $1
		ORDER BY id ASC`

	rows, err := r.exec.QueryContext(ctx, query, tournamentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query participants for tournament %d: %w", tournamentID, err)
	}
	defer rows.Close()

	participants := make([]models.TournamentParticipant, 0)
	for rows.Next() {
		var p models.TournamentParticipant
		if err := rows.Scan(&p.TournamentID, &p.PlayerID, &p.Seed, &p.Placement, &p.JoinedAt); err != nil {
			return nil, fmt.Errorf("failed to scan participant row: %w", err)
		}
		participants = append(participants, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during participant rows iteration: %w", err)
	}
	return participants, nil
}

func (r *postgresTournamentRepository) CountParticipants(ctx context.Context, tournamentID int) (int, error) {
	var count int
	err := r.exec.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tournament_participants WHERE tournament_id = $1`, tournamentID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count participants for tournament %d: %w", tournamentID, err)
	}
	return count, nil
}

func (r *postgresTournamentRepository) SetSeed(ctx context.Context, tournamentID, playerID, seed int) error {
	query := `UPDATE tournament_participants SET seed = $1 WHERE tournament_id = $2 AND player_id = $3`
	result, err := r.exec.ExecContext(ctx, query, seed, tournamentID, playerID)
	if err != nil {
		return fmt.Errorf("failed to set seed for player %d: %w", playerID, err)
	}
	return checkAffectedRows(result, ErrParticipantNotFound)
}

func (r *postgresTournamentRepository) SetPlacement(ctx context.Context, tournamentID, playerID, placement int) error {
	query := `UPDATE tournament_participants SET placement = $1 WHERE tournament_id = $2 AND player_id = $3`
	result, err := r.exec.ExecContext(ctx, query, placement, tournamentID, playerID)
	if err != nil {
		return fmt.Errorf("failed to set placement for player %d: %w", playerID, err)
	}
	return checkAffectedRows(result, ErrParticipantNotFound)
}

func (r *postgresTournamentRepository) handleTournamentError(err error) error {
	if err == nil {
		return nil
	}
	if code, constraint := pqCode(err); code == pqForeignKeyViolation && constraint == "tournaments_creator_id_fkey" {
		return ErrTournamentInvalidCreator
	}
	return err
}

package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Dosada05/pong-arena/models"
)

var (
	ErrMatchNotFound            = errors.New("match not found")
	ErrMatchParticipantConflict = errors.New("player already seated in this match")
	ErrMatchSlotConflict        = errors.New("bracket slot already has a match")
	ErrMatchPlayerInvalid       = errors.New("match participant references an unknown player")
)

type MatchRepository interface {
	Create(ctx context.Context, m *models.Match) error
	AddParticipant(ctx context.Context, p *models.MatchParticipant) error
	GetByID(ctx context.Context, id int) (*models.Match, error)
	// GetForUpdate locks the match row for the rest of the transaction.
	GetForUpdate(ctx context.Context, id int) (*models.Match, error)
	// MarkStarted sets started_at if it is still null and reports whether it did.
	MarkStarted(ctx context.Context, id int, at time.Time) (bool, error)
	UpdateParticipantResult(ctx context.Context, p *models.MatchParticipant) error
	Complete(ctx context.Context, id int, winnerID *int, forfeit bool, at time.Time) error
	FindActiveByPlayer(ctx context.Context, playerID int) (*models.Match, error)
	ListByTournament(ctx context.Context, tournamentID int, round *int) ([]*models.Match, error)
}

type postgresMatchRepository struct {
	exec SQLExecutor
}

func NewPostgresMatchRepository(exec SQLExecutor) MatchRepository {
	return &postgresMatchRepository{exec: exec}
}

const matchColumns = `id, match_type, status, winner_id, tournament_id, round, bracket_slot, forfeit,
		created_at, started_at, completed_at`

func (r *postgresMatchRepository) Create(ctx context.Context, m *models.Match) error {
	query := `
		INSERT INTO matches (match_type, status, tournament_id, round, bracket_slot)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`

	err := r.exec.QueryRowContext(ctx, query,
		m.MatchType, m.Status, m.TournamentID, m.Round, m.BracketSlot,
	).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		if code, _ := pqCode(err); code == pqUniqueViolation {
			return ErrMatchSlotConflict
		}
		return fmt.Errorf("failed to create match: %w", err)
	}
	return nil
}

func (r *postgresMatchRepository) AddParticipant(ctx context.Context, p *models.MatchParticipant) error {
	query := `
		INSERT INTO match_participants (match_id, player_id, slot, rating_before, rating_after, goals)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.exec.ExecContext(ctx, query, p.MatchID, p.PlayerID, p.Slot, p.RatingBefore, p.RatingAfter, p.Goals)
	if err != nil {
		switch code, _ := pqCode(err); code {
		case pqUniqueViolation:
			return ErrMatchParticipantConflict
		case pqForeignKeyViolation:
			return ErrMatchPlayerInvalid
		}
		return fmt.Errorf("failed to add participant %d to match %d: %w", p.PlayerID, p.MatchID, err)
	}
	return nil
}

func (r *postgresMatchRepository) GetByID(ctx context.Context, id int) (*models.Match, error) {
	return r.get(ctx, `SELECT `+matchColumns+` FROM matches WHERE id = $1`, id)
}

func (r *postgresMatchRepository) GetForUpdate(ctx context.Context, id int) (*models.Match, error) {
	return r.get(ctx, `SELECT `+matchColumns+` FROM matches WHERE id = $1 FOR UPDATE`, id)
}

func (r *postgresMatchRepository) get(ctx context.Context, query string, args ...interface{}) (*models.Match, error) {
	m, err := scanMatch(r.exec.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMatchNotFound
		}
		return nil, fmt.Errorf("failed to scan match: %w", err)
	}
	if err := r.loadParticipants(ctx, []*models.Match{m}); err != nil {
		return nil, err
	}
	return m, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMatch(row rowScanner) (*models.Match, error) {
	m := &models.Match{}
	err := row.Scan(
		&m.ID, &m.MatchType, &m.Status, &m.WinnerID, &m.TournamentID, &m.Round, &m.BracketSlot, &m.Forfeit,
		&m.CreatedAt, &m.StartedAt, &m.CompletedAt,
	)
	return m, err
}

func (r *postgresMatchRepository) loadParticipants(ctx context.Context, matches []*models.Match) error {
	if len(matches) == 0 {
		return nil
	}
	byID := make(map[int]*models.Match, len(matches))
	var placeholders strings.Builder
	args := make([]interface{}, 0, len(matches))
	for i, m := range matches {
		byID[m.ID] = m
		if i > 0 {
			placeholders.WriteString(", ")
		}
		placeholders.WriteString("$")
		placeholders.WriteString(strconv.Itoa(i + 1))
		args = append(args, m.ID)
	}

	query := `
		SELECT match_id, player_id, slot, rating_before, rating_after, goals
		FROM match_participants
		WHERE match_id IN (` + placeholders.String() + `)
		ORDER BY match_id, slot`

	rows, err := r.exec.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to query match participants: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p models.MatchParticipant
		if err := rows.Scan(&p.MatchID, &p.PlayerID, &p.Slot, &p.RatingBefore, &p.RatingAfter, &p.Goals); err != nil {
			return fmt.Errorf("failed to scan match participant row: %w", err)
		}
		if m, ok := byID[p.MatchID]; ok {
			m.Participants = append(m.Participants, p)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error during match participant rows iteration: %w", err)
	}
	return nil
}

func (r *postgresMatchRepository) MarkStarted(ctx context.Context, id int, at time.Time) (bool, error) {
	result, err := r.exec.ExecContext(ctx, `UPDATE matches SET started_at = $1 WHERE id = $2 AND started_at IS NULL`, at, id)
	if err != nil {
		return false, fmt.Errorf("failed to mark match %d started: %w", id, err)
	}
	if err := checkAffectedRows(result, ErrMatchNotFound); err != nil {
		if errors.Is(err, ErrMatchNotFound) {
			// Either missing or already started; tell the two apart.
			if _, getErr := r.GetByID(ctx, id); getErr != nil {
				return false, getErr
			}
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *postgresMatchRepository) UpdateParticipantResult(ctx context.Context, p *models.MatchParticipant) error {
	query := `
		UPDATE match_participants
		SET goals = $1, rating_before = $2, rating_after = $3
		WHERE match_id = $4 AND player_id = $5`
	result, err := r.exec.ExecContext(ctx, query, p.Goals, p.RatingBefore, p.RatingAfter, p.MatchID, p.PlayerID)
	if err != nil {
		return fmt.Errorf("failed to update participant %d of match %d: %w", p.PlayerID, p.MatchID, err)
	}
	return checkAffectedRows(result, ErrMatchNotFound)
}

func (r *postgresMatchRepository) Complete(ctx context.Context, id int, winnerID *int, forfeit bool, at time.Time) error {
	query := `
		UPDATE matches
		SET status = $1, winner_id = $2, forfeit = $3, completed_at = $4
		WHERE id = $5 AND status = $6`
	result, err := r.exec.ExecContext(ctx, query,
		models.MatchStatusCompleted, winnerID, forfeit, at, id, models.MatchStatusPending,
	)
	if err != nil {
		return fmt.Errorf("failed to complete match %d: %w", id, err)
	}
	return checkAffectedRows(result, ErrMatchNotFound)
}

func (r *postgresMatchRepository) FindActiveByPlayer(ctx context.Context, playerID int) (*models.Match, error) {
	query := `
		SELECT ` + matchColumns + `
		FROM matches m
		WHERE m.status = $1
		  AND EXISTS (SELECT 1 FROM match_participants mp WHERE mp.match_id = m.id AND mp.player_id = $2)
		ORDER BY m.created_at DESC
		LIMIT 1`
	return r.get(ctx, query, models.MatchStatusPending, playerID)
}

func (r *postgresMatchRepository) ListByTournament(ctx context.Context, tournamentID int, round *int) ([]*models.Match, error) {
	var queryBuilder strings.Builder
	queryBuilder.WriteString(`SELECT ` + matchColumns + ` FROM matches WHERE tournament_id = $1`)
	args := []interface{}{tournamentID}
	if round != nil {
		queryBuilder.WriteString(" AND round = $2")
		args = append(args, *round)
	}
	queryBuilder.WriteString(" ORDER BY round ASC, bracket_slot ASC, id ASC")

	rows, err := r.exec.QueryContext(ctx, queryBuilder.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query matches for tournament %d: %w", tournamentID, err)
	}
	defer rows.Close()

	matches := make([]*models.Match, 0)
	for rows.Next() {
		m, scanErr := scanMatch(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan match row: %w", scanErr)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during match rows iteration: %w", err)
	}
	if err := r.loadParticipants(ctx, matches); err != nil {
		return nil, err
	}
	return matches, nil
}

package repositories

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dosada05/pong-arena/models"
)

var (
	matchRowColumns = []string{"id", "match_type", "status", "winner_id", "tournament_id", "round", "bracket_slot", "forfeit",
		"created_at", "started_at", "completed_at"}
	participantRowColumns = []string{"match_id", "player_id", "slot", "rating_before", "rating_after", "goals"}
	tournamentRowColumns  = []string{"id", "name", "status", "player_count", "creator_id", "champion_id",
		"created_at", "started_at", "completed_at"}
	playerRowColumns = []string{"id", "rating_score", "wins", "losses", "draws", "total_matches", "total_goals", "created_at"}
)

func pendingMatchRows(ids ...int) *sqlmock.Rows {
	rows := sqlmock.NewRows(matchRowColumns)
	for _, id := range ids {
		rows.AddRow(id, "ranked", "pending", nil, nil, nil, nil, false, testNow, nil, nil)
	}
	return rows
}

func TestPostgresMatchRepository_FindActiveByPlayer(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM matches m")).
		WithArgs(models.MatchStatusPending, 7).
		WillReturnRows(pendingMatchRows(11))
	mock.ExpectQuery(regexp.QuoteMeta("FROM match_participants")).
		WithArgs(11).
		WillReturnRows(sqlmock.NewRows(participantRowColumns).
			AddRow(11, 7, 1, 1000, 1000, 0).
			AddRow(11, 8, 2, 1040, 1040, 0))

	m, err := store.Repos().Matches.FindActiveByPlayer(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, 11, m.ID)
	assert.Equal(t, models.MatchStatusPending, m.Status)
	require.Len(t, m.Participants, 2)
	assert.Equal(t, 8, m.Participants[1].PlayerID)
	assert.Equal(t, 1040, m.Participants[1].RatingBefore)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresMatchRepository_FindActiveByPlayerNone(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM matches m")).
		WithArgs(models.MatchStatusPending, 7).
		WillReturnRows(sqlmock.NewRows(matchRowColumns))

	_, err := store.Repos().Matches.FindActiveByPlayer(context.Background(), 7)
	assert.ErrorIs(t, err, ErrMatchNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresMatchRepository_CompleteOnlyPending(t *testing.T) {
	store, mock := newMockStore(t)
	winner := 7

	mock.ExpectExec(regexp.QuoteMeta("WHERE id = $5 AND status = $6")).
		WithArgs(models.MatchStatusCompleted, winner, false, testNow, 11, models.MatchStatusPending).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("WHERE id = $5 AND status = $6")).
		WithArgs(models.MatchStatusCompleted, nil, true, testNow, 11, models.MatchStatusPending).
		WillReturnResult(sqlmock.NewResult(0, 0))

	repo := store.Repos().Matches
	require.NoError(t, repo.Complete(context.Background(), 11, &winner, false, testNow))
	err := repo.Complete(context.Background(), 11, nil, true, testNow)
	assert.ErrorIs(t, err, ErrMatchNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresMatchRepository_MarkStarted(t *testing.T) {
	const markQuery = "UPDATE matches SET started_at = $1 WHERE id = $2 AND started_at IS NULL"

	t.Run("first call sets started_at", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectExec(regexp.QuoteMeta(markQuery)).
			WithArgs(testNow, 11).
			WillReturnResult(sqlmock.NewResult(0, 1))

		started, err := store.Repos().Matches.MarkStarted(context.Background(), 11, testNow)
		require.NoError(t, err)
		assert.True(t, started)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("already started is not an error", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectExec(regexp.QuoteMeta(markQuery)).
			WithArgs(testNow, 11).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(regexp.QuoteMeta("FROM matches WHERE id = $1")).
			WithArgs(11).
			WillReturnRows(pendingMatchRows(11))
		mock.ExpectQuery(regexp.QuoteMeta("FROM match_participants")).
			WithArgs(11).
			WillReturnRows(sqlmock.NewRows(participantRowColumns))

		started, err := store.Repos().Matches.MarkStarted(context.Background(), 11, testNow)
		require.NoError(t, err)
		assert.False(t, started)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown match", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectExec(regexp.QuoteMeta(markQuery)).
			WithArgs(testNow, 99).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(regexp.QuoteMeta("FROM matches WHERE id = $1")).
			WithArgs(99).
			WillReturnRows(sqlmock.NewRows(matchRowColumns))

		_, err := store.Repos().Matches.MarkStarted(context.Background(), 99, testNow)
		assert.ErrorIs(t, err, ErrMatchNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresMatchRepository_ListByTournamentOrdersBySlot(t *testing.T) {
	store, mock := newMockStore(t)
	round := 1

	mock.ExpectQuery(regexp.QuoteMeta("WHERE tournament_id = $1 AND round = $2 ORDER BY round ASC, bracket_slot ASC, id ASC")).
		WithArgs(3, 1).
		WillReturnRows(sqlmock.NewRows(matchRowColumns).
			AddRow(21, "tournament", "completed", 1, 3, 1, 1, false, testNow, testNow, testNow).
			AddRow(20, "tournament", "pending", nil, 3, 1, 2, false, testNow, nil, nil))
	mock.ExpectQuery(regexp.QuoteMeta("WHERE match_id IN ($1, $2)")).
		WithArgs(21, 20).
		WillReturnRows(sqlmock.NewRows(participantRowColumns).
			AddRow(20, 2, 1, 1000, 1000, 0).
			AddRow(20, 3, 2, 1000, 1000, 0).
			AddRow(21, 1, 1, 1000, 1016, 5).
			AddRow(21, 4, 2, 1000, 984, 2))

	matches, err := store.Repos().Matches.ListByTournament(context.Background(), 3, &round)
	require.NoError(t, err)
	require.Len(t, matches, 2)

	assert.Equal(t, 21, matches[0].ID)
	require.NotNil(t, matches[0].BracketSlot)
	assert.Equal(t, 1, *matches[0].BracketSlot)
	require.NotNil(t, matches[0].WinnerID)
	assert.Equal(t, 1, *matches[0].WinnerID)
	assert.True(t, matches[0].IsCompleted())

	assert.Equal(t, 20, matches[1].ID)
	assert.Nil(t, matches[1].WinnerID)
	p1, _ := matches[1].PlayerInSlot(1)
	p2, _ := matches[1].PlayerInSlot(2)
	assert.Equal(t, []int{2, 3}, []int{p1, p2})
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresMatchRepository_ListByTournamentAllRounds(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE tournament_id = $1 ORDER BY round ASC")).
		WithArgs(3).
		WillReturnRows(sqlmock.NewRows(matchRowColumns))

	matches, err := store.Repos().Matches.ListByTournament(context.Background(), 3, nil)
	require.NoError(t, err)
	assert.Empty(t, matches)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresMatchRepository_ConstraintErrors(t *testing.T) {
	store, mock := newMockStore(t)
	repo := store.Repos().Matches
	tid, round, slot := 3, 1, 2

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO matches")).
		WillReturnError(&pq.Error{Code: pqUniqueViolation, Constraint: "matches_bracket_slot_key"})
	err := repo.Create(context.Background(), &models.Match{
		MatchType: models.MatchTypeTournament, Status: models.MatchStatusPending,
		TournamentID: &tid, Round: &round, BracketSlot: &slot,
	})
	assert.ErrorIs(t, err, ErrMatchSlotConflict)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO match_participants")).
		WillReturnError(&pq.Error{Code: pqForeignKeyViolation})
	err = repo.AddParticipant(context.Background(), &models.MatchParticipant{MatchID: 11, PlayerID: 404, Slot: 1})
	assert.ErrorIs(t, err, ErrMatchPlayerInvalid)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO match_participants")).
		WillReturnError(&pq.Error{Code: pqUniqueViolation})
	err = repo.AddParticipant(context.Background(), &models.MatchParticipant{MatchID: 11, PlayerID: 7, Slot: 2})
	assert.ErrorIs(t, err, ErrMatchParticipantConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresTournamentRepository_Transition(t *testing.T) {
	const transitionQuery = "UPDATE tournaments SET status = $1, started_at = $2 WHERE id = $3 AND status = $4"

	t.Run("moves forward", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectExec(regexp.QuoteMeta(transitionQuery)).
			WithArgs(models.TournamentInProgress, testNow, 3, models.TournamentRegistering).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := store.Repos().Tournaments.Transition(context.Background(), 3,
			models.TournamentRegistering, models.TournamentInProgress, testNow)
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("wrong status is a conflict", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectExec(regexp.QuoteMeta(transitionQuery)).
			WithArgs(models.TournamentInProgress, testNow, 3, models.TournamentRegistering).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(regexp.QuoteMeta("FROM tournaments WHERE id = $1")).
			WithArgs(3).
			WillReturnRows(sqlmock.NewRows(tournamentRowColumns).
				AddRow(3, "cup", "in_progress", 4, 1, nil, testNow, testNow, nil))

		err := store.Repos().Tournaments.Transition(context.Background(), 3,
			models.TournamentRegistering, models.TournamentInProgress, testNow)
		assert.ErrorIs(t, err, ErrTournamentStatusConflict)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing tournament is not found", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectExec(regexp.QuoteMeta(transitionQuery)).
			WithArgs(models.TournamentInProgress, testNow, 9, models.TournamentRegistering).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(regexp.QuoteMeta("FROM tournaments WHERE id = $1")).
			WithArgs(9).
			WillReturnRows(sqlmock.NewRows(tournamentRowColumns))

		err := store.Repos().Tournaments.Transition(context.Background(), 9,
			models.TournamentRegistering, models.TournamentInProgress, testNow)
		assert.ErrorIs(t, err, ErrTournamentNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("never back to registering", func(t *testing.T) {
		store, mock := newMockStore(t)
		err := store.Repos().Tournaments.Transition(context.Background(), 3,
			models.TournamentInProgress, models.TournamentRegistering, testNow)
		assert.Error(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresTournamentRepository_AddParticipantUnknownTournament(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("INSERT INTO tournament_participants").
		WithArgs(404, 7).
		WillReturnError(&pq.Error{Code: pqForeignKeyViolation})

	err := store.Repos().Tournaments.AddParticipant(context.Background(), newTestRegistration(404, 7))
	assert.ErrorIs(t, err, ErrTournamentNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresPlayerRepository_Ensure(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (id) DO NOTHING")).
		WithArgs(5, models.DefaultRating).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("FROM players WHERE id = $1")).
		WithArgs(5).
		WillReturnRows(sqlmock.NewRows(playerRowColumns).AddRow(5, 1120, 4, 1, 0, 5, 22, testNow))

	p, err := store.Repos().Players.Ensure(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, 1120, p.RatingScore)
	assert.Equal(t, 5, p.TotalMatches)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresPlayerRepository_GetByIDNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM players WHERE id = $1")).
		WithArgs(404).
		WillReturnRows(sqlmock.NewRows(playerRowColumns))

	_, err := store.Repos().Players.GetByID(context.Background(), 404)
	assert.ErrorIs(t, err, ErrPlayerNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

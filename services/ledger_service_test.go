package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dosada05/pong-arena/models"
	"github.com/Dosada05/pong-arena/repositories"
)

func TestLedger_CreateMatchValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		params CreateMatchParams
		want   error
	}{
		{"same player", CreateMatchParams{MatchType: models.MatchTypeRanked, Player1: 3, Player2: 3}, ErrSamePlayer},
		{"zero id", CreateMatchParams{MatchType: models.MatchTypeRanked, Player1: 0, Player2: 3}, ErrInvalidPlayerID},
		{"bad type", CreateMatchParams{MatchType: "casual", Player1: 1, Player2: 2}, ErrInvalidMatchType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.ledger.CreateMatch(ctx, tt.params)
			require.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestLedger_CreateMatchSeatsBothPlayers(t *testing.T) {
	env := newTestEnv(t)
	env.setRating(t, 2, 1200)

	m := env.newRankedMatch(t, 1, 2)

	assert.Equal(t, models.MatchStatusPending, m.Status)
	require.Len(t, m.Participants, 2)
	assert.Equal(t, 1, m.Participants[0].Slot)
	assert.Equal(t, models.DefaultRating, m.Participants[0].RatingBefore)
	assert.Equal(t, 1200, m.Participants[1].RatingBefore)

	active, ok, err := env.ledger.ActiveMatchFor(context.Background(), 2)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, m.ID, active.ID)
}

func TestLedger_CommitResultIsZeroSum(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	m := env.newRankedMatch(t, 1, 2)

	outcome, err := env.ledger.CommitResult(ctx, m.ID, intPtr(1), 5, 3)
	require.NoError(t, err)

	winner, loser := env.player(t, 1), env.player(t, 2)
	assert.Equal(t, 1016, winner.RatingScore)
	assert.Equal(t, 984, loser.RatingScore)
	assert.Equal(t, 2*models.DefaultRating, winner.RatingScore+loser.RatingScore)
	assert.Equal(t, 1, winner.Wins)
	assert.Equal(t, 1, loser.Losses)
	assert.Equal(t, 5, winner.TotalGoals)
	assert.Equal(t, 3, loser.TotalGoals)

	require.NotNil(t, outcome.LoserID)
	assert.Equal(t, 2, *outcome.LoserID)
	assert.Equal(t, [2]int{5, 3}, outcome.Goals)
	assert.Equal(t, 16, outcome.Changes[0].Delta)
	assert.Equal(t, -16, outcome.Changes[1].Delta)

	stored, err := env.ledger.GetMatch(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsCompleted())
	assert.Equal(t, 1016, *stored.Participants[0].RatingAfter)

	published, _ := env.publisher.counts()
	assert.Equal(t, 1, published)
}

func TestLedger_DrawCountsForBoth(t *testing.T) {
	env := newTestEnv(t)
	m := env.newRankedMatch(t, 1, 2)

	outcome, err := env.ledger.CommitResult(context.Background(), m.ID, nil, 4, 4)
	require.NoError(t, err)
	assert.Nil(t, outcome.WinnerID)
	assert.Nil(t, outcome.LoserID)
	assert.Equal(t, 1, env.player(t, 1).Draws)
	assert.Equal(t, 1, env.player(t, 2).Draws)
	assert.Equal(t, models.DefaultRating, env.player(t, 1).RatingScore)
}

func TestLedger_RatingNeverDropsBelowFloor(t *testing.T) {
	env := newTestEnv(t)
	env.setRating(t, 1, 5)
	env.setRating(t, 2, 5)
	m := env.newRankedMatch(t, 1, 2)

	_, err := env.ledger.CommitResult(context.Background(), m.ID, intPtr(2), 0, 5)
	require.NoError(t, err)
	assert.Equal(t, 0, env.player(t, 1).RatingScore)
	assert.Equal(t, 21, env.player(t, 2).RatingScore)
}

func TestLedger_CommitRejectsBadInput(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	m := env.newRankedMatch(t, 1, 2)

	_, err := env.ledger.CommitResult(ctx, m.ID, intPtr(9), 1, 0)
	assert.ErrorIs(t, err, ErrInvalidWinner)

	_, err = env.ledger.CommitResult(ctx, m.ID, intPtr(1), -1, 0)
	assert.ErrorIs(t, err, ErrInvalidGoals)

	_, err = env.ledger.CommitResult(ctx, 999, intPtr(1), 1, 0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLedger_CommitIsAtomic(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	m := env.newRankedMatch(t, 1, 2)

	env.store.FailOn(repositories.OpPlayersUpdate, errors.New("disk full"))
	_, err := env.ledger.CommitResult(ctx, m.ID, intPtr(1), 5, 0)
	require.ErrorIs(t, err, ErrPersistence)

	stored, err := env.ledger.GetMatch(ctx, m.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsCompleted())
	assert.Nil(t, stored.Participants[0].RatingAfter)
	assert.Equal(t, models.DefaultRating, env.player(t, 1).RatingScore)
	assert.Equal(t, 0, env.player(t, 1).TotalMatches)

	published, _ := env.publisher.counts()
	assert.Zero(t, published)

	env.store.FailOn(repositories.OpPlayersUpdate, nil)
	_, err = env.ledger.CommitResult(ctx, m.ID, intPtr(1), 5, 0)
	require.NoError(t, err)
}

func TestLedger_CommitOnlyOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	m := env.newRankedMatch(t, 1, 2)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.ledger.CommitResult(ctx, m.ID, intPtr(1), 5, 2)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, ErrConflict)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, env.player(t, 1).TotalMatches)
}

func TestLedger_CommitForfeit(t *testing.T) {
	env := newTestEnv(t)
	m := env.newRankedMatch(t, 1, 2)

	outcome, err := env.ledger.CommitForfeit(context.Background(), m.ID, 1, 2, 1)
	require.NoError(t, err)
	assert.True(t, outcome.Forfeit)
	assert.Equal(t, 2, *outcome.WinnerID)
	assert.Equal(t, 1, env.player(t, 1).Losses)
}

func TestLedger_TournamentMatchNeedsBracketReport(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tournamentID, round, slot := 1, 1, 1
	require.NoError(t, env.store.RunInTx(ctx, func(ctx context.Context, repos repositories.Repos) error {
		if _, err := repos.Players.Ensure(ctx, 1); err != nil {
			return err
		}
		return repos.Tournaments.Create(ctx, &models.Tournament{
			Name: "cup", Status: models.TournamentInProgress, PlayerCount: 4, CreatorID: 1,
		})
	}))
	m, err := env.ledger.CreateMatch(ctx, CreateMatchParams{
		MatchType: models.MatchTypeTournament, TournamentID: &tournamentID, Round: &round, BracketSlot: &slot,
		Player1: 1, Player2: 2,
	})
	require.NoError(t, err)

	_, err = env.ledger.CommitResult(ctx, m.ID, intPtr(1), 5, 0)
	assert.ErrorIs(t, err, ErrTournamentReportRequired)
}

// conflictingStore aborts the next n transactions the way postgres aborts a
// serializable transaction that lost a read/write race.
type conflictingStore struct {
	repositories.Store

	mu       sync.Mutex
	n        int
	attempts int
}

func (s *conflictingStore) RunInTx(ctx context.Context, fn func(ctx context.Context, repos repositories.Repos) error) error {
	s.mu.Lock()
	s.attempts++
	abort := s.n > 0
	if abort {
		s.n--
	}
	s.mu.Unlock()
	if abort {
		return fmt.Errorf("%w: could not serialize access", repositories.ErrSerializationFailure)
	}
	return s.Store.RunInTx(ctx, fn)
}

func TestLedger_CommitRetriesSerializationFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	m := env.newRankedMatch(t, 1, 2)

	store := &conflictingStore{Store: env.store, n: maxTxAttempts - 1}
	env.ledger.store = store
	outcome, err := env.ledger.CommitResult(ctx, m.ID, intPtr(1), 5, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, *outcome.WinnerID)
	assert.Equal(t, maxTxAttempts, store.attempts)

	next := env.newRankedMatch(t, 1, 2)
	store.n, store.attempts = maxTxAttempts, 0
	_, err = env.ledger.CommitResult(ctx, next.ID, intPtr(2), 0, 5)
	assert.ErrorIs(t, err, ErrConcurrentUpdate)
	assert.Equal(t, maxTxAttempts, store.attempts)

	stored, err := env.ledger.GetMatch(ctx, next.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsCompleted())
}

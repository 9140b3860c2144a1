package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dosada05/pong-arena/models"
)

func TestMemoryStore_RunInTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.Repos().Players.Ensure(ctx, 1)
	require.NoError(t, err)

	boom := errors.New("boom")
	err = store.RunInTx(ctx, func(ctx context.Context, repos Repos) error {
		p, err := repos.Players.GetForUpdate(ctx, 1)
		require.NoError(t, err)
		p.RatingScore = 1200
		p.Wins = 1
		require.NoError(t, repos.Players.UpdateAggregate(ctx, p))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	p, err := store.Repos().Players.GetByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.DefaultRating, p.RatingScore)
	assert.Zero(t, p.Wins)
}

func TestMemoryStore_FailOnInjectsError(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	_, err := store.Repos().Players.Ensure(ctx, 7)
	require.NoError(t, err)

	injected := errors.New("disk full")
	store.FailOn(OpPlayersUpdate, injected)

	err = store.RunInTx(ctx, func(ctx context.Context, repos Repos) error {
		return repos.Players.UpdateAggregate(ctx, &models.Player{ID: 7, RatingScore: 5})
	})
	assert.ErrorIs(t, err, injected)

	store.FailOn(OpPlayersUpdate, nil)
	err = store.RunInTx(ctx, func(ctx context.Context, repos Repos) error {
		return repos.Players.UpdateAggregate(ctx, &models.Player{ID: 7, RatingScore: 5})
	})
	assert.NoError(t, err)
}

func TestMemoryStore_MatchLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	repos := store.Repos()

	for _, id := range []int{1, 2} {
		_, err := repos.Players.Ensure(ctx, id)
		require.NoError(t, err)
	}

	m := &models.Match{MatchType: models.MatchTypeRanked, Status: models.MatchStatusPending}
	require.NoError(t, repos.Matches.Create(ctx, m))
	require.NotZero(t, m.ID)
	require.NoError(t, repos.Matches.AddParticipant(ctx, &models.MatchParticipant{MatchID: m.ID, PlayerID: 2, Slot: 2, RatingBefore: 1000}))
	require.NoError(t, repos.Matches.AddParticipant(ctx, &models.MatchParticipant{MatchID: m.ID, PlayerID: 1, Slot: 1, RatingBefore: 1000}))

	err := repos.Matches.AddParticipant(ctx, &models.MatchParticipant{MatchID: m.ID, PlayerID: 1, Slot: 2})
	assert.ErrorIs(t, err, ErrMatchParticipantConflict)

	active, err := repos.Matches.FindActiveByPlayer(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, m.ID, active.ID)
	p1, ok := active.PlayerInSlot(1)
	require.True(t, ok)
	assert.Equal(t, 1, p1)

	started, err := repos.Matches.MarkStarted(ctx, m.ID, time.Now())
	require.NoError(t, err)
	assert.True(t, started)
	started, err = repos.Matches.MarkStarted(ctx, m.ID, time.Now())
	require.NoError(t, err)
	assert.False(t, started)

	winner := 1
	require.NoError(t, repos.Matches.Complete(ctx, m.ID, &winner, false, time.Now()))
	assert.ErrorIs(t, repos.Matches.Complete(ctx, m.ID, &winner, false, time.Now()), ErrMatchNotFound)

	_, err = repos.Matches.FindActiveByPlayer(ctx, 1)
	assert.ErrorIs(t, err, ErrMatchNotFound)
}

func TestMemoryStore_TournamentParticipantsKeepRegistrationOrder(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	repos := store.Repos()

	_, err := repos.Players.Ensure(ctx, 10)
	require.NoError(t, err)

	tour := &models.Tournament{Name: "cup", Status: models.TournamentRegistering, PlayerCount: 4, CreatorID: 10}
	require.NoError(t, repos.Tournaments.Create(ctx, tour))

	for _, id := range []int{30, 10, 20} {
		require.NoError(t, repos.Tournaments.AddParticipant(ctx, &models.TournamentParticipant{TournamentID: tour.ID, PlayerID: id}))
	}
	err = repos.Tournaments.AddParticipant(ctx, &models.TournamentParticipant{TournamentID: tour.ID, PlayerID: 20})
	assert.ErrorIs(t, err, ErrParticipantConflict)

	require.NoError(t, repos.Tournaments.RemoveParticipant(ctx, tour.ID, 10))
	assert.ErrorIs(t, repos.Tournaments.RemoveParticipant(ctx, tour.ID, 10), ErrParticipantNotFound)

	ps, err := repos.Tournaments.ListParticipants(ctx, tour.ID)
	require.NoError(t, err)
	require.Len(t, ps, 2)
	assert.Equal(t, 30, ps[0].PlayerID)
	assert.Equal(t, 20, ps[1].PlayerID)

	err = repos.Tournaments.Transition(ctx, tour.ID, models.TournamentInProgress, models.TournamentCompleted, time.Now())
	assert.ErrorIs(t, err, ErrTournamentStatusConflict)
	require.NoError(t, repos.Tournaments.Transition(ctx, tour.ID, models.TournamentRegistering, models.TournamentInProgress, time.Now()))

	got, err := repos.Tournaments.GetByID(ctx, tour.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TournamentInProgress, got.Status)
	assert.NotNil(t, got.StartedAt)
}

package presence

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTracker(t *testing.T) (*Tracker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewTracker(rdb, slog.New(slog.NewTextHandler(io.Discard, nil))), mr
}

func TestTracker_Lifecycle(t *testing.T) {
	tr, mr := newTestTracker(t)
	ctx := context.Background()

	p, err := tr.Get(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, StatusOffline, p.Status)

	tr.HandleConnect(7)
	p, err = tr.Get(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, StatusOnline, p.Status)
	assert.Nil(t, p.MatchID)
	assert.True(t, mr.TTL(key(7)) > 0)

	require.NoError(t, tr.SetInMatch(ctx, 7, 31))
	p, err = tr.Get(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, StatusInMatch, p.Status)
	require.NotNil(t, p.MatchID)
	assert.Equal(t, 31, *p.MatchID)

	require.NoError(t, tr.ClearInMatch(ctx, 7))
	p, err = tr.Get(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, StatusOnline, p.Status)
	assert.Nil(t, p.MatchID)

	tr.HandleDisconnect(7)
	assert.False(t, mr.Exists(key(7)))
}

func TestConnect(t *testing.T) {
	mr := miniredis.RunT(t)

	rdb, err := Connect(context.Background(), fmt.Sprintf("redis://%s/0", mr.Addr()))
	require.NoError(t, err)
	require.NoError(t, rdb.Close())

	_, err = Connect(context.Background(), "")
	assert.Error(t, err)

	_, err = Connect(context.Background(), "://nope")
	assert.Error(t, err)
}

// Package presence keeps a shared view of which players are online and which
// match they are playing, so other services can read it from Redis.
package presence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	StatusOffline = "offline"
	StatusOnline  = "online"
	StatusInMatch = "in_match"

	keyPrefix   = "pong:presence:"
	defaultTTL  = 2 * time.Hour
	hookTimeout = 2 * time.Second
)

type Presence struct {
	PlayerID int    `json:"player_id"`
	Status   string `json:"status"`
	MatchID  *int   `json:"match_id,omitempty"`
}

type Tracker struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// Connect parses a redis:// URL and pings the server.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, errors.New("REDIS_URL is required for presence tracking")
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

func NewTracker(rdb *redis.Client, logger *slog.Logger) *Tracker {
	return &Tracker{rdb: rdb, ttl: defaultTTL, logger: logger}
}

func key(playerID int) string {
	return keyPrefix + strconv.Itoa(playerID)
}

func (t *Tracker) set(ctx context.Context, playerID int, fields map[string]interface{}, drop ...string) error {
	k := key(playerID)
	pipe := t.rdb.TxPipeline()
	pipe.HSet(ctx, k, fields)
	if len(drop) > 0 {
		pipe.HDel(ctx, k, drop...)
	}
	pipe.Expire(ctx, k, t.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to update presence of player %d: %w", playerID, err)
	}
	return nil
}

func (t *Tracker) SetOnline(ctx context.Context, playerID int) error {
	return t.set(ctx, playerID, map[string]interface{}{"status": StatusOnline}, "match_id")
}

func (t *Tracker) SetOffline(ctx context.Context, playerID int) error {
	if err := t.rdb.Del(ctx, key(playerID)).Err(); err != nil {
		return fmt.Errorf("failed to clear presence of player %d: %w", playerID, err)
	}
	return nil
}

func (t *Tracker) SetInMatch(ctx context.Context, playerID, matchID int) error {
	return t.set(ctx, playerID, map[string]interface{}{"status": StatusInMatch, "match_id": matchID})
}

// ClearInMatch puts the player back to online once a match ends.
func (t *Tracker) ClearInMatch(ctx context.Context, playerID int) error {
	return t.SetOnline(ctx, playerID)
}

func (t *Tracker) Get(ctx context.Context, playerID int) (Presence, error) {
	vals, err := t.rdb.HGetAll(ctx, key(playerID)).Result()
	if err != nil {
		return Presence{}, fmt.Errorf("failed to read presence of player %d: %w", playerID, err)
	}
	p := Presence{PlayerID: playerID, Status: StatusOffline}
	if status, ok := vals["status"]; ok {
		p.Status = status
	}
	if raw, ok := vals["match_id"]; ok {
		if id, err := strconv.Atoi(raw); err == nil {
			p.MatchID = &id
		}
	}
	return p, nil
}

// HandleConnect and HandleDisconnect are registered as hub hooks.
func (t *Tracker) HandleConnect(playerID int) {
	ctx, cancel := context.WithTimeout(context.Background(), hookTimeout)
	defer cancel()
	if err := t.SetOnline(ctx, playerID); err != nil {
		t.logger.Warn("presence update failed", slog.Int("player_id", playerID), slog.Any("error", err))
	}
}

func (t *Tracker) HandleDisconnect(playerID int) {
	ctx, cancel := context.WithTimeout(context.Background(), hookTimeout)
	defer cancel()
	if err := t.SetOffline(ctx, playerID); err != nil {
		t.logger.Warn("presence update failed", slog.Int("player_id", playerID), slog.Any("error", err))
	}
}

func (t *Tracker) Close() error {
	return t.rdb.Close()
}

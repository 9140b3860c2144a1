// Package events publishes domain events for other services to consume.
package events

import (
	"context"
	"time"
)

const (
	SubjectPrefix              = "pong"
	SubjectMatchCompleted      = "pong.match.completed"
	SubjectTournamentCompleted = "pong.tournament.completed"
)

type PlayerResult struct {
	PlayerID     int `json:"player_id"`
	Goals        int `json:"goals"`
	RatingBefore int `json:"rating_before"`
	RatingAfter  int `json:"rating_after"`
}

type MatchCompleted struct {
	MatchID      int            `json:"match_id"`
	MatchType    string         `json:"match_type"`
	TournamentID *int           `json:"tournament_id,omitempty"`
	WinnerID     *int           `json:"winner_id,omitempty"`
	Forfeit      bool           `json:"forfeit"`
	Players      []PlayerResult `json:"players"`
	CompletedAt  time.Time      `json:"completed_at"`
}

type Placement struct {
	PlayerID  int `json:"player_id"`
	Placement int `json:"placement"`
}

type TournamentCompleted struct {
	TournamentID int         `json:"tournament_id"`
	Name         string      `json:"name"`
	ChampionID   int         `json:"champion_id"`
	Placements   []Placement `json:"placements"`
	CompletedAt  time.Time   `json:"completed_at"`
}

type Publisher interface {
	PublishMatchCompleted(ctx context.Context, evt MatchCompleted) error
	PublishTournamentCompleted(ctx context.Context, evt TournamentCompleted) error
	Close()
}

type NoopPublisher struct{}

func (NoopPublisher) PublishMatchCompleted(context.Context, MatchCompleted) error { return nil }

func (NoopPublisher) PublishTournamentCompleted(context.Context, TournamentCompleted) error {
	return nil
}

func (NoopPublisher) Close() {}

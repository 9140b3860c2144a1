package services

import (
	"context"

	"github.com/Dosada05/pong-arena/models"
)

// Notifier pushes an envelope to a connected player. It reports false when the
// player is offline; callers treat that as a normal outcome.
type Notifier interface {
	SendToClient(playerID int, msgType string, payload interface{}) bool
}

// PresenceTracker records which match a player is currently playing.
type PresenceTracker interface {
	SetInMatch(ctx context.Context, playerID, matchID int) error
	ClearInMatch(ctx context.Context, playerID int) error
}

// TournamentAlerter delivers out-of-band tournament alerts, e.g. push
// notifications for players who are not connected.
type TournamentAlerter interface {
	SendTournamentAlert(ctx context.Context, playerID int, alert TournamentAlert) error
}

type TournamentAlert struct {
	TournamentID int    `json:"tournament_id"`
	Kind         string `json:"kind"`
	MatchID      *int   `json:"match_id,omitempty"`
	Message      string `json:"message"`
}

// TournamentArchiver stores the final snapshot of a completed tournament and
// returns where it was written.
type TournamentArchiver interface {
	ArchiveTournament(ctx context.Context, t *models.Tournament) (string, error)
}

// MatchStarter opens the live session for a freshly created match and tells
// both players about it.
type MatchStarter interface {
	BeginMatch(ctx context.Context, m *models.Match) error
}

// MatchQueue is the part of the ranked queue the tournament engine needs to
// take players out of it.
type MatchQueue interface {
	Dequeue(playerID int) bool
}

// SessionCloser ends the live session of a match whose result was committed
// outside of it and opens the next pending match of its players.
type SessionCloser interface {
	CloseCommitted(ctx context.Context, outcome *MatchOutcome)
}

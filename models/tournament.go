package models

import "time"

// TournamentStatus mirrors the tournament_status enum in the database.
type TournamentStatus string

const (
	TournamentRegistering TournamentStatus = "registering"
	TournamentInProgress  TournamentStatus = "in_progress"
	TournamentCompleted   TournamentStatus = "completed"
)

func (s TournamentStatus) Valid() bool {
	switch s {
	case TournamentRegistering, TournamentInProgress, TournamentCompleted:
		return true
	}
	return false
}

// Tournament is a single-elimination bracket of 4 or 8 players.
type Tournament struct {
	ID          int              `json:"id"`
	Name        string           `json:"name"`
	Status      TournamentStatus `json:"status"`
	PlayerCount int              `json:"player_count"`
	CreatorID   int              `json:"creator_id"`
	ChampionID  *int             `json:"champion_id,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	StartedAt   *time.Time       `json:"started_at,omitempty"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`

	Participants []TournamentParticipant `json:"participants,omitempty"`
	Matches      []Match                 `json:"matches,omitempty"`
}

type TournamentParticipant struct {
	TournamentID int       `json:"tournament_id"`
	PlayerID     int       `json:"player_id"`
	Seed         *int      `json:"seed,omitempty"`
	Placement    *int      `json:"placement,omitempty"`
	JoinedAt     time.Time `json:"joined_at"`
}

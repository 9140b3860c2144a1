package models

import "time"

type MatchType string

const (
	MatchTypeRanked     MatchType = "ranked"
	MatchTypeFriendly   MatchType = "friendly"
	MatchTypeTournament MatchType = "tournament"
)

func (t MatchType) Valid() bool {
	switch t {
	case MatchTypeRanked, MatchTypeFriendly, MatchTypeTournament:
		return true
	}
	return false
}

type MatchStatus string

const (
	MatchStatusPending   MatchStatus = "pending"
	MatchStatusCompleted MatchStatus = "completed"
)

type Match struct {
	ID           int         `json:"id"`
	MatchType    MatchType   `json:"match_type"`
	Status       MatchStatus `json:"status"`
	WinnerID     *int        `json:"winner_id,omitempty"`
	TournamentID *int        `json:"tournament_id,omitempty"`
	Round        *int        `json:"round,omitempty"`
	BracketSlot  *int        `json:"bracket_slot,omitempty"`
	Forfeit      bool        `json:"forfeit"`
	CreatedAt    time.Time   `json:"created_at"`
	StartedAt    *time.Time  `json:"started_at,omitempty"`
	CompletedAt  *time.Time  `json:"completed_at,omitempty"`

	Participants []MatchParticipant `json:"participants,omitempty"`
}

func (m *Match) IsCompleted() bool {
	return m.Status == MatchStatusCompleted
}

// MatchParticipant is one side of a 1v1 match. Slot 1 is player1, the
// ball-authoritative peer.
type MatchParticipant struct {
	MatchID      int  `json:"match_id"`
	PlayerID     int  `json:"player_id"`
	Slot         int  `json:"slot"`
	RatingBefore int  `json:"rating_before"`
	RatingAfter  *int `json:"rating_after,omitempty"`
	Goals        int  `json:"goals"`
}

// Opponent returns the participant that is not playerID.
func (m *Match) Opponent(playerID int) (MatchParticipant, bool) {
	for _, p := range m.Participants {
		if p.PlayerID != playerID {
			return p, true
		}
	}
	return MatchParticipant{}, false
}

func (m *Match) HasPlayer(playerID int) bool {
	for _, p := range m.Participants {
		if p.PlayerID == playerID {
			return true
		}
	}
	return false
}

// PlayerInSlot returns the player id seated in slot (1 or 2).
func (m *Match) PlayerInSlot(slot int) (int, bool) {
	for _, p := range m.Participants {
		if p.Slot == slot {
			return p.PlayerID, true
		}
	}
	return 0, false
}

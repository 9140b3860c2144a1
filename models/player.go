package models

import "time"

const DefaultRating = 1000

// Player holds the aggregate record of a player. Rows are mutated only when
// a match result is committed.
type Player struct {
	ID           int       `json:"id"`
	RatingScore  int       `json:"rating_score"`
	Wins         int       `json:"wins"`
	Losses       int       `json:"losses"`
	Draws        int       `json:"draws"`
	TotalMatches int       `json:"total_matches"`
	TotalGoals   int       `json:"total_goals"`
	CreatedAt    time.Time `json:"created_at"`
}

func NewPlayer(id int) *Player {
	return &Player{ID: id, RatingScore: DefaultRating}
}

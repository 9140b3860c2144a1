// Package rating implements the ELO expected-score model used for ranked and
// tournament matches.
package rating

import "math"

// K is the maximum rating swing of a single match.
const K = 32

const Floor = 0

type Outcome int

const (
	AWins Outcome = iota + 1
	BWins
	Draw
)

func (o Outcome) String() string {
	switch o {
	case AWins:
		return "a_wins"
	case BWins:
		return "b_wins"
	case Draw:
		return "draw"
	}
	return "unknown"
}

// OutcomeFor maps a nullable winner id onto an outcome for the pair (a, b).
// ok is false when winnerID names neither player.
func OutcomeFor(winnerID *int, a, b int) (outcome Outcome, ok bool) {
	if winnerID == nil {
		return Draw, true
	}
	switch *winnerID {
	case a:
		return AWins, true
	case b:
		return BWins, true
	}
	return 0, false
}

// ExpectedScore returns the probability that a player rated ratingA beats one
// rated ratingB.
func ExpectedScore(ratingA, ratingB int) float64 {
	return 1 / (1 + math.Pow(10, float64(ratingB-ratingA)/400))
}

// Compute returns the post-match ratings. B's delta is the exact negation of
// A's, so the adjustment is zero-sum unless a result is clamped at Floor.
func Compute(ratingA, ratingB int, outcome Outcome) (newA, newB int) {
	var actualA float64
	switch outcome {
	case AWins:
		actualA = 1
	case BWins:
		actualA = 0
	default:
		actualA = 0.5
	}

	delta := int(math.Round(K * (actualA - ExpectedScore(ratingA, ratingB))))
	return clamp(ratingA + delta), clamp(ratingB - delta)
}

func clamp(r int) int {
	if r < Floor {
		return Floor
	}
	return r
}

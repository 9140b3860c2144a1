package brackets

import (
	"context"
	"errors"
	"fmt"
	"math/bits"
)

var (
	ErrBracketSize      = errors.New("bracket size must be a power of two and at least 2")
	ErrDuplicateSeed    = errors.New("player appears more than once in the seed list")
	ErrIncompleteRound  = errors.New("round has an odd number of winners")
	ErrRoundOutOfBounds = errors.New("round is outside the bracket")
)

// Pair is one match of a round. Slot is the 1-based position inside the round;
// winners of slots 2k-1 and 2k meet in slot k of the next round.
type Pair struct {
	Slot    int
	Player1 int
	Player2 int
}

type Bracket struct {
	Rounds int
	Pairs  []Pair
}

type SingleEliminationGenerator struct{}

func NewSingleEliminationGenerator() BracketGenerator {
	return &SingleEliminationGenerator{}
}

func (g *SingleEliminationGenerator) GetName() string {
	return "SingleElimination"
}

// GenerateBracket lays seeds out in standard bracket order, so seed 1 meets
// seed N in round one and the top two seeds can only meet in the final.
func (g *SingleEliminationGenerator) GenerateBracket(ctx context.Context, params GenerateBracketParams) (*Bracket, error) {
	n := len(params.Seeds)
	if n < 2 || n&(n-1) != 0 {
		return nil, fmt.Errorf("%w: got %d", ErrBracketSize, n)
	}

	seen := make(map[int]struct{}, n)
	for _, id := range params.Seeds {
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: player %d", ErrDuplicateSeed, id)
		}
		seen[id] = struct{}{}
	}

	order := seedOrder(n)
	pairs := make([]Pair, 0, n/2)
	for i := 0; i < n; i += 2 {
		pairs = append(pairs, Pair{
			Slot:    i/2 + 1,
			Player1: params.Seeds[order[i]-1],
			Player2: params.Seeds[order[i+1]-1],
		})
	}

	return &Bracket{Rounds: RoundCount(n), Pairs: pairs}, nil
}

// seedOrder returns seed numbers in bracket position order, e.g.
// [1 8 4 5 2 7 3 6] for eight players.
func seedOrder(n int) []int {
	order := []int{1}
	for size := 2; size <= n; size *= 2 {
		next := make([]int, 0, size)
		for _, s := range order {
			next = append(next, s, size+1-s)
		}
		order = next
	}
	return order
}

// RoundCount is log2 of the bracket size.
func RoundCount(playerCount int) int {
	if playerCount < 2 {
		return 0
	}
	return bits.Len(uint(playerCount - 1))
}

// NextRound pairs the winners of a finished round. winnersBySlot[i] is the
// winner of slot i+1.
func NextRound(winnersBySlot []int) ([]Pair, error) {
	if len(winnersBySlot) < 2 || len(winnersBySlot)%2 != 0 {
		return nil, fmt.Errorf("%w: %d winners", ErrIncompleteRound, len(winnersBySlot))
	}
	pairs := make([]Pair, 0, len(winnersBySlot)/2)
	for i := 0; i < len(winnersBySlot); i += 2 {
		pairs = append(pairs, Pair{
			Slot:    i/2 + 1,
			Player1: winnersBySlot[i],
			Player2: winnersBySlot[i+1],
		})
	}
	return pairs, nil
}

// PlacementForRound is the placement of a player knocked out in round of a
// bracket with totalRounds rounds: the final loser is 2nd, semifinal losers
// 3rd, quarterfinal losers 5th.
func PlacementForRound(round, totalRounds int) (int, error) {
	if round < 1 || round > totalRounds {
		return 0, fmt.Errorf("%w: round %d of %d", ErrRoundOutOfBounds, round, totalRounds)
	}
	return 1<<uint(totalRounds-round) + 1, nil
}

// MatchesInRound is the number of matches played in round.
func MatchesInRound(round, totalRounds int) int {
	if round < 1 || round > totalRounds {
		return 0
	}
	return 1 << uint(totalRounds-round)
}

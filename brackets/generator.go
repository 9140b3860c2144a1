package brackets

import "context"

// GenerateBracketParams carries player ids in seed order: Seeds[0] is seed 1.
type GenerateBracketParams struct {
	Seeds []int
}

type BracketGenerator interface {
	GenerateBracket(ctx context.Context, params GenerateBracketParams) (*Bracket, error)

	GetName() string
}

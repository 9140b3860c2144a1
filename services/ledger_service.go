package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/Dosada05/pong-arena/events"
	"github.com/Dosada05/pong-arena/models"
	"github.com/Dosada05/pong-arena/rating"
	"github.com/Dosada05/pong-arena/repositories"
)

// maxTxAttempts bounds retries of a transaction aborted by a serialization
// conflict.
const maxTxAttempts = 3

type CreateMatchParams struct {
	MatchType    models.MatchType
	TournamentID *int
	Round        *int
	BracketSlot  *int
	Player1      int
	Player2      int
}

type RatingChange struct {
	PlayerID int `json:"player_id"`
	Before   int `json:"before"`
	After    int `json:"after"`
	Delta    int `json:"delta"`
}

// MatchOutcome is the committed result of a match, in slot order.
type MatchOutcome struct {
	MatchID      int              `json:"match_id"`
	MatchType    models.MatchType `json:"match_type"`
	TournamentID *int             `json:"tournament_id,omitempty"`
	Round        *int             `json:"round,omitempty"`
	BracketSlot  *int             `json:"bracket_slot,omitempty"`
	WinnerID     *int             `json:"winner_id"`
	LoserID      *int             `json:"loser_id,omitempty"`
	Forfeit      bool             `json:"forfeit"`
	Goals        [2]int           `json:"goals"`
	Changes      []RatingChange   `json:"rating_changes"`
	CompletedAt  time.Time        `json:"completed_at"`
}

type commitRequest struct {
	MatchID  int
	WinnerID *int
	Goals1   int
	Goals2   int
	Forfeit  bool
	// Bracket is set when the tournament engine commits, so bracket
	// advancement happens in the same transaction.
	Bracket bool
}

type LedgerService struct {
	store     repositories.Store
	publisher events.Publisher
	logger    *slog.Logger
	now       func() time.Time
}

func NewLedgerService(store repositories.Store, publisher events.Publisher, logger *slog.Logger) *LedgerService {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	return &LedgerService{store: store, publisher: publisher, logger: logger, now: time.Now}
}

func validateCreateMatch(p CreateMatchParams) error {
	if p.Player1 <= 0 || p.Player2 <= 0 {
		return ErrInvalidPlayerID
	}
	if p.Player1 == p.Player2 {
		return ErrSamePlayer
	}
	if !p.MatchType.Valid() {
		return ErrInvalidMatchType
	}
	return nil
}

// CreateMatch inserts a pending match and both participant rows.
func (s *LedgerService) CreateMatch(ctx context.Context, p CreateMatchParams) (*models.Match, error) {
	if err := validateCreateMatch(p); err != nil {
		return nil, err
	}

	var created *models.Match
	err := runInTxWithRetry(ctx, s.store, s.logger, "create match", func(ctx context.Context, repos repositories.Repos) error {
		m, txErr := s.createMatchInTx(ctx, repos, p)
		created = m
		return txErr
	})
	if err != nil {
		return nil, mapRepositoryError(err)
	}

	s.logger.Info("match created",
		slog.Int("match_id", created.ID), slog.String("match_type", string(created.MatchType)),
		slog.Int("player1", p.Player1), slog.Int("player2", p.Player2))
	return created, nil
}

func (s *LedgerService) createMatchInTx(ctx context.Context, repos repositories.Repos, p CreateMatchParams) (*models.Match, error) {
	if err := validateCreateMatch(p); err != nil {
		return nil, err
	}
	p1, err := repos.Players.Ensure(ctx, p.Player1)
	if err != nil {
		return nil, err
	}
	p2, err := repos.Players.Ensure(ctx, p.Player2)
	if err != nil {
		return nil, err
	}

	m := &models.Match{
		MatchType:    p.MatchType,
		Status:       models.MatchStatusPending,
		TournamentID: p.TournamentID,
		Round:        p.Round,
		BracketSlot:  p.BracketSlot,
	}
	if err := repos.Matches.Create(ctx, m); err != nil {
		return nil, err
	}

	for slot, player := range []*models.Player{p1, p2} {
		part := models.MatchParticipant{
			MatchID:      m.ID,
			PlayerID:     player.ID,
			Slot:         slot + 1,
			RatingBefore: player.RatingScore,
		}
		if err := repos.Matches.AddParticipant(ctx, &part); err != nil {
			return nil, err
		}
		m.Participants = append(m.Participants, part)
	}
	return m, nil
}

// RecordStart sets the start time once. Later calls are no-ops.
func (s *LedgerService) RecordStart(ctx context.Context, matchID int) error {
	started, err := s.store.Repos().Matches.MarkStarted(ctx, matchID, s.now())
	if err != nil {
		return mapRepositoryError(err)
	}
	if started {
		s.logger.Debug("match started", slog.Int("match_id", matchID))
	}
	return nil
}

// CommitResult records the final score and rating changes of a match in one
// transaction. winnerID nil is a draw. goals1 and goals2 are by slot.
func (s *LedgerService) CommitResult(ctx context.Context, matchID int, winnerID *int, goals1, goals2 int) (*MatchOutcome, error) {
	return s.commit(ctx, commitRequest{MatchID: matchID, WinnerID: winnerID, Goals1: goals1, Goals2: goals2})
}

// CommitForfeit completes the match with loserID losing by forfeit.
func (s *LedgerService) CommitForfeit(ctx context.Context, matchID, loserID int, goals1, goals2 int) (*MatchOutcome, error) {
	m, err := s.GetMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	opp, ok := m.Opponent(loserID)
	if !ok || !m.HasPlayer(loserID) {
		return nil, ErrInvalidWinner
	}
	winner := opp.PlayerID
	return s.commit(ctx, commitRequest{MatchID: matchID, WinnerID: &winner, Goals1: goals1, Goals2: goals2, Forfeit: true})
}

func (s *LedgerService) commit(ctx context.Context, req commitRequest) (*MatchOutcome, error) {
	var outcome *MatchOutcome
	err := runInTxWithRetry(ctx, s.store, s.logger, "commit result", func(ctx context.Context, repos repositories.Repos) error {
		o, txErr := s.commitInTx(ctx, repos, req)
		outcome = o
		return txErr
	})
	if err != nil {
		return nil, mapRepositoryError(err)
	}
	s.publishMatchCompleted(ctx, outcome)
	return outcome, nil
}

func (s *LedgerService) commitInTx(ctx context.Context, repos repositories.Repos, req commitRequest) (*MatchOutcome, error) {
	if req.Goals1 < 0 || req.Goals2 < 0 {
		return nil, ErrInvalidGoals
	}

	m, err := repos.Matches.GetForUpdate(ctx, req.MatchID)
	if err != nil {
		return nil, err
	}
	if m.IsCompleted() {
		return nil, ErrMatchAlreadyCompleted
	}
	if m.TournamentID != nil && !req.Bracket {
		return nil, ErrTournamentReportRequired
	}
	id1, ok1 := m.PlayerInSlot(1)
	id2, ok2 := m.PlayerInSlot(2)
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("match %d has incomplete participants", m.ID)
	}
	result, ok := rating.OutcomeFor(req.WinnerID, id1, id2)
	if !ok {
		return nil, ErrInvalidWinner
	}

	// Lock player rows in id order so concurrent commits cannot deadlock.
	ids := []int{id1, id2}
	sort.Ints(ids)
	players := make(map[int]*models.Player, 2)
	for _, id := range ids {
		p, err := repos.Players.GetForUpdate(ctx, id)
		if err != nil {
			return nil, err
		}
		players[id] = p
	}
	p1, p2 := players[id1], players[id2]
	before1, before2 := p1.RatingScore, p2.RatingScore
	after1, after2 := rating.Compute(before1, before2, result)

	goals := [2]int{req.Goals1, req.Goals2}
	for _, upd := range []models.MatchParticipant{
		{MatchID: m.ID, PlayerID: id1, Slot: 1, RatingBefore: before1, RatingAfter: &after1, Goals: req.Goals1},
		{MatchID: m.ID, PlayerID: id2, Slot: 2, RatingBefore: before2, RatingAfter: &after2, Goals: req.Goals2},
	} {
		if err := repos.Matches.UpdateParticipantResult(ctx, &upd); err != nil {
			return nil, err
		}
	}

	applyResult(p1, after1, req.Goals1, result, rating.AWins)
	applyResult(p2, after2, req.Goals2, result, rating.BWins)
	for _, p := range []*models.Player{p1, p2} {
		if err := repos.Players.UpdateAggregate(ctx, p); err != nil {
			return nil, err
		}
	}

	at := s.now()
	if err := repos.Matches.Complete(ctx, m.ID, req.WinnerID, req.Forfeit, at); err != nil {
		if errors.Is(err, repositories.ErrMatchNotFound) {
			return nil, ErrMatchAlreadyCompleted
		}
		return nil, err
	}

	outcome := &MatchOutcome{
		MatchID:      m.ID,
		MatchType:    m.MatchType,
		TournamentID: m.TournamentID,
		Round:        m.Round,
		BracketSlot:  m.BracketSlot,
		WinnerID:     req.WinnerID,
		Forfeit:      req.Forfeit,
		Goals:        goals,
		Changes: []RatingChange{
			{PlayerID: id1, Before: before1, After: after1, Delta: after1 - before1},
			{PlayerID: id2, Before: before2, After: after2, Delta: after2 - before2},
		},
		CompletedAt: at,
	}
	if req.WinnerID != nil {
		loser := id1
		if *req.WinnerID == id1 {
			loser = id2
		}
		outcome.LoserID = &loser
	}
	return outcome, nil
}

func applyResult(p *models.Player, newRating, goals int, result, win rating.Outcome) {
	p.RatingScore = newRating
	p.TotalMatches++
	p.TotalGoals += goals
	switch result {
	case rating.Draw:
		p.Draws++
	case win:
		p.Wins++
	default:
		p.Losses++
	}
}

func (s *LedgerService) publishMatchCompleted(ctx context.Context, o *MatchOutcome) {
	if o == nil {
		return
	}
	evt := events.MatchCompleted{
		MatchID:      o.MatchID,
		MatchType:    string(o.MatchType),
		TournamentID: o.TournamentID,
		WinnerID:     o.WinnerID,
		Forfeit:      o.Forfeit,
		CompletedAt:  o.CompletedAt,
	}
	for i, c := range o.Changes {
		evt.Players = append(evt.Players, events.PlayerResult{
			PlayerID: c.PlayerID, Goals: o.Goals[i], RatingBefore: c.Before, RatingAfter: c.After,
		})
	}
	if err := s.publisher.PublishMatchCompleted(ctx, evt); err != nil {
		s.logger.Error("failed to publish match completed event", slog.Int("match_id", o.MatchID), slog.Any("error", err))
	}
}

func (s *LedgerService) GetMatch(ctx context.Context, matchID int) (*models.Match, error) {
	m, err := s.store.Repos().Matches.GetByID(ctx, matchID)
	if err != nil {
		return nil, mapRepositoryError(err)
	}
	return m, nil
}

// ActiveMatchFor returns the player's pending match, if any.
func (s *LedgerService) ActiveMatchFor(ctx context.Context, playerID int) (*models.Match, bool, error) {
	m, err := s.store.Repos().Matches.FindActiveByPlayer(ctx, playerID)
	if err != nil {
		if errors.Is(err, repositories.ErrMatchNotFound) {
			return nil, false, nil
		}
		return nil, false, mapRepositoryError(err)
	}
	return m, true, nil
}

// PlayerRating returns the current rating, creating the player on first sight.
func (s *LedgerService) PlayerRating(ctx context.Context, playerID int) (int, error) {
	if playerID <= 0 {
		return 0, ErrInvalidPlayerID
	}
	p, err := s.store.Repos().Players.Ensure(ctx, playerID)
	if err != nil {
		return 0, mapRepositoryError(err)
	}
	return p.RatingScore, nil
}

func (s *LedgerService) GetPlayer(ctx context.Context, playerID int) (*models.Player, error) {
	p, err := s.store.Repos().Players.GetByID(ctx, playerID)
	if err != nil {
		return nil, mapRepositoryError(err)
	}
	return p, nil
}

// runInTxWithRetry runs fn in a transaction and repeats it, up to
// maxTxAttempts times, while the store aborts it with a serialization failure.
// fn must not leave state behind between attempts.
func runInTxWithRetry(ctx context.Context, store repositories.Store, logger *slog.Logger, op string, fn func(ctx context.Context, repos repositories.Repos) error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = store.RunInTx(ctx, fn)
		if !errors.Is(err, repositories.ErrSerializationFailure) {
			return err
		}
		if ctx.Err() != nil {
			return err
		}
		logger.Warn("transaction conflicted, retrying", slog.String("op", op), slog.Int("attempt", attempt))
	}
	return err
}

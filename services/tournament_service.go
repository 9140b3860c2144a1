package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/Dosada05/pong-arena/brackets"
	"github.com/Dosada05/pong-arena/events"
	"github.com/Dosada05/pong-arena/models"
	"github.com/Dosada05/pong-arena/relay"
	"github.com/Dosada05/pong-arena/repositories"
)

const (
	maxTournamentNameLength = 100
	defaultListLimit        = 20
	maxListLimit            = 100
)

type CreateTournamentInput struct {
	Name        string `json:"name"`
	PlayerCount int    `json:"player_count"`
}

type ListTournamentsFilter struct {
	Status *models.TournamentStatus
	Limit  int
	Offset int
}

// TournamentMatchReport is what changed when a tournament match result was
// committed.
type TournamentMatchReport struct {
	Outcome    *MatchOutcome      `json:"outcome"`
	Tournament *models.Tournament `json:"tournament"`
	NewMatches []*models.Match    `json:"new_matches,omitempty"`
	Completed  bool               `json:"completed"`
}

type TournamentConfig struct {
	CollaboratorTimeout time.Duration
}

type TournamentService struct {
	store     repositories.Store
	ledger    *LedgerService
	starter   MatchStarter
	notifier  Notifier
	alerter   TournamentAlerter
	archiver  TournamentArchiver
	publisher events.Publisher
	generator brackets.BracketGenerator
	logger    *slog.Logger
	cfg       TournamentConfig
	now       func() time.Time

	queueMu sync.RWMutex
	queue   MatchQueue
	closer  SessionCloser
}

func NewTournamentService(
	store repositories.Store,
	ledger *LedgerService,
	starter MatchStarter,
	notifier Notifier,
	alerter TournamentAlerter,
	archiver TournamentArchiver,
	publisher events.Publisher,
	cfg TournamentConfig,
	logger *slog.Logger,
) *TournamentService {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	if cfg.CollaboratorTimeout <= 0 {
		cfg.CollaboratorTimeout = 3 * time.Second
	}
	closer, _ := starter.(SessionCloser)
	generator := brackets.NewSingleEliminationGenerator()
	logger.Debug("bracket generator ready", slog.String("generator", generator.GetName()))
	return &TournamentService{
		store:     store,
		ledger:    ledger,
		starter:   starter,
		closer:    closer,
		notifier:  notifier,
		alerter:   alerter,
		archiver:  archiver,
		publisher: publisher,
		generator: generator,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
	}
}

// SetMatchQueue lets StartTournament take participants out of the ranked
// queue.
func (s *TournamentService) SetMatchQueue(q MatchQueue) {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	s.queue = q
}

func (s *TournamentService) matchQueue() MatchQueue {
	s.queueMu.RLock()
	defer s.queueMu.RUnlock()
	return s.queue
}

func (s *TournamentService) CreateTournament(ctx context.Context, creatorID int, input CreateTournamentInput) (*models.Tournament, error) {
	if creatorID <= 0 {
		return nil, ErrInvalidPlayerID
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, ErrTournamentNameRequired
	}
	if utf8.RuneCountInString(name) > maxTournamentNameLength {
		return nil, ErrTournamentNameTooLong
	}
	if input.PlayerCount != 4 && input.PlayerCount != 8 {
		return nil, ErrInvalidPlayerCount
	}

	t := &models.Tournament{
		Name:        name,
		Status:      models.TournamentRegistering,
		PlayerCount: input.PlayerCount,
		CreatorID:   creatorID,
	}
	err := s.store.RunInTx(ctx, func(ctx context.Context, repos repositories.Repos) error {
		if _, err := repos.Players.Ensure(ctx, creatorID); err != nil {
			return err
		}
		return repos.Tournaments.Create(ctx, t)
	})
	if err != nil {
		return nil, mapRepositoryError(err)
	}

	s.logger.Info("tournament created",
		slog.Int("tournament_id", t.ID), slog.Int("creator_id", creatorID), slog.Int("player_count", t.PlayerCount))
	return t, nil
}

// RegisterPlayer adds playerID to a registering tournament that still has room.
func (s *TournamentService) RegisterPlayer(ctx context.Context, tournamentID, playerID int) (*models.Tournament, error) {
	if playerID <= 0 {
		return nil, ErrInvalidPlayerID
	}

	var t *models.Tournament
	err := s.store.RunInTx(ctx, func(ctx context.Context, repos repositories.Repos) error {
		var err error
		t, err = repos.Tournaments.GetForUpdate(ctx, tournamentID)
		if err != nil {
			return err
		}
		if t.Status != models.TournamentRegistering {
			return ErrTournamentNotRegistering
		}
		count, err := repos.Tournaments.CountParticipants(ctx, tournamentID)
		if err != nil {
			return err
		}
		if count >= t.PlayerCount {
			return ErrTournamentFull
		}
		if _, err := repos.Players.Ensure(ctx, playerID); err != nil {
			return err
		}
		if err := repos.Tournaments.AddParticipant(ctx, &models.TournamentParticipant{TournamentID: tournamentID, PlayerID: playerID}); err != nil {
			return err
		}
		t.Participants, err = repos.Tournaments.ListParticipants(ctx, tournamentID)
		return err
	})
	if err != nil {
		return nil, mapRepositoryError(err)
	}

	s.logger.Info("player registered for tournament", slog.Int("tournament_id", tournamentID), slog.Int("player_id", playerID))
	s.broadcast(t.Participants, playerID, relay.TypeTournamentPlayerJoined, map[string]interface{}{
		"tournamentId": tournamentID,
		"playerId":     playerID,
		"playerCount":  len(t.Participants),
		"capacity":     t.PlayerCount,
	})
	return t, nil
}

// RemovePlayer withdraws playerID while the tournament is still registering.
func (s *TournamentService) RemovePlayer(ctx context.Context, tournamentID, playerID int) (*models.Tournament, error) {
	var t *models.Tournament
	err := s.store.RunInTx(ctx, func(ctx context.Context, repos repositories.Repos) error {
		var err error
		t, err = repos.Tournaments.GetForUpdate(ctx, tournamentID)
		if err != nil {
			return err
		}
		if t.Status != models.TournamentRegistering {
			return ErrTournamentNotRegistering
		}
		if err := repos.Tournaments.RemoveParticipant(ctx, tournamentID, playerID); err != nil {
			return err
		}
		t.Participants, err = repos.Tournaments.ListParticipants(ctx, tournamentID)
		return err
	})
	if err != nil {
		return nil, mapRepositoryError(err)
	}

	s.logger.Info("player left tournament", slog.Int("tournament_id", tournamentID), slog.Int("player_id", playerID))
	s.broadcast(t.Participants, playerID, relay.TypeTournamentPlayerLeft, map[string]interface{}{
		"tournamentId": tournamentID,
		"playerId":     playerID,
		"playerCount":  len(t.Participants),
		"capacity":     t.PlayerCount,
	})
	return t, nil
}

// StartTournament seeds the bracket in registration order and creates the
// first round.
func (s *TournamentService) StartTournament(ctx context.Context, tournamentID, requesterID int) (*models.Tournament, error) {
	var t *models.Tournament
	var firstRound []*models.Match
	err := s.store.RunInTx(ctx, func(ctx context.Context, repos repositories.Repos) error {
		var err error
		t, err = repos.Tournaments.GetForUpdate(ctx, tournamentID)
		if err != nil {
			return err
		}
		if t.CreatorID != requesterID {
			return ErrNotTournamentCreator
		}
		if t.Status != models.TournamentRegistering {
			return ErrTournamentNotRegistering
		}
		participants, err := repos.Tournaments.ListParticipants(ctx, tournamentID)
		if err != nil {
			return err
		}
		if len(participants) != t.PlayerCount {
			return fmt.Errorf("%w: %d of %d registered", ErrTournamentNotFull, len(participants), t.PlayerCount)
		}

		seeds := make([]int, len(participants))
		for i, p := range participants {
			seeds[i] = p.PlayerID
			if err := repos.Tournaments.SetSeed(ctx, tournamentID, p.PlayerID, i+1); err != nil {
				return err
			}
		}
		bracket, err := s.generator.GenerateBracket(ctx, brackets.GenerateBracketParams{Seeds: seeds})
		if err != nil {
			return fmt.Errorf("failed to generate bracket for tournament %d: %w", tournamentID, err)
		}

		firstRound, err = s.createRound(ctx, repos, tournamentID, 1, bracket.Pairs)
		if err != nil {
			return err
		}
		if err := repos.Tournaments.Transition(ctx, tournamentID, models.TournamentRegistering, models.TournamentInProgress, s.now()); err != nil {
			return err
		}
		t.Status = models.TournamentInProgress
		t.Participants, err = repos.Tournaments.ListParticipants(ctx, tournamentID)
		return err
	})
	if err != nil {
		return nil, mapRepositoryError(err)
	}

	for _, m := range firstRound {
		t.Matches = append(t.Matches, *m)
	}
	s.logger.Info("tournament started", slog.Int("tournament_id", tournamentID), slog.Int("matches", len(firstRound)))

	if q := s.matchQueue(); q != nil {
		for _, p := range t.Participants {
			if q.Dequeue(p.PlayerID) {
				s.notifier.SendToClient(p.PlayerID, relay.TypeMatchmakingCancelled, map[string]interface{}{
					"removed":      true,
					"tournamentId": t.ID,
				})
			}
		}
	}

	s.broadcast(t.Participants, 0, relay.TypeTournamentStarted, t)
	s.alertAll(t.Participants, TournamentAlert{TournamentID: t.ID, Kind: "started", Message: fmt.Sprintf("%s has started", t.Name)})
	s.openMatches(ctx, t, firstRound)
	return t, nil
}

func (s *TournamentService) createRound(ctx context.Context, repos repositories.Repos, tournamentID, round int, pairs []brackets.Pair) ([]*models.Match, error) {
	created := make([]*models.Match, 0, len(pairs))
	for _, pair := range pairs {
		tid, r, slot := tournamentID, round, pair.Slot
		m, err := s.ledger.createMatchInTx(ctx, repos, CreateMatchParams{
			MatchType:    models.MatchTypeTournament,
			TournamentID: &tid,
			Round:        &r,
			BracketSlot:  &slot,
			Player1:      pair.Player1,
			Player2:      pair.Player2,
		})
		if err != nil {
			return nil, err
		}
		created = append(created, m)
	}
	return created, nil
}

// openMatches tells each pair about its match and opens the live session.
func (s *TournamentService) openMatches(ctx context.Context, t *models.Tournament, matches []*models.Match) {
	for _, m := range matches {
		notification := map[string]interface{}{
			"tournamentId": t.ID,
			"matchId":      m.ID,
			"round":        m.Round,
			"bracketSlot":  m.BracketSlot,
			"players":      m.Participants,
		}
		for _, p := range m.Participants {
			s.notifier.SendToClient(p.PlayerID, relay.TypeTournamentMatchNotification, notification)
			matchID := m.ID
			s.alert(p.PlayerID, TournamentAlert{
				TournamentID: t.ID, Kind: "match_ready", MatchID: &matchID,
				Message: fmt.Sprintf("Your next match in %s is ready", t.Name),
			})
		}
		if s.starter == nil {
			continue
		}
		if err := s.starter.BeginMatch(ctx, m); err != nil {
			// The session opens once both players are free.
			s.logger.Info("tournament match session deferred", slog.Int("match_id", m.ID), slog.Any("reason", err))
		}
	}
}

// ReportMatchResult commits a tournament match and advances the bracket in
// the same transaction.
func (s *TournamentService) ReportMatchResult(ctx context.Context, matchID int, winnerID *int, goals1, goals2 int) (*TournamentMatchReport, error) {
	if winnerID == nil {
		return nil, ErrDrawNotAllowed
	}
	return s.report(ctx, commitRequest{MatchID: matchID, WinnerID: winnerID, Goals1: goals1, Goals2: goals2, Bracket: true})
}

// SubmitMatchResult is ReportMatchResult on behalf of a player. Only the two
// participants and the tournament creator may report.
func (s *TournamentService) SubmitMatchResult(ctx context.Context, requesterID, matchID int, winnerID *int, goals1, goals2 int) (*TournamentMatchReport, error) {
	m, err := s.ledger.GetMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if m.TournamentID == nil {
		return nil, ErrNotTournamentMatch
	}
	if !m.HasPlayer(requesterID) {
		t, err := s.store.Repos().Tournaments.GetByID(ctx, *m.TournamentID)
		if err != nil {
			return nil, mapRepositoryError(err)
		}
		if t.CreatorID != requesterID {
			return nil, ErrNotMatchParticipant
		}
	}
	return s.ReportMatchResult(ctx, matchID, winnerID, goals1, goals2)
}

// ReportForfeit completes a tournament match with loserID eliminated.
func (s *TournamentService) ReportForfeit(ctx context.Context, matchID, loserID, goals1, goals2 int) (*TournamentMatchReport, error) {
	m, err := s.ledger.GetMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if !m.HasPlayer(loserID) {
		return nil, ErrInvalidWinner
	}
	opp, _ := m.Opponent(loserID)
	winner := opp.PlayerID
	return s.report(ctx, commitRequest{MatchID: matchID, WinnerID: &winner, Goals1: goals1, Goals2: goals2, Forfeit: true, Bracket: true})
}

func (s *TournamentService) report(ctx context.Context, req commitRequest) (*TournamentMatchReport, error) {
	var report *TournamentMatchReport
	err := runInTxWithRetry(ctx, s.store, s.logger, "report tournament match", func(ctx context.Context, repos repositories.Repos) error {
		report = &TournamentMatchReport{}
		m, err := repos.Matches.GetForUpdate(ctx, req.MatchID)
		if err != nil {
			return err
		}
		if m.TournamentID == nil || m.Round == nil {
			return ErrNotTournamentMatch
		}
		t, err := repos.Tournaments.GetForUpdate(ctx, *m.TournamentID)
		if err != nil {
			return err
		}
		if m.IsCompleted() {
			return ErrMatchAlreadyCompleted
		}
		if t.Status != models.TournamentInProgress {
			return ErrTournamentNotInProgress
		}

		outcome, err := s.ledger.commitInTx(ctx, repos, req)
		if err != nil {
			return err
		}
		report.Outcome = outcome
		report.Tournament = t
		return s.advanceInTx(ctx, repos, t, *m.Round, outcome, report)
	})
	if err != nil {
		return nil, mapRepositoryError(err)
	}

	s.afterReport(ctx, report)
	return report, nil
}

// advanceInTx assigns the loser's placement and, once every match of the round
// is completed, creates the next round or completes the tournament.
func (s *TournamentService) advanceInTx(ctx context.Context, repos repositories.Repos, t *models.Tournament, round int, outcome *MatchOutcome, report *TournamentMatchReport) error {
	totalRounds := brackets.RoundCount(t.PlayerCount)
	placement, err := brackets.PlacementForRound(round, totalRounds)
	if err != nil {
		return err
	}
	if err := repos.Tournaments.SetPlacement(ctx, t.ID, *outcome.LoserID, placement); err != nil {
		return err
	}

	roundMatches, err := repos.Matches.ListByTournament(ctx, t.ID, &round)
	if err != nil {
		return err
	}
	winners := make([]int, len(roundMatches))
	for i, m := range roundMatches {
		if !m.IsCompleted() || m.WinnerID == nil {
			return nil
		}
		winners[i] = *m.WinnerID
	}
	if len(roundMatches) != brackets.MatchesInRound(round, totalRounds) {
		return fmt.Errorf("tournament %d round %d has %d matches", t.ID, round, len(roundMatches))
	}

	if round == totalRounds {
		champion := *outcome.WinnerID
		if err := repos.Tournaments.SetPlacement(ctx, t.ID, champion, 1); err != nil {
			return err
		}
		if err := repos.Tournaments.SetChampion(ctx, t.ID, champion); err != nil {
			return err
		}
		at := s.now()
		if err := repos.Tournaments.Transition(ctx, t.ID, models.TournamentInProgress, models.TournamentCompleted, at); err != nil {
			return err
		}
		t.Status = models.TournamentCompleted
		t.ChampionID = &champion
		t.CompletedAt = &at
		report.Completed = true
		return nil
	}

	pairs, err := brackets.NextRound(winners)
	if err != nil {
		return err
	}
	report.NewMatches, err = s.createRound(ctx, repos, t.ID, round+1, pairs)
	return err
}

func (s *TournamentService) afterReport(ctx context.Context, report *TournamentMatchReport) {
	t := report.Tournament
	s.ledger.publishMatchCompleted(ctx, report.Outcome)
	if s.closer != nil {
		s.closer.CloseCommitted(ctx, report.Outcome)
	}

	participants, err := s.store.Repos().Tournaments.ListParticipants(ctx, t.ID)
	if err != nil {
		s.logger.Error("failed to load participants after report", slog.Int("tournament_id", t.ID), slog.Any("error", err))
		return
	}
	t.Participants = participants

	s.broadcast(participants, 0, relay.TypeTournamentMatchCompleted, map[string]interface{}{
		"tournamentId": t.ID,
		"result":       report.Outcome,
	})
	s.logger.Info("tournament match completed",
		slog.Int("tournament_id", t.ID), slog.Int("match_id", report.Outcome.MatchID),
		slog.Int("winner_id", *report.Outcome.WinnerID), slog.Bool("forfeit", report.Outcome.Forfeit))

	if len(report.NewMatches) > 0 {
		s.openMatches(ctx, t, report.NewMatches)
	}
	if report.Completed {
		s.completeTournament(ctx, t)
	}
}

func (s *TournamentService) completeTournament(ctx context.Context, t *models.Tournament) {
	s.logger.Info("tournament completed", slog.Int("tournament_id", t.ID), slog.Int("champion_id", *t.ChampionID))
	s.broadcast(t.Participants, 0, relay.TypeTournamentCompleted, t)
	s.alertAll(t.Participants, TournamentAlert{TournamentID: t.ID, Kind: "completed", Message: fmt.Sprintf("%s has finished", t.Name)})

	evt := events.TournamentCompleted{
		TournamentID: t.ID,
		Name:         t.Name,
		ChampionID:   *t.ChampionID,
		CompletedAt:  derefTime(t.CompletedAt),
	}
	for _, p := range t.Participants {
		if p.Placement != nil {
			evt.Placements = append(evt.Placements, events.Placement{PlayerID: p.PlayerID, Placement: *p.Placement})
		}
	}
	if err := s.publisher.PublishTournamentCompleted(ctx, evt); err != nil {
		s.logger.Error("failed to publish tournament completed event", slog.Int("tournament_id", t.ID), slog.Any("error", err))
	}

	if s.archiver != nil {
		go s.archive(t.ID)
	}
}

func (s *TournamentService) archive(tournamentID int) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.CollaboratorTimeout)
	defer cancel()
	details, err := s.GetTournamentDetails(ctx, tournamentID)
	if err != nil {
		s.logger.Error("failed to load tournament for archive", slog.Int("tournament_id", tournamentID), slog.Any("error", err))
		return
	}
	location, err := s.archiver.ArchiveTournament(ctx, details)
	if err != nil {
		s.logger.Error("failed to archive tournament results", slog.Int("tournament_id", tournamentID), slog.Any("error", err))
		return
	}
	s.logger.Info("tournament results archived", slog.Int("tournament_id", tournamentID), slog.String("location", location))
}

// GetTournamentDetails loads the tournament with its participants and matches.
func (s *TournamentService) GetTournamentDetails(ctx context.Context, tournamentID int) (*models.Tournament, error) {
	repos := s.store.Repos()

	var t *models.Tournament
	var participants []models.TournamentParticipant
	var matches []*models.Match

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		t, err = repos.Tournaments.GetByID(gCtx, tournamentID)
		return err
	})
	g.Go(func() error {
		var err error
		participants, err = repos.Tournaments.ListParticipants(gCtx, tournamentID)
		return err
	})
	g.Go(func() error {
		var err error
		matches, err = repos.Matches.ListByTournament(gCtx, tournamentID, nil)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, mapRepositoryError(err)
	}

	t.Participants = participants
	t.Matches = make([]models.Match, 0, len(matches))
	for _, m := range matches {
		t.Matches = append(t.Matches, *m)
	}
	return t, nil
}

func (s *TournamentService) ListTournaments(ctx context.Context, filter ListTournamentsFilter) ([]models.Tournament, error) {
	if filter.Status != nil && !filter.Status.Valid() {
		return nil, ErrInvalidTournamentState
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	list, err := s.store.Repos().Tournaments.List(ctx, repositories.ListTournamentsFilter{
		Status: filter.Status,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	})
	if err != nil {
		return nil, mapRepositoryError(err)
	}
	return list, nil
}

// broadcast sends to every participant except skip (0 skips nobody).
func (s *TournamentService) broadcast(participants []models.TournamentParticipant, skip int, msgType string, payload interface{}) {
	for _, p := range participants {
		if p.PlayerID == skip {
			continue
		}
		s.notifier.SendToClient(p.PlayerID, msgType, payload)
	}
}

func (s *TournamentService) alertAll(participants []models.TournamentParticipant, alert TournamentAlert) {
	for _, p := range participants {
		s.alert(p.PlayerID, alert)
	}
}

// alert calls the notification service in the background so a slow or
// unavailable collaborator never holds up match processing.
func (s *TournamentService) alert(playerID int, alert TournamentAlert) {
	if s.alerter == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.CollaboratorTimeout)
		defer cancel()
		if err := s.alerter.SendTournamentAlert(ctx, playerID, alert); err != nil {
			s.logger.Warn("tournament alert failed",
				slog.Int("player_id", playerID), slog.String("kind", alert.Kind), slog.Any("error", err))
		}
	}()
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

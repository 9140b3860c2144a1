package services

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/Dosada05/pong-arena/models"
	"github.com/Dosada05/pong-arena/relay"
)

const (
	DefaultBallUpdateInterval = 33 * time.Millisecond
	DefaultIdleTimeout        = 60 * time.Second

	RolePlayer1 = "player1"
	RolePlayer2 = "player2"

	hookTimeout = 10 * time.Second
)

// TournamentReporter commits tournament match results together with bracket
// advancement.
type TournamentReporter interface {
	ReportMatchResult(ctx context.Context, matchID int, winnerID *int, goals1, goals2 int) (*TournamentMatchReport, error)
	ReportForfeit(ctx context.Context, matchID, loserID, goals1, goals2 int) (*TournamentMatchReport, error)
}

type SyncConfig struct {
	BallUpdateInterval time.Duration
	IdleTimeout        time.Duration
}

type PaddleMovePayload struct {
	MatchID     int     `json:"matchId"`
	NormalizedY float64 `json:"normalizedY"`
}

func (p *PaddleMovePayload) Validate() error {
	if p.MatchID <= 0 {
		return ErrMatchNotFound
	}
	if !inRange(p.NormalizedY, 0, 1) {
		return ErrInvalidSyncPayload
	}
	return nil
}

type BallUpdatePayload struct {
	MatchID  int          `json:"matchId"`
	Position relay.Vec2   `json:"position"`
	Velocity relay.Vec2   `json:"velocity"`
	Scores   relay.Scores `json:"scores"`
}

func (p *BallUpdatePayload) Validate() error {
	if p.MatchID <= 0 {
		return ErrMatchNotFound
	}
	if !inRange(p.Position.X, 0, 1) || !inRange(p.Position.Y, 0, 1) ||
		!inRange(p.Velocity.X, -1, 1) || !inRange(p.Velocity.Y, -1, 1) {
		return ErrInvalidSyncPayload
	}
	if p.Scores.Player1 < 0 || p.Scores.Player2 < 0 {
		return ErrInvalidGoals
	}
	return nil
}

type GameEndPayload struct {
	MatchID int  `json:"matchId"`
	Winner  *int `json:"winner"`
	GoalsA  int  `json:"goalsA"`
	GoalsB  int  `json:"goalsB"`
}

func (p *GameEndPayload) Validate() error {
	if p.MatchID <= 0 {
		return ErrMatchNotFound
	}
	if p.GoalsA < 0 || p.GoalsB < 0 {
		return ErrInvalidGoals
	}
	return nil
}

func inRange(v, lo, hi float64) bool {
	return !math.IsNaN(v) && v >= lo && v <= hi
}

type OpponentInfo struct {
	ID  int `json:"id"`
	Elo int `json:"elo"`
}

type MatchFoundPayload struct {
	MatchID      int              `json:"matchId"`
	MatchType    models.MatchType `json:"matchType"`
	TournamentID *int             `json:"tournamentId,omitempty"`
	Round        *int             `json:"round,omitempty"`
	Opponent     OpponentInfo     `json:"opponent"`
	Role         string           `json:"role"`
}

type GameStartPayload struct {
	MatchID               int `json:"matchId"`
	Player1               int `json:"player1"`
	Player2               int `json:"player2"`
	AuthoritativePlayerID int `json:"authoritativePlayerId"`
}

type ScoreUpdatePayload struct {
	MatchID int          `json:"matchId"`
	Scores  relay.Scores `json:"scores"`
}

type MatchResultPayload struct {
	MatchID       int            `json:"matchId"`
	TournamentID  *int           `json:"tournamentId,omitempty"`
	WinnerID      *int           `json:"winnerId"`
	Forfeit       bool           `json:"forfeit"`
	Goals         relay.Scores   `json:"goals"`
	RatingChanges []RatingChange `json:"ratingChanges"`
}

// SyncService relays in-match state between the two peers of a live session
// and turns the end of a session into a committed result.
type SyncService struct {
	sessions *relay.SessionStore
	ledger   *LedgerService
	notifier Notifier
	presence PresenceTracker
	logger   *slog.Logger
	cfg      SyncConfig
	now      func() time.Time

	reporterMu sync.RWMutex
	reporter   TournamentReporter
}

func NewSyncService(
	sessions *relay.SessionStore,
	ledger *LedgerService,
	notifier Notifier,
	presence PresenceTracker,
	cfg SyncConfig,
	logger *slog.Logger,
) *SyncService {
	if cfg.BallUpdateInterval <= 0 {
		cfg.BallUpdateInterval = DefaultBallUpdateInterval
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	return &SyncService{
		sessions: sessions,
		ledger:   ledger,
		notifier: notifier,
		presence: presence,
		logger:   logger,
		cfg:      cfg,
		now:      time.Now,
	}
}

func (s *SyncService) SetTournamentReporter(r TournamentReporter) {
	s.reporterMu.Lock()
	defer s.reporterMu.Unlock()
	s.reporter = r
}

func (s *SyncService) tournamentReporter() TournamentReporter {
	s.reporterMu.RLock()
	defer s.reporterMu.RUnlock()
	return s.reporter
}

// BeginMatch opens the live session for m and sends match_found and
// game_start to both players.
func (s *SyncService) BeginMatch(ctx context.Context, m *models.Match) error {
	var p1, p2 models.MatchParticipant
	for _, p := range m.Participants {
		switch p.Slot {
		case 1:
			p1 = p
		case 2:
			p2 = p
		}
	}
	if p1.PlayerID == 0 || p2.PlayerID == 0 {
		return ErrMatchNotFound
	}

	now := s.now()
	err := s.sessions.Create(relay.Session{
		MatchID:      m.ID,
		MatchType:    m.MatchType,
		TournamentID: m.TournamentID,
		Player1:      p1.PlayerID,
		Player2:      p2.PlayerID,
		CreatedAt:    now,
	})
	if err != nil {
		return mapRepositoryError(err)
	}

	s.sendMatchFound(m, p1, p2, RolePlayer1)
	s.sendMatchFound(m, p2, p1, RolePlayer2)

	if err := s.ledger.RecordStart(ctx, m.ID); err != nil {
		s.logger.Error("failed to record match start", slog.Int("match_id", m.ID), slog.Any("error", err))
	}

	start := GameStartPayload{MatchID: m.ID, Player1: p1.PlayerID, Player2: p2.PlayerID, AuthoritativePlayerID: p1.PlayerID}
	s.notifier.SendToClient(p1.PlayerID, relay.TypeGameStart, start)
	s.notifier.SendToClient(p2.PlayerID, relay.TypeGameStart, start)

	if s.presence != nil {
		for _, id := range []int{p1.PlayerID, p2.PlayerID} {
			if err := s.presence.SetInMatch(ctx, id, m.ID); err != nil {
				s.logger.Warn("failed to record presence", slog.Int("player_id", id), slog.Any("error", err))
			}
		}
	}

	s.logger.Info("match session opened",
		slog.Int("match_id", m.ID), slog.Int("player1", p1.PlayerID), slog.Int("player2", p2.PlayerID))
	return nil
}

func (s *SyncService) sendMatchFound(m *models.Match, self, opponent models.MatchParticipant, role string) bool {
	return s.notifier.SendToClient(self.PlayerID, relay.TypeMatchFound, MatchFoundPayload{
		MatchID:      m.ID,
		MatchType:    m.MatchType,
		TournamentID: m.TournamentID,
		Round:        m.Round,
		Opponent:     OpponentInfo{ID: opponent.PlayerID, Elo: opponent.RatingBefore},
		Role:         role,
	})
}

// ResumeFor re-sends the live match to a reconnecting player, or opens the
// session of a pending match that has none yet.
func (s *SyncService) ResumeFor(ctx context.Context, playerID int) {
	if sess, ok := s.sessions.ByPlayer(playerID); ok {
		m, err := s.ledger.GetMatch(ctx, sess.MatchID)
		if err != nil {
			s.logger.Warn("failed to load live match", slog.Int("match_id", sess.MatchID), slog.Any("error", err))
			return
		}
		opp, _ := m.Opponent(playerID)
		for _, self := range m.Participants {
			if self.PlayerID != playerID {
				continue
			}
			role := RolePlayer2
			if sess.IsAuthoritative(playerID) {
				role = RolePlayer1
			}
			s.sendMatchFound(m, self, opp, role)
		}
		_ = s.sessions.Touch(sess.MatchID, playerID, s.now())
		s.notifier.SendToClient(playerID, relay.TypeGameStart, GameStartPayload{
			MatchID: sess.MatchID, Player1: sess.Player1, Player2: sess.Player2, AuthoritativePlayerID: sess.Player1,
		})
		return
	}
	s.beginPending(ctx, playerID)
}

func (s *SyncService) beginPending(ctx context.Context, playerID int) {
	m, ok, err := s.ledger.ActiveMatchFor(ctx, playerID)
	if err != nil {
		s.logger.Warn("failed to look up pending match", slog.Int("player_id", playerID), slog.Any("error", err))
		return
	}
	if !ok {
		return
	}
	if err := s.BeginMatch(ctx, m); err != nil && !errors.Is(err, ErrPlayerInMatch) {
		s.logger.Warn("failed to open pending match", slog.Int("match_id", m.ID), slog.Any("error", err))
	}
}

func (s *SyncService) PaddleMove(ctx context.Context, playerID int, p PaddleMovePayload) error {
	sess, ok := s.sessions.Get(p.MatchID)
	if !ok {
		return ErrSessionNotFound
	}
	opponent, ok := sess.Opponent(playerID)
	if !ok {
		return ErrNotMatchParticipant
	}
	_ = s.sessions.Touch(p.MatchID, playerID, s.now())
	s.notifier.SendToClient(opponent, relay.TypeOpponentPaddleMove, p)
	return nil
}

// BallUpdate relays the authoritative ball state. Updates faster than the
// configured interval are dropped without error.
func (s *SyncService) BallUpdate(ctx context.Context, playerID int, p BallUpdatePayload) error {
	state := relay.BallState{Position: p.Position, Velocity: p.Velocity, Scores: p.Scores}
	res, err := s.sessions.AcceptBall(p.MatchID, playerID, state, s.now(), s.cfg.BallUpdateInterval)
	if err != nil {
		return mapRepositoryError(err)
	}
	if !res.Accepted {
		return nil
	}
	s.notifier.SendToClient(res.Opponent, relay.TypeBallUpdate, p)
	if res.ScoreChanged {
		update := ScoreUpdatePayload{MatchID: p.MatchID, Scores: p.Scores}
		s.notifier.SendToClient(playerID, relay.TypeScoreUpdate, update)
		s.notifier.SendToClient(res.Opponent, relay.TypeScoreUpdate, update)
	}
	return nil
}

// GameEnd commits the result reported by the authoritative peer. Reports from
// the other peer are ignored.
func (s *SyncService) GameEnd(ctx context.Context, playerID int, p GameEndPayload) (*MatchOutcome, error) {
	sess, ok := s.sessions.Get(p.MatchID)
	if !ok {
		m, err := s.ledger.GetMatch(ctx, p.MatchID)
		if err != nil {
			return nil, err
		}
		if m.IsCompleted() {
			return nil, ErrMatchAlreadyCompleted
		}
		return nil, ErrSessionNotFound
	}
	if !sess.HasPlayer(playerID) {
		return nil, ErrNotMatchParticipant
	}
	_ = s.sessions.Touch(p.MatchID, playerID, s.now())
	if !sess.IsAuthoritative(playerID) {
		s.logger.Debug("ignoring game_end from non-authoritative peer",
			slog.Int("match_id", p.MatchID), slog.Int("player_id", playerID))
		return nil, nil
	}
	if p.Winner != nil && !sess.HasPlayer(*p.Winner) {
		return nil, ErrInvalidWinner
	}
	if p.Winner == nil && sess.TournamentID != nil {
		return nil, ErrDrawNotAllowed
	}

	claimed, ok := s.sessions.BeginFinish(p.MatchID)
	if !ok {
		return nil, ErrMatchAlreadyCompleted
	}
	return s.finish(ctx, claimed, p.Winner, nil, p.GoalsA, p.GoalsB)
}

// HandleDisconnect forfeits the live match of a player whose connection
// closed. The disconnecting player loses.
func (s *SyncService) HandleDisconnect(playerID int) {
	ctx, cancel := context.WithTimeout(context.Background(), hookTimeout)
	defer cancel()

	sess, ok := s.sessions.ByPlayer(playerID)
	if !ok {
		return
	}
	claimed, ok := s.sessions.BeginFinish(sess.MatchID)
	if !ok {
		return
	}
	loser := playerID
	s.logger.Info("player disconnected mid-match, forfeiting",
		slog.Int("match_id", sess.MatchID), slog.Int("player_id", playerID))
	if _, err := s.finish(ctx, claimed, nil, &loser, claimed.Ball.Scores.Player1, claimed.Ball.Scores.Player2); err != nil {
		s.logger.Error("failed to forfeit match on disconnect",
			slog.Int("match_id", sess.MatchID), slog.Int("player_id", playerID), slog.Any("error", err))
	}
}

// ExpireIdle ends sessions with a peer silent past the idle timeout. A single
// silent peer forfeits. When both are silent a ranked or friendly match is a
// draw and a tournament match is forfeited by player2.
func (s *SyncService) ExpireIdle(ctx context.Context) int {
	expired := 0
	for _, idle := range s.sessions.Idle(s.now(), s.cfg.IdleTimeout) {
		claimed, ok := s.sessions.BeginFinish(idle.Session.MatchID)
		if !ok {
			continue
		}

		var loser *int
		switch {
		case len(idle.Silent) == 1:
			loser = &idle.Silent[0]
		case claimed.TournamentID != nil:
			loser = &claimed.Player2
		}

		s.logger.Info("match idle, expiring",
			slog.Int("match_id", claimed.MatchID), slog.Any("silent", idle.Silent))
		goals := claimed.Ball.Scores
		if _, err := s.finish(ctx, claimed, nil, loser, goals.Player1, goals.Player2); err != nil {
			s.logger.Error("failed to expire idle match", slog.Int("match_id", claimed.MatchID), slog.Any("error", err))
			continue
		}
		expired++
	}
	return expired
}

// finish commits a claimed session. With loser set the match is a forfeit,
// otherwise winner (nil for a draw) is committed.
func (s *SyncService) finish(ctx context.Context, sess relay.Session, winner, loser *int, goals1, goals2 int) (*MatchOutcome, error) {
	outcome, err := s.commit(ctx, sess, winner, loser, goals1, goals2)
	if err != nil {
		if errors.Is(err, ErrMatchAlreadyCompleted) {
			// Reported outside the session; nothing to announce.
			s.release(ctx, sess, nil)
		} else {
			s.sessions.AbortFinish(sess.MatchID)
		}
		return nil, err
	}
	s.release(ctx, sess, outcome)
	return outcome, nil
}

// CloseCommitted ends the live session of a match whose result was reported
// through the tournament endpoints instead of game_end. It does nothing when
// the match has no session or the session is already finishing.
func (s *SyncService) CloseCommitted(ctx context.Context, outcome *MatchOutcome) {
	if outcome == nil {
		return
	}
	claimed, ok := s.sessions.BeginFinish(outcome.MatchID)
	if !ok {
		return
	}
	s.logger.Info("closing session of externally reported match", slog.Int("match_id", outcome.MatchID))
	s.release(ctx, claimed, outcome)
}

// release removes a claimed session, sends match_result when outcome is set,
// clears presence and opens whatever match each player has waiting.
func (s *SyncService) release(ctx context.Context, sess relay.Session, outcome *MatchOutcome) {
	s.sessions.Remove(sess.MatchID)

	var result *MatchResultPayload
	if outcome != nil {
		result = &MatchResultPayload{
			MatchID:       outcome.MatchID,
			TournamentID:  outcome.TournamentID,
			WinnerID:      outcome.WinnerID,
			Forfeit:       outcome.Forfeit,
			Goals:         relay.Scores{Player1: outcome.Goals[0], Player2: outcome.Goals[1]},
			RatingChanges: outcome.Changes,
		}
	}
	for _, id := range []int{sess.Player1, sess.Player2} {
		if result != nil {
			s.notifier.SendToClient(id, relay.TypeMatchResult, *result)
		}
		if s.presence != nil {
			if err := s.presence.ClearInMatch(ctx, id); err != nil {
				s.logger.Warn("failed to clear presence", slog.Int("player_id", id), slog.Any("error", err))
			}
		}
	}

	// A tournament match created while a player was busy starts now.
	for _, id := range []int{sess.Player1, sess.Player2} {
		s.beginPending(ctx, id)
	}
}

func (s *SyncService) commit(ctx context.Context, sess relay.Session, winner, loser *int, goals1, goals2 int) (*MatchOutcome, error) {
	if sess.TournamentID != nil {
		reporter := s.tournamentReporter()
		if reporter == nil {
			return nil, ErrTournamentReportRequired
		}
		var report *TournamentMatchReport
		var err error
		if loser != nil {
			report, err = reporter.ReportForfeit(ctx, sess.MatchID, *loser, goals1, goals2)
		} else {
			report, err = reporter.ReportMatchResult(ctx, sess.MatchID, winner, goals1, goals2)
		}
		if err != nil {
			return nil, err
		}
		return report.Outcome, nil
	}
	if loser != nil {
		return s.ledger.CommitForfeit(ctx, sess.MatchID, *loser, goals1, goals2)
	}
	return s.ledger.CommitResult(ctx, sess.MatchID, winner, goals1, goals2)
}

func (s *SyncService) LiveSessions() int {
	return s.sessions.Len()
}

package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Dosada05/pong-arena/models"
)

const (
	baseRatingWindow   = 100
	ratingWindowStep   = 50
	ratingWindowPeriod = 5 * time.Second
	unlimitedWindowAt  = 30 * time.Second
)

type QueueEntry struct {
	PlayerID   int       `json:"playerId"`
	Rating     int       `json:"rating"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
}

// RatingWindow is how far from its own rating an entry accepts an opponent
// after waiting for wait. ok is false once the window is unlimited.
func RatingWindow(wait time.Duration) (window int, limited bool) {
	if wait >= unlimitedWindowAt {
		return 0, false
	}
	if wait < 0 {
		wait = 0
	}
	return baseRatingWindow + ratingWindowStep*int(wait/ratingWindowPeriod), true
}

func (e QueueEntry) accepts(distance int, now time.Time) bool {
	window, limited := RatingWindow(now.Sub(e.EnqueuedAt))
	return !limited || distance <= window
}

type PairingResult struct {
	Match   *models.Match
	Player1 QueueEntry
	Player2 QueueEntry
}

type WaitingPayload struct {
	Position int `json:"position"`
	Rating   int `json:"rating"`
}

// MatchmakingService keeps the ranked queue. Pairing, queue removal and match
// creation all happen under one mutex so a player can never be booked twice.
type MatchmakingService struct {
	mu    sync.Mutex
	queue []QueueEntry

	ledger  *LedgerService
	starter MatchStarter
	logger  *slog.Logger
	now     func() time.Time
}

func NewMatchmakingService(ledger *LedgerService, starter MatchStarter, logger *slog.Logger) *MatchmakingService {
	return &MatchmakingService{
		ledger:  ledger,
		starter: starter,
		logger:  logger,
		now:     time.Now,
	}
}

// Enqueue queues playerID and tries to pair it at once. It returns nil when
// no opponent is eligible yet; the player then stays queued.
func (s *MatchmakingService) Enqueue(ctx context.Context, playerID int) (*PairingResult, error) {
	if playerID <= 0 {
		return nil, ErrInvalidPlayerID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.indexOf(playerID) >= 0 {
		return nil, ErrAlreadyQueued
	}
	if _, busy, err := s.ledger.ActiveMatchFor(ctx, playerID); err != nil {
		return nil, err
	} else if busy {
		return nil, ErrPlayerInMatch
	}
	rating, err := s.ledger.PlayerRating(ctx, playerID)
	if err != nil {
		return nil, err
	}

	s.dropBooked(ctx)
	now := s.now()
	entry := QueueEntry{PlayerID: playerID, Rating: rating, EnqueuedAt: now}

	best := -1
	bestDistance := 0
	for i, waiting := range s.queue {
		d := abs(waiting.Rating - entry.Rating)
		if !waiting.accepts(d, now) && !entry.accepts(d, now) {
			continue
		}
		if best < 0 || d < bestDistance {
			best, bestDistance = i, d
		}
	}

	if best < 0 {
		s.queue = append(s.queue, entry)
		s.logger.Debug("player queued", slog.Int("player_id", playerID), slog.Int("rating", rating))
		return nil, nil
	}

	partner := s.queue[best]
	s.removeAt(best)
	result, err := s.pair(ctx, partner, entry)
	if err != nil {
		s.insertAt(best, partner)
		return nil, err
	}
	return result, nil
}

// Rescan pairs waiting entries whose windows have widened since they queued.
// It returns the number of matches created.
func (s *MatchmakingService) Rescan(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.dropBooked(ctx)
	created := 0
	now := s.now()
	for i := 0; i < len(s.queue); i++ {
		a := s.queue[i]
		best := -1
		bestDistance := 0
		for j := i + 1; j < len(s.queue); j++ {
			b := s.queue[j]
			d := abs(a.Rating - b.Rating)
			if !a.accepts(d, now) && !b.accepts(d, now) {
				continue
			}
			if best < 0 || d < bestDistance {
				best, bestDistance = j, d
			}
		}
		if best < 0 {
			continue
		}

		b := s.queue[best]
		s.removeAt(best)
		s.removeAt(i)
		if _, err := s.pair(ctx, a, b); err != nil {
			s.logger.Error("rescan pairing failed",
				slog.Int("player1", a.PlayerID), slog.Int("player2", b.PlayerID), slog.Any("error", err))
			s.insertAt(i, a)
			s.insertAt(best, b)
			continue
		}
		created++
		i--
	}
	return created
}

// dropBooked removes waiting entries whose player has been given a match
// since queueing, e.g. the first round of a tournament. Entries whose state
// cannot be read stay queued.
func (s *MatchmakingService) dropBooked(ctx context.Context) {
	kept := s.queue[:0]
	for _, e := range s.queue {
		m, busy, err := s.ledger.ActiveMatchFor(ctx, e.PlayerID)
		if err != nil {
			s.logger.Warn("failed to check queued player", slog.Int("player_id", e.PlayerID), slog.Any("error", err))
		} else if busy {
			s.logger.Info("dropping queued player with a pending match",
				slog.Int("player_id", e.PlayerID), slog.Int("match_id", m.ID))
			continue
		}
		kept = append(kept, e)
	}
	s.queue = kept
}

// pair creates the ranked match. The earlier waiter becomes player1.
func (s *MatchmakingService) pair(ctx context.Context, first, second QueueEntry) (*PairingResult, error) {
	m, err := s.ledger.CreateMatch(ctx, CreateMatchParams{
		MatchType: models.MatchTypeRanked,
		Player1:   first.PlayerID,
		Player2:   second.PlayerID,
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("players paired",
		slog.Int("match_id", m.ID), slog.Int("player1", first.PlayerID), slog.Int("player2", second.PlayerID),
		slog.Int("rating_gap", abs(first.Rating-second.Rating)))

	if s.starter != nil {
		if err := s.starter.BeginMatch(ctx, m); err != nil {
			s.logger.Error("failed to open match session", slog.Int("match_id", m.ID), slog.Any("error", err))
		}
	}
	return &PairingResult{Match: m, Player1: first, Player2: second}, nil
}

// Dequeue removes the player's entry. It is a no-op when the player is not
// queued and reports whether an entry was removed.
func (s *MatchmakingService) Dequeue(playerID int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(playerID)
	if i < 0 {
		return false
	}
	s.removeAt(i)
	s.logger.Debug("player dequeued", slog.Int("player_id", playerID))
	return true
}

// HandleDisconnect is registered as a hub disconnect hook.
func (s *MatchmakingService) HandleDisconnect(playerID int) {
	s.Dequeue(playerID)
}

// Position is the 1-based place of the player in the queue.
func (s *MatchmakingService) Position(playerID int) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(playerID)
	return i + 1, i >= 0
}

// Waiting describes the player's queue entry for a waiting_for_match reply.
func (s *MatchmakingService) Waiting(playerID int) (WaitingPayload, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(playerID)
	if i < 0 {
		return WaitingPayload{}, false
	}
	return WaitingPayload{Position: i + 1, Rating: s.queue[i].Rating}, true
}

func (s *MatchmakingService) IsQueued(playerID int) bool {
	_, ok := s.Position(playerID)
	return ok
}

func (s *MatchmakingService) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *MatchmakingService) indexOf(playerID int) int {
	for i, e := range s.queue {
		if e.PlayerID == playerID {
			return i
		}
	}
	return -1
}

func (s *MatchmakingService) removeAt(i int) {
	s.queue = append(s.queue[:i], s.queue[i+1:]...)
}

func (s *MatchmakingService) insertAt(i int, e QueueEntry) {
	if i > len(s.queue) {
		i = len(s.queue)
	}
	s.queue = append(s.queue, QueueEntry{})
	copy(s.queue[i+1:], s.queue[i:])
	s.queue[i] = e
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

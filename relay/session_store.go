package relay

import (
	"errors"
	"sync"
	"time"

	"github.com/Dosada05/pong-arena/models"
)

var (
	ErrSessionNotFound  = errors.New("match session not found")
	ErrSessionExists    = errors.New("player already has a live match session")
	ErrNotAuthoritative = errors.New("only the ball-authoritative player may send this message")
	ErrNotInSession     = errors.New("player is not part of this match")
)

type Vec2 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type Scores struct {
	Player1 int `json:"player1"`
	Player2 int `json:"player2"`
}

type BallState struct {
	Position Vec2   `json:"position"`
	Velocity Vec2   `json:"velocity"`
	Scores   Scores `json:"scores"`
}

// Session is the live state of a match between two connected players.
// Player1 is ball-authoritative.
type Session struct {
	MatchID      int
	MatchType    models.MatchType
	TournamentID *int
	Player1      int
	Player2      int
	Ball         BallState
	LastBallAt   time.Time
	LastSeen     map[int]time.Time
	CreatedAt    time.Time

	finishing bool
}

func (s Session) HasPlayer(playerID int) bool {
	return playerID == s.Player1 || playerID == s.Player2
}

func (s Session) IsAuthoritative(playerID int) bool {
	return playerID == s.Player1
}

func (s Session) Opponent(playerID int) (int, bool) {
	switch playerID {
	case s.Player1:
		return s.Player2, true
	case s.Player2:
		return s.Player1, true
	}
	return 0, false
}

func (s Session) clone() Session {
	cp := s
	cp.LastSeen = make(map[int]time.Time, len(s.LastSeen))
	for id, at := range s.LastSeen {
		cp.LastSeen[id] = at
	}
	return cp
}

// BallResult describes what happened to an accepted or dropped ball update.
type BallResult struct {
	Accepted     bool
	ScoreChanged bool
	Opponent     int
}

// IdleSession is a session with at least one peer silent past the timeout.
type IdleSession struct {
	Session Session
	Silent  []int
}

// SessionStore is the arena of live match sessions keyed by match id.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[int]*Session
	byPlayer map[int]int
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[int]*Session),
		byPlayer: make(map[int]int),
	}
}

func (s *SessionStore) Create(sess Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sess.MatchID]; ok {
		return ErrSessionExists
	}
	if _, ok := s.byPlayer[sess.Player1]; ok {
		return ErrSessionExists
	}
	if _, ok := s.byPlayer[sess.Player2]; ok {
		return ErrSessionExists
	}

	stored := sess.clone()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	for _, id := range []int{stored.Player1, stored.Player2} {
		if _, ok := stored.LastSeen[id]; !ok {
			stored.LastSeen[id] = stored.CreatedAt
		}
	}
	stored.finishing = false
	s.sessions[sess.MatchID] = &stored
	s.byPlayer[sess.Player1] = sess.MatchID
	s.byPlayer[sess.Player2] = sess.MatchID
	return nil
}

func (s *SessionStore) Get(matchID int) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[matchID]
	if !ok {
		return Session{}, false
	}
	return sess.clone(), true
}

func (s *SessionStore) ByPlayer(playerID int) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	matchID, ok := s.byPlayer[playerID]
	if !ok {
		return Session{}, false
	}
	return s.sessions[matchID].clone(), true
}

// Touch records activity from playerID in the match.
func (s *SessionStore) Touch(matchID, playerID int, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[matchID]
	if !ok {
		return ErrSessionNotFound
	}
	if !sess.HasPlayer(playerID) {
		return ErrNotInSession
	}
	sess.LastSeen[playerID] = at
	return nil
}

// AcceptBall stores a ball update from the authoritative peer. Updates that
// arrive sooner than minInterval after the last accepted one are dropped.
func (s *SessionStore) AcceptBall(matchID, playerID int, state BallState, at time.Time, minInterval time.Duration) (BallResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[matchID]
	if !ok {
		return BallResult{}, ErrSessionNotFound
	}
	if !sess.HasPlayer(playerID) {
		return BallResult{}, ErrNotInSession
	}
	if !sess.IsAuthoritative(playerID) {
		return BallResult{}, ErrNotAuthoritative
	}

	sess.LastSeen[playerID] = at
	opponent, _ := sess.Opponent(playerID)
	if !sess.LastBallAt.IsZero() && at.Sub(sess.LastBallAt) < minInterval {
		return BallResult{Opponent: opponent}, nil
	}

	changed := sess.Ball.Scores != state.Scores
	sess.Ball = state
	sess.LastBallAt = at
	return BallResult{Accepted: true, ScoreChanged: changed, Opponent: opponent}, nil
}

// BeginFinish claims the session for completion. Only one caller wins until
// AbortFinish releases it.
func (s *SessionStore) BeginFinish(matchID int) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[matchID]
	if !ok || sess.finishing {
		return Session{}, false
	}
	sess.finishing = true
	return sess.clone(), true
}

func (s *SessionStore) AbortFinish(matchID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[matchID]; ok {
		sess.finishing = false
	}
}

func (s *SessionStore) Remove(matchID int) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[matchID]
	if !ok {
		return Session{}, false
	}
	delete(s.sessions, matchID)
	for _, id := range []int{sess.Player1, sess.Player2} {
		if s.byPlayer[id] == matchID {
			delete(s.byPlayer, id)
		}
	}
	return sess.clone(), true
}

// Idle lists sessions in which some peer has been silent longer than timeout.
// Sessions already being finished are skipped.
func (s *SessionStore) Idle(now time.Time, timeout time.Duration) []IdleSession {
	s.mu.Lock()
	defer s.mu.Unlock()

	var idle []IdleSession
	for _, sess := range s.sessions {
		if sess.finishing {
			continue
		}
		var silent []int
		for _, id := range []int{sess.Player1, sess.Player2} {
			if now.Sub(sess.LastSeen[id]) > timeout {
				silent = append(silent, id)
			}
		}
		if len(silent) > 0 {
			idle = append(idle, IdleSession{Session: sess.clone(), Silent: silent})
		}
	}
	return idle
}

func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

package services

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Dosada05/pong-arena/events"
	"github.com/Dosada05/pong-arena/models"
	"github.com/Dosada05/pong-arena/relay"
	"github.com/Dosada05/pong-arena/repositories"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type sentMessage struct {
	PlayerID int
	Type     string
	Payload  interface{}
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (n *fakeNotifier) SendToClient(playerID int, msgType string, payload interface{}) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentMessage{PlayerID: playerID, Type: msgType, Payload: payload})
	return true
}

func (n *fakeNotifier) to(playerID int, msgType string) []interface{} {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []interface{}
	for _, m := range n.sent {
		if m.PlayerID == playerID && m.Type == msgType {
			out = append(out, m.Payload)
		}
	}
	return out
}

type fakePresence struct {
	mu      sync.Mutex
	inMatch map[int]int
}

func (p *fakePresence) SetInMatch(_ context.Context, playerID, matchID int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inMatch[playerID] = matchID
	return nil
}

func (p *fakePresence) ClearInMatch(_ context.Context, playerID int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inMatch, playerID)
	return nil
}

func (p *fakePresence) matchOf(playerID int) (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id, ok := p.inMatch[playerID]
	return id, ok
}

type fakePublisher struct {
	mu          sync.Mutex
	matches     []events.MatchCompleted
	tournaments []events.TournamentCompleted
}

func (p *fakePublisher) PublishMatchCompleted(_ context.Context, evt events.MatchCompleted) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.matches = append(p.matches, evt)
	return nil
}

func (p *fakePublisher) PublishTournamentCompleted(_ context.Context, evt events.TournamentCompleted) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tournaments = append(p.tournaments, evt)
	return nil
}

func (p *fakePublisher) Close() {}

func (p *fakePublisher) counts() (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.matches), len(p.tournaments)
}

type fakeAlerter struct {
	mu     sync.Mutex
	alerts map[int][]TournamentAlert
}

func (a *fakeAlerter) SendTournamentAlert(_ context.Context, playerID int, alert TournamentAlert) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts[playerID] = append(a.alerts[playerID], alert)
	return nil
}

func (a *fakeAlerter) kinds(playerID int) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []string
	for _, al := range a.alerts[playerID] {
		out = append(out, al.Kind)
	}
	return out
}

type fakeArchiver struct {
	mu       sync.Mutex
	archived []int
}

func (a *fakeArchiver) ArchiveTournament(_ context.Context, t *models.Tournament) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.archived = append(a.archived, t.ID)
	return "tournaments/archive.json", nil
}

func (a *fakeArchiver) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.archived)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	store       *repositories.MemoryStore
	notifier    *fakeNotifier
	presence    *fakePresence
	publisher   *fakePublisher
	alerter     *fakeAlerter
	archiver    *fakeArchiver
	clock       *testClock
	sessions    *relay.SessionStore
	ledger      *LedgerService
	sync        *SyncService
	matchmaking *MatchmakingService
	tournaments *TournamentService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := discardLogger()
	env := &testEnv{
		store:     repositories.NewMemoryStore(),
		notifier:  &fakeNotifier{},
		presence:  &fakePresence{inMatch: make(map[int]int)},
		publisher: &fakePublisher{},
		alerter:   &fakeAlerter{alerts: make(map[int][]TournamentAlert)},
		archiver:  &fakeArchiver{},
		clock:     &testClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)},
		sessions:  relay.NewSessionStore(),
	}
	env.ledger = NewLedgerService(env.store, env.publisher, logger)
	env.ledger.now = env.clock.Now
	env.sync = NewSyncService(env.sessions, env.ledger, env.notifier, env.presence, SyncConfig{}, logger)
	env.sync.now = env.clock.Now
	env.matchmaking = NewMatchmakingService(env.ledger, env.sync, logger)
	env.matchmaking.now = env.clock.Now
	env.tournaments = NewTournamentService(env.store, env.ledger, env.sync, env.notifier,
		env.alerter, env.archiver, env.publisher, TournamentConfig{}, logger)
	env.tournaments.now = env.clock.Now
	env.sync.SetTournamentReporter(env.tournaments)
	env.tournaments.SetMatchQueue(env.matchmaking)
	return env
}

func (e *testEnv) setRating(t *testing.T, playerID, rating int) {
	t.Helper()
	ctx := context.Background()
	repos := e.store.Repos()
	p, err := repos.Players.Ensure(ctx, playerID)
	require.NoError(t, err)
	p.RatingScore = rating
	require.NoError(t, repos.Players.UpdateAggregate(ctx, p))
}

func (e *testEnv) player(t *testing.T, playerID int) *models.Player {
	t.Helper()
	p, err := e.ledger.GetPlayer(context.Background(), playerID)
	require.NoError(t, err)
	return p
}

func (e *testEnv) newRankedMatch(t *testing.T, player1, player2 int) *models.Match {
	t.Helper()
	m, err := e.ledger.CreateMatch(context.Background(), CreateMatchParams{
		MatchType: models.MatchTypeRanked,
		Player1:   player1,
		Player2:   player2,
	})
	require.NoError(t, err)
	return m
}

func intPtr(v int) *int { return &v }

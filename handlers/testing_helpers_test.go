package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/Dosada05/pong-arena/middleware"
	"github.com/Dosada05/pong-arena/relay"
	"github.com/Dosada05/pong-arena/repositories"
	"github.com/Dosada05/pong-arena/services"
)

const (
	waitFor = 2 * time.Second
	tick    = 10 * time.Millisecond
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// staticVerifier accepts tokens of the form "player-<id>".
type staticVerifier struct{}

func (staticVerifier) VerifyToken(_ context.Context, token string) (int, error) {
	id, err := strconv.Atoi(strings.TrimPrefix(token, "player-"))
	if err != nil || !strings.HasPrefix(token, "player-") {
		return 0, errors.New("bad token")
	}
	return id, nil
}

func tokenFor(playerID int) string {
	return "player-" + strconv.Itoa(playerID)
}

type testApp struct {
	srv         *httptest.Server
	hub         *relay.Hub
	store       *repositories.MemoryStore
	matchmaking *services.MatchmakingService
	tournaments *services.TournamentService
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	logger := discardLogger()

	store := repositories.NewMemoryStore()
	hub := relay.NewHub(logger)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	ledger := services.NewLedgerService(store, nil, logger)
	sync := services.NewSyncService(relay.NewSessionStore(), ledger, hub, nil, services.SyncConfig{}, logger)
	mm := services.NewMatchmakingService(ledger, sync, logger)
	ts := services.NewTournamentService(store, ledger, sync, hub, nil, nil, nil, services.TournamentConfig{}, logger)
	sync.SetTournamentReporter(ts)
	ts.SetMatchQueue(mm)
	NewMessageRouter(hub, mm, sync, ts, nil, logger)

	th := NewTournamentHandler(ts)
	ws := NewWebSocketHandler(hub, staticVerifier{}, nil, logger)

	r := chi.NewRouter()
	mh := NewMatchHandler(ledger)
	r.Get("/ws", ws.ServeWs)
	r.Get("/matches/{matchID}", mh.GetMatchHandler)
	r.Get("/players/{playerID}", mh.GetPlayerHandler)
	r.Route("/tournaments", func(r chi.Router) {
		r.Get("/", th.ListHandler)
		r.Get("/{tournamentID}", th.GetByIDHandler)
		r.Group(func(r chi.Router) {
			r.Use(middleware.Authenticate(staticVerifier{}))
			r.Post("/", th.CreateHandler)
			r.Post("/{tournamentID}/register", th.RegisterHandler)
			r.Delete("/{tournamentID}/register", th.UnregisterHandler)
			r.Post("/{tournamentID}/start", th.StartHandler)
			r.Post("/matches/{matchID}/result", th.ReportResultHandler)
		})
	})

	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return &testApp{srv: srv, hub: hub, store: store, matchmaking: mm, tournaments: ts}
}

func (a *testApp) do(t *testing.T, method, path string, playerID int, body string) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, a.srv.URL+path, reader)
	require.NoError(t, err)
	if playerID > 0 {
		req.Header.Set("Authorization", "Bearer "+tokenFor(playerID))
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (a *testApp) dial(t *testing.T, playerID int) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(a.srv.URL, "http") + "/ws?token=" + tokenFor(playerID)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.Eventually(t, func() bool { return a.hub.IsOnline(playerID) }, time.Second, 5*time.Millisecond)
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msgType string, payload interface{}) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(relay.OutboundEnvelope{Type: msgType, Payload: payload}))
}

// expect reads frames until one of msgType arrives and returns it.
func expect(t *testing.T, conn *websocket.Conn, msgType string) relay.Envelope {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		var env relay.Envelope
		require.NoError(t, conn.ReadJSON(&env), "waiting for %s", msgType)
		if env.Type == msgType {
			return env
		}
	}
}

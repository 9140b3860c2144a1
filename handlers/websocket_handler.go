package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/Dosada05/pong-arena/middleware"
	"github.com/Dosada05/pong-arena/relay"
)

type WebSocketHandler struct {
	hub      *relay.Hub
	verifier middleware.TokenVerifier
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewWebSocketHandler takes the allowed origins. An empty list allows any
// origin, which is meant for local development.
func NewWebSocketHandler(hub *relay.Hub, verifier middleware.TokenVerifier, allowedOrigins []string, logger *slog.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		hub:      hub,
		verifier: verifier,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		if len(set) == 0 {
			return true
		}
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// ServeWs handles GET /ws?token=...
// The token is checked before the upgrade so an unauthenticated client gets a
// plain 401.
func (h *WebSocketHandler) ServeWs(w http.ResponseWriter, r *http.Request) {
	token := middleware.TokenFromRequest(r)
	if token == "" {
		unauthorizedResponse(w, r, "missing authentication token")
		return
	}
	playerID, err := h.verifier.VerifyToken(r.Context(), token)
	if err != nil {
		h.logger.Info("websocket authentication rejected", slog.Any("error", err))
		unauthorizedResponse(w, r, "invalid or expired authentication token")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.logger.Warn("failed to upgrade websocket connection",
			slog.Int("player_id", playerID), slog.Any("error", err))
		return
	}

	client := relay.NewClient(h.hub, conn, playerID)
	h.hub.Register(client)
	h.logger.Debug("websocket connected", slog.Int("player_id", playerID), slog.String("client_id", client.ID))

	go client.WritePump()
	go client.ReadPump()
}

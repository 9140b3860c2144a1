package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// HandlerFunc processes one inbound message. A returned error is turned into
// an error envelope for the sender.
type HandlerFunc func(ctx context.Context, c *Client, payload json.RawMessage) error

// PlayerHook is notified when a player's current connection opens or closes.
type PlayerHook func(playerID int)

// ErrorClassifier maps a handler error onto an error code and client-facing
// message.
type ErrorClassifier func(err error) (code, message string)

// Validator is implemented by payloads that check their own fields.
type Validator interface {
	Validate() error
}

// Handle adapts a typed handler into a HandlerFunc, decoding and validating
// the payload first.
func Handle[T any](fn func(ctx context.Context, c *Client, payload T) error) HandlerFunc {
	return func(ctx context.Context, c *Client, raw json.RawMessage) error {
		var payload T
		if len(raw) > 0 && string(raw) != "null" {
			if err := json.Unmarshal(raw, &payload); err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
			}
		}
		if v, ok := any(&payload).(Validator); ok {
			if err := v.Validate(); err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
			}
		}
		return fn(ctx, c, payload)
	}
}

// Hub tracks one live connection per player and routes inbound messages to
// registered handlers. Register and Unregister are serialised through Run.
type Hub struct {
	logger *slog.Logger

	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	mu      sync.RWMutex
	clients map[int]*Client
	ctx     context.Context

	handlersMu sync.RWMutex
	handlers   map[string]HandlerFunc

	hooksMu      sync.RWMutex
	onConnect    []PlayerHook
	onDisconnect []PlayerHook
	classify     ErrorClassifier
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger:     logger,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		clients:    make(map[int]*Client),
		ctx:        context.Background(),
		handlers:   make(map[string]HandlerFunc),
	}
}

// Run owns connection registration until ctx is cancelled, then closes every
// remaining connection.
func (h *Hub) Run(ctx context.Context) {
	h.mu.Lock()
	h.ctx = ctx
	h.mu.Unlock()

	defer close(h.done)
	for {
		select {
		case c := <-h.register:
			h.addClient(c)
		case c := <-h.unregister:
			h.removeClient(c)
		case <-ctx.Done():
			h.mu.Lock()
			for id, c := range h.clients {
				c.close()
				delete(h.clients, id)
			}
			h.mu.Unlock()
			h.logger.Info("relay hub stopped")
			return
		}
	}
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.close()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	prev := h.clients[c.PlayerID]
	h.clients[c.PlayerID] = c
	h.mu.Unlock()

	if prev != nil && prev != c {
		prev.close()
		h.logger.Info("connection superseded",
			slog.Int("player_id", c.PlayerID), slog.String("old_client_id", prev.ID), slog.String("client_id", c.ID))
	} else {
		h.fire(h.connectHooks(), c.PlayerID)
	}
	h.logger.Debug("client registered", slog.Int("player_id", c.PlayerID), slog.String("client_id", c.ID))
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	current := h.clients[c.PlayerID] == c
	if current {
		delete(h.clients, c.PlayerID)
	}
	h.mu.Unlock()

	c.close()
	if !current {
		return
	}
	h.logger.Debug("client unregistered", slog.Int("player_id", c.PlayerID), slog.String("client_id", c.ID))
	h.fire(h.disconnectHooks(), c.PlayerID)
}

// fire runs hooks off the registration loop.
func (h *Hub) fire(hooks []PlayerHook, playerID int) {
	if len(hooks) == 0 {
		return
	}
	go func() {
		for _, hook := range hooks {
			func() {
				defer func() {
					if p := recover(); p != nil {
						h.logger.Error("player hook panicked", slog.Int("player_id", playerID), slog.Any("panic", p))
					}
				}()
				hook(playerID)
			}()
		}
	}()
}

func (h *Hub) OnConnect(hook PlayerHook) {
	h.hooksMu.Lock()
	defer h.hooksMu.Unlock()
	h.onConnect = append(h.onConnect, hook)
}

func (h *Hub) OnDisconnect(hook PlayerHook) {
	h.hooksMu.Lock()
	defer h.hooksMu.Unlock()
	h.onDisconnect = append(h.onDisconnect, hook)
}

func (h *Hub) SetErrorClassifier(fn ErrorClassifier) {
	h.hooksMu.Lock()
	defer h.hooksMu.Unlock()
	h.classify = fn
}

func (h *Hub) connectHooks() []PlayerHook {
	h.hooksMu.RLock()
	defer h.hooksMu.RUnlock()
	return append([]PlayerHook(nil), h.onConnect...)
}

func (h *Hub) disconnectHooks() []PlayerHook {
	h.hooksMu.RLock()
	defer h.hooksMu.RUnlock()
	return append([]PlayerHook(nil), h.onDisconnect...)
}

// RegisterMessageHandler binds msgType to fn. Registering a type twice panics.
func (h *Hub) RegisterMessageHandler(msgType string, fn HandlerFunc) {
	h.handlersMu.Lock()
	defer h.handlersMu.Unlock()
	if _, exists := h.handlers[msgType]; exists {
		panic(fmt.Sprintf("relay: handler for %q already registered", msgType))
	}
	h.handlers[msgType] = fn
}

// SendToClient delivers an envelope to the player's current connection. It
// never blocks and reports false when the player is offline or unreachable.
func (h *Hub) SendToClient(playerID int, msgType string, payload interface{}) bool {
	h.mu.RLock()
	c := h.clients[playerID]
	h.mu.RUnlock()
	if c == nil {
		h.logger.Debug("recipient offline", slog.Int("player_id", playerID), slog.String("type", msgType))
		return false
	}
	return c.Send(msgType, payload)
}

func (h *Hub) IsOnline(playerID int) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[playerID]
	return ok
}

func (h *Hub) OnlineCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) baseContext() context.Context {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.ctx
}

func (h *Hub) dispatch(c *Client, raw []byte) {
	env, err := decodeEnvelope(raw)
	if err != nil {
		h.replyError(c, "", err)
		return
	}

	h.handlersMu.RLock()
	fn, ok := h.handlers[env.Type]
	h.handlersMu.RUnlock()
	if !ok {
		h.replyError(c, env.Type, fmt.Errorf("%w: %s", ErrUnknownType, env.Type))
		return
	}

	if err := h.invoke(c, env, fn); err != nil {
		h.replyError(c, env.Type, err)
	}
}

func (h *Hub) invoke(c *Client, env Envelope, fn HandlerFunc) (err error) {
	defer func() {
		if p := recover(); p != nil {
			h.logger.Error("message handler panicked",
				slog.String("type", env.Type), slog.Int("player_id", c.PlayerID), slog.Any("panic", p))
			err = ErrHandlerPanicked
		}
	}()
	return fn(h.baseContext(), c, env.Payload)
}

func (h *Hub) replyError(c *Client, msgType string, err error) {
	code, message := h.classifyError(err)
	if code == CodeInternal {
		h.logger.Error("message handler failed",
			slog.String("type", msgType), slog.Int("player_id", c.PlayerID), slog.Any("error", err))
	}
	c.Send(TypeError, ErrorPayload{Code: code, Message: message, Type: msgType})
}

func (h *Hub) classifyError(err error) (string, string) {
	switch {
	case errors.Is(err, ErrInvalidEnvelope), errors.Is(err, ErrInvalidPayload), errors.Is(err, ErrUnknownType):
		return CodeValidation, err.Error()
	case errors.Is(err, ErrHandlerPanicked):
		return CodeInternal, err.Error()
	}
	h.hooksMu.RLock()
	classify := h.classify
	h.hooksMu.RUnlock()
	if classify != nil {
		return classify(err)
	}
	return CodeInternal, "internal error"
}

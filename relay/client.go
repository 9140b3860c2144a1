package relay

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256
)

// Client is one authenticated websocket connection.
type Client struct {
	ID       string
	PlayerID int

	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	closed bool
}

func NewClient(hub *Hub, conn *websocket.Conn, playerID int) *Client {
	return &Client{
		ID:       uuid.NewString(),
		PlayerID: playerID,
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, sendBufferSize),
	}
}

// Send queues an envelope without blocking. It reports false when the
// connection is closed or its buffer is full.
func (c *Client) Send(msgType string, payload interface{}) bool {
	msg, err := encodeEnvelope(msgType, payload)
	if err != nil {
		c.hub.logger.Error("failed to encode outbound message",
			slog.String("type", msgType), slog.Int("player_id", c.PlayerID), slog.Any("error", err))
		return false
	}
	return c.enqueue(msg)
}

func (c *Client) enqueue(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		c.hub.logger.Warn("client send buffer full, dropping message",
			slog.Int("player_id", c.PlayerID), slog.String("client_id", c.ID))
		return false
	}
}

// close shuts the send channel once; WritePump then sends a close frame.
func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// ReadPump reads frames until the connection fails and dispatches each one
// to the hub. It unregisters the client on exit.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { return c.conn.SetReadDeadline(time.Now().Add(pongWait)) })

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("websocket read error", slog.Int("player_id", c.PlayerID), slog.Any("error", err))
			}
			return
		}
		c.hub.dispatch(c, message)
	}
}

// WritePump writes queued frames, one message per frame, and keeps the
// connection alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.hub.logger.Debug("websocket write failed", slog.Int("player_id", c.PlayerID), slog.Any("error", err))
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

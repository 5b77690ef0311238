package websocket

import (
	"bytes"
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"licensesrv/internal/infrastructure"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Maximum message size allowed from peer
	maxMessageSize = 512

	sendBuffer = 64
)

// Connection is the part of *websocket.Conn used by clients.
type Connection interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(string) error)
}

// Timing controls keepalive. PingPeriod must be shorter than PongWait.
type Timing struct {
	PingPeriod time.Duration
	PongWait   time.Duration
}

// DefaultTiming pings every 54s and waits 60s for the pong.
func DefaultTiming() Timing {
	return Timing{PingPeriod: 54 * time.Second, PongWait: 60 * time.Second}
}

func (t Timing) normalized() Timing {
	def := DefaultTiming()
	if t.PongWait <= 0 {
		t.PongWait = def.PongWait
	}
	if t.PingPeriod <= 0 || t.PingPeriod >= t.PongWait {
		t.PingPeriod = (t.PongWait * 9) / 10
	}
	return t
}

// Client is a middleman between the websocket connection and the hub
type Client struct {
	hub    *Hub
	conn   Connection
	send   chan []byte
	timing Timing

	id          string
	traceID     string
	remoteAddr  string
	connectedAt time.Time
	logger      *slog.Logger

	messagesReceived int64
}

// NewClient wraps conn. traceID ties the client's log lines to the
// upgrade request.
func NewClient(hub *Hub, conn Connection, remoteAddr, traceID string, timing Timing, logger *slog.Logger) *Client {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	id := uuid.New().String()
	return &Client{
		hub:         hub,
		conn:        conn,
		send:        make(chan []byte, sendBuffer),
		timing:      timing.normalized(),
		id:          id,
		traceID:     traceID,
		remoteAddr:  remoteAddr,
		connectedAt: time.Now(),
		logger: logger.With(
			slog.String("component", "websocket.client"),
			slog.String("client_id", id),
		),
	}
}

// ID returns the client id.
func (c *Client) ID() string {
	return c.id
}

func (c *Client) context() context.Context {
	ctx := context.Background()
	if c.traceID != "" {
		ctx = infrastructure.WithTraceID(ctx, c.traceID)
	}
	return ctx
}

// ReadPump reads until the peer goes away. Clients only send heartbeats;
// anything else is counted and ignored.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.timing.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.timing.PongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.WarnContext(c.context(), "unexpected websocket close",
					slog.String("error", err.Error()))
			}
			return
		}
		message = bytes.TrimSpace(message)
		c.messagesReceived++
		c.hub.metrics.recordMessage(c.context(), "in", "client", len(message))
		if string(message) == `{"type":"heartbeat"}` {
			c.conn.SetReadDeadline(time.Now().Add(c.timing.PongWait))
		}
	}
}

// WritePump writes queued messages and pings the peer.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.timing.PingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.DebugContext(c.context(), "websocket write failed",
					slog.String("error", err.Error()))
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.DebugContext(c.context(), "websocket ping failed",
					slog.String("error", err.Error()))
				return
			}
		}
	}
}

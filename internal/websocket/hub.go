package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"licensesrv/internal/infrastructure"
)

// Message types sent by the hub itself. License events use the names
// published by the services package.
const (
	TypeConnection = "connection"
	TypeHeartbeat  = "heartbeat"
)

// Message is the envelope of every frame sent to clients.
type Message struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp string      `json:"timestamp"`
	TraceID   string      `json:"trace_id,omitempty"`
}

type outbound struct {
	msgType string
	payload []byte
}

// Hub maintains the set of active clients and broadcasts messages to the clients
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan outbound
	register   chan *Client
	unregister chan *Client

	mu      sync.RWMutex
	logger  *slog.Logger
	metrics *Metrics

	totalConnections int64
	messagesSent     int64
	messagesDropped  int64

	quit    chan struct{}
	done    chan struct{}
	running bool
}

// NewHub creates a hub. metrics may be nil.
func NewHub(logger *slog.Logger, metrics *Metrics) *Hub {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan outbound, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger.With(slog.String("component", "websocket.hub")),
		metrics:    metrics,
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start runs the hub loop in a goroutine.
func (h *Hub) Start() {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return
	}
	h.running = true
	h.mu.Unlock()
	go h.Run()
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	defer close(h.done)
	for {
		select {
		case <-h.quit:
			h.closeAll()
			h.logger.Info("hub stopped")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.totalConnections++
			count := len(h.clients)
			h.mu.Unlock()

			ctx := client.context()
			h.metrics.recordConnection(ctx)
			h.logger.InfoContext(ctx, "client registered",
				slog.String("client_id", client.id),
				slog.String("remote_addr", client.remoteAddr),
				slog.Int("total_clients", count))

			welcome, err := h.encode(TypeConnection, map[string]interface{}{
				"status":    "connected",
				"client_id": client.id,
			}, client.traceID)
			if err == nil {
				select {
				case client.send <- welcome:
				default:
				}
			}

		case client := <-h.unregister:
			h.remove(client)

		case msg := <-h.broadcast:
			h.fanOut(msg)
		}
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, client)
	close(client.send)
	count := len(h.clients)
	h.mu.Unlock()

	ctx := client.context()
	h.metrics.recordDisconnection(ctx, time.Since(client.connectedAt))
	h.logger.InfoContext(ctx, "client unregistered",
		slog.String("client_id", client.id),
		slog.Int("total_clients", count),
		slog.Duration("connection_duration", time.Since(client.connectedAt)))
}

// fanOut delivers msg to every client. A client whose buffer is full is
// disconnected rather than blocking the others.
func (h *Hub) fanOut(msg outbound) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	ctx := context.Background()
	var slow []*Client
	for _, client := range clients {
		select {
		case client.send <- msg.payload:
			h.metrics.recordMessage(ctx, "out", msg.msgType, len(msg.payload))
		default:
			slow = append(slow, client)
		}
	}

	h.mu.Lock()
	h.messagesSent += int64(len(clients) - len(slow))
	h.mu.Unlock()

	for _, client := range slow {
		h.metrics.recordDropped(ctx, msg.msgType)
		h.logger.WarnContext(client.context(), "client send buffer full, disconnecting",
			slog.String("client_id", client.id))
		h.remove(client)
	}
}

func (h *Hub) encode(messageType string, data interface{}, traceID string) ([]byte, error) {
	payload, err := json.Marshal(Message{
		Type:      messageType,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		TraceID:   traceID,
	})
	if err != nil {
		h.logger.Error("error marshaling message",
			slog.String("message_type", messageType),
			slog.String("error", err.Error()))
	}
	return payload, err
}

// Broadcast sends a typed message to every client. It never blocks: when
// the queue is full the message is dropped.
func (h *Hub) Broadcast(messageType string, data interface{}) {
	h.BroadcastWithTrace(messageType, data, "")
}

// BroadcastWithTrace is Broadcast with a trace id in the envelope.
func (h *Hub) BroadcastWithTrace(messageType string, data interface{}, traceID string) {
	payload, err := h.encode(messageType, data, traceID)
	if err != nil {
		return
	}
	select {
	case h.broadcast <- outbound{msgType: messageType, payload: payload}:
	default:
		h.mu.Lock()
		h.messagesDropped++
		h.mu.Unlock()
		h.metrics.recordDropped(context.Background(), messageType)
		h.logger.Warn("broadcast queue full, message dropped",
			slog.String("message_type", messageType))
	}
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.quit:
		close(client.send)
	}
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.quit:
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stats returns counters for the debug endpoint.
func (h *Hub) Stats() map[string]int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return map[string]int64{
		"active_clients":    int64(len(h.clients)),
		"total_connections": h.totalConnections,
		"messages_sent":     h.messagesSent,
		"messages_dropped":  h.messagesDropped,
	}
}

// Stop closes every client and ends the hub loop.
func (h *Hub) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	h.mu.Unlock()

	close(h.quit)
	<-h.done
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
}

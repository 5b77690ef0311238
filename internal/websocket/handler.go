package websocket

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"licensesrv/internal/config"
)

// Handler upgrades requests and attaches them to the hub.
type Handler struct {
	hub            *Hub
	upgrader       websocket.Upgrader
	timing         Timing
	allowedOrigins []string
	logger         *slog.Logger
}

// NewHandler builds the upgrade handler. An origin of "*" in allowedOrigins
// accepts any origin; requests without an Origin header are always accepted.
func NewHandler(hub *Hub, cfg config.WebSocketConfig, allowedOrigins []string, logger *slog.Logger) *Handler {
	h := &Handler{
		hub:            hub,
		timing:         Timing{PingPeriod: cfg.PingPeriod, PongWait: cfg.PongWait},
		allowedOrigins: allowedOrigins,
		logger:         logger.With(slog.String("component", "websocket.handler")),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  cfg.ReadBufferSize,
		WriteBufferSize: cfg.WriteBufferSize,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.allowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	// Same host is always fine.
	if u, err := url.Parse(origin); err == nil && strings.EqualFold(u.Host, r.Host) {
		return true
	}
	h.logger.WarnContext(r.Context(), "websocket origin not allowed",
		slog.String("origin", origin),
		slog.Any("allowed_origins", h.allowedOrigins))
	return false
}

// ServeHTTP upgrades the connection and starts the client pumps.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already answered the request.
		h.logger.WarnContext(ctx, "websocket upgrade failed",
			slog.String("error", err.Error()),
			slog.String("origin", r.Header.Get("Origin")))
		return
	}

	client := NewClient(h.hub, conn, r.RemoteAddr, middleware.GetReqID(ctx), h.timing, h.logger)
	h.hub.Register(client)
	h.logger.InfoContext(ctx, "websocket client connected",
		slog.String("client_id", client.ID()),
		slog.String("remote_addr", r.RemoteAddr))

	go client.WritePump()
	go client.ReadPump()
}

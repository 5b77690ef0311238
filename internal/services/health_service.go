package services

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"licensesrv/internal/license"
)

// ClientCounter reports connected websocket clients.
type ClientCounter interface {
	ClientCount() int
}

// HealthService provides health check functionality
type HealthService struct {
	version   string
	store     *license.Store
	clients   ClientCounter
	startTime time.Time
	logger    *slog.Logger
}

// HealthStatus represents the health status response
type HealthStatus struct {
	Status    string                   `json:"status"`
	Timestamp time.Time                `json:"timestamp"`
	Version   string                   `json:"version"`
	Runtime   map[string]interface{}   `json:"runtime,omitempty"`
	Services  map[string]ServiceHealth `json:"services,omitempty"`
}

// ServiceHealth represents individual service health
type ServiceHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Uptime  string `json:"uptime,omitempty"`
}

// Health states.
const (
	StatusOK       = "ok"
	StatusReady    = "ready"
	StatusNotReady = "not_ready"
	StatusAlive    = "alive"
)

// NewHealthService creates a health service. clients may be nil.
func NewHealthService(version string, store *license.Store, clients ClientCounter, logger *slog.Logger) *HealthService {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthService{
		version:   version,
		store:     store,
		clients:   clients,
		startTime: time.Now(),
		logger:    logger.With(slog.String("service", "health")),
	}
}

// HealthCheck returns overall health status
func (hs *HealthService) HealthCheck(ctx context.Context) HealthStatus {
	return HealthStatus{
		Status:    StatusOK,
		Timestamp: time.Now(),
		Version:   hs.version,
		Services: map[string]ServiceHealth{
			"license_store": {
				Status:  StatusOK,
				Message: fmt.Sprintf("backend %s (generation %d)", hs.store.BackendName(), hs.store.Generation()),
			},
		},
	}
}

// ReadinessCheck pings the active backend.
func (hs *HealthService) ReadinessCheck(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:    StatusReady,
		Timestamp: time.Now(),
		Version:   hs.version,
		Services: map[string]ServiceHealth{
			"license_store": hs.checkStore(ctx),
			"websocket":     hs.checkWebSocket(),
		},
	}
	for _, service := range status.Services {
		if service.Status != StatusReady {
			status.Status = StatusNotReady
			break
		}
	}
	if status.Status != StatusReady {
		hs.logger.WarnContext(ctx, "readiness check failed",
			slog.String("backend", hs.store.BackendName()),
			slog.String("message", status.Services["license_store"].Message))
	}
	return status
}

// LivenessCheck returns liveness status
func (hs *HealthService) LivenessCheck(ctx context.Context) HealthStatus {
	return HealthStatus{
		Status:    StatusAlive,
		Timestamp: time.Now(),
		Version:   hs.version,
		Runtime: map[string]interface{}{
			"uptime":     time.Since(hs.startTime).Seconds(),
			"go_version": runtime.Version(),
			"goroutines": runtime.NumGoroutine(),
		},
	}
}

func (hs *HealthService) checkStore(ctx context.Context) ServiceHealth {
	if err := hs.store.Ping(ctx); err != nil {
		return ServiceHealth{
			Status:  StatusNotReady,
			Message: fmt.Sprintf("%s backend unreachable: %v", hs.store.BackendName(), err),
		}
	}
	return ServiceHealth{
		Status:  StatusReady,
		Message: fmt.Sprintf("%s backend is healthy", hs.store.BackendName()),
	}
}

func (hs *HealthService) checkWebSocket() ServiceHealth {
	msg := "WebSocket service is healthy"
	if hs.clients != nil {
		msg = fmt.Sprintf("%d clients connected", hs.clients.ClientCount())
	}
	return ServiceHealth{
		Status:  StatusReady,
		Message: msg,
		Uptime:  time.Since(hs.startTime).Round(time.Second).String(),
	}
}

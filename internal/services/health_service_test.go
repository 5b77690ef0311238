package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"licensesrv/internal/keycodec"
	"licensesrv/internal/license"
	"licensesrv/internal/license/licensetest"
)

type fixedClients int

func (c fixedClients) ClientCount() int { return int(c) }

func TestHealthService(t *testing.T) {
	ctx := context.Background()
	backend := licensetest.NewMemoryBackend("sqlite")
	store := license.NewStore(backend, keycodec.New("test-secret"), license.WithLogger(quietLogger()))
	hs := NewHealthService("1.2.3", store, fixedClients(2), quietLogger())

	health := hs.HealthCheck(ctx)
	assert.Equal(t, StatusOK, health.Status)
	assert.Equal(t, "1.2.3", health.Version)
	assert.Contains(t, health.Services["license_store"].Message, "sqlite")

	ready := hs.ReadinessCheck(ctx)
	assert.Equal(t, StatusReady, ready.Status)
	assert.Equal(t, "2 clients connected", ready.Services["websocket"].Message)

	live := hs.LivenessCheck(ctx)
	assert.Equal(t, StatusAlive, live.Status)
	assert.Contains(t, live.Runtime, "goroutines")

	backend.Fail = errors.New("connection refused")
	ready = hs.ReadinessCheck(ctx)
	assert.Equal(t, StatusNotReady, ready.Status)
	assert.Equal(t, StatusNotReady, ready.Services["license_store"].Status)
	assert.Contains(t, ready.Services["license_store"].Message, "connection refused")
}

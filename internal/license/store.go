package license

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	apperrors "licensesrv/internal/errors"
	"licensesrv/internal/keycodec"
)

// handle pins one backend. Operations hold the read lock for their whole
// run; retiring takes the write lock, so Close waits for them.
type handle struct {
	backend    Backend
	generation uint64
	mu         sync.RWMutex
	closed     bool
}

// Store is the backend-agnostic license store.
type Store struct {
	current    atomic.Pointer[handle]
	generation atomic.Uint64

	codec   *keycodec.Codec
	now     func() time.Time
	loc     *time.Location
	logger  *slog.Logger
	metrics *Metrics
	tracer  trace.Tracer
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLocation sets the zone used for naive timestamps and calendar days.
func WithLocation(loc *time.Location) Option {
	return func(s *Store) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithLogger sets the store logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics enables store metrics.
func WithMetrics(m *Metrics) Option {
	return func(s *Store) {
		s.metrics = m
	}
}

// NewStore creates a store over backend.
func NewStore(backend Backend, codec *keycodec.Codec, opts ...Option) *Store {
	s := &Store{
		codec:  codec,
		now:    time.Now,
		loc:    time.Local,
		logger: slog.Default(),
		tracer: otel.Tracer(TracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(slog.String("component", "license_store"))
	s.current.Store(&handle{backend: backend, generation: s.generation.Add(1)})
	return s
}

// Codec returns the key codec used for issuance.
func (s *Store) Codec() *keycodec.Codec {
	return s.codec
}

// BackendName names the active backend.
func (s *Store) BackendName() string {
	return s.current.Load().backend.Name()
}

// Generation identifies the active backend handle. It grows on every Swap.
func (s *Store) Generation() uint64 {
	return s.current.Load().generation
}

// Swap installs backend as the active backend and closes the previous one
// once its in-flight operations have finished. It returns the new generation.
func (s *Store) Swap(ctx context.Context, backend Backend) uint64 {
	next := &handle{backend: backend, generation: s.generation.Add(1)}
	prev := s.current.Swap(next)

	s.logger.InfoContext(ctx, "license backend swapped",
		slog.String("backend", backend.Name()),
		slog.Uint64("generation", next.generation))
	s.metrics.recordSwap(ctx, backend.Name())

	if prev != nil {
		s.retire(ctx, prev)
	}
	return next.generation
}

// Close closes the active backend once its in-flight operations have
// finished. The store must not be used afterwards.
func (s *Store) Close(ctx context.Context) error {
	h := s.current.Load()
	h.mu.Lock()
	defer h.mu.Unlock()
	s.logger.InfoContext(ctx, "closing license backend",
		slog.String("backend", h.backend.Name()),
		slog.Uint64("generation", h.generation))
	return h.backend.Close()
}

func (s *Store) retire(ctx context.Context, h *handle) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	if err := h.backend.Close(); err != nil {
		s.logger.WarnContext(ctx, "closing retired backend failed",
			slog.String("backend", h.backend.Name()),
			slog.Uint64("generation", h.generation),
			slog.String("error", err.Error()))
	}
}

// acquire returns the active handle with its read lock held.
func (s *Store) acquire() *handle {
	for {
		h := s.current.Load()
		h.mu.RLock()
		if !h.closed {
			return h
		}
		h.mu.RUnlock()
	}
}

// do runs fn against one pinned backend with tracing, metrics and logging.
func (s *Store) do(ctx context.Context, op, fingerprint string, fn func(context.Context, Backend) error) error {
	h := s.acquire()
	defer h.mu.RUnlock()

	ctx, span := s.tracer.Start(ctx, "license_store."+op,
		trace.WithAttributes(
			attribute.String("license.operation", op),
			attribute.String("license.backend", h.backend.Name()),
			attribute.String("license.fingerprint", fingerprint),
			attribute.Int64("license.backend_generation", int64(h.generation)),
		),
	)
	defer span.End()

	start := time.Now()
	err := fn(ctx, h.backend)
	elapsed := time.Since(start)
	s.metrics.recordOperation(ctx, op, h.backend.Name(), err, elapsed)

	if err != nil {
		span.RecordError(err)
		if errors.Is(err, apperrors.ErrBackendUnavailable) {
			span.SetStatus(codes.Error, err.Error())
			s.logger.WarnContext(ctx, "license backend call failed",
				slog.String("operation", op),
				slog.String("backend", h.backend.Name()),
				slog.String("fingerprint", fingerprint),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()))
		}
		return err
	}

	s.logger.DebugContext(ctx, "license store operation",
		slog.String("operation", op),
		slog.String("backend", h.backend.Name()),
		slog.String("fingerprint", fingerprint),
		slog.Duration("elapsed", elapsed))
	return nil
}

// Ping checks the active backend.
func (s *Store) Ping(ctx context.Context) error {
	return s.do(ctx, "ping", "", func(ctx context.Context, b Backend) error {
		return b.Ping(ctx)
	})
}

// FindByFingerprint looks up the record for deviceID, case-insensitively
// and by fingerprint only.
func (s *Store) FindByFingerprint(ctx context.Context, deviceID string) (Record, error) {
	fp, err := fingerprintOf(deviceID)
	if err != nil {
		return Record{}, err
	}
	var rec Record
	err = s.do(ctx, "find", fp, func(ctx context.Context, b Backend) error {
		var err error
		rec, err = b.Find(ctx, fp)
		return err
	})
	return rec, err
}

// List returns all records in the active backend's order: newest first for
// the relational backend, row order for the spreadsheet backend.
func (s *Store) List(ctx context.Context) ([]Record, error) {
	var recs []Record
	err := s.do(ctx, "list", "", func(ctx context.Context, b Backend) error {
		var err error
		recs, err = b.List(ctx)
		return err
	})
	return recs, err
}

// Create inserts r after checking that its fingerprint is unused. The check
// and the insert are two backend calls; see the sheets backend for the race
// this leaves open.
func (s *Store) Create(ctx context.Context, r Record) (Record, error) {
	fp, err := fingerprintOf(r.DeviceID)
	if err != nil {
		return Record{}, err
	}
	r.DeviceID = strings.ToUpper(strings.TrimSpace(r.DeviceID))
	if r.Status == "" {
		r.Status = StatusActive
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now().UTC().Truncate(time.Second)
	}

	err = s.do(ctx, "create", fp, func(ctx context.Context, b Backend) error {
		_, err := b.Find(ctx, fp)
		switch {
		case err == nil:
			return fmt.Errorf("%w: %s", apperrors.ErrAlreadyExists, fp)
		case !errors.Is(err, apperrors.ErrNotFound):
			return err
		}
		return b.Insert(ctx, r)
	})
	if err != nil {
		return Record{}, err
	}
	return r, nil
}

// Update writes the set fields of u to the record of deviceID.
func (s *Store) Update(ctx context.Context, deviceID string, u RecordUpdate) error {
	fp, err := fingerprintOf(deviceID)
	if err != nil {
		return err
	}
	if u.IsEmpty() {
		return fmt.Errorf("%w: no updates provided", apperrors.ErrInvalidInput)
	}
	return s.do(ctx, "update", fp, func(ctx context.Context, b Backend) error {
		return b.Update(ctx, fp, u)
	})
}

// SetStatus enables or disables a license.
func (s *Store) SetStatus(ctx context.Context, deviceID string, status Status) error {
	return s.Update(ctx, deviceID, RecordUpdate{Status: Some(status)})
}

// Delete removes the record of deviceID.
func (s *Store) Delete(ctx context.Context, deviceID string) error {
	fp, err := fingerprintOf(deviceID)
	if err != nil {
		return err
	}
	return s.do(ctx, "delete", fp, func(ctx context.Context, b Backend) error {
		return b.Delete(ctx, fp)
	})
}

func fingerprintOf(deviceID string) (string, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return "", fmt.Errorf("%w: device_id is required", apperrors.ErrInvalidInput)
	}
	return keycodec.Fingerprint(deviceID), nil
}

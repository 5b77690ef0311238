// Package licensetest provides an in-memory license.Backend and a contract
// suite every backend implementation must pass.
package licensetest

import (
	"context"
	"fmt"
	"sync"

	apperrors "licensesrv/internal/errors"
	"licensesrv/internal/license"
)

// MemoryBackend keeps records in insertion order.
type MemoryBackend struct {
	mu      sync.Mutex
	name    string
	records []license.Record

	// Fail, when set, makes every call return it wrapped in ErrBackendUnavailable.
	Fail error
	// OnCall runs at the start of every call with the operation name.
	OnCall func(op string)

	closed  bool
	updates int
}

// NewMemoryBackend returns an empty backend.
func NewMemoryBackend(name string) *MemoryBackend {
	if name == "" {
		name = "memory"
	}
	return &MemoryBackend{name: name}
}

func (m *MemoryBackend) Name() string { return m.name }

func (m *MemoryBackend) enter(op string) error {
	if m.OnCall != nil {
		m.OnCall(op)
	}
	if m.Fail != nil {
		return fmt.Errorf("%w: %s: %v", apperrors.ErrBackendUnavailable, op, m.Fail)
	}
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return fmt.Errorf("%w: %s: backend closed", apperrors.ErrBackendUnavailable, op)
	}
	return nil
}

func (m *MemoryBackend) indexOf(fp string) int {
	for i, r := range m.records {
		if r.Fingerprint() == fp {
			return i
		}
	}
	return -1
}

func (m *MemoryBackend) Find(ctx context.Context, fp string) (license.Record, error) {
	if err := m.enter("find"); err != nil {
		return license.Record{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if i := m.indexOf(fp); i >= 0 {
		return m.records[i], nil
	}
	return license.Record{}, apperrors.ErrNotFound
}

func (m *MemoryBackend) List(ctx context.Context) ([]license.Record, error) {
	if err := m.enter("list"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]license.Record, len(m.records))
	copy(out, m.records)
	return out, nil
}

// Insert appends r without a uniqueness check, like a spreadsheet append.
func (m *MemoryBackend) Insert(ctx context.Context, r license.Record) error {
	if err := m.enter("insert"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, r)
	return nil
}

func (m *MemoryBackend) Update(ctx context.Context, fp string, u license.RecordUpdate) error {
	if err := m.enter("update"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.indexOf(fp)
	if i < 0 {
		return apperrors.ErrNotFound
	}
	m.records[i] = u.Apply(m.records[i])
	m.updates++
	return nil
}

func (m *MemoryBackend) Delete(ctx context.Context, fp string) error {
	if err := m.enter("delete"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.indexOf(fp)
	if i < 0 {
		return apperrors.ErrNotFound
	}
	m.records = append(m.records[:i], m.records[i+1:]...)
	return nil
}

func (m *MemoryBackend) Ping(ctx context.Context) error {
	return m.enter("ping")
}

func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Closed reports whether Close was called.
func (m *MemoryBackend) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// UpdateCalls counts Update calls that reached a record.
func (m *MemoryBackend) UpdateCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updates
}

package license

import (
	"context"
)

// Backend is the storage capability set behind the Store. Fingerprints
// passed in are already upper-cased.
//
// Implementations return apperrors.ErrNotFound when no row matches,
// apperrors.ErrAlreadyExists when an insert collides, and wrap every
// transport or driver failure in apperrors.ErrBackendUnavailable.
type Backend interface {
	// Name identifies the backend kind in logs and metrics.
	Name() string
	Find(ctx context.Context, fingerprint string) (Record, error)
	// List returns every record in the backend's natural order.
	List(ctx context.Context) ([]Record, error)
	Insert(ctx context.Context, r Record) error
	// Update writes all set fields of u in a single backend call.
	Update(ctx context.Context, fingerprint string, u RecordUpdate) error
	Delete(ctx context.Context, fingerprint string) error
	Ping(ctx context.Context) error
	Close() error
}

package license

import "context"

// Mutator is applied to a freshly read record inside AtomicUpdate. It mutates
// the record in place; returning an error aborts the update without writing.
type Mutator func(lic *License) error

// Store is the persistence capability for licenses. Both backends (local JSON
// file and Google Sheets) satisfy the same contract and the same error
// taxonomy from internal/ierr, so callers never special-case the backend.
//
// Semantics:
//   - Put is an upsert that replaces the whole record for that device id.
//   - List order is unspecified but stable within a single read.
//   - AtomicUpdate is linearizable per device id: the mutator runs against the
//     current record and the result is persisted without losing a concurrent
//     update. Backends either serialize mutations or retry on conflict, in
//     which case ierr.ErrConflict surfaces after the backend's own attempts.
type Store interface {
	Get(ctx context.Context, deviceID string) (*License, error)
	Put(ctx context.Context, lic *License) error
	Delete(ctx context.Context, deviceID string) error
	List(ctx context.Context) ([]*License, error)
	AtomicUpdate(ctx context.Context, deviceID string, mutate Mutator) (*License, error)
	Ping(ctx context.Context) error
}

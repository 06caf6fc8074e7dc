package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/thovfx/license-server/internal/domain/license"
	"github.com/thovfx/license-server/internal/ierr"
)

// Store keeps licenses in a map guarded by a RWMutex. It backs service and
// handler tests and doubles as the reference implementation for the Store
// conformance suite.
type Store struct {
	mu       sync.RWMutex
	licenses map[string]*license.License
}

var _ license.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		licenses: make(map[string]*license.License),
	}
}

func (s *Store) Get(ctx context.Context, deviceID string) (*license.License, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lic, ok := s.licenses[deviceID]
	if !ok {
		return nil, ierr.ErrNotFound
	}
	return lic.Clone(), nil
}

func (s *Store) Put(ctx context.Context, lic *license.License) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.licenses[lic.DeviceID] = lic.Clone()
	return nil
}

func (s *Store) Delete(ctx context.Context, deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.licenses[deviceID]; !ok {
		return ierr.ErrNotFound
	}
	delete(s.licenses, deviceID)
	return nil
}

func (s *Store) List(ctx context.Context) ([]*license.License, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*license.License, 0, len(s.licenses))
	for _, lic := range s.licenses {
		out = append(out, lic.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out, nil
}

func (s *Store) AtomicUpdate(ctx context.Context, deviceID string, mutate license.Mutator) (*license.License, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.licenses[deviceID]
	if !ok {
		return nil, ierr.ErrNotFound
	}

	updated := current.Clone()
	if err := mutate(updated); err != nil {
		return nil, err
	}

	// The mutator may rebind the record to a new device id.
	if updated.DeviceID != deviceID {
		if _, exists := s.licenses[updated.DeviceID]; exists {
			return nil, ierr.ErrConflict
		}
		delete(s.licenses, deviceID)
	}

	s.licenses[updated.DeviceID] = updated
	return updated.Clone(), nil
}

func (s *Store) Ping(ctx context.Context) error {
	return nil
}

package localfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/thovfx/license-server/internal/domain/license"
	"github.com/thovfx/license-server/internal/ierr"
	"go.uber.org/zap"
)

// schemaVersion guards the on-disk document format. Bump it together with a
// migration when the record layout changes.
const schemaVersion = 1

type document struct {
	Version  int                `json:"version"`
	Licenses []*license.License `json:"licenses"`
}

// Store persists all licenses in a single JSON document. Every mutating call
// reads, mutates and rewrites the whole file under an exclusive lock, so
// updates are linearizable within the process. Writes go through a temp file
// and rename to avoid torn documents.
type Store struct {
	path   string
	mu     sync.RWMutex
	logger *zap.Logger
}

var _ license.Store = (*Store)(nil)

func NewStore(path string, logger *zap.Logger) (*Store, error) {
	s := &Store{
		path:   path,
		logger: logger.Named("LocalFileStore"),
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	// Fail fast on an unreadable or incompatible document.
	if _, err := s.load(); err != nil {
		return nil, err
	}

	s.logger.Info("Local file store ready", zap.String("path", path))
	return s, nil
}

func (s *Store) Get(ctx context.Context, deviceID string) (*license.License, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, err := s.load()
	if err != nil {
		return nil, err
	}

	for _, lic := range doc.Licenses {
		if lic.DeviceID == deviceID {
			return lic.Clone(), nil
		}
	}
	return nil, ierr.ErrNotFound
}

func (s *Store) Put(ctx context.Context, lic *license.License) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}

	replaced := false
	for i, existing := range doc.Licenses {
		if existing.DeviceID == lic.DeviceID {
			doc.Licenses[i] = lic.Clone()
			replaced = true
			break
		}
	}
	if !replaced {
		doc.Licenses = append(doc.Licenses, lic.Clone())
	}

	return s.save(doc)
}

func (s *Store) Delete(ctx context.Context, deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}

	for i, existing := range doc.Licenses {
		if existing.DeviceID == deviceID {
			doc.Licenses = append(doc.Licenses[:i], doc.Licenses[i+1:]...)
			return s.save(doc)
		}
	}
	return ierr.ErrNotFound
}

func (s *Store) List(ctx context.Context) ([]*license.License, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, err := s.load()
	if err != nil {
		return nil, err
	}

	out := make([]*license.License, len(doc.Licenses))
	for i, lic := range doc.Licenses {
		out[i] = lic.Clone()
	}
	return out, nil
}

func (s *Store) AtomicUpdate(ctx context.Context, deviceID string, mutate license.Mutator) (*license.License, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return nil, err
	}

	idx := -1
	for i, existing := range doc.Licenses {
		if existing.DeviceID == deviceID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return nil, ierr.ErrNotFound
	}

	updated := doc.Licenses[idx].Clone()
	if err := mutate(updated); err != nil {
		return nil, err
	}

	if updated.DeviceID != deviceID {
		for i, existing := range doc.Licenses {
			if i != idx && existing.DeviceID == updated.DeviceID {
				return nil, ierr.ErrConflict
			}
		}
	}

	doc.Licenses[idx] = updated
	if err := s.save(doc); err != nil {
		return nil, err
	}
	return updated.Clone(), nil
}

func (s *Store) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, err := s.load()
	return err
}

func (s *Store) load() (*document, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &document{Version: schemaVersion}, nil
		}
		return nil, fmt.Errorf("%w: failed to read license file: %v", ierr.ErrBackendUnavailable, err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: license file is corrupt: %v", ierr.ErrBackendUnavailable, err)
	}
	if doc.Version != schemaVersion {
		return nil, fmt.Errorf("%w: unsupported license file version %d (expected %d)", ierr.ErrBackendUnavailable, doc.Version, schemaVersion)
	}

	return &doc, nil
}

func (s *Store) save(doc *document) error {
	doc.Version = schemaVersion

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal license document: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".licenses-*.tmp")
	if err != nil {
		return fmt.Errorf("%w: failed to create temp file: %v", ierr.ErrBackendUnavailable, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: failed to write license file: %v", ierr.ErrBackendUnavailable, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: failed to close temp file: %v", ierr.ErrBackendUnavailable, err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: failed to replace license file: %v", ierr.ErrBackendUnavailable, err)
	}
	return nil
}

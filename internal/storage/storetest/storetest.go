// Package storetest holds the conformance suite every license.Store backend
// must pass. Backends plug in a factory that returns an empty store.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thovfx/license-server/internal/domain/license"
	"github.com/thovfx/license-server/internal/ierr"
)

type Factory func(t *testing.T) license.Store

func sample(deviceID string) *license.License {
	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &license.License{
		DeviceID:     deviceID,
		LicenseKey:   "AAAA-BBBB-CCCC-DDDD-EEEE",
		IssuedAt:     issued,
		ExpiresAt:    issued.AddDate(0, 0, 30),
		CustomerName: "Test Customer",
		Notes:        "conformance",
	}
}

// Run exercises the full Store contract against a backend.
func Run(t *testing.T, newStore Factory) {
	t.Run("GetMissingReturnsNotFound", func(t *testing.T) {
		store := newStore(t)
		_, err := store.Get(context.Background(), "missing")
		assert.ErrorIs(t, err, ierr.ErrNotFound)
	})

	t.Run("PutThenGetRoundTrips", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		want := sample("dev-001")
		require.NoError(t, store.Put(ctx, want))

		got, err := store.Get(ctx, "dev-001")
		require.NoError(t, err)
		assert.Equal(t, want.DeviceID, got.DeviceID)
		assert.Equal(t, want.LicenseKey, got.LicenseKey)
		assert.True(t, want.IssuedAt.Equal(got.IssuedAt))
		assert.True(t, want.ExpiresAt.Equal(got.ExpiresAt))
		assert.Equal(t, want.CustomerName, got.CustomerName)
		assert.Equal(t, want.Notes, got.Notes)
	})

	t.Run("PutReplacesWholeRecord", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		require.NoError(t, store.Put(ctx, sample("dev-001")))

		replacement := sample("dev-001")
		replacement.Notes = ""
		replacement.CustomerName = "Replaced"
		require.NoError(t, store.Put(ctx, replacement))

		got, err := store.Get(ctx, "dev-001")
		require.NoError(t, err)
		assert.Equal(t, "Replaced", got.CustomerName)
		assert.Empty(t, got.Notes, "upsert must replace, not merge")
	})

	t.Run("DeviceIDIsCaseSensitive", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		require.NoError(t, store.Put(ctx, sample("Dev-001")))
		_, err := store.Get(ctx, "dev-001")
		assert.ErrorIs(t, err, ierr.ErrNotFound)
	})

	t.Run("DeleteRemovesRecord", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		require.NoError(t, store.Put(ctx, sample("dev-001")))
		require.NoError(t, store.Delete(ctx, "dev-001"))

		_, err := store.Get(ctx, "dev-001")
		assert.ErrorIs(t, err, ierr.ErrNotFound)
		assert.ErrorIs(t, store.Delete(ctx, "dev-001"), ierr.ErrNotFound)
	})

	t.Run("ListReturnsAllRecords", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		for i := range 5 {
			require.NoError(t, store.Put(ctx, sample(fmt.Sprintf("dev-%03d", i))))
		}

		listed, err := store.List(ctx)
		require.NoError(t, err)
		require.Len(t, listed, 5)

		seen := make(map[string]bool, len(listed))
		for _, lic := range listed {
			seen[lic.DeviceID] = true
		}
		for i := range 5 {
			assert.True(t, seen[fmt.Sprintf("dev-%03d", i)])
		}
	})

	t.Run("ListOnEmptyStore", func(t *testing.T) {
		store := newStore(t)
		listed, err := store.List(context.Background())
		require.NoError(t, err)
		assert.Empty(t, listed)
	})

	t.Run("AtomicUpdateMissingReturnsNotFound", func(t *testing.T) {
		store := newStore(t)
		_, err := store.AtomicUpdate(context.Background(), "missing", func(lic *license.License) error {
			return nil
		})
		assert.ErrorIs(t, err, ierr.ErrNotFound)
	})

	t.Run("AtomicUpdatePersistsMutation", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		require.NoError(t, store.Put(ctx, sample("dev-001")))

		newExpiry := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)
		updated, err := store.AtomicUpdate(ctx, "dev-001", func(lic *license.License) error {
			lic.ExpiresAt = newExpiry
			return nil
		})
		require.NoError(t, err)
		assert.True(t, newExpiry.Equal(updated.ExpiresAt))

		got, err := store.Get(ctx, "dev-001")
		require.NoError(t, err)
		assert.True(t, newExpiry.Equal(got.ExpiresAt))
	})

	t.Run("AtomicUpdateMutatorErrorAbortsWrite", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		original := sample("dev-001")
		require.NoError(t, store.Put(ctx, original))

		wantErr := fmt.Errorf("mutator rejected")
		_, err := store.AtomicUpdate(ctx, "dev-001", func(lic *license.License) error {
			lic.Notes = "must not persist"
			return wantErr
		})
		assert.ErrorIs(t, err, wantErr)

		got, err := store.Get(ctx, "dev-001")
		require.NoError(t, err)
		assert.Equal(t, original.Notes, got.Notes)
	})

	t.Run("AtomicUpdateRebindsDeviceID", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		require.NoError(t, store.Put(ctx, sample("dev-001")))

		updated, err := store.AtomicUpdate(ctx, "dev-001", func(lic *license.License) error {
			lic.DeviceID = "dev-002"
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, "dev-002", updated.DeviceID)

		_, err = store.Get(ctx, "dev-001")
		assert.ErrorIs(t, err, ierr.ErrNotFound)
		_, err = store.Get(ctx, "dev-002")
		assert.NoError(t, err)
	})

	t.Run("AtomicUpdateRebindCollisionConflicts", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		require.NoError(t, store.Put(ctx, sample("dev-001")))
		require.NoError(t, store.Put(ctx, sample("dev-002")))

		_, err := store.AtomicUpdate(ctx, "dev-001", func(lic *license.License) error {
			lic.DeviceID = "dev-002"
			return nil
		})
		assert.ErrorIs(t, err, ierr.ErrConflict)
	})

	t.Run("ConcurrentAtomicUpdatesLoseNothing", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
		lic := sample("dev-001")
		lic.ExpiresAt = start
		require.NoError(t, store.Put(ctx, lic))

		const workers = 100
		var wg sync.WaitGroup
		wg.Add(workers)
		for range workers {
			go func() {
				defer wg.Done()
				_, err := store.AtomicUpdate(ctx, "dev-001", func(l *license.License) error {
					l.ExpiresAt = l.ExpiresAt.AddDate(0, 0, 1)
					return nil
				})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		got, err := store.Get(ctx, "dev-001")
		require.NoError(t, err)
		assert.True(t, start.AddDate(0, 0, workers).Equal(got.ExpiresAt),
			"expected expiry to advance by exactly %d days", workers)
	})

	t.Run("Ping", func(t *testing.T) {
		store := newStore(t)
		assert.NoError(t, store.Ping(context.Background()))
	})
}

package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thovfx/license-server/internal/domain/license"
	"github.com/thovfx/license-server/internal/handler/dto"
	"github.com/thovfx/license-server/internal/ierr"
	"github.com/thovfx/license-server/internal/keycodec"
	"github.com/thovfx/license-server/internal/metrics"
	"github.com/thovfx/license-server/internal/storage/memstore"
	"go.uber.org/zap"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func newTestService(t *testing.T) (*LicenseService, *testClock, *memstore.Store) {
	t.Helper()

	codec, err := keycodec.New("test-signing-secret")
	require.NoError(t, err)

	clock := &testClock{now: t0}
	store := memstore.New()

	svc := NewLicenseService(store, codec, metrics.New(prometheus.NewRegistry()), zap.NewNop())
	svc.now = clock.Now
	return svc, clock, store
}

func TestCreateThenValidateIsActive(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	lic, err := svc.Create(ctx, &dto.CreateLicenseRequest{DeviceID: "dev-001", Days: 30})
	require.NoError(t, err)
	assert.Equal(t, "dev-001", lic.DeviceID)
	assert.NotEmpty(t, lic.LicenseKey)
	assert.True(t, lic.ExpiresAt.Equal(lic.IssuedAt.AddDate(0, 0, 30)))

	result := svc.Validate(ctx, "dev-001")
	assert.True(t, result.Valid)
	assert.Equal(t, OutcomeActive, result.Outcome)
	assert.True(t, lic.ExpiresAt.Equal(result.ExpiresAt))
}

func TestCreateRejectsInvalidInput(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, &dto.CreateLicenseRequest{DeviceID: "", Days: 30})
	assert.ErrorIs(t, err, ierr.ErrValidation)

	_, err = svc.Create(ctx, &dto.CreateLicenseRequest{DeviceID: "dev-001", Days: 0})
	assert.ErrorIs(t, err, ierr.ErrValidation)

	_, err = svc.Create(ctx, &dto.CreateLicenseRequest{DeviceID: "dev-001", Days: -5})
	assert.ErrorIs(t, err, ierr.ErrValidation)
}

func TestCreateConflictsUnlessReplaceRequested(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, &dto.CreateLicenseRequest{DeviceID: "dev-001", Days: 30})
	require.NoError(t, err)

	_, err = svc.Create(ctx, &dto.CreateLicenseRequest{DeviceID: "dev-001", Days: 60})
	assert.ErrorIs(t, err, ierr.ErrConflict)

	replaced, err := svc.Create(ctx, &dto.CreateLicenseRequest{DeviceID: "dev-001", Days: 60, Replace: true})
	require.NoError(t, err)
	assert.True(t, replaced.ExpiresAt.Equal(t0.AddDate(0, 0, 60)))
}

func TestValidateUnknownDevice(t *testing.T) {
	svc, _, _ := newTestService(t)

	result := svc.Validate(context.Background(), "never-seen")
	assert.False(t, result.Valid)
	assert.Equal(t, OutcomeNotFound, result.Outcome)
}

func TestValidateDetectsTampering(t *testing.T) {
	svc, _, store := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, &dto.CreateLicenseRequest{DeviceID: "dev-001", Days: 30})
	require.NoError(t, err)

	// Simulate a forged expiry written directly to the backend.
	_, err = store.AtomicUpdate(ctx, "dev-001", func(lic *license.License) error {
		lic.ExpiresAt = lic.ExpiresAt.AddDate(10, 0, 0)
		return nil
	})
	require.NoError(t, err)

	result := svc.Validate(ctx, "dev-001")
	assert.False(t, result.Valid)
	assert.Equal(t, OutcomeTampered, result.Outcome)
}

func TestValidateAfterSecretRotation(t *testing.T) {
	svc, _, store := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, &dto.CreateLicenseRequest{DeviceID: "dev-001", Days: 30})
	require.NoError(t, err)

	rotated, err := keycodec.New("rotated-secret")
	require.NoError(t, err)

	svc2 := NewLicenseService(store, rotated, metrics.New(prometheus.NewRegistry()), zap.NewNop())
	svc2.now = svc.now

	result := svc2.Validate(ctx, "dev-001")
	assert.False(t, result.Valid)
	assert.Equal(t, OutcomeTampered, result.Outcome, "rotating the secret must invalidate issued keys")
}

func TestValidateFailsClosedWhenBackendDown(t *testing.T) {
	svc, _, _ := newTestService(t)
	svc.store = &failingStore{err: ierr.ErrBackendUnavailable}

	result := svc.Validate(context.Background(), "dev-001")
	assert.False(t, result.Valid)
	assert.Equal(t, OutcomeBackendUnavailable, result.Outcome)
}

func TestLifecycleScenario(t *testing.T) {
	svc, clock, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, &dto.CreateLicenseRequest{DeviceID: "dev-001", Days: 30})
	require.NoError(t, err)

	clock.Set(t0.AddDate(0, 0, 1))
	assert.True(t, svc.Validate(ctx, "dev-001").Valid, "day 1")

	clock.Set(t0.AddDate(0, 0, 31))
	result := svc.Validate(ctx, "dev-001")
	assert.False(t, result.Valid, "day 31")
	assert.Equal(t, OutcomeExpired, result.Outcome)

	_, err = svc.Extend(ctx, "dev-001", 10)
	require.NoError(t, err)

	clock.Set(t0.AddDate(0, 0, 35))
	assert.True(t, svc.Validate(ctx, "dev-001").Valid, "day 35 after 10-day extension on day 31")

	clock.Set(t0.AddDate(0, 0, 42))
	assert.False(t, svc.Validate(ctx, "dev-001").Valid, "day 42")
}

func TestExtendActiveLicenseExtendsFromCurrentExpiry(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, &dto.CreateLicenseRequest{DeviceID: "dev-001", Days: 30})
	require.NoError(t, err)

	extended, err := svc.Extend(ctx, "dev-001", 10)
	require.NoError(t, err)
	assert.True(t, extended.ExpiresAt.Equal(created.ExpiresAt.AddDate(0, 0, 10)))

	// The key must track the new expiry.
	result := svc.Validate(ctx, "dev-001")
	assert.True(t, result.Valid)
}

func TestExtendExpiredLicenseExtendsFromNow(t *testing.T) {
	svc, clock, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, &dto.CreateLicenseRequest{DeviceID: "dev-001", Days: 30})
	require.NoError(t, err)

	// 100 days later the license is long expired; extension counts from now,
	// not from the stale expiry.
	later := t0.AddDate(0, 0, 100)
	clock.Set(later)

	extended, err := svc.Extend(ctx, "dev-001", 10)
	require.NoError(t, err)
	assert.True(t, extended.ExpiresAt.Equal(later.AddDate(0, 0, 10)))
}

func TestExtendNeverDecreasesExpiry(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, &dto.CreateLicenseRequest{DeviceID: "dev-001", Days: 30})
	require.NoError(t, err)

	extended, err := svc.Extend(ctx, "dev-001", 1)
	require.NoError(t, err)
	assert.False(t, extended.ExpiresAt.Before(created.ExpiresAt.AddDate(0, 0, 1)))

	_, err = svc.Extend(ctx, "dev-001", 0)
	assert.ErrorIs(t, err, ierr.ErrValidation)
	_, err = svc.Extend(ctx, "dev-001", -7)
	assert.ErrorIs(t, err, ierr.ErrValidation)
}

func TestExtendMissingDevice(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Extend(context.Background(), "missing", 10)
	assert.ErrorIs(t, err, ierr.ErrNotFound)
}

func TestConcurrentExtendsLoseNothing(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, &dto.CreateLicenseRequest{DeviceID: "dev-001", Days: 30})
	require.NoError(t, err)

	const workers = 100
	var wg sync.WaitGroup
	wg.Add(workers)
	for range workers {
		go func() {
			defer wg.Done()
			_, err := svc.Extend(ctx, "dev-001", 1)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	lic, err := svc.Get(ctx, "dev-001")
	require.NoError(t, err)
	assert.True(t, created.ExpiresAt.AddDate(0, 0, workers).Equal(lic.ExpiresAt),
		"100 one-day extensions must advance expiry by exactly 100 days")
	assert.True(t, svc.Validate(ctx, "dev-001").Valid)
}

func TestUpdateRebindsDevice(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, &dto.CreateLicenseRequest{DeviceID: "dev-001", Days: 30})
	require.NoError(t, err)

	newID := "dev-002"
	updated, err := svc.Update(ctx, "dev-001", &dto.UpdateLicenseRequest{NewDeviceID: &newID})
	require.NoError(t, err)
	assert.Equal(t, "dev-002", updated.DeviceID)
	assert.NotEqual(t, created.LicenseKey, updated.LicenseKey, "rebind must re-derive the key")

	assert.False(t, svc.Validate(ctx, "dev-001").Valid, "old binding is gone")
	assert.True(t, svc.Validate(ctx, "dev-002").Valid, "new binding is live")
}

func TestUpdateRejectsExpiryDecrease(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, &dto.CreateLicenseRequest{DeviceID: "dev-001", Days: 30})
	require.NoError(t, err)

	earlier := created.ExpiresAt.AddDate(0, 0, -5)
	_, err = svc.Update(ctx, "dev-001", &dto.UpdateLicenseRequest{ExpiresAt: &earlier})
	assert.ErrorIs(t, err, ierr.ErrValidation)

	// Unchanged after the rejected update.
	lic, err := svc.Get(ctx, "dev-001")
	require.NoError(t, err)
	assert.True(t, created.ExpiresAt.Equal(lic.ExpiresAt))
}

func TestRevokeThenValidateMatchesNeverExisted(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, &dto.CreateLicenseRequest{DeviceID: "dev-001", Days: 30})
	require.NoError(t, err)
	require.NoError(t, svc.Revoke(ctx, "dev-001"))

	revoked := svc.Validate(ctx, "dev-001")
	fresh := svc.Validate(ctx, "never-existed")
	assert.Equal(t, fresh, revoked, "revoked and never-existed must be indistinguishable")

	assert.ErrorIs(t, svc.Revoke(ctx, "dev-001"), ierr.ErrNotFound)
}

func TestDashboardSummary(t *testing.T) {
	svc, clock, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, &dto.CreateLicenseRequest{DeviceID: "dev-expired", Days: 5})
	require.NoError(t, err)
	_, err = svc.Create(ctx, &dto.CreateLicenseRequest{DeviceID: "dev-soon", Days: 10})
	require.NoError(t, err)
	_, err = svc.Create(ctx, &dto.CreateLicenseRequest{DeviceID: "dev-long", Days: 365})
	require.NoError(t, err)

	clock.Set(t0.AddDate(0, 0, 6))

	summary, err := svc.GetDashboardSummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.TotalLicenses)
	assert.Equal(t, 2, summary.ActiveCount)
	assert.Equal(t, 1, summary.ExpiredCount)
	require.NotNil(t, summary.ExpiringSoon.NextToExpire)
	assert.Equal(t, "dev-soon", summary.ExpiringSoon.NextToExpire.DeviceID)
}

// failingStore returns the configured error from every operation.
type failingStore struct {
	err error
}

var _ license.Store = (*failingStore)(nil)

func (f *failingStore) Get(ctx context.Context, deviceID string) (*license.License, error) {
	return nil, f.err
}

func (f *failingStore) Put(ctx context.Context, lic *license.License) error { return f.err }

func (f *failingStore) Delete(ctx context.Context, deviceID string) error { return f.err }

func (f *failingStore) List(ctx context.Context) ([]*license.License, error) { return nil, f.err }

func (f *failingStore) AtomicUpdate(ctx context.Context, deviceID string, mutate license.Mutator) (*license.License, error) {
	return nil, f.err
}

func (f *failingStore) Ping(ctx context.Context) error { return f.err }

func TestAtomicUpdateRetriesOnConflict(t *testing.T) {
	svc, _, _ := newTestService(t)

	store := &conflictingStore{failures: 2, inner: memstore.New()}
	require.NoError(t, store.inner.Put(context.Background(), &license.License{
		DeviceID:  "dev-001",
		IssuedAt:  t0,
		ExpiresAt: t0.AddDate(0, 0, 30),
	}))
	svc.store = store

	_, err := svc.Extend(context.Background(), "dev-001", 1)
	assert.NoError(t, err, "bounded retry should absorb transient conflicts")

	store.failures = conflictRetries + 1
	_, err = svc.Extend(context.Background(), "dev-001", 1)
	assert.ErrorIs(t, err, ierr.ErrConflict)
}

// conflictingStore fails the first N atomic updates with ErrConflict.
type conflictingStore struct {
	failures int
	inner    *memstore.Store
}

var _ license.Store = (*conflictingStore)(nil)

func (c *conflictingStore) Get(ctx context.Context, deviceID string) (*license.License, error) {
	return c.inner.Get(ctx, deviceID)
}

func (c *conflictingStore) Put(ctx context.Context, lic *license.License) error {
	return c.inner.Put(ctx, lic)
}

func (c *conflictingStore) Delete(ctx context.Context, deviceID string) error {
	return c.inner.Delete(ctx, deviceID)
}

func (c *conflictingStore) List(ctx context.Context) ([]*license.License, error) {
	return c.inner.List(ctx)
}

func (c *conflictingStore) AtomicUpdate(ctx context.Context, deviceID string, mutate license.Mutator) (*license.License, error) {
	if c.failures > 0 {
		c.failures--
		return nil, ierr.ErrConflict
	}
	return c.inner.AtomicUpdate(ctx, deviceID, mutate)
}

func (c *conflictingStore) Ping(ctx context.Context) error { return c.inner.Ping(ctx) }

package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/thovfx/license-server/internal/domain/license"
	"github.com/thovfx/license-server/internal/handler/dto"
	"github.com/thovfx/license-server/internal/ierr"
	"github.com/thovfx/license-server/internal/keycodec"
	"github.com/thovfx/license-server/internal/metrics"
	"go.uber.org/zap"
)

// conflictRetries bounds how many times a lost AtomicUpdate race is retried
// before ErrConflict surfaces to the caller.
const conflictRetries = 3

const expiringSoonPeriodDays = 7

// Validation outcomes. The public API collapses everything except "active"
// into valid:false; the distinction exists for logs and metrics only.
const (
	OutcomeActive             = "active"
	OutcomeNotFound           = "not_found"
	OutcomeTampered           = "tampered"
	OutcomeExpired            = "expired"
	OutcomeBackendUnavailable = "backend_unavailable"
)

type ValidationResult struct {
	Valid     bool
	ExpiresAt time.Time
	Outcome   string
}

type LicenseService struct {
	store   license.Store
	codec   *keycodec.Codec
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

func NewLicenseService(store license.Store, codec *keycodec.Codec, m *metrics.Metrics, logger *zap.Logger) *LicenseService {
	return &LicenseService{
		store:   store,
		codec:   codec,
		metrics: m,
		logger:  logger.Named("LicenseService"),
		now:     time.Now,
	}
}

// Validate is the one public, unauthenticated operation. It never returns an
// error for an unknown, expired or tampered device: any uncertainty collapses
// to Valid=false (fail-closed), with the real outcome recorded internally.
func (s *LicenseService) Validate(ctx context.Context, deviceID string) ValidationResult {
	result := s.validate(ctx, deviceID)

	s.metrics.ValidationTotal.WithLabelValues(result.Outcome).Inc()
	if result.Outcome == OutcomeBackendUnavailable {
		s.logger.Error("Validation failed closed: storage backend unavailable", zap.String("device_id", deviceID))
	} else {
		s.logger.Debug("Validation evaluated",
			zap.String("device_id", deviceID),
			zap.String("outcome", result.Outcome),
		)
	}
	return result
}

func (s *LicenseService) validate(ctx context.Context, deviceID string) ValidationResult {
	lic, err := s.store.Get(ctx, deviceID)
	if err != nil {
		if errors.Is(err, ierr.ErrNotFound) {
			return ValidationResult{Outcome: OutcomeNotFound}
		}
		s.countStoreError("get", err)
		return ValidationResult{Outcome: OutcomeBackendUnavailable}
	}

	// The stored key is a cache, never the source of truth: re-derive and
	// compare so a rotated signing secret invalidates every issued key.
	if !s.codec.Verify(lic.DeviceID, lic.ExpiresAt, lic.LicenseKey) {
		return ValidationResult{Outcome: OutcomeTampered}
	}

	if !s.now().Before(lic.ExpiresAt) {
		return ValidationResult{Outcome: OutcomeExpired, ExpiresAt: lic.ExpiresAt}
	}

	return ValidationResult{Valid: true, ExpiresAt: lic.ExpiresAt, Outcome: OutcomeActive}
}

func (s *LicenseService) Create(ctx context.Context, req *dto.CreateLicenseRequest) (*license.License, error) {
	if req.DeviceID == "" {
		return nil, fmt.Errorf("%w: device_id must not be empty", ierr.ErrValidation)
	}
	if req.Days <= 0 {
		return nil, fmt.Errorf("%w: days must be positive", ierr.ErrValidation)
	}

	if !req.Replace {
		_, err := s.store.Get(ctx, req.DeviceID)
		switch {
		case err == nil:
			return nil, fmt.Errorf("%w: device %q already has a license", ierr.ErrConflict, req.DeviceID)
		case !errors.Is(err, ierr.ErrNotFound):
			return nil, err
		}
	}

	now := s.now().UTC().Truncate(time.Second)
	lic := &license.License{
		DeviceID:     req.DeviceID,
		IssuedAt:     now,
		ExpiresAt:    now.AddDate(0, 0, req.Days),
		CustomerName: req.CustomerName,
		Notes:        req.Notes,
	}
	lic.LicenseKey = s.codec.Derive(lic.DeviceID, lic.ExpiresAt)

	if err := s.store.Put(ctx, lic); err != nil {
		s.countStoreError("put", err)
		s.logger.Error("Failed to persist new license", zap.String("device_id", req.DeviceID), zap.Error(err))
		return nil, err
	}

	s.logger.Info("License created",
		zap.String("device_id", lic.DeviceID),
		zap.Time("expires_at", lic.ExpiresAt),
		zap.Bool("replace", req.Replace),
	)
	return lic, nil
}

// Extend moves the expiry forward by the given number of days, measured from
// the current expiry or from now, whichever is later. The key depends on the
// expiry, so it is re-derived in the same atomic step.
func (s *LicenseService) Extend(ctx context.Context, deviceID string, days int) (*license.License, error) {
	if days <= 0 {
		return nil, fmt.Errorf("%w: days must be positive", ierr.ErrValidation)
	}

	mutate := func(lic *license.License) error {
		base := lic.ExpiresAt
		if now := s.now().UTC().Truncate(time.Second); base.Before(now) {
			base = now
		}
		lic.ExpiresAt = base.AddDate(0, 0, days)
		lic.LicenseKey = s.codec.Derive(lic.DeviceID, lic.ExpiresAt)
		return nil
	}

	lic, err := s.atomicUpdateWithRetry(ctx, deviceID, mutate)
	if err != nil {
		return nil, err
	}

	s.logger.Info("License extended",
		zap.String("device_id", deviceID),
		zap.Int("days", days),
		zap.Time("expires_at", lic.ExpiresAt),
	)
	return lic, nil
}

// Update handles the rare administrative edits: device rebind, explicit
// expiry changes and bookkeeping fields. An expiry decrease is a
// configuration error and is rejected.
func (s *LicenseService) Update(ctx context.Context, deviceID string, req *dto.UpdateLicenseRequest) (*license.License, error) {
	if req.NewDeviceID != nil && *req.NewDeviceID == "" {
		return nil, fmt.Errorf("%w: new_device_id must not be empty", ierr.ErrValidation)
	}

	mutate := func(lic *license.License) error {
		rekey := false

		if req.ExpiresAt != nil {
			next := req.ExpiresAt.UTC().Truncate(time.Second)
			if next.Before(lic.ExpiresAt) {
				return fmt.Errorf("%w: expires_at may only move forward (current %s)",
					ierr.ErrValidation, lic.ExpiresAt.Format(time.RFC3339))
			}
			lic.ExpiresAt = next
			rekey = true
		}
		if req.NewDeviceID != nil && *req.NewDeviceID != lic.DeviceID {
			lic.DeviceID = *req.NewDeviceID
			rekey = true
		}
		if req.CustomerName != nil {
			lic.CustomerName = *req.CustomerName
		}
		if req.Notes != nil {
			lic.Notes = *req.Notes
		}

		if rekey {
			lic.LicenseKey = s.codec.Derive(lic.DeviceID, lic.ExpiresAt)
		}
		return nil
	}

	lic, err := s.atomicUpdateWithRetry(ctx, deviceID, mutate)
	if err != nil {
		return nil, err
	}

	s.logger.Info("License updated", zap.String("device_id", deviceID), zap.String("current_device_id", lic.DeviceID))
	return lic, nil
}

func (s *LicenseService) Revoke(ctx context.Context, deviceID string) error {
	if err := s.store.Delete(ctx, deviceID); err != nil {
		s.countStoreError("delete", err)
		return err
	}
	s.logger.Info("License revoked", zap.String("device_id", deviceID))
	return nil
}

func (s *LicenseService) Get(ctx context.Context, deviceID string) (*license.License, error) {
	return s.store.Get(ctx, deviceID)
}

func (s *LicenseService) List(ctx context.Context) ([]*license.License, error) {
	licenses, err := s.store.List(ctx)
	if err != nil {
		s.countStoreError("list", err)
		return nil, err
	}
	return licenses, nil
}

func (s *LicenseService) Now() time.Time {
	return s.now()
}

func (s *LicenseService) GetDashboardSummary(ctx context.Context) (*dto.DashboardSummaryResponse, error) {
	licenses, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	summary := &dto.DashboardSummaryResponse{
		TotalLicenses: len(licenses),
		ExpiringSoon: dto.ExpiringSoonSummary{
			PeriodDays: expiringSoonPeriodDays,
		},
	}

	soonCutoff := now.AddDate(0, 0, expiringSoonPeriodDays)
	var expiring []*license.License
	for _, lic := range licenses {
		if lic.StatusAt(now) == license.StatusActive {
			summary.ActiveCount++
			if lic.ExpiresAt.Before(soonCutoff) {
				expiring = append(expiring, lic)
			}
		} else {
			summary.ExpiredCount++
		}
	}

	summary.ExpiringSoon.Count = len(expiring)
	if len(expiring) > 0 {
		sort.Slice(expiring, func(i, j int) bool { return expiring[i].ExpiresAt.Before(expiring[j].ExpiresAt) })
		summary.ExpiringSoon.NextToExpire = &dto.ExpiringLicenseInfo{
			DeviceID:  expiring[0].DeviceID,
			ExpiresAt: expiring[0].ExpiresAt,
		}
	}

	return summary, nil
}

// countStoreError records backend failures only; not-found and lost races are
// ordinary outcomes, not store trouble.
func (s *LicenseService) countStoreError(op string, err error) {
	if errors.Is(err, ierr.ErrNotFound) || errors.Is(err, ierr.ErrConflict) {
		return
	}
	s.metrics.StoreErrors.WithLabelValues(op).Inc()
}

func (s *LicenseService) atomicUpdateWithRetry(ctx context.Context, deviceID string, mutate license.Mutator) (*license.License, error) {
	var lastErr error
	for attempt := 0; attempt < conflictRetries; attempt++ {
		lic, err := s.store.AtomicUpdate(ctx, deviceID, mutate)
		if err == nil {
			return lic, nil
		}
		if !errors.Is(err, ierr.ErrConflict) {
			s.countStoreError("atomic_update", err)
			return nil, err
		}
		lastErr = err
		s.logger.Warn("Atomic update lost a race, retrying",
			zap.String("device_id", deviceID),
			zap.Int("attempt", attempt+1),
		)
	}
	return nil, lastErr
}

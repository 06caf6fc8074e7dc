package service

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thovfx/license-server/internal/config"
	"github.com/thovfx/license-server/internal/ierr"
	"github.com/thovfx/license-server/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

func newTestAuthService(t *testing.T) (*AuthService, *testClock) {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte("correct horse"), bcrypt.MinCost)
	require.NoError(t, err)

	clock := &testClock{now: t0}
	svc := NewAuthService(&config.AuthConfig{
		AdminUsername:     "admin",
		AdminPasswordHash: string(hash),
		SessionSecret:     "session-secret",
		TokenTTL:          time.Hour,
	}, metrics.New(prometheus.NewRegistry()), zap.NewNop())
	svc.now = clock.Now
	return svc, clock
}

func TestLoginIssuesValidToken(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()

	token, err := svc.Login(ctx, "admin", "correct horse")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := svc.ValidateToken(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "admin", claims.Username)
	assert.NotEmpty(t, claims.ID)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()

	_, err := svc.Login(ctx, "admin", "wrong password")
	assert.ErrorIs(t, err, ierr.ErrInvalidCredentials)

	_, err = svc.Login(ctx, "not-admin", "correct horse")
	assert.ErrorIs(t, err, ierr.ErrInvalidCredentials)

	_, err = svc.Login(ctx, "", "")
	assert.ErrorIs(t, err, ierr.ErrInvalidCredentials)
}

func TestValidateTokenRejectsGarbage(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()

	_, err := svc.ValidateToken(ctx, "not-a-jwt")
	assert.ErrorIs(t, err, ierr.ErrInvalidToken)

	_, err = svc.ValidateToken(ctx, "")
	assert.ErrorIs(t, err, ierr.ErrInvalidToken)
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	svc, _ := newTestAuthService(t)
	other, _ := newTestAuthService(t)
	other.cfg.SessionSecret = "different-secret"

	token, err := svc.Login(context.Background(), "admin", "correct horse")
	require.NoError(t, err)

	_, err = other.ValidateToken(context.Background(), token)
	assert.ErrorIs(t, err, ierr.ErrInvalidToken)
}

func TestValidateTokenRejectsExpiredSession(t *testing.T) {
	svc, clock := newTestAuthService(t)
	ctx := context.Background()

	token, err := svc.Login(ctx, "admin", "correct horse")
	require.NoError(t, err)

	clock.Set(t0.Add(2 * time.Hour))

	_, err = svc.ValidateToken(ctx, token)
	assert.ErrorIs(t, err, ierr.ErrInvalidToken)
}

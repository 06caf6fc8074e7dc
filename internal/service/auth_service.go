package service

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/thovfx/license-server/internal/config"
	"github.com/thovfx/license-server/internal/ierr"
	"github.com/thovfx/license-server/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// dummyHash is compared against when the username is unknown, so rejected
// logins cost the same regardless of which field was wrong.
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

type SessionClaims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// AuthService issues and validates admin session tokens. There is a single
// admin identity configured at startup; the password is stored as a bcrypt
// hash and the session is a signed HS256 JWT with a bounded lifetime.
type AuthService struct {
	cfg     *config.AuthConfig
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

func NewAuthService(cfg *config.AuthConfig, m *metrics.Metrics, logger *zap.Logger) *AuthService {
	return &AuthService{
		cfg:     cfg,
		metrics: m,
		logger:  logger.Named("AuthService"),
		now:     time.Now,
	}
}

func (s *AuthService) Login(ctx context.Context, username, password string) (string, error) {
	// Run the comparison even for a wrong username so both failure paths cost
	// the same.
	hash := s.cfg.AdminPasswordHash
	if username != s.cfg.AdminUsername {
		hash = dummyHash
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil || username != s.cfg.AdminUsername {
		s.metrics.LoginFailures.Inc()
		s.logger.Info("Rejected login attempt", zap.String("username", username))
		return "", ierr.ErrInvalidCredentials
	}

	now := s.now()
	claims := SessionClaims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.TokenTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.SessionSecret))
	if err != nil {
		s.logger.Error("Failed to sign session token", zap.Error(err))
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}

	s.logger.Info("Admin session issued", zap.String("username", username), zap.String("jti", claims.ID))
	return signed, nil
}

func (s *AuthService) ValidateToken(ctx context.Context, rawToken string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	token, err := jwt.ParseWithClaims(rawToken, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(s.cfg.SessionSecret), nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		s.logger.Debug("Session token validation failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ierr.ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ierr.ErrInvalidToken
	}

	return claims, nil
}

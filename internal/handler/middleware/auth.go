package middleware

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/thovfx/license-server/internal/ierr"
	"github.com/thovfx/license-server/internal/service"
	"go.uber.org/zap"
)

const (
	sessionClaimsContextKey = "sessionClaims"
	authorizationHeader     = "Authorization"
	bearerPrefix            = "Bearer "
)

// AuthMiddleware gates every mutating route behind a valid admin session
// token. The public validate endpoint never passes through here.
func AuthMiddleware(authService *service.AuthService, logger *zap.Logger) gin.HandlerFunc {
	log := logger.Named("AuthMiddleware")
	return func(c *gin.Context) {
		authHeader := c.GetHeader(authorizationHeader)
		if authHeader == "" {
			log.Debug("Authorization header is missing")
			_ = c.Error(fmt.Errorf("%w: authorization header required", ierr.ErrUnauthorized))
			c.Abort()
			return
		}

		if !strings.HasPrefix(authHeader, bearerPrefix) {
			log.Debug("Authorization header format is invalid")
			_ = c.Error(fmt.Errorf("%w: invalid authorization header format", ierr.ErrUnauthorized))
			c.Abort()
			return
		}

		tokenString := strings.TrimPrefix(authHeader, bearerPrefix)
		if tokenString == "" {
			log.Debug("Token is missing after Bearer prefix")
			_ = c.Error(fmt.Errorf("%w: token missing", ierr.ErrUnauthorized))
			c.Abort()
			return
		}

		claims, err := authService.ValidateToken(c.Request.Context(), tokenString)
		if err != nil {
			log.Warn("Session token validation failed", zap.Error(err))
			_ = c.Error(err)
			c.Abort()
			return
		}

		c.Set(sessionClaimsContextKey, claims)
		c.Next()
	}
}

func GetSessionClaims(c *gin.Context) *service.SessionClaims {
	value, exists := c.Get(sessionClaimsContextKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*service.SessionClaims)
	if !ok {
		return nil
	}
	return claims
}

package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/thovfx/license-server/internal/handler/dto"
	"github.com/thovfx/license-server/internal/handler/middleware"
	"github.com/thovfx/license-server/internal/ierr"
	"github.com/thovfx/license-server/internal/service"
	"go.uber.org/zap"
)

type AuthHandler struct {
	service *service.AuthService
	logger  *zap.Logger
}

func NewAuthHandler(service *service.AuthService, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		service: service,
		logger:  logger.Named("AuthHandler"),
	}
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req dto.LoginRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Failed to bind or validate login request", zap.Error(err))
		_ = c.Error(err)
		return
	}

	token, err := h.service.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, dto.LoginResponse{AccessToken: token})
}

// CheckAuth reports whether the presented session token is still valid. The
// auth middleware has already rejected the request otherwise, so reaching the
// handler means the session holds.
func (h *AuthHandler) CheckAuth(c *gin.Context) {
	claims := middleware.GetSessionClaims(c)
	if claims == nil {
		_ = c.Error(ierr.ErrUnauthorized)
		return
	}

	c.JSON(http.StatusOK, dto.CheckAuthResponse{
		Authenticated: true,
		Username:      claims.Username,
		ExpiresAt:     claims.ExpiresAt.Time,
	})
}

package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/thovfx/license-server/internal/domain/license"
	"go.uber.org/zap"
)

type HealthHandler struct {
	store   license.Store
	backend string
	logger  *zap.Logger
}

func NewHealthHandler(store license.Store, backend string, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		store:   store,
		backend: backend,
		logger:  logger,
	}
}

func (h *HealthHandler) Check(c *gin.Context) {
	storeStatus := "ok"
	if err := h.store.Ping(c.Request.Context()); err != nil {
		storeStatus = "error"
		h.logger.Error("Health check: store ping failed", zap.String("backend", h.backend), zap.Error(err))
	}

	status := http.StatusOK
	overall := "ok"
	if storeStatus == "error" {
		status = http.StatusServiceUnavailable
		overall = "unhealthy"
	}

	c.JSON(status, gin.H{
		"status": overall,
		"dependencies": gin.H{
			"store": gin.H{
				"backend": h.backend,
				"status":  storeStatus,
			},
		},
	})
}

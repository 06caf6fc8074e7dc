package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/thovfx/license-server/internal/service"
	"go.uber.org/zap"
)

type DashboardHandler struct {
	service *service.LicenseService
	logger  *zap.Logger
}

func NewDashboardHandler(service *service.LicenseService, logger *zap.Logger) *DashboardHandler {
	return &DashboardHandler{
		service: service,
		logger:  logger.Named("DashboardHandler"),
	}
}

func (h *DashboardHandler) GetSummary(c *gin.Context) {
	summary, err := h.service.GetDashboardSummary(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, summary)
}

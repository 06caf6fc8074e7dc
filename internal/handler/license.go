package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/thovfx/license-server/internal/handler/dto"
	"github.com/thovfx/license-server/internal/ierr"
	"github.com/thovfx/license-server/internal/service"
	"go.uber.org/zap"
)

type LicenseHandler struct {
	service *service.LicenseService
	logger  *zap.Logger
}

func NewLicenseHandler(service *service.LicenseService, logger *zap.Logger) *LicenseHandler {
	return &LicenseHandler{
		service: service,
		logger:  logger.Named("LicenseHandler"),
	}
}

// Validate is the sole public endpoint. Absence, expiry, tampering and
// backend failure are all normalized to {"valid": false}: the response never
// leaks whether or why a device is known. Only a missing device_id parameter
// is a client error.
func (h *LicenseHandler) Validate(c *gin.Context) {
	deviceID := c.Query("device_id")
	if deviceID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "device_id query parameter is required"})
		return
	}

	result := h.service.Validate(c.Request.Context(), deviceID)
	if !result.Valid {
		c.JSON(http.StatusOK, dto.ValidateResponse{Valid: false})
		return
	}

	c.JSON(http.StatusOK, dto.ValidateResponse{Valid: true, ExpiresAt: &result.ExpiresAt})
}

func (h *LicenseHandler) Create(c *gin.Context) {
	h.logger.Debug("Received request to create license")
	var req dto.CreateLicenseRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Failed to bind or validate request body", zap.Error(err))
		_ = c.Error(err)
		return
	}

	lic, err := h.service.Create(c.Request.Context(), &req)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, dto.NewLicenseResponse(lic, h.service.Now()))
}

func (h *LicenseHandler) List(c *gin.Context) {
	h.logger.Debug("Received request to list licenses")

	licenses, err := h.service.List(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}

	now := h.service.Now()
	responses := make([]*dto.LicenseResponse, len(licenses))
	for i, lic := range licenses {
		responses[i] = dto.NewRedactedLicenseResponse(lic, now)
	}

	c.JSON(http.StatusOK, dto.ListLicensesResponse{Licenses: responses, Count: len(responses)})
}

func (h *LicenseHandler) GetByDeviceID(c *gin.Context) {
	deviceID := c.Param("device_id")

	lic, err := h.service.Get(c.Request.Context(), deviceID)
	if err != nil {
		if errors.Is(err, ierr.ErrNotFound) {
			h.logger.Info("License not found", zap.String("device_id", deviceID))
		}
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, dto.NewLicenseResponse(lic, h.service.Now()))
}

func (h *LicenseHandler) Update(c *gin.Context) {
	deviceID := c.Param("device_id")
	h.logger.Debug("Received request to update license", zap.String("device_id", deviceID))

	var req dto.UpdateLicenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Failed to bind or validate update request body", zap.String("device_id", deviceID), zap.Error(err))
		_ = c.Error(err)
		return
	}

	lic, err := h.service.Update(c.Request.Context(), deviceID, &req)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, dto.NewLicenseResponse(lic, h.service.Now()))
}

func (h *LicenseHandler) Extend(c *gin.Context) {
	deviceID := c.Param("device_id")
	h.logger.Debug("Received request to extend license", zap.String("device_id", deviceID))

	var req dto.ExtendLicenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Failed to bind or validate extend request body", zap.String("device_id", deviceID), zap.Error(err))
		_ = c.Error(err)
		return
	}

	lic, err := h.service.Extend(c.Request.Context(), deviceID, req.Days)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, dto.NewLicenseResponse(lic, h.service.Now()))
}

func (h *LicenseHandler) Revoke(c *gin.Context) {
	deviceID := c.Param("device_id")
	h.logger.Debug("Received request to revoke license", zap.String("device_id", deviceID))

	if err := h.service.Revoke(c.Request.Context(), deviceID); err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "License revoked"})
}

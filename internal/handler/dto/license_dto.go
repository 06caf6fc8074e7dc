package dto

import (
	"strings"
	"time"

	"github.com/thovfx/license-server/internal/domain/license"
)

type CreateLicenseRequest struct {
	DeviceID     string `json:"device_id" binding:"required"`
	Days         int    `json:"days" binding:"required,gt=0"`
	Replace      bool   `json:"replace,omitempty"`
	CustomerName string `json:"customer_name,omitempty"`
	Notes        string `json:"notes,omitempty"`
}

type UpdateLicenseRequest struct {
	NewDeviceID  *string    `json:"new_device_id,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	CustomerName *string    `json:"customer_name,omitempty"`
	Notes        *string    `json:"notes,omitempty"`
}

type ExtendLicenseRequest struct {
	Days int `json:"days" binding:"required,gt=0"`
}

type LicenseResponse struct {
	DeviceID     string                `json:"device_id"`
	LicenseKey   string                `json:"license_key"`
	Status       license.LicenseStatus `json:"status"`
	IssuedAt     time.Time             `json:"issued_at"`
	ExpiresAt    time.Time             `json:"expires_at"`
	CustomerName string                `json:"customer_name,omitempty"`
	Notes        string                `json:"notes,omitempty"`
}

func NewLicenseResponse(lic *license.License, now time.Time) *LicenseResponse {
	return &LicenseResponse{
		DeviceID:     lic.DeviceID,
		LicenseKey:   lic.LicenseKey,
		Status:       lic.StatusAt(now),
		IssuedAt:     lic.IssuedAt,
		ExpiresAt:    lic.ExpiresAt,
		CustomerName: lic.CustomerName,
		Notes:        lic.Notes,
	}
}

// NewRedactedLicenseResponse truncates the key for listings: only the first
// group survives, the rest is masked.
func NewRedactedLicenseResponse(lic *license.License, now time.Time) *LicenseResponse {
	resp := NewLicenseResponse(lic, now)
	if i := strings.IndexByte(resp.LicenseKey, '-'); i > 0 {
		resp.LicenseKey = resp.LicenseKey[:i] + "-****"
	}
	return resp
}

type ListLicensesResponse struct {
	Licenses []*LicenseResponse `json:"licenses"`
	Count    int                `json:"count"`
}

type ValidateResponse struct {
	Valid     bool       `json:"valid"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

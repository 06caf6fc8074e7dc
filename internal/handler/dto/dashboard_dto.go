package dto

import "time"

type DashboardSummaryResponse struct {
	TotalLicenses int                  `json:"totalLicenses"`
	ActiveCount   int                  `json:"activeCount"`
	ExpiredCount  int                  `json:"expiredCount"`
	ExpiringSoon  ExpiringSoonSummary  `json:"expiringSoon"`
}

type ExpiringSoonSummary struct {
	Count        int                  `json:"count"`
	PeriodDays   int                  `json:"periodDays"`
	NextToExpire *ExpiringLicenseInfo `json:"nextToExpire,omitempty"`
}

type ExpiringLicenseInfo struct {
	DeviceID  string    `json:"deviceId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

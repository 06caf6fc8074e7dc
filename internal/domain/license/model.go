package license

import "time"

type LicenseStatus string

const (
	StatusActive  LicenseStatus = "active"
	StatusExpired LicenseStatus = "expired"
)

// License binds a derived key to a single device identifier. There is exactly
// one record per DeviceID in a store. LicenseKey is a cache of a recomputable
// value: validation always re-derives it from (DeviceID, ExpiresAt) and the
// signing secret, so rotating the secret invalidates every issued key.
type License struct {
	DeviceID     string    `json:"device_id"`
	LicenseKey   string    `json:"license_key"`
	IssuedAt     time.Time `json:"issued_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	CustomerName string    `json:"customer_name,omitempty"`
	Notes        string    `json:"notes,omitempty"`
}

// StatusAt derives the license status at the given instant. Status is never
// stored; expiry is evaluated lazily at read time.
func (l *License) StatusAt(now time.Time) LicenseStatus {
	if now.Before(l.ExpiresAt) {
		return StatusActive
	}
	return StatusExpired
}

func (l *License) Clone() *License {
	cp := *l
	return &cp
}

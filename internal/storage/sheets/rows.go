package sheets

import (
	"fmt"
	"time"

	"github.com/thovfx/license-server/internal/domain/license"
)

// headerRow is the schema contract for the worksheet. Consumers rely on these
// names, not on column positions beyond what the header declares.
var headerRow = []string{"device_id", "license_key", "issued_at", "expires_at", "customer_name", "notes"}

const timeLayout = time.RFC3339

func encodeRow(lic *license.License) []any {
	return []any{
		lic.DeviceID,
		lic.LicenseKey,
		lic.IssuedAt.UTC().Format(timeLayout),
		lic.ExpiresAt.UTC().Format(timeLayout),
		lic.CustomerName,
		lic.Notes,
	}
}

func decodeRow(row []any) (*license.License, error) {
	cell := func(i int) string {
		if i >= len(row) {
			return ""
		}
		s, _ := row[i].(string)
		return s
	}

	deviceID := cell(0)
	if deviceID == "" {
		return nil, fmt.Errorf("row has empty device_id")
	}

	issuedAt, err := time.Parse(timeLayout, cell(2))
	if err != nil {
		return nil, fmt.Errorf("row for device %q has bad issued_at: %w", deviceID, err)
	}
	expiresAt, err := time.Parse(timeLayout, cell(3))
	if err != nil {
		return nil, fmt.Errorf("row for device %q has bad expires_at: %w", deviceID, err)
	}

	return &license.License{
		DeviceID:     deviceID,
		LicenseKey:   cell(1),
		IssuedAt:     issuedAt,
		ExpiresAt:    expiresAt,
		CustomerName: cell(4),
		Notes:        cell(5),
	}, nil
}

func headerMatches(row []any) bool {
	if len(row) < len(headerRow) {
		return false
	}
	for i, want := range headerRow {
		got, _ := row[i].(string)
		if got != want {
			return false
		}
	}
	return true
}

func headerValues() []any {
	out := make([]any, len(headerRow))
	for i, name := range headerRow {
		out[i] = name
	}
	return out
}

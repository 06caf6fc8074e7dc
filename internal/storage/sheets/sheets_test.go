package sheets

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thovfx/license-server/internal/domain/license"
	"google.golang.org/api/googleapi"
)

func TestRowCodecRoundTrip(t *testing.T) {
	lic := &license.License{
		DeviceID:     "dev-001",
		LicenseKey:   "AAAA-BBBB-CCCC-DDDD-EEEE",
		IssuedAt:     time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC),
		ExpiresAt:    time.Date(2026, 4, 1, 12, 30, 0, 0, time.UTC),
		CustomerName: "Acme",
		Notes:        "pilot",
	}

	decoded, err := decodeRow(encodeRow(lic))
	require.NoError(t, err)
	assert.Equal(t, lic, decoded)
}

func TestDecodeRowToleratesMissingTrailingCells(t *testing.T) {
	row := []any{
		"dev-001",
		"AAAA-BBBB-CCCC-DDDD-EEEE",
		"2026-03-01T12:30:00Z",
		"2026-04-01T12:30:00Z",
	}

	lic, err := decodeRow(row)
	require.NoError(t, err)
	assert.Empty(t, lic.CustomerName)
	assert.Empty(t, lic.Notes)
}

func TestDecodeRowRejectsBadRows(t *testing.T) {
	cases := []struct {
		name string
		row  []any
	}{
		{"empty row", []any{}},
		{"blank device id", []any{"", "key", "2026-03-01T12:30:00Z", "2026-04-01T12:30:00Z"}},
		{"bad issued_at", []any{"dev-001", "key", "yesterday", "2026-04-01T12:30:00Z"}},
		{"bad expires_at", []any{"dev-001", "key", "2026-03-01T12:30:00Z", "03/04/2026"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := decodeRow(tc.row)
			assert.Error(t, err)
		})
	}
}

func TestRowTimestampsAreUTC(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Ho_Chi_Minh")
	require.NoError(t, err)

	lic := &license.License{
		DeviceID:  "dev-001",
		IssuedAt:  time.Date(2026, 3, 1, 19, 30, 0, 0, loc),
		ExpiresAt: time.Date(2026, 4, 1, 19, 30, 0, 0, loc),
	}

	row := encodeRow(lic)
	assert.Equal(t, "2026-03-01T12:30:00Z", row[2])
	assert.Equal(t, "2026-04-01T12:30:00Z", row[3])
}

func TestHeaderContract(t *testing.T) {
	assert.True(t, headerMatches(headerValues()))

	extra := append(headerValues(), "extra_column")
	assert.True(t, headerMatches(extra), "extra columns after the contract are tolerated")

	reordered := []any{"license_key", "device_id", "issued_at", "expires_at", "customer_name", "notes"}
	assert.False(t, headerMatches(reordered))

	assert.False(t, headerMatches([]any{"device_id"}))
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"server error", &googleapi.Error{Code: 500}, true},
		{"bad gateway", &googleapi.Error{Code: 502}, true},
		{"rate limited", &googleapi.Error{Code: 429}, true},
		{"unauthorized", &googleapi.Error{Code: 401}, false},
		{"forbidden", &googleapi.Error{Code: 403}, false},
		{"not found", &googleapi.Error{Code: 404}, false},
		{"wrapped server error", wrapRetryErr(&googleapi.Error{Code: 503}), true},
		{"canceled", context.Canceled, false},
		{"transport error", errors.New("connection reset by peer"), true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, isRetryable(tc.err))
		})
	}
}

func wrapRetryErr(err error) error {
	return errors.Join(errors.New("call failed"), err)
}

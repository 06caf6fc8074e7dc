package sheets

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/thovfx/license-server/internal/config"
	"github.com/thovfx/license-server/internal/domain/license"
	"github.com/thovfx/license-server/internal/ierr"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	sheetsapi "google.golang.org/api/sheets/v4"
)

const retryBaseDelay = 200 * time.Millisecond

// Store keeps one license per worksheet row. Lookup is a full scan on every
// read: there is no cached index, so validation never sees a stale row at the
// cost of one Values.Get per call. The Sheets values API has no conditional
// write, so all mutations are serialized through an in-process mutex and the
// row index is re-read inside the critical section; concurrent AtomicUpdate
// calls therefore never lose updates.
type Store struct {
	svc           *sheetsapi.Service
	spreadsheetID string
	sheetName     string
	sheetID       int64
	timeout       time.Duration
	maxRetries    int

	mu     sync.Mutex
	logger *zap.Logger
}

var _ license.Store = (*Store)(nil)

func NewStore(ctx context.Context, cfg *config.SheetsStoreConfig, logger *zap.Logger) (*Store, error) {
	log := logger.Named("SheetStore")

	var creds []byte
	switch {
	case cfg.CredentialsJSON != "":
		creds = []byte(cfg.CredentialsJSON)
	case cfg.CredentialsFile != "":
		data, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read sheets credentials file: %w", err)
		}
		creds = data
	default:
		return nil, fmt.Errorf("sheets credentials are required")
	}

	svc, err := sheetsapi.NewService(ctx, option.WithCredentialsJSON(creds), option.WithScopes(sheetsapi.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}

	s := &Store{
		svc:           svc,
		spreadsheetID: cfg.SpreadsheetID,
		sheetName:     cfg.SheetName,
		timeout:       cfg.RequestTimeout,
		maxRetries:    cfg.MaxRetries,
		logger:        log,
	}

	if err := s.init(ctx); err != nil {
		return nil, err
	}

	log.Info("Sheet store ready",
		zap.String("spreadsheet_id", cfg.SpreadsheetID),
		zap.String("sheet", cfg.SheetName),
	)
	return s, nil
}

// init resolves the numeric sheet id (needed for row deletion) and enforces
// the header contract, writing the header if the sheet is empty.
func (s *Store) init(ctx context.Context) error {
	var meta *sheetsapi.Spreadsheet
	err := s.withRetry(ctx, "spreadsheet_get", func(callCtx context.Context) error {
		var err error
		meta, err = s.svc.Spreadsheets.Get(s.spreadsheetID).Context(callCtx).Do()
		return err
	})
	if err != nil {
		return err
	}

	found := false
	for _, sheet := range meta.Sheets {
		if sheet.Properties != nil && sheet.Properties.Title == s.sheetName {
			s.sheetID = sheet.Properties.SheetId
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("worksheet %q not found in spreadsheet %s", s.sheetName, s.spreadsheetID)
	}

	var resp *sheetsapi.ValueRange
	err = s.withRetry(ctx, "header_get", func(callCtx context.Context) error {
		var err error
		resp, err = s.svc.Spreadsheets.Values.Get(s.spreadsheetID, s.rowRange(1)).Context(callCtx).Do()
		return err
	})
	if err != nil {
		return err
	}

	if len(resp.Values) == 0 {
		s.logger.Info("Worksheet is empty, writing header row")
		return s.withRetry(ctx, "header_write", func(callCtx context.Context) error {
			_, err := s.svc.Spreadsheets.Values.Update(
				s.spreadsheetID,
				s.rowRange(1),
				&sheetsapi.ValueRange{Values: [][]any{headerValues()}},
			).ValueInputOption("RAW").Context(callCtx).Do()
			return err
		})
	}

	if !headerMatches(resp.Values[0]) {
		return fmt.Errorf("worksheet %q header does not match the expected schema %v", s.sheetName, headerRow)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, deviceID string) (*license.License, error) {
	records, err := s.readAll(ctx)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		if rec.lic.DeviceID == deviceID {
			return rec.lic, nil
		}
	}
	return nil, ierr.ErrNotFound
}

func (s *Store) Put(ctx context.Context, lic *license.License) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.readAll(ctx)
	if err != nil {
		return err
	}

	for _, rec := range records {
		if rec.lic.DeviceID == lic.DeviceID {
			return s.updateRow(ctx, rec.rowNum, lic)
		}
	}
	return s.appendRow(ctx, lic)
}

func (s *Store) Delete(ctx context.Context, deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.readAll(ctx)
	if err != nil {
		return err
	}

	for _, rec := range records {
		if rec.lic.DeviceID == deviceID {
			return s.deleteRow(ctx, rec.rowNum)
		}
	}
	return ierr.ErrNotFound
}

func (s *Store) List(ctx context.Context) ([]*license.License, error) {
	records, err := s.readAll(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]*license.License, len(records))
	for i, rec := range records {
		out[i] = rec.lic
	}
	return out, nil
}

func (s *Store) AtomicUpdate(ctx context.Context, deviceID string, mutate license.Mutator) (*license.License, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.readAll(ctx)
	if err != nil {
		return nil, err
	}

	var target *record
	for _, rec := range records {
		if rec.lic.DeviceID == deviceID {
			target = rec
			break
		}
	}
	if target == nil {
		return nil, ierr.ErrNotFound
	}

	updated := target.lic.Clone()
	if err := mutate(updated); err != nil {
		return nil, err
	}

	if updated.DeviceID != deviceID {
		for _, rec := range records {
			if rec.rowNum != target.rowNum && rec.lic.DeviceID == updated.DeviceID {
				return nil, ierr.ErrConflict
			}
		}
	}

	if err := s.updateRow(ctx, target.rowNum, updated); err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.withRetry(ctx, "ping", func(callCtx context.Context) error {
		_, err := s.svc.Spreadsheets.Values.Get(s.spreadsheetID, s.rowRange(1)).Context(callCtx).Do()
		return err
	})
}

type record struct {
	rowNum int // 1-based sheet row number
	lic    *license.License
}

func (s *Store) readAll(ctx context.Context) ([]*record, error) {
	var resp *sheetsapi.ValueRange
	err := s.withRetry(ctx, "values_get", func(callCtx context.Context) error {
		var err error
		resp, err = s.svc.Spreadsheets.Values.Get(s.spreadsheetID, s.sheetName).Context(callCtx).Do()
		return err
	})
	if err != nil {
		return nil, err
	}

	records := make([]*record, 0, len(resp.Values))
	for i, row := range resp.Values {
		if i == 0 {
			continue // header
		}
		lic, err := decodeRow(row)
		if err != nil {
			// A malformed row is an operator problem, not a reason to fail
			// every lookup in the sheet.
			s.logger.Warn("Skipping undecodable sheet row", zap.Int("row", i+1), zap.Error(err))
			continue
		}
		records = append(records, &record{rowNum: i + 1, lic: lic})
	}
	return records, nil
}

func (s *Store) updateRow(ctx context.Context, rowNum int, lic *license.License) error {
	return s.withRetry(ctx, "values_update", func(callCtx context.Context) error {
		_, err := s.svc.Spreadsheets.Values.Update(
			s.spreadsheetID,
			s.rowRange(rowNum),
			&sheetsapi.ValueRange{Values: [][]any{encodeRow(lic)}},
		).ValueInputOption("RAW").Context(callCtx).Do()
		return err
	})
}

func (s *Store) appendRow(ctx context.Context, lic *license.License) error {
	return s.withRetry(ctx, "values_append", func(callCtx context.Context) error {
		_, err := s.svc.Spreadsheets.Values.Append(
			s.spreadsheetID,
			s.sheetName,
			&sheetsapi.ValueRange{Values: [][]any{encodeRow(lic)}},
		).ValueInputOption("RAW").InsertDataOption("INSERT_ROWS").Context(callCtx).Do()
		return err
	})
}

func (s *Store) deleteRow(ctx context.Context, rowNum int) error {
	return s.withRetry(ctx, "delete_row", func(callCtx context.Context) error {
		_, err := s.svc.Spreadsheets.BatchUpdate(s.spreadsheetID, &sheetsapi.BatchUpdateSpreadsheetRequest{
			Requests: []*sheetsapi.Request{{
				DeleteDimension: &sheetsapi.DeleteDimensionRequest{
					Range: &sheetsapi.DimensionRange{
						SheetId:    s.sheetID,
						Dimension:  "ROWS",
						StartIndex: int64(rowNum - 1),
						EndIndex:   int64(rowNum),
					},
				},
			}},
		}).Context(callCtx).Do()
		return err
	})
}

func (s *Store) rowRange(rowNum int) string {
	return fmt.Sprintf("%s!A%d:F%d", s.sheetName, rowNum, rowNum)
}

// withRetry runs one API call with a bounded timeout, retrying transient
// failures (5xx, 429, transport errors) with exponential backoff and jitter.
// Auth and other 4xx responses are never retried.
func (s *Store) withRetry(ctx context.Context, op string, call func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			delay := retryBaseDelay << (attempt - 1)
			delay += time.Duration(rand.Int63n(int64(retryBaseDelay)))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return fmt.Errorf("%w: %s: %v", ierr.ErrBackendUnavailable, op, ctx.Err())
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, s.timeout)
		err := call(callCtx)
		cancel()

		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryable(err) {
			s.logger.Error("Sheets API call failed",
				zap.String("op", op),
				zap.Error(err),
			)
			return fmt.Errorf("%w: %s: %v", ierr.ErrBackendUnavailable, op, err)
		}

		s.logger.Warn("Sheets API call failed, will retry",
			zap.String("op", op),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}

	return fmt.Errorf("%w: %s failed after %d attempts: %v", ierr.ErrBackendUnavailable, op, s.maxRetries+1, lastErr)
}

func isRetryable(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code >= 500 || apiErr.Code == 429
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	// Timeouts and transport-level failures are worth another attempt.
	return true
}

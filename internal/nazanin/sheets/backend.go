// Package sheets provides the spreadsheet-backed state store: a declarative
// schema, a pluggable tabular backend, a schema-driven bootstrap, and a
// time-bounded read cache.
//
// The backend abstraction mirrors a spreadsheet service: workbooks opened by
// id, sheets created by name, rows appended, cells updated with 1-based
// indices. Three implementations exist: Google Sheets (production), SQLite
// (offline/dev), and an in-memory fake (tests).
package sheets

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a workbook or sheet does not exist.
	ErrNotFound = errors.New("sheets: not found")

	// ErrMissingWorkbook is returned by Bootstrap for each declared workbook
	// that has no backend id configured. The caller decides whether to abort
	// or continue degraded.
	ErrMissingWorkbook = errors.New("sheets: workbook has no configured id")

	// errTransient marks backend errors that are worth retrying (rate-limit
	// responses, connection resets). Use Transient to wrap and IsTransient
	// to test.
	errTransient = errors.New("sheets: transient backend error")
)

// Transient wraps err so IsTransient reports true for it.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", errTransient, err)
}

// IsTransient reports whether err is a retryable transport error.
func IsTransient(err error) bool {
	return errors.Is(err, errTransient)
}

// Backend opens workbooks by their backend-specific id.
type Backend interface {
	// OpenWorkbook opens the workbook with the given backend id. Returns
	// ErrNotFound (possibly wrapped) when no such workbook exists.
	OpenWorkbook(ctx context.Context, id string) (Workbook, error)
}

// Workbook is one open workbook. Row and column indices are 1-based
// throughout, matching the spreadsheet convention.
type Workbook interface {
	// ListSheets returns the names of all sheets in the workbook.
	ListSheets(ctx context.Context) ([]string, error)

	// CreateSheet adds a sheet with the given grid size. Creating a sheet
	// that already exists is an error.
	CreateSheet(ctx context.Context, name string, rows, cols int) error

	// ReadAll returns every row of the sheet, header row included.
	ReadAll(ctx context.Context, sheet string) ([][]string, error)

	// ReadRow returns row n (1-based). A row past the end of the data is
	// returned as an empty slice, not an error.
	ReadRow(ctx context.Context, sheet string, n int) ([]string, error)

	// AppendRow appends one row after the last data row.
	AppendRow(ctx context.Context, sheet string, row []string) error

	// UpdateCell sets a single cell (1-based row and column).
	UpdateCell(ctx context.Context, sheet string, row, col int, value string) error

	// ClearSheet removes all values from the sheet, header row included.
	ClearSheet(ctx context.Context, sheet string) error
}

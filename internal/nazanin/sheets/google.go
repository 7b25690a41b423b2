package sheets

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	sheetsapi "google.golang.org/api/sheets/v4"
)

// GoogleBackend implements Backend on top of the Google Sheets API with
// service-account credentials.
type GoogleBackend struct {
	svc *sheetsapi.Service
}

// NewGoogleBackend authenticates with the service-account credentials file
// and returns a Backend targeting Google Sheets.
func NewGoogleBackend(ctx context.Context, credentialsFile string) (*GoogleBackend, error) {
	svc, err := sheetsapi.NewService(ctx,
		option.WithCredentialsFile(credentialsFile),
		option.WithScopes(sheetsapi.SpreadsheetsScope),
	)
	if err != nil {
		return nil, fmt.Errorf("sheets: create service: %w", err)
	}
	return &GoogleBackend{svc: svc}, nil
}

// OpenWorkbook fetches the spreadsheet metadata to verify the id and the
// service account's access to it.
func (g *GoogleBackend) OpenWorkbook(ctx context.Context, id string) (Workbook, error) {
	if _, err := g.svc.Spreadsheets.Get(id).Fields("spreadsheetId").Context(ctx).Do(); err != nil {
		return nil, classifyGoogleErr(fmt.Errorf("sheets: open workbook %s: %w", id, err))
	}
	return &googleWorkbook{svc: g.svc, id: id}, nil
}

type googleWorkbook struct {
	svc *sheetsapi.Service
	id  string
}

func (w *googleWorkbook) ListSheets(ctx context.Context) ([]string, error) {
	ss, err := w.svc.Spreadsheets.Get(w.id).Fields("sheets.properties.title").Context(ctx).Do()
	if err != nil {
		return nil, classifyGoogleErr(fmt.Errorf("sheets: list sheets: %w", err))
	}
	names := make([]string, 0, len(ss.Sheets))
	for _, sh := range ss.Sheets {
		names = append(names, sh.Properties.Title)
	}
	return names, nil
}

func (w *googleWorkbook) CreateSheet(ctx context.Context, name string, rows, cols int) error {
	req := &sheetsapi.BatchUpdateSpreadsheetRequest{
		Requests: []*sheetsapi.Request{{
			AddSheet: &sheetsapi.AddSheetRequest{
				Properties: &sheetsapi.SheetProperties{
					Title: name,
					GridProperties: &sheetsapi.GridProperties{
						RowCount:    int64(rows),
						ColumnCount: int64(cols),
					},
				},
			},
		}},
	}
	if _, err := w.svc.Spreadsheets.BatchUpdate(w.id, req).Context(ctx).Do(); err != nil {
		return classifyGoogleErr(fmt.Errorf("sheets: create sheet %s: %w", name, err))
	}
	return nil
}

func (w *googleWorkbook) ReadAll(ctx context.Context, sheet string) ([][]string, error) {
	vr, err := w.svc.Spreadsheets.Values.Get(w.id, quoteSheet(sheet)).Context(ctx).Do()
	if err != nil {
		return nil, classifyGoogleErr(fmt.Errorf("sheets: read %s: %w", sheet, err))
	}
	return toStringRows(vr.Values), nil
}

func (w *googleWorkbook) ReadRow(ctx context.Context, sheet string, n int) ([]string, error) {
	rng := fmt.Sprintf("%s!%d:%d", quoteSheet(sheet), n, n)
	vr, err := w.svc.Spreadsheets.Values.Get(w.id, rng).Context(ctx).Do()
	if err != nil {
		return nil, classifyGoogleErr(fmt.Errorf("sheets: read row %d of %s: %w", n, sheet, err))
	}
	rows := toStringRows(vr.Values)
	if len(rows) == 0 {
		return []string{}, nil
	}
	return rows[0], nil
}

func (w *googleWorkbook) AppendRow(ctx context.Context, sheet string, row []string) error {
	vr := &sheetsapi.ValueRange{Values: [][]any{toAnyRow(row)}}
	_, err := w.svc.Spreadsheets.Values.Append(w.id, quoteSheet(sheet), vr).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return classifyGoogleErr(fmt.Errorf("sheets: append to %s: %w", sheet, err))
	}
	return nil
}

func (w *googleWorkbook) UpdateCell(ctx context.Context, sheet string, row, col int, value string) error {
	rng := fmt.Sprintf("%s!%s%d", quoteSheet(sheet), columnName(col), row)
	vr := &sheetsapi.ValueRange{Values: [][]any{{value}}}
	_, err := w.svc.Spreadsheets.Values.Update(w.id, rng, vr).
		ValueInputOption("RAW").
		Context(ctx).Do()
	if err != nil {
		return classifyGoogleErr(fmt.Errorf("sheets: update %s: %w", rng, err))
	}
	return nil
}

func (w *googleWorkbook) ClearSheet(ctx context.Context, sheet string) error {
	_, err := w.svc.Spreadsheets.Values.Clear(w.id, quoteSheet(sheet), &sheetsapi.ClearValuesRequest{}).
		Context(ctx).Do()
	if err != nil {
		return classifyGoogleErr(fmt.Errorf("sheets: clear %s: %w", sheet, err))
	}
	return nil
}

// classifyGoogleErr maps Google API errors onto the package error taxonomy:
// 404 → ErrNotFound, 429 and 5xx → transient, everything else unchanged.
func classifyGoogleErr(err error) error {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		// Plain transport failures (DNS, reset connections) are retryable.
		return Transient(err)
	}
	switch {
	case gerr.Code == http.StatusNotFound:
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case gerr.Code == http.StatusTooManyRequests || gerr.Code >= 500:
		return Transient(err)
	default:
		return err
	}
}

// quoteSheet wraps a sheet name in single quotes so names with spaces or
// underscores parse as A1-notation sheet references.
func quoteSheet(name string) string {
	return "'" + name + "'"
}

// columnName converts a 1-based column index to its A1 letter form
// (1 → A, 26 → Z, 27 → AA).
func columnName(col int) string {
	name := ""
	for col > 0 {
		col--
		name = string(rune('A'+col%26)) + name
		col /= 26
	}
	return name
}

func toStringRows(values [][]any) [][]string {
	rows := make([][]string, 0, len(values))
	for _, rv := range values {
		row := make([]string, 0, len(rv))
		for _, cv := range rv {
			row = append(row, fmt.Sprint(cv))
		}
		rows = append(rows, row)
	}
	return rows
}

func toAnyRow(row []string) []any {
	out := make([]any, len(row))
	for i, v := range row {
		out[i] = v
	}
	return out
}

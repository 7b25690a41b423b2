package sheets

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteBackend implements Backend on a local SQLite database. It exists for
// offline development and for deployments that don't want a Google account;
// the grid semantics (1-based rows and columns, ragged rows allowed) match
// the spreadsheet backend exactly.
//
// Each workbook is a namespace inside one database file. Rows are stored as
// JSON-encoded cell arrays so sheets need no per-sheet DDL.
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend opens (creating if necessary) the database at path.
func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sheets: open database: %w", err)
	}

	// SQLite is single-writer by design. Keep a single shared connection so
	// concurrent callers are serialized by database/sql instead of fighting
	// for write locks across multiple underlying connections.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sheets: set pragma: %w", err)
		}
	}

	ddl := []string{
		`CREATE TABLE IF NOT EXISTS sheet_meta (
			workbook TEXT NOT NULL,
			sheet    TEXT NOT NULL,
			PRIMARY KEY (workbook, sheet)
		)`,
		`CREATE TABLE IF NOT EXISTS sheet_rows (
			workbook TEXT    NOT NULL,
			sheet    TEXT    NOT NULL,
			idx      INTEGER NOT NULL,
			cells    TEXT    NOT NULL,
			PRIMARY KEY (workbook, sheet, idx)
		)`,
	}
	for _, stmt := range ddl {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("sheets: create tables: %w", err)
		}
	}

	return &SQLiteBackend{db: db}, nil
}

// Close closes the underlying database.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

// OpenWorkbook returns a workbook namespace. Workbooks spring into existence
// on first use, mirroring how the Google backend treats a valid spreadsheet
// id; the id doubles as the workbook name.
func (b *SQLiteBackend) OpenWorkbook(ctx context.Context, id string) (Workbook, error) {
	if id == "" {
		return nil, fmt.Errorf("sheets: open workbook: empty id: %w", ErrNotFound)
	}
	return &sqliteWorkbook{db: b.db, id: id}, nil
}

type sqliteWorkbook struct {
	db *sql.DB
	id string
}

func (w *sqliteWorkbook) ListSheets(ctx context.Context) ([]string, error) {
	rows, err := w.db.QueryContext(ctx,
		`SELECT sheet FROM sheet_meta WHERE workbook = ? ORDER BY sheet`, w.id)
	if err != nil {
		return nil, fmt.Errorf("sheets: list sheets: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("sheets: list sheets scan: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sheets: list sheets rows: %w", err)
	}
	return names, nil
}

func (w *sqliteWorkbook) CreateSheet(ctx context.Context, name string, rows, cols int) error {
	_, err := w.db.ExecContext(ctx,
		`INSERT INTO sheet_meta (workbook, sheet) VALUES (?, ?)`, w.id, name)
	if err != nil {
		return fmt.Errorf("sheets: create sheet %s: %w", name, err)
	}
	return nil
}

func (w *sqliteWorkbook) exists(ctx context.Context, sheet string) error {
	var one int
	err := w.db.QueryRowContext(ctx,
		`SELECT 1 FROM sheet_meta WHERE workbook = ? AND sheet = ?`, w.id, sheet).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("sheets: sheet %s/%s: %w", w.id, sheet, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("sheets: sheet lookup: %w", err)
	}
	return nil
}

func (w *sqliteWorkbook) ReadAll(ctx context.Context, sheet string) ([][]string, error) {
	if err := w.exists(ctx, sheet); err != nil {
		return nil, err
	}
	rows, err := w.db.QueryContext(ctx,
		`SELECT cells FROM sheet_rows WHERE workbook = ? AND sheet = ? ORDER BY idx`,
		w.id, sheet)
	if err != nil {
		return nil, fmt.Errorf("sheets: read %s: %w", sheet, err)
	}
	defer rows.Close()

	var out [][]string
	for rows.Next() {
		var blob string
		if err := rows.Scan(&blob); err != nil {
			return nil, fmt.Errorf("sheets: read %s scan: %w", sheet, err)
		}
		var cells []string
		if err := json.Unmarshal([]byte(blob), &cells); err != nil {
			return nil, fmt.Errorf("sheets: read %s decode row: %w", sheet, err)
		}
		out = append(out, cells)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sheets: read %s rows: %w", sheet, err)
	}
	return out, nil
}

func (w *sqliteWorkbook) ReadRow(ctx context.Context, sheet string, n int) ([]string, error) {
	if err := w.exists(ctx, sheet); err != nil {
		return nil, err
	}
	var blob string
	err := w.db.QueryRowContext(ctx,
		`SELECT cells FROM sheet_rows WHERE workbook = ? AND sheet = ? AND idx = ?`,
		w.id, sheet, n).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sheets: read row %d of %s: %w", n, sheet, err)
	}
	var cells []string
	if err := json.Unmarshal([]byte(blob), &cells); err != nil {
		return nil, fmt.Errorf("sheets: decode row %d of %s: %w", n, sheet, err)
	}
	return cells, nil
}

func (w *sqliteWorkbook) AppendRow(ctx context.Context, sheet string, row []string) error {
	if err := w.exists(ctx, sheet); err != nil {
		return err
	}
	blob, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("sheets: encode row: %w", err)
	}
	_, err = w.db.ExecContext(ctx, `
		INSERT INTO sheet_rows (workbook, sheet, idx, cells)
		VALUES (?, ?, (
			SELECT COALESCE(MAX(idx), 0) + 1 FROM sheet_rows WHERE workbook = ? AND sheet = ?
		), ?)`,
		w.id, sheet, w.id, sheet, string(blob))
	if err != nil {
		return fmt.Errorf("sheets: append to %s: %w", sheet, err)
	}
	return nil
}

func (w *sqliteWorkbook) UpdateCell(ctx context.Context, sheet string, row, col int, value string) error {
	if err := w.exists(ctx, sheet); err != nil {
		return err
	}
	if row < 1 || col < 1 {
		return fmt.Errorf("sheets: update cell: indices are 1-based (got row %d, col %d)", row, col)
	}

	cells, err := w.ReadRow(ctx, sheet, row)
	if err != nil {
		return err
	}
	// Extend the row when the target column lies past its current width;
	// spreadsheets treat missing trailing cells as empty.
	for len(cells) < col {
		cells = append(cells, "")
	}
	cells[col-1] = value

	blob, err := json.Marshal(cells)
	if err != nil {
		return fmt.Errorf("sheets: encode row: %w", err)
	}
	_, err = w.db.ExecContext(ctx, `
		INSERT INTO sheet_rows (workbook, sheet, idx, cells) VALUES (?, ?, ?, ?)
		ON CONFLICT(workbook, sheet, idx) DO UPDATE SET cells = excluded.cells`,
		w.id, sheet, row, string(blob))
	if err != nil {
		return fmt.Errorf("sheets: update cell in %s: %w", sheet, err)
	}
	return nil
}

func (w *sqliteWorkbook) ClearSheet(ctx context.Context, sheet string) error {
	if err := w.exists(ctx, sheet); err != nil {
		return err
	}
	_, err := w.db.ExecContext(ctx,
		`DELETE FROM sheet_rows WHERE workbook = ? AND sheet = ?`, w.id, sheet)
	if err != nil {
		return fmt.Errorf("sheets: clear %s: %w", sheet, err)
	}
	return nil
}

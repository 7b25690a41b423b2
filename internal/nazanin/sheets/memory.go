package sheets

import (
	"context"
	"fmt"
	"sync"
)

// MemoryBackend is an in-memory Backend used by tests and by other packages'
// test suites. It records every mutating call so bootstrap-idempotence tests
// can assert that a second run performs no writes.
type MemoryBackend struct {
	mu        sync.Mutex
	workbooks map[string]*memWorkbook

	// Mutations lists every mutating backend call in order, formatted as
	// "op workbook/sheet". Reads are not recorded.
	Mutations []string

	// FailAppends, when > 0, makes that many subsequent AppendRow calls fail
	// with a transient error before succeeding again. Used to exercise the
	// store's retry path.
	FailAppends int
}

// NewMemoryBackend returns an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{workbooks: make(map[string]*memWorkbook)}
}

// Provision creates the workbook with the given id so OpenWorkbook succeeds.
func (m *MemoryBackend) Provision(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.workbooks[id]; !ok {
		m.workbooks[id] = &memWorkbook{backend: m, id: id, sheets: make(map[string][][]string)}
	}
}

// OpenWorkbook returns the workbook with the given id, or ErrNotFound.
func (m *MemoryBackend) OpenWorkbook(ctx context.Context, id string) (Workbook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wb, ok := m.workbooks[id]
	if !ok {
		return nil, fmt.Errorf("sheets: workbook %s: %w", id, ErrNotFound)
	}
	return wb, nil
}

// MutationCount returns the number of mutating calls recorded so far.
func (m *MemoryBackend) MutationCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Mutations)
}

// Rows returns a copy of the raw rows of a sheet, header included.
func (m *MemoryBackend) Rows(workbookID, sheet string) [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	wb, ok := m.workbooks[workbookID]
	if !ok {
		return nil
	}
	src := wb.sheets[sheet]
	out := make([][]string, len(src))
	for i, row := range src {
		out[i] = append([]string(nil), row...)
	}
	return out
}

func (m *MemoryBackend) record(op, workbookID, sheet string) {
	m.Mutations = append(m.Mutations, fmt.Sprintf("%s %s/%s", op, workbookID, sheet))
}

type memWorkbook struct {
	backend *MemoryBackend
	id      string
	sheets  map[string][][]string
}

func (w *memWorkbook) ListSheets(ctx context.Context) ([]string, error) {
	w.backend.mu.Lock()
	defer w.backend.mu.Unlock()
	names := make([]string, 0, len(w.sheets))
	for name := range w.sheets {
		names = append(names, name)
	}
	return names, nil
}

func (w *memWorkbook) CreateSheet(ctx context.Context, name string, rows, cols int) error {
	w.backend.mu.Lock()
	defer w.backend.mu.Unlock()
	if _, ok := w.sheets[name]; ok {
		return fmt.Errorf("sheets: sheet %s already exists", name)
	}
	w.sheets[name] = [][]string{}
	w.backend.record("create", w.id, name)
	return nil
}

func (w *memWorkbook) ReadAll(ctx context.Context, sheet string) ([][]string, error) {
	w.backend.mu.Lock()
	defer w.backend.mu.Unlock()
	rows, ok := w.sheets[sheet]
	if !ok {
		return nil, fmt.Errorf("sheets: sheet %s/%s: %w", w.id, sheet, ErrNotFound)
	}
	out := make([][]string, len(rows))
	for i, row := range rows {
		out[i] = append([]string(nil), row...)
	}
	return out, nil
}

func (w *memWorkbook) ReadRow(ctx context.Context, sheet string, n int) ([]string, error) {
	w.backend.mu.Lock()
	defer w.backend.mu.Unlock()
	rows, ok := w.sheets[sheet]
	if !ok {
		return nil, fmt.Errorf("sheets: sheet %s/%s: %w", w.id, sheet, ErrNotFound)
	}
	if n < 1 || n > len(rows) {
		return []string{}, nil
	}
	return append([]string(nil), rows[n-1]...), nil
}

func (w *memWorkbook) AppendRow(ctx context.Context, sheet string, row []string) error {
	w.backend.mu.Lock()
	defer w.backend.mu.Unlock()
	if _, ok := w.sheets[sheet]; !ok {
		return fmt.Errorf("sheets: sheet %s/%s: %w", w.id, sheet, ErrNotFound)
	}
	if w.backend.FailAppends > 0 {
		w.backend.FailAppends--
		return Transient(fmt.Errorf("injected append failure"))
	}
	w.sheets[sheet] = append(w.sheets[sheet], append([]string(nil), row...))
	w.backend.record("append", w.id, sheet)
	return nil
}

func (w *memWorkbook) UpdateCell(ctx context.Context, sheet string, row, col int, value string) error {
	w.backend.mu.Lock()
	defer w.backend.mu.Unlock()
	rows, ok := w.sheets[sheet]
	if !ok {
		return fmt.Errorf("sheets: sheet %s/%s: %w", w.id, sheet, ErrNotFound)
	}
	if row < 1 || col < 1 {
		return fmt.Errorf("sheets: update cell: indices are 1-based (got row %d, col %d)", row, col)
	}
	for len(rows) < row {
		rows = append(rows, []string{})
	}
	for len(rows[row-1]) < col {
		rows[row-1] = append(rows[row-1], "")
	}
	rows[row-1][col-1] = value
	w.sheets[sheet] = rows
	w.backend.record("update", w.id, sheet)
	return nil
}

func (w *memWorkbook) ClearSheet(ctx context.Context, sheet string) error {
	w.backend.mu.Lock()
	defer w.backend.mu.Unlock()
	if _, ok := w.sheets[sheet]; !ok {
		return fmt.Errorf("sheets: sheet %s/%s: %w", w.id, sheet, ErrNotFound)
	}
	w.sheets[sheet] = [][]string{}
	w.backend.record("clear", w.id, sheet)
	return nil
}

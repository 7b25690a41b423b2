package sheets

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nazanin-ai/nazanin/common/retry"
)

// Record is one data row keyed by the sheet's header columns. Rows shorter
// than the header read as empty strings for the missing columns.
type Record map[string]string

// Store is the spreadsheet-backed state store. It layers a schema-driven
// bootstrap, a time-bounded read cache, and per-sheet mutation serialization
// over a Backend.
//
// The cache is read-mostly and guarded by a single mutex. Mutations to the
// same (workbook, sheet) are serialized so the backend never sees two
// in-flight writes to one sheet; different sheets proceed concurrently.
type Store struct {
	backend Backend
	ids     map[string]string // workbook name → backend id
	ttl     time.Duration
	pace    time.Duration
	retry   retry.Config
	now     func() time.Time

	mu         sync.Mutex
	cache      map[sheetKey]cacheEntry
	open       map[string]Workbook
	sheetLocks map[sheetKey]*sync.Mutex
}

type sheetKey struct {
	workbook string
	sheet    string
}

type cacheEntry struct {
	records   []Record
	fetchedAt time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithCacheTTL sets the read-cache lifetime. Zero disables caching.
func WithCacheTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// WithMutationPace sets the delay inserted between consecutive bootstrap
// mutations. The spreadsheet backend enforces a request-rate ceiling;
// bootstrap would trip it without pacing. Tests set this to zero.
func WithMutationPace(d time.Duration) Option {
	return func(s *Store) { s.pace = d }
}

// WithRetry overrides the retry policy for transient backend errors.
func WithRetry(cfg retry.Config) Option {
	return func(s *Store) { s.retry = cfg }
}

// WithClock overrides the time source. Tests use it to cross the cache TTL
// without sleeping.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a Store over backend. ids maps declared workbook names to
// backend-specific workbook ids; workbooks without an id are reported by
// Bootstrap and unavailable to Read/Append.
func New(backend Backend, ids map[string]string, opts ...Option) *Store {
	s := &Store{
		backend:    backend,
		ids:        ids,
		ttl:        5 * time.Minute,
		pace:       400 * time.Millisecond,
		retry:      retry.Config{MaxAttempts: 3, InitialDelay: 500 * time.Millisecond, MaxDelay: 5 * time.Second},
		now:        time.Now,
		cache:      make(map[sheetKey]cacheEntry),
		open:       make(map[string]Workbook),
		sheetLocks: make(map[sheetKey]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.retry.ShouldRetry == nil {
		s.retry.ShouldRetry = IsTransient
	}
	return s
}

// workbook opens (and memoizes) the named workbook.
func (s *Store) workbook(ctx context.Context, name string) (Workbook, error) {
	s.mu.Lock()
	if wb, ok := s.open[name]; ok {
		s.mu.Unlock()
		return wb, nil
	}
	id, ok := s.ids[name]
	s.mu.Unlock()
	if !ok || id == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingWorkbook, name)
	}

	wb, err := s.backend.OpenWorkbook(ctx, id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.open[name] = wb
	s.mu.Unlock()
	return wb, nil
}

// lockSheet returns the mutation mutex for one (workbook, sheet).
func (s *Store) lockSheet(key sheetKey) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.sheetLocks[key]
	if !ok {
		l = &sync.Mutex{}
		s.sheetLocks[key] = l
	}
	return l
}

// Read returns the data rows of a sheet as header-keyed records. When
// useCache is true and a cache entry younger than the TTL exists, the cached
// records are returned without touching the backend. A read at exactly the
// TTL is a miss.
func (s *Store) Read(ctx context.Context, workbook, sheet string, useCache bool) ([]Record, error) {
	key := sheetKey{workbook, sheet}

	if useCache && s.ttl > 0 {
		s.mu.Lock()
		if entry, ok := s.cache[key]; ok && s.now().Sub(entry.fetchedAt) < s.ttl {
			records := entry.records
			s.mu.Unlock()
			return records, nil
		}
		s.mu.Unlock()
	}

	wb, err := s.workbook(ctx, workbook)
	if err != nil {
		return nil, err
	}
	rows, err := wb.ReadAll(ctx, sheet)
	if err != nil {
		return nil, err
	}
	records := rowsToRecords(rows)

	s.mu.Lock()
	s.cache[key] = cacheEntry{records: records, fetchedAt: s.now()}
	s.mu.Unlock()
	return records, nil
}

// Append appends one row aligned to the sheet header. Transient backend
// errors are retried with exponential backoff; on success the cache entry
// for the sheet is invalidated so the next Read observes the new row.
func (s *Store) Append(ctx context.Context, workbook, sheet string, row []string) error {
	wb, err := s.workbook(ctx, workbook)
	if err != nil {
		return err
	}

	key := sheetKey{workbook, sheet}
	l := s.lockSheet(key)
	l.Lock()
	defer l.Unlock()

	err = retry.Do(ctx, s.retry, func() error {
		return wb.AppendRow(ctx, sheet, row)
	})
	if err != nil {
		return err
	}
	s.invalidate(key)
	return nil
}

// UpdateCell sets one cell (1-based indices, matching the backend) and
// invalidates the sheet's cache entry.
func (s *Store) UpdateCell(ctx context.Context, workbook, sheet string, row, col int, value string) error {
	wb, err := s.workbook(ctx, workbook)
	if err != nil {
		return err
	}

	key := sheetKey{workbook, sheet}
	l := s.lockSheet(key)
	l.Lock()
	defer l.Unlock()

	err = retry.Do(ctx, s.retry, func() error {
		return wb.UpdateCell(ctx, sheet, row, col, value)
	})
	if err != nil {
		return err
	}
	s.invalidate(key)
	return nil
}

// ClearCache drops cache entries. With both arguments empty every entry is
// dropped; with only workbook set, all of that workbook's sheets; with both
// set, the single entry.
func (s *Store) ClearCache(workbook, sheet string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.cache {
		if workbook != "" && key.workbook != workbook {
			continue
		}
		if sheet != "" && key.sheet != sheet {
			continue
		}
		delete(s.cache, key)
	}
}

func (s *Store) invalidate(key sheetKey) {
	s.mu.Lock()
	delete(s.cache, key)
	s.mu.Unlock()
}

// rowsToRecords converts raw rows (header first) into header-keyed records.
func rowsToRecords(rows [][]string) []Record {
	if len(rows) == 0 {
		return []Record{}
	}
	headers := rows[0]
	records := make([]Record, 0, len(rows)-1)
	for _, row := range rows[1:] {
		rec := make(Record, len(headers))
		for i, h := range headers {
			if i < len(row) {
				rec[h] = row[i]
			} else {
				rec[h] = ""
			}
		}
		records = append(records, rec)
	}
	return records
}

// BootstrapStats summarizes what Bootstrap did.
type BootstrapStats struct {
	WorkbooksChecked int
	SheetsCreated    int
	HeadersWritten   int
	RowsSeeded       int
	Errors           []error
}

// Bootstrap provisions the declared schema: for every workbook with a
// configured id it creates missing sheets, repairs header rows, and seeds
// initial rows into data-empty sheets. It is idempotent: on a fully
// provisioned backend it performs reads only.
//
// Per-workbook failures (including a missing id) are collected into the
// returned stats rather than aborting the sweep; only context cancellation
// stops it early.
func (s *Store) Bootstrap(ctx context.Context) (BootstrapStats, error) {
	var stats BootstrapStats

	for _, decl := range Schema {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		wb, err := s.workbook(ctx, decl.Name)
		if err != nil {
			stats.Errors = append(stats.Errors, fmt.Errorf("workbook %s: %w", decl.Name, err))
			continue
		}
		stats.WorkbooksChecked++

		existing, err := wb.ListSheets(ctx)
		if err != nil {
			stats.Errors = append(stats.Errors, fmt.Errorf("workbook %s: %w", decl.Name, err))
			continue
		}
		present := make(map[string]struct{}, len(existing))
		for _, name := range existing {
			present[name] = struct{}{}
		}

		for _, sheet := range decl.Sheets {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
			if err := s.bootstrapSheet(ctx, wb, sheet, present, &stats); err != nil {
				stats.Errors = append(stats.Errors,
					fmt.Errorf("sheet %s/%s: %w", decl.Name, sheet.Name, err))
			}
		}
	}

	slog.Info("bootstrap complete",
		"workbooks_checked", stats.WorkbooksChecked,
		"sheets_created", stats.SheetsCreated,
		"headers_written", stats.HeadersWritten,
		"rows_seeded", stats.RowsSeeded,
		"errors", len(stats.Errors))
	return stats, nil
}

func (s *Store) bootstrapSheet(ctx context.Context, wb Workbook, sheet SheetSchema, present map[string]struct{}, stats *BootstrapStats) error {
	if _, ok := present[sheet.Name]; !ok {
		if err := wb.CreateSheet(ctx, sheet.Name, 1000, len(sheet.Headers)); err != nil {
			return err
		}
		stats.SheetsCreated++
		s.paceBackend(ctx)
	}

	header, err := wb.ReadRow(ctx, sheet.Name, 1)
	if err != nil {
		return err
	}

	headerOK := equalRow(header, sheet.Headers)
	if !headerOK {
		if err := wb.ClearSheet(ctx, sheet.Name); err != nil {
			return err
		}
		s.paceBackend(ctx)
		if err := wb.AppendRow(ctx, sheet.Name, sheet.Headers); err != nil {
			return err
		}
		stats.HeadersWritten++
		s.paceBackend(ctx)
	}

	if len(sheet.InitialRows) == 0 {
		return nil
	}
	rows, err := wb.ReadAll(ctx, sheet.Name)
	if err != nil {
		return err
	}
	if len(rows) > 1 {
		// Sheet already carries data; never re-seed over it.
		return nil
	}
	for _, seed := range sheet.InitialRows {
		if err := wb.AppendRow(ctx, sheet.Name, seed); err != nil {
			return err
		}
		stats.RowsSeeded++
		s.paceBackend(ctx)
	}
	return nil
}

// paceBackend sleeps briefly between bootstrap mutations to respect the
// backend's request-rate ceiling.
func (s *Store) paceBackend(ctx context.Context) {
	if s.pace <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(s.pace):
	}
}

// equalRow compares two rows ignoring trailing empty cells, which the
// backend may or may not materialize.
func equalRow(a, b []string) bool {
	for len(a) > 0 && a[len(a)-1] == "" {
		a = a[:len(a)-1]
	}
	for len(b) > 0 && b[len(b)-1] == "" {
		b = b[:len(b)-1]
	}
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

package sheets

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nazanin-ai/nazanin/common/retry"
)

// provisionedStore returns a store over a memory backend with every declared
// workbook provisioned, pacing disabled, and a controllable clock.
func provisionedStore(t *testing.T) (*Store, *MemoryBackend, *time.Time) {
	t.Helper()
	backend := NewMemoryBackend()
	ids := make(map[string]string, len(Schema))
	for _, wb := range Schema {
		id := "id-" + wb.Name
		ids[wb.Name] = id
		backend.Provision(id)
	}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := New(backend, ids,
		WithMutationPace(0),
		WithClock(func() time.Time { return now }),
		WithRetry(retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, ShouldRetry: IsTransient}),
	)
	return store, backend, &now
}

func TestBootstrap_ProvisionsEverything(t *testing.T) {
	store, backend, _ := provisionedStore(t)

	stats, err := store.Bootstrap(context.Background())
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if stats.WorkbooksChecked != len(Schema) {
		t.Errorf("workbooks checked: got %d, want %d", stats.WorkbooksChecked, len(Schema))
	}
	if stats.SheetsCreated != SheetCount() {
		t.Errorf("sheets created: got %d, want %d", stats.SheetsCreated, SheetCount())
	}
	if stats.HeadersWritten != SheetCount() {
		t.Errorf("headers written: got %d, want %d", stats.HeadersWritten, SheetCount())
	}
	if stats.RowsSeeded == 0 {
		t.Error("expected seed rows for System_Config and Traits")
	}
	if len(stats.Errors) != 0 {
		t.Errorf("unexpected errors: %v", stats.Errors)
	}

	// Row 1 of every sheet must equal the declared header.
	rows := backend.Rows("id-"+WorkbookCoreData, SheetAPIKeys)
	if len(rows) == 0 {
		t.Fatal("API_Keys sheet has no header row")
	}
	decl, _ := FindSheet(WorkbookCoreData, SheetAPIKeys)
	for i, h := range decl.Headers {
		if rows[0][i] != h {
			t.Errorf("header col %d: got %q, want %q", i, rows[0][i], h)
		}
	}
}

func TestBootstrap_Idempotent(t *testing.T) {
	store, backend, _ := provisionedStore(t)

	if _, err := store.Bootstrap(context.Background()); err != nil {
		t.Fatalf("first Bootstrap: %v", err)
	}
	before := backend.MutationCount()

	stats, err := store.Bootstrap(context.Background())
	if err != nil {
		t.Fatalf("second Bootstrap: %v", err)
	}
	if stats.SheetsCreated != 0 || stats.HeadersWritten != 0 || stats.RowsSeeded != 0 {
		t.Errorf("second run should be a no-op, got %+v", stats)
	}
	if got := backend.MutationCount(); got != before {
		t.Errorf("second run performed %d mutations", got-before)
	}
}

func TestBootstrap_RepairsCorruptedHeader(t *testing.T) {
	store, backend, _ := provisionedStore(t)
	ctx := context.Background()

	if _, err := store.Bootstrap(ctx); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}

	// Corrupt the Messages header.
	wb, err := backend.OpenWorkbook(ctx, "id-"+WorkbookConversationData)
	if err != nil {
		t.Fatalf("OpenWorkbook: %v", err)
	}
	if err := wb.UpdateCell(ctx, SheetMessages, 1, 1, "corrupted"); err != nil {
		t.Fatalf("UpdateCell: %v", err)
	}

	stats, err := store.Bootstrap(ctx)
	if err != nil {
		t.Fatalf("repair Bootstrap: %v", err)
	}
	if stats.HeadersWritten != 1 {
		t.Errorf("headers written: got %d, want 1", stats.HeadersWritten)
	}
	rows := backend.Rows("id-"+WorkbookConversationData, SheetMessages)
	if rows[0][0] != "timestamp" {
		t.Errorf("header not repaired: %v", rows[0])
	}
}

func TestBootstrap_ReportsMissingWorkbook(t *testing.T) {
	backend := NewMemoryBackend()
	// Only CORE_DATA gets an id.
	backend.Provision("id-core")
	store := New(backend, map[string]string{WorkbookCoreData: "id-core"}, WithMutationPace(0))

	stats, err := store.Bootstrap(context.Background())
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if stats.WorkbooksChecked != 1 {
		t.Errorf("workbooks checked: got %d, want 1", stats.WorkbooksChecked)
	}
	if len(stats.Errors) != len(Schema)-1 {
		t.Fatalf("expected %d missing-workbook errors, got %d", len(Schema)-1, len(stats.Errors))
	}
	for _, e := range stats.Errors {
		if !errors.Is(e, ErrMissingWorkbook) {
			t.Errorf("error is not ErrMissingWorkbook: %v", e)
		}
	}
}

func TestRead_CacheHitAndTTLBoundary(t *testing.T) {
	store, backend, now := provisionedStore(t)
	ctx := context.Background()
	if _, err := store.Bootstrap(ctx); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}

	if err := store.Append(ctx, WorkbookCoreData, SheetUserProfiles,
		[]string{"42", "alice", "telegram", "", "", "1"}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	first, err := store.Read(ctx, WorkbookCoreData, SheetUserProfiles, true)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(first) != 1 || first[0]["user_id"] != "42" {
		t.Fatalf("unexpected records: %v", first)
	}

	// Mutate behind the store's back; a cached read must not see it.
	wb, _ := backend.OpenWorkbook(ctx, "id-"+WorkbookCoreData)
	if err := wb.AppendRow(ctx, SheetUserProfiles, []string{"43", "bob", "telegram", "", "", "1"}); err != nil {
		t.Fatalf("AppendRow: %v", err)
	}

	cached, err := store.Read(ctx, WorkbookCoreData, SheetUserProfiles, true)
	if err != nil {
		t.Fatalf("cached Read: %v", err)
	}
	if len(cached) != 1 {
		t.Errorf("cache should hide the out-of-band row, got %d records", len(cached))
	}

	// Advance to exactly the TTL: must be a miss.
	*now = now.Add(5 * time.Minute)
	fresh, err := store.Read(ctx, WorkbookCoreData, SheetUserProfiles, true)
	if err != nil {
		t.Fatalf("fresh Read: %v", err)
	}
	if len(fresh) != 2 {
		t.Errorf("read at exactly TTL should refetch, got %d records", len(fresh))
	}
}

func TestAppend_InvalidatesCache(t *testing.T) {
	store, _, _ := provisionedStore(t)
	ctx := context.Background()
	if _, err := store.Bootstrap(ctx); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}

	before, err := store.Read(ctx, WorkbookConversationData, SheetMessages, true)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	row := []string{"2026-03-01T12:00:00Z", "42", "telegram", "hello", "hi there", "neutral", "{}"}
	if err := store.Append(ctx, WorkbookConversationData, SheetMessages, row); err != nil {
		t.Fatalf("Append: %v", err)
	}

	after, err := store.Read(ctx, WorkbookConversationData, SheetMessages, true)
	if err != nil {
		t.Fatalf("Read after append: %v", err)
	}
	if len(after) != len(before)+1 {
		t.Fatalf("append then read: got %d records, want %d", len(after), len(before)+1)
	}
	last := after[len(after)-1]
	if last["message"] != "hello" || last["response"] != "hi there" {
		t.Errorf("appended row mangled: %v", last)
	}
}

func TestAppend_RetriesTransientErrors(t *testing.T) {
	store, backend, _ := provisionedStore(t)
	ctx := context.Background()
	if _, err := store.Bootstrap(ctx); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}

	backend.FailAppends = 2
	err := store.Append(ctx, WorkbookConversationData, SheetMessages,
		[]string{"t", "u", "p", "m", "r", "s", "c"})
	if err != nil {
		t.Fatalf("Append should survive two transient failures: %v", err)
	}
}

func TestClearCache_ScopedInvalidation(t *testing.T) {
	store, backend, _ := provisionedStore(t)
	ctx := context.Background()
	if _, err := store.Bootstrap(ctx); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}

	if _, err := store.Read(ctx, WorkbookCoreData, SheetUserProfiles, true); err != nil {
		t.Fatalf("Read: %v", err)
	}

	// Out-of-band write, then a scoped clear; the next read must see it.
	wb, _ := backend.OpenWorkbook(ctx, "id-"+WorkbookCoreData)
	if err := wb.AppendRow(ctx, SheetUserProfiles, []string{"7", "carol", "matrix", "", "", "1"}); err != nil {
		t.Fatalf("AppendRow: %v", err)
	}
	store.ClearCache(WorkbookCoreData, SheetUserProfiles)

	records, err := store.Read(ctx, WorkbookCoreData, SheetUserProfiles, true)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("clear then read should refetch, got %d records", len(records))
	}
}

func TestRead_MissingWorkbook(t *testing.T) {
	store := New(NewMemoryBackend(), map[string]string{}, WithMutationPace(0))
	_, err := store.Read(context.Background(), WorkbookCoreData, SheetAPIKeys, true)
	if !errors.Is(err, ErrMissingWorkbook) {
		t.Errorf("expected ErrMissingWorkbook, got %v", err)
	}
}

package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/nazanin-ai/nazanin/common/retry"
	"github.com/nazanin-ai/nazanin/internal/nazanin/classify"
	"github.com/nazanin-ai/nazanin/internal/nazanin/llm"
	"github.com/nazanin-ai/nazanin/internal/nazanin/pipeline"
	"github.com/nazanin-ai/nazanin/internal/nazanin/security"
	"github.com/nazanin-ai/nazanin/internal/nazanin/sheets"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, &slog.HandlerOptions{Level: slog.LevelError + 4}))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

type env struct {
	backend *sheets.MemoryBackend
	store   *sheets.Store
	gateway *llm.Gateway
	access  *security.AccessList
	pipe    *pipeline.Pipeline
}

// newEnv bootstraps a fully provisioned in-memory deployment with one
// provider backed by the given caller.
func newEnv(t *testing.T, caller llm.Caller, limit int, opts ...pipeline.PipelineOption) *env {
	t.Helper()
	backend := sheets.NewMemoryBackend()
	ids := make(map[string]string)
	for _, name := range sheets.WorkbookNames() {
		ids[name] = "id-" + name
		backend.Provision("id-" + name)
	}
	store := sheets.New(backend, ids,
		sheets.WithMutationPace(0),
		sheets.WithRetry(retry.Config{MaxAttempts: 1, InitialDelay: time.Millisecond}))
	if _, err := store.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}

	provider := llm.NewProvider("groq", "llama-3.3-70b", 10, []string{"k1", "k2"}, caller)
	gateway := llm.NewGateway([]*llm.Provider{provider},
		llm.WithAttemptDelay(0), llm.WithLogger(quietLogger()))

	access := security.NewAccessList(store, quietLogger())
	if err := access.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	limiter := security.NewRateLimiter(limit, time.Minute)
	auditor := security.NewAuditor(store, quietLogger())

	opts = append([]pipeline.PipelineOption{
		pipeline.WithLogger(quietLogger()),
		pipeline.WithPersistRetryDelay(0),
		pipeline.WithRole("Nazanin, a personal assistant"),
	}, opts...)
	pipe := pipeline.New(store, gateway, classify.New(), access, limiter, auditor, opts...)

	return &env{backend: backend, store: store, gateway: gateway, access: access, pipe: pipe}
}

func (e *env) messageRows() [][]string {
	rows := e.backend.Rows("id-"+sheets.WorkbookConversationData, sheets.SheetMessages)
	if len(rows) == 0 {
		return nil
	}
	return rows[1:] // skip header
}

func (e *env) auditRows() [][]string {
	rows := e.backend.Rows("id-"+sheets.WorkbookSecurityLogs, sheets.SheetAccessLogs)
	if len(rows) == 0 {
		return nil
	}
	return rows[1:]
}

func TestHandle_HappyPath(t *testing.T) {
	e := newEnv(t, llm.CallerFunc(func(_ context.Context, _, prompt string) (string, error) {
		if !strings.Contains(prompt, "hello") {
			t.Errorf("prompt does not carry the message: %q", prompt)
		}
		return "hi there", nil
	}), 20)

	res := e.pipe.Handle(context.Background(), "u1", "hello", "telegram")

	if res.Status != pipeline.StatusSuccess {
		t.Fatalf("Status = %q, want success (reason %q)", res.Status, res.Reason)
	}
	if res.Reply != "hi there" {
		t.Errorf("Reply = %q", res.Reply)
	}
	if res.Classification.Primary != classify.CategoryCasual {
		t.Errorf("Primary = %q, want casual", res.Classification.Primary)
	}

	msgs := e.messageRows()
	if len(msgs) != 1 {
		t.Fatalf("got %d conversation rows, want 1", len(msgs))
	}
	row := msgs[0]
	if row[1] != "u1" || row[2] != "telegram" || row[3] != "hello" || row[4] != "hi there" {
		t.Errorf("conversation row wrong: %v", row)
	}
	var turnCtx map[string]any
	if err := json.Unmarshal([]byte(row[6]), &turnCtx); err != nil {
		t.Fatalf("context column is not JSON: %v", err)
	}
	if turnCtx["category"] != "casual" {
		t.Errorf("context category = %v", turnCtx["category"])
	}
	if _, ok := turnCtx["processing_seconds"]; !ok {
		t.Error("context missing processing_seconds")
	}

	st := e.gateway.Stats()[0]
	if st.Calls != 1 || st.Successes != 1 {
		t.Errorf("provider counters: %+v", st)
	}

	audits := e.auditRows()
	if len(audits) != 1 || audits[len(audits)-1][5] != security.ResultSuccess {
		t.Errorf("audit rows wrong: %v", audits)
	}
}

func TestHandle_CreatesAndUpdatesProfile(t *testing.T) {
	e := newEnv(t, llm.CallerFunc(func(context.Context, string, string) (string, error) {
		return "ok", nil
	}), 20)

	e.pipe.Handle(context.Background(), "u1", "hello", "telegram")
	profiles := e.backend.Rows("id-"+sheets.WorkbookCoreData, sheets.SheetUserProfiles)
	if len(profiles) != 2 {
		t.Fatalf("got %d profile rows, want header + 1", len(profiles))
	}
	if profiles[1][0] != "u1" || profiles[1][5] != "1" {
		t.Errorf("new profile row wrong: %v", profiles[1])
	}

	e.pipe.Handle(context.Background(), "u1", "hello again", "telegram")
	profiles = e.backend.Rows("id-"+sheets.WorkbookCoreData, sheets.SheetUserProfiles)
	if len(profiles) != 2 {
		t.Fatalf("second turn must update, not insert: %d rows", len(profiles))
	}
	if profiles[1][5] != "2" {
		t.Errorf("message_count = %q, want 2", profiles[1][5])
	}
}

func TestHandle_BlockedPrincipal(t *testing.T) {
	e := newEnv(t, llm.CallerFunc(func(context.Context, string, string) (string, error) {
		t.Error("model must not be called for a blocked principal")
		return "", nil
	}), 20)
	if err := e.access.Block(context.Background(), "troll", "abuse"); err != nil {
		t.Fatalf("Block: %v", err)
	}

	res := e.pipe.Handle(context.Background(), "troll", "hello", "telegram")
	if res.Status != pipeline.StatusBlocked {
		t.Fatalf("Status = %q, want blocked", res.Status)
	}
	if res.Reply == "" {
		t.Error("blocked turns still need a reply to send")
	}
	if len(e.messageRows()) != 0 {
		t.Error("blocked turn must not write a conversation row")
	}
	audits := e.auditRows()
	if len(audits) != 1 || audits[0][5] != security.ResultBlocked {
		t.Errorf("audit rows wrong: %v", audits)
	}
}

func TestHandle_RateLimited(t *testing.T) {
	e := newEnv(t, llm.CallerFunc(func(context.Context, string, string) (string, error) {
		return "ok", nil
	}), 3)

	for i := 0; i < 3; i++ {
		if res := e.pipe.Handle(context.Background(), "u2", "hello", "telegram"); res.Status != pipeline.StatusSuccess {
			t.Fatalf("turn %d: %q", i+1, res.Status)
		}
	}
	res := e.pipe.Handle(context.Background(), "u2", "hello", "telegram")
	if res.Status != pipeline.StatusRateLimited {
		t.Fatalf("Status = %q, want rate_limited", res.Status)
	}
	if len(e.messageRows()) != 3 {
		t.Errorf("denied turn must not write a conversation row: %d rows", len(e.messageRows()))
	}
}

func TestHandle_AllProvidersFailed(t *testing.T) {
	e := newEnv(t, llm.CallerFunc(func(context.Context, string, string) (string, error) {
		return "", errors.New("503")
	}), 20)

	res := e.pipe.Handle(context.Background(), "u1", "hello", "telegram")
	if res.Status != pipeline.StatusError || res.Reason != pipeline.ReasonAllProvidersFailed {
		t.Fatalf("got status %q reason %q", res.Status, res.Reason)
	}
	if res.Reply == "" {
		t.Error("failed turns still need an apology reply")
	}
	if len(e.messageRows()) != 0 {
		t.Error("failed turn must not write a conversation row")
	}
	audits := e.auditRows()
	if len(audits) != 1 || audits[0][5] != security.ResultError {
		t.Errorf("audit rows wrong: %v", audits)
	}
}

func TestHandle_PersistFailureStillReplies(t *testing.T) {
	e := newEnv(t, llm.CallerFunc(func(context.Context, string, string) (string, error) {
		return "hi there", nil
	}), 20)
	// Both the write and its single retry fail; the audit write after
	// them succeeds.
	e.backend.FailAppends = 2

	res := e.pipe.Handle(context.Background(), "u1", "hello", "telegram")
	if res.Status != pipeline.StatusSuccess || res.Reply != "hi there" {
		t.Fatalf("store trouble must not cost the user their reply: %+v", res)
	}
	if len(e.messageRows()) != 0 {
		t.Errorf("dropped row appeared anyway: %v", e.messageRows())
	}

	var droppedAudit bool
	for _, row := range e.auditRows() {
		if row[2] == "message_row_dropped" {
			droppedAudit = true
		}
	}
	if !droppedAudit {
		t.Error("dropping the row must leave an audit record")
	}
}

func TestHandle_CancelledBeforeGenerate(t *testing.T) {
	e := newEnv(t, llm.CallerFunc(func(ctx context.Context, _, _ string) (string, error) {
		return "", ctx.Err()
	}), 20)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := e.pipe.Handle(ctx, "u1", "hello", "telegram")
	if res.Status != pipeline.StatusError {
		t.Fatalf("Status = %q, want error", res.Status)
	}
	if len(e.messageRows()) != 0 {
		t.Error("cancelled turn must leave no conversation row")
	}
}

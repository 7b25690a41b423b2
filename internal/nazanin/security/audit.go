package security

import (
	"context"
	"log/slog"
	"time"

	"github.com/nazanin-ai/nazanin/internal/nazanin/sheets"
)

// Audit results.
const (
	ResultAllowed     = "allowed"
	ResultDenied      = "denied"
	ResultBlocked     = "blocked"
	ResultRateLimited = "rate_limited"
	ResultError       = "error"
	ResultSuccess     = "success"
)

// Auditor appends access records to the security workbook. Writes are
// best effort: a failed audit write never fails the operation that
// triggered it, it only produces a local log line.
type Auditor struct {
	store  *sheets.Store
	logger *slog.Logger
	now    func() time.Time
}

func NewAuditor(store *sheets.Store, logger *slog.Logger) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{store: store, logger: logger, now: time.Now}
}

// Record appends one audit row: who did what to which target, and how
// it ended.
func (a *Auditor) Record(ctx context.Context, principal, action, target, result string) {
	row := []string{
		a.now().UTC().Format(time.RFC3339),
		principal,
		action,
		target,
		"", // ip_address: chat adapters do not expose one
		result,
	}
	if err := a.store.Append(ctx, sheets.WorkbookSecurityLogs, sheets.SheetAccessLogs, row); err != nil {
		a.logger.Warn("audit write failed",
			"principal", principal,
			"action", action,
			"result", result,
			"error", err)
	}
}

package security

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nazanin-ai/nazanin/internal/nazanin/sheets"
)

// AccessList tracks admins and blocked principals. Both sets live in
// memory for fast checks; the spreadsheet store is the durable source,
// read once at startup and written through on changes.
type AccessList struct {
	store  *sheets.Store
	logger *slog.Logger

	mu      sync.RWMutex
	admins  map[string]bool
	blocked map[string]bool
}

// NewAccessList builds an empty list bound to the store. Call Load to
// populate it.
func NewAccessList(store *sheets.Store, logger *slog.Logger) *AccessList {
	if logger == nil {
		logger = slog.Default()
	}
	return &AccessList{
		store:   store,
		logger:  logger,
		admins:  make(map[string]bool),
		blocked: make(map[string]bool),
	}
}

// Load reads both sets from the store. Blocked principals come from the
// security workbook; admins from the comma-separated "admins" entry in
// the system config sheet.
func (a *AccessList) Load(ctx context.Context) error {
	blockedRows, err := a.store.Read(ctx, sheets.WorkbookSecurityLogs, sheets.SheetBlockedUsers, false)
	if err != nil {
		return fmt.Errorf("security: load blocked users: %w", err)
	}
	configRows, err := a.store.Read(ctx, sheets.WorkbookCoreData, sheets.SheetSystemConfig, false)
	if err != nil {
		return fmt.Errorf("security: load system config: %w", err)
	}

	blocked := make(map[string]bool)
	for _, row := range blockedRows {
		if id := row["user_id"]; id != "" {
			blocked[id] = true
		}
	}
	admins := make(map[string]bool)
	for _, row := range configRows {
		if row["key"] != "admins" {
			continue
		}
		for _, id := range strings.Split(row["value"], ",") {
			if id = strings.TrimSpace(id); id != "" {
				admins[id] = true
			}
		}
	}

	a.mu.Lock()
	a.blocked = blocked
	a.admins = admins
	a.mu.Unlock()

	a.logger.Info("access lists loaded",
		"admins", len(admins),
		"blocked", len(blocked))
	return nil
}

// IsBlocked reports whether the principal is denied outright. Admins
// are never blocked, even if a stale row lists them.
func (a *AccessList) IsBlocked(principal string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.admins[principal] {
		return false
	}
	return a.blocked[principal]
}

// IsAdmin reports whether the principal has admin privileges.
func (a *AccessList) IsAdmin(principal string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.admins[principal]
}

// Block adds the principal to the block list and persists the row.
func (a *AccessList) Block(ctx context.Context, principal, reason string) error {
	a.mu.Lock()
	already := a.blocked[principal]
	a.blocked[principal] = true
	a.mu.Unlock()

	if already {
		return nil
	}
	row := []string{
		principal,
		reason,
		time.Now().UTC().Format(time.RFC3339),
		"", // blocked_until: indefinite
		"manual",
	}
	if err := a.store.Append(ctx, sheets.WorkbookSecurityLogs, sheets.SheetBlockedUsers, row); err != nil {
		return fmt.Errorf("security: persist block for %s: %w", principal, err)
	}
	return nil
}

// Unblock removes the principal from the in-memory set. The durable row
// stays for the record; clearing it from the sheet is a manual step.
func (a *AccessList) Unblock(principal string) {
	a.mu.Lock()
	delete(a.blocked, principal)
	a.mu.Unlock()
}

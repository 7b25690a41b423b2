// Package app wires the configured components into a running bot and
// owns their lifecycle.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nazanin-ai/nazanin/internal/nazanin/classify"
	"github.com/nazanin-ai/nazanin/internal/nazanin/config"
	"github.com/nazanin-ai/nazanin/internal/nazanin/llm"
	"github.com/nazanin-ai/nazanin/internal/nazanin/matrix"
	"github.com/nazanin-ai/nazanin/internal/nazanin/pipeline"
	"github.com/nazanin-ai/nazanin/internal/nazanin/security"
	"github.com/nazanin-ai/nazanin/internal/nazanin/sheets"
	"github.com/nazanin-ai/nazanin/internal/nazanin/telegram"
)

// keyReloadInterval is how often provider key pools refresh from the
// store while the bot runs.
const keyReloadInterval = 10 * time.Minute

// adapter is the common surface of the chat transports.
type adapter interface {
	Start(ctx context.Context, handler func(ctx context.Context, sender, text string) string) error
	Stop()
}

// App holds every long-lived component of a deployment.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	store      *sheets.Store
	gateway    *llm.Gateway
	classifier *classify.Classifier
	access     *security.AccessList
	pipe       *pipeline.Pipeline
	health     *HealthServer
	adapter    adapter
	closers    []func() error
}

// New assembles the application from its configuration. Nothing is
// started yet; call Bootstrap and Run.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := slog.Default()
	a := &App{cfg: cfg, logger: logger}

	backend, ids, err := a.buildBackend(ctx)
	if err != nil {
		return nil, err
	}
	a.store = sheets.New(backend, ids, sheets.WithCacheTTL(cfg.Backend.CacheTTL()))

	providers := make([]*llm.Provider, 0, len(cfg.Gateway.Providers))
	for _, pc := range cfg.Gateway.Providers {
		caller, err := llm.NewCaller(pc.Name, pc.Model, pc.BaseURL)
		if err != nil {
			return nil, err
		}
		providers = append(providers, llm.NewProvider(pc.Name, pc.Model, pc.Priority, pc.Keys, caller))
	}
	a.gateway = llm.NewGateway(providers,
		llm.WithMaxRetries(cfg.Gateway.MaxRetries),
		llm.WithCallTimeout(cfg.Gateway.CallTimeout()),
		llm.WithLogger(logger))

	a.classifier = classify.New()
	a.access = security.NewAccessList(a.store, logger)
	limiter := security.NewRateLimiter(cfg.Limits.MaxEvents(), cfg.Limits.Window())
	auditor := security.NewAuditor(a.store, logger)

	a.pipe = pipeline.New(a.store, a.gateway, a.classifier, a.access, limiter, auditor,
		pipeline.WithRole(cfg.Pipeline.Role),
		pipeline.WithOuterTimeout(cfg.Pipeline.OuterTimeout()),
		pipeline.WithLogger(logger))

	if cfg.HTTP.Addr != "" {
		a.health = NewHealthServer(cfg.HTTP.Addr, a.gateway, a.classifier)
	}

	switch cfg.Adapter {
	case config.AdapterTelegram:
		a.adapter = telegramAdapter{telegram.New(cfg.Telegram.Token, logger)}
	case config.AdapterMatrix:
		mc, err := matrix.New(matrix.Config{
			Homeserver:  cfg.Matrix.Homeserver,
			UserID:      cfg.Matrix.UserID,
			AccessToken: cfg.Matrix.AccessToken,
			Rooms:       cfg.Matrix.Rooms,
		}, logger)
		if err != nil {
			return nil, err
		}
		a.adapter = matrixAdapter{mc}
	case config.AdapterNone:
		// Bootstrap-only or health-only deployments.
	}

	return a, nil
}

// buildBackend constructs the configured tabular backend and the
// workbook name → id mapping.
func (a *App) buildBackend(ctx context.Context) (sheets.Backend, map[string]string, error) {
	switch a.cfg.Backend.Mode {
	case config.BackendGoogle:
		backend, err := sheets.NewGoogleBackend(ctx, a.cfg.Backend.CredentialsFile)
		if err != nil {
			return nil, nil, fmt.Errorf("app: google backend: %w", err)
		}
		return backend, a.cfg.Backend.WorkbookIDs, nil
	case config.BackendSQLite:
		backend, err := sheets.NewSQLiteBackend(a.cfg.Backend.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("app: sqlite backend: %w", err)
		}
		a.closers = append(a.closers, backend.Close)
		// SQLite workbooks spring into existence on first use, so every
		// declared workbook maps to itself unless the config overrides.
		ids := make(map[string]string)
		for _, name := range sheets.WorkbookNames() {
			ids[name] = name
		}
		for name, id := range a.cfg.Backend.WorkbookIDs {
			ids[name] = id
		}
		return backend, ids, nil
	default:
		return nil, nil, fmt.Errorf("app: unknown backend mode %q", a.cfg.Backend.Mode)
	}
}

// Bootstrap provisions the declared workbook schema. The returned stats
// carry any per-sheet errors; the caller decides whether they are fatal.
func (a *App) Bootstrap(ctx context.Context) (sheets.BootstrapStats, error) {
	return a.store.Bootstrap(ctx)
}

// Run starts the health server and the chat adapter, then blocks until
// the context is cancelled or a component fails. Access lists and API
// keys load from the store before any message is accepted.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := a.access.Load(ctx); err != nil {
		a.logger.Warn("access lists unavailable, starting with empty sets", "error", err)
	}
	if err := a.gateway.ReloadKeys(ctx, storeKeySource{a.store}); err != nil {
		a.logger.Warn("stored api keys unavailable, using configured keys", "error", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	if a.health != nil {
		if err := a.health.Start(ctx); err != nil {
			a.logger.Warn("health server failed to start, continuing without it", "error", err)
		}
	}

	if a.adapter != nil {
		if err := a.adapter.Start(ctx, a.handleMessage); err != nil {
			return fmt.Errorf("app: start adapter: %w", err)
		}
	}

	// Periodic key reload: picks up rotated keys from the store and
	// lifts quarantines so failed keys get retried eventually.
	g.Go(func() error {
		ticker := time.NewTicker(keyReloadInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if err := a.gateway.ReloadKeys(ctx, storeKeySource{a.store}); err != nil {
					a.logger.Warn("key reload failed", "error", err)
				}
			}
		}
	})

	a.logger.Info("nazanin running",
		"adapter", string(a.cfg.Adapter),
		"backend", string(a.cfg.Backend.Mode),
		"providers", len(a.cfg.Gateway.Providers))
	return g.Wait()
}

// Stop tears the components down in reverse start order.
func (a *App) Stop() {
	if a.adapter != nil {
		a.adapter.Stop()
	}
	if a.health != nil {
		a.health.Stop()
	}
	for _, close := range a.closers {
		if err := close(); err != nil {
			a.logger.Warn("close failed", "error", err)
		}
	}
}

// handleMessage is the adapter callback: one inbound message in, the
// reply to send out.
func (a *App) handleMessage(ctx context.Context, sender, text string) string {
	res := a.pipe.Handle(ctx, sender, text, string(a.cfg.Adapter))
	return res.Reply
}

// matrixAdapter and telegramAdapter narrow the clients to the adapter
// interface; each package declares its own Handler type.
type matrixAdapter struct {
	*matrix.Client
}

func (m matrixAdapter) Start(ctx context.Context, handler func(ctx context.Context, sender, text string) string) error {
	return m.Client.Start(ctx, matrix.Handler(handler))
}

type telegramAdapter struct {
	*telegram.Bot
}

func (t telegramAdapter) Start(ctx context.Context, handler func(ctx context.Context, sender, text string) string) error {
	return t.Bot.Start(ctx, telegram.Handler(handler))
}

// storeKeySource reads provider key pools from the core workbook's key
// sheet. Rows whose status is anything but active (or blank) are
// skipped.
type storeKeySource struct {
	store *sheets.Store
}

func (s storeKeySource) ProviderKeys(ctx context.Context) (map[string][]string, error) {
	records, err := s.store.Read(ctx, sheets.WorkbookCoreData, sheets.SheetAPIKeys, false)
	if err != nil {
		return nil, err
	}
	pools := make(map[string][]string)
	for _, rec := range records {
		provider := strings.TrimSpace(rec["provider"])
		key := strings.TrimSpace(rec["key"])
		if provider == "" || key == "" {
			continue
		}
		if status := rec["status"]; status != "" && status != "active" {
			continue
		}
		pools[provider] = append(pools[provider], key)
	}
	return pools, nil
}

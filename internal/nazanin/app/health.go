package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/nazanin-ai/nazanin/common/version"
	"github.com/nazanin-ai/nazanin/internal/nazanin/llm"
)

// HealthServer exposes /health and /status. It is optional; the bot
// runs without it when http.addr is empty.
type HealthServer struct {
	addr       string
	gateway    gatewayStats
	classifier classifierStats
	startedAt  time.Time
	server     *http.Server
	mux        *http.ServeMux
}

// gatewayStats is the minimal surface the status endpoint needs from
// the gateway.
type gatewayStats interface {
	Stats() []llm.ProviderStats
}

// classifierStats is the minimal surface needed from the classifier.
type classifierStats interface {
	Histogram() map[string]int64
}

// healthResponse is returned by GET /health.
type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

// statusResponse is returned by GET /status.
type statusResponse struct {
	Status     string              `json:"status"`
	Version    string              `json:"version"`
	Commit     string              `json:"commit"`
	BuildTime  string              `json:"build_time"`
	StartedAt  time.Time           `json:"started_at"`
	UptimeSecs float64             `json:"uptime_seconds"`
	Providers  []llm.ProviderStats `json:"providers"`
	Categories map[string]int64    `json:"categories"`
}

// NewHealthServer creates and configures the HTTP server (does not
// start it).
func NewHealthServer(addr string, gateway gatewayStats, classifier classifierStats) *HealthServer {
	mux := http.NewServeMux()
	hs := &HealthServer{
		addr:       addr,
		gateway:    gateway,
		classifier: classifier,
		startedAt:  time.Now(),
		mux:        mux,
	}
	mux.HandleFunc("/health", hs.handleHealth)
	mux.HandleFunc("/status", hs.handleStatus)
	return hs
}

// ServeHTTP implements http.Handler so the server can be tested without
// a live network listener.
func (h *HealthServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// Start begins listening in the background. Blocks until the listener
// is established so the caller knows the port is open before returning.
func (h *HealthServer) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("health server: listen %s: %w", h.addr, err)
	}

	h.server = &http.Server{
		Handler:      h,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("health server listening", "addr", ln.Addr().String())
		if err := h.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("health server stopped", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		h.Stop()
	}()

	return nil
}

// Stop shuts down the HTTP server.
func (h *HealthServer) Stop() {
	if h.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.server.Shutdown(ctx); err != nil {
		slog.Warn("health server shutdown error", "error", err)
	}
}

func (h *HealthServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:  "ok",
		Version: version.Version,
		Commit:  version.GitCommit,
	})
}

func (h *HealthServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Status:     "ok",
		Version:    version.Version,
		Commit:     version.GitCommit,
		BuildTime:  version.BuildTime,
		StartedAt:  h.startedAt,
		UptimeSecs: time.Since(h.startedAt).Seconds(),
	}
	if h.gateway != nil {
		resp.Providers = h.gateway.Stats()
	}
	if h.classifier != nil {
		resp.Categories = h.classifier.Histogram()
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("health: encode response failed", "error", err)
	}
}

package config_test

import (
	"strings"
	"testing"
	"time"

	"github.com/nazanin-ai/nazanin/internal/nazanin/config"
)

const validYAML = `
log:
  level: debug
  format: json
adapter: telegram
backend:
  mode: sqlite
  sqlite_path: /tmp/nazanin-test.db
  cache_ttl_seconds: 120
gateway:
  max_retries: 2
  call_timeout_seconds: 15
  providers:
    - name: groq
      keys: [k1, k2]
      model: llama-3.1-70b-versatile
      priority: 10
    - name: openai
      keys: [k3]
      model: gpt-4o-mini
      priority: 7
limits:
  window_seconds: 10
  max_events_per_window: 3
pipeline:
  role: a concise assistant
  outer_timeout_seconds: 45
telegram:
  token: "123456:test-token"
`

func TestParse_ValidDocument(t *testing.T) {
	cfg, err := config.Parse([]byte(validYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if cfg.Backend.CacheTTL() != 2*time.Minute {
		t.Errorf("cache TTL: got %v, want 2m", cfg.Backend.CacheTTL())
	}
	if cfg.Gateway.CallTimeout() != 15*time.Second {
		t.Errorf("call timeout: got %v, want 15s", cfg.Gateway.CallTimeout())
	}
	if cfg.Limits.MaxEvents() != 3 {
		t.Errorf("max events: got %d, want 3", cfg.Limits.MaxEvents())
	}
	if cfg.Pipeline.OuterTimeout() != 45*time.Second {
		t.Errorf("outer timeout: got %v, want 45s", cfg.Pipeline.OuterTimeout())
	}
	if len(cfg.Gateway.Providers) != 2 || cfg.Gateway.Providers[0].Name != "groq" {
		t.Errorf("providers decoded wrong: %+v", cfg.Gateway.Providers)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestParse_AppliesDefaults(t *testing.T) {
	cfg, err := config.Parse([]byte("adapter: none\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "text" {
		t.Errorf("log defaults: %+v", cfg.Log)
	}
	if cfg.Gateway.MaxRetries != 3 {
		t.Errorf("max_retries default: got %d, want 3", cfg.Gateway.MaxRetries)
	}
	if cfg.Backend.CacheTTL() != 5*time.Minute {
		t.Errorf("cache TTL default: got %v, want 5m", cfg.Backend.CacheTTL())
	}
	if cfg.Pipeline.OuterTimeout() != time.Minute {
		t.Errorf("outer timeout default: got %v, want 1m", cfg.Pipeline.OuterTimeout())
	}
}

func TestParse_RejectsUnknownSection(t *testing.T) {
	_, err := config.Parse([]byte("organism:\n  cells: 7\n"))
	if err == nil {
		t.Fatal("expected schema validation error for unknown section")
	}
	if !strings.Contains(err.Error(), "validate") {
		t.Errorf("error should come from schema validation, got: %v", err)
	}
}

func TestParse_RejectsWrongType(t *testing.T) {
	_, err := config.Parse([]byte("limits:\n  window_seconds: ten\n"))
	if err == nil {
		t.Fatal("expected schema validation error for string window_seconds")
	}
}

func TestValidate_TelegramNeedsToken(t *testing.T) {
	cfg, err := config.Parse([]byte("adapter: telegram\nbackend:\n  mode: sqlite\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if err := cfg.Validate(); err == nil {
		t.Error("expected Validate to reject telegram adapter without token")
	}
}

func TestValidate_GoogleNeedsCredentials(t *testing.T) {
	cfg, err := config.Parse([]byte("adapter: none\nbackend:\n  mode: google\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if err := cfg.Validate(); err == nil {
		t.Error("expected Validate to reject google backend without credentials_file")
	}
}

func TestValidate_DuplicateProvider(t *testing.T) {
	doc := `
adapter: none
backend:
  mode: sqlite
gateway:
  providers:
    - {name: groq, model: m1}
    - {name: groq, model: m2}
`
	cfg, err := config.Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if err := cfg.Validate(); err == nil {
		t.Error("expected Validate to reject duplicate provider names")
	}
}

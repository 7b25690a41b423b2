// Package config loads and validates the declarative configuration file.
//
// The file is YAML, read once at startup. Structural validation runs against
// an embedded JSON schema before any field is interpreted, so a typo in a
// section name fails fast with a path to the offending key instead of being
// silently ignored. Secrets (the Telegram token, the Matrix access token,
// provider keys) may be supplied via environment variables instead of the
// file; the environment always wins.
package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/nazanin-ai/nazanin/common/environment"
)

//go:embed schema.json
var schemaJSON string

// Adapter selects the chat transport that feeds the pipeline.
type Adapter string

const (
	AdapterTelegram Adapter = "telegram"
	AdapterMatrix   Adapter = "matrix"
	// AdapterNone runs bootstrap and the health server without a chat
	// transport. Used for provisioning a fresh spreadsheet set.
	AdapterNone Adapter = "none"
)

// BackendMode selects the tabular backend implementation.
type BackendMode string

const (
	BackendGoogle BackendMode = "google"
	BackendSQLite BackendMode = "sqlite"
)

// Config is the root configuration object.
type Config struct {
	Log      LogConfig      `yaml:"log"`
	Adapter  Adapter        `yaml:"adapter"`
	Backend  BackendConfig  `yaml:"backend"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Limits   LimitsConfig   `yaml:"limits"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Telegram TelegramConfig `yaml:"telegram"`
	Matrix   MatrixConfig   `yaml:"matrix"`
	HTTP     HTTPConfig     `yaml:"http"`
}

// LogConfig controls the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// BackendConfig configures the spreadsheet-backed state store.
type BackendConfig struct {
	Mode            BackendMode       `yaml:"mode"`
	CredentialsFile string            `yaml:"credentials_file"`
	SQLitePath      string            `yaml:"sqlite_path"`
	WorkbookIDs     map[string]string `yaml:"workbook_ids"`
	CacheTTLSeconds int               `yaml:"cache_ttl_seconds"`
	// FatalOnBootstrapError aborts startup (exit code 2) when bootstrap
	// reports any error. When false the bot starts degraded and the errors
	// are only logged.
	FatalOnBootstrapError bool `yaml:"fatal_on_bootstrap_error"`
}

// CacheTTL returns the read-cache lifetime, defaulting to 5 minutes.
func (b BackendConfig) CacheTTL() time.Duration {
	if b.CacheTTLSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(b.CacheTTLSeconds) * time.Second
}

// GatewayConfig configures the LLM gateway.
type GatewayConfig struct {
	MaxRetries         int              `yaml:"max_retries"`
	CallTimeoutSeconds int              `yaml:"call_timeout_seconds"`
	Providers          []ProviderConfig `yaml:"providers"`
}

// CallTimeout returns the per-provider-call timeout, defaulting to 30 s.
func (g GatewayConfig) CallTimeout() time.Duration {
	if g.CallTimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(g.CallTimeoutSeconds) * time.Second
}

// ProviderConfig declares one LLM provider and its key pool.
type ProviderConfig struct {
	Name     string   `yaml:"name"`
	Keys     []string `yaml:"keys"`
	Model    string   `yaml:"model"`
	Priority int      `yaml:"priority"`
	// BaseURL overrides the API endpoint for OpenAI-compatible providers.
	BaseURL string `yaml:"base_url"`
}

// LimitsConfig configures the per-principal rate limiter.
type LimitsConfig struct {
	WindowSeconds      int `yaml:"window_seconds"`
	MaxEventsPerWindow int `yaml:"max_events_per_window"`
}

// Window returns the rate-limit window, defaulting to one minute.
func (l LimitsConfig) Window() time.Duration {
	if l.WindowSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(l.WindowSeconds) * time.Second
}

// MaxEvents returns the per-window cap, defaulting to 20.
func (l LimitsConfig) MaxEvents() int {
	if l.MaxEventsPerWindow <= 0 {
		return 20
	}
	return l.MaxEventsPerWindow
}

// PipelineConfig configures the interaction pipeline.
type PipelineConfig struct {
	Role                string `yaml:"role"`
	OuterTimeoutSeconds int    `yaml:"outer_timeout_seconds"`
}

// OuterTimeout returns the whole-turn deadline, defaulting to 60 s.
func (p PipelineConfig) OuterTimeout() time.Duration {
	if p.OuterTimeoutSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(p.OuterTimeoutSeconds) * time.Second
}

// TelegramConfig configures the Telegram Bot API adapter.
type TelegramConfig struct {
	Token string `yaml:"token"`
}

// MatrixConfig configures the Matrix adapter.
type MatrixConfig struct {
	Homeserver  string   `yaml:"homeserver"`
	UserID      string   `yaml:"user_id"`
	AccessToken string   `yaml:"access_token"`
	Rooms       []string `yaml:"rooms"`
}

// HTTPConfig configures the optional health/status server.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// Load reads, validates, and defaults the configuration file at path, then
// applies environment overrides. It is the canonical entry point for
// configuration loading.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

// Parse decodes a YAML document into a Config and validates it against the
// embedded JSON schema.
func Parse(data []byte) (*Config, error) {
	// Schema validation runs on the generic document so unknown keys and
	// type mismatches are reported with their path. The YAML document is
	// round-tripped through encoding/json because the validator expects
	// json.Unmarshal value types.
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if doc != nil {
		jsonDoc, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("config: normalize: %w", err)
		}
		var v any
		if err := json.Unmarshal(jsonDoc, &v); err != nil {
			return nil, fmt.Errorf("config: normalize: %w", err)
		}
		if err := compiledSchema().Validate(v); err != nil {
			return nil, fmt.Errorf("config: validate: %w", err)
		}
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	setDefaults(&cfg)
	return &cfg, nil
}

// compiledSchema compiles the embedded schema. The schema ships with the
// binary, so a compile failure is a programming error.
func compiledSchema() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("config.schema.json", strings.NewReader(schemaJSON)); err != nil {
		panic(fmt.Sprintf("config: add schema resource: %v", err))
	}
	schema, err := compiler.Compile("config.schema.json")
	if err != nil {
		panic(fmt.Sprintf("config: compile embedded schema: %v", err))
	}
	return schema
}

func setDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	if cfg.Adapter == "" {
		cfg.Adapter = AdapterTelegram
	}
	if cfg.Backend.Mode == "" {
		cfg.Backend.Mode = BackendGoogle
	}
	if cfg.Backend.SQLitePath == "" {
		cfg.Backend.SQLitePath = "./nazanin.db"
	}
	if cfg.Gateway.MaxRetries <= 0 {
		cfg.Gateway.MaxRetries = 3
	}
	if cfg.Pipeline.Role == "" {
		cfg.Pipeline.Role = "a helpful personal assistant"
	}
}

// applyEnvOverrides lets secrets and deploy-specific knobs come from the
// environment instead of the config file.
func applyEnvOverrides(cfg *Config) {
	cfg.Log.Level = environment.StringOr("NAZANIN_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = environment.StringOr("NAZANIN_LOG_FORMAT", cfg.Log.Format)
	cfg.Telegram.Token = environment.StringOr("NAZANIN_TELEGRAM_TOKEN", cfg.Telegram.Token)
	cfg.Matrix.AccessToken = environment.StringOr("NAZANIN_MATRIX_ACCESS_TOKEN", cfg.Matrix.AccessToken)
	cfg.Backend.CredentialsFile = environment.StringOr("NAZANIN_CREDENTIALS_FILE", cfg.Backend.CredentialsFile)
	cfg.HTTP.Addr = environment.StringOr("NAZANIN_HTTP_ADDR", cfg.HTTP.Addr)
}

// Validate checks cross-field requirements that the JSON schema cannot
// express. It returns the first problem found.
func (c *Config) Validate() error {
	switch c.Adapter {
	case AdapterTelegram:
		if c.Telegram.Token == "" {
			return fmt.Errorf("config: adapter is telegram but telegram.token is empty")
		}
	case AdapterMatrix:
		if c.Matrix.Homeserver == "" || c.Matrix.UserID == "" || c.Matrix.AccessToken == "" {
			return fmt.Errorf("config: adapter is matrix but matrix.{homeserver,user_id,access_token} are incomplete")
		}
		if len(c.Matrix.Rooms) == 0 {
			return fmt.Errorf("config: adapter is matrix but matrix.rooms is empty")
		}
	case AdapterNone:
	default:
		return fmt.Errorf("config: unknown adapter %q", c.Adapter)
	}

	if c.Backend.Mode == BackendGoogle && c.Backend.CredentialsFile == "" {
		return fmt.Errorf("config: backend.mode is google but backend.credentials_file is empty")
	}

	seen := make(map[string]struct{}, len(c.Gateway.Providers))
	for i, p := range c.Gateway.Providers {
		if p.Name == "" {
			return fmt.Errorf("config: gateway.providers[%d]: name is empty", i)
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("config: gateway.providers[%d]: duplicate provider %q", i, p.Name)
		}
		seen[p.Name] = struct{}{}
	}
	return nil
}

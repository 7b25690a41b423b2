package llm

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"
)

const (
	defaultCallTimeout  = 30 * time.Second
	defaultMaxRetries   = 3
	defaultAttemptDelay = 500 * time.Millisecond
)

// Known OpenAI-compatible endpoints, keyed by provider name. Anything
// not listed here needs an explicit base URL in the config.
var defaultBaseURLs = map[string]string{
	"openai":     "https://api.openai.com/v1",
	"groq":       "https://api.groq.com/openai/v1",
	"together":   "https://api.together.xyz/v1",
	"deepseek":   "https://api.deepseek.com/v1",
	"openrouter": "https://openrouter.ai/api/v1",
}

// NewCaller builds the right Caller for a provider name. Gemini goes
// through the SDK; everything else speaks the chat completions format.
func NewCaller(name, model, baseURL string) (Caller, error) {
	if name == "gemini" {
		return &GeminiCaller{Model: model}, nil
	}
	if baseURL == "" {
		baseURL = defaultBaseURLs[name]
	}
	if baseURL == "" {
		return nil, fmt.Errorf("llm: provider %s: no base URL known, set one in the config", name)
	}
	return &OpenAICaller{BaseURL: baseURL, Model: model}, nil
}

// KeySource yields the current key pool per provider name, typically
// backed by the spreadsheet store.
type KeySource interface {
	ProviderKeys(ctx context.Context) (map[string][]string, error)
}

// Gateway fans a generation request out across providers until one
// answers. Providers are tried in priority order (highest first), each
// getting a bounded number of attempts with rotating keys.
type Gateway struct {
	providers   []*Provider
	preferred   string
	maxRetries  int
	callTimeout time.Duration
	delay       time.Duration
	sleep       func(ctx context.Context, d time.Duration)
	logger      *slog.Logger
}

// GatewayOption customizes gateway behavior.
type GatewayOption func(*Gateway)

// WithPreferred names the provider to try first, ahead of priority
// order. Unknown names are ignored.
func WithPreferred(name string) GatewayOption {
	return func(g *Gateway) { g.preferred = name }
}

// WithMaxRetries caps attempts per provider within one Generate call.
func WithMaxRetries(n int) GatewayOption {
	return func(g *Gateway) {
		if n > 0 {
			g.maxRetries = n
		}
	}
}

// WithCallTimeout bounds each individual model call.
func WithCallTimeout(d time.Duration) GatewayOption {
	return func(g *Gateway) {
		if d > 0 {
			g.callTimeout = d
		}
	}
}

// WithAttemptDelay sets the pause between failed attempts.
func WithAttemptDelay(d time.Duration) GatewayOption {
	return func(g *Gateway) { g.delay = d }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) GatewayOption {
	return func(g *Gateway) { g.logger = l }
}

// NewGateway assembles a gateway over the given providers.
func NewGateway(providers []*Provider, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		providers:   append([]*Provider(nil), providers...),
		maxRetries:  defaultMaxRetries,
		callTimeout: defaultCallTimeout,
		delay:       defaultAttemptDelay,
		sleep:       sleepCtx,
		logger:      slog.Default(),
	}
	sort.SliceStable(g.providers, func(i, j int) bool {
		return g.providers[i].priority > g.providers[j].priority
	})
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// order returns providers in attempt order: the preferred one first,
// then the rest by descending priority.
func (g *Gateway) order() []*Provider {
	if g.preferred == "" {
		return g.providers
	}
	out := make([]*Provider, 0, len(g.providers))
	for _, p := range g.providers {
		if p.name == g.preferred {
			out = append(out, p)
			break
		}
	}
	for _, p := range g.providers {
		if p.name != g.preferred {
			out = append(out, p)
		}
	}
	return out
}

// Generate runs the prompt through the provider chain and returns the
// first successful reply. Every failed attempt quarantines the key it
// used; once a provider runs out of usable keys or retries, the next
// provider takes over. ErrAllProvidersFailed means the whole chain was
// exhausted.
func (g *Gateway) Generate(ctx context.Context, prompt string) (string, error) {
	for _, p := range g.order() {
		for attempt := 0; attempt < g.maxRetries; attempt++ {
			if err := ctx.Err(); err != nil {
				return "", err
			}

			key, err := p.nextKey()
			if err != nil {
				g.logger.Debug("provider has no usable keys, moving on",
					"provider", p.name)
				break
			}

			callCtx, cancel := context.WithTimeout(ctx, g.callTimeout)
			start := time.Now()
			reply, err := p.caller.Call(callCtx, key, prompt)
			cancel()

			if err == nil {
				p.recordSuccess(time.Since(start))
				return reply, nil
			}

			p.recordFailure()
			p.quarantine(key)
			g.logger.Warn("model call failed, key quarantined",
				"provider", p.name,
				"attempt", attempt+1,
				"error", err)

			if g.delay > 0 {
				g.sleep(ctx, g.delay)
			}
		}
	}
	return "", ErrAllProvidersFailed
}

// ReloadKeys swaps every provider's key pool for the ones the source
// currently holds, lifting all quarantines. Providers missing from the
// source keep their existing pool.
func (g *Gateway) ReloadKeys(ctx context.Context, src KeySource) error {
	pools, err := src.ProviderKeys(ctx)
	if err != nil {
		return fmt.Errorf("llm: reload keys: %w", err)
	}
	reloaded := 0
	for _, p := range g.providers {
		keys, ok := pools[p.name]
		if !ok {
			continue
		}
		p.ReplaceKeys(keys)
		reloaded++
	}
	g.logger.Info("api keys reloaded",
		"providers_updated", reloaded,
		"providers_total", len(g.providers))
	return nil
}

// Stats snapshots all provider counters in attempt order.
func (g *Gateway) Stats() []ProviderStats {
	out := make([]ProviderStats, 0, len(g.providers))
	for _, p := range g.providers {
		out = append(out, p.Stats())
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

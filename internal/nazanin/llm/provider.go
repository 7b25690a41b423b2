// Package llm routes text generation across multiple model providers,
// each holding a pool of API keys. Keys rotate round-robin and are
// quarantined when a call through them fails; a failed provider is
// skipped in favour of the next one by priority.
package llm

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrNoKeyAvailable means every key of a provider is quarantined
	// (or the provider has no keys at all).
	ErrNoKeyAvailable = errors.New("llm: no key available")
	// ErrAllProvidersFailed means every provider was tried and none
	// produced a reply.
	ErrAllProvidersFailed = errors.New("llm: all providers failed")
)

// Caller performs one model invocation with a specific API key.
// Implementations are stateless with respect to key rotation; the
// Provider decides which key each call uses.
type Caller interface {
	Call(ctx context.Context, apiKey, prompt string) (string, error)
}

// CallerFunc adapts a function to the Caller interface.
type CallerFunc func(ctx context.Context, apiKey, prompt string) (string, error)

func (f CallerFunc) Call(ctx context.Context, apiKey, prompt string) (string, error) {
	return f(ctx, apiKey, prompt)
}

// Provider is one upstream model service with its key pool and counters.
type Provider struct {
	name     string
	model    string
	priority int
	caller   Caller

	mu          sync.Mutex
	keys        []string
	quarantined map[string]bool
	cursor      int

	calls        int64
	successes    int64
	failures     int64
	avgLatencyMs float64
}

// NewProvider builds a provider. Higher priority providers are tried
// first by the gateway.
func NewProvider(name, model string, priority int, keys []string, caller Caller) *Provider {
	return &Provider{
		name:        name,
		model:       model,
		priority:    priority,
		caller:      caller,
		keys:        append([]string(nil), keys...),
		quarantined: make(map[string]bool),
	}
}

func (p *Provider) Name() string  { return p.name }
func (p *Provider) Model() string { return p.model }
func (p *Provider) Priority() int { return p.priority }

// nextKey picks the next usable key round-robin, skipping quarantined
// ones. The cursor advances past the chosen key so that consecutive
// calls spread evenly across the pool.
func (p *Provider) nextKey() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.keys)
	for i := 0; i < n; i++ {
		idx := (p.cursor + i) % n
		key := p.keys[idx]
		if p.quarantined[key] {
			continue
		}
		p.cursor = (idx + 1) % n
		return key, nil
	}
	return "", ErrNoKeyAvailable
}

// quarantine takes a key out of rotation until the next ReplaceKeys.
func (p *Provider) quarantine(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.quarantined[key] = true
}

func (p *Provider) recordSuccess(latency time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.successes++
	// Rolling average over successful calls only; failures carry no
	// meaningful latency.
	ms := float64(latency.Milliseconds())
	p.avgLatencyMs += (ms - p.avgLatencyMs) / float64(p.successes)
}

func (p *Provider) recordFailure() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.failures++
}

// ReplaceKeys installs a fresh key pool. Quarantine state and the
// rotation cursor reset; previously bad keys get another chance.
func (p *Provider) ReplaceKeys(keys []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append([]string(nil), keys...)
	p.quarantined = make(map[string]bool)
	p.cursor = 0
}

// ProviderStats is a point-in-time snapshot of one provider's counters.
type ProviderStats struct {
	Name         string  `json:"name"`
	Model        string  `json:"model"`
	Priority     int     `json:"priority"`
	Keys         int     `json:"keys"`
	Quarantined  int     `json:"quarantined"`
	Calls        int64   `json:"calls"`
	Successes    int64   `json:"successes"`
	Failures     int64   `json:"failures"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
}

// Stats snapshots the provider counters.
func (p *Provider) Stats() ProviderStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return ProviderStats{
		Name:         p.name,
		Model:        p.model,
		Priority:     p.priority,
		Keys:         len(p.keys),
		Quarantined:  len(p.quarantined),
		Calls:        p.calls,
		Successes:    p.successes,
		Failures:     p.failures,
		AvgLatencyMs: p.avgLatencyMs,
	}
}

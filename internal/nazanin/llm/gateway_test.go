package llm_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/nazanin-ai/nazanin/internal/nazanin/llm"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, &slog.HandlerOptions{Level: slog.LevelError + 4}))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

// recordingCaller notes the key of every call and answers according to
// the verdict function.
type recordingCaller struct {
	keys    []string
	verdict func(key string) error
}

func (c *recordingCaller) Call(_ context.Context, apiKey, _ string) (string, error) {
	c.keys = append(c.keys, apiKey)
	if c.verdict != nil {
		if err := c.verdict(apiKey); err != nil {
			return "", err
		}
	}
	return "reply via " + apiKey, nil
}

func TestGenerate_RoundRobinFairness(t *testing.T) {
	caller := &recordingCaller{}
	p := llm.NewProvider("groq", "llama-3.3-70b", 10,
		[]string{"k1", "k2", "k3"}, caller)
	g := llm.NewGateway([]*llm.Provider{p},
		llm.WithAttemptDelay(0), llm.WithLogger(quietLogger()))

	for i := 0; i < 7; i++ {
		if _, err := g.Generate(context.Background(), "hi"); err != nil {
			t.Fatalf("Generate %d: %v", i, err)
		}
	}

	counts := map[string]int{}
	for _, k := range caller.keys {
		counts[k]++
	}
	// 7 calls over 3 keys must land 3/2/2.
	if counts["k1"] != 3 || counts["k2"] != 2 || counts["k3"] != 2 {
		t.Errorf("uneven key distribution: %v", counts)
	}
}

func TestGenerate_FailedKeyIsQuarantined(t *testing.T) {
	caller := &recordingCaller{verdict: func(key string) error {
		if key == "bad" {
			return errors.New("401 invalid key")
		}
		return nil
	}}
	p := llm.NewProvider("groq", "llama-3.3-70b", 10,
		[]string{"bad", "good"}, caller)
	g := llm.NewGateway([]*llm.Provider{p},
		llm.WithAttemptDelay(0), llm.WithLogger(quietLogger()))

	reply, err := g.Generate(context.Background(), "hi")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if reply != "reply via good" {
		t.Errorf("unexpected reply %q", reply)
	}

	// The bad key must not come back into rotation.
	for i := 0; i < 3; i++ {
		if _, err := g.Generate(context.Background(), "hi"); err != nil {
			t.Fatalf("Generate: %v", err)
		}
	}
	for _, k := range caller.keys[1:] {
		if k == "bad" {
			t.Fatal("quarantined key was used again")
		}
	}

	st := p.Stats()
	if st.Quarantined != 1 {
		t.Errorf("Quarantined = %d, want 1", st.Quarantined)
	}
}

func TestGenerate_FallsThroughToNextProvider(t *testing.T) {
	down := &recordingCaller{verdict: func(string) error {
		return errors.New("503 unavailable")
	}}
	up := &recordingCaller{}
	primary := llm.NewProvider("groq", "llama-3.3-70b", 10, []string{"g1"}, down)
	backup := llm.NewProvider("together", "mixtral", 5, []string{"t1"}, up)

	g := llm.NewGateway([]*llm.Provider{backup, primary},
		llm.WithAttemptDelay(0), llm.WithLogger(quietLogger()))

	reply, err := g.Generate(context.Background(), "hi")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if reply != "reply via t1" {
		t.Errorf("expected backup provider to answer, got %q", reply)
	}
	// Priority order says the primary is tried (and burned) first.
	if len(down.keys) != 1 {
		t.Errorf("primary attempts = %d, want 1", len(down.keys))
	}
}

func TestGenerate_PreferredProviderGoesFirst(t *testing.T) {
	a := &recordingCaller{}
	b := &recordingCaller{}
	high := llm.NewProvider("gemini", "gemini-2.0-flash", 10, []string{"ga"}, a)
	low := llm.NewProvider("groq", "llama-3.3-70b", 1, []string{"gr"}, b)

	g := llm.NewGateway([]*llm.Provider{high, low},
		llm.WithPreferred("groq"),
		llm.WithAttemptDelay(0), llm.WithLogger(quietLogger()))

	reply, err := g.Generate(context.Background(), "hi")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if reply != "reply via gr" {
		t.Errorf("preferred provider should answer first, got %q", reply)
	}
	if len(a.keys) != 0 {
		t.Errorf("higher-priority provider was called %d times", len(a.keys))
	}
}

func TestGenerate_AllProvidersDown(t *testing.T) {
	fail := func(string) error { return errors.New("boom") }
	p1 := llm.NewProvider("groq", "m", 10, []string{"a", "b"}, &recordingCaller{verdict: fail})
	p2 := llm.NewProvider("together", "m", 5, []string{"c"}, &recordingCaller{verdict: fail})

	g := llm.NewGateway([]*llm.Provider{p1, p2},
		llm.WithMaxRetries(5),
		llm.WithAttemptDelay(0), llm.WithLogger(quietLogger()))

	_, err := g.Generate(context.Background(), "hi")
	if !errors.Is(err, llm.ErrAllProvidersFailed) {
		t.Fatalf("expected ErrAllProvidersFailed, got %v", err)
	}

	// Termination is bounded by the key pools, not the retry budget:
	// each key fails once, gets quarantined, and the chain ends.
	var calls int64
	for _, st := range g.Stats() {
		calls += st.Calls
		if st.Calls != st.Successes+st.Failures {
			t.Errorf("%s: calls=%d successes=%d failures=%d",
				st.Name, st.Calls, st.Successes, st.Failures)
		}
	}
	if calls != 3 {
		t.Errorf("total calls = %d, want 3 (one per key)", calls)
	}
}

type mapKeySource map[string][]string

func (m mapKeySource) ProviderKeys(context.Context) (map[string][]string, error) {
	return m, nil
}

func TestReloadKeys_LiftsQuarantine(t *testing.T) {
	attempts := 0
	caller := &recordingCaller{verdict: func(string) error {
		attempts++
		if attempts == 1 {
			return errors.New("flaky")
		}
		return nil
	}}
	p := llm.NewProvider("groq", "m", 10, []string{"only"}, caller)
	g := llm.NewGateway([]*llm.Provider{p},
		llm.WithMaxRetries(1),
		llm.WithAttemptDelay(0), llm.WithLogger(quietLogger()))

	if _, err := g.Generate(context.Background(), "hi"); !errors.Is(err, llm.ErrAllProvidersFailed) {
		t.Fatalf("expected failure with sole key quarantined, got %v", err)
	}

	if err := g.ReloadKeys(context.Background(), mapKeySource{"groq": {"only"}}); err != nil {
		t.Fatalf("ReloadKeys: %v", err)
	}
	if _, err := g.Generate(context.Background(), "hi"); err != nil {
		t.Fatalf("Generate after reload: %v", err)
	}
	if st := p.Stats(); st.Quarantined != 0 {
		t.Errorf("Quarantined = %d after reload, want 0", st.Quarantined)
	}
}

func TestReloadKeys_MissingProviderKeepsPool(t *testing.T) {
	p := llm.NewProvider("groq", "m", 10, []string{"k1"}, &recordingCaller{})
	g := llm.NewGateway([]*llm.Provider{p},
		llm.WithAttemptDelay(0), llm.WithLogger(quietLogger()))

	if err := g.ReloadKeys(context.Background(), mapKeySource{"together": {"x"}}); err != nil {
		t.Fatalf("ReloadKeys: %v", err)
	}
	if _, err := g.Generate(context.Background(), "hi"); err != nil {
		t.Fatalf("Generate: %v", err)
	}
}

func TestGenerate_NoProviders(t *testing.T) {
	g := llm.NewGateway(nil, llm.WithLogger(quietLogger()))
	_, err := g.Generate(context.Background(), "hi")
	if !errors.Is(err, llm.ErrAllProvidersFailed) {
		t.Errorf("expected ErrAllProvidersFailed, got %v", err)
	}
}

func TestNewCaller(t *testing.T) {
	if _, err := llm.NewCaller("gemini", "gemini-2.0-flash", ""); err != nil {
		t.Errorf("gemini: %v", err)
	}
	if _, err := llm.NewCaller("groq", "llama-3.3-70b", ""); err != nil {
		t.Errorf("groq: %v", err)
	}
	if _, err := llm.NewCaller("selfhosted", "m", "http://localhost:11434/v1"); err != nil {
		t.Errorf("explicit base url: %v", err)
	}
	if _, err := llm.NewCaller("selfhosted", "m", ""); err == nil {
		t.Error("unknown provider without base url should fail")
	}
}

func TestProviderStats_AvgLatency(t *testing.T) {
	p := llm.NewProvider("groq", "m", 10, []string{"k"}, &recordingCaller{})
	g := llm.NewGateway([]*llm.Provider{p},
		llm.WithAttemptDelay(0), llm.WithLogger(quietLogger()))
	for i := 0; i < 3; i++ {
		if _, err := g.Generate(context.Background(), fmt.Sprintf("msg %d", i)); err != nil {
			t.Fatalf("Generate: %v", err)
		}
	}
	st := p.Stats()
	if st.Successes != 3 || st.AvgLatencyMs < 0 {
		t.Errorf("stats off: %+v", st)
	}
}

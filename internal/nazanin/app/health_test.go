package app

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nazanin-ai/nazanin/internal/nazanin/llm"
)

type fakeGateway struct {
	stats []llm.ProviderStats
}

func (f fakeGateway) Stats() []llm.ProviderStats { return f.stats }

type fakeClassifier struct {
	hist map[string]int64
}

func (f fakeClassifier) Histogram() map[string]int64 { return f.hist }

func TestHealthEndpoint(t *testing.T) {
	hs := NewHealthServer("127.0.0.1:0", nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	hs.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q, want application/json", ct)
	}

	var body healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q, want ok", body.Status)
	}
	if body.Version == "" {
		t.Error("version is empty")
	}
}

func TestStatusEndpoint(t *testing.T) {
	gw := fakeGateway{stats: []llm.ProviderStats{
		{Name: "groq", Model: "test-model", Priority: 9, Keys: 2},
	}}
	cl := fakeClassifier{hist: map[string]int64{"casual": 3, "question": 1}}

	hs := NewHealthServer("127.0.0.1:0", gw, cl)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	hs.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Providers) != 1 || body.Providers[0].Name != "groq" {
		t.Errorf("providers = %+v, want one groq entry", body.Providers)
	}
	if body.Categories["casual"] != 3 {
		t.Errorf("categories[casual] = %d, want 3", body.Categories["casual"])
	}
	if body.UptimeSecs < 0 {
		t.Errorf("uptime = %f, want >= 0", body.UptimeSecs)
	}
}

func TestStatusEndpointWithoutCollaborators(t *testing.T) {
	hs := NewHealthServer("127.0.0.1:0", nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	hs.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

package redact_test

import (
	"strings"
	"testing"

	"github.com/nazanin-ai/nazanin/common/redact"
)

func TestString_RedactsAllOccurrences(t *testing.T) {
	line := "calling groq with key gsk_abc123 (retry after gsk_abc123 failed)"
	got := redact.String(line, "gsk_abc123")

	if strings.Contains(got, "gsk_abc123") {
		t.Errorf("secret survived redaction: %q", got)
	}
	if strings.Count(got, "[REDACTED]") != 2 {
		t.Errorf("expected both occurrences replaced, got %q", got)
	}
}

func TestString_SkipsShortValues(t *testing.T) {
	// Values under 4 characters would shred ordinary words.
	got := redact.String("a cat sat", "a")
	if got != "a cat sat" {
		t.Errorf("short value should not be redacted, got %q", got)
	}
}

func TestMap_RedactsSensitiveKeys(t *testing.T) {
	m := map[string]any{
		"provider":  "groq",
		"api_key":   "gsk_secret",
		"bot_token": "123:abc-def",
		"attempts":  3,
	}
	got := redact.Map(m)

	if got["api_key"] != "[REDACTED]" {
		t.Errorf("api_key not redacted: %v", got["api_key"])
	}
	if got["bot_token"] != "[REDACTED]" {
		t.Errorf("bot_token not redacted: %v", got["bot_token"])
	}
	if got["provider"] != "groq" {
		t.Errorf("non-sensitive key mangled: %v", got["provider"])
	}
	if got["attempts"] != 3 {
		t.Errorf("non-string value mangled: %v", got["attempts"])
	}
}

package environment_test

import (
	"testing"
	"time"

	"github.com/nazanin-ai/nazanin/common/environment"
)

func TestStringOr(t *testing.T) {
	t.Setenv("NAZANIN_TEST_STR", "value")
	if got := environment.StringOr("NAZANIN_TEST_STR", "fallback"); got != "value" {
		t.Errorf("got %q, want %q", got, "value")
	}
	if got := environment.StringOr("NAZANIN_TEST_UNSET", "fallback"); got != "fallback" {
		t.Errorf("got %q, want fallback", got)
	}
}

func TestRequiredString(t *testing.T) {
	t.Setenv("NAZANIN_TEST_REQ", "present")
	if _, err := environment.RequiredString("NAZANIN_TEST_REQ"); err != nil {
		t.Errorf("unexpected error for set variable: %v", err)
	}
	if _, err := environment.RequiredString("NAZANIN_TEST_REQ_UNSET"); err == nil {
		t.Error("expected error for unset variable")
	}
}

func TestIntOr(t *testing.T) {
	t.Setenv("NAZANIN_TEST_INT", "42")
	if got := environment.IntOr("NAZANIN_TEST_INT", 7); got != 42 {
		t.Errorf("got %d, want 42", got)
	}
	t.Setenv("NAZANIN_TEST_INT_BAD", "not-a-number")
	if got := environment.IntOr("NAZANIN_TEST_INT_BAD", 7); got != 7 {
		t.Errorf("unparseable value should fall back, got %d", got)
	}
}

func TestDurationOr(t *testing.T) {
	t.Setenv("NAZANIN_TEST_DUR", "45s")
	if got := environment.DurationOr("NAZANIN_TEST_DUR", time.Minute); got != 45*time.Second {
		t.Errorf("got %v, want 45s", got)
	}
	if got := environment.DurationOr("NAZANIN_TEST_DUR_UNSET", time.Minute); got != time.Minute {
		t.Errorf("unset should fall back, got %v", got)
	}
}

func TestStringSliceOr(t *testing.T) {
	t.Setenv("NAZANIN_TEST_SLICE", "alpha, beta ,,gamma")
	got := environment.StringSliceOr("NAZANIN_TEST_SLICE", nil)
	want := []string{"alpha", "beta", "gamma"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("element %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

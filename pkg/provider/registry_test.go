package provider

import (
	"context"
	"errors"
	"testing"
)

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry(nil, nil)
	r.Register(NewNamedMockClient("anthropic"))
	r.Register(NewNamedMockClient("openai"))

	c, err := r.Get("anthropic")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if c.Name() != "anthropic" {
		t.Fatalf("wrong client: %s", c.Name())
	}
	if _, err := r.Get("unknown"); err == nil {
		t.Fatalf("expected error for unregistered provider")
	}

	names := r.Names()
	if len(names) != 2 || names[0] != "anthropic" || names[1] != "openai" {
		t.Fatalf("unexpected names: %v", names)
	}
}

func TestHealthFlipsAfterConsecutiveFailures(t *testing.T) {
	r := NewRegistry(nil, nil)
	r.Register(NewNamedMockClient("anthropic"))

	for i := 0; i < unhealthyAfter-1; i++ {
		r.RecordOutcome("anthropic", false, 100, 0, -1)
	}
	if !r.Availability()["anthropic"] {
		t.Fatalf("provider should stay healthy below the failure threshold")
	}

	r.RecordOutcome("anthropic", false, 100, 0, -1)
	if r.Availability()["anthropic"] {
		t.Fatalf("provider should be unhealthy after %d consecutive failures", unhealthyAfter)
	}

	// One success restores health.
	r.RecordOutcome("anthropic", true, 100, 0, -1)
	if !r.Availability()["anthropic"] {
		t.Fatalf("success should restore health")
	}
}

func TestRecordOutcomeRollsStats(t *testing.T) {
	r := NewRegistry(nil, nil)
	r.Register(NewNamedMockClient("anthropic"))

	r.RecordOutcome("anthropic", true, 400, 0.01, 0.9)
	stats := r.Stats()["anthropic"]
	if stats.SuccessRate != 1.0 || stats.AvgLatencyMS != 400 {
		t.Fatalf("first outcome should prime stats, got %+v", stats)
	}

	r.RecordOutcome("anthropic", false, 800, 0.01, -1)
	stats = r.Stats()["anthropic"]
	if stats.SuccessRate >= 1.0 {
		t.Fatalf("failure must lower success rate, got %f", stats.SuccessRate)
	}
	if stats.AvgLatencyMS <= 400 || stats.AvgLatencyMS >= 800 {
		t.Fatalf("latency EWMA should land between samples, got %f", stats.AvgLatencyMS)
	}
	if stats.Quality != 0.9 {
		t.Fatalf("negative quality must not change the rolling quality, got %f", stats.Quality)
	}
}

func TestEstimateCost(t *testing.T) {
	pricing := Pricing{
		"anthropic": {
			"claude-sonnet-4-20250514": {PromptPer1K: 0.003, CompletionPer1K: 0.015},
			"default":                  {PromptPer1K: 0.01, CompletionPer1K: 0.03},
		},
	}

	cost, ok := EstimateCost(pricing, "anthropic", "claude-sonnet-4-20250514",
		Usage{PromptTokens: 1000, CompletionTokens: 2000})
	if !ok {
		t.Fatalf("expected pricing entry")
	}
	want := 0.003 + 2*0.015
	if diff := cost.Amount - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("expected %.4f, got %.4f", want, cost.Amount)
	}

	// Unknown model falls back to the provider default.
	if _, ok := EstimateCost(pricing, "anthropic", "claude-unknown", Usage{PromptTokens: 1000}); !ok {
		t.Fatalf("expected default pricing fallback")
	}
	if _, ok := EstimateCost(pricing, "unknown", "m", Usage{}); ok {
		t.Fatalf("expected no pricing for unknown provider")
	}
}

func TestMockClientFailure(t *testing.T) {
	m := NewNamedMockClient("anthropic")
	m.Fail = &ProviderError{Status: 503, Err: errors.New("upstream unavailable")}

	_, err := m.Invoke(context.Background(), "claude-sonnet-4-20250514", "hi")
	if err == nil {
		t.Fatalf("expected failure")
	}
	if !IsTransient(err) {
		t.Fatalf("5xx should be transient")
	}
}

func TestIsTransient(t *testing.T) {
	if !IsTransient(context.DeadlineExceeded) {
		t.Fatalf("deadline exceeded should be transient")
	}
	if IsTransient(context.Canceled) {
		t.Fatalf("cancellation is not transient")
	}
	if IsTransient(errors.New("bad request")) {
		t.Fatalf("arbitrary errors are not transient")
	}
	if !IsTransient(&ProviderError{Status: 429}) {
		t.Fatalf("429 should be transient")
	}
	if IsTransient(&ProviderError{Status: 401}) {
		t.Fatalf("401 should not be transient")
	}
}

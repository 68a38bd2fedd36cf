package strategy

import (
	"errors"
	"reflect"
	"testing"

	"github.com/zen-systems/quantumroute/pkg/encoder"
	"github.com/zen-systems/quantumroute/pkg/schema"
)

func testState(t *testing.T, taskType, prompt string, availability map[string]bool) *encoder.RoutingState {
	t.Helper()
	enc := encoder.New([]string{"anthropic", "openai", "google", "deepseek"})
	state, err := enc.Encode(&schema.Request{
		TaskID:   "t-1",
		TaskType: taskType,
		Prompt:   prompt,
	}, &encoder.SystemContext{
		Availability: availability,
		History: map[string]encoder.ProviderStats{
			"anthropic": {SuccessRate: 0.95, AvgLatencyMS: 800, AvgCostUSD: 0.02, Quality: 0.9},
			"openai":    {SuccessRate: 0.9, AvgLatencyMS: 600, AvgCostUSD: 0.015, Quality: 0.85},
			"google":    {SuccessRate: 0.85, AvgLatencyMS: 500, AvgCostUSD: 0.01, Quality: 0.8},
			"deepseek":  {SuccessRate: 0.8, AvgLatencyMS: 900, AvgCostUSD: 0.002, Quality: 0.7},
		},
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return state
}

func allUp() map[string]bool {
	return map[string]bool{"anthropic": true, "openai": true, "google": true, "deepseek": true}
}

func TestParse(t *testing.T) {
	for _, name := range All() {
		parsed, err := Parse(string(name))
		if err != nil {
			t.Fatalf("parse %s: %v", name, err)
		}
		if parsed != name {
			t.Fatalf("parse %s returned %s", name, parsed)
		}
	}
	if _, err := Parse("quantum_leap"); err == nil {
		t.Fatalf("expected error for unknown strategy")
	}
}

func TestHeuristicStrategiesAreDeterministic(t *testing.T) {
	set := NewSet(DefaultCatalog(), nil)
	state := testState(t, schema.TaskCode, "implement a parser", allUp())

	for _, name := range []Name{TaskOptimized, CostEfficient, Performance, Balanced} {
		fn, ok := set.Get(name)
		if !ok {
			t.Fatalf("missing strategy %s", name)
		}
		first, err := fn(state)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		second, err := fn(state)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if !reflect.DeepEqual(first, second) {
			t.Fatalf("%s is not deterministic", name)
		}
		if first.Confidence < 0 || first.Confidence > 1 {
			t.Fatalf("%s confidence %f out of range", name, first.Confidence)
		}
		if first.Provider == "" || first.Model == "" {
			t.Fatalf("%s returned empty assignment: %+v", name, first)
		}
	}
}

func TestCostEfficientPrefersCheapProvider(t *testing.T) {
	set := NewSet(DefaultCatalog(), nil)
	state := testState(t, schema.TaskGeneral, "hello", allUp())

	fn, _ := set.Get(CostEfficient)
	result, err := fn(state)
	if err != nil {
		t.Fatalf("cost_efficient: %v", err)
	}
	if result.Provider != "deepseek" {
		t.Fatalf("expected deepseek, got %s", result.Provider)
	}
}

func TestTaskOptimizedFollowsAffinity(t *testing.T) {
	set := NewSet(DefaultCatalog(), nil)
	state := testState(t, schema.TaskResearch, "research this topic", allUp())

	fn, _ := set.Get(TaskOptimized)
	result, err := fn(state)
	if err != nil {
		t.Fatalf("task_optimized: %v", err)
	}
	if result.Provider != "google" {
		t.Fatalf("expected google for research, got %s", result.Provider)
	}
}

func TestUnavailableProvidersAreSkipped(t *testing.T) {
	set := NewSet(DefaultCatalog(), nil)
	state := testState(t, schema.TaskGeneral, "hello", map[string]bool{
		"anthropic": false, "openai": true, "google": false, "deepseek": false,
	})

	for _, name := range []Name{TaskOptimized, CostEfficient, Performance, Balanced} {
		fn, _ := set.Get(name)
		result, err := fn(state)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if result.Provider != "openai" {
			t.Fatalf("%s picked unavailable provider %s", name, result.Provider)
		}
	}
}

func TestAllProvidersDownYieldsNoCandidate(t *testing.T) {
	set := NewSet(DefaultCatalog(), nil)
	state := testState(t, schema.TaskGeneral, "hello", map[string]bool{
		"anthropic": false, "openai": false, "google": false, "deepseek": false,
	})

	fn, _ := set.Get(Balanced)
	if _, err := fn(state); !errors.Is(err, ErrNoCandidate) {
		t.Fatalf("expected ErrNoCandidate, got %v", err)
	}
}

type fixedSelector struct {
	action     int
	confidence float64
	err        error
}

func (f *fixedSelector) SelectAction([]float64, bool) (int, float64, error) {
	return f.action, f.confidence, f.err
}

func (f *fixedSelector) Actions() []string {
	return []string{"anthropic", "openai", "google", "deepseek"}
}

func TestLearnedStrategyDelegates(t *testing.T) {
	set := NewSet(DefaultCatalog(), &fixedSelector{action: 1, confidence: 0.7})
	state := testState(t, schema.TaskGeneral, "hello", allUp())

	fn, _ := set.Get(Learned)
	result, err := fn(state)
	if err != nil {
		t.Fatalf("learned: %v", err)
	}
	if result.Provider != "openai" {
		t.Fatalf("expected openai, got %s", result.Provider)
	}
	if result.Confidence != 0.7 {
		t.Fatalf("expected confidence 0.7, got %f", result.Confidence)
	}
}

func TestLearnedStrategyWithoutSelector(t *testing.T) {
	set := NewSet(DefaultCatalog(), nil)
	state := testState(t, schema.TaskGeneral, "hello", allUp())

	fn, _ := set.Get(Learned)
	if _, err := fn(state); !errors.Is(err, ErrNoCandidate) {
		t.Fatalf("expected ErrNoCandidate, got %v", err)
	}
}

func TestModelTierFollowsComplexity(t *testing.T) {
	catalog := DefaultCatalog()
	if m := catalog.ModelFor("anthropic", 0.2); m != "claude-sonnet-4-20250514" {
		t.Fatalf("expected fast tier, got %s", m)
	}
	if m := catalog.ModelFor("anthropic", 0.9); m != "claude-opus-4-20250514" {
		t.Fatalf("expected strong tier, got %s", m)
	}
}

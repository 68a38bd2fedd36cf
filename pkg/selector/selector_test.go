package selector

import (
	"errors"
	"testing"

	"github.com/zen-systems/quantumroute/pkg/quantum"
	"github.com/zen-systems/quantumroute/pkg/strategy"
)

func testDecision(provider string) *quantum.Decision {
	return &quantum.Decision{
		Provider:     provider,
		Model:        "model-x",
		Confidence:   0.8,
		StrategyUsed: strategy.Balanced,
		Phase:        quantum.PhaseCollapsed,
	}
}

func TestResolveAvailableProviderPassesThrough(t *testing.T) {
	s := New(Config{Chains: DefaultChains()}, nil)

	assignment, err := s.Resolve(testDecision("anthropic"), map[string]bool{"anthropic": true})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if assignment.Provider != "anthropic" || assignment.Model != "model-x" {
		t.Fatalf("unexpected assignment: %+v", assignment)
	}
	if assignment.FallbackUsed {
		t.Fatalf("expected direct assignment, not fallback")
	}
}

func TestResolveSubstitutesFromChain(t *testing.T) {
	s := New(Config{Chains: DefaultChains()}, nil)

	availability := map[string]bool{"anthropic": false, "openai": true, "google": true, "deepseek": true}
	assignment, err := s.Resolve(testDecision("anthropic"), availability)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !assignment.FallbackUsed {
		t.Fatalf("expected fallback substitution")
	}
	if assignment.Provider != "openai" {
		t.Fatalf("expected next-ranked openai, got %s", assignment.Provider)
	}
}

func TestResolveAllUnavailable(t *testing.T) {
	// Scenario: every provider marked down in the availability snapshot.
	s := New(Config{Chains: DefaultChains()}, nil)

	availability := map[string]bool{"anthropic": false, "openai": false, "google": false, "deepseek": false}
	if _, err := s.Resolve(testDecision("anthropic"), availability); !errors.Is(err, ErrNoProviderAvailable) {
		t.Fatalf("expected ErrNoProviderAvailable, got %v", err)
	}
}

func TestRoundRobinAcrossEqualRank(t *testing.T) {
	chains := map[string][]Target{
		"": {
			{Provider: "a", Model: "m-a", Rank: 0},
			{Provider: "b", Model: "m-b", Rank: 0},
		},
	}
	s := New(Config{Mode: RoundRobin, Chains: chains}, nil)
	availability := map[string]bool{"a": true, "b": true}

	seen := map[string]int{}
	for i := 0; i < 10; i++ {
		assignment, err := s.Resolve(testDecision("down"), availability)
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		seen[assignment.Provider]++
	}
	if seen["a"] != 5 || seen["b"] != 5 {
		t.Fatalf("expected even distribution, got %v", seen)
	}
}

func TestLeastLoadedPrefersIdleProvider(t *testing.T) {
	chains := map[string][]Target{
		"": {
			{Provider: "a", Model: "m-a", Rank: 0},
			{Provider: "b", Model: "m-b", Rank: 0},
		},
	}
	s := New(Config{Mode: LeastLoaded, Chains: chains}, nil)
	availability := map[string]bool{"a": true, "b": true}

	s.OnStart("a")
	s.OnStart("a")
	s.OnStart("b")

	assignment, err := s.Resolve(testDecision("down"), availability)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if assignment.Provider != "b" {
		t.Fatalf("expected least-loaded b, got %s", assignment.Provider)
	}
}

func TestStrategyFamilyChainOverride(t *testing.T) {
	s := New(Config{Chains: DefaultChains()}, nil)

	decision := testDecision("down")
	decision.StrategyUsed = strategy.CostEfficient
	availability := map[string]bool{"deepseek": true, "google": true, "openai": true}

	assignment, err := s.Resolve(decision, availability)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if assignment.Provider != "deepseek" {
		t.Fatalf("expected cost_efficient chain head deepseek, got %s", assignment.Provider)
	}
}

func TestRateTokenSpentOnAssignedProviderOnly(t *testing.T) {
	chains := map[string][]Target{
		"": {
			{Provider: "a", Model: "m-a", Rank: 0},
			{Provider: "b", Model: "m-b", Rank: 0},
		},
	}
	// One token per provider; no refill fast enough within the test.
	s := New(Config{Mode: RoundRobin, Chains: chains, RatePerSecond: 0.001, Burst: 1}, nil)
	availability := map[string]bool{"down": false, "a": true, "b": true}

	// Considering a candidate must not drain its budget: both rank-0
	// providers serve one request each before exhaustion.
	first, err := s.Resolve(testDecision("down"), availability)
	if err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	second, err := s.Resolve(testDecision("down"), availability)
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if first.Provider == second.Provider {
		t.Fatalf("expected both providers to serve, got %s twice", first.Provider)
	}

	if _, err := s.Resolve(testDecision("down"), availability); !errors.Is(err, ErrNoProviderAvailable) {
		t.Fatalf("expected genuine exhaustion after both budgets spent, got %v", err)
	}
}

func TestRateLimiterExhaustionFallsBack(t *testing.T) {
	chains := map[string][]Target{
		"": {
			{Provider: "a", Model: "m-a", Rank: 0},
			{Provider: "b", Model: "m-b", Rank: 1},
		},
	}
	// One token per provider; no refill fast enough within the test.
	s := New(Config{Chains: chains, RatePerSecond: 0.001, Burst: 1}, nil)
	availability := map[string]bool{"a": true, "b": true}

	first, err := s.Resolve(testDecision("a"), availability)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if first.Provider != "a" {
		t.Fatalf("expected a, got %s", first.Provider)
	}

	second, err := s.Resolve(testDecision("a"), availability)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if second.Provider != "b" || !second.FallbackUsed {
		t.Fatalf("expected rate-limited fallback to b, got %+v", second)
	}
}

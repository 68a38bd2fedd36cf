// Package selector resolves an abstract collapsed decision into a concrete
// provider/model assignment, applying availability checks, capability-ranked
// fallback chains, and load balancing.
package selector

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/time/rate"

	"github.com/zen-systems/quantumroute/pkg/quantum"
)

// ErrNoProviderAvailable is returned when the decision's provider and its
// entire fallback chain are exhausted. It is fatal for the request and must
// surface to the caller.
var ErrNoProviderAvailable = errors.New("selector: no provider available")

// BalanceMode selects how equally-ranked fallback candidates are balanced.
type BalanceMode string

const (
	RoundRobin  BalanceMode = "round_robin"
	LeastLoaded BalanceMode = "least_loaded"
)

// Target is one fallback chain entry. Targets sharing a rank are considered
// equally capable and load-balanced among each other.
type Target struct {
	Provider string `yaml:"provider" json:"provider"`
	Model    string `yaml:"model" json:"model"`
	Rank     int    `yaml:"rank" json:"rank"`
}

// Config holds the selector's static configuration.
type Config struct {
	Mode BalanceMode
	// Chains maps a strategy family name to its capability-ranked fallback
	// chain. The empty key is the default chain.
	Chains map[string][]Target
	// RatePerSecond caps per-provider assignment rate; zero disables.
	RatePerSecond float64
	Burst         int
}

// Assignment is the concrete resolution of a decision.
type Assignment struct {
	Provider     string   `json:"provider"`
	Model        string   `json:"model"`
	FallbackUsed bool     `json:"fallback_used"`
	Considered   []string `json:"considered,omitempty"`
}

// Selector applies availability, fallback, and balancing rules.
type Selector struct {
	cfg      Config
	logger   *slog.Logger
	mu       sync.Mutex
	rr       map[int]uint64 // round-robin cursor per rank group
	loads    map[string]int64
	limiters map[string]*rate.Limiter
}

// New creates a selector.
func New(cfg Config, logger *slog.Logger) *Selector {
	if cfg.Mode == "" {
		cfg.Mode = RoundRobin
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Selector{
		cfg:      cfg,
		logger:   logger,
		rr:       make(map[int]uint64),
		loads:    make(map[string]int64),
		limiters: make(map[string]*rate.Limiter),
	}
}

// OnStart records an in-flight invocation against a provider.
func (s *Selector) OnStart(provider string) {
	s.mu.Lock()
	s.loads[provider]++
	s.mu.Unlock()
}

// OnDone records completion of an invocation.
func (s *Selector) OnDone(provider string) {
	s.mu.Lock()
	if s.loads[provider] > 0 {
		s.loads[provider]--
	}
	s.mu.Unlock()
}

// Resolve maps a collapsed decision onto a concrete assignment. Rules apply
// in order: providers marked unavailable are rejected; an unavailable
// decision provider is substituted from the strategy family's fallback
// chain; equally-ranked survivors are load-balanced. It fails only with
// ErrNoProviderAvailable once everything is exhausted.
func (s *Selector) Resolve(decision *quantum.Decision, availability map[string]bool) (*Assignment, error) {
	if decision == nil {
		return nil, fmt.Errorf("selector: decision is required")
	}

	considered := []string{}

	if decision.Provider != "" {
		considered = append(considered, decision.Provider)
		if availability[decision.Provider] && s.admit(decision.Provider) {
			return &Assignment{
				Provider:   decision.Provider,
				Model:      decision.Model,
				Considered: considered,
			}, nil
		}
	}

	chain := s.chainFor(string(decision.StrategyUsed))
	for _, group := range rankGroups(chain) {
		var candidates []Target
		for _, tgt := range group.targets {
			considered = append(considered, tgt.Provider)
			if tgt.Provider == decision.Provider {
				continue // already rejected above
			}
			if availability[tgt.Provider] {
				candidates = append(candidates, tgt)
			}
		}
		// Rate tokens are spent on the assigned provider only; a limited
		// pick falls through to the group's remaining candidates.
		for len(candidates) > 0 {
			chosen := s.balance(group.rank, candidates)
			if !s.admit(chosen.Provider) {
				candidates = dropTarget(candidates, chosen.Provider)
				continue
			}
			s.logger.Debug("fallback substitution",
				"from", decision.Provider, "to", chosen.Provider,
				"strategy", string(decision.StrategyUsed), "rank", group.rank)
			return &Assignment{
				Provider:     chosen.Provider,
				Model:        chosen.Model,
				FallbackUsed: true,
				Considered:   considered,
			}, nil
		}
	}

	return nil, fmt.Errorf("%w: exhausted chain for strategy %q (considered %v)",
		ErrNoProviderAvailable, decision.StrategyUsed, considered)
}

// chainFor returns the fallback chain for a strategy family, falling back
// to the default chain.
func (s *Selector) chainFor(family string) []Target {
	if chain, ok := s.cfg.Chains[family]; ok && len(chain) > 0 {
		return chain
	}
	return s.cfg.Chains[""]
}

// admit checks the provider's rate limiter, when configured.
func (s *Selector) admit(provider string) bool {
	if s.cfg.RatePerSecond <= 0 {
		return true
	}
	s.mu.Lock()
	lim, ok := s.limiters[provider]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(s.cfg.RatePerSecond), s.cfg.Burst)
		s.limiters[provider] = lim
	}
	s.mu.Unlock()
	return lim.Allow()
}

// balance picks among equally-ranked candidates per the configured mode.
func (s *Selector) balance(rank int, candidates []Target) Target {
	if len(candidates) == 1 {
		return candidates[0]
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cfg.Mode == LeastLoaded {
		best := candidates[0]
		for _, c := range candidates[1:] {
			if s.loads[c.Provider] < s.loads[best.Provider] {
				best = c
			}
		}
		return best
	}

	idx := s.rr[rank] % uint64(len(candidates))
	s.rr[rank]++
	return candidates[idx]
}

// dropTarget removes one provider's entry from a candidate slice.
func dropTarget(targets []Target, provider string) []Target {
	out := targets[:0]
	for _, tgt := range targets {
		if tgt.Provider != provider {
			out = append(out, tgt)
		}
	}
	return out
}

type rankGroup struct {
	rank    int
	targets []Target
}

// rankGroups partitions a chain into ascending rank groups.
func rankGroups(chain []Target) []rankGroup {
	byRank := make(map[int][]Target)
	for _, tgt := range chain {
		byRank[tgt.Rank] = append(byRank[tgt.Rank], tgt)
	}
	ranks := make([]int, 0, len(byRank))
	for r := range byRank {
		ranks = append(ranks, r)
	}
	sort.Ints(ranks)
	out := make([]rankGroup, 0, len(ranks))
	for _, r := range ranks {
		out = append(out, rankGroup{rank: r, targets: byRank[r]})
	}
	return out
}

// DefaultChains returns the built-in capability-ranked fallback chains.
func DefaultChains() map[string][]Target {
	return map[string][]Target{
		"": {
			{Provider: "anthropic", Model: "claude-sonnet-4-20250514", Rank: 0},
			{Provider: "openai", Model: "gpt-5.2-thinking", Rank: 0},
			{Provider: "google", Model: "gemini-2.0-pro", Rank: 1},
			{Provider: "deepseek", Model: "deepseek-chat", Rank: 2},
		},
		string("cost_efficient"): {
			{Provider: "deepseek", Model: "deepseek-chat", Rank: 0},
			{Provider: "google", Model: "gemini-2.0-flash", Rank: 1},
			{Provider: "openai", Model: "gpt-5.2-instant", Rank: 2},
		},
		string("performance"): {
			{Provider: "anthropic", Model: "claude-opus-4-20250514", Rank: 0},
			{Provider: "openai", Model: "gpt-5.2-pro", Rank: 0},
			{Provider: "google", Model: "gemini-2.0-pro", Rank: 1},
		},
	}
}

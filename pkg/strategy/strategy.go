// Package strategy defines the closed set of routing strategies. Each
// strategy is a pure function from an immutable routing state to a candidate
// provider/model decision with a confidence score; the quantum manager runs
// them concurrently and collapses their results.
package strategy

import (
	"errors"
	"fmt"
	"time"

	"github.com/zen-systems/quantumroute/pkg/encoder"
)

// Name identifies a routing strategy. The set is closed so the collapse
// step can handle every variant exhaustively.
type Name string

const (
	TaskOptimized Name = "task_optimized"
	CostEfficient Name = "cost_efficient"
	Performance   Name = "performance"
	Balanced      Name = "balanced"
	Learned       Name = "learned"
)

// All returns every strategy name in canonical order.
func All() []Name {
	return []Name{TaskOptimized, CostEfficient, Performance, Balanced, Learned}
}

// Parse validates a strategy name string.
func Parse(s string) (Name, error) {
	for _, n := range All() {
		if s == string(n) {
			return n, nil
		}
	}
	return "", fmt.Errorf("unknown strategy %q", s)
}

// ErrNoCandidate signals that a strategy found no available provider to
// propose. It is contained by the manager, never surfaced to callers.
var ErrNoCandidate = errors.New("strategy: no available provider candidate")

// Result is one strategy's candidate decision.
type Result struct {
	Strategy    Name      `json:"strategy"`
	Provider    string    `json:"provider"`
	Model       string    `json:"model"`
	Confidence  float64   `json:"confidence"`
	LatencyMS   float64   `json:"latency_ms"`
	RawScore    float64   `json:"raw_score"`
	CompletedAt time.Time `json:"-"`
}

// Func evaluates one strategy against a routing state. Implementations are
// pure: no side effects, no mutation of the state.
type Func func(state *encoder.RoutingState) (*Result, error)

// ActionSelector is the learned-policy capability the Learned strategy
// delegates to. The learning agent satisfies it.
type ActionSelector interface {
	SelectAction(state []float64, explore bool) (action int, confidence float64, err error)
	Actions() []string
}

// Set is the registry binding strategy names to their functions.
type Set struct {
	catalog  *Catalog
	selector ActionSelector
	funcs    map[Name]Func
}

// NewSet builds the strategy set over a provider catalog. The selector backs
// the Learned strategy; with a nil selector the Learned strategy reports
// ErrNoCandidate and the heuristic strategies carry routing (non-learning
// mode).
func NewSet(catalog *Catalog, selector ActionSelector) *Set {
	s := &Set{catalog: catalog, selector: selector}
	s.funcs = map[Name]Func{
		TaskOptimized: s.taskOptimized,
		CostEfficient: s.costEfficient,
		Performance:   s.performance,
		Balanced:      s.balanced,
		Learned:       s.learned,
	}
	return s
}

// Get returns the function for a strategy name.
func (s *Set) Get(name Name) (Func, bool) {
	fn, ok := s.funcs[name]
	return fn, ok
}

// Enabled maps requested strategy name strings onto valid names, defaulting
// to the full set when the list is empty. Unknown names are dropped.
func (s *Set) Enabled(requested []string) []Name {
	if len(requested) == 0 {
		return All()
	}
	var out []Name
	for _, raw := range requested {
		if n, err := Parse(raw); err == nil {
			out = append(out, n)
		}
	}
	if len(out) == 0 {
		return All()
	}
	return out
}

// taskOptimized scores providers by task-type affinity, picking the heavier
// model tier for complex tasks.
func (s *Set) taskOptimized(state *encoder.RoutingState) (*Result, error) {
	return s.scoreProviders(state, TaskOptimized, func(p string, prof Profile) float64 {
		return prof.Affinity(state.TaskType())
	})
}

// costEfficient prefers cheap providers that still succeed.
func (s *Set) costEfficient(state *encoder.RoutingState) (*Result, error) {
	return s.scoreProviders(state, CostEfficient, func(p string, prof Profile) float64 {
		stats := state.Stats(p)
		return 0.7*(1-prof.CostRank) + 0.3*stats.SuccessRate
	})
}

// performance prefers strong, fast, reliable providers.
func (s *Set) performance(state *encoder.RoutingState) (*Result, error) {
	return s.scoreProviders(state, Performance, func(p string, prof Profile) float64 {
		stats := state.Stats(p)
		latencyPenalty := stats.AvgLatencyMS / 5000.0
		if latencyPenalty > 1 {
			latencyPenalty = 1
		}
		return 0.6*prof.PerformanceRank + 0.2*(1-latencyPenalty) + 0.2*stats.SuccessRate
	})
}

// balanced blends affinity, cost and performance, weighted by the user's
// preference biases.
func (s *Set) balanced(state *encoder.RoutingState) (*Result, error) {
	prefs := state.Preferences()
	wCost := 0.25 + 0.5*prefs.CostBias
	wPerf := 0.25 + 0.5*prefs.QualityBias
	wSpeed := 0.25 + 0.5*prefs.SpeedBias
	total := wCost + wPerf + wSpeed + 0.25

	return s.scoreProviders(state, Balanced, func(p string, prof Profile) float64 {
		stats := state.Stats(p)
		latencyPenalty := stats.AvgLatencyMS / 5000.0
		if latencyPenalty > 1 {
			latencyPenalty = 1
		}
		score := wCost*(1-prof.CostRank) +
			wPerf*prof.PerformanceRank +
			wSpeed*(1-latencyPenalty) +
			0.25*prof.Affinity(state.TaskType())
		return score / total
	})
}

// learned delegates to the DQN agent. A selector fault (including numeric
// divergence) surfaces as an error so the manager excludes this strategy
// from collapse for the call; the heuristic strategies keep serving.
func (s *Set) learned(state *encoder.RoutingState) (*Result, error) {
	if s.selector == nil {
		return nil, ErrNoCandidate
	}
	action, confidence, err := s.selector.SelectAction(state.Vector(), true)
	if err != nil {
		return nil, err
	}
	actions := s.selector.Actions()
	if action < 0 || action >= len(actions) {
		return nil, fmt.Errorf("learned: action %d outside action space", action)
	}
	provider := actions[action]
	if !state.Available(provider) {
		return nil, ErrNoCandidate
	}
	return &Result{
		Strategy:   Learned,
		Provider:   provider,
		Model:      s.catalog.ModelFor(provider, state.Complexity()),
		Confidence: clamp01(confidence),
		RawScore:   confidence,
	}, nil
}

// scoreProviders ranks available providers with the given scoring function.
// Confidence derives from the score margin between the top two candidates,
// so unanimous rankings read as high confidence and near-ties as low.
func (s *Set) scoreProviders(state *encoder.RoutingState, name Name, score func(string, Profile) float64) (*Result, error) {
	var (
		best, second float64
		bestProvider string
	)
	for _, p := range state.Providers() {
		if !state.Available(p) {
			continue
		}
		prof, ok := s.catalog.Profile(p)
		if !ok {
			continue
		}
		v := score(p, prof)
		if v > best || bestProvider == "" {
			second = best
			best = v
			bestProvider = p
		} else if v > second {
			second = v
		}
	}
	if bestProvider == "" {
		return nil, ErrNoCandidate
	}

	margin := 0.0
	if best > 0 {
		margin = (best - second) / best
	}
	confidence := clamp01(0.5*margin + 0.5*clamp01(best))

	return &Result{
		Strategy:   name,
		Provider:   bestProvider,
		Model:      s.catalog.ModelFor(bestProvider, state.Complexity()),
		Confidence: confidence,
		RawScore:   best,
	}, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

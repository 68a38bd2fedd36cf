// Package quantum implements the routing manager: it dispatches a subset of
// strategies concurrently against a shared read-only routing state, bounds
// the wait with a single deadline, and collapses the completed candidates
// into one decision.
package quantum

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/zen-systems/quantumroute/pkg/encoder"
	"github.com/zen-systems/quantumroute/pkg/refine"
	"github.com/zen-systems/quantumroute/pkg/strategy"
)

// Phase tracks a request through the manager's execution protocol.
type Phase string

const (
	PhaseDispatched     Phase = "DISPATCHED"
	PhaseRunning        Phase = "RUNNING"
	PhaseCollapsed      Phase = "COLLAPSED"
	PhaseTimedOut       Phase = "TIMED_OUT"
	PhaseFailedFallback Phase = "FAILED_FALLBACK"
)

// Defaults for the manager configuration.
const (
	DefaultDeadline    = 150 * time.Millisecond
	DefaultMaxParallel = 5
)

// Decision is the manager's collapsed output. It is immutable once
// produced; the cache stores it and callers receive it as-is.
type Decision struct {
	Provider             string            `json:"provider"`
	Model                string            `json:"model"`
	Confidence           float64           `json:"confidence"`
	StrategyUsed         strategy.Name     `json:"strategy_used"`
	CollapseReasoning    string            `json:"collapse_reasoning"`
	Contributing         []strategy.Result `json:"contributing_results"`
	ExecutionTimeMS      float64           `json:"execution_time_ms"`
	Phase                Phase             `json:"phase"`
	RefinementSteps      int               `json:"refinement_steps,omitempty"`
	RefinementConfidence float64           `json:"refinement_confidence,omitempty"`
}

// Config holds the manager's static configuration.
type Config struct {
	DefaultPolicy    CollapsePolicy
	Deadline         time.Duration
	MaxParallel      int
	FallbackProvider string
	FallbackModel    string
}

func (c *Config) applyDefaults() {
	if c.DefaultPolicy == "" {
		c.DefaultPolicy = BestScore
	}
	if c.Deadline <= 0 {
		c.Deadline = DefaultDeadline
	}
	if c.MaxParallel <= 0 {
		c.MaxParallel = DefaultMaxParallel
	}
}

// Options tunes a single routing call. Zero values fall back to the
// manager's configuration.
type Options struct {
	Strategies  []strategy.Name
	Policy      CollapsePolicy
	Deadline    time.Duration
	MaxParallel int
	// Attention summarizes recent historical decisions for the refinement
	// module. Nil disables attention input, not refinement itself.
	Attention []float64
}

// Manager orchestrates concurrent strategy evaluation and collapse.
type Manager struct {
	set     *strategy.Set
	refiner *refine.Refiner
	cfg     Config
	logger  *slog.Logger
}

// NewManager creates a routing manager. The refiner is optional; without it
// learned results are used raw.
func NewManager(set *strategy.Set, refiner *refine.Refiner, cfg Config, logger *slog.Logger) *Manager {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{set: set, refiner: refiner, cfg: cfg, logger: logger}
}

type evaluation struct {
	result *strategy.Result
	name   strategy.Name
	err    error
}

// Route dispatches the selected strategies against the state and collapses
// their results. It never returns an error and never blocks past the
// deadline: when every strategy times out or fails it degrades to a static
// fallback decision.
func (m *Manager) Route(ctx context.Context, state *encoder.RoutingState, opts Options) *Decision {
	started := time.Now()

	policy := opts.Policy
	if policy == "" {
		policy = m.cfg.DefaultPolicy
	}
	deadline := opts.Deadline
	if deadline <= 0 {
		deadline = m.cfg.Deadline
	}
	maxParallel := opts.MaxParallel
	if maxParallel <= 0 {
		maxParallel = m.cfg.MaxParallel
	}
	names := opts.Strategies
	if len(names) == 0 {
		names = strategy.All()
	}
	if len(names) > maxParallel {
		names = names[:maxParallel]
	}

	m.logger.Debug("routing dispatched",
		"task_id", state.TaskID(), "phase", PhaseDispatched,
		"strategies", len(names), "policy", string(policy))

	evalCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	results := make(chan evaluation, len(names))
	for _, name := range names {
		fn, ok := m.set.Get(name)
		if !ok {
			results <- evaluation{name: name, err: strategy.ErrNoCandidate}
			continue
		}
		go func(name strategy.Name, fn strategy.Func) {
			evalStart := time.Now()
			r, err := fn(state)
			if err == nil {
				r.LatencyMS = float64(time.Since(evalStart).Microseconds()) / 1000.0
				r.CompletedAt = time.Now()
			}
			// Late sends land in the buffered channel and are discarded
			// with it once the fan-in returns.
			results <- evaluation{result: r, name: name, err: err}
		}(name, fn)
	}

	var completed []strategy.Result
	timedOut := false

collect:
	for pending := len(names); pending > 0; pending-- {
		select {
		case ev := <-results:
			if ev.err != nil {
				m.logFault(state.TaskID(), ev.name, ev.err)
				continue
			}
			completed = append(completed, *ev.result)
			if policy == FirstSuccess {
				// Outstanding evaluations are signaled to stop; their
				// eventual results are discarded.
				cancel()
				break collect
			}
		case <-evalCtx.Done():
			timedOut = true
			m.logger.Warn("strategy deadline expired",
				"task_id", state.TaskID(), "phase", PhaseTimedOut,
				"completed", len(completed), "outstanding", pending)
			break collect
		}
	}

	if len(completed) == 0 {
		return m.fallbackDecision(state, started, timedOut)
	}

	refinedSteps, refinedConfidence := m.refineLearned(completed, state, opts.Attention)

	out, err := collapse(policy, completed)
	if err != nil {
		return m.fallbackDecision(state, started, timedOut)
	}

	decision := &Decision{
		Provider:             out.Provider,
		Model:                out.Model,
		Confidence:           clamp01(out.Confidence),
		StrategyUsed:         out.StrategyUsed,
		CollapseReasoning:    out.Reasoning,
		Contributing:         completed,
		ExecutionTimeMS:      float64(time.Since(started).Microseconds()) / 1000.0,
		Phase:                PhaseCollapsed,
		RefinementSteps:      refinedSteps,
		RefinementConfidence: refinedConfidence,
	}

	m.logger.Debug("routing collapsed",
		"task_id", state.TaskID(), "phase", PhaseCollapsed,
		"provider", decision.Provider, "model", decision.Model,
		"confidence", decision.Confidence, "strategy", string(decision.StrategyUsed))

	return decision
}

// refineLearned runs the adaptive refinement pass over the learned
// strategy's candidate, blending the trajectory confidence into it in
// place. Heuristic-only result sets skip refinement.
func (m *Manager) refineLearned(completed []strategy.Result, state *encoder.RoutingState, attention []float64) (int, float64) {
	if m.refiner == nil {
		return 0, 0
	}
	idx := -1
	for i := range completed {
		if completed[i].Strategy == strategy.Learned {
			idx = i
			break
		}
	}
	if idx < 0 {
		return 0, 0
	}

	cfg := m.refiner.Config()
	latent := refine.Project(state.Vector(), cfg.LatentDim)
	answer := make([]float64, cfg.LatentDim)
	answer[0] = completed[idx].Confidence

	_, _, traj, err := m.refiner.Refine(latent, answer, attention)
	if err != nil {
		m.logger.Warn("refinement skipped", "task_id", state.TaskID(), "error", err)
		return 0, 0
	}

	completed[idx].Confidence = clamp01(0.5*completed[idx].Confidence + 0.5*traj.FinalConfidence())
	return traj.StepCount(), traj.FinalConfidence()
}

// fallbackDecision is the degraded-mode static decision used when no
// strategy completed. It is logged, never raised to the caller.
func (m *Manager) fallbackDecision(state *encoder.RoutingState, started time.Time, timedOut bool) *Decision {
	phase := PhaseFailedFallback
	m.logger.Warn("all strategies failed, using static fallback",
		"task_id", state.TaskID(), "phase", phase,
		"provider", m.cfg.FallbackProvider, "timed_out", timedOut)

	return &Decision{
		Provider:          m.cfg.FallbackProvider,
		Model:             m.cfg.FallbackModel,
		Confidence:        0,
		StrategyUsed:      strategy.Balanced,
		CollapseReasoning: "fallback: no strategy completed before the deadline",
		ExecutionTimeMS:   float64(time.Since(started).Microseconds()) / 1000.0,
		Phase:             phase,
	}
}

func (m *Manager) logFault(taskID string, name strategy.Name, err error) {
	// Strategy faults are contained: they are excluded from collapse and
	// never propagate as request failures.
	if errors.Is(err, strategy.ErrNoCandidate) {
		m.logger.Debug("strategy produced no candidate", "task_id", taskID, "strategy", string(name))
		return
	}
	m.logger.Warn("strategy evaluation failed", "task_id", taskID, "strategy", string(name), "error", err)
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

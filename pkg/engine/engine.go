// Package engine assembles the routing pipeline: encode, cache, concurrent
// strategy evaluation, collapse, provider resolution, journaling, and the
// feedback loop.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/zen-systems/quantumroute/pkg/agent"
	"github.com/zen-systems/quantumroute/pkg/cache"
	"github.com/zen-systems/quantumroute/pkg/config"
	"github.com/zen-systems/quantumroute/pkg/encoder"
	"github.com/zen-systems/quantumroute/pkg/experience"
	"github.com/zen-systems/quantumroute/pkg/feedback"
	"github.com/zen-systems/quantumroute/pkg/journal"
	"github.com/zen-systems/quantumroute/pkg/observability"
	"github.com/zen-systems/quantumroute/pkg/provider"
	"github.com/zen-systems/quantumroute/pkg/quantum"
	"github.com/zen-systems/quantumroute/pkg/refine"
	"github.com/zen-systems/quantumroute/pkg/schema"
	"github.com/zen-systems/quantumroute/pkg/selector"
	"github.com/zen-systems/quantumroute/pkg/strategy"
)

// attentionWindow is how many recent journal entries feed refinement.
const attentionWindow = 16

// Response is the engine's answer to one routing request.
type Response struct {
	TaskID      string                `json:"task_id"`
	Decision    *quantum.Decision     `json:"decision"`
	Assignment  *selector.Assignment  `json:"assignment"`
	CacheHit    bool                  `json:"cache_hit"`
	Observation *provider.Observation `json:"observation,omitempty"`
}

// Engine is the routing engine. One instance serves concurrent requests.
type Engine struct {
	cfg      atomic.Pointer[config.EngineConfig]
	registry *provider.Registry
	enc      *encoder.Encoder
	agent    *agent.Agent
	store    *experience.Store
	refiner  *refine.Refiner
	set      *strategy.Set
	manager  *quantum.Manager
	sel      *selector.Selector
	cache    *cache.Cache
	loop     *feedback.Loop
	journal  *journal.Journal
	group    singleflight.Group
	watcher  *config.Watcher
	logger   *slog.Logger
}

// New assembles an engine. The journal may be nil for ephemeral use.
func New(cfg *config.EngineConfig, registry *provider.Registry, jour *journal.Journal, logger *slog.Logger) (*Engine, error) {
	if cfg == nil {
		cfg = config.DefaultEngineConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("engine config: %w", err)
	}
	if registry == nil {
		return nil, fmt.Errorf("provider registry is required")
	}
	providers := registry.Names()
	if len(providers) == 0 {
		return nil, fmt.Errorf("at least one provider must be registered")
	}
	if logger == nil {
		logger = slog.Default()
	}

	store := experience.NewStore(cfg.Agent.BufferCapacity)
	ag, err := agent.New(agent.Config{
		StateDim:        encoder.StateDim,
		HiddenSize:      cfg.Agent.HiddenSize,
		Actions:         providers,
		Gamma:           cfg.Agent.Gamma,
		LearningRate:    cfg.Agent.LearningRate,
		EpsilonMin:      cfg.Agent.EpsilonMin,
		EpsilonMax:      cfg.Agent.EpsilonMax,
		EpsilonDecay:    cfg.Agent.EpsilonDecay,
		BatchSize:       cfg.Agent.BatchSize,
		TargetSyncEvery: cfg.Agent.TargetSyncEvery,
		RewardClip:      cfg.Agent.RewardClip,
		Seed:            cfg.Agent.Seed,
	}, store, logger)
	if err != nil {
		return nil, err
	}

	refiner := refine.New(refine.Config{
		LatentDim:     cfg.Refine.LatentDim,
		InnerMax:      cfg.Refine.InnerMax,
		OuterMax:      cfg.Refine.OuterMax,
		HaltThreshold: cfg.Refine.HaltThreshold,
		Seed:          cfg.Refine.Seed,
	})

	set := strategy.NewSet(strategy.DefaultCatalog(), ag)

	policy, err := quantum.ParseCollapsePolicy(cfg.DefaultPolicy)
	if err != nil {
		return nil, err
	}
	manager := quantum.NewManager(set, refiner, quantum.Config{
		DefaultPolicy:    policy,
		Deadline:         cfg.Deadline(),
		MaxParallel:      cfg.MaxParallel,
		FallbackProvider: cfg.Fallback.Provider,
		FallbackModel:    cfg.Fallback.Model,
	}, logger)

	sel := selector.New(selector.Config{
		Mode:          selector.BalanceMode(cfg.Selector.BalanceMode),
		Chains:        cfg.Selector.Chains,
		RatePerSecond: cfg.Selector.RatePerSecond,
		Burst:         cfg.Selector.Burst,
	}, logger)

	decisionCache := cache.New(cache.Config{
		Capacity:  cfg.Cache.Capacity,
		MinTTL:    time.Duration(cfg.Cache.MinTTLMS) * time.Millisecond,
		MaxTTL:    time.Duration(cfg.Cache.MaxTTLMS) * time.Millisecond,
		Tolerance: cfg.Cache.SimilarityTolerance,
	}, logger)

	e := &Engine{
		registry: registry,
		enc:      encoder.New(providers),
		agent:    ag,
		store:    store,
		refiner:  refiner,
		set:      set,
		manager:  manager,
		sel:      sel,
		cache:    decisionCache,
		journal:  jour,
		logger:   logger,
	}
	e.cfg.Store(cfg)
	e.loop = feedback.NewLoop(cfg.Reward,
		&meteredTrainer{agent: ag, store: store},
		&meteredCache{cache: decisionCache},
		registry, jour, logger)
	return e, nil
}

// Close releases background resources. The journal is closed by its owner.
func (e *Engine) Close() {
	if e.watcher != nil {
		e.watcher.Close()
	}
	e.loop.Close()
}

// WatchConfig hot-reloads the engine config file for the engine's lifetime.
// Validated snapshots install via ApplyConfig; in-flight requests keep the
// snapshot they started with. The watcher stops when the engine closes.
func (e *Engine) WatchConfig(path string) error {
	w, err := config.Watch(path, func(cfg *config.EngineConfig) {
		if err := e.ApplyConfig(cfg); err != nil {
			e.logger.Warn("reloaded config rejected", "path", path, "error", err)
		}
	}, e.logger)
	if err != nil {
		return fmt.Errorf("watch config: %w", err)
	}
	e.watcher = w
	return nil
}

// ApplyConfig installs a new configuration snapshot. Per-request parameters
// (policy, deadline, parallelism, outer timeout) take effect immediately;
// structural parameters (agent topology, chains) keep their construction
// values.
func (e *Engine) ApplyConfig(cfg *config.EngineConfig) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	e.cfg.Store(cfg)
	e.logger.Info("engine config applied",
		"policy", cfg.DefaultPolicy, "deadline_ms", cfg.DeadlineMS)
	return nil
}

// Execute routes one request. Cache hits short-circuit strategy evaluation;
// concurrent requests with the same fingerprint share one evaluation. The
// only fatal outcome is provider exhaustion.
func (e *Engine) Execute(ctx context.Context, req *schema.Request) (*Response, error) {
	if req == nil {
		return nil, fmt.Errorf("request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	cfg := e.cfg.Load()
	ctx, cancel := context.WithTimeout(ctx, cfg.OuterTimeout())
	defer cancel()
	started := time.Now()

	availability := e.registry.Availability()
	state, err := e.enc.Encode(req, &encoder.SystemContext{
		Availability: availability,
		History:      historyStats(e.registry.Stats()),
	})
	if err != nil {
		return nil, err
	}

	policy := cfg.DefaultPolicy
	if req.StrategyConfig != nil && req.StrategyConfig.CollapseStrategy != "" {
		policy = req.StrategyConfig.CollapseStrategy
	}

	key := cache.Fingerprint(state.TaskType(), state.Complexity(), availability)
	if dec, ok := e.cache.Lookup(key); ok {
		observability.CacheLookups.WithLabelValues("hit").Inc()
		return e.finish(req, state, key, dec, policy, true, started)
	}
	observability.CacheLookups.WithLabelValues("miss").Inc()

	v, err, _ := e.group.Do(key.Exact, func() (interface{}, error) {
		opts := quantum.Options{
			Deadline:    cfg.Deadline(),
			MaxParallel: cfg.MaxParallel,
			Attention:   e.attention(),
		}
		if p, err := quantum.ParseCollapsePolicy(policy); err == nil {
			opts.Policy = p
		}
		if req.StrategyConfig != nil {
			opts.Strategies = e.set.Enabled(req.StrategyConfig.Strategies)
			if req.StrategyConfig.MaxParallel > 0 {
				opts.MaxParallel = req.StrategyConfig.MaxParallel
			}
			if req.StrategyConfig.TimeoutMS > 0 {
				opts.Deadline = time.Duration(req.StrategyConfig.TimeoutMS) * time.Millisecond
			}
		}

		dec := e.manager.Route(ctx, state, opts)
		for _, r := range dec.Contributing {
			observability.StrategyDuration.WithLabelValues(string(r.Strategy)).Observe(r.LatencyMS / 1000)
		}
		if dec.Phase == quantum.PhaseCollapsed {
			e.cache.Insert(key, dec)
		}
		return dec, nil
	})
	if err != nil {
		return nil, err
	}
	return e.finish(req, state, key, v.(*quantum.Decision), policy, false, started)
}

// Feedback applies one outcome signal and returns the shaped reward.
func (e *Engine) Feedback(fb *schema.Feedback) (float64, error) {
	reward, err := e.loop.Apply(fb)
	if err != nil {
		observability.FeedbackTotal.WithLabelValues("rejected").Inc()
		return 0, err
	}
	observability.FeedbackTotal.WithLabelValues("applied").Inc()
	return reward, nil
}

// Availability exposes the current provider health snapshot.
func (e *Engine) Availability() map[string]bool {
	return e.registry.Availability()
}

// finish resolves the abstract decision to a concrete provider, records the
// outcome, and registers the pending feedback entry.
func (e *Engine) finish(req *schema.Request, state *encoder.RoutingState, key cache.Key, dec *quantum.Decision, policy string, cacheHit bool, started time.Time) (*Response, error) {
	assignment, err := e.sel.Resolve(dec, e.registry.Availability())
	if err != nil {
		if errors.Is(err, selector.ErrNoProviderAvailable) {
			observability.NoProviderTotal.Inc()
		}
		return nil, err
	}

	// The cached decision stays immutable; substitutions apply to a copy.
	final := *dec
	final.Provider = assignment.Provider
	final.Model = assignment.Model
	if assignment.FallbackUsed {
		observability.FallbacksTotal.WithLabelValues("selector").Inc()
	}
	if final.Phase == quantum.PhaseFailedFallback {
		observability.FallbacksTotal.WithLabelValues("static").Inc()
	}

	observability.RequestsTotal.WithLabelValues(string(final.Phase), policy).Inc()
	observability.RouteDuration.Observe(time.Since(started).Seconds())
	observability.RefinementSteps.Observe(float64(final.RefinementSteps))
	observability.Epsilon.Set(e.agent.Epsilon())
	observability.ExperienceSize.Set(float64(e.store.Len()))

	if err := e.journal.Append(&journal.Record{
		TaskID:         req.TaskID,
		TaskType:       state.TaskType(),
		Provider:       final.Provider,
		Model:          final.Model,
		Confidence:     final.Confidence,
		Strategy:       string(final.StrategyUsed),
		CollapsePolicy: policy,
		Phase:          string(final.Phase),
		CacheHit:       cacheHit,
		RefineSteps:    final.RefinementSteps,
		RefineConf:     final.RefinementConfidence,
		ExecTimeMS:     final.ExecutionTimeMS,
	}); err != nil {
		e.logger.Warn("decision journaling failed", "task_id", req.TaskID, "error", err)
	}

	e.loop.Register(req.TaskID, feedback.Pending{
		State:       state.Vector(),
		Action:      actionIndex(e.agent.Actions(), final.Provider),
		Provider:    final.Provider,
		CacheBucket: key.Bucket,
	})

	return &Response{
		TaskID:     req.TaskID,
		Decision:   &final,
		Assignment: assignment,
		CacheHit:   cacheHit,
	}, nil
}

// attention summarizes recent journaled decisions for the refiner.
func (e *Engine) attention() []float64 {
	signals, err := e.journal.RecentSignals(attentionWindow)
	if err != nil {
		e.logger.Debug("attention context unavailable", "error", err)
		return nil
	}
	if len(signals) == 0 {
		return nil
	}
	return refine.Project(signals, e.refiner.Config().AttentionDim)
}

func historyStats(stats map[string]provider.Stats) map[string]encoder.ProviderStats {
	out := make(map[string]encoder.ProviderStats, len(stats))
	for name, s := range stats {
		out[name] = encoder.ProviderStats{
			SuccessRate:  s.SuccessRate,
			AvgLatencyMS: s.AvgLatencyMS,
			AvgCostUSD:   s.AvgCostUSD,
			Quality:      s.Quality,
		}
	}
	return out
}

func actionIndex(actions []string, provider string) int {
	for i, a := range actions {
		if a == provider {
			return i
		}
	}
	return -1
}

// meteredTrainer layers training metrics over the agent.
type meteredTrainer struct {
	agent *agent.Agent
	store *experience.Store
}

func (m *meteredTrainer) Observe(exp experience.Experience) {
	m.agent.Observe(exp)
	observability.ExperienceSize.Set(float64(m.store.Len()))
}

func (m *meteredTrainer) TrainStep() error {
	err := m.agent.TrainStep()
	switch {
	case err == nil:
		observability.TrainingUpdates.WithLabelValues("ok").Inc()
	case errors.Is(err, agent.ErrNumericDivergence):
		observability.TrainingUpdates.WithLabelValues("diverged").Inc()
	default:
		observability.TrainingUpdates.WithLabelValues("error").Inc()
	}
	observability.Epsilon.Set(m.agent.Epsilon())
	return err
}

// meteredCache layers invalidation metrics over the decision cache.
type meteredCache struct {
	cache *cache.Cache
}

func (m *meteredCache) Invalidate(bucket string) {
	m.cache.Invalidate(bucket)
	observability.CacheInvalidations.Inc()
}

func (m *meteredCache) RecordQuality(bucket string, quality float64) {
	m.cache.RecordQuality(bucket, quality)
}

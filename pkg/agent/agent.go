// Package agent implements the DQN learning agent. It maintains an online
// and a periodically-synced target action-value estimator, selects actions
// epsilon-greedily, and trains on mini-batches sampled from the experience
// store. Training is decoupled from serving: SelectAction never waits on a
// gradient step.
package agent

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sync"

	"github.com/zen-systems/quantumroute/pkg/experience"
)

// ErrNumericDivergence signals that an estimator produced non-finite output.
// The caller should fall back to a non-learned strategy for that call;
// training pauses for the cycle and serving continues on the last-good
// estimator.
var ErrNumericDivergence = errors.New("agent: numeric divergence in estimator")

// Config holds the agent's hyperparameters.
type Config struct {
	StateDim        int
	HiddenSize      int
	Actions         []string // provider names; index is the action id
	Gamma           float64  // discount factor
	LearningRate    float64
	EpsilonMin      float64
	EpsilonMax      float64
	EpsilonDecay    float64  // multiplicative decay per exploratory selection
	BatchSize       int
	TargetSyncEvery int     // hard-copy target every N gradient updates
	RewardClip      float64  // rewards clipped to [-RewardClip, RewardClip]
	GradClipNorm    float64
	Seed            int64
}

func (c *Config) applyDefaults() {
	if c.HiddenSize <= 0 {
		c.HiddenSize = 64
	}
	if c.Gamma <= 0 {
		c.Gamma = 0.95
	}
	if c.LearningRate <= 0 {
		c.LearningRate = 0.001
	}
	if c.EpsilonMax <= 0 {
		c.EpsilonMax = 1.0
	}
	if c.EpsilonMin <= 0 {
		c.EpsilonMin = 0.05
	}
	if c.EpsilonDecay <= 0 || c.EpsilonDecay >= 1 {
		c.EpsilonDecay = 0.995
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 32
	}
	if c.TargetSyncEvery <= 0 {
		c.TargetSyncEvery = 100
	}
	if c.RewardClip <= 0 {
		c.RewardClip = 1.0
	}
	if c.GradClipNorm <= 0 {
		c.GradClipNorm = 5.0
	}
}

// Agent is the shared learner. It is safe for concurrent use; all estimator
// access goes through a single lock so in-flight decisions never observe a
// half-applied gradient step.
type Agent struct {
	mu      sync.Mutex
	cfg     Config
	online  *network
	target  *network
	store   *experience.Store
	epsilon float64
	updates int
	rng     *rand.Rand
	logger  *slog.Logger
}

// New creates an agent over the given experience store.
func New(cfg Config, store *experience.Store, logger *slog.Logger) (*Agent, error) {
	cfg.applyDefaults()
	if cfg.StateDim <= 0 {
		return nil, fmt.Errorf("agent: state dimension is required")
	}
	if len(cfg.Actions) == 0 {
		return nil, fmt.Errorf("agent: at least one action is required")
	}
	if store == nil {
		return nil, fmt.Errorf("agent: experience store is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Int63()
	}
	rng := rand.New(rand.NewSource(seed))

	online := newNetwork(cfg.StateDim, cfg.HiddenSize, len(cfg.Actions), rng)
	return &Agent{
		cfg:     cfg,
		online:  online,
		target:  online.clone(),
		store:   store,
		epsilon: cfg.EpsilonMax,
		rng:     rng,
		logger:  logger,
	}, nil
}

// Actions returns the agent's action space (provider names).
func (a *Agent) Actions() []string {
	out := make([]string, len(a.cfg.Actions))
	copy(out, a.cfg.Actions)
	return out
}

// Epsilon returns the current exploration rate.
func (a *Agent) Epsilon() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.epsilon
}

// Updates returns the number of completed gradient updates.
func (a *Agent) Updates() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.updates
}

// SelectAction picks an action for the state. With explore enabled it takes
// a uniformly random action with probability epsilon, otherwise the argmax
// of the online estimator. The returned confidence is the softmax weight of
// the chosen action over the Q values.
func (a *Agent) SelectAction(state []float64, explore bool) (int, float64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(state) != a.cfg.StateDim {
		return 0, 0, fmt.Errorf("agent: state dimension %d, expected %d", len(state), a.cfg.StateDim)
	}

	if explore && a.rng.Float64() < a.epsilon {
		a.decayEpsilonLocked()
		action := a.rng.Intn(len(a.cfg.Actions))
		return action, 1.0 / float64(len(a.cfg.Actions)), nil
	}
	if explore {
		a.decayEpsilonLocked()
	}

	q := a.online.qValues(state)
	if !finite(q) {
		a.logger.Error("online estimator produced non-finite output",
			"component", "agent", "q_len", len(q))
		return 0, 0, ErrNumericDivergence
	}

	best := 0
	for i := 1; i < len(q); i++ {
		if q[i] > q[best] {
			best = i
		}
	}
	return best, softmaxWeight(q, best), nil
}

func (a *Agent) decayEpsilonLocked() {
	a.epsilon *= a.cfg.EpsilonDecay
	if a.epsilon < a.cfg.EpsilonMin {
		a.epsilon = a.cfg.EpsilonMin
	}
	if a.epsilon > a.cfg.EpsilonMax {
		a.epsilon = a.cfg.EpsilonMax
	}
}

// Observe appends a transition to the experience store. It never trains;
// call TrainStep (typically off the request path) to learn from the buffer.
func (a *Agent) Observe(exp experience.Experience) {
	exp.Reward = clip(exp.Reward, a.cfg.RewardClip)
	a.store.Append(exp)
}

// TrainStep performs one mini-batch gradient update when the store holds at
// least a full batch. On numeric divergence the online estimator is restored
// from the target (the last-good copy) and ErrNumericDivergence is returned;
// the next cycle may train again.
func (a *Agent) TrainStep() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	batch := a.store.Sample(a.cfg.BatchSize, a.rng)
	if batch == nil {
		return nil
	}

	g := newGrads(a.online)
	for _, exp := range batch {
		target := clip(exp.Reward, a.cfg.RewardClip)
		if !exp.Terminal && len(exp.NextState) == a.cfg.StateDim {
			next := a.target.qValues(exp.NextState)
			if !finite(next) {
				return a.divergedLocked("target estimator")
			}
			maxNext := next[0]
			for _, v := range next[1:] {
				if v > maxNext {
					maxNext = v
				}
			}
			target += a.cfg.Gamma * maxNext
		}
		g.accumulate(a.online, exp.State, exp.Action, target)
	}

	g.scale(1.0 / float64(len(batch)))
	norm := g.norm()
	if math.IsNaN(norm) || math.IsInf(norm, 0) {
		return a.divergedLocked("gradient")
	}
	if norm > a.cfg.GradClipNorm {
		g.scale(a.cfg.GradClipNorm / norm)
	}

	a.online.apply(g, a.cfg.LearningRate)
	a.updates++
	if a.updates%a.cfg.TargetSyncEvery == 0 {
		a.target.copyFrom(a.online)
	}
	return nil
}

func (a *Agent) divergedLocked(where string) error {
	a.logger.Error("training paused on numeric divergence",
		"component", "agent", "where", where, "updates", a.updates)
	a.online.copyFrom(a.target)
	return ErrNumericDivergence
}

// softmaxWeight returns the softmax probability of index i over vs.
func softmaxWeight(vs []float64, i int) float64 {
	max := vs[0]
	for _, v := range vs[1:] {
		if v > max {
			max = v
		}
	}
	var sum float64
	for _, v := range vs {
		sum += math.Exp(v - max)
	}
	if sum == 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		return 0
	}
	return math.Exp(vs[i]-max) / sum
}

func clip(v, bound float64) float64 {
	if v > bound {
		return bound
	}
	if v < -bound {
		return -bound
	}
	return v
}

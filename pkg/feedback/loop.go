package feedback

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zen-systems/quantumroute/pkg/experience"
	"github.com/zen-systems/quantumroute/pkg/schema"
)

// ErrUnknownTask is returned when feedback references a task the loop has
// no pending decision for.
var ErrUnknownTask = errors.New("feedback: unknown task id")

// pendingTTL bounds how long an unacknowledged decision stays registered.
const pendingTTL = 10 * time.Minute

// invalidateBelow is the quality signal under which the decision's cache
// bucket is evicted.
const invalidateBelow = 0.3

// Trainer consumes experiences and runs training steps.
type Trainer interface {
	Observe(exp experience.Experience)
	TrainStep() error
}

// CacheControl is the slice of the decision cache the loop drives.
type CacheControl interface {
	Invalidate(bucket string)
	RecordQuality(bucket string, quality float64)
}

// HealthSink receives per-provider outcome records.
type HealthSink interface {
	RecordOutcome(name string, success bool, latencyMS, costUSD, quality float64)
}

// RewardSink receives the shaped reward for a completed task.
type RewardSink interface {
	RecordReward(taskID string, reward float64) error
}

// Pending is a routing decision awaiting its outcome signal.
type Pending struct {
	State       []float64
	Action      int
	Provider    string
	CacheBucket string
	EnqueuedAt  time.Time
}

// Loop matches outcome signals to pending decisions and fans the result out
// to the trainer, cache, provider health, and the journal.
type Loop struct {
	policy  RewardPolicy
	trainer Trainer
	cache   CacheControl
	health  HealthSink
	journal RewardSink
	logger  *slog.Logger

	mu      sync.Mutex
	pending map[string]Pending

	trainCh chan struct{}
	done    chan struct{}
	closed  sync.Once
}

// NewLoop creates the feedback loop. Any sink may be nil; training runs on
// a single background worker so feedback submission never blocks on SGD.
func NewLoop(policy RewardPolicy, trainer Trainer, cache CacheControl, health HealthSink, journal RewardSink, logger *slog.Logger) *Loop {
	policy.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	l := &Loop{
		policy:  policy,
		trainer: trainer,
		cache:   cache,
		health:  health,
		journal: journal,
		logger:  logger,
		pending: make(map[string]Pending),
		trainCh: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go l.trainWorker()
	return l
}

// Close stops the background training worker.
func (l *Loop) Close() {
	l.closed.Do(func() { close(l.done) })
}

// Register records a decision awaiting feedback. Stale registrations are
// pruned opportunistically.
func (l *Loop) Register(taskID string, p Pending) {
	if p.EnqueuedAt.IsZero() {
		p.EnqueuedAt = time.Now()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := time.Now().Add(-pendingTTL)
	for id, entry := range l.pending {
		if entry.EnqueuedAt.Before(cutoff) {
			delete(l.pending, id)
		}
	}
	l.pending[taskID] = p
}

// PendingCount returns the number of decisions awaiting feedback.
func (l *Loop) PendingCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

// Apply consumes one outcome signal. The pending decision is removed, the
// shaped reward becomes a terminal experience, provider statistics and the
// cache are updated, and a training step is scheduled. Duplicate or unknown
// task ids return ErrUnknownTask without side effects.
func (l *Loop) Apply(fb *schema.Feedback) (float64, error) {
	if fb == nil || fb.TaskID == "" {
		return 0, fmt.Errorf("feedback: task id is required")
	}

	l.mu.Lock()
	p, ok := l.pending[fb.TaskID]
	if ok {
		delete(l.pending, fb.TaskID)
	}
	l.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownTask, fb.TaskID)
	}

	reward := l.policy.Compute(fb)

	if l.trainer != nil && p.State != nil && p.Action >= 0 {
		l.trainer.Observe(experience.Experience{
			State:    p.State,
			Action:   p.Action,
			Reward:   reward,
			Terminal: true,
		})
		select {
		case l.trainCh <- struct{}{}:
		default:
			// A training pass is already queued.
		}
	}

	quality := -1.0
	if fb.QualitySignal != nil {
		quality = *fb.QualitySignal
	}
	if l.health != nil && p.Provider != "" {
		l.health.RecordOutcome(p.Provider, fb.Success, fb.LatencyMS, fb.Cost, quality)
	}

	if l.cache != nil && p.CacheBucket != "" {
		if quality >= 0 {
			l.cache.RecordQuality(p.CacheBucket, quality)
		}
		if !fb.Success || (quality >= 0 && quality < invalidateBelow) {
			l.cache.Invalidate(p.CacheBucket)
		}
	}

	if l.journal != nil {
		if err := l.journal.RecordReward(fb.TaskID, reward); err != nil {
			l.logger.Warn("reward journaling failed", "task_id", fb.TaskID, "error", err)
		}
	}

	l.logger.Debug("feedback applied",
		"task_id", fb.TaskID, "success", fb.Success, "reward", reward)
	return reward, nil
}

func (l *Loop) trainWorker() {
	if l.trainer == nil {
		return
	}
	for {
		select {
		case <-l.done:
			return
		case <-l.trainCh:
			if err := l.trainer.TrainStep(); err != nil {
				l.logger.Warn("training step failed", "error", err)
			}
		}
	}
}

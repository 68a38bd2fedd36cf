// Package refine implements the bounded iterative refinement primitive: a
// latent state and an answer embedding are improved over nested inner/outer
// cycles with a learned halting signal, so simple inputs stop after a couple
// of steps while complex ones use the full budget.
package refine

import (
	"fmt"
	"math"
	"math/rand"
)

// Defaults for the refinement budget.
const (
	DefaultInnerMax      = 5
	DefaultOuterMax      = 3
	DefaultHaltThreshold = 0.8
	DefaultLatentDim     = 32
	DefaultAttentionDim  = 8
)

// residualScale bounds each latent/answer update step.
const residualScale = 0.5

// Config bounds the refinement loop.
type Config struct {
	LatentDim     int
	AttentionDim  int
	InnerMax      int
	OuterMax      int
	HaltThreshold float64
	Seed          int64
}

func (c *Config) applyDefaults() {
	if c.LatentDim <= 0 {
		c.LatentDim = DefaultLatentDim
	}
	if c.AttentionDim <= 0 {
		c.AttentionDim = DefaultAttentionDim
	}
	if c.InnerMax <= 0 {
		c.InnerMax = DefaultInnerMax
	}
	if c.OuterMax <= 0 {
		c.OuterMax = DefaultOuterMax
	}
	if c.HaltThreshold <= 0 || c.HaltThreshold > 1 {
		c.HaltThreshold = DefaultHaltThreshold
	}
}

// Step is one recorded refinement checkpoint. A record is appended after
// each outer cycle; StepIndex counts inner steps taken so far.
type Step struct {
	StepIndex       int
	Latent          []float64
	Answer          []float64
	HaltProbability float64
	Confidence      float64
}

// Trajectory is the ordered sequence of checkpoints from one Refine call.
type Trajectory struct {
	Steps []Step
}

// StepCount returns the total number of inner steps taken.
func (t *Trajectory) StepCount() int {
	if t == nil || len(t.Steps) == 0 {
		return 0
	}
	return t.Steps[len(t.Steps)-1].StepIndex
}

// FinalConfidence returns the confidence of the last checkpoint.
func (t *Trajectory) FinalConfidence() float64 {
	if t == nil || len(t.Steps) == 0 {
		return 0
	}
	return t.Steps[len(t.Steps)-1].Confidence
}

// Refiner holds fixed update weights derived deterministically from the
// configured seed. Refine itself is pure, so two refiners built with the
// same config produce bit-identical trajectories for the same inputs.
type Refiner struct {
	cfg    Config
	wState [][]float64 // latent x latent
	wAttn  [][]float64 // latent x attention
	bState []float64
	wHalt  []float64 // latent
	bHalt  float64
	wAns   [][]float64 // latent x latent (answer update head)
}

// New creates a refiner from config.
func New(cfg Config) *Refiner {
	cfg.applyDefaults()
	rng := rand.New(rand.NewSource(cfg.Seed))

	r := &Refiner{
		cfg:    cfg,
		wState: randMatrix(rng, cfg.LatentDim, cfg.LatentDim),
		wAttn:  randMatrix(rng, cfg.LatentDim, cfg.AttentionDim),
		bState: randVector(rng, cfg.LatentDim),
		wHalt:  randVector(rng, cfg.LatentDim),
		wAns:   randMatrix(rng, cfg.LatentDim, cfg.LatentDim),
	}
	r.bHalt = rng.NormFloat64() * 0.1
	return r
}

// Config returns the effective (defaulted) configuration.
func (r *Refiner) Config() Config { return r.cfg }

// Refine runs up to OuterMax outer cycles of up to InnerMax inner latent
// updates each, stopping an inner loop early once the halting probability
// exceeds the threshold. It returns the final latent, the final answer
// embedding, and the recorded trajectory. Inputs are not mutated.
func (r *Refiner) Refine(initialLatent, initialAnswer, attention []float64) ([]float64, []float64, *Trajectory, error) {
	if len(initialLatent) != r.cfg.LatentDim {
		return nil, nil, nil, fmt.Errorf("refine: latent dimension %d, expected %d", len(initialLatent), r.cfg.LatentDim)
	}
	if len(initialAnswer) != r.cfg.LatentDim {
		return nil, nil, nil, fmt.Errorf("refine: answer dimension %d, expected %d", len(initialAnswer), r.cfg.LatentDim)
	}
	attn := make([]float64, r.cfg.AttentionDim)
	copy(attn, attention)

	latent := append([]float64(nil), initialLatent...)
	answer := append([]float64(nil), initialAnswer...)
	traj := &Trajectory{}

	totalSteps := 0
	for outer := 0; outer < r.cfg.OuterMax; outer++ {
		var halt float64
		for inner := 0; inner < r.cfg.InnerMax; inner++ {
			latent = r.innerStep(latent, attn)
			totalSteps++
			halt = r.haltProbability(latent)
			if halt >= r.cfg.HaltThreshold {
				break
			}
		}

		prev := answer
		answer = r.answerStep(answer, latent)

		traj.Steps = append(traj.Steps, Step{
			StepIndex:       totalSteps,
			Latent:          append([]float64(nil), latent...),
			Answer:          append([]float64(nil), answer...),
			HaltProbability: halt,
			Confidence:      confidence(halt, prev, answer),
		})

		if halt >= r.cfg.HaltThreshold {
			break
		}
	}

	return latent, answer, traj, nil
}

// innerStep applies one bounded residual latent update.
func (r *Refiner) innerStep(latent, attn []float64) []float64 {
	next := make([]float64, len(latent))
	for j := range next {
		sum := r.bState[j]
		for i, v := range latent {
			sum += r.wState[j][i] * v
		}
		for i, v := range attn {
			sum += r.wAttn[j][i] * v
		}
		next[j] = latent[j] + residualScale*math.Tanh(sum)
	}
	return next
}

func (r *Refiner) haltProbability(latent []float64) float64 {
	sum := r.bHalt
	for i, v := range latent {
		sum += r.wHalt[i] * v
	}
	return 1 / (1 + math.Exp(-sum))
}

// answerStep updates the answer embedding from the refined latent.
func (r *Refiner) answerStep(answer, latent []float64) []float64 {
	next := make([]float64, len(answer))
	for j := range next {
		sum := 0.0
		for i, v := range latent {
			sum += r.wAns[j][i] * v
		}
		next[j] = answer[j] + residualScale*math.Tanh(sum)
	}
	return next
}

// confidence blends the halting signal with answer stability: a high halt
// probability on a barely-moving answer embedding reads as a confident stop.
func confidence(halt float64, prev, next []float64) float64 {
	var delta float64
	for i := range next {
		d := next[i] - prev[i]
		delta += d * d
	}
	delta = math.Sqrt(delta)
	stability := 1 / (1 + delta)
	c := halt * (0.5 + 0.5*stability)
	if c > 1 {
		c = 1
	}
	return c
}

// Project deterministically folds an arbitrary-length vector into dim
// buckets. Used to seed the initial latent from a routing state vector.
func Project(vec []float64, dim int) []float64 {
	out := make([]float64, dim)
	if len(vec) == 0 || dim <= 0 {
		return out
	}
	counts := make([]float64, dim)
	for i, v := range vec {
		out[i%dim] += v
		counts[i%dim]++
	}
	for i := range out {
		if counts[i] > 0 {
			out[i] /= counts[i]
		}
	}
	return out
}

func randMatrix(rng *rand.Rand, rows, cols int) [][]float64 {
	m := make([][]float64, rows)
	scale := math.Sqrt(1.0 / float64(cols))
	for j := range m {
		m[j] = make([]float64, cols)
		for i := range m[j] {
			m[j][i] = rng.NormFloat64() * scale
		}
	}
	return m
}

func randVector(rng *rand.Rand, n int) []float64 {
	v := make([]float64, n)
	for i := range v {
		v[i] = rng.NormFloat64() * 0.1
	}
	return v
}

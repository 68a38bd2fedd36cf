package refine

import (
	"math/rand"
	"reflect"
	"testing"
)

func randomInput(seed int64, dim int) []float64 {
	rng := rand.New(rand.NewSource(seed))
	v := make([]float64, dim)
	for i := range v {
		v[i] = rng.Float64()
	}
	return v
}

func TestRefineDeterminism(t *testing.T) {
	cfg := Config{Seed: 99}
	latent := randomInput(1, DefaultLatentDim)
	answer := randomInput(2, DefaultLatentDim)
	attn := randomInput(3, DefaultAttentionDim)

	r1 := New(cfg)
	l1, a1, t1, err := r1.Refine(latent, answer, attn)
	if err != nil {
		t.Fatalf("refine: %v", err)
	}

	r2 := New(cfg)
	l2, a2, t2, err := r2.Refine(latent, answer, attn)
	if err != nil {
		t.Fatalf("refine: %v", err)
	}

	if !reflect.DeepEqual(l1, l2) {
		t.Fatalf("latents differ across identical runs")
	}
	if !reflect.DeepEqual(a1, a2) {
		t.Fatalf("answers differ across identical runs")
	}
	if !reflect.DeepEqual(t1, t2) {
		t.Fatalf("trajectories differ across identical runs")
	}
}

func TestRefineDoesNotMutateInputs(t *testing.T) {
	r := New(Config{Seed: 5})
	latent := randomInput(10, DefaultLatentDim)
	answer := randomInput(11, DefaultLatentDim)
	attn := randomInput(12, DefaultAttentionDim)

	latentCopy := append([]float64(nil), latent...)
	answerCopy := append([]float64(nil), answer...)

	if _, _, _, err := r.Refine(latent, answer, attn); err != nil {
		t.Fatalf("refine: %v", err)
	}
	if !reflect.DeepEqual(latent, latentCopy) {
		t.Fatalf("initial latent was mutated")
	}
	if !reflect.DeepEqual(answer, answerCopy) {
		t.Fatalf("initial answer was mutated")
	}
}

func TestRefineBoundedSteps(t *testing.T) {
	cfg := Config{InnerMax: 5, OuterMax: 3, HaltThreshold: 0.99, Seed: 7}
	r := New(cfg)

	_, _, traj, err := r.Refine(
		randomInput(20, DefaultLatentDim),
		randomInput(21, DefaultLatentDim),
		randomInput(22, DefaultAttentionDim),
	)
	if err != nil {
		t.Fatalf("refine: %v", err)
	}

	if len(traj.Steps) > cfg.OuterMax {
		t.Fatalf("outer cycles %d exceed max %d", len(traj.Steps), cfg.OuterMax)
	}
	if traj.StepCount() > cfg.InnerMax*cfg.OuterMax {
		t.Fatalf("inner steps %d exceed budget %d", traj.StepCount(), cfg.InnerMax*cfg.OuterMax)
	}
	for _, step := range traj.Steps {
		if step.HaltProbability < 0 || step.HaltProbability > 1 {
			t.Fatalf("halt probability %f out of range", step.HaltProbability)
		}
		if step.Confidence < 0 || step.Confidence > 1 {
			t.Fatalf("confidence %f out of range", step.Confidence)
		}
	}
}

func TestRefineHaltsEarlyWhenThresholdLow(t *testing.T) {
	cfg := Config{InnerMax: 5, OuterMax: 3, HaltThreshold: 0.01, Seed: 7}
	r := New(cfg)

	_, _, traj, err := r.Refine(
		randomInput(30, DefaultLatentDim),
		randomInput(31, DefaultLatentDim),
		randomInput(32, DefaultAttentionDim),
	)
	if err != nil {
		t.Fatalf("refine: %v", err)
	}
	if len(traj.Steps) != 1 {
		t.Fatalf("expected a single outer cycle, got %d", len(traj.Steps))
	}
	if traj.StepCount() != 1 {
		t.Fatalf("expected a single inner step, got %d", traj.StepCount())
	}
}

func TestRefineDimensionChecks(t *testing.T) {
	r := New(Config{Seed: 1})
	if _, _, _, err := r.Refine(make([]float64, 3), make([]float64, DefaultLatentDim), nil); err == nil {
		t.Fatalf("expected latent dimension error")
	}
	if _, _, _, err := r.Refine(make([]float64, DefaultLatentDim), make([]float64, 3), nil); err == nil {
		t.Fatalf("expected answer dimension error")
	}
}

func TestProjectDeterministic(t *testing.T) {
	vec := randomInput(40, 112)
	a := Project(vec, 32)
	b := Project(vec, 32)
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("projection is not deterministic")
	}
	if len(a) != 32 {
		t.Fatalf("expected 32 dims, got %d", len(a))
	}
}

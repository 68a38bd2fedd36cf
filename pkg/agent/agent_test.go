package agent

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/zen-systems/quantumroute/pkg/experience"
)

func testConfig() Config {
	return Config{
		StateDim:   4,
		HiddenSize: 8,
		Actions:    []string{"anthropic", "openai", "google"},
		Seed:       42,
		BatchSize:  8,
	}
}

func TestSelectActionInRange(t *testing.T) {
	store := experience.NewStore(100)
	a, err := New(testConfig(), store, nil)
	if err != nil {
		t.Fatalf("new agent: %v", err)
	}

	state := []float64{0.1, 0.2, 0.3, 0.4}
	for i := 0; i < 200; i++ {
		action, confidence, err := a.SelectAction(state, true)
		if err != nil {
			t.Fatalf("select: %v", err)
		}
		if action < 0 || action >= 3 {
			t.Fatalf("action %d out of range", action)
		}
		if confidence < 0 || confidence > 1 {
			t.Fatalf("confidence %f out of range", confidence)
		}
	}
}

func TestEpsilonDecaysWithinBounds(t *testing.T) {
	store := experience.NewStore(100)
	cfg := testConfig()
	cfg.EpsilonMin = 0.1
	cfg.EpsilonMax = 1.0
	cfg.EpsilonDecay = 0.9
	a, err := New(cfg, store, nil)
	if err != nil {
		t.Fatalf("new agent: %v", err)
	}

	state := []float64{0, 0, 0, 0}
	last := a.Epsilon()
	for i := 0; i < 100; i++ {
		if _, _, err := a.SelectAction(state, true); err != nil {
			t.Fatalf("select: %v", err)
		}
		eps := a.Epsilon()
		if eps > last+1e-12 {
			t.Fatalf("epsilon increased: %f -> %f", last, eps)
		}
		last = eps
	}
	if math.Abs(last-0.1) > 1e-9 {
		t.Fatalf("expected epsilon to bottom out at 0.1, got %f", last)
	}
}

func TestGreedySelectionIsDeterministic(t *testing.T) {
	store := experience.NewStore(100)
	a1, _ := New(testConfig(), store, nil)
	a2, _ := New(testConfig(), experience.NewStore(100), nil)

	state := []float64{0.5, -0.2, 0.9, 0.1}
	act1, conf1, err := a1.SelectAction(state, false)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	act2, conf2, err := a2.SelectAction(state, false)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if act1 != act2 || conf1 != conf2 {
		t.Fatalf("same seed disagreed: (%d,%f) vs (%d,%f)", act1, conf1, act2, conf2)
	}
}

func TestTrainStepLearnsRewardSignal(t *testing.T) {
	store := experience.NewStore(500)
	cfg := testConfig()
	cfg.LearningRate = 0.01
	a, err := New(cfg, store, nil)
	if err != nil {
		t.Fatalf("new agent: %v", err)
	}

	// Action 1 always pays off, the others never do.
	state := []float64{1, 0, 0, 0}
	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 200; i++ {
		action := rng.Intn(3)
		reward := -0.5
		if action == 1 {
			reward = 1.0
		}
		a.Observe(experience.Experience{
			State:    state,
			Action:   action,
			Reward:   reward,
			Terminal: true,
		})
	}

	for i := 0; i < 300; i++ {
		if err := a.TrainStep(); err != nil {
			t.Fatalf("train step %d: %v", i, err)
		}
	}

	action, _, err := a.SelectAction(state, false)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if action != 1 {
		t.Fatalf("expected learned action 1, got %d", action)
	}
}

func TestRewardClipping(t *testing.T) {
	store := experience.NewStore(10)
	cfg := testConfig()
	cfg.RewardClip = 1.0
	a, err := New(cfg, store, nil)
	if err != nil {
		t.Fatalf("new agent: %v", err)
	}

	a.Observe(experience.Experience{State: []float64{0, 0, 0, 0}, Action: 0, Reward: 50, Terminal: true})
	a.Observe(experience.Experience{State: []float64{0, 0, 0, 0}, Action: 1, Reward: -50, Terminal: true})

	stored := store.Oldest(2)
	if stored[0].Reward != 1.0 {
		t.Fatalf("expected clipped reward 1.0, got %f", stored[0].Reward)
	}
	if stored[1].Reward != -1.0 {
		t.Fatalf("expected clipped reward -1.0, got %f", stored[1].Reward)
	}
}

func TestDivergenceRestoresLastGood(t *testing.T) {
	store := experience.NewStore(100)
	a, err := New(testConfig(), store, nil)
	if err != nil {
		t.Fatalf("new agent: %v", err)
	}

	// Corrupt the online estimator and verify serving reports divergence.
	a.online.w2[0][0] = math.NaN()
	if _, _, err := a.SelectAction([]float64{1, 1, 1, 1}, false); !errors.Is(err, ErrNumericDivergence) {
		t.Fatalf("expected ErrNumericDivergence, got %v", err)
	}

	for i := 0; i < 16; i++ {
		a.Observe(experience.Experience{State: []float64{1, 0, 0, 0}, Action: 0, Reward: 1, Terminal: true})
	}
	if err := a.TrainStep(); !errors.Is(err, ErrNumericDivergence) {
		t.Fatalf("expected divergence during training, got %v", err)
	}

	// Online was restored from target, so serving works again.
	if _, _, err := a.SelectAction([]float64{1, 1, 1, 1}, false); err != nil {
		t.Fatalf("expected recovery after restore, got %v", err)
	}
	if err := a.TrainStep(); err != nil {
		t.Fatalf("expected training to resume, got %v", err)
	}
}

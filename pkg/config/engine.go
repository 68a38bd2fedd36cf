package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zen-systems/quantumroute/pkg/feedback"
	"github.com/zen-systems/quantumroute/pkg/provider"
	"github.com/zen-systems/quantumroute/pkg/quantum"
	"github.com/zen-systems/quantumroute/pkg/selector"
)

// EngineConfig holds the routing engine configuration loaded from
// engine.yaml.
type EngineConfig struct {
	DefaultPolicy  string         `yaml:"default_policy,omitempty"`
	DeadlineMS     int            `yaml:"deadline_ms,omitempty"`
	MaxParallel    int            `yaml:"max_parallel,omitempty"`
	OuterTimeoutMS int            `yaml:"outer_timeout_ms,omitempty"`
	Fallback       FallbackTarget `yaml:"fallback,omitempty"`

	Agent    AgentConfig           `yaml:"agent,omitempty"`
	Refine   RefineConfig          `yaml:"refine,omitempty"`
	Cache    CacheConfig           `yaml:"cache,omitempty"`
	Reward   feedback.RewardPolicy `yaml:"reward,omitempty"`
	Selector SelectorConfig        `yaml:"selector,omitempty"`
	Pricing  provider.Pricing      `yaml:"pricing,omitempty"`

	JournalPath string `yaml:"journal_path,omitempty"`
}

// FallbackTarget is the static last-resort assignment.
type FallbackTarget struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

// AgentConfig holds the learning agent's hyperparameters.
type AgentConfig struct {
	HiddenSize      int     `yaml:"hidden_size,omitempty"`
	Gamma           float64 `yaml:"gamma,omitempty"`
	LearningRate    float64 `yaml:"learning_rate,omitempty"`
	EpsilonMin      float64 `yaml:"epsilon_min,omitempty"`
	EpsilonMax      float64 `yaml:"epsilon_max,omitempty"`
	EpsilonDecay    float64 `yaml:"epsilon_decay,omitempty"`
	BatchSize       int     `yaml:"batch_size,omitempty"`
	TargetSyncEvery int     `yaml:"target_sync_every,omitempty"`
	RewardClip      float64 `yaml:"reward_clip,omitempty"`
	BufferCapacity  int     `yaml:"buffer_capacity,omitempty"`
	Seed            int64   `yaml:"seed,omitempty"`
}

// RefineConfig bounds the iterative refinement pass.
type RefineConfig struct {
	LatentDim     int     `yaml:"latent_dim,omitempty"`
	InnerMax      int     `yaml:"inner_max,omitempty"`
	OuterMax      int     `yaml:"outer_max,omitempty"`
	HaltThreshold float64 `yaml:"halt_threshold,omitempty"`
	Seed          int64   `yaml:"seed,omitempty"`
}

// CacheConfig bounds the decision cache.
type CacheConfig struct {
	Capacity            int     `yaml:"capacity,omitempty"`
	MinTTLMS            int     `yaml:"min_ttl_ms,omitempty"`
	MaxTTLMS            int     `yaml:"max_ttl_ms,omitempty"`
	SimilarityTolerance float64 `yaml:"similarity_tolerance,omitempty"`
}

// SelectorConfig configures fallback chains and balancing.
type SelectorConfig struct {
	BalanceMode   string                       `yaml:"balance_mode,omitempty"`
	RatePerSecond float64                      `yaml:"rate_per_second,omitempty"`
	Burst         int                          `yaml:"burst,omitempty"`
	Chains        map[string][]selector.Target `yaml:"chains,omitempty"`
}

// LoadEngineConfig reads engine configuration from a YAML file.
func LoadEngineConfig(path string) (*EngineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg EngineConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyEngineDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DefaultEngineConfig returns the built-in engine configuration.
func DefaultEngineConfig() *EngineConfig {
	cfg := &EngineConfig{
		Pricing: provider.Pricing{
			"anthropic": {
				"claude-sonnet-4-20250514": {PromptPer1K: 0.003, CompletionPer1K: 0.015},
				"claude-opus-4-20250514":   {PromptPer1K: 0.015, CompletionPer1K: 0.075},
			},
			"openai": {
				"gpt-5.2-instant":  {PromptPer1K: 0.0005, CompletionPer1K: 0.0015},
				"gpt-5.2-thinking": {PromptPer1K: 0.003, CompletionPer1K: 0.012},
				"gpt-5.2-codex":    {PromptPer1K: 0.002, CompletionPer1K: 0.008},
				"gpt-5.2-pro":      {PromptPer1K: 0.01, CompletionPer1K: 0.04},
			},
			"google": {
				"gemini-2.0-pro":   {PromptPer1K: 0.00125, CompletionPer1K: 0.005},
				"gemini-2.0-flash": {PromptPer1K: 0.0001, CompletionPer1K: 0.0004},
			},
			"deepseek": {
				"default": {PromptPer1K: 0.00014, CompletionPer1K: 0.00028},
			},
		},
	}
	applyEngineDefaults(cfg)
	return cfg
}

func applyEngineDefaults(cfg *EngineConfig) {
	if cfg == nil {
		return
	}
	if cfg.DefaultPolicy == "" {
		cfg.DefaultPolicy = string(quantum.BestScore)
	}
	if cfg.DeadlineMS <= 0 {
		cfg.DeadlineMS = int(quantum.DefaultDeadline / time.Millisecond)
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = quantum.DefaultMaxParallel
	}
	if cfg.OuterTimeoutMS <= 0 {
		cfg.OuterTimeoutMS = 30000
	}
	if cfg.Fallback.Provider == "" {
		cfg.Fallback.Provider = "anthropic"
		cfg.Fallback.Model = "claude-sonnet-4-20250514"
	}
	if cfg.Selector.BalanceMode == "" {
		cfg.Selector.BalanceMode = string(selector.RoundRobin)
	}
	if cfg.Selector.Chains == nil {
		cfg.Selector.Chains = selector.DefaultChains()
	}
}

// Validate rejects configurations the engine cannot run with.
func (c *EngineConfig) Validate() error {
	if _, err := quantum.ParseCollapsePolicy(c.DefaultPolicy); err != nil {
		return fmt.Errorf("default_policy: %w", err)
	}
	switch selector.BalanceMode(c.Selector.BalanceMode) {
	case selector.RoundRobin, selector.LeastLoaded:
	default:
		return fmt.Errorf("selector.balance_mode: unknown mode %q", c.Selector.BalanceMode)
	}
	if c.Fallback.Provider == "" || c.Fallback.Model == "" {
		return fmt.Errorf("fallback provider and model are required")
	}
	if c.Agent.EpsilonMin < 0 || c.Agent.EpsilonMax > 1 || (c.Agent.EpsilonMax != 0 && c.Agent.EpsilonMin > c.Agent.EpsilonMax) {
		return fmt.Errorf("agent epsilon bounds must satisfy 0 <= min <= max <= 1")
	}
	if c.Agent.EpsilonDecay < 0 || c.Agent.EpsilonDecay > 1 {
		return fmt.Errorf("agent epsilon_decay must be in [0, 1]")
	}
	if c.Refine.HaltThreshold < 0 || c.Refine.HaltThreshold > 1 {
		return fmt.Errorf("refine halt_threshold must be in [0, 1]")
	}
	if c.Cache.SimilarityTolerance < 0 || c.Cache.SimilarityTolerance > 1 {
		return fmt.Errorf("cache similarity_tolerance must be in [0, 1]")
	}
	if c.Cache.MaxTTLMS > 0 && c.Cache.MaxTTLMS < c.Cache.MinTTLMS {
		return fmt.Errorf("cache max_ttl_ms must be >= min_ttl_ms")
	}
	for family, chain := range c.Selector.Chains {
		for i, tgt := range chain {
			if tgt.Provider == "" || tgt.Model == "" {
				return fmt.Errorf("selector chain %q entry %d: provider and model are required", family, i)
			}
		}
	}
	return nil
}

// Deadline returns the per-request collapse deadline.
func (c *EngineConfig) Deadline() time.Duration {
	return time.Duration(c.DeadlineMS) * time.Millisecond
}

// OuterTimeout returns the end-to-end request timeout.
func (c *EngineConfig) OuterTimeout() time.Duration {
	return time.Duration(c.OuterTimeoutMS) * time.Millisecond
}

package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/zen-systems/quantumroute/pkg/quantum"
)

func setHomeEnv(t *testing.T, home string) {
	t.Helper()
	t.Setenv("HOME", home)
	if runtime.GOOS == "windows" {
		t.Setenv("USERPROFILE", home)
	}
}

func clearKeyEnv(t *testing.T) {
	t.Helper()
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")
	t.Setenv("DEEPSEEK_API_KEY", "")
}

func TestConfigFileAPIKeys(t *testing.T) {
	home := t.TempDir()
	setHomeEnv(t, home)
	clearKeyEnv(t)

	configDir := filepath.Join(home, ".quantumroute")
	if err := os.MkdirAll(configDir, 0700); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	data := []byte("api_keys:\n  anthropic: file-ant\n  deepseek: file-deepseek\n")
	if err := os.WriteFile(filepath.Join(configDir, "config.yaml"), data, 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AnthropicAPIKey != "file-ant" || cfg.DeepSeekAPIKey != "file-deepseek" {
		t.Fatalf("expected file API keys, got %q %q", cfg.AnthropicAPIKey, cfg.DeepSeekAPIKey)
	}
	if cfg.HasProvider("openai") {
		t.Fatalf("openai key is not configured")
	}
	if !cfg.HasProvider("anthropic") {
		t.Fatalf("anthropic key is configured")
	}
}

func TestConfigEnvOverridesFile(t *testing.T) {
	home := t.TempDir()
	setHomeEnv(t, home)
	clearKeyEnv(t)

	configDir := filepath.Join(home, ".quantumroute")
	if err := os.MkdirAll(configDir, 0700); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	data := []byte("api_keys:\n  anthropic: file-ant\n")
	if err := os.WriteFile(filepath.Join(configDir, "config.yaml"), data, 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("ANTHROPIC_API_KEY", "env-ant")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AnthropicAPIKey != "env-ant" {
		t.Fatalf("expected env key to win, got %q", cfg.AnthropicAPIKey)
	}
}

func TestDefaultEngineConfig(t *testing.T) {
	cfg := DefaultEngineConfig()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
	if cfg.DefaultPolicy != string(quantum.BestScore) {
		t.Fatalf("unexpected default policy %q", cfg.DefaultPolicy)
	}
	if cfg.DeadlineMS != 150 || cfg.MaxParallel != 5 {
		t.Fatalf("unexpected quantum defaults: %d %d", cfg.DeadlineMS, cfg.MaxParallel)
	}
	if cfg.Fallback.Provider != "anthropic" {
		t.Fatalf("unexpected fallback provider %q", cfg.Fallback.Provider)
	}
	if len(cfg.Selector.Chains) == 0 {
		t.Fatalf("default chains missing")
	}
	if len(cfg.Pricing["anthropic"]) == 0 {
		t.Fatalf("default pricing missing")
	}
}

func TestLoadEngineConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.yaml")
	data := []byte(`
default_policy: consensus
deadline_ms: 80
agent:
  epsilon_min: 0.05
  epsilon_max: 0.9
  epsilon_decay: 0.99
cache:
  similarity_tolerance: 0.2
`)
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := LoadEngineConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DefaultPolicy != string(quantum.Consensus) || cfg.DeadlineMS != 80 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	// Unset fields still get defaults.
	if cfg.MaxParallel != 5 || cfg.Fallback.Provider == "" {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}

func TestLoadEngineConfigRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"bad policy":  "default_policy: schroedinger\n",
		"bad epsilon": "agent:\n  epsilon_min: 0.9\n  epsilon_max: 0.1\n",
		"bad mode":    "selector:\n  balance_mode: heaviest\n",
		"bad ttl":     "cache:\n  min_ttl_ms: 5000\n  max_ttl_ms: 100\n",
	}
	dir := t.TempDir()
	for name, body := range cases {
		path := filepath.Join(dir, "engine.yaml")
		if err := os.WriteFile(path, []byte(body), 0600); err != nil {
			t.Fatalf("write: %v", err)
		}
		if _, err := LoadEngineConfig(path); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/zen-systems/quantumroute/pkg/config"
	"github.com/zen-systems/quantumroute/pkg/engine"
	"github.com/zen-systems/quantumroute/pkg/journal"
	"github.com/zen-systems/quantumroute/pkg/provider"
	"github.com/zen-systems/quantumroute/pkg/quantum"
	"github.com/zen-systems/quantumroute/pkg/schema"
	"github.com/zen-systems/quantumroute/pkg/strategy"
)

var (
	configFile string
	mockFlag   bool
	aliases    *config.ModelAliases
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "quantumroute",
		Short: "Adaptive AI model routing with reinforcement learning",
		Long: `Quantumroute routes tasks to the best LLM provider by evaluating
multiple routing strategies concurrently and collapsing their results,
learning from execution feedback over time.`,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to engine config file")
	rootCmd.PersistentFlags().BoolVar(&mockFlag, "mock", false, "use mock providers regardless of configured API keys")

	rootCmd.AddCommand(routeCmd())
	rootCmd.AddCommand(strategiesCmd())
	rootCmd.AddCommand(providersCmd())
	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(simulateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func routeCmd() *cobra.Command {
	var taskType string
	var taskID string
	var policyFlag string
	var strategiesFlag []string
	var maxParallel int
	var timeoutMS int
	var invokeFlag bool

	cmd := &cobra.Command{
		Use:   "route [prompt]",
		Short: "Route a prompt to the best provider",
		Long: `Evaluates the enabled routing strategies concurrently against the
prompt's encoded context, collapses their results into one decision, and
prints it as JSON.

Use --invoke to also call the chosen provider and print its response.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			eng, jour, err := buildEngine(cfg)
			if err != nil {
				return err
			}
			defer eng.Close()
			defer jour.Close()

			if taskID == "" {
				taskID = uuid.New().String()
			}
			req := &schema.Request{
				TaskID:   taskID,
				TaskType: taskType,
				Prompt:   args[0],
			}
			if policyFlag != "" || len(strategiesFlag) > 0 || maxParallel > 0 || timeoutMS > 0 {
				req.StrategyConfig = &schema.StrategyConfig{
					Strategies:       strategiesFlag,
					CollapseStrategy: policyFlag,
					MaxParallel:      maxParallel,
					TimeoutMS:        timeoutMS,
				}
			}

			var resp *engine.Response
			if invokeFlag {
				resp, err = eng.Complete(context.Background(), req)
			} else {
				resp, err = eng.Execute(context.Background(), req)
			}
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(resp, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}

	cmd.Flags().StringVar(&taskType, "task-type", "", "task type hint (code, reasoning, research, ...)")
	cmd.Flags().StringVar(&taskID, "task-id", "", "task id (defaults to a fresh UUID)")
	cmd.Flags().StringVar(&policyFlag, "policy", "", "collapse policy override")
	cmd.Flags().StringSliceVar(&strategiesFlag, "strategies", nil, "subset of strategies to evaluate")
	cmd.Flags().IntVar(&maxParallel, "max-parallel", 0, "max concurrent strategy evaluations")
	cmd.Flags().IntVar(&timeoutMS, "timeout-ms", 0, "collapse deadline in milliseconds")
	cmd.Flags().BoolVar(&invokeFlag, "invoke", false, "invoke the chosen provider and include its response")

	return cmd
}

func strategiesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "strategies",
		Short: "List routing strategies and collapse policies",
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "STRATEGY")
			for _, name := range strategy.All() {
				fmt.Fprintf(w, "%s\n", name)
			}
			fmt.Fprintln(w)
			fmt.Fprintln(w, "COLLAPSE POLICY")
			for _, p := range quantum.Policies() {
				fmt.Fprintf(w, "%s\n", p)
			}
			return w.Flush()
		},
	}
}

func providersCmd() *cobra.Command {
	var resolveFlag bool

	cmd := &cobra.Command{
		Use:   "providers",
		Short: "List providers, models, and aliases",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			if resolveFlag {
				return showAliases()
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PROVIDER\tMODELS\tSTATUS")

			providers := aliases.ListProviders()
			if len(providers) == 0 {
				providers = []string{"anthropic", "deepseek", "google", "openai"}
			}

			for _, name := range providers {
				models := formatList(aliases.GetProviderModels(name))
				status := "no key"
				if cfg.HasProvider(name) {
					status = "ready"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", name, models, status)
			}

			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&resolveFlag, "resolve", false, "show aliases and what they resolve to")

	return cmd
}

func showAliases() error {
	if aliases == nil {
		fmt.Println("No model aliases configured.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ALIAS\tMODEL\tPROVIDER")

	aliasMap := aliases.ListAliases()
	var aliasNames []string
	for name := range aliasMap {
		aliasNames = append(aliasNames, name)
	}
	sort.Strings(aliasNames)

	for _, alias := range aliasNames {
		model := aliasMap[alias]
		providerName := aliases.GetProviderForModel(model)
		fmt.Fprintf(w, "%s\t%s\t%s\n", alias, model, providerName)
	}

	return w.Flush()
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [engine.yaml]",
		Short: "Validate an engine config file",
		Long:  "Validates engine YAML, including fallback chain models, without starting the engine.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engineCfg, err := config.LoadEngineConfig(args[0])
			if err != nil {
				return err
			}

			if aliases == nil {
				aliases, _ = config.LoadAliasesWithFallback("configs/models.yaml")
				if len(aliases.Aliases) == 0 {
					aliases = config.DefaultAliases()
				}
			}
			if errs := aliases.ValidateEngineConfig(engineCfg); len(errs) > 0 {
				fmt.Fprintf(os.Stderr, "Found %d validation errors:\n", len(errs))
				for _, err := range errs {
					fmt.Fprintf(os.Stderr, "  - %s\n", err)
				}
				return fmt.Errorf("validation failed")
			}

			fmt.Println("Engine config is valid.")
			return nil
		},
	}
}

func simulateCmd() *cobra.Command {
	var requests int
	var seed int64

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run synthetic traffic against mock providers",
		Long: `Routes a batch of synthetic requests with randomized task types
against mock providers, feeding outcomes back into the learning loop, and
prints per-provider routing counts. Useful for observing strategy and
agent behavior without spending tokens.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			mockFlag = true

			eng, jour, err := buildEngine(cfg)
			if err != nil {
				return err
			}
			defer eng.Close()
			defer jour.Close()

			rng := rand.New(rand.NewSource(seed))
			prompts := []string{
				"implement a worker pool with graceful shutdown",
				"summarize the attached design document",
				"prove the triangle inequality",
				"draft a short story about a lighthouse keeper",
				"compare consensus protocols for my use case",
			}

			counts := map[string]int{}
			hits := 0
			for i := 0; i < requests; i++ {
				req := &schema.Request{
					TaskID:   uuid.New().String(),
					TaskType: schema.TaskTypes[rng.Intn(len(schema.TaskTypes))],
					Prompt:   prompts[rng.Intn(len(prompts))],
				}
				resp, err := eng.Execute(context.Background(), req)
				if err != nil {
					return err
				}
				counts[resp.Decision.Provider]++
				if resp.CacheHit {
					hits++
				}
				if _, err := eng.Feedback(&schema.Feedback{
					TaskID:    req.TaskID,
					Success:   rng.Float64() < 0.9,
					LatencyMS: 200 + rng.Float64()*800,
				}); err != nil {
					return err
				}
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PROVIDER\tROUTED")
			var names []string
			for name := range counts {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Fprintf(w, "%s\t%d\n", name, counts[name])
			}
			fmt.Fprintln(w)
			fmt.Fprintf(w, "cache hits\t%d/%d\n", hits, requests)
			return w.Flush()
		},
	}

	cmd.Flags().IntVar(&requests, "requests", 100, "number of synthetic requests")
	cmd.Flags().Int64Var(&seed, "seed", 1, "random seed")

	return cmd
}

func formatList(items []string) string {
	if len(items) == 0 {
		return ""
	}
	result := items[0]
	for i := 1; i < len(items); i++ {
		result += ", " + items[i]
	}
	return result
}

func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error

	if configFile != "" {
		cfg, err = config.LoadWithEngineFile(configFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	aliases, _ = config.LoadAliasesWithFallback("configs/models.yaml")
	if len(aliases.Aliases) == 0 {
		aliases = config.DefaultAliases()
	}

	return cfg, nil
}

func buildEngine(cfg *config.Config) (*engine.Engine, *journal.Journal, error) {
	registry, err := buildRegistry(cfg)
	if err != nil {
		return nil, nil, err
	}

	jour, err := journal.Open(journalPath(cfg))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open journal: %w", err)
	}

	eng, err := engine.New(cfg.Engine, registry, jour, nil)
	if err != nil {
		jour.Close()
		return nil, nil, err
	}

	// Config edits apply to subsequent requests without a restart.
	if configFile != "" {
		if err := eng.WatchConfig(configFile); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: config watch unavailable: %v\n", err)
		}
	}

	return eng, jour, nil
}

func buildRegistry(cfg *config.Config) (*provider.Registry, error) {
	registry := provider.NewRegistry(cfg.Engine.Pricing, nil)

	if mockFlag {
		for _, name := range []string{"anthropic", "openai", "google", "deepseek"} {
			registry.Register(provider.NewNamedMockClient(name))
		}
		return registry, nil
	}

	if cfg.AnthropicAPIKey != "" {
		c, err := provider.NewAnthropicClient(cfg.AnthropicAPIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create anthropic client: %w", err)
		}
		registry.Register(c)
	}

	if cfg.OpenAIAPIKey != "" {
		c, err := provider.NewOpenAIClient(cfg.OpenAIAPIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create openai client: %w", err)
		}
		registry.Register(c)
	}

	if cfg.GoogleAPIKey != "" {
		c, err := provider.NewGoogleClient(cfg.GoogleAPIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create google client: %w", err)
		}
		registry.Register(c)
	}

	if cfg.DeepSeekAPIKey != "" {
		c, err := provider.NewDeepSeekClient(cfg.DeepSeekAPIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create deepseek client: %w", err)
		}
		registry.Register(c)
	}

	if len(registry.Names()) == 0 {
		return nil, fmt.Errorf("no API keys configured; use --mock for local runs")
	}

	return registry, nil
}

func journalPath(cfg *config.Config) string {
	if cfg.Engine.JournalPath != "" {
		return cfg.Engine.JournalPath
	}
	return filepath.Join(cfg.ConfigDir, "journal.db")
}

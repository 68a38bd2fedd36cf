package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/zen-systems/quantumroute/pkg/provider"
	"github.com/zen-systems/quantumroute/pkg/schema"
)

// Retry behavior for provider invocations.
const (
	maxRetries  = 2
	baseBackoff = 200 * time.Millisecond
	maxBackoff  = 2 * time.Second
)

// Complete routes the request and invokes the chosen provider. The
// observed outcome is fed back into the learning loop automatically, so
// callers using Complete do not need to submit explicit feedback.
func (e *Engine) Complete(ctx context.Context, req *schema.Request) (*Response, error) {
	resp, err := e.Execute(ctx, req)
	if err != nil {
		return nil, err
	}

	client, err := e.registry.Get(resp.Decision.Provider)
	if err != nil {
		return nil, err
	}

	e.sel.OnStart(resp.Decision.Provider)
	started := time.Now()
	obs, err := invokeWithRetry(ctx, client, resp.Decision.Model, req.Prompt)
	latencyMS := float64(time.Since(started).Milliseconds())
	e.sel.OnDone(resp.Decision.Provider)

	if err != nil {
		if _, fbErr := e.Feedback(&schema.Feedback{
			TaskID:    req.TaskID,
			Success:   false,
			LatencyMS: latencyMS,
		}); fbErr != nil {
			e.logger.Warn("auto feedback failed", "task_id", req.TaskID, "error", fbErr)
		}
		return nil, fmt.Errorf("provider %s: %w", resp.Decision.Provider, err)
	}

	var costUSD float64
	if obs.Usage != nil {
		usage := provider.NormalizeUsage(obs.Usage)
		if cost, ok := provider.EstimateCost(e.registry.Pricing(), obs.Provider, obs.Model, usage); ok {
			costUSD = cost.Amount
		}
	}
	if _, fbErr := e.Feedback(&schema.Feedback{
		TaskID:    req.TaskID,
		Success:   true,
		LatencyMS: latencyMS,
		Cost:      costUSD,
	}); fbErr != nil {
		e.logger.Warn("auto feedback failed", "task_id", req.TaskID, "error", fbErr)
	}

	resp.Observation = obs
	return resp, nil
}

// invokeWithRetry retries transient provider failures with exponential
// backoff. Non-transient errors fail immediately.
func invokeWithRetry(ctx context.Context, client provider.Client, model, prompt string) (*provider.Observation, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		obs, err := client.Invoke(ctx, model, prompt)
		if err == nil {
			return obs, nil
		}
		lastErr = err
		if !provider.IsTransient(err) || attempt == maxRetries {
			break
		}
		if err := sleepWithContext(ctx, computeBackoff(attempt)); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

func computeBackoff(attempt int) time.Duration {
	backoff := baseBackoff
	for i := 0; i < attempt; i++ {
		backoff *= 2
		if backoff >= maxBackoff {
			return maxBackoff
		}
	}
	return backoff
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

package provider

import "time"

// Usage captures normalized token usage.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Cost captures normalized cost estimates.
type Cost struct {
	Currency     string  `json:"currency"`
	Amount       float64 `json:"amount"`
	IsEstimate   bool    `json:"is_estimate"`
	PricingModel string  `json:"pricing_model,omitempty"`
}

// Observation is one completed provider invocation.
type Observation struct {
	Provider  string    `json:"provider"`
	Model     string    `json:"model"`
	Content   string    `json:"content"`
	Usage     *Usage    `json:"usage,omitempty"`
	LatencyMS float64   `json:"latency_ms"`
	CreatedAt time.Time `json:"created_at"`
}

// ModelPricing holds per-1K-token rates for a model.
type ModelPricing struct {
	PromptPer1K     float64 `yaml:"prompt_per_1k" json:"prompt_per_1k"`
	CompletionPer1K float64 `yaml:"completion_per_1k" json:"completion_per_1k"`
}

// Pricing maps provider -> model -> rates. A "default" model entry acts as
// the provider-wide fallback.
type Pricing map[string]map[string]ModelPricing

// EstimateCost prices a usage record against the table. The second return
// is false when no pricing entry covers the provider/model pair.
func EstimateCost(pricing Pricing, providerName, model string, usage Usage) (Cost, bool) {
	entry, ok := pricingFor(pricing, providerName, model)
	if !ok {
		return Cost{Currency: "USD"}, false
	}

	promptCost := (float64(usage.PromptTokens) / 1000.0) * entry.PromptPer1K
	completionCost := (float64(usage.CompletionTokens) / 1000.0) * entry.CompletionPer1K
	return Cost{
		Currency:     "USD",
		Amount:       promptCost + completionCost,
		IsEstimate:   true,
		PricingModel: "per_1k_tokens",
	}, true
}

func pricingFor(pricing Pricing, providerName, model string) (ModelPricing, bool) {
	if pricing == nil {
		return ModelPricing{}, false
	}
	if providerPricing, ok := pricing[providerName]; ok {
		if entry, ok := providerPricing[model]; ok {
			return entry, true
		}
		if entry, ok := providerPricing["default"]; ok {
			return entry, true
		}
	}
	return ModelPricing{}, false
}

// NormalizeUsage fills in the total when only the parts are reported.
func NormalizeUsage(u *Usage) Usage {
	if u == nil {
		return Usage{}
	}
	usage := *u
	if usage.TotalTokens == 0 && (usage.PromptTokens > 0 || usage.CompletionTokens > 0) {
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}
	return usage
}

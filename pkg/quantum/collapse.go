package quantum

import (
	"fmt"
	"sort"

	"github.com/zen-systems/quantumroute/pkg/strategy"
)

// CollapsePolicy selects how concurrent strategy results resolve into one
// decision.
type CollapsePolicy string

const (
	BestScore    CollapsePolicy = "best_score"
	Weighted     CollapsePolicy = "weighted"
	Consensus    CollapsePolicy = "consensus"
	FirstSuccess CollapsePolicy = "first_success"
	Combined     CollapsePolicy = "combined"
)

// Policies returns every collapse policy in canonical order.
func Policies() []CollapsePolicy {
	return []CollapsePolicy{BestScore, Weighted, Consensus, FirstSuccess, Combined}
}

// ParseCollapsePolicy validates a policy name string.
func ParseCollapsePolicy(s string) (CollapsePolicy, error) {
	for _, p := range Policies() {
		if s == string(p) {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown collapse policy %q", s)
}

// outcome is the provider/model resolution produced by a collapse function.
type outcome struct {
	Provider     string
	Model        string
	Confidence   float64
	StrategyUsed strategy.Name
	Reasoning    string
}

// collapse resolves completed results under a policy. It is a pure function:
// no blocking, no mutation of the input slice, deterministic for a fixed
// input set. It fails only on an empty result set.
func collapse(policy CollapsePolicy, results []strategy.Result) (outcome, error) {
	if len(results) == 0 {
		return outcome{}, fmt.Errorf("collapse: no completed results")
	}
	switch policy {
	case BestScore:
		return collapseBestScore(results), nil
	case Weighted:
		return collapseWeighted(results), nil
	case Consensus:
		return collapseConsensus(results), nil
	case FirstSuccess:
		return collapseFirstSuccess(results), nil
	case Combined:
		return collapseCombined(results), nil
	default:
		return collapseBestScore(results), nil
	}
}

// collapseBestScore picks the highest-confidence result, breaking ties by
// lowest evaluation latency.
func collapseBestScore(results []strategy.Result) outcome {
	best := results[0]
	for _, r := range results[1:] {
		if r.Confidence > best.Confidence ||
			(r.Confidence == best.Confidence && r.LatencyMS < best.LatencyMS) {
			best = r
		}
	}
	return outcome{
		Provider:     best.Provider,
		Model:        best.Model,
		Confidence:   best.Confidence,
		StrategyUsed: best.Strategy,
		Reasoning: fmt.Sprintf("best_score: %s proposed %s/%s at %.2f",
			best.Strategy, best.Provider, best.Model, best.Confidence),
	}
}

// collapseWeighted holds a confidence-weighted vote per provider; the
// winner's confidence is its normalized weight share.
func collapseWeighted(results []strategy.Result) outcome {
	weights := make(map[string]float64)
	var total float64
	for _, r := range results {
		weights[r.Provider] += r.Confidence
		total += r.Confidence
	}

	winner := ""
	for provider, w := range weights {
		if winner == "" || w > weights[winner] || (w == weights[winner] && provider < winner) {
			winner = provider
		}
	}

	lead := topForProvider(results, winner)
	confidence := 0.0
	if total > 0 {
		confidence = weights[winner] / total
	}
	return outcome{
		Provider:     winner,
		Model:        lead.Model,
		Confidence:   confidence,
		StrategyUsed: lead.Strategy,
		Reasoning: fmt.Sprintf("weighted: %s carried %.2f of %.2f total confidence across %d results",
			winner, weights[winner], total, len(results)),
	}
}

// collapseConsensus picks the provider proposed by the largest subset of
// results; confidence is the agreeing fraction.
func collapseConsensus(results []strategy.Result) outcome {
	counts := make(map[string]int)
	sums := make(map[string]float64)
	for _, r := range results {
		counts[r.Provider]++
		sums[r.Provider] += r.Confidence
	}

	winner := ""
	for provider, n := range counts {
		if winner == "" {
			winner = provider
			continue
		}
		best := counts[winner]
		if n > best ||
			(n == best && sums[provider] > sums[winner]) ||
			(n == best && sums[provider] == sums[winner] && provider < winner) {
			winner = provider
		}
	}

	lead := topForProvider(results, winner)
	return outcome{
		Provider:     winner,
		Model:        lead.Model,
		Confidence:   float64(counts[winner]) / float64(len(results)),
		StrategyUsed: lead.Strategy,
		Reasoning: fmt.Sprintf("consensus: %d of %d results agreed on %s",
			counts[winner], len(results), winner),
	}
}

// collapseFirstSuccess picks the earliest completed result.
func collapseFirstSuccess(results []strategy.Result) outcome {
	first := results[0]
	for _, r := range results[1:] {
		if r.CompletedAt.Before(first.CompletedAt) ||
			(r.CompletedAt.Equal(first.CompletedAt) && r.LatencyMS < first.LatencyMS) {
			first = r
		}
	}
	return outcome{
		Provider:     first.Provider,
		Model:        first.Model,
		Confidence:   first.Confidence,
		StrategyUsed: first.Strategy,
		Reasoning: fmt.Sprintf("first_success: %s completed first with %s/%s",
			first.Strategy, first.Provider, first.Model),
	}
}

// collapseCombined aggregates all results into one derived decision when
// they agree on a provider, otherwise falls back to best_score.
func collapseCombined(results []strategy.Result) outcome {
	provider := results[0].Provider
	for _, r := range results[1:] {
		if r.Provider != provider {
			out := collapseBestScore(results)
			out.Reasoning = "combined: no provider agreement, fell back to " + out.Reasoning
			return out
		}
	}

	var confSum float64
	for _, r := range results {
		confSum += r.Confidence
	}
	lead := topForProvider(results, provider)
	return outcome{
		Provider:     provider,
		Model:        lead.Model,
		Confidence:   confSum / float64(len(results)),
		StrategyUsed: lead.Strategy,
		Reasoning: fmt.Sprintf("combined: %d results agreed on %s, mean confidence %.2f",
			len(results), provider, confSum/float64(len(results))),
	}
}

// topForProvider returns the highest-confidence result proposing the given
// provider, with a deterministic strategy-name tie-break.
func topForProvider(results []strategy.Result, provider string) strategy.Result {
	matching := make([]strategy.Result, 0, len(results))
	for _, r := range results {
		if r.Provider == provider {
			matching = append(matching, r)
		}
	}
	if len(matching) == 0 {
		return results[0]
	}
	sort.SliceStable(matching, func(i, j int) bool {
		if matching[i].Confidence != matching[j].Confidence {
			return matching[i].Confidence > matching[j].Confidence
		}
		return matching[i].Strategy < matching[j].Strategy
	})
	return matching[0]
}

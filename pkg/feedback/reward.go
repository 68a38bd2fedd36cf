// Package feedback closes the learning loop: outcome signals become shaped
// rewards, training experiences, provider statistics, and cache
// invalidations.
package feedback

import "github.com/zen-systems/quantumroute/pkg/schema"

// Reward shaping defaults.
const (
	DefaultSuccessReward  = 1.0
	DefaultFailurePenalty = -1.0
	DefaultLatencyWeight  = 0.3
	DefaultLatencyScaleMS = 2000.0
	DefaultCostWeight     = 0.2
	DefaultCostScaleUSD   = 0.05
	DefaultQualityWeight  = 0.5
	DefaultClip           = 2.0
)

// RewardPolicy shapes an outcome signal into a scalar reward. Weights are
// configuration, not code, so reward shaping can be tuned per deployment.
type RewardPolicy struct {
	SuccessReward  float64 `yaml:"success_reward" json:"success_reward"`
	FailurePenalty float64 `yaml:"failure_penalty" json:"failure_penalty"`
	LatencyWeight  float64 `yaml:"latency_weight" json:"latency_weight"`
	LatencyScaleMS float64 `yaml:"latency_scale_ms" json:"latency_scale_ms"`
	CostWeight     float64 `yaml:"cost_weight" json:"cost_weight"`
	CostScaleUSD   float64 `yaml:"cost_scale_usd" json:"cost_scale_usd"`
	QualityWeight  float64 `yaml:"quality_weight" json:"quality_weight"`
	Clip           float64 `yaml:"clip" json:"clip"`
}

// DefaultRewardPolicy returns the built-in shaping weights.
func DefaultRewardPolicy() RewardPolicy {
	return RewardPolicy{
		SuccessReward:  DefaultSuccessReward,
		FailurePenalty: DefaultFailurePenalty,
		LatencyWeight:  DefaultLatencyWeight,
		LatencyScaleMS: DefaultLatencyScaleMS,
		CostWeight:     DefaultCostWeight,
		CostScaleUSD:   DefaultCostScaleUSD,
		QualityWeight:  DefaultQualityWeight,
		Clip:           DefaultClip,
	}
}

func (p *RewardPolicy) applyDefaults() {
	if p.SuccessReward == 0 {
		p.SuccessReward = DefaultSuccessReward
	}
	if p.FailurePenalty == 0 {
		p.FailurePenalty = DefaultFailurePenalty
	}
	if p.LatencyScaleMS <= 0 {
		p.LatencyScaleMS = DefaultLatencyScaleMS
	}
	if p.CostScaleUSD <= 0 {
		p.CostScaleUSD = DefaultCostScaleUSD
	}
	if p.Clip <= 0 {
		p.Clip = DefaultClip
	}
}

// Compute shapes a feedback signal into a clipped scalar reward. Success
// sets the base; latency and cost subtract proportional penalties capped at
// their weight; an observed quality signal shifts the reward on a [-1, 1]
// scale.
func (p RewardPolicy) Compute(fb *schema.Feedback) float64 {
	p.applyDefaults()

	reward := p.FailurePenalty
	if fb.Success {
		reward = p.SuccessReward
	}

	if fb.LatencyMS > 0 {
		frac := fb.LatencyMS / p.LatencyScaleMS
		if frac > 1 {
			frac = 1
		}
		reward -= p.LatencyWeight * frac
	}
	if fb.Cost > 0 {
		frac := fb.Cost / p.CostScaleUSD
		if frac > 1 {
			frac = 1
		}
		reward -= p.CostWeight * frac
	}
	if fb.QualitySignal != nil {
		q := *fb.QualitySignal
		if q < 0 {
			q = 0
		}
		if q > 1 {
			q = 1
		}
		reward += p.QualityWeight * (2*q - 1)
	}

	if reward > p.Clip {
		reward = p.Clip
	}
	if reward < -p.Clip {
		reward = -p.Clip
	}
	return reward
}

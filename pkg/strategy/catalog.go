package strategy

import "github.com/zen-systems/quantumroute/pkg/schema"

// complexModelThreshold splits requests between a provider's fast and
// strong model tiers.
const complexModelThreshold = 0.5

// Profile describes one provider's static capability ranking.
type Profile struct {
	FastModel       string
	StrongModel     string
	CostRank        float64 // 0 = cheapest, 1 = most expensive
	PerformanceRank float64 // 0 = weakest, 1 = strongest
	TaskAffinity    map[string]float64
}

// Affinity returns the provider's affinity for a task type, falling back to
// its general affinity and then to a neutral 0.5.
func (p Profile) Affinity(taskType string) float64 {
	if v, ok := p.TaskAffinity[taskType]; ok {
		return v
	}
	if v, ok := p.TaskAffinity[schema.TaskGeneral]; ok {
		return v
	}
	return 0.5
}

// Catalog maps provider names to capability profiles.
type Catalog struct {
	profiles map[string]Profile
}

// NewCatalog builds a catalog from profiles.
func NewCatalog(profiles map[string]Profile) *Catalog {
	c := &Catalog{profiles: make(map[string]Profile, len(profiles))}
	for name, p := range profiles {
		c.profiles[name] = p
	}
	return c
}

// Profile returns the profile for a provider.
func (c *Catalog) Profile(provider string) (Profile, bool) {
	p, ok := c.profiles[provider]
	return p, ok
}

// Providers returns the providers present in the catalog.
func (c *Catalog) Providers() []string {
	out := make([]string, 0, len(c.profiles))
	for name := range c.profiles {
		out = append(out, name)
	}
	return out
}

// ModelFor picks the provider's model tier for a complexity score. Unknown
// providers yield an empty model; the selector rejects those downstream.
func (c *Catalog) ModelFor(provider string, complexity float64) string {
	p, ok := c.profiles[provider]
	if !ok {
		return ""
	}
	if complexity >= complexModelThreshold && p.StrongModel != "" {
		return p.StrongModel
	}
	if p.FastModel != "" {
		return p.FastModel
	}
	return p.StrongModel
}

// DefaultCatalog returns capability profiles for the built-in providers.
func DefaultCatalog() *Catalog {
	return NewCatalog(map[string]Profile{
		"anthropic": {
			FastModel:       "claude-sonnet-4-20250514",
			StrongModel:     "claude-opus-4-20250514",
			CostRank:        0.8,
			PerformanceRank: 0.95,
			TaskAffinity: map[string]float64{
				schema.TaskCode:      0.95,
				schema.TaskReasoning: 0.85,
				schema.TaskCreative:  0.8,
				schema.TaskGeneral:   0.8,
			},
		},
		"openai": {
			FastModel:       "gpt-5.2-instant",
			StrongModel:     "gpt-5.2-pro",
			CostRank:        0.6,
			PerformanceRank: 0.9,
			TaskAffinity: map[string]float64{
				schema.TaskMath:      0.9,
				schema.TaskSummarize: 0.85,
				schema.TaskCode:      0.8,
				schema.TaskGeneral:   0.75,
			},
		},
		"google": {
			FastModel:       "gemini-2.0-flash",
			StrongModel:     "gemini-2.0-pro",
			CostRank:        0.4,
			PerformanceRank: 0.8,
			TaskAffinity: map[string]float64{
				schema.TaskResearch: 0.9,
				schema.TaskChat:     0.75,
				schema.TaskGeneral:  0.7,
			},
		},
		"deepseek": {
			FastModel:       "deepseek-chat",
			StrongModel:     "deepseek-reasoner",
			CostRank:        0.1,
			PerformanceRank: 0.65,
			TaskAffinity: map[string]float64{
				schema.TaskReasoning: 0.8,
				schema.TaskCode:      0.7,
				schema.TaskGeneral:   0.6,
			},
		},
	})
}

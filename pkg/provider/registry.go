package provider

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// unhealthyAfter is the consecutive-failure count that marks a provider down.
const unhealthyAfter = 3

// ewmaAlpha is the weight of new observations in rolling statistics.
const ewmaAlpha = 0.2

// Stats is the rolling per-provider performance record.
type Stats struct {
	SuccessRate  float64
	AvgLatencyMS float64
	AvgCostUSD   float64
	Quality      float64
	Samples      int64
}

type providerState struct {
	client       Client
	healthy      bool
	consecFails  int
	stats        Stats
	statsPrimed  bool
	qualityKnown bool
}

// Registry tracks registered clients, their health, and rolling statistics.
type Registry struct {
	mu      sync.RWMutex
	byName  map[string]*providerState
	pricing Pricing
	logger  *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(pricing Pricing, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		byName:  make(map[string]*providerState),
		pricing: pricing,
		logger:  logger,
	}
}

// Register adds a client. Re-registering a name replaces the client but
// keeps its accumulated statistics.
func (r *Registry) Register(c Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.byName[c.Name()]; ok {
		st.client = c
		return
	}
	r.byName[c.Name()] = &providerState{
		client:  c,
		healthy: true,
		// Optimistic priors until real traffic arrives.
		stats: Stats{SuccessRate: 1.0, Quality: 0.5},
	}
}

// Get returns the client for a provider name.
func (r *Registry) Get(name string) (Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("provider %q is not registered", name)
	}
	return st.client, nil
}

// Names returns registered provider names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Availability snapshots provider health. The map is a copy.
func (r *Registry) Availability() map[string]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]bool, len(r.byName))
	for name, st := range r.byName {
		out[name] = st.healthy
	}
	return out
}

// Stats snapshots the rolling statistics for every provider.
func (r *Registry) Stats() map[string]Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Stats, len(r.byName))
	for name, st := range r.byName {
		out[name] = st.stats
	}
	return out
}

// MarkUnavailable forces a provider down until its next success.
func (r *Registry) MarkUnavailable(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.byName[name]; ok {
		st.healthy = false
	}
}

// RecordOutcome folds one invocation outcome into the provider's rolling
// statistics and health. Quality below zero means "not observed".
func (r *Registry) RecordOutcome(name string, success bool, latencyMS, costUSD, quality float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.byName[name]
	if !ok {
		return
	}

	st.stats.Samples++
	outcome := 0.0
	if success {
		outcome = 1.0
		st.consecFails = 0
		st.healthy = true
	} else {
		st.consecFails++
		if st.consecFails >= unhealthyAfter {
			if st.healthy {
				r.logger.Warn("provider marked unhealthy",
					"provider", name, "consecutive_failures", st.consecFails)
			}
			st.healthy = false
		}
	}

	if !st.statsPrimed {
		st.stats.SuccessRate = outcome
		st.stats.AvgLatencyMS = latencyMS
		st.stats.AvgCostUSD = costUSD
		st.statsPrimed = true
	} else {
		st.stats.SuccessRate = ewma(st.stats.SuccessRate, outcome)
		if latencyMS > 0 {
			st.stats.AvgLatencyMS = ewma(st.stats.AvgLatencyMS, latencyMS)
		}
		if costUSD > 0 {
			st.stats.AvgCostUSD = ewma(st.stats.AvgCostUSD, costUSD)
		}
	}
	if quality >= 0 {
		if !st.qualityKnown {
			st.stats.Quality = quality
			st.qualityKnown = true
		} else {
			st.stats.Quality = ewma(st.stats.Quality, quality)
		}
	}
}

// Pricing returns the registry's pricing table.
func (r *Registry) Pricing() Pricing {
	return r.pricing
}

func ewma(prev, next float64) float64 {
	return (1-ewmaAlpha)*prev + ewmaAlpha*next
}

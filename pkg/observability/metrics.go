// Package observability exposes Prometheus metrics for the routing engine.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal counts routed requests by terminal phase and policy.
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quantumroute_requests_total",
		Help: "Total routed requests by phase and collapse policy",
	}, []string{"phase", "policy"})

	// RouteDuration tracks end-to-end routing latency.
	RouteDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "quantumroute_route_duration_seconds",
		Help:    "End-to-end routing duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
	})

	// StrategyDuration tracks per-strategy evaluation latency.
	StrategyDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "quantumroute_strategy_duration_seconds",
		Help:    "Strategy evaluation duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12), // 0.1ms to ~400ms
	}, []string{"strategy"})

	// CacheLookups counts cache lookups by result.
	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quantumroute_cache_lookups_total",
		Help: "Total cache lookups by result",
	}, []string{"result"})

	// CacheInvalidations counts feedback-driven bucket invalidations.
	CacheInvalidations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quantumroute_cache_invalidations_total",
		Help: "Total cache bucket invalidations",
	})

	// FallbacksTotal counts fallback substitutions by kind.
	FallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quantumroute_fallbacks_total",
		Help: "Total fallback substitutions by kind",
	}, []string{"kind"})

	// NoProviderTotal counts requests that exhausted every provider.
	NoProviderTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quantumroute_no_provider_total",
		Help: "Total requests with no available provider",
	})

	// TrainingUpdates counts agent training steps by result.
	TrainingUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quantumroute_training_updates_total",
		Help: "Total agent training steps by result",
	}, []string{"result"})

	// Epsilon reports the agent's current exploration rate.
	Epsilon = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quantumroute_agent_epsilon",
		Help: "Current epsilon-greedy exploration rate",
	})

	// ExperienceSize reports the experience buffer's current size.
	ExperienceSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quantumroute_experience_buffer_size",
		Help: "Current number of stored experiences",
	})

	// RefinementSteps tracks refinement steps taken per routed request.
	RefinementSteps = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "quantumroute_refinement_steps",
		Help:    "Refinement steps taken per routed request",
		Buckets: []float64{0, 1, 2, 3, 4, 5},
	})

	// FeedbackTotal counts feedback signals by result.
	FeedbackTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quantumroute_feedback_total",
		Help: "Total feedback signals by result",
	}, []string{"result"})
)

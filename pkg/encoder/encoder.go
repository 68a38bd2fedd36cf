// Package encoder converts a task request plus system context into the
// fixed-width numeric routing state consumed by strategies and the learning
// agent.
package encoder

import (
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/zen-systems/quantumroute/pkg/schema"
)

// StateDim is the fixed dimensionality of every routing state vector.
const StateDim = 112

// MaxProviders is the number of provider slots encoded into the state.
// Providers beyond this count are ignored by the encoder.
const MaxProviders = 8

// Feature vector layout.
const (
	offComplexity   = 0
	offTaskType     = 1  // 8 one-hot slots
	offAvailability = 9  // 8 bits
	offHistory      = 17 // 8 providers x 4 stats
	offResources    = 49 // cpu, mem, queue
	offPreferences  = 52 // speed, cost, quality bias + preferred flag
	offPreferred    = 56 // 8 bits
	offPromptHash   = 64 // 48 hashed token buckets
	promptBuckets   = StateDim - offPromptHash
)

// EncodingError reports malformed encoder input. It is raised before
// dispatch and never retried.
type EncodingError struct {
	Field string
	Err   error
}

func (e *EncodingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("encoding error (%s): %v", e.Field, e.Err)
	}
	return fmt.Sprintf("encoding error (%s)", e.Field)
}

func (e *EncodingError) Unwrap() error { return e.Err }

// ProviderStats summarizes historical performance of one provider.
type ProviderStats struct {
	SuccessRate  float64 // fraction of successful invocations, [0,1]
	AvgLatencyMS float64
	AvgCostUSD   float64 // mean cost per invocation
	Quality      float64 // mean post-hoc quality signal, [0,1]
}

// Preferences captures per-user routing biases, each in [0,1].
type Preferences struct {
	SpeedBias   float64
	CostBias    float64
	QualityBias float64
}

// SystemContext is the mutable system snapshot taken at encode time.
type SystemContext struct {
	Availability map[string]bool
	History      map[string]ProviderStats
	CPULoad      float64
	MemoryLoad   float64
	QueueDepth   float64 // normalized, [0,1]
	Preferences  Preferences
}

// RoutingState is the immutable encoded view of one request. It is produced
// once per request and shared read-only across concurrent strategy
// evaluations.
type RoutingState struct {
	taskID       string
	taskType     string
	complexity   float64
	providers    []string
	availability map[string]bool
	history      map[string]ProviderStats
	preferences  Preferences
	vector       []float64
}

// TaskID returns the originating request's task id.
func (s *RoutingState) TaskID() string { return s.taskID }

// TaskType returns the normalized task type.
func (s *RoutingState) TaskType() string { return s.taskType }

// Complexity returns the task complexity score in [0,1].
func (s *RoutingState) Complexity() float64 { return s.complexity }

// Providers returns the canonical provider ordering used by this state.
func (s *RoutingState) Providers() []string {
	out := make([]string, len(s.providers))
	copy(out, s.providers)
	return out
}

// Available reports whether a provider was available at encode time.
func (s *RoutingState) Available(provider string) bool {
	return s.availability[provider]
}

// Availability returns a copy of the availability snapshot.
func (s *RoutingState) Availability() map[string]bool {
	out := make(map[string]bool, len(s.availability))
	for k, v := range s.availability {
		out[k] = v
	}
	return out
}

// Stats returns historical stats for a provider, zero-valued when unknown.
func (s *RoutingState) Stats(provider string) ProviderStats {
	return s.history[provider]
}

// Preferences returns the user preference biases captured at encode time.
func (s *RoutingState) Preferences() Preferences { return s.preferences }

// Vector returns a copy of the feature vector.
func (s *RoutingState) Vector() []float64 {
	out := make([]float64, len(s.vector))
	copy(out, s.vector)
	return out
}

// At returns the feature at index i.
func (s *RoutingState) At(i int) float64 { return s.vector[i] }

// Dim returns the vector dimensionality.
func (s *RoutingState) Dim() int { return len(s.vector) }

// Encoder builds routing states against a canonical provider ordering.
type Encoder struct {
	providers []string
}

// New creates an encoder for the given provider ordering. The ordering also
// defines the learning agent's action space, so it must stay stable across
// the process lifetime.
func New(providers []string) *Encoder {
	ps := make([]string, len(providers))
	copy(ps, providers)
	if len(ps) > MaxProviders {
		ps = ps[:MaxProviders]
	}
	return &Encoder{providers: ps}
}

// Providers returns the canonical provider ordering.
func (e *Encoder) Providers() []string {
	out := make([]string, len(e.providers))
	copy(out, e.providers)
	return out
}

// Encode builds the routing state for a request. It is pure and
// deterministic; it fails with *EncodingError only on malformed input.
func (e *Encoder) Encode(req *schema.Request, sysCtx *SystemContext) (*RoutingState, error) {
	if err := req.Validate(); err != nil {
		return nil, &EncodingError{Field: "request", Err: err}
	}
	if sysCtx == nil {
		return nil, &EncodingError{Field: "context", Err: fmt.Errorf("system context is required")}
	}
	if sysCtx.Availability == nil {
		return nil, &EncodingError{Field: "context.availability", Err: fmt.Errorf("availability snapshot is required")}
	}

	taskType := req.NormalizedTaskType()
	complexity := ComplexityScore(req.Prompt)

	vec := make([]float64, StateDim)
	vec[offComplexity] = complexity
	vec[offTaskType+schema.TaskTypeIndex(taskType)] = 1

	availability := make(map[string]bool, len(e.providers))
	history := make(map[string]ProviderStats, len(e.providers))
	for i, name := range e.providers {
		up := sysCtx.Availability[name]
		availability[name] = up
		if up {
			vec[offAvailability+i] = 1
		}
		stats := sysCtx.History[name]
		history[name] = stats
		base := offHistory + i*4
		vec[base] = clamp01(stats.SuccessRate)
		vec[base+1] = normalizeLatency(stats.AvgLatencyMS)
		vec[base+2] = normalizeCost(stats.AvgCostUSD)
		vec[base+3] = clamp01(stats.Quality)
	}

	vec[offResources] = clamp01(sysCtx.CPULoad)
	vec[offResources+1] = clamp01(sysCtx.MemoryLoad)
	vec[offResources+2] = clamp01(sysCtx.QueueDepth)

	vec[offPreferences] = clamp01(sysCtx.Preferences.SpeedBias)
	vec[offPreferences+1] = clamp01(sysCtx.Preferences.CostBias)
	vec[offPreferences+2] = clamp01(sysCtx.Preferences.QualityBias)
	if len(req.PreferredProviders) > 0 {
		vec[offPreferences+3] = 1
	}
	for _, pref := range req.PreferredProviders {
		for i, name := range e.providers {
			if name == pref {
				vec[offPreferred+i] = 1
			}
		}
	}

	hashPromptFeatures(req.Prompt, vec[offPromptHash:])

	return &RoutingState{
		taskID:       req.TaskID,
		taskType:     taskType,
		complexity:   complexity,
		providers:    e.Providers(),
		availability: availability,
		history:      history,
		preferences:  sysCtx.Preferences,
		vector:       vec,
	}, nil
}

// complexityTriggers mark prompts that historically demand heavier models.
var complexityTriggers = []string{
	"architecture", "system design", "race condition", "deadlock",
	"memory leak", "prove", "derive", "formal", "distributed",
	"refactor", "migrate", "security", "vulnerability", "concurrency",
	"optimize", "algorithm", "step by step", "multi-step",
}

// ComplexityScore estimates task complexity in [0,1] from trigger matches
// and prompt length.
func ComplexityScore(prompt string) float64 {
	lower := strings.ToLower(prompt)

	matches := 0
	for _, trigger := range complexityTriggers {
		if strings.Contains(lower, trigger) {
			matches++
		}
	}
	triggerScore := float64(matches) / 4.0
	if triggerScore > 1 {
		triggerScore = 1
	}

	// 2000 chars is treated as a fully "long" prompt.
	lengthScore := float64(len(prompt)) / 2000.0
	if lengthScore > 1 {
		lengthScore = 1
	}

	return clamp01(0.6*triggerScore + 0.4*lengthScore)
}

// hashPromptFeatures fills dst with a normalized hashed bag-of-words
// representation of the prompt.
func hashPromptFeatures(prompt string, dst []float64) {
	fields := strings.Fields(strings.ToLower(prompt))
	if len(fields) == 0 {
		return
	}
	for _, word := range fields {
		h := fnv.New32a()
		h.Write([]byte(word))
		dst[int(h.Sum32())%len(dst)]++
	}
	for i := range dst {
		dst[i] /= float64(len(fields))
	}
}

// normalizeLatency maps latency in ms onto [0,1]; 5s and above saturates.
func normalizeLatency(ms float64) float64 {
	return clamp01(ms / 5000.0)
}

// normalizeCost maps per-call cost in USD onto [0,1]; $1 and above saturates.
func normalizeCost(usd float64) float64 {
	return clamp01(usd)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

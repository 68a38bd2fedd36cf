// Package schema defines the wire types exchanged with the layers that sit
// around the routing engine: the API layer that submits requests and the
// execution layer that reports post-run feedback.
package schema

import (
	"fmt"
	"strings"
)

// Known task types. Unknown values are normalized to TaskGeneral.
const (
	TaskGeneral   = "general"
	TaskCode      = "code"
	TaskReasoning = "reasoning"
	TaskCreative  = "creative"
	TaskResearch  = "research"
	TaskSummarize = "summarize"
	TaskMath      = "math"
	TaskChat      = "chat"
)

// TaskTypes lists all recognized task types in canonical order.
var TaskTypes = []string{
	TaskGeneral, TaskCode, TaskReasoning, TaskCreative,
	TaskResearch, TaskSummarize, TaskMath, TaskChat,
}

// StrategyConfig overrides routing behavior for a single request.
type StrategyConfig struct {
	Strategies       []string `json:"strategies,omitempty" yaml:"strategies,omitempty"`
	CollapseStrategy string   `json:"collapse_strategy,omitempty" yaml:"collapse_strategy,omitempty"`
	MaxParallel      int      `json:"max_parallel,omitempty" yaml:"max_parallel,omitempty"`
	TimeoutMS        int      `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`
}

// Request describes one task to be routed.
type Request struct {
	TaskID             string          `json:"task_id"`
	TaskType           string          `json:"task_type"`
	Prompt             string          `json:"prompt"`
	PreferredProviders []string        `json:"preferred_providers,omitempty"`
	StrategyConfig     *StrategyConfig `json:"strategy_config,omitempty"`
}

// Validate checks the request for the fields routing cannot proceed without.
func (r *Request) Validate() error {
	if r == nil {
		return fmt.Errorf("request is nil")
	}
	if strings.TrimSpace(r.TaskID) == "" {
		return fmt.Errorf("task_id is required")
	}
	if strings.TrimSpace(r.Prompt) == "" {
		return fmt.Errorf("prompt is required")
	}
	return nil
}

// NormalizedTaskType returns the request's task type mapped onto the known
// set, falling back to TaskGeneral.
func (r *Request) NormalizedTaskType() string {
	t := strings.ToLower(strings.TrimSpace(r.TaskType))
	for _, known := range TaskTypes {
		if t == known {
			return known
		}
	}
	return TaskGeneral
}

// TaskTypeIndex returns the position of a normalized task type within
// TaskTypes. Unknown types map to the TaskGeneral slot.
func TaskTypeIndex(taskType string) int {
	for i, known := range TaskTypes {
		if taskType == known {
			return i
		}
	}
	return 0
}

// Feedback reports the real execution outcome for a routed task. It closes
// the learning loop; the engine still serves decisions if it never arrives.
type Feedback struct {
	TaskID        string   `json:"task_id"`
	Success       bool     `json:"success"`
	LatencyMS     float64  `json:"latency_ms"`
	Cost          float64  `json:"cost"`
	QualitySignal *float64 `json:"quality_signal,omitempty"`
}

// Validate checks feedback fields. QualitySignal, when present, must be in
// [0,1].
func (f *Feedback) Validate() error {
	if f == nil {
		return fmt.Errorf("feedback is nil")
	}
	if strings.TrimSpace(f.TaskID) == "" {
		return fmt.Errorf("task_id is required")
	}
	if f.QualitySignal != nil && (*f.QualitySignal < 0 || *f.QualitySignal > 1) {
		return fmt.Errorf("quality_signal %f out of range [0,1]", *f.QualitySignal)
	}
	return nil
}

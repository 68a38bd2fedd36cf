// Package provider holds the LLM provider clients and the registry that
// tracks their health, rolling statistics, and pricing.
package provider

import (
	"context"
)

// Client defines the interface for LLM provider clients.
type Client interface {
	// Invoke sends a prompt to the model and returns an observation.
	Invoke(ctx context.Context, model string, prompt string) (*Observation, error)

	// Name returns the client's identifier.
	Name() string

	// Models returns the list of supported models.
	Models() []string
}

// Info holds metadata about a registered client.
type Info struct {
	Name   string
	Models []ModelInfo
}

// ModelInfo holds metadata about a model.
type ModelInfo struct {
	ID          string
	Description string
}

package provider

import (
	"context"
	"fmt"
	"time"
)

// MockClient returns deterministic responses for local runs and tests.
type MockClient struct {
	name            string
	responses       map[string]string
	defaultResponse string
	Usage           *Usage
	Fail            error
}

// NewMockClient creates a mock client with a default response.
func NewMockClient() *MockClient {
	return &MockClient{
		name:            "mock",
		responses:       make(map[string]string),
		defaultResponse: "mock response:",
	}
}

// NewMockClientWithResponses creates a mock client with predefined responses.
func NewMockClientWithResponses(responses map[string]string, defaultResponse string) *MockClient {
	if defaultResponse == "" {
		defaultResponse = "mock response:"
	}
	return &MockClient{name: "mock", responses: responses, defaultResponse: defaultResponse}
}

// NewNamedMockClient creates a mock client masquerading as a real provider.
func NewNamedMockClient(name string) *MockClient {
	m := NewMockClient()
	m.name = name
	return m
}

// Name returns the client identifier.
func (c *MockClient) Name() string {
	return c.name
}

// Models returns the list of supported mock models.
func (c *MockClient) Models() []string {
	return []string{"mock-1"}
}

// Invoke returns a deterministic observation for the prompt.
func (c *MockClient) Invoke(_ context.Context, model string, prompt string) (*Observation, error) {
	if c.Fail != nil {
		return nil, c.Fail
	}
	if model == "" {
		model = "mock-1"
	}
	content, ok := c.responses[prompt]
	if !ok {
		content = fmt.Sprintf("%s\n%s", c.defaultResponse, prompt)
	}
	return &Observation{
		Provider:  c.Name(),
		Model:     model,
		Content:   content,
		Usage:     c.Usage,
		CreatedAt: time.Now().UTC(),
	}, nil
}

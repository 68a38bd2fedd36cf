package provider

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/genai"
)

// GoogleClient implements the Client interface for Gemini models.
type GoogleClient struct {
	client *genai.Client
}

// NewGoogleClient creates a new Google Gemini client.
func NewGoogleClient(apiKey string) (*GoogleClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("google API key is required")
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create google client: %w", err)
	}

	return &GoogleClient{
		client: client,
	}, nil
}

// Name returns the client identifier.
func (c *GoogleClient) Name() string {
	return "google"
}

// Models returns the list of supported Gemini models.
func (c *GoogleClient) Models() []string {
	return []string{
		"gemini-2.0-pro",
		"gemini-2.0-flash",
	}
}

// Invoke sends a prompt to Gemini and returns the response.
func (c *GoogleClient) Invoke(ctx context.Context, model string, prompt string) (*Observation, error) {
	start := time.Now()
	resp, err := c.client.Models.GenerateContent(ctx, model, genai.Text(prompt), nil)
	if err != nil {
		return nil, fmt.Errorf("google API error: %w", err)
	}

	if resp == nil || len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("google returned no candidates")
	}

	var content string
	if resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			if part.Text != "" {
				content += part.Text
			}
		}
	}

	return &Observation{
		Provider:  c.Name(),
		Model:     model,
		Content:   content,
		LatencyMS: float64(time.Since(start).Milliseconds()),
		CreatedAt: time.Now().UTC(),
	}, nil
}

package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/openai/openai-go"
)

// OpenAIClient implements the Client interface for OpenAI models.
type OpenAIClient struct {
	client openai.Client
}

// NewOpenAIClient creates a new OpenAI client.
func NewOpenAIClient(apiKey string) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai API key is required")
	}

	client := openai.NewClient()
	return &OpenAIClient{client: client}, nil
}

// Name returns the client identifier.
func (c *OpenAIClient) Name() string {
	return "openai"
}

// Models returns the list of supported OpenAI models.
func (c *OpenAIClient) Models() []string {
	return []string{
		"gpt-5.2-instant",
		"gpt-5.2-thinking",
		"gpt-5.2-codex",
		"gpt-5.2-pro",
	}
}

// Invoke sends a prompt to OpenAI and returns the response.
func (c *OpenAIClient) Invoke(ctx context.Context, model string, prompt string) (*Observation, error) {
	start := time.Now()
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		MaxCompletionTokens: openai.Int(4096),
	})
	if err != nil {
		return nil, fmt.Errorf("openai API error: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai returned no choices")
	}

	return &Observation{
		Provider: c.Name(),
		Model:    model,
		Content:  resp.Choices[0].Message.Content,
		Usage: &Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
		LatencyMS: float64(time.Since(start).Milliseconds()),
		CreatedAt: time.Now().UTC(),
	}, nil
}

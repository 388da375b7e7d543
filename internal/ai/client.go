// Package ai wraps the OpenAI chat API for attack planning and severity
// scoring. The client degrades to disabled when no API key is configured;
// callers keep a deterministic fallback for that case.
package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/strixsec/strix/internal/config"
	"github.com/strixsec/strix/internal/logger"
)

type Client struct {
	client      *openai.Client
	logger      *logger.Logger
	model       string
	maxTokens   int
	temperature float32
	timeout     time.Duration
	enabled     bool
}

func NewClient(cfg config.PlannerConfig, log *logger.Logger) *Client {
	c := &Client{
		logger:      log.WithComponent("ai"),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		timeout:     cfg.Timeout,
	}

	if c.model == "" {
		c.model = "gpt-4o-mini"
	}
	if c.maxTokens == 0 {
		c.maxTokens = 1024
	}
	if c.timeout == 0 {
		c.timeout = 30 * time.Second
	}

	if cfg.APIKey == "" {
		return c
	}

	c.client = openai.NewClient(cfg.APIKey)
	c.enabled = true

	c.logger.Infow("AI client initialized",
		"model", c.model,
		"max_tokens", c.maxTokens,
	)
	return c
}

func (c *Client) IsEnabled() bool {
	return c != nil && c.enabled
}

// GenerateStructuredCompletion asks the model for a JSON-only response
// and decodes it into out.
func (c *Client) GenerateStructuredCompletion(ctx context.Context, systemPrompt, userPrompt string, out interface{}) error {
	if !c.IsEnabled() {
		return fmt.Errorf("AI client not enabled - configure an API key")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()

	req := openai.ChatCompletionRequest{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return fmt.Errorf("no completion choices returned")
	}

	content := resp.Choices[0].Message.Content

	c.logger.Debugw("AI completion generated",
		"model", c.model,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
		"duration_seconds", time.Since(start).Seconds(),
	)

	if err := json.Unmarshal([]byte(content), out); err != nil {
		c.logger.Errorw("Failed to parse AI JSON response",
			"error", err,
			"content", content,
		)
		return fmt.Errorf("parsing AI response: %w", err)
	}
	return nil
}

// Package llm wraps the OpenAI chat completions API for JSON-mode calls.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"
)

var (
	ErrMissingAPIKey = errors.New("llm: api key is required")
	ErrEmptyResponse = errors.New("llm: response has no content")
)

// Completer asks a model for a JSON object and decodes it into out.
type Completer interface {
	CompleteJSON(ctx context.Context, req Request, out any) error
	Model() string
}

// Request is one system+user exchange.
type Request struct {
	System      string
	User        string
	Temperature float32
}

// Config holds client configuration.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
	// Retries is the number of extra attempts after a failed call.
	Retries int
}

// Client is a Completer backed by the OpenAI API.
type Client struct {
	api     *openai.Client
	model   string
	retries int
}

// New creates a client. BaseURL may point at any OpenAI-compatible server.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4o
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	oc.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	log.Info().Str("model", cfg.Model).Msg("LLM client initialized")
	return &Client{
		api:     openai.NewClientWithConfig(oc),
		model:   cfg.Model,
		retries: cfg.Retries,
	}, nil
}

// Model returns the model name used for completions.
func (c *Client) Model() string {
	return c.model
}

// CompleteJSON runs a chat completion in JSON mode and decodes the first
// choice into out. A reply that fails to decode counts as a failed attempt.
func (c *Client) CompleteJSON(ctx context.Context, req Request, out any) error {
	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = c.completeOnce(ctx, req, out)
		if lastErr == nil {
			return nil
		}
		log.Debug().Err(lastErr).Int("attempt", attempt+1).Msg("LLM completion attempt failed")
	}
	return lastErr
}

func (c *Client) completeOnce(ctx context.Context, req Request, out any) error {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.System},
			{Role: openai.ChatMessageRoleUser, Content: req.User},
		},
		Temperature: req.Temperature,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return ErrEmptyResponse
	}
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), out); err != nil {
		return fmt.Errorf("decode completion: %w", err)
	}
	return nil
}

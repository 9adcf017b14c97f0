// Package advisor turns compliance issues into plain-language remediation
// advice using an OpenAI-compatible chat completion API.
package advisor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
)

// Client defaults; OpenRouter routes to any of the models below
const (
	DefaultBaseURL = "https://openrouter.ai/api/v1"
	DefaultModel   = ModelGPT4oMini
	DefaultTimeout = 60 * time.Second

	ModelGPT4oMini      = "openai/gpt-4o-mini"
	ModelGPT4o          = "openai/gpt-4o"
	ModelClaude35Sonnet = "anthropic/claude-3.5-sonnet"
)

// ClientConfig holds the connection settings; zero fields use the defaults
type ClientConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Prompt is one chat completion request
type Prompt struct {
	// Model overrides the client model when set
	Model     string
	System    string
	User      string
	MaxTokens int64
}

// Client sends prompts to an OpenAI-compatible endpoint
type Client struct {
	api   openai.Client
	model string
}

// NewClient creates a client for cfg
func NewClient(cfg ClientConfig) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &Client{
		api: openai.NewClient(
			option.WithAPIKey(cfg.APIKey),
			option.WithBaseURL(cfg.BaseURL),
			option.WithRequestTimeout(cfg.Timeout),
			option.WithMaxRetries(1),
			option.WithHeader("X-Title", "E-Rechnung"),
		),
		model: cfg.Model,
	}
}

// Complete returns the text of the first choice
func (c *Client) Complete(ctx context.Context, p Prompt) (string, error) {
	model := p.Model
	if model == "" {
		model = c.model
	}
	maxTokens := p.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 2048
	}

	var messages []openai.ChatCompletionMessageParamUnion
	if p.System != "" {
		messages = append(messages, openai.SystemMessage(p.System))
	}
	messages = append(messages, openai.UserMessage(p.User))

	resp, err := c.api.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       model,
		Messages:    messages,
		MaxTokens:   param.NewOpt(maxTokens),
		Temperature: param.NewOpt(0.2),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion with %s: %w", model, err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// JSONPayload strips prose and markdown fences around a JSON object in a
// model answer
func JSONPayload(answer string) string {
	if _, rest, ok := strings.Cut(answer, "```"); ok {
		// drop the fence info string, e.g. "json"
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			rest = rest[nl+1:]
		}
		if body, _, ok := strings.Cut(rest, "```"); ok {
			return strings.TrimSpace(body)
		}
	}
	start, end := strings.IndexByte(answer, '{'), strings.LastIndexByte(answer, '}')
	if start >= 0 && end > start {
		return answer[start : end+1]
	}
	return strings.TrimSpace(answer)
}

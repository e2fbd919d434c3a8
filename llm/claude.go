package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"ai-market-intelligence/config"
	"ai-market-intelligence/models"
)

// ClaudeCompleter uses the Anthropic Messages API.
type ClaudeCompleter struct {
	client anthropic.Client
	model  string
}

func NewClaudeCompleter(cfg config.LLMConfig) *ClaudeCompleter {
	model := cfg.Model
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &ClaudeCompleter{client: anthropic.NewClient(opts...), model: model}
}

func (c *ClaudeCompleter) Model() string { return c.model }

func (c *ClaudeCompleter) Complete(ctx context.Context, req *Request) (*Response, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: int64(req.MaxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
		Temperature: anthropic.Float(req.Temperature),
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return nil, classifyStatus(config.ProviderClaude, apiErr.StatusCode, err)
		}
		return nil, classifyStatus(config.ProviderClaude, 0, err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, &models.ExternalServiceError{Service: config.ProviderClaude, Kind: models.Permanent, Err: errEmptyCompletion}
	}
	return &Response{Text: text.String(), Provider: config.ProviderClaude, Model: c.model}, nil
}

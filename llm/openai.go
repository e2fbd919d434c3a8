package llm

import (
	"context"
	"errors"
	"math"

	openai "github.com/sashabaranov/go-openai"

	"ai-market-intelligence/config"
	"ai-market-intelligence/models"
)

// GroqBaseURL is Groq's OpenAI-compatible endpoint.
const GroqBaseURL = "https://api.groq.com/openai/v1"

// OpenAICompleter talks to any OpenAI-compatible chat completion API.
type OpenAICompleter struct {
	client   *openai.Client
	model    string
	provider string
}

func NewOpenAICompleter(cfg config.LLMConfig) *OpenAICompleter {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	switch {
	case cfg.BaseURL != "":
		clientCfg.BaseURL = cfg.BaseURL
	case cfg.Provider == config.ProviderGroq:
		clientCfg.BaseURL = GroqBaseURL
	}
	return &OpenAICompleter{
		client:   openai.NewClientWithConfig(clientCfg),
		model:    cfg.Model,
		provider: cfg.Provider,
	}
}

func (c *OpenAICompleter) Model() string { return c.model }

func (c *OpenAICompleter) Complete(ctx context.Context, req *Request) (*Response, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
		Temperature: wireTemperature(req.Temperature),
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return nil, classifyStatus(c.provider, apiErr.HTTPStatusCode, err)
		}
		var reqErr *openai.RequestError
		if errors.As(err, &reqErr) {
			return nil, classifyStatus(c.provider, reqErr.HTTPStatusCode, err)
		}
		return nil, classifyStatus(c.provider, 0, err)
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return nil, &models.ExternalServiceError{Service: c.provider, Kind: models.Permanent, Err: errEmptyCompletion}
	}
	return &Response{Text: resp.Choices[0].Message.Content, Provider: c.provider, Model: c.model}, nil
}

// wireTemperature keeps a zero temperature on the wire. The client omits a
// zero value, which would let the provider apply its own default.
func wireTemperature(t float64) float32 {
	if t <= 0 {
		return math.SmallestNonzeroFloat32
	}
	return float32(t)
}

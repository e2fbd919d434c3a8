package llm

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"ai-market-intelligence/config"
	"ai-market-intelligence/models"
)

// GeminiCompleter uses the Gemini API.
type GeminiCompleter struct {
	client *genai.Client
	model  string
}

func NewGeminiCompleter(ctx context.Context, cfg config.LLMConfig) (*GeminiCompleter, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize genai client: %w", err)
	}
	model := cfg.Model
	if model == "" {
		model = "gemini-2.5-flash"
	}
	return &GeminiCompleter{client: client, model: model}, nil
}

func (c *GeminiCompleter) Model() string { return c.model }

func (c *GeminiCompleter) Complete(ctx context.Context, req *Request) (*Response, error) {
	genCfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(req.Temperature)),
		MaxOutputTokens: int32(req.MaxTokens),
	}
	if req.JSON {
		genCfg.ResponseMIMEType = "application/json"
	}

	contents := []*genai.Content{genai.NewContentFromText(req.Prompt, genai.RoleUser)}
	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, genCfg)
	if err != nil {
		return nil, classifyMessage(config.ProviderGemini, err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, &models.ExternalServiceError{Service: config.ProviderGemini, Kind: models.Permanent, Err: errEmptyCompletion}
	}
	text := resp.Text()
	if text == "" {
		return nil, &models.ExternalServiceError{Service: config.ProviderGemini, Kind: models.Permanent, Err: errEmptyCompletion}
	}
	return &Response{Text: text, Provider: config.ProviderGemini, Model: c.model}, nil
}

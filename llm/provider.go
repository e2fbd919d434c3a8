// Package llm wraps the text-completion providers behind one interface.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"ai-market-intelligence/config"
	"ai-market-intelligence/models"
	"ai-market-intelligence/utils"
)

// Request is one prompt with its sampling bounds.
type Request struct {
	Prompt      string
	Temperature float64
	MaxTokens   int
	// JSON asks providers that support it to emit JSON only.
	JSON bool
}

// Response is the text of a single completion.
type Response struct {
	Text     string
	Provider string
	Model    string
}

// Completer turns a prompt into one text completion.
type Completer interface {
	Complete(ctx context.Context, req *Request) (*Response, error)
	Model() string
}

// New builds the completer selected by cfg, wrapped with bounded retries of
// transient failures.
func New(ctx context.Context, cfg config.LLMConfig, logger arbor.ILogger) (Completer, error) {
	if cfg.APIKey == "" {
		return nil, &models.ConfigurationError{Key: config.APIKeyEnv(cfg.Provider), Reason: "not set"}
	}

	var (
		c   Completer
		err error
	)
	switch cfg.Provider {
	case config.ProviderGroq, config.ProviderOpenAI:
		c = NewOpenAICompleter(cfg)
	case config.ProviderGemini:
		c, err = NewGeminiCompleter(ctx, cfg)
	case config.ProviderClaude:
		c = NewClaudeCompleter(cfg)
	default:
		return nil, &models.ConfigurationError{Key: "llm.provider", Reason: fmt.Sprintf("unknown provider %q", cfg.Provider)}
	}
	if err != nil {
		return nil, err
	}

	logger.Debug().
		Str("provider", cfg.Provider).
		Str("model", c.Model()).
		Dur("timeout", cfg.Timeout.Duration).
		Msg("Completion provider initialized")

	return NewRetrying(c, cfg.Retries+1, cfg.Timeout.Duration, logger), nil
}

// Retrying retries transient completion failures with capped backoff and
// applies a per-call timeout.
type Retrying struct {
	inner   Completer
	retry   *utils.RetryConfig
	timeout time.Duration
}

func NewRetrying(inner Completer, attempts int, timeout time.Duration, logger arbor.ILogger) *Retrying {
	return &Retrying{
		inner:   inner,
		timeout: timeout,
		retry: &utils.RetryConfig{
			MaxAttempts: attempts,
			Backoff:     utils.ExponentialBackoff{Base: 2 * time.Second, Max: 30 * time.Second},
			Logger:      logger,
			Retryable:   models.IsTransient,
		},
	}
}

func (r *Retrying) Model() string { return r.inner.Model() }

func (r *Retrying) Complete(ctx context.Context, req *Request) (*Response, error) {
	var resp *Response
	err := r.retry.Do(ctx, "completion", func(ctx context.Context) error {
		callCtx := ctx
		if r.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, r.timeout)
			defer cancel()
		}
		var err error
		resp, err = r.inner.Complete(callCtx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// classifyStatus wraps a provider failure as transient (rate limits, server
// errors, timeouts) or permanent.
func classifyStatus(service string, code int, err error) error {
	kind := models.Permanent
	switch {
	case code == 0, code == http.StatusTooManyRequests, code == http.StatusRequestTimeout, code >= 500:
		kind = models.Transient
	}
	return &models.ExternalServiceError{Service: service, Kind: kind, StatusCode: code, Err: err}
}

// classifyMessage handles providers whose errors only expose a message.
func classifyMessage(service string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &models.ExternalServiceError{Service: service, Kind: models.Transient, Err: err}
	}
	msg := err.Error()
	for _, marker := range []string{"429", "RESOURCE_EXHAUSTED", "quota", "500", "502", "503", "UNAVAILABLE", "timeout"} {
		if strings.Contains(msg, marker) {
			return &models.ExternalServiceError{Service: service, Kind: models.Transient, Err: err}
		}
	}
	return &models.ExternalServiceError{Service: service, Kind: models.Permanent, Err: err}
}

var errEmptyCompletion = errors.New("empty completion")

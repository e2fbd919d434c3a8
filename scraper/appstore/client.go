package appstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the catalog search endpoint.
	DefaultBaseURL = "https://appstore-scrapper-api.p.rapidapi.com/v1/app-store-api/search"

	// DefaultHost is sent as x-rapidapi-host.
	DefaultHost = "appstore-scrapper-api.p.rapidapi.com"

	// DefaultTimeout is the default HTTP timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultMinInterval separates any two outbound requests.
	DefaultMinInterval = time.Second
)

// Client is a catalog search API client. Requests are serialized through a
// limiter that admits one request per minimum interval.
type Client struct {
	baseURL     string
	host        string
	apiKey      string
	resultCount int
	lang        string
	country     string
	httpClient  *http.Client
	logger      arbor.ILogger
	limiter     *rate.Limiter
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithBaseURL sets a custom base URL.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		if baseURL != "" {
			c.baseURL = baseURL
		}
	}
}

// WithHost sets the x-rapidapi-host header value.
func WithHost(host string) ClientOption {
	return func(c *Client) {
		if host != "" {
			c.host = host
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithLogger sets a logger.
func WithLogger(logger arbor.ILogger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithMinInterval sets the minimum spacing between requests. Zero disables
// spacing.
func WithMinInterval(d time.Duration) ClientOption {
	return func(c *Client) {
		if d <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		c.limiter = rate.NewLimiter(rate.Every(d), 1)
	}
}

// WithLocale sets the lang and country query parameters.
func WithLocale(lang, country string) ClientOption {
	return func(c *Client) {
		if lang != "" {
			c.lang = lang
		}
		if country != "" {
			c.country = country
		}
	}
}

// WithResultCount sets the result-count hint sent as num.
func WithResultCount(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.resultCount = n
		}
	}
}

// NewClient creates a new catalog API client.
func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:     DefaultBaseURL,
		host:        DefaultHost,
		apiKey:      apiKey,
		resultCount: 10,
		lang:        "en",
		country:     "us",
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter: rate.NewLimiter(rate.Every(DefaultMinInterval), 1),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Scope identifies the catalog view queried by this client. Checkpoints are
// keyed by it.
func (c *Client) Scope() string {
	return c.host + "|" + c.country + "|" + c.lang
}

// Search performs one search request. Non-200 responses return *APIError;
// malformed bodies return *DecodeError.
func (c *Client) Search(ctx context.Context, query string) ([]SearchResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait: %w", err)
	}

	params := url.Values{}
	params.Set("num", strconv.Itoa(c.resultCount))
	params.Set("lang", c.lang)
	params.Set("query", query)
	params.Set("country", c.country)

	reqURL := c.baseURL + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("x-rapidapi-key", c.apiKey)
	req.Header.Set("x-rapidapi-host", c.host)

	if c.logger != nil {
		c.logger.Debug().Str("query", query).Msg("Catalog API request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(body)),
			Query:      query,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	var results []SearchResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, &DecodeError{Query: query, Err: err}
	}
	return results, nil
}

// Probe sends one minimal request and explains the outcome.
func (c *Client) Probe(ctx context.Context, query string) (*ProbeResult, error) {
	results, err := c.Search(ctx, query)
	if err == nil {
		return &ProbeResult{StatusCode: http.StatusOK, OK: true, Diagnosis: "API reachable", Results: len(results)}, nil
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return nil, err
	}
	res := &ProbeResult{StatusCode: apiErr.StatusCode}
	switch apiErr.StatusCode {
	case http.StatusForbidden:
		res.Diagnosis = "subscription required: subscribe to the API plan for this key"
	case http.StatusTooManyRequests:
		res.Diagnosis = "quota or rate limit exceeded"
	case http.StatusBadRequest:
		res.Diagnosis = "request parameters rejected"
	case http.StatusUnauthorized:
		res.Diagnosis = "API key rejected"
	default:
		res.Diagnosis = "unexpected status: " + apiErr.Message
	}
	return res, nil
}

// parseRetryAfter reads a delay-seconds Retry-After header. HTTP-date
// values are ignored.
func parseRetryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

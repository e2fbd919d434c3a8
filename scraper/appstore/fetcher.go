package appstore

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"ai-market-intelligence/models"
	"ai-market-intelligence/utils"
)

// Searcher issues a single catalog search.
type Searcher interface {
	Search(ctx context.Context, query string) ([]SearchResult, error)
	Scope() string
}

// Checkpoint persists terminal attempts so an interrupted run resumes.
type Checkpoint interface {
	Load(scope, query string) (*models.FetchAttempt, bool, error)
	Save(scope string, attempt *models.FetchAttempt) error
}

// FetchOptions bounds retries and spacing for one run.
type FetchOptions struct {
	RateLimitRetries int
	RateLimitBackoff utils.ExponentialBackoff
	TransientRetries int
	TransientBackoff utils.LinearBackoff
	QueryFallbacks   bool
	ProgressEvery    int
}

// Fetcher resolves names against the catalog one request at a time.
type Fetcher struct {
	client     Searcher
	opts       FetchOptions
	checkpoint Checkpoint
	sleep      utils.SleepFunc
	logger     arbor.ILogger
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithCheckpoint enables resume from a checkpoint store.
func WithCheckpoint(cp Checkpoint) FetcherOption {
	return func(f *Fetcher) { f.checkpoint = cp }
}

// WithSleep replaces the backoff sleeper.
func WithSleep(sleep utils.SleepFunc) FetcherOption {
	return func(f *Fetcher) { f.sleep = sleep }
}

func NewFetcher(client Searcher, opts FetchOptions, logger arbor.ILogger, options ...FetcherOption) *Fetcher {
	f := &Fetcher{client: client, opts: opts, sleep: utils.Sleep, logger: logger}
	for _, o := range options {
		o(f)
	}
	return f
}

// Fetch produces exactly one attempt per input name, in input order. It
// returns early with the partial result only when ctx is cancelled.
func (f *Fetcher) Fetch(ctx context.Context, names []string) (*models.FetchResult, error) {
	res := &models.FetchResult{Attempts: make([]*models.FetchAttempt, 0, len(names))}
	scope := f.client.Scope()

	f.logger.Info().Int("queries", len(names)).Str("scope", scope).Msg("Starting catalog fetch")

	for i, name := range names {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		if a := f.resume(scope, name); a != nil {
			res.Attempts = append(res.Attempts, a)
			res.Stats.Record(a)
			continue
		}

		a := f.fetchWithFallbacks(ctx, name, &res.Stats)
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Attempts = append(res.Attempts, a)
		res.Stats.Record(a)

		f.logger.Debug().
			Str("query", name).
			Str("status", string(a.Status)).
			Int("attempts", a.Attempts).
			Int("status_code", a.StatusCode).
			Msg("Catalog query finished")

		if f.checkpoint != nil && a.Status.Terminal() {
			if err := f.checkpoint.Save(scope, a); err != nil {
				f.logger.Warn().Err(err).Str("query", name).Msg("Failed to checkpoint attempt")
			}
		}

		if f.opts.ProgressEvery > 0 && (i+1)%f.opts.ProgressEvery == 0 {
			f.logger.Info().Int("done", i+1).Int("total", len(names)).Int("found", res.Stats.Success).Msg("Catalog fetch progress")
		}
	}

	f.logger.Info().
		Int("total", res.Stats.Total).
		Int("success", res.Stats.Success).
		Int("not_found", res.Stats.NotFound).
		Int("transient", res.Stats.Transient).
		Int("permanent", res.Stats.Permanent).
		Int("resumed", res.Stats.Resumed).
		Int("requests", res.Stats.Requests).
		Int("rate_limit_hits", res.Stats.RateLimitHits).
		Float64("success_rate", res.Stats.SuccessRate()).
		Msg("Catalog fetch complete")
	return res, nil
}

func (f *Fetcher) resume(scope, name string) *models.FetchAttempt {
	if f.checkpoint == nil {
		return nil
	}
	a, ok, err := f.checkpoint.Load(scope, name)
	if err != nil {
		f.logger.Warn().Err(err).Str("query", name).Msg("Failed to read checkpoint, refetching")
		return nil
	}
	if !ok {
		return nil
	}
	a.Resumed = true
	return a
}

func (f *Fetcher) fetchWithFallbacks(ctx context.Context, name string, stats *models.FetchStats) *models.FetchAttempt {
	a := f.fetchOne(ctx, name, stats)
	if !f.opts.QueryFallbacks || a.Status == models.FetchSuccess || !a.Status.Terminal() {
		return a
	}
	for _, variant := range QueryVariants(name) {
		if ctx.Err() != nil {
			break
		}
		v := f.fetchOne(ctx, variant, stats)
		a.Attempts += v.Attempts
		if v.Status == models.FetchSuccess {
			v.Query = name
			v.Attempts = a.Attempts
			return v
		}
	}
	return a
}

// fetchOne runs the bounded retry loop for a single query.
func (f *Fetcher) fetchOne(ctx context.Context, query string, stats *models.FetchStats) *models.FetchAttempt {
	a := &models.FetchAttempt{Query: query, ResolvedQuery: query}
	rateHits, transientHits := 0, 0

	for {
		a.Attempts++
		stats.Requests++
		results, err := f.client.Search(ctx, query)
		a.FetchedAt = time.Now().UTC()

		status, code, retryAfter := classify(results, err)
		a.StatusCode = code
		if err != nil {
			a.Err = err.Error()
		} else {
			a.Err = ""
		}

		var delay time.Duration
		switch status {
		case models.FetchSuccess:
			a.Status = models.FetchSuccess
			a.Result = results[0].ToRecord()
			return a
		case models.FetchNotFound, models.FetchPermanentError:
			a.Status = status
			return a
		case models.FetchRateLimited:
			rateHits++
			stats.RateLimitHits++
			if rateHits > f.opts.RateLimitRetries {
				a.Status = models.FetchTransientError
				a.Err = fmt.Sprintf("rate limited %d times: %s", rateHits, a.Err)
				return a
			}
			delay = f.opts.RateLimitBackoff.Delay(rateHits, retryAfter)
		default:
			transientHits++
			stats.TransientHits++
			if transientHits > f.opts.TransientRetries || ctx.Err() != nil {
				a.Status = models.FetchTransientError
				return a
			}
			delay = f.opts.TransientBackoff.Delay(transientHits)
		}

		f.logger.Warn().
			Str("query", query).
			Str("outcome", string(status)).
			Int("status_code", code).
			Dur("backoff", delay).
			Msg("Catalog request failed, backing off")
		if err := f.sleep(ctx, delay); err != nil {
			a.Status = models.FetchTransientError
			a.Err = err.Error()
			return a
		}
	}
}

// classify maps one response onto a per-try outcome.
func classify(results []SearchResult, err error) (models.FetchStatus, int, time.Duration) {
	if err == nil {
		if len(results) == 0 {
			return models.FetchNotFound, http.StatusOK, 0
		}
		return models.FetchSuccess, http.StatusOK, 0
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return models.FetchRateLimited, apiErr.StatusCode, apiErr.RetryAfter
		case apiErr.StatusCode >= 500:
			return models.FetchTransientError, apiErr.StatusCode, 0
		default:
			return models.FetchPermanentError, apiErr.StatusCode, 0
		}
	}

	var decErr *DecodeError
	if errors.As(err, &decErr) {
		return models.FetchPermanentError, http.StatusOK, 0
	}

	// Timeouts and connection-level failures are transient.
	return models.FetchTransientError, 0, 0
}

// vendorPrefixes are dropped when simplifying a query.
var vendorPrefixes = []string{"Google ", "Play "}

// QueryVariants returns simplified alternatives for a name, most specific
// first, excluding the name itself.
func QueryVariants(name string) []string {
	seen := utils.NewKeySet(true)
	seen.Add(name)
	var out []string

	simplified := name
	for _, p := range vendorPrefixes {
		simplified = strings.ReplaceAll(simplified, p, "")
	}
	simplified = utils.NormaliseText(simplified)
	if simplified != "" && seen.Add(simplified) {
		out = append(out, simplified)
	}

	fields := strings.Fields(name)
	if len(fields) > 1 {
		last := fields[len(fields)-1]
		if seen.Add(last) {
			out = append(out, last)
		}
	}
	return out
}

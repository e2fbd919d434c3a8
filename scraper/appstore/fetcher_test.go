package appstore

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ai-market-intelligence/models"
	"ai-market-intelligence/utils"
)

// catalogServer replies per query with a scripted sequence of responses;
// the last entry repeats.
type catalogServer struct {
	mu       sync.Mutex
	scripts  map[string][]scripted
	calls    map[string]int
	arrivals []time.Time
	headers  http.Header
}

type scripted struct {
	status     int
	body       string
	retryAfter string
}

func newCatalogServer(t *testing.T, scripts map[string][]scripted) (*catalogServer, *httptest.Server) {
	cs := &catalogServer{scripts: scripts, calls: map[string]int{}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cs.mu.Lock()
		q := r.URL.Query().Get("query")
		cs.arrivals = append(cs.arrivals, time.Now())
		cs.headers = r.Header.Clone()
		n := cs.calls[q]
		cs.calls[q]++
		seq := cs.scripts[q]
		cs.mu.Unlock()

		if len(seq) == 0 {
			w.Write([]byte(`[]`))
			return
		}
		if n >= len(seq) {
			n = len(seq) - 1
		}
		s := seq[n]
		if s.retryAfter != "" {
			w.Header().Set("Retry-After", s.retryAfter)
		}
		w.WriteHeader(s.status)
		w.Write([]byte(s.body))
	}))
	t.Cleanup(srv.Close)
	return cs, srv
}

func (cs *catalogServer) callsFor(q string) int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.calls[q]
}

func testOptions() FetchOptions {
	return FetchOptions{
		RateLimitRetries: 3,
		RateLimitBackoff: utils.ExponentialBackoff{Base: 5 * time.Second, Max: 12 * time.Second},
		TransientRetries: 2,
		TransientBackoff: utils.LinearBackoff{Step: time.Second, Max: 5 * time.Second},
	}
}

func newTestFetcher(srv *httptest.Server, opts FetchOptions, slept *[]time.Duration, extra ...FetcherOption) *Fetcher {
	client := NewClient("test-key", WithBaseURL(srv.URL), WithMinInterval(0), WithLogger(utils.NewTestLogger()))
	options := append([]FetcherOption{WithSleep(func(ctx context.Context, d time.Duration) error {
		*slept = append(*slept, d)
		return nil
	})}, extra...)
	return NewFetcher(client, opts, utils.NewTestLogger(), options...)
}

const instagramBody = `[{"title":"Instagram","primaryGenreName":"Photo & Video","averageUserRating":4.7,"userRatingCount":2500000,"price":0,"id":389801252,"url":"https://apps.apple.com/us/app/instagram/id389801252"}]`

func TestFetchSuccessMapsFirstResult(t *testing.T) {
	cs, srv := newCatalogServer(t, map[string][]scripted{
		"Instagram": {{status: 200, body: instagramBody}},
		"Tiny":      {{status: 200, body: `[{"title":"Tiny","id":"abc"},{"title":"Other"}]`}},
	})
	var slept []time.Duration
	res, err := newTestFetcher(srv, testOptions(), &slept).Fetch(context.Background(), []string{"Instagram", "Tiny"})
	require.NoError(t, err)

	require.Len(t, res.Attempts, 2)
	insta := res.Attempts[0]
	assert.Equal(t, models.FetchSuccess, insta.Status)
	require.NotNil(t, insta.Result)
	assert.Equal(t, "Photo & Video", insta.Result.Category)
	assert.Equal(t, 4.7, *insta.Result.Rating)
	assert.Equal(t, int64(2500000), insta.Result.Reviews)
	assert.Equal(t, "389801252", *insta.Result.ExternalID)
	assert.Equal(t, models.PlatformIOS, insta.Result.Platform)
	assert.Nil(t, insta.Result.Installs)

	tiny := res.Attempts[1].Result
	assert.Equal(t, "Unknown", tiny.Category)
	assert.Equal(t, 0.0, *tiny.Rating)
	assert.Equal(t, int64(0), tiny.Reviews)
	assert.Equal(t, "abc", *tiny.ExternalID)

	assert.Empty(t, slept)
	assert.Equal(t, "test-key", cs.headers.Get("x-rapidapi-key"))
	assert.Equal(t, DefaultHost, cs.headers.Get("x-rapidapi-host"))
	assert.Equal(t, 1.0, res.Stats.SuccessRate())
}

func TestFetchRateLimitedThenSuccessIsOneAttempt(t *testing.T) {
	_, srv := newCatalogServer(t, map[string][]scripted{
		"Instagram": {{status: 429, body: "slow down"}, {status: 429, retryAfter: "9"}, {status: 200, body: instagramBody}},
	})
	var slept []time.Duration
	res, err := newTestFetcher(srv, testOptions(), &slept).Fetch(context.Background(), []string{"Instagram"})
	require.NoError(t, err)

	require.Len(t, res.Attempts, 1)
	a := res.Attempts[0]
	assert.Equal(t, models.FetchSuccess, a.Status)
	assert.Equal(t, 3, a.Attempts)
	// Base 5s, then max(10s, Retry-After 9s) capped at 12s.
	assert.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second}, slept)
	assert.Equal(t, 2, res.Stats.RateLimitHits)
}

func TestFetchRateLimitCeilingYieldsTransientError(t *testing.T) {
	cs, srv := newCatalogServer(t, map[string][]scripted{
		"Busy": {{status: 429}},
	})
	var slept []time.Duration
	opts := testOptions()
	res, err := newTestFetcher(srv, opts, &slept).Fetch(context.Background(), []string{"Busy"})
	require.NoError(t, err)

	a := res.Attempts[0]
	assert.Equal(t, models.FetchTransientError, a.Status)
	assert.Equal(t, opts.RateLimitRetries+1, cs.callsFor("Busy"))
	assert.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second, 12 * time.Second}, slept)
	for _, d := range slept {
		assert.LessOrEqual(t, d, opts.RateLimitBackoff.Max)
	}
}

func TestFetchServerErrorsRetryLinearly(t *testing.T) {
	cs, srv := newCatalogServer(t, map[string][]scripted{
		"Flaky":  {{status: 503}, {status: 200, body: instagramBody}},
		"Broken": {{status: 500}},
	})
	var slept []time.Duration
	res, err := newTestFetcher(srv, testOptions(), &slept).Fetch(context.Background(), []string{"Flaky", "Broken"})
	require.NoError(t, err)

	assert.Equal(t, models.FetchSuccess, res.Attempts[0].Status)
	assert.Equal(t, models.FetchTransientError, res.Attempts[1].Status)
	assert.Equal(t, 500, res.Attempts[1].StatusCode)
	assert.Equal(t, 3, cs.callsFor("Broken"))
	assert.Equal(t, []time.Duration{time.Second, time.Second, 2 * time.Second}, slept)
}

func TestFetchPermanentAndNotFoundAreNotRetried(t *testing.T) {
	cs, srv := newCatalogServer(t, map[string][]scripted{
		"Forbidden": {{status: 403, body: "not subscribed"}},
		"Garbage":   {{status: 200, body: `{"oops":`}},
		"Nothing":   {{status: 200, body: `[]`}},
	})
	var slept []time.Duration
	res, err := newTestFetcher(srv, testOptions(), &slept).Fetch(context.Background(), []string{"Forbidden", "Garbage", "Nothing"})
	require.NoError(t, err)

	assert.Equal(t, models.FetchPermanentError, res.Attempts[0].Status)
	assert.Equal(t, 403, res.Attempts[0].StatusCode)
	assert.Equal(t, models.FetchPermanentError, res.Attempts[1].Status)
	assert.Equal(t, models.FetchNotFound, res.Attempts[2].Status)
	for _, q := range []string{"Forbidden", "Garbage", "Nothing"} {
		assert.Equal(t, 1, cs.callsFor(q), q)
	}
	assert.Empty(t, slept)
	assert.Equal(t, 1, res.Stats.NotFound)
	assert.Equal(t, 2, res.Stats.Permanent)
}

func TestFetchNeverIssuesRequestsWithZeroDelay(t *testing.T) {
	cs, srv := newCatalogServer(t, map[string][]scripted{})
	interval := 40 * time.Millisecond
	client := NewClient("k", WithBaseURL(srv.URL), WithMinInterval(interval))
	f := NewFetcher(client, testOptions(), utils.NewTestLogger())

	_, err := f.Fetch(context.Background(), []string{"a", "b", "c", "d"})
	require.NoError(t, err)

	require.Len(t, cs.arrivals, 4)
	for i := 1; i < len(cs.arrivals); i++ {
		gap := cs.arrivals[i].Sub(cs.arrivals[i-1])
		assert.GreaterOrEqual(t, gap, interval-5*time.Millisecond, "gap %d", i)
	}
}

type memoryCheckpoint struct {
	saved map[string]*models.FetchAttempt
}

func (m *memoryCheckpoint) Load(scope, query string) (*models.FetchAttempt, bool, error) {
	a, ok := m.saved[scope+"/"+query]
	if !ok {
		return nil, false, nil
	}
	cp := *a
	return &cp, true, nil
}

func (m *memoryCheckpoint) Save(scope string, a *models.FetchAttempt) error {
	m.saved[scope+"/"+a.Query] = a
	return nil
}

func TestFetchResumesFromCheckpoint(t *testing.T) {
	cs, srv := newCatalogServer(t, map[string][]scripted{
		"Instagram": {{status: 200, body: instagramBody}},
		"Busy":      {{status: 500}},
	})
	cp := &memoryCheckpoint{saved: map[string]*models.FetchAttempt{}}
	var slept []time.Duration
	f := newTestFetcher(srv, testOptions(), &slept, WithCheckpoint(cp))

	first, err := f.Fetch(context.Background(), []string{"Instagram", "Busy"})
	require.NoError(t, err)
	assert.Equal(t, models.FetchTransientError, first.Attempts[1].Status)
	assert.Len(t, cp.saved, 1, "transient outcomes are not checkpointed")

	second, err := f.Fetch(context.Background(), []string{"Instagram", "Busy"})
	require.NoError(t, err)

	assert.Equal(t, 1, cs.callsFor("Instagram"), "resumed query is not refetched")
	assert.Equal(t, 6, cs.callsFor("Busy"))
	require.Len(t, second.Attempts, 2)
	assert.True(t, second.Attempts[0].Resumed)
	assert.Equal(t, "Instagram", second.Attempts[0].Query)
	assert.Equal(t, "Busy", second.Attempts[1].Query)
	assert.Equal(t, 1, second.Stats.Resumed)
}

func TestFetchQueryFallbacks(t *testing.T) {
	_, srv := newCatalogServer(t, map[string][]scripted{
		"Google News": {{status: 200, body: `[]`}},
		"News":        {{status: 200, body: `[{"title":"News","id":1}]`}},
	})
	opts := testOptions()
	opts.QueryFallbacks = true
	var slept []time.Duration
	res, err := newTestFetcher(srv, opts, &slept).Fetch(context.Background(), []string{"Google News"})
	require.NoError(t, err)

	a := res.Attempts[0]
	assert.Equal(t, models.FetchSuccess, a.Status)
	assert.Equal(t, "Google News", a.Query)
	assert.Equal(t, "News", a.ResolvedQuery)
	assert.Equal(t, 2, a.Attempts)
	assert.Equal(t, 1, res.Stats.FallbackWins)
}

func TestFetchStopsOnCancel(t *testing.T) {
	_, srv := newCatalogServer(t, map[string][]scripted{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var slept []time.Duration
	res, err := newTestFetcher(srv, testOptions(), &slept).Fetch(ctx, []string{"a", "b"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, res.Attempts)
}

func TestQueryVariants(t *testing.T) {
	assert.Equal(t, []string{"Books"}, QueryVariants("Google Play Books"))
	assert.Equal(t, []string{"Surfers"}, QueryVariants("Subway Surfers"))
	assert.Equal(t, []string{"News"}, QueryVariants("Google News"))
	assert.Empty(t, QueryVariants("YouTube"))
}

func TestRecordsKeepsInputOrder(t *testing.T) {
	res := &models.FetchResult{Attempts: []*models.FetchAttempt{
		{Query: "a", Status: models.FetchSuccess, Result: &models.AppRecord{Name: "a"}},
		{Query: "b", Status: models.FetchNotFound},
		{Query: "c", Status: models.FetchSuccess, Result: &models.AppRecord{Name: "c"}},
	}, Stats: models.FetchStats{Success: 2}}

	recs := res.Records()
	require.Len(t, recs, 2)
	assert.Equal(t, "a", recs[0].Name)
	assert.Equal(t, "c", recs[1].Name)
}

package models

import "time"

// FetchStatus classifies the outcome of one catalog query.
type FetchStatus string

const (
	FetchSuccess        FetchStatus = "Success"
	FetchNotFound       FetchStatus = "NotFound"
	FetchRateLimited    FetchStatus = "RateLimited"
	FetchTransientError FetchStatus = "TransientError"
	FetchPermanentError FetchStatus = "PermanentError"
)

// Terminal reports whether a status is final and safe to checkpoint.
// Transient outcomes are retried on the next run.
func (s FetchStatus) Terminal() bool {
	switch s {
	case FetchSuccess, FetchNotFound, FetchPermanentError:
		return true
	}
	return false
}

// FetchAttempt records what happened for one input query.
type FetchAttempt struct {
	Query         string
	ResolvedQuery string
	Status        FetchStatus
	Result        *AppRecord
	Attempts      int
	StatusCode    int
	Err           string
	FetchedAt     time.Time
	Resumed       bool
}

// FetchStats aggregates a fetch run.
type FetchStats struct {
	Total         int
	Success       int
	NotFound      int
	Transient     int
	Permanent     int
	Resumed       int
	Requests      int
	RateLimitHits int
	TransientHits int
	FallbackWins  int
}

// Record folds one attempt into the counters.
func (s *FetchStats) Record(a *FetchAttempt) {
	s.Total++
	if a.Resumed {
		s.Resumed++
	}
	switch a.Status {
	case FetchSuccess:
		s.Success++
		if a.ResolvedQuery != "" && a.ResolvedQuery != a.Query {
			s.FallbackWins++
		}
	case FetchNotFound:
		s.NotFound++
	case FetchTransientError, FetchRateLimited:
		s.Transient++
	case FetchPermanentError:
		s.Permanent++
	}
}

// SuccessRate is the fraction of queries that resolved to a record.
func (s FetchStats) SuccessRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Success) / float64(s.Total)
}

// FetchResult is the ordered attempt sequence of a run plus its counters.
type FetchResult struct {
	Attempts []*FetchAttempt
	Stats    FetchStats
}

// Records returns the successfully fetched records in input order.
func (r *FetchResult) Records() []*AppRecord {
	out := make([]*AppRecord, 0, r.Stats.Success)
	for _, a := range r.Attempts {
		if a.Status == FetchSuccess && a.Result != nil {
			out = append(out, a.Result)
		}
	}
	return out
}

package appstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"ai-market-intelligence/models"
)

// SearchResult is one entry of the catalog search response. Optional
// fields are pointers so absent values fall back to defaults.
type SearchResult struct {
	Title             string   `json:"title"`
	PrimaryGenreName  *string  `json:"primaryGenreName"`
	AverageUserRating *float64 `json:"averageUserRating"`
	UserRatingCount   *int64   `json:"userRatingCount"`
	Price             *float64 `json:"price"`
	ID                FlexID   `json:"id"`
	URL               string   `json:"url"`
}

// ToRecord maps the result onto the canonical schema.
func (r *SearchResult) ToRecord() *models.AppRecord {
	rec := &models.AppRecord{
		Name:     strings.TrimSpace(r.Title),
		Category: "Unknown",
		Rating:   models.Float64Ptr(0),
		Platform: models.PlatformIOS,
	}
	if r.PrimaryGenreName != nil && *r.PrimaryGenreName != "" {
		rec.Category = *r.PrimaryGenreName
	}
	if r.AverageUserRating != nil {
		rec.Rating = models.Float64Ptr(*r.AverageUserRating)
	}
	if r.UserRatingCount != nil && *r.UserRatingCount > 0 {
		rec.Reviews = *r.UserRatingCount
	}
	if r.Price != nil && *r.Price > 0 {
		rec.Price = *r.Price
	}
	if r.ID != "" {
		rec.ExternalID = models.StringPtr(string(r.ID))
	}
	if r.URL != "" {
		rec.URL = models.StringPtr(r.URL)
	}
	return rec
}

// FlexID accepts identifiers encoded as JSON numbers or strings.
type FlexID string

func (f *FlexID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id: %w", err)
	}
	*f = FlexID(n.String())
	return nil
}

// APIError represents a non-200 response from the catalog API.
type APIError struct {
	StatusCode int
	Message    string
	Query      string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("catalog API error: %s (status: %d, query: %q)", e.Message, e.StatusCode, e.Query)
}

// DecodeError means a 200 response body was not the expected JSON.
type DecodeError struct {
	Query string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("catalog API decode failed for %q: %v", e.Query, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ProbeResult classifies a single diagnostic request.
type ProbeResult struct {
	StatusCode int
	OK         bool
	Diagnosis  string
	Results    int
}

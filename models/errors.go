package models

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInsufficientData means filtering left nothing worth sending to the
	// completion service. No call is made.
	ErrInsufficientData = errors.New("insufficient comparable data")
	// ErrNoValidInsights means every response element failed validation.
	ErrNoValidInsights = errors.New("no valid insights in response")
)

// ConfigurationError reports a missing or invalid setting. It is raised
// before any I/O and is fatal.
type ConfigurationError struct {
	Key    string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: %s: %s", e.Key, e.Reason)
}

// InputNotFoundError means a stage's required input artifact is absent.
// Only that stage aborts.
type InputNotFoundError struct {
	Stage string
	Path  string
	Hint  string
}

func (e *InputNotFoundError) Error() string {
	msg := fmt.Sprintf("%s: input %q not found", e.Stage, e.Path)
	if e.Hint != "" {
		msg += " (" + e.Hint + ")"
	}
	return msg
}

// ServiceErrorKind splits external failures into retryable and final.
type ServiceErrorKind string

const (
	Transient ServiceErrorKind = "transient"
	Permanent ServiceErrorKind = "permanent"
)

// ExternalServiceError wraps a failure talking to the catalog or completion
// service.
type ExternalServiceError struct {
	Service    string
	Kind       ServiceErrorKind
	StatusCode int
	Err        error
}

func (e *ExternalServiceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s error (status %d): %v", e.Service, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s error: %v", e.Service, e.Kind, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a retryable external failure.
func IsTransient(err error) bool {
	var se *ExternalServiceError
	return errors.As(err, &se) && se.Kind == Transient
}

// SchemaParseError means a completion could not be decoded into the expected
// shape. Raw keeps the full payload for diagnosis.
type SchemaParseError struct {
	Raw string
	Err error
}

func (e *SchemaParseError) Error() string {
	return fmt.Sprintf("schema parse: %v (raw %d bytes)", e.Err, len(e.Raw))
}

func (e *SchemaParseError) Unwrap() error { return e.Err }

// ValidationError describes why one decoded element was rejected.
type ValidationError struct {
	Index  int
	Fields []string
	Reason string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return fmt.Sprintf("element %d: %s", e.Index, e.Reason)
	}
	return fmt.Sprintf("element %d: %s [%s]", e.Index, e.Reason, strings.Join(e.Fields, ", "))
}

// DropReason names why a raw row was excluded from a canonical dataset.
type DropReason string

const (
	DropSentinelCategory DropReason = "sentinel_category"
	DropBadReviews       DropReason = "unparsable_reviews"
	DropBadInstalls      DropReason = "unparsable_installs"
	DropBadLastUpdated   DropReason = "unparsable_last_updated"
	DropMissingCategory  DropReason = "missing_category"
	DropMissingContent   DropReason = "missing_content_rating"
	DropMissingName      DropReason = "missing_name"
)

// RowDrop records one excluded row. Row is the zero-based position in the
// raw batch.
type RowDrop struct {
	Row    int
	Name   string
	Reason DropReason
	Value  string
}

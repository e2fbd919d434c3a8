package models

// Insight is one validated, schema-conforming finding produced by the
// completion service.
type Insight struct {
	ID              string         `json:"id"`
	InsightType     string         `json:"insight_type"`
	Title           string         `json:"title"`
	Summary         string         `json:"summary"`
	SupportingData  map[string]any `json:"supporting_data"`
	Recommendation  string         `json:"recommendation"`
	ConfidenceScore float64        `json:"confidence_score"`
}

// InsightOutcome tags how one response element crossed the parse/validate
// boundary.
type InsightOutcome string

const (
	OutcomeValid           InsightOutcome = "ValidRecord"
	OutcomeParseFailure    InsightOutcome = "ParseFailure"
	OutcomeValidationError InsightOutcome = "ValidationFailure"
)

// InsightBatch is the result of one generation run. Rejected holds the
// validation errors of dropped elements, in response order.
type InsightBatch struct {
	Insights     []*Insight
	Rejected     []*ValidationError
	SliceSize    int
	Model        string
	Temperature  float64
	ParseRetried bool
}

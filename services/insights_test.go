package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ai-market-intelligence/config"
	"ai-market-intelligence/llm"
	"ai-market-intelligence/models"
	"ai-market-intelligence/utils"
)

// scriptedCompleter returns canned replies in order and records requests.
type scriptedCompleter struct {
	replies  []string
	errs     []error
	requests []*llm.Request
}

func (s *scriptedCompleter) Model() string { return "fake-model" }

func (s *scriptedCompleter) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	i := len(s.requests)
	s.requests = append(s.requests, req)
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	if i >= len(s.replies) {
		i = len(s.replies) - 1
	}
	return &llm.Response{Text: s.replies[i], Model: "fake-model"}, nil
}

func crossPlatformRecords() []*models.AppRecord {
	return []*models.AppRecord{
		{Name: "Instagram", Platform: models.PlatformAndroid, Reviews: 66577313, Rating: models.Float64Ptr(4.5), Installs: models.Int64Ptr(1000000000)},
		{Name: "instagram", Platform: models.PlatformIOS, Reviews: 2500000, Rating: models.Float64Ptr(4.7), ExternalID: models.StringPtr("389801252")},
		{Name: "Solo App", Platform: models.PlatformAndroid, Reviews: 10},
		{Name: "Quiet", Platform: models.PlatformAndroid, Reviews: 5},
		{Name: "Quiet", Platform: models.PlatformIOS, Reviews: 0},
	}
}

const validInsight = `{"id":"CP-001","insight_type":"Cross-Platform Comparison","title":"Instagram rates higher on iOS",
"summary":"iOS users rate Instagram 0.2 points higher.","supporting_data":{"app":"Instagram","android_rating":4.5,"ios_rating":4.7},
"recommendation":"Investigate Android UX gaps.","confidence_score":0.85}`

func newTestGenerator(c llm.Completer) *InsightGenerator {
	return NewInsightGenerator(c, config.NewDefaultConfig().Insights, utils.NewTestLogger())
}

func TestFilterComparable(t *testing.T) {
	got := FilterComparable(crossPlatformRecords(), 2)

	names := make([]string, 0, len(got))
	for _, r := range got {
		names = append(names, string(r.Platform)+":"+r.Name)
	}
	assert.Equal(t, []string{"Android:Instagram", "iOS:instagram", "Android:Quiet"}, names)
}

func TestGenerateInsufficientDataMakesNoCall(t *testing.T) {
	c := &scriptedCompleter{replies: []string{"[]"}}
	records := []*models.AppRecord{{Name: "Solo", Platform: models.PlatformAndroid, Reviews: 3}}

	_, err := newTestGenerator(c).Generate(context.Background(), records)

	assert.ErrorIs(t, err, models.ErrInsufficientData)
	assert.Empty(t, c.requests)
}

func TestGenerateKeepsValidSiblings(t *testing.T) {
	reply := "[" + validInsight + `,
{"id":"CP-002","insight_type":"Pricing","title":"Too sure","summary":"s","supporting_data":{},"recommendation":"r","confidence_score":1.5},
{"id":"CP-003","insight_type":"Pricing","title":"No score","summary":"s","supporting_data":{},"recommendation":"r"},
{"id":4,"insight_type":"Reach","title":"Numeric id","summary":"s","supporting_data":{"k":1},"recommendation":"r","confidence_score":"0.6"}]`
	c := &scriptedCompleter{replies: []string{reply}}

	batch, err := newTestGenerator(c).Generate(context.Background(), crossPlatformRecords())
	require.NoError(t, err)

	require.Len(t, batch.Insights, 2)
	assert.Equal(t, "CP-001", batch.Insights[0].ID)
	assert.Equal(t, 0.85, batch.Insights[0].ConfidenceScore)
	assert.Equal(t, 4.7, batch.Insights[0].SupportingData["ios_rating"])
	assert.Equal(t, "4", batch.Insights[1].ID)
	assert.Equal(t, 0.6, batch.Insights[1].ConfidenceScore)

	require.Len(t, batch.Rejected, 2)
	assert.Equal(t, 1, batch.Rejected[0].Index)
	assert.Contains(t, batch.Rejected[0].Fields, "confidence_score:lte")
	assert.Equal(t, 2, batch.Rejected[1].Index)
	assert.Contains(t, batch.Rejected[1].Fields, "confidence_score:required")

	require.Len(t, c.requests, 1)
	assert.Equal(t, 0.5, c.requests[0].Temperature)
	assert.Equal(t, 4096, c.requests[0].MaxTokens)
	assert.Contains(t, c.requests[0].Prompt, `"App":"Instagram"`)
	assert.NotContains(t, c.requests[0].Prompt, "Solo App")
}

func TestGenerateRetriesOnceAtLowerTemperatureAfterParseFailure(t *testing.T) {
	c := &scriptedCompleter{replies: []string{"Here are your insights: oops", "```json\n[" + validInsight + "]\n```"}}

	batch, err := newTestGenerator(c).Generate(context.Background(), crossPlatformRecords())
	require.NoError(t, err)

	assert.True(t, batch.ParseRetried)
	require.Len(t, c.requests, 2)
	assert.Equal(t, 0.2, c.requests[1].Temperature)
	assert.Len(t, batch.Insights, 1)
}

func TestGenerateSchemaParseErrorKeepsRaw(t *testing.T) {
	c := &scriptedCompleter{replies: []string{`{"insights": []}`}}

	_, err := newTestGenerator(c).Generate(context.Background(), crossPlatformRecords())

	var parseErr *models.SchemaParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, `{"insights": []}`, parseErr.Raw)
	assert.Len(t, c.requests, 2, "exactly one retry")
}

func TestGenerateAllInvalidIsFailure(t *testing.T) {
	c := &scriptedCompleter{replies: []string{`[{"id":"x"}, 42]`}}

	batch, err := newTestGenerator(c).Generate(context.Background(), crossPlatformRecords())

	assert.ErrorIs(t, err, models.ErrNoValidInsights)
	require.NotNil(t, batch)
	assert.Len(t, batch.Rejected, 2)
}

func TestGeneratePropagatesServiceErrors(t *testing.T) {
	svcErr := &models.ExternalServiceError{Service: "groq", Kind: models.Permanent, StatusCode: 401, Err: errors.New("bad key")}
	c := &scriptedCompleter{replies: []string{""}, errs: []error{svcErr}}

	_, err := newTestGenerator(c).Generate(context.Background(), crossPlatformRecords())

	var se *models.ExternalServiceError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 401, se.StatusCode)
	assert.Len(t, c.requests, 1)
}

func TestValidatorRejectsWrongTypes(t *testing.T) {
	iv := NewInsightValidator()

	tests := []struct {
		name  string
		elem  string
		field string
	}{
		{"supporting data list", `{"id":"a","insight_type":"t","title":"t","summary":"s","supporting_data":[1],"recommendation":"r","confidence_score":0.5}`, "supporting_data"},
		{"numeric title", `{"id":"a","insight_type":"t","title":7,"summary":"s","supporting_data":{},"recommendation":"r","confidence_score":0.5}`, "title"},
		{"blank summary", `{"id":"a","insight_type":"t","title":"t","summary":"  ","supporting_data":{},"recommendation":"r","confidence_score":0.5}`, "summary"},
		{"negative score", `{"id":"a","insight_type":"t","title":"t","summary":"s","supporting_data":{},"recommendation":"r","confidence_score":-0.1}`, "confidence_score"},
		{"missing id", `{"insight_type":"t","title":"t","summary":"s","supporting_data":{},"recommendation":"r","confidence_score":0.5}`, "id"},
	}

	for _, tt := range tests {
		ins, verr := iv.Validate(0, []byte(tt.elem))
		assert.Nil(t, ins, tt.name)
		require.NotNil(t, verr, tt.name)
		assert.True(t, strings.Contains(strings.Join(verr.Fields, ","), tt.field), "%s: %v", tt.name, verr.Fields)
	}
}

func TestValidatorAcceptsLegacyIDKey(t *testing.T) {
	ins, verr := NewInsightValidator().Validate(0, []byte(
		`{"insight_id":"CP-9","insight_type":"t","title":"t","summary":"s","supporting_data":{},"recommendation":"r","confidence_score":0}`))
	require.Nil(t, verr)
	assert.Equal(t, "CP-9", ins.ID)
	assert.Equal(t, 0.0, ins.ConfidenceScore)
}

func TestStripCodeFence(t *testing.T) {
	assert.Equal(t, "[1]", StripCodeFence("```json\n[1]\n```"))
	assert.Equal(t, "[1]", StripCodeFence("```\n[1]\n```"))
	assert.Equal(t, "[1]", StripCodeFence("  [1] "))
}

package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ternarybob/arbor"

	"ai-market-intelligence/config"
	"ai-market-intelligence/llm"
	"ai-market-intelligence/models"
)

// insightSchemaExample is embedded verbatim in the prompt.
const insightSchemaExample = `[
  {
    "id": "CP-001",
    "insight_type": "Cross-Platform Comparison",
    "title": "Example Title: App Performance on Android vs. iOS",
    "summary": "A detailed explanation of the finding, referencing data.",
    "supporting_data": { "app": "Example App", "android_rating": 4.5, "ios_rating": 4.7 },
    "recommendation": "An actionable business suggestion based on the insight.",
    "confidence_score": 0.9
  }
]`

// sliceRow is the serialized form of one record sent to the model. Absent
// values serialize as null.
type sliceRow struct {
	App      string   `json:"App"`
	Category string   `json:"Category"`
	Rating   *float64 `json:"Rating"`
	Reviews  int64    `json:"Reviews"`
	Price    float64  `json:"Price"`
	Installs *int64   `json:"Installs"`
	Platform string   `json:"Platform"`
	AppID    *string  `json:"App_ID"`
	URL      *string  `json:"URL"`
}

// InsightGenerator prompts the completion service for schema-constrained
// insights and validates what comes back.
type InsightGenerator struct {
	completer llm.Completer
	cfg       config.InsightsConfig
	validator *InsightValidator
	logger    arbor.ILogger
}

func NewInsightGenerator(completer llm.Completer, cfg config.InsightsConfig, logger arbor.ILogger) *InsightGenerator {
	return &InsightGenerator{
		completer: completer,
		cfg:       cfg,
		validator: NewInsightValidator(),
		logger:    logger,
	}
}

// FilterComparable keeps records whose name appears on at least
// minPlatforms distinct platforms and which have reviews. Names compare
// case-insensitively.
func FilterComparable(records []*models.AppRecord, minPlatforms int) []*models.AppRecord {
	platforms := make(map[string]map[models.Platform]struct{})
	for _, r := range records {
		key := strings.ToLower(strings.TrimSpace(r.Name))
		if platforms[key] == nil {
			platforms[key] = make(map[models.Platform]struct{})
		}
		platforms[key][r.Platform] = struct{}{}
	}

	out := make([]*models.AppRecord, 0)
	for _, r := range records {
		key := strings.ToLower(strings.TrimSpace(r.Name))
		if len(platforms[key]) >= minPlatforms && r.Reviews > 0 {
			out = append(out, r)
		}
	}
	return out
}

// BuildInsightPrompt serializes the slice under the fixed schema
// instruction.
func BuildInsightPrompt(slice []*models.AppRecord) (string, error) {
	rows := make([]sliceRow, len(slice))
	for i, r := range slice {
		rows[i] = sliceRow{
			App: r.Name, Category: r.Category, Rating: r.Rating, Reviews: r.Reviews, Price: r.Price,
			Installs: r.Installs, Platform: string(r.Platform), AppID: r.ExternalID, URL: r.URL,
		}
	}
	data, err := json.Marshal(rows)
	if err != nil {
		return "", fmt.Errorf("serialize slice: %w", err)
	}

	var b strings.Builder
	b.WriteString("You are an expert market analyst for the mobile app industry. Analyze the provided JSON data about mobile apps.\n")
	b.WriteString("Your task is to generate 3-5 key market intelligence insights from the data.\n\n")
	b.WriteString("You MUST respond with ONLY a single, valid JSON array that follows the exact schema and structure shown in the example below.\n")
	b.WriteString("Every element must contain all of these fields: id (string), insight_type (string), title (string), summary (string), ")
	b.WriteString("supporting_data (object), recommendation (string), confidence_score (number between 0 and 1).\n")
	b.WriteString("Do not include any introductory text, markdown formatting, or any other content outside of the JSON array.\n\n")
	b.WriteString("JSON Schema Example:\n")
	b.WriteString(insightSchemaExample)
	b.WriteString("\n\nNow, analyze the following data and provide your response:\n")
	b.Write(data)
	b.WriteString("\n")
	return b.String(), nil
}

// Generate runs filter, prompt, invoke, parse and validate over the unified
// dataset. It returns ErrInsufficientData without calling the service when
// nothing is comparable, a SchemaParseError when both tries are
// unparseable, and ErrNoValidInsights when every element is rejected.
func (g *InsightGenerator) Generate(ctx context.Context, records []*models.AppRecord) (*models.InsightBatch, error) {
	slice := FilterComparable(records, g.cfg.MinPlatforms)
	if len(slice) == 0 {
		g.logger.Warn().Int("records", len(records)).Msg("No comparable cross-platform records, skipping insight generation")
		return nil, models.ErrInsufficientData
	}

	prompt, err := BuildInsightPrompt(slice)
	if err != nil {
		return nil, err
	}
	g.logger.Info().Int("slice", len(slice)).Str("model", g.completer.Model()).Msg("Requesting insights")

	batch := &models.InsightBatch{SliceSize: len(slice), Model: g.completer.Model(), Temperature: g.cfg.Temperature}

	elems, err := g.completeAndParse(ctx, prompt, g.cfg.Temperature)
	var parseErr *models.SchemaParseError
	if errors.As(err, &parseErr) {
		g.logger.Warn().
			Err(err).
			Int("raw_bytes", len(parseErr.Raw)).
			Float64("retry_temperature", g.cfg.RetryTemperature).
			Msg("Insight response was not a JSON array, retrying once")
		batch.ParseRetried = true
		batch.Temperature = g.cfg.RetryTemperature
		elems, err = g.completeAndParse(ctx, prompt, g.cfg.RetryTemperature)
	}
	if err != nil {
		if errors.As(err, &parseErr) {
			g.logger.Error().Str("raw", truncate(parseErr.Raw, 2000)).Msg("Raw insight response")
		}
		return nil, err
	}

	for i, elem := range elems {
		ins, verr := g.validator.Validate(i, elem)
		if verr != nil {
			batch.Rejected = append(batch.Rejected, verr)
			g.logger.Warn().Int("index", i).Strs("fields", verr.Fields).Str("reason", verr.Reason).Msg("Dropping invalid insight")
			continue
		}
		batch.Insights = append(batch.Insights, ins)
	}

	if len(batch.Insights) == 0 {
		return batch, fmt.Errorf("%w: %d elements rejected", models.ErrNoValidInsights, len(batch.Rejected))
	}

	g.logger.Info().
		Int("valid", len(batch.Insights)).
		Int("rejected", len(batch.Rejected)).
		Bool("parse_retried", batch.ParseRetried).
		Msg("Insights generated")
	return batch, nil
}

func (g *InsightGenerator) completeAndParse(ctx context.Context, prompt string, temperature float64) ([]json.RawMessage, error) {
	resp, err := g.completer.Complete(ctx, &llm.Request{
		Prompt:      prompt,
		Temperature: temperature,
		MaxTokens:   g.cfg.MaxTokens,
		JSON:        true,
	})
	if err != nil {
		return nil, err
	}
	return ParseInsightArray(resp.Text)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

package services

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ternarybob/arbor"

	"ai-market-intelligence/config"
	"ai-market-intelligence/llm"
	"ai-market-intelligence/models"
)

// CreativeGenerator turns derived campaign insights into marketing copy.
type CreativeGenerator struct {
	completer llm.Completer
	cfg       config.CampaignsConfig
	logger    arbor.ILogger
}

func NewCreativeGenerator(completer llm.Completer, cfg config.CampaignsConfig, logger arbor.ILogger) *CreativeGenerator {
	return &CreativeGenerator{completer: completer, cfg: cfg, logger: logger}
}

func HeadlinePrompt(best *models.BestCampaign) string {
	insight := fmt.Sprintf("The best performing ad campaign ('%s' on %s) had a massive ROAS of %g.", best.ID, best.Channel, best.ROAS)
	return fmt.Sprintf("You are an expert copywriter. Based on the following insight, write 3 catchy ad headlines for %s.\n\nInsight: %s",
		best.Channel, insight)
}

func SEOPrompt(seo *models.SEOOpportunity, maxChars int) string {
	insight := fmt.Sprintf("The SEO category '%s' has a high search volume but our ranking is low.", seo.Category)
	return fmt.Sprintf("You are an expert SEO copywriter. Based on this insight, write an SEO meta description for the '%s' category, under %d characters.\n\nInsight: %s",
		seo.Category, maxChars, insight)
}

// Generate writes ad headlines for the best campaign and, when an SEO
// opportunity exists, a meta description for it.
func (g *CreativeGenerator) Generate(ctx context.Context, derived *models.DerivedInsights) (*models.CreativeOutput, error) {
	if derived == nil || derived.BestROASCampaign == nil {
		return nil, fmt.Errorf("creative generation: %w", models.ErrInsufficientData)
	}

	out := &models.CreativeOutput{}

	headlines, err := g.generateText(ctx, "ad_headlines", HeadlinePrompt(derived.BestROASCampaign),
		g.cfg.HeadlineTemperature, g.cfg.HeadlineMaxTokens, g.cfg.HeadlineMaxChars)
	if err != nil {
		return nil, err
	}
	out.AdHeadlines = headlines

	if seo := derived.TopSEOOpportunity; seo != nil {
		desc, err := g.generateText(ctx, "seo_description", SEOPrompt(seo, g.cfg.SEOMaxChars),
			g.cfg.SEOTemperature, g.cfg.SEOMaxTokens, g.cfg.SEOMaxChars)
		if err != nil {
			return nil, err
		}
		out.SEODescription = desc
	} else {
		g.logger.Warn().Msg("No SEO opportunity, skipping meta description")
	}

	return out, nil
}

// generateText asks for one piece of copy and retries once when the reply
// is empty or longer than maxChars.
func (g *CreativeGenerator) generateText(ctx context.Context, field, prompt string, temperature float64, maxTokens, maxChars int) (string, error) {
	var lastErr *models.ValidationError
	for attempt := 1; attempt <= 2; attempt++ {
		resp, err := g.completer.Complete(ctx, &llm.Request{Prompt: prompt, Temperature: temperature, MaxTokens: maxTokens})
		if err != nil {
			return "", fmt.Errorf("generate %s: %w", field, err)
		}

		text, verr := validateCopy(field, resp.Text, maxChars)
		if verr == nil {
			g.logger.Info().Str("field", field).Int("chars", utf8.RuneCountInString(text)).Msg("Creative generated")
			return text, nil
		}
		lastErr = verr
		g.logger.Warn().Str("field", field).Int("attempt", attempt).Str("reason", verr.Reason).Msg("Creative rejected")
	}
	return "", fmt.Errorf("generate %s: %w", field, lastErr)
}

func validateCopy(field, raw string, maxChars int) (string, *models.ValidationError) {
	text := strings.TrimSpace(raw)
	switch {
	case text == "":
		return "", &models.ValidationError{Fields: []string{field}, Reason: "empty text"}
	case maxChars > 0 && utf8.RuneCountInString(text) > maxChars:
		return "", &models.ValidationError{
			Fields: []string{field},
			Reason: fmt.Sprintf("%d characters exceeds limit of %d", utf8.RuneCountInString(text), maxChars),
		}
	}
	return text, nil
}


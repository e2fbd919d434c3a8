package services

import (
	"fmt"
	"math"

	"github.com/ternarybob/arbor"

	"ai-market-intelligence/config"
	"ai-market-intelligence/models"
)

// CampaignAnalyzer derives funnel metrics from campaign records.
type CampaignAnalyzer struct {
	cfg    config.CampaignsConfig
	logger arbor.ILogger
}

func NewCampaignAnalyzer(cfg config.CampaignsConfig, logger arbor.ILogger) *CampaignAnalyzer {
	return &CampaignAnalyzer{cfg: cfg, logger: logger}
}

// ComputeMetrics returns ROAS and CAC per campaign, rounded to two places.
// A zero denominator is treated as one and a non-finite ratio is zero.
func ComputeMetrics(campaigns []*models.Campaign) []*models.CampaignMetrics {
	out := make([]*models.CampaignMetrics, 0, len(campaigns))
	for _, c := range campaigns {
		out = append(out, &models.CampaignMetrics{
			Campaign: c,
			ROAS:     ratio(c.RevenueUSD, c.SpendUSD),
			CAC:      ratio(c.SpendUSD, c.FirstPurchase),
		})
	}
	return out
}

func ratio(num, den float64) float64 {
	r := num / nonZero(den)
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return 0
	}
	return round2(r)
}

func nonZero(v float64) float64 {
	if v == 0 {
		return 1
	}
	return v
}

// BestCampaign picks the highest ROAS. Ties keep the earliest record.
func BestCampaign(metrics []*models.CampaignMetrics) *models.BestCampaign {
	var best *models.CampaignMetrics
	for _, m := range metrics {
		if best == nil || m.ROAS > best.ROAS {
			best = m
		}
	}
	if best == nil {
		return nil
	}
	return &models.BestCampaign{
		ID:      best.Campaign.CampaignID,
		ROAS:    best.ROAS,
		Revenue: best.Campaign.RevenueUSD,
		Spend:   best.Campaign.SpendUSD,
		Channel: best.Campaign.Channel,
	}
}

// TopSEOOpportunity returns the highest search volume among campaigns whose
// average position is worse than threshold, or nil when none qualify.
func TopSEOOpportunity(campaigns []*models.Campaign, threshold float64) *models.SEOOpportunity {
	var top *models.Campaign
	for _, c := range campaigns {
		if c.AvgPosition <= threshold {
			continue
		}
		if top == nil || c.MonthlySearchVolume > top.MonthlySearchVolume {
			top = c
		}
	}
	if top == nil {
		return nil
	}
	return &models.SEOOpportunity{
		Category:     top.SEOCategory,
		SearchVolume: top.MonthlySearchVolume,
		AvgPosition:  top.AvgPosition,
	}
}

// Analyze computes the derived insights for a campaign set.
func (a *CampaignAnalyzer) Analyze(campaigns []*models.Campaign) (*models.DerivedInsights, error) {
	if len(campaigns) == 0 {
		return nil, fmt.Errorf("campaign analysis: %w", models.ErrInsufficientData)
	}

	metrics := ComputeMetrics(campaigns)
	for _, m := range metrics {
		a.logger.Debug().
			Str("campaign", m.Campaign.CampaignID).
			Float64("roas", m.ROAS).
			Float64("cac", m.CAC).
			Msg("Campaign metrics")
	}

	derived := &models.DerivedInsights{
		BestROASCampaign:  BestCampaign(metrics),
		TopSEOOpportunity: TopSEOOpportunity(campaigns, a.cfg.SEOPositionThreshold),
	}

	best := derived.BestROASCampaign
	a.logger.Info().
		Str("campaign", best.ID).
		Str("channel", best.Channel).
		Float64("roas", best.ROAS).
		Msg("Best ROAS campaign")

	if seo := derived.TopSEOOpportunity; seo != nil {
		a.logger.Info().
			Str("category", seo.Category).
			Int64("search_volume", seo.SearchVolume).
			Float64("avg_position", seo.AvgPosition).
			Msg("Top SEO opportunity")
	} else {
		a.logger.Warn().
			Float64("threshold", a.cfg.SEOPositionThreshold).
			Msg("No campaign ranks below the position threshold")
	}

	return derived, nil
}

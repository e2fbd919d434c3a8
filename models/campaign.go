package models

// Campaign is one row of the marketing-funnel source.
type Campaign struct {
	CampaignID          string
	Channel             string
	SpendUSD            float64
	RevenueUSD          float64
	FirstPurchase       float64
	AvgPosition         float64
	MonthlySearchVolume int64
	SEOCategory         string
}

// CampaignMetrics pairs a campaign with its derived ratios.
type CampaignMetrics struct {
	Campaign *Campaign
	ROAS     float64
	CAC      float64
}

// BestCampaign is the highest return-on-spend campaign.
type BestCampaign struct {
	ID      string  `json:"id"`
	ROAS    float64 `json:"roas"`
	Revenue float64 `json:"revenue"`
	Spend   float64 `json:"spend"`
	Channel string  `json:"channel"`
}

// SEOOpportunity is the highest-volume search category where ranking is weak.
type SEOOpportunity struct {
	Category     string  `json:"category"`
	SearchVolume int64   `json:"search_volume"`
	AvgPosition  float64 `json:"avg_position"`
}

// DerivedInsights is the persisted result of the campaign analysis.
type DerivedInsights struct {
	BestROASCampaign  *BestCampaign   `json:"best_roas_campaign"`
	TopSEOOpportunity *SEOOpportunity `json:"top_seo_opportunity"`
}

// CreativeOutput holds generated marketing copy.
type CreativeOutput struct {
	AdHeadlines    string `json:"ad_headlines"`
	SEODescription string `json:"seo_description"`
}

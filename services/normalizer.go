package services

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"ai-market-intelligence/config"
	"ai-market-intelligence/models"
	"ai-market-intelligence/utils"
)

// countStripper removes decoration found around counts and prices in
// marketplace exports ("10,000+", "$4.99").
var countStripper = strings.NewReplacer(",", "", "+", "", "$", "", " ", "", "\u00a0", "")

// NormalizeResult is the canonical batch plus an account of every row that
// did not make it. len(Records)+len(Dropped) equals the input size minus
// Duplicates.
type NormalizeResult struct {
	Records    []*models.AppRecord
	Dropped    []models.RowDrop
	Duplicates int
	Imputed    int
	InputRows  int
}

// DropCounts groups dropped rows by reason.
func (r *NormalizeResult) DropCounts() map[models.DropReason]int {
	out := make(map[models.DropReason]int)
	for _, d := range r.Dropped {
		out[d.Reason]++
	}
	return out
}

// Normalizer transforms raw export rows into canonical AppRecords.
type Normalizer struct {
	sentinels map[string]struct{}
	layouts   []string
	platform  models.Platform
	logger    arbor.ILogger
}

// NewNormalizer creates a Normalizer for one platform's export.
func NewNormalizer(cfg config.NormalizerConfig, platform models.Platform, logger arbor.ILogger) *Normalizer {
	sentinels := make(map[string]struct{}, len(cfg.SentinelCategories))
	for _, s := range cfg.SentinelCategories {
		sentinels[strings.TrimSpace(s)] = struct{}{}
	}
	return &Normalizer{
		sentinels: sentinels,
		layouts:   cfg.DateLayouts,
		platform:  platform,
		logger:    logger,
	}
}

type candidate struct {
	row     int
	rec     *models.AppRecord
	updated string
}

// Normalize cleans one raw batch. It never fails; unusable rows are
// dropped with a reason.
func (n *Normalizer) Normalize(raw []models.RawRecord) *NormalizeResult {
	res := &NormalizeResult{InputRows: len(raw)}
	seen := utils.NewKeySet(false)
	cands := make([]*candidate, 0, len(raw))

	drop := func(row int, name string, reason models.DropReason, value string) {
		res.Dropped = append(res.Dropped, models.RowDrop{Row: row, Name: name, Reason: reason, Value: value})
		n.logger.Debug().Int("row", row).Str("app", name).Str("reason", string(reason)).Str("value", value).Msg("Dropping row")
	}

	for i, r := range raw {
		name := utils.NormaliseText(r[models.ColApp])
		category := strings.TrimSpace(r[models.ColCategory])

		if _, bad := n.sentinels[category]; bad {
			drop(i, name, models.DropSentinelCategory, category)
			continue
		}
		if name == "" {
			drop(i, name, models.DropMissingName, "")
			continue
		}
		if !seen.Add(name) {
			res.Duplicates++
			continue
		}

		reviews, ok := parseCount(r[models.ColReviews])
		if !ok {
			drop(i, name, models.DropBadReviews, r[models.ColReviews])
			continue
		}
		installs, ok := parseCount(r[models.ColInstalls])
		if !ok {
			drop(i, name, models.DropBadInstalls, r[models.ColInstalls])
			continue
		}

		cands = append(cands, &candidate{
			row: i,
			rec: &models.AppRecord{
				Name:          name,
				Category:      category,
				Rating:        parseRating(r[models.ColRating]),
				Reviews:       reviews,
				Price:         parsePrice(r[models.ColPrice]),
				Installs:      models.Int64Ptr(installs),
				Platform:      n.platform,
				ContentRating: utils.NormaliseText(r[models.ColContentRating]),
			},
			updated: r[models.ColLastUpdated],
		})
	}

	res.Imputed = imputeRatings(cands)

	res.Records = make([]*models.AppRecord, 0, len(cands))
	for _, c := range cands {
		switch {
		case c.rec.Category == "":
			drop(c.row, c.rec.Name, models.DropMissingCategory, "")
			continue
		case c.rec.ContentRating == "":
			drop(c.row, c.rec.Name, models.DropMissingContent, "")
			continue
		}
		ts, ok := n.parseDate(c.updated)
		if !ok {
			drop(c.row, c.rec.Name, models.DropBadLastUpdated, c.updated)
			continue
		}
		c.rec.LastUpdated = &ts
		res.Records = append(res.Records, c.rec)
	}

	n.logger.Info().
		Str("platform", string(n.platform)).
		Int("input", res.InputRows).
		Int("output", len(res.Records)).
		Int("dropped", len(res.Dropped)).
		Int("duplicates", res.Duplicates).
		Int("imputed_ratings", res.Imputed).
		Msg("Normalized raw export")
	return res
}

// imputeRatings fills missing ratings with the category mean, falling back
// to the batch mean. Means come from observed ratings only. Returns the
// number of imputed values.
func imputeRatings(cands []*candidate) int {
	type acc struct {
		sum float64
		n   int
	}
	byCat := make(map[string]*acc)
	var global acc
	for _, c := range cands {
		if c.rec.Rating == nil {
			continue
		}
		a := byCat[c.rec.Category]
		if a == nil {
			a = &acc{}
			byCat[c.rec.Category] = a
		}
		a.sum += *c.rec.Rating
		a.n++
		global.sum += *c.rec.Rating
		global.n++
	}

	imputed := 0
	for _, c := range cands {
		if c.rec.Rating != nil {
			c.rec.Rating = models.Float64Ptr(round2(*c.rec.Rating))
			continue
		}
		if a := byCat[c.rec.Category]; a != nil && a.n > 0 {
			c.rec.Rating = models.Float64Ptr(round2(a.sum / float64(a.n)))
		} else if global.n > 0 {
			c.rec.Rating = models.Float64Ptr(round2(global.sum / float64(global.n)))
		} else {
			continue
		}
		imputed++
	}
	return imputed
}

// parseCount parses a non-negative integer count after stripping
// separators, currency and "+" markers.
func parseCount(raw string) (int64, bool) {
	s := countStripper.Replace(strings.TrimSpace(raw))
	if s == "" {
		return 0, false
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v, v >= 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f < 0 || f != math.Trunc(f) {
		return 0, false
	}
	return int64(f), true
}

// parsePrice returns the numeric price, or 0 when it cannot be read.
func parsePrice(raw string) float64 {
	s := countStripper.Replace(strings.TrimSpace(raw))
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}

// parseRating returns nil for missing or out-of-range ratings so they are
// imputed.
func parseRating(raw string) *float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(v) || v < 0 || v > 5 {
		return nil
	}
	return &v
}

func (n *Normalizer) parseDate(raw string) (time.Time, bool) {
	s := utils.NormaliseText(raw)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range n.layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

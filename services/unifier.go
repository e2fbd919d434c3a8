package services

import (
	"fmt"

	"github.com/ternarybob/arbor"

	"ai-market-intelligence/models"
	"ai-market-intelligence/utils"
)

// Unifier merges per-source datasets into one combined dataset.
type Unifier struct {
	logger arbor.ILogger
}

func NewUnifier(logger arbor.ILogger) *Unifier {
	return &Unifier{logger: logger}
}

// Unify concatenates the sources in order under the union of their column
// schemas. Records are not deduplicated across sources.
func (u *Unifier) Unify(sources ...*models.Dataset) (*models.Dataset, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("unify: no sources")
	}

	cols := utils.NewKeySet(false)
	platforms := utils.NewKeySet(false)
	total := 0
	for _, src := range sources {
		if src == nil {
			continue
		}
		for _, c := range src.Columns {
			cols.Add(c)
		}
		total += src.Len()
	}

	out := &models.Dataset{Columns: cols.Values(), Records: make([]*models.AppRecord, 0, total)}
	for _, src := range sources {
		if src == nil {
			continue
		}
		for _, r := range src.Records {
			out.Records = append(out.Records, Project(r, out.Columns))
			platforms.Add(string(r.Platform))
		}
	}

	if platforms.Len() < 2 {
		u.logger.Warn().Strs("platforms", platforms.Values()).Msg("Unified dataset covers fewer than two platforms")
	}
	u.logger.Info().
		Int("sources", len(sources)).
		Int("records", len(out.Records)).
		Strs("columns", out.Columns).
		Msg("Unified datasets")
	return out, nil
}

// Project copies a record keeping only the fields named by columns. Fields
// outside the schema become the null sentinel.
func Project(r *models.AppRecord, columns []string) *models.AppRecord {
	keep := make(map[string]bool, len(columns))
	for _, c := range columns {
		keep[c] = true
	}
	out := &models.AppRecord{Name: r.Name, Platform: r.Platform}
	if keep[models.ColCategory] {
		out.Category = r.Category
	}
	if keep[models.ColRating] {
		out.Rating = r.Rating
	}
	if keep[models.ColReviews] {
		out.Reviews = r.Reviews
	}
	if keep[models.ColPrice] {
		out.Price = r.Price
	}
	if keep[models.ColInstalls] {
		out.Installs = r.Installs
	}
	if keep[models.ColAppID] {
		out.ExternalID = r.ExternalID
	}
	if keep[models.ColURL] {
		out.URL = r.URL
	}
	if keep[models.ColContentRating] {
		out.ContentRating = r.ContentRating
	}
	if keep[models.ColLastUpdated] {
		out.LastUpdated = r.LastUpdated
	}
	return out
}

// Subset returns the dataset restricted to columns.
func Subset(ds *models.Dataset, columns []string) *models.Dataset {
	out := &models.Dataset{Columns: append([]string(nil), columns...), Records: make([]*models.AppRecord, 0, ds.Len())}
	for _, r := range ds.Records {
		out.Records = append(out.Records, Project(r, columns))
	}
	return out
}

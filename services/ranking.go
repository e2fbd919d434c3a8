package services

import (
	"sort"

	"ai-market-intelligence/models"
)

// SelectTop returns up to n records ordered by installs, highest first.
// Ties keep input order and records without an install count sort last.
func SelectTop(records []*models.AppRecord, n int) []*models.AppRecord {
	sorted := make([]*models.AppRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i].Installs, sorted[j].Installs
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		}
		return *a > *b
	})
	if n >= 0 && len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

// Names extracts record names in order.
func Names(records []*models.AppRecord) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.Name
	}
	return out
}

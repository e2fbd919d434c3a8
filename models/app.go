package models

import "time"

// Platform identifies the marketplace a record came from.
type Platform string

const (
	PlatformAndroid Platform = "Android"
	PlatformIOS     Platform = "iOS"
)

// Canonical dataset columns, in unified order.
const (
	ColApp      = "App"
	ColCategory = "Category"
	ColRating   = "Rating"
	ColReviews  = "Reviews"
	ColPrice    = "Price"
	ColInstalls = "Installs"
	ColPlatform = "Platform"
	ColAppID    = "App_ID"
	ColURL      = "URL"

	ColContentRating = "Content Rating"
	ColLastUpdated   = "Last Updated"
)

// RawRecord holds one unprocessed row from a source export, keyed by header.
// It lives only for the duration of a normalization pass.
type RawRecord map[string]string

// AppRecord is the cleaned, canonical record shared by every stage after
// normalization. Optional fields are nil when the source does not carry them.
type AppRecord struct {
	Name       string
	Category   string
	Rating     *float64
	Reviews    int64
	Price      float64
	Installs   *int64
	Platform   Platform
	ExternalID *string
	URL        *string

	ContentRating string
	LastUpdated   *time.Time
}

// Dataset is an ordered record sequence plus the column schema it was
// produced under. Columns a record does not carry serialize as empty cells.
type Dataset struct {
	Columns []string
	Records []*AppRecord
}

// Len returns the number of records.
func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Records)
}

// AndroidColumns is the schema of the cleaned marketplace export.
var AndroidColumns = []string{
	ColApp, ColCategory, ColRating, ColReviews, ColPrice, ColInstalls, ColPlatform,
	ColContentRating, ColLastUpdated,
}

// SubsetColumns is the slice of the Android schema carried into the unified dataset.
var SubsetColumns = []string{
	ColApp, ColCategory, ColRating, ColReviews, ColPrice, ColInstalls, ColPlatform,
}

// CatalogColumns is the schema of records produced by the catalog fetcher.
var CatalogColumns = []string{
	ColApp, ColCategory, ColRating, ColReviews, ColPrice, ColInstalls, ColPlatform,
	ColAppID, ColURL,
}

// Float64Ptr and the helpers below build optional values.
func Float64Ptr(v float64) *float64 { return &v }

func Int64Ptr(v int64) *int64 { return &v }

func StringPtr(v string) *string { return &v }

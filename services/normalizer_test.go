package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ai-market-intelligence/config"
	"ai-market-intelligence/models"
	"ai-market-intelligence/utils"
)

func newTestNormalizer() *Normalizer {
	return NewNormalizer(config.NewDefaultConfig().Normalizer, models.PlatformAndroid, utils.NewTestLogger())
}

func rawRow(name, category, rating, reviews, installs, price string) models.RawRecord {
	return models.RawRecord{
		models.ColApp:           name,
		models.ColCategory:      category,
		models.ColRating:        rating,
		models.ColReviews:       reviews,
		models.ColInstalls:      installs,
		models.ColPrice:         price,
		models.ColContentRating: "Everyone",
		models.ColLastUpdated:   "January 7, 2018",
	}
}

func TestParseCount(t *testing.T) {
	tests := []struct {
		raw    string
		want   int64
		wantOK bool
	}{
		{"10,000+", 10000, true},
		{"1,000,000,000+", 1000000000, true},
		{"0", 0, true},
		{"159", 159, true},
		{"100.0", 100, true},
		{"3.0M", 0, false},
		{"Free", 0, false},
		{"", 0, false},
		{"-5", 0, false},
	}

	for _, tt := range tests {
		got, ok := parseCount(tt.raw)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("parseCount(%q) = %d, %v; want %d, %v", tt.raw, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestParsePrice(t *testing.T) {
	tests := []struct {
		raw  string
		want float64
	}{
		{"0", 0},
		{"$4.99", 4.99},
		{"$1,299.00", 1299},
		{"Everyone", 0},
		{"", 0},
	}

	for _, tt := range tests {
		got := parsePrice(tt.raw)
		if got != tt.want {
			t.Errorf("parsePrice(%q) = %.2f; want %.2f", tt.raw, got, tt.want)
		}
	}
}

func TestParseRating(t *testing.T) {
	tests := []struct {
		raw   string
		want  float64
		isNil bool
	}{
		{"4.1", 4.1, false},
		{"5", 5, false},
		{"NaN", 0, true},
		{"", 0, true},
		{"19", 0, true},
	}

	for _, tt := range tests {
		got := parseRating(tt.raw)
		if tt.isNil {
			if got != nil {
				t.Errorf("parseRating(%q) = %v; want nil", tt.raw, *got)
			}
			continue
		}
		if got == nil || *got != tt.want {
			t.Errorf("parseRating(%q) = %v; want %.2f", tt.raw, got, tt.want)
		}
	}
}

func TestNormalizeSentinelDuplicateAndBadInstalls(t *testing.T) {
	raw := []models.RawRecord{
		rawRow("Photo Editor", "ART_AND_DESIGN", "4.1", "159", "10,000+", "0"),
		rawRow("Life Made WI-Fi Touchscreen Photo Frame", "1.9", "19", "3.0M", "Free", "Everyone"),
		rawRow("Photo Editor", "ART_AND_DESIGN", "4.1", "159", "10,000+", "0"),
		rawRow("Coloring book", "ART_AND_DESIGN", "3.9", "967", "lots", "0"),
		rawRow("Sketch", "ART_AND_DESIGN", "4.5", "215644", "50,000,000+", "$2.99"),
	}

	res := newTestNormalizer().Normalize(raw)

	require.Len(t, res.Records, len(raw)-3)
	assert.Equal(t, 1, res.Duplicates)
	assert.Len(t, res.Dropped, 2)
	assert.Equal(t, len(raw)-res.Duplicates, len(res.Records)+len(res.Dropped))

	counts := res.DropCounts()
	assert.Equal(t, 1, counts[models.DropSentinelCategory])
	assert.Equal(t, 1, counts[models.DropBadInstalls])

	sketch := res.Records[1]
	assert.Equal(t, "Sketch", sketch.Name)
	assert.Equal(t, int64(50000000), *sketch.Installs)
	assert.Equal(t, 2.99, sketch.Price)
	assert.Equal(t, models.PlatformAndroid, sketch.Platform)
	require.NotNil(t, sketch.LastUpdated)
	assert.Equal(t, time.Date(2018, time.January, 7, 0, 0, 0, 0, time.UTC), *sketch.LastUpdated)
}

func TestNormalizeOutputHasNoDuplicateNames(t *testing.T) {
	raw := []models.RawRecord{
		rawRow("A", "GAME", "4", "1", "1+", "0"),
		rawRow("A ", "TOOLS", "3", "2", "2+", "0"),
		rawRow("B", "GAME", "4", "1", "1+", "0"),
		rawRow("B", "GAME", "4", "1", "1+", "0"),
	}

	res := newTestNormalizer().Normalize(raw)

	names := map[string]bool{}
	for _, r := range res.Records {
		assert.False(t, names[r.Name], "duplicate %s", r.Name)
		names[r.Name] = true
	}
	assert.Len(t, res.Records, 2)
	assert.Equal(t, "GAME", res.Records[0].Category, "keep-first")
}

func TestNormalizeImputesCategoryMeanThenGlobalMean(t *testing.T) {
	raw := []models.RawRecord{
		rawRow("G1", "GAME", "4.0", "10", "100+", "0"),
		rawRow("G2", "GAME", "4.5", "10", "100+", "0"),
		rawRow("G3", "GAME", "", "10", "100+", "0"),
		rawRow("T1", "TOOLS", "3.0", "10", "100+", "0"),
		rawRow("E1", "EDUCATION", "NaN", "10", "100+", "0"),
	}

	res := newTestNormalizer().Normalize(raw)
	require.Len(t, res.Records, 5)

	byName := map[string]*models.AppRecord{}
	for _, r := range res.Records {
		byName[r.Name] = r
	}
	assert.Equal(t, 4.25, *byName["G3"].Rating, "category mean")
	assert.Equal(t, 3.83, *byName["E1"].Rating, "global mean rounded to two decimals")
	assert.Equal(t, 2, res.Imputed)
}

func TestNormalizeDropsUnparsableDatesAndMissingFields(t *testing.T) {
	badDate := rawRow("Old", "GAME", "4", "1", "1+", "0")
	badDate[models.ColLastUpdated] = "sometime"
	noContent := rawRow("NoContent", "GAME", "4", "1", "1+", "0")
	noContent[models.ColContentRating] = ""
	noCategory := rawRow("NoCategory", "", "4", "1", "1+", "0")
	badReviews := rawRow("BadReviews", "GAME", "4", "many", "1+", "0")

	res := newTestNormalizer().Normalize([]models.RawRecord{badDate, noContent, noCategory, badReviews})

	assert.Empty(t, res.Records)
	counts := res.DropCounts()
	assert.Equal(t, 1, counts[models.DropBadLastUpdated])
	assert.Equal(t, 1, counts[models.DropMissingContent])
	assert.Equal(t, 1, counts[models.DropMissingCategory])
	assert.Equal(t, 1, counts[models.DropBadReviews])
}

func TestNormalizeEmptyBatch(t *testing.T) {
	res := newTestNormalizer().Normalize(nil)
	assert.Empty(t, res.Records)
	assert.Zero(t, res.InputRows)
}

func TestNormalizeDedupeKey(t *testing.T) {
	raw := []models.RawRecord{
		rawRow("Photo  Editor", "ART_AND_DESIGN", "4.1", "159", "10,000+", "0"),
		rawRow("Photo Editor", "TOOLS", "4.0", "10", "100+", "0"),
		rawRow("photo editor", "TOOLS", "4.0", "10", "100+", "0"),
	}

	res := newTestNormalizer().Normalize(raw)

	require.Len(t, res.Records, 2)
	assert.Equal(t, 1, res.Duplicates, "whitespace variants collapse to one name")
	assert.Equal(t, "Photo Editor", res.Records[0].Name)
	assert.Equal(t, "ART_AND_DESIGN", res.Records[0].Category)
	assert.Equal(t, "photo editor", res.Records[1].Name, "case is significant")
}

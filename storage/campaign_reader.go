package storage

import (
	"fmt"
	"math"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"ai-market-intelligence/models"
)

// Campaign source columns.
const (
	colCampaignID    = "campaign_id"
	colChannel       = "channel"
	colSpend         = "spend_usd"
	colRevenue       = "revenue_usd"
	colFirstPurchase = "first_purchase"
	colAvgPosition   = "avg_position"
	colSearchVolume  = "monthly_search_volume"
	colSEOCategory   = "seo_category"
)

var campaignColumns = []string{
	colCampaignID, colChannel, colSpend, colRevenue, colFirstPurchase,
	colAvgPosition, colSearchVolume, colSEOCategory,
}

const campaignHint = "place the campaign spreadsheet there or set paths.campaign_source"

// ReadCampaigns loads campaign rows from an .xlsx workbook (first sheet) or
// a CSV file, chosen by extension.
func ReadCampaigns(path string) ([]*models.Campaign, error) {
	var (
		header []string
		rows   [][]string
		err    error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		header, rows, err = readWorkbook(path)
	default:
		header, rows, err = readCampaignCSV(path)
	}
	if err != nil {
		return nil, err
	}
	return parseCampaigns(path, header, rows)
}

func readWorkbook(path string) ([]string, [][]string, error) {
	// Probe first so a missing workbook maps to InputNotFoundError.
	probe, err := openInput("campaigns", path, campaignHint)
	if err != nil {
		return nil, nil, err
	}
	_ = probe.Close()

	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("campaigns: open workbook %q: %w", path, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil, fmt.Errorf("campaigns: workbook %q has no sheets", path)
	}
	all, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, nil, fmt.Errorf("campaigns: read sheet %q: %w", sheets[0], err)
	}
	if len(all) == 0 {
		return nil, nil, nil
	}
	return all[0], all[1:], nil
}

func readCampaignCSV(path string) ([]string, [][]string, error) {
	f, err := openInput("campaigns", path, campaignHint)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	header, rows, err := readTable(f)
	if err != nil {
		return nil, nil, fmt.Errorf("campaigns: %q: %w", path, err)
	}
	return header, rows, nil
}

func parseCampaigns(path string, header []string, rows [][]string) ([]*models.Campaign, error) {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	var missing []string
	for _, c := range campaignColumns {
		if _, ok := idx[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("campaigns: %q missing columns %s", path, strings.Join(missing, ", "))
	}

	out := make([]*models.Campaign, 0, len(rows))
	for n, row := range rows {
		cell := func(col string) string {
			i := idx[col]
			if i >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[i])
		}
		if isBlankRow(row) {
			continue
		}

		c := &models.Campaign{
			CampaignID:  cell(colCampaignID),
			Channel:     cell(colChannel),
			SEOCategory: cell(colSEOCategory),
		}
		var err error
		for _, f := range []struct {
			col string
			dst *float64
		}{
			{colSpend, &c.SpendUSD},
			{colRevenue, &c.RevenueUSD},
			{colFirstPurchase, &c.FirstPurchase},
			{colAvgPosition, &c.AvgPosition},
		} {
			if *f.dst, err = parseNumber(cell(f.col)); err != nil {
				return nil, fmt.Errorf("campaigns: %q row %d column %s: %w", path, n+2, f.col, err)
			}
		}
		volume, err := parseNumber(cell(colSearchVolume))
		if err != nil {
			return nil, fmt.Errorf("campaigns: %q row %d column %s: %w", path, n+2, colSearchVolume, err)
		}
		c.MonthlySearchVolume = int64(volume)

		out = append(out, c)
	}
	return out, nil
}

// parseNumber reads a numeric cell; empty cells are zero. NaN and
// infinities are rejected.
func parseNumber(v string) (float64, error) {
	v = strings.NewReplacer(",", "", "$", "").Replace(v)
	if v == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("non-finite value %q", v)
	}
	return f, nil
}

func isBlankRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

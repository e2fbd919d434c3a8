package storage

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"ai-market-intelligence/models"
)

// openInput opens a stage input, mapping a missing file to
// InputNotFoundError.
func openInput(stage, path, hint string) (*os.File, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &models.InputNotFoundError{Stage: stage, Path: path, Hint: hint}
	}
	if err != nil {
		return nil, fmt.Errorf("%s: open %q: %w", stage, path, err)
	}
	return f, nil
}

// readTable returns the header and rows of a CSV stream. Short rows are
// padded and a UTF-8 byte order mark is dropped from the first header.
func readTable(r io.Reader) ([]string, [][]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	var rows [][]string
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read row %d: %w", len(rows)+1, err)
		}
		for len(row) < len(header) {
			row = append(row, "")
		}
		rows = append(rows, row)
	}
	return header, rows, nil
}

// ReadRaw loads a marketplace export as header-keyed raw rows.
func ReadRaw(path string) ([]models.RawRecord, error) {
	f, err := openInput("clean", path, "place the marketplace export there or set paths.raw_export")
	if err != nil {
		return nil, err
	}
	defer f.Close()

	header, rows, err := readTable(f)
	if err != nil {
		return nil, fmt.Errorf("clean: %q: %w", path, err)
	}

	out := make([]models.RawRecord, 0, len(rows))
	for _, row := range rows {
		rec := make(models.RawRecord, len(header))
		for i, col := range header {
			rec[col] = row[i]
		}
		out = append(out, rec)
	}
	return out, nil
}

// ReadDataset loads a dataset written by WriteDataset. stage and hint are
// used when the file is missing.
func ReadDataset(stage, path, hint string) (*models.Dataset, error) {
	f, err := openInput(stage, path, hint)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	header, rows, err := readTable(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %q: %w", stage, path, err)
	}

	ds := &models.Dataset{Columns: header, Records: make([]*models.AppRecord, 0, len(rows))}
	for i, row := range rows {
		r := &models.AppRecord{}
		for j, col := range header {
			if err := parseCell(r, col, strings.TrimSpace(row[j])); err != nil {
				return nil, fmt.Errorf("%s: %q row %d column %q: %w", stage, path, i+1, col, err)
			}
		}
		ds.Records = append(ds.Records, r)
	}
	return ds, nil
}

func parseCell(r *models.AppRecord, column, v string) error {
	switch column {
	case models.ColApp:
		r.Name = v
	case models.ColCategory:
		r.Category = v
	case models.ColRating:
		if v == "" {
			return nil
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		r.Rating = &f
	case models.ColReviews:
		if v == "" {
			return nil
		}
		n, err := parseWhole(v)
		if err != nil {
			return err
		}
		r.Reviews = n
	case models.ColPrice:
		if v == "" {
			return nil
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		r.Price = f
	case models.ColInstalls:
		if v == "" {
			return nil
		}
		n, err := parseWhole(v)
		if err != nil {
			return err
		}
		r.Installs = &n
	case models.ColPlatform:
		r.Platform = models.Platform(v)
	case models.ColAppID:
		if v != "" {
			r.ExternalID = &v
		}
	case models.ColURL:
		if v != "" {
			r.URL = &v
		}
	case models.ColContentRating:
		r.ContentRating = v
	case models.ColLastUpdated:
		if v == "" {
			return nil
		}
		t, err := time.Parse(DateLayout, v)
		if err != nil {
			return err
		}
		r.LastUpdated = &t
	}
	return nil
}

// parseWhole accepts integers and integral floats such as "1000.0".
func parseWhole(v string) (int64, error) {
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, err
	}
	if f != float64(int64(f)) {
		return 0, fmt.Errorf("%q is not a whole number", v)
	}
	return int64(f), nil
}

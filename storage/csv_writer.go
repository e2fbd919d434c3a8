package storage

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"ai-market-intelligence/models"
)

// DateLayout is how Last Updated is written to dataset files.
const DateLayout = "2006-01-02"

// CSVWriter writes a dataset to a CSV file under its column schema.
// A CSVWriter has a single owner.
type CSVWriter struct {
	file    *os.File
	writer  *csv.Writer
	columns []string
}

// NewCSVWriter creates (or truncates) the CSV file at the given path and
// writes the header row. Intermediate directories are created automatically.
func NewCSVWriter(path string, columns []string) (*CSVWriter, error) {
	if err := ensureDir(path); err != nil {
		return nil, fmt.Errorf("csv: create output dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("csv: create file %q: %w", path, err)
	}

	w := csv.NewWriter(f)
	if err := w.Write(columns); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("csv: write header: %w", err)
	}
	w.Flush()

	return &CSVWriter{file: f, writer: w, columns: columns}, nil
}

// Write appends records as rows in column order.
func (c *CSVWriter) Write(records []*models.AppRecord) error {
	for _, r := range records {
		row := make([]string, len(c.columns))
		for i, col := range c.columns {
			row[i] = FormatCell(r, col)
		}
		if err := c.writer.Write(row); err != nil {
			return fmt.Errorf("csv: write row: %w", err)
		}
	}

	c.writer.Flush()
	return c.writer.Error()
}

// Close flushes and closes the underlying file.
func (c *CSVWriter) Close() error {
	c.writer.Flush()
	return c.file.Close()
}

// WriteDataset writes ds to path in one pass.
func WriteDataset(path string, ds *models.Dataset) error {
	w, err := NewCSVWriter(path, ds.Columns)
	if err != nil {
		return err
	}
	if err := w.Write(ds.Records); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

// FormatCell renders one field of r. Absent optional values are empty.
func FormatCell(r *models.AppRecord, column string) string {
	switch column {
	case models.ColApp:
		return r.Name
	case models.ColCategory:
		return r.Category
	case models.ColRating:
		if r.Rating == nil {
			return ""
		}
		return strconv.FormatFloat(*r.Rating, 'f', -1, 64)
	case models.ColReviews:
		return strconv.FormatInt(r.Reviews, 10)
	case models.ColPrice:
		return strconv.FormatFloat(r.Price, 'f', -1, 64)
	case models.ColInstalls:
		if r.Installs == nil {
			return ""
		}
		return strconv.FormatInt(*r.Installs, 10)
	case models.ColPlatform:
		return string(r.Platform)
	case models.ColAppID:
		return deref(r.ExternalID)
	case models.ColURL:
		return deref(r.URL)
	case models.ColContentRating:
		return r.ContentRating
	case models.ColLastUpdated:
		if r.LastUpdated == nil {
			return ""
		}
		return r.LastUpdated.Format(DateLayout)
	}
	return ""
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0755)
}

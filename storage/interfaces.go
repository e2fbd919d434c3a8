package storage

import (
	"context"

	"ai-market-intelligence/models"
)

// DatasetSink is the interface any external backend for unified datasets
// must satisfy.
type DatasetSink interface {
	Write(ctx context.Context, runID string, ds *models.Dataset) error
	Close() error
}

// CheckpointStorage persists terminal fetch attempts across runs.
type CheckpointStorage interface {
	Load(scope, query string) (*models.FetchAttempt, bool, error)
	Save(scope string, attempt *models.FetchAttempt) error
	ClearScope(scope string) (int, error)
	Close() error
}

var (
	_ DatasetSink       = (*PostgresWriter)(nil)
	_ CheckpointStorage = (*CheckpointStore)(nil)
)

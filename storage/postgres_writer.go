package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/ternarybob/arbor"

	"ai-market-intelligence/models"
	"ai-market-intelligence/utils"
)

const appRecordColumns = 11

// PostgresWriter persists unified datasets to PostgreSQL. Each run is
// tagged with its run id; earlier runs are kept.
type PostgresWriter struct {
	db        *sql.DB
	batchSize int
	logger    arbor.ILogger
}

// NewPostgresWriter opens a connection to PostgreSQL, waits for it to
// accept pings, runs schema migrations, and returns a ready-to-use writer.
func NewPostgresWriter(ctx context.Context, dsn string, batchSize int, logger arbor.ILogger) (*PostgresWriter, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	retry := &utils.RetryConfig{
		MaxAttempts: 10,
		Backoff:     utils.ExponentialBackoff{Base: 2 * time.Second, Max: 2 * time.Second},
		Logger:      logger,
	}
	pw, err := newPostgresWriter(ctx, db, batchSize, logger, retry)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return pw, nil
}

func newPostgresWriter(ctx context.Context, db *sql.DB, batchSize int, logger arbor.ILogger, retry *utils.RetryConfig) (*PostgresWriter, error) {
	if err := retry.Do(ctx, "postgres ping", db.PingContext); err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	if batchSize < 1 {
		batchSize = 50
	}

	pw := &PostgresWriter{db: db, batchSize: batchSize, logger: logger}
	if err := pw.migrate(ctx); err != nil {
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}
	return pw, nil
}

func (pw *PostgresWriter) migrate(ctx context.Context) error {
	_, err := pw.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS app_records (
			id          BIGSERIAL PRIMARY KEY,
			run_id      UUID          NOT NULL,
			platform    VARCHAR(20)   NOT NULL,
			name        TEXT          NOT NULL,
			category    TEXT          NOT NULL DEFAULT '',
			rating      NUMERIC(3,2),
			reviews     BIGINT        NOT NULL DEFAULT 0,
			price       NUMERIC(10,2) NOT NULL DEFAULT 0,
			installs    BIGINT,
			external_id TEXT,
			url         TEXT,
			position    INTEGER       NOT NULL,
			created_at  TIMESTAMPTZ   NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_app_records_run      ON app_records(run_id);
		CREATE INDEX IF NOT EXISTS idx_app_records_platform ON app_records(platform);
		CREATE INDEX IF NOT EXISTS idx_app_records_name     ON app_records(lower(name));
	`)
	return err
}

// Write inserts the dataset under runID in batches inside one transaction.
func (pw *PostgresWriter) Write(ctx context.Context, runID string, ds *models.Dataset) error {
	if ds.Len() == 0 {
		return nil
	}

	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}

	for i := 0; i < len(ds.Records); i += pw.batchSize {
		end := i + pw.batchSize
		if end > len(ds.Records) {
			end = len(ds.Records)
		}
		if err := insertBatch(ctx, tx, runID, i, ds.Records[i:end]); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("postgres: insert rows %d-%d: %w", i, end-1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}

	pw.logger.Info().
		Str("run_id", runID).
		Int("records", ds.Len()).
		Msg("Unified dataset written to postgres")
	return nil
}

func insertBatch(ctx context.Context, tx *sql.Tx, runID string, offset int, batch []*models.AppRecord) error {
	valueStrings := make([]string, 0, len(batch))
	valueArgs := make([]interface{}, 0, len(batch)*appRecordColumns)

	for idx, r := range batch {
		base := idx * appRecordColumns
		placeholders := make([]string, appRecordColumns)
		for j := range placeholders {
			placeholders[j] = fmt.Sprintf("$%d", base+j+1)
		}
		valueStrings = append(valueStrings, "("+strings.Join(placeholders, ",")+")")
		valueArgs = append(valueArgs,
			runID, string(r.Platform), r.Name, r.Category, r.Rating, r.Reviews,
			r.Price, r.Installs, r.ExternalID, r.URL, offset+idx)
	}

	query := fmt.Sprintf(`
		INSERT INTO app_records (run_id, platform, name, category, rating, reviews, price, installs, external_id, url, position)
		VALUES %s
	`, strings.Join(valueStrings, ","))

	_, err := tx.ExecContext(ctx, query, valueArgs...)
	return err
}

// CountRun returns how many records were stored for runID.
func (pw *PostgresWriter) CountRun(ctx context.Context, runID string) (int, error) {
	var n int
	if err := pw.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM app_records WHERE run_id = $1`, runID).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count run: %w", err)
	}
	return n, nil
}

func (pw *PostgresWriter) Close() error {
	return pw.db.Close()
}

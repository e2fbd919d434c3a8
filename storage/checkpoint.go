package storage

import (
	"fmt"
	"os"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"ai-market-intelligence/models"
)

// checkpointEntry is one persisted terminal fetch attempt.
type checkpointEntry struct {
	Key     string `badgerhold:"key"`
	Scope   string `badgerhold:"index"`
	Attempt models.FetchAttempt
	SavedAt time.Time
}

func checkpointKey(scope, query string) string {
	return scope + "\x00" + query
}

// CheckpointStore persists terminal fetch attempts in Badger so that an
// interrupted fetch resumes instead of restarting.
type CheckpointStore struct {
	store  *badgerhold.Store
	logger arbor.ILogger
}

// OpenCheckpointStore opens (or creates) the store in dir.
func OpenCheckpointStore(dir string, logger arbor.ILogger) (*CheckpointStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("checkpoint: create dir: %w", err)
	}

	logger.Debug().Str("path", dir).Msg("Opening checkpoint store")

	options := badgerhold.DefaultOptions
	options.Dir = dir
	options.ValueDir = dir
	options.Logger = nil

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: open %q: %w", dir, err)
	}
	return &CheckpointStore{store: store, logger: logger}, nil
}

// Load returns the stored attempt for query in scope, if any.
func (c *CheckpointStore) Load(scope, query string) (*models.FetchAttempt, bool, error) {
	var e checkpointEntry
	err := c.store.Get(checkpointKey(scope, query), &e)
	if err == badgerhold.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("checkpoint: load %q: %w", query, err)
	}
	return &e.Attempt, true, nil
}

// Save stores a terminal attempt. Non-terminal attempts are ignored.
func (c *CheckpointStore) Save(scope string, attempt *models.FetchAttempt) error {
	if !attempt.Status.Terminal() {
		return nil
	}
	e := &checkpointEntry{
		Key:     checkpointKey(scope, attempt.Query),
		Scope:   scope,
		Attempt: *attempt,
		SavedAt: time.Now().UTC(),
	}
	e.Attempt.Resumed = false
	if err := c.store.Upsert(e.Key, e); err != nil {
		return fmt.Errorf("checkpoint: save %q: %w", attempt.Query, err)
	}
	return nil
}

// Count returns how many attempts are stored for scope.
func (c *CheckpointStore) Count(scope string) (int, error) {
	n, err := c.store.Count(&checkpointEntry{}, badgerhold.Where("Scope").Eq(scope))
	if err != nil {
		return 0, fmt.Errorf("checkpoint: count: %w", err)
	}
	return int(n), nil
}

// ClearScope removes every stored attempt for scope and returns how many
// were removed.
func (c *CheckpointStore) ClearScope(scope string) (int, error) {
	n, err := c.Count(scope)
	if err != nil {
		return 0, err
	}
	if err := c.store.DeleteMatching(&checkpointEntry{}, badgerhold.Where("Scope").Eq(scope)); err != nil {
		return 0, fmt.Errorf("checkpoint: clear %q: %w", scope, err)
	}
	c.logger.Info().Str("scope", scope).Int("removed", n).Msg("Cleared fetch checkpoints")
	return n, nil
}

func (c *CheckpointStore) Close() error {
	if c.store != nil {
		return c.store.Close()
	}
	return nil
}

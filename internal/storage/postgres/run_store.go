// Package postgres provides the Postgres-backed run ledger.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/docscrape/internal/store"
)

// Config controls the Postgres connection pool used by the run ledger.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS scrape_runs (
	id            uuid PRIMARY KEY,
	started_at    timestamptz NOT NULL,
	finished_at   timestamptz,
	status        text NOT NULL,
	workers       integer NOT NULL DEFAULT 0,
	processed     bigint NOT NULL DEFAULT 0,
	errors        bigint NOT NULL DEFAULT 0,
	records       bigint NOT NULL DEFAULT 0,
	error_message text
);
CREATE TABLE IF NOT EXISTS scrape_item_errors (
	run_id uuid NOT NULL REFERENCES scrape_runs (id),
	item   text NOT NULL,
	kind   text NOT NULL,
	at     timestamptz NOT NULL
);`

// RunStore implements store.RunRepository using Postgres.
type RunStore struct {
	pool execCloser
}

var _ store.RunRepository = (*RunStore)(nil)

// NewRunStore connects to Postgres and ensures the ledger tables exist.
func NewRunStore(ctx context.Context, cfg Config) (*RunStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := &RunStore{pool: pool}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewRunStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRunStoreWithPool(pool execCloser) (*RunStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &RunStore{pool: pool}, nil
}

// EnsureSchema creates the ledger tables when they are missing.
func (s *RunStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create run ledger schema: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *RunStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// UpsertRunStart inserts the run row or resets it to running.
func (s *RunStore) UpsertRunStart(ctx context.Context, runID uuid.UUID, startedAt time.Time, workers int) error {
	query := `
		INSERT INTO scrape_runs (id, started_at, status, workers)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status, workers = EXCLUDED.workers;
	`
	if _, err := s.pool.Exec(ctx, query, runID, startedAt, string(store.RunRunning), workers); err != nil {
		return fmt.Errorf("upsert run start: %w", err)
	}
	return nil
}

// AddRunCounts increments the run counters.
func (s *RunStore) AddRunCounts(ctx context.Context, runID uuid.UUID, delta store.RunCounts) error {
	query := `
		UPDATE scrape_runs
		SET processed = processed + $1, errors = errors + $2, records = records + $3
		WHERE id = $4;
	`
	res, err := s.pool.Exec(ctx, query, delta.Processed, delta.Errors, delta.Records, runID)
	if err != nil {
		return fmt.Errorf("add run counts: %w", err)
	}
	if res.RowsAffected() == 0 {
		return fmt.Errorf("add run counts %s: %w", runID, store.ErrNotFound)
	}
	return nil
}

// RecordItemError inserts one failed item.
func (s *RunStore) RecordItemError(ctx context.Context, item store.ItemError) error {
	query := `
		INSERT INTO scrape_item_errors (run_id, item, kind, at)
		VALUES ($1, $2, $3, $4);
	`
	if _, err := s.pool.Exec(ctx, query, item.RunID, item.Item, item.Kind, item.At); err != nil {
		return fmt.Errorf("insert item error: %w", err)
	}
	return nil
}

// CompleteRun marks a run as finished with a status and optional error message.
func (s *RunStore) CompleteRun(
	ctx context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	errMsg *string,
) error {
	query := `
		UPDATE scrape_runs
		SET finished_at = $1, status = $2, error_message = $3
		WHERE id = $4;
	`
	if _, err := s.pool.Exec(ctx, query, finishedAt, string(status), errMsg, runID); err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	return nil
}

// GetRun retrieves a single run by its ID.
func (s *RunStore) GetRun(ctx context.Context, runID uuid.UUID) (store.Run, error) {
	query := `
		SELECT id, started_at, finished_at, status, workers, processed, errors, records, error_message
		FROM scrape_runs
		WHERE id = $1;
	`
	var (
		run    store.Run
		status string
	)
	err := s.pool.QueryRow(ctx, query, runID).Scan(
		&run.ID,
		&run.StartedAt,
		&run.FinishedAt,
		&status,
		&run.Workers,
		&run.Processed,
		&run.Errors,
		&run.Records,
		&run.ErrorMessage,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Run{}, store.ErrNotFound
		}
		return store.Run{}, fmt.Errorf("get run: %w", err)
	}
	run.Status = store.RunStatus(status)
	return run, nil
}

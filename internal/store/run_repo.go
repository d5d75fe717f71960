package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("run record not found")

// RunStatus mirrors the scrape_runs status column.
type RunStatus string

// Run statuses persisted in scrape_runs.status.
const (
	RunRunning     RunStatus = "running"
	RunSuccess     RunStatus = "success"
	RunError       RunStatus = "error"
	RunInterrupted RunStatus = "interrupted"
)

// Run models the scrape_runs table for API responses.
type Run struct {
	ID         uuid.UUID  `json:"id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Status     RunStatus  `json:"status"`
	// Workers is the pool size the run started with.
	Workers   int   `json:"workers"`
	Processed int64 `json:"processed"`
	Errors    int64 `json:"errors"`
	Records   int64 `json:"records"`
	// ErrorMessage optionally stores the abort reason.
	ErrorMessage *string `json:"error_message,omitempty"`
}

// ItemError is one failed document of a run.
type ItemError struct {
	RunID uuid.UUID
	Item  string
	Kind  string
	At    time.Time
}

// RunCounts is a delta applied to a run's counters.
type RunCounts struct {
	Processed int64
	Errors    int64
	Records   int64
}

// RunRepository persists the run ledger.
type RunRepository interface {
	// UpsertRunStart inserts (or idempotently updates) the run row.
	UpsertRunStart(ctx context.Context, runID uuid.UUID, startedAt time.Time, workers int) error
	// AddRunCounts applies counter deltas to a run.
	AddRunCounts(ctx context.Context, runID uuid.UUID, delta RunCounts) error
	// RecordItemError stores one failed item.
	RecordItemError(ctx context.Context, item ItemError) error
	// CompleteRun marks the run finished with the provided status and error.
	CompleteRun(ctx context.Context, runID uuid.UUID, finishedAt time.Time, status RunStatus, errMsg *string) error
	// GetRun loads a single run or returns ErrNotFound.
	GetRun(ctx context.Context, runID uuid.UUID) (Run, error)
}

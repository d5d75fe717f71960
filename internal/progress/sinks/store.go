package sinks

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/docscrape/internal/progress"
	"github.com/JakeFAU/docscrape/internal/store"
)

// RunErrorInterrupted is the RUN_ERROR kind for a run stopped by a signal.
const RunErrorInterrupted = "interrupted"

// StoreSink persists progress into the run ledger. Item counters are
// collapsed per run so each batch costs one counter update.
type StoreSink struct {
	repo   store.RunRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.RunRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume writes run starts first, then item errors and counter deltas, and
// completions last so a run never finishes before its counts land.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	counts := make(map[uuid.UUID]*store.RunCounts)
	var finished []progress.Event

	for _, evt := range batch {
		runID := evt.RunUUID()
		switch evt.Stage {
		case progress.StageRunStart:
			if err := s.repo.UpsertRunStart(ctx, runID, evt.TS, evt.Workers); err != nil {
				return fmt.Errorf("upsert run start: %w", err)
			}
		case progress.StageItemDone:
			delta := deltaFor(counts, runID)
			delta.Processed++
			delta.Records += evt.Records
		case progress.StageItemError:
			delta := deltaFor(counts, runID)
			delta.Processed++
			delta.Errors++
			if err := s.repo.RecordItemError(ctx, store.ItemError{
				RunID: runID,
				Item:  evt.Item,
				Kind:  evt.ErrorKind,
				At:    evt.TS,
			}); err != nil {
				return fmt.Errorf("record item error: %w", err)
			}
		case progress.StageRunDone, progress.StageRunError:
			finished = append(finished, evt)
		}
	}

	for runID, delta := range counts {
		if err := s.repo.AddRunCounts(ctx, runID, *delta); err != nil {
			return fmt.Errorf("add run counts: %w", err)
		}
	}
	for _, evt := range finished {
		if err := s.completeRun(ctx, evt); err != nil {
			return err
		}
	}
	return nil
}

func (s *StoreSink) completeRun(ctx context.Context, evt progress.Event) error {
	status := store.RunSuccess
	var note *string
	if evt.Stage == progress.StageRunError {
		status = store.RunError
		if evt.ErrorKind == RunErrorInterrupted {
			status = store.RunInterrupted
		}
		if evt.Note != "" {
			note = &evt.Note
		}
	}
	if err := s.repo.CompleteRun(ctx, evt.RunUUID(), evt.TS, status, note); err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	s.logger.Debug("run completed in ledger", zap.Stringer("run_id", evt.RunUUID()), zap.String("status", string(status)))
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}

func deltaFor(counts map[uuid.UUID]*store.RunCounts, runID uuid.UUID) *store.RunCounts {
	delta := counts[runID]
	if delta == nil {
		delta = &store.RunCounts{}
		counts[runID] = delta
	}
	return delta
}

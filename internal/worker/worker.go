// Package worker implements the per-worker scraping runtime.
package worker

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/docscrape/internal/metrics"
	"github.com/JakeFAU/docscrape/internal/queue/memory"
	"github.com/JakeFAU/docscrape/internal/scrape"
)

// Dequeuer hands out work items until it is closed.
type Dequeuer interface {
	Dequeue(ctx context.Context) (scrape.WorkItem, error)
}

// Runtime owns one compiled scraper for the lifetime of a worker.
type Runtime struct {
	id      int
	scraper scrape.Scraper
	reader  scrape.ContentReader
	clock   scrape.Clock
	logger  *zap.Logger
}

// New compiles the scraper exactly once and binds it to a new runtime.
func New(
	id int,
	compile scrape.CompileFunc,
	reader scrape.ContentReader,
	clock scrape.Clock,
	logger *zap.Logger,
) (*Runtime, error) {
	if compile == nil {
		return nil, errors.New("worker: compile function is required")
	}
	if reader == nil {
		return nil, errors.New("worker: content reader is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s, err := compile()
	if err != nil {
		return nil, fmt.Errorf("compile scraper: %w", err)
	}
	metrics.ObserveCompilation()
	return &Runtime{
		id:      id,
		scraper: s,
		reader:  reader,
		clock:   clock,
		logger:  logger.With(zap.Int("worker", id)),
	}, nil
}

// Scraper exposes the compiled scraper.
func (r *Runtime) Scraper() scrape.Scraper { return r.scraper }

// Process turns one item into exactly one outcome. Records are fully
// materialized here; an error part-way through discards what was produced.
// Cancelling ctx halts the scraper and yields an outcome wrapping
// scrape.ErrInterrupted.
func (r *Runtime) Process(ctx context.Context, item scrape.WorkItem) scrape.Outcome {
	start := r.now()
	out := scrape.Outcome{Item: item}

	var text string
	if item.Content != nil {
		text = *item.Content
	} else {
		loaded, err := r.reader.Read(item.Path, item.Encoding)
		if err != nil {
			out.Err = err
			r.observe(out, 0, start)
			return out
		}
		text = loaded
	}

	ec := scrape.NewEvalContext(item)
	var seq iter.Seq2[scrape.Record, error]
	if item.Mode == scrape.ModeTabular {
		seq = r.scraper.TabularRows(ctx, text, ec, item.PluralSeparator)
	} else {
		seq = r.scraper.Records(ctx, text, ec)
	}
	records := make([]scrape.Record, 0, 1)
	for rec, err := range seq {
		if err != nil {
			out.Err = err
			r.observe(out, len(text), start)
			return out
		}
		records = append(records, rec)
	}
	out.Records = records
	r.observe(out, len(text), start)
	return out
}

func (r *Runtime) observe(out scrape.Outcome, size int, start time.Time) {
	result := "ok"
	if out.Err != nil {
		result = "error"
		if errors.Is(out.Err, scrape.ErrEval) || errors.Is(out.Err, scrape.ErrEvalType) ||
			errors.Is(out.Err, scrape.ErrEvalValueMissing) {
			r.logger.Warn("scraper evaluation failed",
				zap.String("item", out.Item.Label()), zap.Error(out.Err))
		}
	}
	metrics.ObserveItem(result, size, r.now().Sub(start))
}

func (r *Runtime) now() time.Time {
	if r.clock == nil {
		return time.Now()
	}
	return r.clock.Now()
}

func (r *Runtime) track(ctx context.Context, item scrape.WorkItem) scrape.Outcome {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()
	return r.Process(ctx, item)
}

// Run dequeues items until the queue is drained or ctx ends, sending one
// outcome per item. A panic is reported as scrape.ErrWorkerCrashed.
//
// ctx is the pool context and parent the run context it derives from. When
// ctx ends while parent is still live, the pool is being torn down after a
// failure rather than interrupted, and an outcome that already finished is
// still delivered; the consumer must keep receiving until out is closed.
// Callers without a separate run context pass ctx twice.
func (r *Runtime) Run(ctx, parent context.Context, queue Dequeuer, out chan<- scrape.Outcome) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("worker crashed", zap.Any("panic", rec), zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("worker %d: %w: %v", r.id, scrape.ErrWorkerCrashed, rec)
		}
	}()
	for {
		item, err := queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, memory.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("dequeue: %w", err)
		}
		outcome := r.track(ctx, item)

		select {
		case out <- outcome:
		case <-ctx.Done():
			if parent.Err() == nil && !errors.Is(outcome.Err, scrape.ErrInterrupted) {
				out <- outcome
			}
			return nil
		}
	}
}

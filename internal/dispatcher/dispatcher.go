// Package dispatcher fans work items out to a scoped pool of workers and
// streams their outcomes back in completion order.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"sync"

	"github.com/shirou/gopsutil/v4/cpu"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/docscrape/internal/queue/memory"
	"github.com/JakeFAU/docscrape/internal/scrape"
	"github.com/JakeFAU/docscrape/internal/worker"
)

// Config sizes the pool and its buffers.
type Config struct {
	Workers       int
	QueueDepth    int
	OutcomeBuffer int
}

// Factory builds the runtime for worker id.
type Factory func(id int) (*worker.Runtime, error)

// Handler consumes one outcome. Returning an error aborts the run.
type Handler func(scrape.Outcome) error

// Dispatcher runs a worker pool over a source.
type Dispatcher struct {
	cfg     Config
	factory Factory
	logger  *zap.Logger
}

// DefaultWorkers returns the number of logical CPUs.
func DefaultWorkers() int {
	if n, err := cpu.Counts(true); err == nil && n > 0 {
		return n
	}
	return runtime.NumCPU()
}

// New creates a Dispatcher. Zero config values fall back to defaults.
func New(cfg Config, factory Factory, logger *zap.Logger) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers()
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = cfg.Workers * 2
	}
	if cfg.OutcomeBuffer <= 0 {
		cfg.OutcomeBuffer = cfg.Workers
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{cfg: cfg, factory: factory, logger: logger}
}

// Workers reports the pool size.
func (d *Dispatcher) Workers() int { return d.cfg.Workers }

// Run feeds src to the pool and calls handle for every outcome on the
// calling goroutine. It returns only after every goroutine it started has
// exited.
//
// Cancelling ctx halts running scrapers, abandons pending outcomes and
// returns an error wrapping scrape.ErrInterrupted. A worker crash, a source
// failure, or a handler error stops the pool; outcomes already completed
// are still handled before the error is returned.
func (d *Dispatcher) Run(ctx context.Context, src scrape.Source, handle Handler) error {
	if d.factory == nil {
		return errors.New("dispatcher: worker factory is required")
	}
	poolCtx, cancelPool := context.WithCancel(ctx)
	defer cancelPool()

	g, gctx := errgroup.WithContext(poolCtx)
	queue := memory.NewQueue(d.cfg.QueueDepth)
	outcomes := make(chan scrape.Outcome, d.cfg.OutcomeBuffer)

	g.Go(func() error {
		defer queue.Close()
		return d.feed(gctx, src, queue)
	})

	var workers sync.WaitGroup
	for id := range d.cfg.Workers {
		workers.Add(1)
		g.Go(func() error {
			defer workers.Done()
			rt, err := d.factory(id)
			if err != nil {
				return fmt.Errorf("start worker %d: %w", id, err)
			}
			return rt.Run(gctx, ctx, queue, outcomes)
		})
	}
	g.Go(func() error {
		workers.Wait()
		close(outcomes)
		return nil
	})

	d.logger.Info("worker pool started", zap.Int("workers", d.cfg.Workers))

	var handleErr error
	for outcome := range outcomes {
		if handleErr != nil || ctx.Err() != nil {
			continue
		}
		if err := handle(outcome); err != nil {
			handleErr = err
			cancelPool()
		}
	}
	poolErr := g.Wait()

	switch {
	case ctx.Err() != nil:
		d.logger.Warn("worker pool interrupted")
		return fmt.Errorf("%w: %w", scrape.ErrInterrupted, context.Cause(ctx))
	case handleErr != nil:
		return handleErr
	case poolErr != nil:
		d.logger.Error("worker pool aborted", zap.Error(poolErr))
		return poolErr
	}
	d.logger.Info("worker pool finished")
	return nil
}

func (d *Dispatcher) feed(ctx context.Context, src scrape.Source, queue *memory.Queue) error {
	for {
		item, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read source: %w", err)
		}
		if err := queue.Enqueue(ctx, item); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("queue enqueue: %w", err)
		}
	}
}

// Package app wires the scrape pipeline together and drives one run from
// startup checks to the final summary.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/docscrape/internal/api"
	"github.com/JakeFAU/docscrape/internal/config"
	"github.com/JakeFAU/docscrape/internal/dispatcher"
	"github.com/JakeFAU/docscrape/internal/logging"
	"github.com/JakeFAU/docscrape/internal/progress"
	"github.com/JakeFAU/docscrape/internal/progress/sinks"
	"github.com/JakeFAU/docscrape/internal/scrape"
	"github.com/JakeFAU/docscrape/internal/sink"
	"github.com/JakeFAU/docscrape/internal/store"
)

// SummaryTopic is the event attribute attached to run summaries.
const SummaryTopic = "scrape.run.completed"

// Options carries the positional arguments and process streams of a run.
type Options struct {
	// Definition is a definition file or the name of a built-in scraper.
	Definition string
	// Report is the CSV report to read; ignored when a glob is configured.
	// Empty or "-" reads standard input.
	Report   string
	Validate bool

	Stdout io.Writer
	Stderr io.Writer
}

// RunSummary is published once a run ends.
type RunSummary struct {
	RunID      string    `json:"run_id"`
	Status     string    `json:"status"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Workers    int       `json:"workers"`
	Processed  int64     `json:"processed"`
	Errors     int64     `json:"errors"`
	Records    int64     `json:"records"`
	Output     string    `json:"output"`
	Error      string    `json:"error,omitempty"`
}

type publisher interface {
	scrape.Publisher
	Close() error
}

// App holds the components of a single run.
type App struct {
	cfg    config.Config
	opts   Options
	logger *zap.Logger

	runID     uuid.UUID
	clock     scrape.Clock
	source    scrape.Source
	tracker   *progress.Tracker
	hub       *progress.Hub
	registry  *prometheus.Registry
	sink      *sink.Sink
	dispatch  *dispatcher.Dispatcher
	publisher publisher
	repo      store.RunRepository
	apiServer *api.Server

	closers []func() error
}

// Run executes one scrape. Startup failures come back as *StartupError; an
// interrupted run wraps scrape.ErrInterrupted; anything else aborted the
// pool.
func Run(ctx context.Context, cfg config.Config, opts Options) error {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return &StartupError{Lines: []string{err.Error()}, Err: err}
	}
	defer func() { _ = logger.Sync() }()
	restore := zap.ReplaceGlobals(logger)
	defer restore()

	scraper, err := resolveScraper(opts.Definition, cfg.Scrape.Strain)
	if err != nil {
		return diagnose(err)
	}
	logger.Debug("scraper resolved", zap.String("definition", opts.Definition), zap.Bool("builtin", scraper.named))
	if opts.Validate {
		_, _ = fmt.Fprintln(opts.Stdout, "Your scraper is valid.")
		return nil
	}
	if cfg.Mode() == scrape.ModeTabular && len(scraper.fields) == 0 {
		return diagnose(scrape.ErrNotTabular)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := build(ctx, cfg, opts, scraper, logger)
	if err != nil {
		return err
	}
	return a.Run(ctx)
}

// build opens every component of a run. On error, whatever was already
// opened is released.
func build(ctx context.Context, cfg config.Config, opts Options, scraper resolved, logger *zap.Logger) (*App, error) {
	a := &App{
		cfg:    cfg,
		opts:   opts,
		logger: logger,
	}
	steps := []func(context.Context) error{
		a.setupRun,
		a.setupSource,
		a.setupTracker,
		a.setupDatabase,
		a.setupProgress,
		a.setupPublisher,
		a.setupSink(scraper),
		a.setupDispatcher(scraper),
		a.setupAPI,
	}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			a.closeInfrastructure(context.WithoutCancel(ctx))
			var startup *StartupError
			if errors.As(err, &startup) {
				return nil, err
			}
			if errors.Is(err, scrape.ErrInputDirNotFound) || errors.Is(err, scrape.ErrNotTabular) {
				return nil, diagnose(err)
			}
			return nil, &StartupError{Lines: []string{err.Error()}, Err: err}
		}
	}
	return a, nil
}

// Run drives the pool to completion. The sink is closed on every path, and
// the progress hub is flushed before the summary goes out.
func (a *App) Run(ctx context.Context) error {
	startedAt := a.clock.Now()
	a.logger.Info("scrape started",
		zap.String("run_id", a.runID.String()),
		zap.Int("workers", a.dispatch.Workers()),
		zap.String("output", a.cfg.Output.Path),
	)
	a.tracker.Start()
	a.emit(progress.Event{Stage: progress.StageRunStart, Workers: a.dispatch.Workers()})

	runErr := a.dispatch.Run(ctx, a.source, a.sink.Handle)
	if err := a.sink.Close(); err != nil && runErr == nil {
		runErr = fmt.Errorf("close output: %w", err)
	}
	a.tracker.Close(runErr != nil)

	finishedAt := a.clock.Now()
	processed, failed, records := a.sink.Totals()
	evt := progress.Event{
		Stage:     progress.StageRunDone,
		Processed: processed,
		Errors:    failed,
		Records:   records,
		Workers:   a.dispatch.Workers(),
		Dur:       finishedAt.Sub(startedAt),
	}
	status := store.RunSuccess
	if runErr != nil {
		evt.Stage = progress.StageRunError
		evt.ErrorKind = "aborted"
		status = store.RunError
		if errors.Is(runErr, scrape.ErrInterrupted) {
			evt.ErrorKind = sinks.RunErrorInterrupted
			status = store.RunInterrupted
		}
		evt.Note = runErr.Error()
	}
	a.emit(evt)

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := a.hub.Close(shutdownCtx); err != nil {
		a.logger.Warn("progress hub close failed", zap.Error(err))
	}
	a.hub = nil

	summary := RunSummary{
		RunID:      a.runID.String(),
		Status:     string(status),
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
		Workers:    a.dispatch.Workers(),
		Processed:  processed,
		Errors:     failed,
		Records:    records,
		Output:     a.cfg.Output.Path,
	}
	if runErr != nil {
		summary.Error = runErr.Error()
	}
	if id, err := a.publisher.Publish(shutdownCtx, SummaryTopic, summary); err != nil {
		a.logger.Warn("run summary publish failed", zap.Error(err))
	} else {
		a.logger.Debug("run summary published", zap.String("message_id", id))
	}

	a.closeInfrastructure(shutdownCtx)
	a.logger.Info("scrape finished",
		zap.String("run_id", a.runID.String()),
		zap.String("status", string(status)),
		zap.Int64("processed", processed),
		zap.Int64("errors", failed),
		zap.Int64("records", records),
	)
	return runErr
}

func (a *App) emit(evt progress.Event) {
	if a.hub == nil {
		return
	}
	evt.RunID = progress.UUIDToBytes(a.runID)
	evt.TS = a.clock.Now()
	a.hub.Emit(evt)
}

// closeInfrastructure runs the registered closers in reverse order.
func (a *App) closeInfrastructure(ctx context.Context) {
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
		a.hub = nil
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("shutdown step failed", zap.Error(err))
		}
	}
	a.closers = nil
}

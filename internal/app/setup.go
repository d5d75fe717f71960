package app

import (
	"context"
	"fmt"
	"net"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/docscrape/internal/api"
	"github.com/JakeFAU/docscrape/internal/clock/system"
	"github.com/JakeFAU/docscrape/internal/content"
	"github.com/JakeFAU/docscrape/internal/dispatcher"
	"github.com/JakeFAU/docscrape/internal/id/uuid"
	"github.com/JakeFAU/docscrape/internal/progress"
	"github.com/JakeFAU/docscrape/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/docscrape/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/docscrape/internal/publisher/pubsub"
	"github.com/JakeFAU/docscrape/internal/scrape"
	"github.com/JakeFAU/docscrape/internal/sink"
	"github.com/JakeFAU/docscrape/internal/source"
	"github.com/JakeFAU/docscrape/internal/storage"
	pgstore "github.com/JakeFAU/docscrape/internal/storage/postgres"
	"github.com/JakeFAU/docscrape/internal/worker"
)

func (a *App) setupRun(context.Context) error {
	id, err := uuid.NewGenerator().NewRawID()
	if err != nil {
		return fmt.Errorf("generate run id: %w", err)
	}
	a.runID = id
	a.clock = system.New()
	return nil
}

func (a *App) setupSource(context.Context) error {
	defaults := source.Defaults{
		Encoding:        a.cfg.Scrape.Encoding,
		Mode:            a.cfg.Mode(),
		PluralSeparator: a.cfg.Scrape.PluralSeparator,
		Total:           a.cfg.Scrape.Total,
	}
	var (
		src scrape.Source
		err error
	)
	if a.cfg.Scrape.Glob != "" {
		src, err = source.NewGlob(a.cfg.Scrape.Glob, defaults)
	} else {
		report := a.opts.Report
		if report == "" {
			report = storage.Stdout
		}
		src, err = source.OpenReport(report, source.ReportOptions{
			Defaults:       defaults,
			Select:         a.cfg.Report.Select,
			PathColumn:     a.cfg.Report.PathColumn,
			ContentColumn:  a.cfg.Report.ContentColumn,
			EncodingColumn: a.cfg.Report.EncodingColumn,
			URLColumn:      a.cfg.Report.URLColumn,
			InputDir:       a.cfg.Report.InputDir,
		})
	}
	if err != nil {
		return err
	}
	a.source = src
	a.closers = append(a.closers, src.Close)
	return nil
}

// echoSource is a source whose rows are repeated ahead of the scraped fields.
type echoSource interface {
	EchoColumns() []string
}

func (a *App) setupTracker(context.Context) error {
	total := int64(a.cfg.Scrape.Total)
	if total == 0 {
		if n, ok := a.source.Total(); ok {
			total = int64(n)
		}
	}
	a.tracker = progress.NewTracker(progress.TrackerConfig{
		Title:           "Scraping pages",
		Output:          a.opts.Stderr,
		Render:          !a.cfg.Progress.Disabled,
		UpdateFrequency: a.cfg.Progress.UpdateFrequency,
		Total:           total,
	})
	return nil
}

func (a *App) setupDatabase(ctx context.Context) error {
	if a.cfg.Database.DSN == "" {
		a.logger.Debug("no database dsn configured, run ledger disabled")
		return nil
	}
	runStore, err := pgstore.NewRunStore(ctx, pgstore.Config{
		DSN:      a.cfg.Database.DSN,
		MaxConns: a.cfg.Database.MaxConns,
	})
	if err != nil {
		return fmt.Errorf("run store init failed: %w", err)
	}
	a.repo = runStore
	a.closers = append(a.closers, func() error {
		runStore.Close()
		return nil
	})
	a.logger.Info("run ledger initialized")
	return nil
}

func (a *App) setupProgress(ctx context.Context) error {
	a.registry = prometheus.NewRegistry()
	promSink, err := sinks.NewPrometheusSink(a.registry)
	if err != nil {
		return fmt.Errorf("register progress metrics: %w", err)
	}
	sinkList := []progress.Sink{
		sinks.NewLogSink(a.logger.Named("progress_log")),
		promSink,
	}
	if a.repo != nil {
		sinkList = append(sinkList, sinks.NewStoreSink(a.repo, a.logger.Named("progress_store")))
		a.logger.Debug("added progress store sink")
	}
	hubCfg := progress.Config{
		BufferSize:     a.cfg.Progress.BufferSize,
		MaxBatchEvents: a.cfg.Progress.BatchEvents,
		MaxBatchWait:   a.cfg.Progress.BatchWait,
		BaseContext:    context.WithoutCancel(ctx),
		Logger:         a.logger.Named("progress_hub"),
	}
	a.hub = progress.NewHub(hubCfg, sinkList...)
	a.logger.Debug("progress hub initialized",
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
		zap.Int("sinks", len(sinkList)),
	)
	return nil
}

func (a *App) setupPublisher(ctx context.Context) error {
	if a.cfg.PubSub.TopicName == "" || a.cfg.PubSub.ProjectID == "" {
		a.logger.Debug("no Pub/Sub topic configured, using in-memory publisher")
		a.publisher = memorypublisher.New()
		return nil
	}
	pub, err := gcppublisher.Dial(ctx, a.cfg.PubSub.ProjectID, a.cfg.PubSub.TopicName)
	if err != nil {
		return fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	a.publisher = pub
	a.closers = append(a.closers, pub.Close)
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return nil
}

func (a *App) setupSink(scraper resolved) func(context.Context) error {
	return func(ctx context.Context) error {
		out, err := storage.OpenOutput(ctx, a.cfg.Output.Path, storage.ContentType(a.cfg.Output.Format))
		if err != nil {
			return fmt.Errorf("open output: %w", err)
		}
		var echo []string
		if rep, ok := a.source.(echoSource); ok {
			echo = rep.EchoColumns()
		}
		serializer, err := sink.NewSerializer(a.cfg.Mode(), out, scraper.fields, echo)
		if err != nil {
			_ = out.Close()
			return err
		}
		cfg := sink.Config{
			Serializer:  serializer,
			Dest:        out,
			Counter:     a.tracker,
			Emitter:     a.hub,
			RunID:       progress.UUIDToBytes(a.runID),
			Clock:       a.clock,
			Logger:      a.logger.Named("sink"),
			HasInputDir: a.cfg.Report.InputDir != "",
		}
		if a.cfg.Output.ErrorsReport != "" {
			errOut, err := storage.OpenOutput(ctx, a.cfg.Output.ErrorsReport, storage.ContentType("csv"))
			if err != nil {
				_ = out.Close()
				return fmt.Errorf("open errors report: %w", err)
			}
			report, err := sink.NewErrorReport(errOut)
			if err != nil {
				_ = out.Close()
				_ = errOut.Close()
				return err
			}
			cfg.Errors = report
			cfg.ErrorsDest = errOut
		}
		s, err := sink.New(cfg)
		if err != nil {
			_ = out.Close()
			return err
		}
		a.sink = s
		a.closers = append(a.closers, s.Close)
		return nil
	}
}

func (a *App) setupDispatcher(scraper resolved) func(context.Context) error {
	return func(context.Context) error {
		reader := content.NewReader(a.cfg.Scrape.Encoding, a.cfg.Scrape.MaxBytes)
		workerLogger := a.logger.Named("worker")
		factory := func(id int) (*worker.Runtime, error) {
			return worker.New(id, scraper.compile, reader, a.clock, workerLogger)
		}
		a.dispatch = dispatcher.New(dispatcher.Config{
			Workers:    a.cfg.Scrape.Workers,
			QueueDepth: a.cfg.Scrape.QueueDepth,
		}, factory, a.logger.Named("dispatcher"))
		a.tracker.SetStat(progress.StatWorkers, int64(a.dispatch.Workers()))
		return nil
	}
}

func (a *App) setupAPI(ctx context.Context) error {
	if a.cfg.Metrics.Addr == "" {
		return nil
	}
	ln, err := net.Listen("tcp", a.cfg.Metrics.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.cfg.Metrics.Addr, err)
	}
	a.apiServer = api.NewServer(api.Options{
		RunID:    a.runID,
		Tracker:  a.tracker,
		Repo:     a.repo,
		Gatherer: a.registry,
		Logger:   a.logger.Named("api"),
	})
	serveCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan error, 1)
	go func() {
		done <- a.apiServer.Serve(serveCtx, ln)
	}()
	a.apiServer.SetReady(true)
	a.closers = append(a.closers, func() error {
		cancel()
		return <-done
	})
	a.logger.Info("status api listening", zap.String("addr", ln.Addr().String()))
	return nil
}

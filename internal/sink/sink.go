package sink

import (
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/docscrape/internal/progress"
	"github.com/JakeFAU/docscrape/internal/scrape"
)

// Counter is the part of the progress tracker the sink drives.
type Counter interface {
	Advance(n int)
	Inc(stat string)
	IncBy(stat string, n int)
}

// Config wires a Sink.
type Config struct {
	Serializer Serializer
	// Dest is closed by Close after the serializer is flushed.
	Dest    io.Closer
	Counter Counter
	// Errors is optional.
	Errors      *ErrorReport
	ErrorsDest  io.Closer
	Emitter     progress.Emitter
	RunID       [16]byte
	Clock       scrape.Clock
	Logger      *zap.Logger
	HasInputDir bool
}

// Sink consumes outcomes on the dispatcher's calling goroutine.
type Sink struct {
	cfg           Config
	records       int64
	failed        int64
	processed     int64
	warnedMissing bool
	closed        bool
}

// New validates cfg and builds a Sink.
func New(cfg Config) (*Sink, error) {
	if cfg.Serializer == nil {
		return nil, errors.New("sink: serializer is required")
	}
	if cfg.Counter == nil {
		return nil, errors.New("sink: counter is required")
	}
	if cfg.Emitter == nil {
		cfg.Emitter = progress.NopEmitter{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Sink{cfg: cfg}, nil
}

// Handle accounts for one outcome. Item failures are counted and reported;
// only write failures are returned.
func (s *Sink) Handle(out scrape.Outcome) error {
	s.cfg.Counter.Advance(1)
	s.processed++
	if out.Failed() {
		return s.handleError(out)
	}
	for _, rec := range out.Records {
		if err := s.cfg.Serializer.Write(out.Item.Row, rec); err != nil {
			return fmt.Errorf("write %s: %w", out.Item.Label(), err)
		}
	}
	if err := s.cfg.Serializer.Flush(); err != nil {
		return err
	}
	n := len(out.Records)
	s.records += int64(n)
	s.cfg.Counter.IncBy(progress.StatScrapedItems, n)
	s.cfg.Emitter.Emit(progress.Event{
		RunID:   s.cfg.RunID,
		TS:      s.now(),
		Stage:   progress.StageItemDone,
		Item:    out.Item.Label(),
		Records: int64(n),
	})
	return nil
}

func (s *Sink) handleError(out scrape.Outcome) error {
	s.failed++
	s.cfg.Counter.Inc(progress.StatErrors)
	kind := scrape.Slug(out.Err)
	s.cfg.Logger.Debug("item failed",
		zap.String("item", out.Item.Label()),
		zap.String("kind", kind),
		zap.Error(out.Err))

	if kind == "file-not-found" && !s.cfg.HasInputDir && !s.warnedMissing {
		s.warnedMissing = true
		s.cfg.Logger.Warn("a file could not be found; if report paths are relative, " +
			"pass the directory they are relative to with -I/--input-dir")
	}
	s.cfg.Emitter.Emit(progress.Event{
		RunID:     s.cfg.RunID,
		TS:        s.now(),
		Stage:     progress.StageItemError,
		Item:      out.Item.Label(),
		ErrorKind: kind,
	})
	if s.cfg.Errors != nil {
		if err := s.cfg.Errors.Add(out); err != nil {
			return err
		}
	}
	return nil
}

// Totals reports processed items, failed items and written records.
func (s *Sink) Totals() (processed, failed, records int64) {
	return s.processed, s.failed, s.records
}

// Close flushes the serializer and closes the destinations. It is safe to
// call more than once.
func (s *Sink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	errs := []error{s.cfg.Serializer.Flush()}
	if s.cfg.Dest != nil {
		errs = append(errs, s.cfg.Dest.Close())
	}
	if s.cfg.ErrorsDest != nil {
		errs = append(errs, s.cfg.ErrorsDest.Close())
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("close output: %w", err)
	}
	return nil
}

func (s *Sink) now() time.Time {
	if s.cfg.Clock == nil {
		return time.Now().UTC()
	}
	return s.cfg.Clock.Now()
}

package sinks

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/docscrape/internal/progress"
)

// LogSink emits structured logs for progress streams. Item events are logged
// at debug so a large run does not flood the console; run events at info.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch with the fields relevant to its stage.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageItemDone:
			if ce := s.logger.Check(zapcore.DebugLevel, "item scraped"); ce != nil {
				ce.Write(runField(evt), zap.String("item", evt.Item), zap.Int64("records", evt.Records))
			}
		case progress.StageItemError:
			if ce := s.logger.Check(zapcore.DebugLevel, "item failed"); ce != nil {
				ce.Write(runField(evt), zap.String("item", evt.Item), zap.String("error_kind", evt.ErrorKind))
			}
		case progress.StageRunStart:
			s.logger.Info("run started", runField(evt), zap.Int("workers", evt.Workers))
		default:
			fields := []zap.Field{
				runField(evt),
				zap.String("stage", string(evt.Stage)),
				zap.Int64("processed", evt.Processed),
				zap.Int64("errors", evt.Errors),
				zap.Int64("records", evt.Records),
				zap.Duration("dur", evt.Dur),
			}
			if evt.Stage == progress.StageRunError {
				fields = append(fields, zap.String("error_kind", evt.ErrorKind), zap.String("note", evt.Note))
				s.logger.Warn("run ended with error", fields...)
				continue
			}
			s.logger.Info("run finished", fields...)
		}
	}
	return nil
}

func runField(evt progress.Event) zap.Field {
	return zap.Stringer("run_id", evt.RunUUID())
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}

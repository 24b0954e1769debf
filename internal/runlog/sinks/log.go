package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/ai-digest/internal/runlog"
)

// LogSink writes every event as a structured log line. Run errors log at
// warn level.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []runlog.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunUUID().String()),
			zap.String("stage", string(evt.Stage)),
			zap.Duration("dur", evt.Dur),
		}
		if evt.Stage == runlog.StageAttempt {
			fields = append(fields,
				zap.String("account", evt.Account),
				zap.String("adapter", evt.Adapter),
				zap.String("outcome", evt.Outcome),
				zap.String("reason", evt.Reason),
				zap.Int("items", evt.Items),
			)
		} else if evt.Outcome != "" {
			fields = append(fields, zap.String("status", evt.Outcome), zap.Int("items", evt.Items))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		level := zap.InfoLevel
		if evt.Stage == runlog.StageRunError {
			level = zap.WarnLevel
		}
		s.logger.Log(level, "run-log event", fields...)
	}
	return nil
}

// Close implements runlog.Sink.
func (s *LogSink) Close(context.Context) error {
	return nil
}

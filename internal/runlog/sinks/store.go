package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/ai-digest/internal/runlog"
)

// AttemptStore persists run-log events.
type AttemptStore interface {
	RecordRun(ctx context.Context, evt runlog.Event) error
	RecordAttempts(ctx context.Context, batch []runlog.Event) error
}

// StoreSink forwards attempts in bulk and lifecycle events one at a time.
type StoreSink struct {
	store  AttemptStore
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink.
func NewStoreSink(store AttemptStore, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{store: store, logger: logger}
}

// Consume implements runlog.Sink.
func (s *StoreSink) Consume(ctx context.Context, batch []runlog.Event) error {
	if s == nil || s.store == nil {
		return nil
	}
	attempts := make([]runlog.Event, 0, len(batch))
	for _, evt := range batch {
		if evt.Stage == runlog.StageAttempt {
			attempts = append(attempts, evt)
			continue
		}
		if err := s.store.RecordRun(ctx, evt); err != nil {
			return fmt.Errorf("record run %s: %w", evt.Stage, err)
		}
	}
	if len(attempts) == 0 {
		return nil
	}
	if err := s.store.RecordAttempts(ctx, attempts); err != nil {
		return fmt.Errorf("record attempts: %w", err)
	}
	s.logger.Debug("run-log attempts stored", zap.Int("count", len(attempts)))
	return nil
}

// Close implements runlog.Sink.
func (s *StoreSink) Close(context.Context) error {
	return nil
}

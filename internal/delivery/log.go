package delivery

import (
	"context"

	"go.uber.org/zap"
)

// LogNotifier writes the message to the log. It backs dry runs and runs
// without a configured webhook.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier builds a LogNotifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

// Name implements Notifier.
func (l *LogNotifier) Name() string { return "log" }

// Notify implements Notifier.
func (l *LogNotifier) Notify(_ context.Context, msg Message) error {
	l.logger.Info("digest message", zap.String("title", msg.Title), zap.String("body", msg.Body))
	return nil
}

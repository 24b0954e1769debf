package sinks

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/JakeFAU/ai-digest/internal/runlog"
)

// JSONLSink appends one JSON object per event to a file.
type JSONLSink struct {
	mu   sync.Mutex
	file *os.File
}

type jsonlRecord struct {
	RunID string `json:"run_id"`
	runlog.Event
}

// NewJSONLSink opens path for appending, creating parent directories.
func NewJSONLSink(path string) (*JSONLSink, error) {
	if path == "" {
		return nil, fmt.Errorf("run-log path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create run-log dir: %w", err)
	}
	// #nosec G304 -- operator-configured path.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open run log: %w", err)
	}
	return &JSONLSink{file: f}, nil
}

// Consume writes the batch with a single append.
func (s *JSONLSink) Consume(ctx context.Context, batch []runlog.Event) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("jsonl sink: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return fmt.Errorf("jsonl sink closed")
	}
	w := bufio.NewWriter(s.file)
	enc := json.NewEncoder(w)
	for _, evt := range batch {
		if err := enc.Encode(jsonlRecord{RunID: evt.RunUUID().String(), Event: evt}); err != nil {
			return fmt.Errorf("encode run-log event: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("write run log: %w", err)
	}
	return nil
}

// Close syncs and closes the file.
func (s *JSONLSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	f := s.file
	s.file = nil
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync run log: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close run log: %w", err)
	}
	return nil
}

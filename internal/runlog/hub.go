package runlog

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	defaultBufferSize     = 1024
	defaultMaxBatchEvents = 256
	defaultMaxBatchWait   = 500 * time.Millisecond
	defaultSinkTimeout    = 10 * time.Second
	dropLogInterval       = 5 * time.Second
)

// Config tunes a Hub. Zero values fall back to the package defaults.
type Config struct {
	// BufferSize is the number of events Emit can queue before dropping.
	BufferSize int
	// MaxBatchEvents forces a flush once a batch reaches this size.
	MaxBatchEvents int
	// MaxBatchWait bounds how long the first event of a batch waits.
	MaxBatchWait time.Duration
	// SinkTimeout bounds each Consume call.
	SinkTimeout time.Duration
	// BaseContext parents every sink call.
	BaseContext context.Context
	Logger      *zap.Logger
}

func (c Config) withDefaults() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = defaultBufferSize
	}
	if c.MaxBatchEvents <= 0 {
		c.MaxBatchEvents = defaultMaxBatchEvents
	}
	if c.MaxBatchWait <= 0 {
		c.MaxBatchWait = defaultMaxBatchWait
	}
	if c.SinkTimeout <= 0 {
		c.SinkTimeout = defaultSinkTimeout
	}
	if c.BaseContext == nil {
		c.BaseContext = context.Background()
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// Hub collects run-log events off the hot path and hands them to sinks in
// batches. Emit never blocks a run.
type Hub struct {
	cfg    Config
	sinks  []Sink
	events chan Event
	logger *zap.Logger

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	stopCtx  context.Context

	closed  atomic.Bool
	dropped atomic.Int64
	dropLog rate.Sometimes
}

// NewHub starts the batching goroutine. Nil sinks are ignored.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	cfg = cfg.withDefaults()
	live := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			live = append(live, s)
		}
	}
	h := &Hub{
		cfg:     cfg,
		sinks:   live,
		events:  make(chan Event, cfg.BufferSize),
		logger:  cfg.Logger,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		dropLog: rate.Sometimes{Interval: dropLogInterval},
	}
	go h.run()
	return h
}

// Emit queues evt for the sinks. Invalid events and events emitted after
// Close are discarded; a full buffer drops the event and counts it.
func (h *Hub) Emit(evt Event) {
	if h == nil || h.closed.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid run-log event",
			zap.String("stage", string(evt.Stage)), zap.Error(err))
		return
	}
	select {
	case h.events <- evt:
	default:
		n := h.dropped.Add(1)
		h.dropLog.Do(func() {
			h.logger.Warn("run-log buffer full, dropping events",
				zap.Int64("dropped_total", n),
				zap.String("run_id", evt.RunUUID().String()))
		})
	}
}

// Dropped is the number of events lost because the buffer was full.
func (h *Hub) Dropped() int64 {
	if h == nil {
		return 0
	}
	return h.dropped.Load()
}

// Close stops intake, flushes what is queued, then closes every sink. It is
// safe to call more than once; ctx bounds the wait and the sink Close calls.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.stopOnce.Do(func() {
		h.closed.Store(true)
		h.stopCtx = ctx
		close(h.stop)
	})
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("run-log hub close: %w", ctx.Err())
	}
}

func (h *Hub) run() {
	defer close(h.done)

	batch := make([]Event, 0, h.cfg.MaxBatchEvents)
	// deadline is nil while the batch is empty.
	var deadline <-chan time.Time
	for {
		select {
		case evt := <-h.events:
			batch = append(batch, evt)
			switch {
			case len(batch) >= h.cfg.MaxBatchEvents:
				batch = h.deliver(batch)
				deadline = nil
			case deadline == nil:
				deadline = time.After(h.cfg.MaxBatchWait)
			}
		case <-deadline:
			batch = h.deliver(batch)
			deadline = nil
		case <-h.stop:
			h.deliver(h.drainInto(batch))
			h.closeSinks()
			return
		}
	}
}

// drainInto appends whatever is still buffered, flushing full batches on the way.
func (h *Hub) drainInto(batch []Event) []Event {
	for {
		select {
		case evt := <-h.events:
			batch = append(batch, evt)
			if len(batch) >= h.cfg.MaxBatchEvents {
				batch = h.deliver(batch)
			}
		default:
			return batch
		}
	}
}

// deliver fans batch out to the sinks in parallel and returns it truncated.
// Sink errors are logged and never stop delivery to the others.
func (h *Hub) deliver(batch []Event) []Event {
	if len(batch) == 0 || len(h.sinks) == 0 {
		return batch[:0]
	}
	shared := append([]Event(nil), batch...)
	var g errgroup.Group
	for _, sink := range h.sinks {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(h.cfg.BaseContext, h.cfg.SinkTimeout)
			defer cancel()
			if err := sink.Consume(ctx, shared); err != nil {
				h.logger.Warn("run-log sink consume failed",
					zap.String("sink", fmt.Sprintf("%T", sink)),
					zap.Int("events", len(shared)),
					zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
	return batch[:0]
}

func (h *Hub) closeSinks() {
	ctx := h.stopCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, sink := range h.sinks {
		if err := sink.Close(ctx); err != nil {
			h.logger.Warn("run-log sink close failed",
				zap.String("sink", fmt.Sprintf("%T", sink)), zap.Error(err))
		}
	}
}

package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/ai-digest/internal/runlog"
)

// PrometheusSink exports attempt and run counters.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec

	attempts        *prometheus.CounterVec
	attemptItems    *prometheus.CounterVec
	attemptDuration *prometheus.HistogramVec
}

// NewPrometheusSink registers the collectors against reg.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "digest_runs_started_total",
			Help: "Digest runs started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "digest_runs_completed_total",
			Help: "Digest runs completed partitioned by result.",
		}, []string{"result"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "digest_run_duration_seconds",
			Help:    "Wall time per run.",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200, 1800},
		}, []string{"result"}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "digest_adapter_attempts_total",
			Help: "Adapter attempts partitioned by adapter, outcome and reason.",
		}, []string{"adapter", "outcome", "reason"}),
		attemptItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "digest_adapter_items_total",
			Help: "Posts returned per adapter.",
		}, []string{"adapter"}),
		attemptDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "digest_adapter_attempt_duration_seconds",
			Help:    "Adapter call latency.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"adapter", "outcome"}),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runDuration,
		s.attempts,
		s.attemptItems,
		s.attemptDuration,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register run-log collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []runlog.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case runlog.StageRunStart:
			s.runsStarted.Inc()
		case runlog.StageRunDone:
			s.observeRun(evt, "success")
		case runlog.StageRunError:
			s.observeRun(evt, "error")
		case runlog.StageAttempt:
			s.observeAttempt(evt)
		}
	}
	return nil
}

func (s *PrometheusSink) observeRun(evt runlog.Event, result string) {
	s.runsCompleted.WithLabelValues(result).Inc()
	if evt.Dur > 0 {
		s.runDuration.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
}

func (s *PrometheusSink) observeAttempt(evt runlog.Event) {
	reason := evt.Reason
	if reason == "" {
		reason = "none"
	}
	s.attempts.WithLabelValues(evt.Adapter, evt.Outcome, reason).Inc()
	if evt.Items > 0 {
		s.attemptItems.WithLabelValues(evt.Adapter).Add(float64(evt.Items))
	}
	if evt.Dur > 0 {
		s.attemptDuration.WithLabelValues(evt.Adapter, evt.Outcome).Observe(evt.Dur.Seconds())
	}
}

// Close implements runlog.Sink.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

// Package orchestrator drives the adapter chain for every monitored account
// under bounded concurrency, governor pacing, and a wall-clock budget.
package orchestrator

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/ai-digest/internal/adapter"
	"github.com/JakeFAU/ai-digest/internal/governor"
	"github.com/JakeFAU/ai-digest/internal/post"
	"github.com/JakeFAU/ai-digest/internal/runlog"
	"github.com/JakeFAU/ai-digest/internal/telemetry"
)

// Defaults for Config.
const (
	DefaultConcurrency = 3
	MaxConcurrency     = 5
	DefaultCallTimeout = 90 * time.Second
	DefaultFetchLimit  = 20
)

// Config controls a run.
type Config struct {
	Concurrency int
	// Budget caps the whole fetch phase; zero disables it.
	Budget      time.Duration
	CallTimeout time.Duration
	FetchLimit  int
	// CompareMode calls every adapter instead of stopping at the first success.
	CompareMode bool
	// AcceptEmpty stops the chain at an adapter that answered with no posts.
	AcceptEmpty bool
}

// Options carries per-run collaborators.
type Options struct {
	RunID  uuid.UUID
	Events runlog.Emitter
	Logger *zap.Logger
	// Now is injectable for tests.
	Now func() time.Time
}

// Orchestrator runs the chain for a set of accounts. It is constructed per run.
type Orchestrator struct {
	cfg      Config
	chain    []adapter.Adapter
	governor *governor.Governor
	runID    [16]byte
	events   runlog.Emitter
	logger   *zap.Logger
	now      func() time.Time

	deadline  time.Time
	exhausted atomic.Bool
}

// New validates cfg and builds an Orchestrator over chain, which must be in
// priority order.
func New(cfg Config, chain []adapter.Adapter, gov *governor.Governor, opts Options) (*Orchestrator, error) {
	if len(chain) == 0 {
		return nil, fmt.Errorf("adapter chain is empty")
	}
	if gov == nil {
		return nil, fmt.Errorf("governor is required")
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.Concurrency < 0 || cfg.Concurrency > MaxConcurrency {
		return nil, fmt.Errorf("concurrency must be between 1 and %d", MaxConcurrency)
	}
	if cfg.Budget < 0 {
		return nil, fmt.Errorf("budget must be >= 0")
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if cfg.FetchLimit <= 0 {
		cfg.FetchLimit = DefaultFetchLimit
	}
	if opts.Events == nil {
		opts.Events = runlog.Discard
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Orchestrator{
		cfg:      cfg,
		chain:    append([]adapter.Adapter(nil), chain...),
		governor: gov,
		runID:    runlog.IDBytes(opts.RunID),
		events:   opts.Events,
		logger:   opts.Logger,
		now:      opts.Now,
	}, nil
}

// Run fetches every account and returns what was collected. It never fails:
// adapter errors stay inside the per-account result, and an expired budget
// or canceled ctx only ends the run early.
func (o *Orchestrator) Run(ctx context.Context, accounts []post.AccountTarget) Report {
	report := Report{Started: o.now().UTC(), Accounts: make([]AccountResult, len(accounts))}
	if o.cfg.Budget > 0 {
		o.deadline = report.Started.Add(o.cfg.Budget)
	}

	var g errgroup.Group
	g.SetLimit(o.cfg.Concurrency)
	for i, account := range accounts {
		report.Accounts[i] = AccountResult{Account: account}
		if o.stopped(ctx) {
			continue
		}
		g.Go(func() error {
			if o.stopped(ctx) {
				return nil
			}
			report.Accounts[i] = o.runAccount(ctx, account)
			return nil
		})
	}
	_ = g.Wait()

	report.BudgetExhausted = o.exhausted.Load()
	report.Finished = o.now().UTC()
	o.logger.Info("fetch phase finished",
		zap.Int("accounts", len(accounts)),
		zap.Int("succeeded", report.Succeeded()),
		zap.Int("attempts", report.Attempts()),
		zap.Bool("budget_exhausted", report.BudgetExhausted),
	)
	return report
}

func (o *Orchestrator) runAccount(ctx context.Context, account post.AccountTarget) AccountResult {
	ctx, span := telemetry.Tracer().Start(ctx, "orchestrator.account",
		trace.WithAttributes(attribute.String("account", account.Handle)))
	defer span.End()

	result := AccountResult{Account: account}
	if o.cfg.CompareMode {
		result.BySource = make(map[string][]post.Post)
	}
	for _, a := range o.chain {
		if o.stopped(ctx) {
			span.SetAttributes(attribute.Bool("budget_exhausted", true))
			return o.incomplete(result)
		}
		attempt, res, started := o.attempt(ctx, a, account)
		if !started {
			return o.incomplete(result)
		}
		result.Attempts = append(result.Attempts, attempt)
		if attempt.Late {
			return o.incomplete(result)
		}

		switch {
		case res.OK():
			if result.Winner == "" {
				result.Winner = a.ID()
			}
			if o.cfg.CompareMode {
				result.BySource[a.ID()] = res.Posts
				result.Posts = append(result.Posts, res.Posts...)
				continue
			}
			result.Posts = res.Posts
			result.Completed = true
			span.SetAttributes(attribute.String("winner", a.ID()))
			return result
		case res.Empty() && o.cfg.AcceptEmpty && !o.cfg.CompareMode:
			result.Winner = a.ID()
			result.Completed = true
			return result
		}
	}
	result.Completed = true
	if len(result.Posts) == 0 {
		o.logger.Warn("every adapter failed for account", zap.String("account", account.Handle))
	}
	return result
}

// incomplete drops partial data for an account the budget cut short.
func (o *Orchestrator) incomplete(result AccountResult) AccountResult {
	result.Posts = nil
	result.Winner = ""
	result.BySource = nil
	result.Completed = false
	return result
}

// attempt paces and invokes one adapter. started is false when the pause was
// cut short by cancellation or the budget, in which case nothing was called.
func (o *Orchestrator) attempt(ctx context.Context, a adapter.Adapter, account post.AccountTarget) (Attempt, adapter.Result, bool) {
	id := a.ID()
	attempt := Attempt{Account: account.Handle, Adapter: id}

	var res adapter.Result
	if avail, ok := a.(adapter.Availability); ok && !avail.Available() {
		res = adapter.Skipped(id, "adapter unavailable")
	} else {
		waited, err := o.pause(ctx, o.governor.DelayFor(id))
		attempt.Waited = waited
		if err != nil || o.stopped(ctx) {
			return attempt, adapter.Result{}, false
		}
		res = o.call(ctx, a, account)
	}
	o.governor.Record(id, res.Outcome)
	if o.pastDeadline() {
		attempt.Late = true
		o.exhausted.Store(true)
	}

	attempt.Outcome = res.Outcome
	attempt.Reason = res.Reason()
	attempt.Items = len(res.Posts)
	attempt.Duration = res.Duration
	if res.Err != nil {
		attempt.Error = res.Err.Error()
	}
	o.emit(attempt)
	o.logger.Debug("adapter attempt",
		zap.String("account", account.Handle),
		zap.String("adapter", id),
		zap.String("outcome", string(attempt.Outcome)),
		zap.String("reason", string(attempt.Reason)),
		zap.Int("items", attempt.Items),
		zap.Duration("waited", attempt.Waited),
		zap.Duration("duration", attempt.Duration),
		zap.Bool("late", attempt.Late),
	)
	return attempt, res, true
}

func (o *Orchestrator) call(ctx context.Context, a adapter.Adapter, account post.AccountTarget) adapter.Result {
	callCtx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
	defer cancel()

	start := time.Now()
	res := adapter.Guard(a.ID(), func() adapter.Result {
		return a.Fetch(callCtx, account, o.cfg.FetchLimit)
	})
	res.Duration = time.Since(start)
	if res.Source == "" {
		res.Source = a.ID()
	}
	return res
}

// pause waits for delay, cut short by ctx or the run deadline.
func (o *Orchestrator) pause(ctx context.Context, delay time.Duration) (time.Duration, error) {
	if !o.deadline.IsZero() {
		if remaining := o.deadline.Sub(o.now()); remaining < delay {
			delay = max(remaining, 0)
		}
	}
	if delay <= 0 {
		return 0, ctx.Err()
	}
	start := time.Now()
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return time.Since(start), nil
	case <-ctx.Done():
		return time.Since(start), fmt.Errorf("governor pause: %w", ctx.Err())
	}
}

// stopped reports whether no further work may start.
func (o *Orchestrator) stopped(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	if o.pastDeadline() {
		o.exhausted.Store(true)
		return true
	}
	return false
}

func (o *Orchestrator) pastDeadline() bool {
	return !o.deadline.IsZero() && !o.now().Before(o.deadline)
}

func (o *Orchestrator) emit(attempt Attempt) {
	o.events.Emit(runlog.Event{
		RunID:   o.runID,
		TS:      o.now().UTC(),
		Stage:   runlog.StageAttempt,
		Account: attempt.Account,
		Adapter: attempt.Adapter,
		Outcome: string(attempt.Outcome),
		Reason:  string(attempt.Reason),
		Items:   attempt.Items,
		Dur:     attempt.Duration,
		Note:    attempt.Error,
	})
}

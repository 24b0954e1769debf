// Package pipeline wires one digest run end to end: fetch every account
// through the adapter chain, merge, filter to the recency window, build the
// digest, deliver it once, then persist and announce the run report.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/JakeFAU/ai-digest/internal/adapter"
	"github.com/JakeFAU/ai-digest/internal/delivery"
	"github.com/JakeFAU/ai-digest/internal/digest"
	"github.com/JakeFAU/ai-digest/internal/governor"
	"github.com/JakeFAU/ai-digest/internal/merge"
	"github.com/JakeFAU/ai-digest/internal/orchestrator"
	"github.com/JakeFAU/ai-digest/internal/post"
	"github.com/JakeFAU/ai-digest/internal/publisher"
	"github.com/JakeFAU/ai-digest/internal/recency"
	"github.com/JakeFAU/ai-digest/internal/runlog"
	"github.com/JakeFAU/ai-digest/internal/storage"
	"github.com/JakeFAU/ai-digest/internal/telemetry"
)

const noticeTimeout = 30 * time.Second

var (
	// ErrBusy is returned when a run is already in progress.
	ErrBusy = errors.New("a run is already in progress")
	// ErrInvalidRequest wraps request validation failures.
	ErrInvalidRequest = errors.New("invalid run request")
)

// RunIDSource mints run identifiers.
type RunIDSource interface {
	NewRunID() (uuid.UUID, error)
}

// Config holds run-wide settings.
type Config struct {
	Fetch orchestrator.Config
	// Rate is the backoff policy; every Run and Compare starts from a fresh
	// governor built from it.
	Rate governor.Config
	// DefaultWindow applies when a Request leaves Window unset.
	DefaultWindow  time.Duration
	ArtifactPrefix string
}

// Deps are the collaborators a Pipeline drives. Artifacts and Publisher
// are optional.
type Deps struct {
	Chain     []adapter.Adapter
	Digest    *digest.Builder
	Notifier  delivery.Notifier
	Artifacts storage.BlobStore
	Publisher publisher.Publisher
	Events    runlog.Emitter
	IDs       RunIDSource
	Logger    *zap.Logger
	Now       func() time.Time
}

// Request is one invocation.
type Request struct {
	Accounts []post.AccountTarget
	Window   time.Duration
	// Now anchors the recency window; zero means the pipeline clock.
	Now time.Time
}

// Pipeline runs digests. At most one Run or Compare executes at a time.
type Pipeline struct {
	cfg     Config
	deps    Deps
	merger  *merge.Merger
	running atomic.Bool
	last    atomic.Pointer[Report]
}

// New validates deps and returns a Pipeline.
func New(cfg Config, deps Deps) (*Pipeline, error) {
	switch {
	case len(deps.Chain) == 0:
		return nil, fmt.Errorf("adapter chain is empty")
	case deps.Digest == nil:
		return nil, fmt.Errorf("digest builder is required")
	case deps.Notifier == nil:
		return nil, fmt.Errorf("notifier is required")
	case deps.IDs == nil:
		return nil, fmt.Errorf("run id source is required")
	}
	if cfg.DefaultWindow < 0 {
		return nil, fmt.Errorf("default window must be >= 0")
	}
	if deps.Events == nil {
		deps.Events = runlog.Discard
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if cfg.Rate.Now == nil {
		cfg.Rate.Now = deps.Now
	}
	if _, err := governor.New(cfg.Rate); err != nil {
		return nil, err
	}
	priority := make([]string, 0, len(deps.Chain))
	for _, a := range deps.Chain {
		priority = append(priority, a.ID())
	}
	return &Pipeline{cfg: cfg, deps: deps, merger: merge.New(priority)}, nil
}

// Last returns the most recent finished report, if any.
func (p *Pipeline) Last() (Report, bool) {
	r := p.last.Load()
	if r == nil {
		return Report{}, false
	}
	return *r, true
}

// Run executes one digest run. The returned error is non-nil only when
// another run is active (ErrBusy) or the run failed before delivery, in which
// case an error notice has been attempted. Degraded digests and delivery
// failures are reported in Report, not as errors.
func (p *Pipeline) Run(ctx context.Context, req Request) (Report, error) {
	if !p.running.CompareAndSwap(false, true) {
		return Report{}, ErrBusy
	}
	defer p.running.Store(false)

	started := p.deps.Now().UTC()
	rep := Report{Started: started, Status: StatusFailed}
	runID, err := p.newRunID()
	if err != nil {
		p.fail(ctx, &rep, uuid.Nil, err)
		p.store(&rep)
		return rep, err
	}
	rep.RunID = runID.String()
	logger := p.deps.Logger.With(zap.String("run_id", rep.RunID))

	ctx, span := telemetry.Tracer().Start(ctx, "pipeline.run")
	span.SetAttributes(attribute.String("run_id", rep.RunID))
	defer span.End()

	msg, err := p.guarded(ctx, runID, req, &rep, logger)
	rep.Finished = p.deps.Now().UTC()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.fail(ctx, &rep, runID, err)
		p.store(&rep)
		return rep, err
	}
	p.finish(ctx, runID, &rep, msg, logger)
	p.store(&rep)
	return rep, nil
}

// Compare runs every adapter for every account without merging or
// delivering, so adapters can be evaluated side by side.
func (p *Pipeline) Compare(ctx context.Context, accounts []post.AccountTarget) (orchestrator.Report, error) {
	if len(accounts) == 0 {
		return orchestrator.Report{}, fmt.Errorf("%w: %w", ErrInvalidRequest, post.ErrNoAccounts)
	}
	if !p.running.CompareAndSwap(false, true) {
		return orchestrator.Report{}, ErrBusy
	}
	defer p.running.Store(false)

	runID, err := p.newRunID()
	if err != nil {
		return orchestrator.Report{}, err
	}
	gov, err := governor.New(p.cfg.Rate)
	if err != nil {
		return orchestrator.Report{}, fmt.Errorf("build governor: %w", err)
	}
	cfg := p.cfg.Fetch
	cfg.CompareMode = true
	orch, err := orchestrator.New(cfg, p.deps.Chain, gov, orchestrator.Options{
		RunID:  runID,
		Events: p.deps.Events,
		Logger: p.deps.Logger.With(zap.String("run_id", runID.String()), zap.Bool("compare", true)),
		Now:    p.deps.Now,
	})
	if err != nil {
		return orchestrator.Report{}, fmt.Errorf("build orchestrator: %w", err)
	}
	defer p.endRun()
	return orch.Run(ctx, accounts), nil
}

// guarded runs the stages up to and including delivery, converting panics
// into errors so the caller can still send a notice.
func (p *Pipeline) guarded(
	ctx context.Context,
	runID uuid.UUID,
	req Request,
	rep *Report,
	logger *zap.Logger,
) (msg delivery.Message, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("pipeline panic", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("pipeline panic: %v", r)
		}
	}()

	p.emit(runID, runlog.Event{Stage: runlog.StageRunStart, Note: fmt.Sprintf("%d accounts", len(req.Accounts))})

	window, now, err := p.validate(req)
	if err != nil {
		return msg, err
	}
	rep.Window = window
	rep.WindowTo = now
	rep.WindowFrom = now.Add(-window)

	gov, err := governor.New(p.cfg.Rate)
	if err != nil {
		return msg, fmt.Errorf("build governor: %w", err)
	}
	orch, err := orchestrator.New(p.cfg.Fetch, p.deps.Chain, gov, orchestrator.Options{
		RunID:  runID,
		Events: p.deps.Events,
		Logger: logger,
		Now:    p.deps.Now,
	})
	if err != nil {
		return msg, fmt.Errorf("build orchestrator: %w", err)
	}
	fetch := orch.Run(ctx, req.Accounts)
	p.endRun()
	rep.Accounts = summarizeAccounts(fetch)
	rep.Succeeded = fetch.Succeeded()
	rep.PostsCollected = fetch.PostCount()
	rep.BudgetExhausted = fetch.BudgetExhausted

	merged := p.merger.Merge(fetch.Batches()...)
	rep.PostsMerged = len(merged)
	kept, stats, err := recency.Filter(merged, now, window)
	if err != nil {
		return msg, fmt.Errorf("filter posts: %w", err)
	}
	rep.PostsKept = len(kept)
	rep.FilterStats = stats
	logger.Info("posts filtered",
		zap.Int("collected", rep.PostsCollected),
		zap.Int("merged", rep.PostsMerged),
		zap.Int("kept", stats.Kept),
		zap.Int("stale", stats.Stale),
		zap.Int("future", stats.Future),
		zap.Int("unparseable", stats.Unparseable),
	)

	d := p.deps.Digest.Build(ctx, kept, len(req.Accounts))
	rep.DigestKind = d.Kind
	rep.DigestStrategy = d.Strategy
	rep.SummarizerErrors = d.Errors

	msg = delivery.Format(d, delivery.Coverage{
		From:      rep.WindowFrom,
		To:        rep.WindowTo,
		Accounts:  len(req.Accounts),
		Succeeded: rep.Succeeded,
		Collected: rep.PostsCollected,
		Kept:      rep.PostsKept,
	})
	p.deliver(ctx, msg, rep, logger)
	return msg, nil
}

// endRun releases run-scoped adapter resources once fetching is over.
func (p *Pipeline) endRun() {
	for _, a := range p.deps.Chain {
		if rs, ok := a.(adapter.RunScoped); ok {
			rs.EndRun()
		}
	}
}

func (p *Pipeline) newRunID() (id uuid.UUID, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("mint run id: panic: %v", r)
		}
	}()
	id, err = p.deps.IDs.NewRunID()
	if err != nil {
		return uuid.Nil, fmt.Errorf("mint run id: %w", err)
	}
	return id, nil
}

func (p *Pipeline) validate(req Request) (time.Duration, time.Time, error) {
	if len(req.Accounts) == 0 {
		return 0, time.Time{}, fmt.Errorf("%w: %w", ErrInvalidRequest, post.ErrNoAccounts)
	}
	window := req.Window
	if window == 0 {
		window = p.cfg.DefaultWindow
	}
	if window <= 0 {
		return 0, time.Time{}, fmt.Errorf("%w: %w", ErrInvalidRequest, recency.ErrInvalidWindow)
	}
	now := req.Now
	if now.IsZero() {
		now = p.deps.Now()
	}
	return window, now.UTC(), nil
}

func (p *Pipeline) deliver(ctx context.Context, msg delivery.Message, rep *Report, logger *zap.Logger) {
	rep.Notifier = p.deps.Notifier.Name()
	if err := delivery.Deliver(ctx, p.deps.Notifier, msg); err != nil {
		rep.Status = StatusDeliveryFailed
		rep.DeliveryError = err.Error()
		logger.Error("digest delivery failed", zap.String("notifier", rep.Notifier), zap.Error(err))
		return
	}
	rep.Status = StatusDelivered
	rep.Delivered = true
	logger.Info("digest delivered",
		zap.String("notifier", rep.Notifier),
		zap.String("kind", string(rep.DigestKind)),
		zap.Int("posts", rep.PostsKept),
	)
}

func (p *Pipeline) putArtifact(ctx context.Context, rep *Report, name, contentType string, data []byte, logger *zap.Logger) {
	path := storage.ArtifactPath(p.cfg.ArtifactPrefix, rep.Started, rep.RunID, name)
	uri, err := p.deps.Artifacts.PutObject(ctx, path, contentType, bytes.NewReader(data))
	if err != nil {
		rep.ArtifactErrors = append(rep.ArtifactErrors, fmt.Sprintf("%s: %v", name, err))
		logger.Warn("artifact write failed", zap.String("path", path), zap.Error(err))
		return
	}
	if rep.Artifacts == nil {
		rep.Artifacts = make(map[string]string, 2)
	}
	rep.Artifacts[name] = uri
}

// finish persists the artifacts, publishes the report and closes the run
// log. Failures here are recorded on the report only.
func (p *Pipeline) finish(ctx context.Context, runID uuid.UUID, rep *Report, msg delivery.Message, logger *zap.Logger) {
	if p.deps.Artifacts != nil {
		p.putArtifact(ctx, rep, storage.DigestObject, storage.ContentTypeMarkdown, []byte(msg.Markdown()), logger)
		data, err := json.Marshal(rep)
		if err != nil {
			rep.ArtifactErrors = append(rep.ArtifactErrors, fmt.Sprintf("%s: %v", storage.ReportObject, err))
		} else {
			p.putArtifact(ctx, rep, storage.ReportObject, storage.ContentTypeJSON, data, logger)
		}
	}
	if p.deps.Publisher != nil {
		id, err := p.deps.Publisher.Publish(ctx, rep, map[string]string{
			"run_id": rep.RunID,
			"status": string(rep.Status),
			"kind":   string(rep.DigestKind),
		})
		if err != nil {
			logger.Warn("report publish failed", zap.Error(err))
		} else {
			rep.MessageID = id
		}
	}

	p.emit(runID, runlog.Event{
		Stage:   runlog.StageRunDone,
		Outcome: string(rep.Status),
		Items:   rep.PostsKept,
		Dur:     rep.Finished.Sub(rep.Started),
		Note:    string(rep.DigestKind),
	})
	logger.Info("run finished",
		zap.String("status", string(rep.Status)),
		zap.String("digest_kind", string(rep.DigestKind)),
		zap.Int("accounts_succeeded", rep.Succeeded),
		zap.Int("posts_kept", rep.PostsKept),
		zap.Bool("budget_exhausted", rep.BudgetExhausted),
		zap.Duration("elapsed", rep.Finished.Sub(rep.Started)),
	)
}

// fail records err and sends the catch-all error notice.
func (p *Pipeline) fail(ctx context.Context, rep *Report, runID uuid.UUID, err error) {
	rep.Status = StatusFailed
	rep.Error = err.Error()
	if rep.Finished.IsZero() {
		rep.Finished = p.deps.Now().UTC()
	}
	logger := p.deps.Logger.With(zap.String("run_id", rep.RunID))
	logger.Error("run failed before delivery", zap.Error(err))

	if runID != uuid.Nil {
		p.emit(runID, runlog.Event{
			Stage: runlog.StageRunError,
			Dur:   rep.Finished.Sub(rep.Started),
			Note:  err.Error(),
		})
	}

	noticeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), noticeTimeout)
	defer cancel()
	rep.Notifier = p.deps.Notifier.Name()
	if derr := delivery.Deliver(noticeCtx, p.deps.Notifier, delivery.FormatError(err, rep.Finished)); derr != nil {
		rep.DeliveryError = derr.Error()
		logger.Error("error notice delivery failed", zap.Error(derr))
	}
}

func (p *Pipeline) store(rep *Report) {
	snapshot := *rep
	p.last.Store(&snapshot)
}

func (p *Pipeline) emit(runID uuid.UUID, evt runlog.Event) {
	evt.RunID = runlog.IDBytes(runID)
	evt.TS = p.deps.Now().UTC()
	p.deps.Events.Emit(evt)
}

// Package browser implements the headless-browser capture adapter. It opens
// the public profile page in Chrome and intercepts the background timeline
// requests the page issues, decoding their JSON bodies.
package browser

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/ai-digest/internal/adapter"
	"github.com/JakeFAU/ai-digest/internal/adapter/timeline"
	"github.com/JakeFAU/ai-digest/internal/post"
)

// ID identifies this adapter in results, rate state, and run logs.
const ID = "browser"

const (
	defaultNavTimeout = 45 * time.Second
	defaultSettle     = 2 * time.Second
	bodyFetchTimeout  = 5 * time.Second
)

var (
	// ErrNoCapture is reported when the page never issued a timeline request.
	ErrNoCapture = errors.New("no timeline request captured")
	// ErrClosed is reported by fetches after Close.
	ErrClosed = errors.New("browser adapter closed")
)

// Config controls the headless browser.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	// Settle is how long to keep collecting after the first timeline capture.
	Settle      time.Duration
	ExecPath    string
	ProfileBase string
}

// Adapter drives headless Chrome through chromedp. A browser process is
// started on the first fetch of a run and shut down by EndRun or Close.
type Adapter struct {
	cfg      Config
	limiter  chan struct{}
	execOpts []chromedp.ExecAllocatorOption
	logger   *zap.Logger

	mu          sync.Mutex
	allocator   context.Context
	allocCancel context.CancelFunc
	closed      bool
}

// New creates a browser adapter. Close must be called to release the browser.
func New(cfg Config, logger *zap.Logger) (*Adapter, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.ProfileBase == "" {
		cfg.ProfileBase = "https://x.com"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("enable-automation", false),
		chromedp.WindowSize(1920, 1080),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}

	return &Adapter{
		cfg:      cfg,
		limiter:  limiter,
		execOpts: opts,
		logger:   logger,
	}, nil
}

// ID implements adapter.Adapter.
func (a *Adapter) ID() string { return ID }

// EndRun implements adapter.RunScoped by stopping the run's browser.
func (a *Adapter) EndRun() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.shutdownLocked()
}

// Close shuts the browser down for good. It is safe to call more than once.
func (a *Adapter) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	a.shutdownLocked()
}

func (a *Adapter) shutdownLocked() {
	if a.allocCancel != nil {
		a.allocCancel()
		a.logger.Debug("browser allocator released")
	}
	a.allocator, a.allocCancel = nil, nil
}

// browser returns the current run's allocator, creating it on first use.
func (a *Adapter) browser() (context.Context, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil, ErrClosed
	}
	if a.allocator == nil {
		a.allocator, a.allocCancel = chromedp.NewExecAllocator(context.Background(), a.execOpts...)
	}
	return a.allocator, nil
}

// Fetch implements adapter.Adapter.
func (a *Adapter) Fetch(ctx context.Context, account post.AccountTarget, limit int) adapter.Result {
	if err := a.acquire(ctx); err != nil {
		return adapter.Failed(ID, err)
	}
	defer a.release()

	return adapter.Guard(ID, func() adapter.Result {
		bodies, err := a.capture(ctx, account)
		if err != nil {
			return adapter.Failed(ID, err)
		}
		posts, err := timeline.DecodeAll(bodies, account, limit)
		if err != nil {
			return adapter.Failed(ID, err)
		}
		return adapter.Success(ID, posts)
	})
}

func (a *Adapter) capture(ctx context.Context, account post.AccountTarget) ([][]byte, error) {
	allocCtx, err := a.browser()
	if err != nil {
		return nil, err
	}
	taskCtx, taskCancel := chromedp.NewContext(allocCtx)
	defer taskCancel()
	stop := context.AfterFunc(ctx, taskCancel)
	defer stop()

	taskCtx, cancel := context.WithTimeout(taskCtx, a.navTimeout())
	defer cancel()

	capt := newCapture()
	profile := strings.TrimRight(a.cfg.ProfileBase, "/") + "/" + url.PathEscape(account.Handle)
	actions := []chromedp.Action{
		network.Enable(),
		a.userAgentAction(),
		chromedp.ActionFunc(func(actx context.Context) error {
			chromedp.ListenTarget(actx, capt.listener(actx))
			return nil
		}),
		chromedp.Navigate(profile),
	}
	// A navigation error after a capture still leaves usable data.
	if err := chromedp.Run(taskCtx, actions...); err != nil && len(capt.snapshot()) == 0 {
		return nil, fmt.Errorf("navigate %s: %w", profile, err)
	}

	select {
	case <-capt.first:
	case <-taskCtx.Done():
		return nil, adapter.NewError(adapter.ReasonTimeout, ErrNoCapture)
	}
	settle := time.NewTimer(a.settle())
	defer settle.Stop()
	select {
	case <-settle.C:
	case <-taskCtx.Done():
	}
	bodies := capt.snapshot()
	a.logger.Debug("browser capture finished",
		zap.String("account", account.Handle),
		zap.Int("payloads", len(bodies)),
		zap.Int("body_errors", capt.failures()),
	)
	return bodies, nil
}

func (a *Adapter) userAgentAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if a.cfg.UserAgent == "" {
			return nil
		}
		if err := emulation.SetUserAgentOverride(a.cfg.UserAgent).Do(ctx); err != nil {
			return fmt.Errorf("set user-agent: %w", err)
		}
		return nil
	})
}

func (a *Adapter) acquire(ctx context.Context) error {
	if a.limiter == nil {
		return ctx.Err()
	}
	select {
	case a.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("browser slot wait canceled: %w", ctx.Err())
	}
}

func (a *Adapter) release() {
	if a.limiter == nil {
		return
	}
	select {
	case <-a.limiter:
	default:
	}
}

func (a *Adapter) navTimeout() time.Duration {
	if a.cfg.NavigationTimeout > 0 {
		return a.cfg.NavigationTimeout
	}
	return defaultNavTimeout
}

func (a *Adapter) settle() time.Duration {
	if a.cfg.Settle > 0 {
		return a.cfg.Settle
	}
	return defaultSettle
}

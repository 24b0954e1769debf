// Package mirror implements the static-HTML fallback adapter. It fetches an
// alternate public front-end's profile page and parses posts from the markup,
// walking an ordered list of mirror hosts.
package mirror

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/ai-digest/internal/adapter"
	collyfetcher "github.com/JakeFAU/ai-digest/internal/fetcher/colly"
	"github.com/JakeFAU/ai-digest/internal/post"
)

// ID identifies this adapter in results, rate state, and run logs.
const ID = "mirror"

const defaultTimeout = 30 * time.Second

// PageFetcher performs one GET.
type PageFetcher interface {
	Fetch(ctx context.Context, request collyfetcher.Request) (collyfetcher.Response, error)
}

// Config controls the mirror walk.
type Config struct {
	Hosts []string
	// Timeout bounds the whole host walk for one account.
	Timeout time.Duration
}

// Adapter scrapes mirror profile pages.
type Adapter struct {
	cfg     Config
	fetcher PageFetcher
	pacer   Pacer
	logger  *zap.Logger
}

// New builds an Adapter. pacer may be nil to disable host pacing.
func New(cfg Config, fetcher PageFetcher, pacer Pacer, logger *zap.Logger) *Adapter {
	if len(cfg.Hosts) == 0 {
		cfg.Hosts = DefaultHosts
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{cfg: cfg, fetcher: fetcher, pacer: pacer, logger: logger}
}

// ID implements adapter.Adapter.
func (a *Adapter) ID() string { return ID }

// Fetch implements adapter.Adapter.
func (a *Adapter) Fetch(ctx context.Context, account post.AccountTarget, limit int) adapter.Result {
	return adapter.Guard(ID, func() adapter.Result {
		ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
		defer cancel()

		posts, err := Walk(ctx, a.cfg.Hosts, a.pacer, a.logger, func(ctx context.Context, base *url.URL) ([]post.Post, error) {
			return a.fetchHost(ctx, base, account, limit)
		})
		if err != nil {
			return adapter.Failed(ID, err)
		}
		return adapter.Success(ID, posts)
	})
}

func (a *Adapter) fetchHost(ctx context.Context, base *url.URL, account post.AccountTarget, limit int) ([]post.Post, error) {
	target := base.JoinPath(account.Handle)
	resp, err := a.fetcher.Fetch(ctx, collyfetcher.Request{
		URL:     target.String(),
		Headers: http.Header{"Accept": {"text/html,application/xhtml+xml"}},
	})
	if err != nil {
		return nil, err
	}
	if Suspicious(resp.URL, account.Handle) {
		return nil, adapter.NewError(adapter.ReasonTransport, fmt.Errorf("%w to %s", ErrSuspiciousRedirect, resp.URL))
	}
	posts, err := ParseTimeline(bytes.NewReader(resp.Body), account, limit)
	if err != nil {
		return nil, err
	}
	a.logger.Debug("mirror page parsed",
		zap.String("account", account.Handle),
		zap.String("host", base.Host),
		zap.Int("posts", len(posts)),
		zap.Duration("duration", resp.Duration),
	)
	return posts, nil
}

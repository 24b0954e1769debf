// Package feed implements the mirror RSS adapter. It reads the per-account
// feed that mirror front-ends publish, which survives some markup changes
// that break the HTML adapter but carries no engagement counts.
package feed

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"

	"github.com/JakeFAU/ai-digest/internal/adapter"
	"github.com/JakeFAU/ai-digest/internal/adapter/mirror"
	collyfetcher "github.com/JakeFAU/ai-digest/internal/fetcher/colly"
	"github.com/JakeFAU/ai-digest/internal/hash/sha256"
	"github.com/JakeFAU/ai-digest/internal/post"
	"github.com/JakeFAU/ai-digest/internal/timeparse"
)

// ID identifies this adapter in results, rate state, and run logs.
const ID = "feed"

const defaultTimeout = 30 * time.Second

var statusIDPattern = regexp.MustCompile(`/status/(\d+)`)

// Config controls the feed walk.
type Config struct {
	Hosts   []string
	Timeout time.Duration
}

// Adapter reads mirror RSS feeds.
type Adapter struct {
	cfg     Config
	fetcher mirror.PageFetcher
	pacer   mirror.Pacer
	logger  *zap.Logger
}

// New builds an Adapter sharing the mirror host list semantics.
func New(cfg Config, fetcher mirror.PageFetcher, pacer mirror.Pacer, logger *zap.Logger) *Adapter {
	if len(cfg.Hosts) == 0 {
		cfg.Hosts = mirror.DefaultHosts
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

		posts, err := mirror.Walk(ctx, a.cfg.Hosts, a.pacer, a.logger, func(ctx context.Context, base *url.URL) ([]post.Post, error) {
			return a.fetchHost(ctx, base, account, limit)
		})
		if err != nil {
			return adapter.Failed(ID, err)
		}
		return adapter.Success(ID, posts)
	})
}

func (a *Adapter) fetchHost(ctx context.Context, base *url.URL, account post.AccountTarget, limit int) ([]post.Post, error) {
	resp, err := a.fetcher.Fetch(ctx, collyfetcher.Request{
		URL:     base.JoinPath(account.Handle, "rss").String(),
		Headers: http.Header{"Accept": {"application/rss+xml, application/xml"}},
	})
	if err != nil {
		return nil, err
	}
	if mirror.Suspicious(resp.URL, account.Handle) {
		return nil, adapter.NewError(adapter.ReasonTransport, fmt.Errorf("%w to %s", mirror.ErrSuspiciousRedirect, resp.URL))
	}
	return Decode(resp.Body, account, limit)
}

// Decode parses an RSS or Atom document into posts. Reposts are skipped.
func Decode(body []byte, account post.AccountTarget, limit int) ([]post.Post, error) {
	parsed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, adapter.Parse(fmt.Errorf("parse feed: %w", err))
	}
	posts := make([]post.Post, 0, len(parsed.Items))
	seen := make(map[string]struct{})
	for _, item := range parsed.Items {
		if limit > 0 && len(posts) >= limit {
			break
		}
		if item == nil || strings.HasPrefix(item.Title, "RT by ") {
			continue
		}
		p, ok := itemPost(item, account)
		if !ok {
			continue
		}
		if _, dup := seen[p.ID]; dup {
			continue
		}
		seen[p.ID] = struct{}{}
		posts = append(posts, p)
	}
	return posts, nil
}

func itemPost(item *gofeed.Item, account post.AccountTarget) (post.Post, bool) {
	text := strings.TrimSpace(item.Title)
	if text == "" {
		text = strings.TrimSpace(item.Description)
	}
	if text == "" {
		return post.Post{}, false
	}
	p := post.Post{Account: account.Handle, Text: text}
	switch {
	case item.PublishedParsed != nil:
		p.Timestamp = item.PublishedParsed.UTC()
	default:
		if ts, err := timeparse.Parse(item.Published); err == nil {
			p.Timestamp = ts
		} else {
			p.RawTimestamp = item.Published
		}
	}
	ref := item.GUID
	if ref == "" {
		ref = item.Link
	}
	if m := statusIDPattern.FindStringSubmatch(ref); m != nil {
		p.ID = m[1]
		p.URL = "https://x.com/" + account.Handle + "/status/" + m[1]
	} else {
		p.ID = sha256.Fingerprint(account.Handle, item.Published, text)
	}
	return p, true
}

// Package proxy implements the managed scraping-service adapter. The service
// renders the profile page behind residential proxies and returns the
// background API calls the page issued, which carry the timeline payload.
package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jmespath/go-jmespath"
	"go.uber.org/zap"

	"github.com/JakeFAU/ai-digest/internal/adapter"
	"github.com/JakeFAU/ai-digest/internal/adapter/timeline"
	"github.com/JakeFAU/ai-digest/internal/post"
)

// ID identifies this adapter in results, rate state, and run logs.
const ID = "proxy"

const (
	defaultEndpoint      = "https://api.scrapfly.io"
	defaultTimeout       = 90 * time.Second
	defaultRenderingWait = 5 * time.Second
	maxResponseBytes     = 32 << 20
	tweetSelector        = "[data-testid='tweet']"
)

var xhrBodiesQuery = jmespath.MustCompile(
	"result.browser_data.xhr_call[?contains(url, 'UserTweets') || contains(url, 'UserMedia')].response.body",
)

// Config controls the scraping-service request.
type Config struct {
	APIKey        string
	Endpoint      string
	Country       string
	ProxyPool     string
	RenderingWait time.Duration
	Timeout       time.Duration
	ProfileBase   string
}

// Adapter fetches profile timelines through the scraping service.
type Adapter struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// New builds an Adapter. A zero-value APIKey yields an adapter that always
// reports itself as unavailable.
func New(cfg Config, client *http.Client, logger *zap.Logger) *Adapter {
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultEndpoint
	}
	if cfg.Country == "" {
		cfg.Country = "us"
	}
	if cfg.ProxyPool == "" {
		cfg.ProxyPool = "public_residential_pool"
	}
	if cfg.RenderingWait <= 0 {
		cfg.RenderingWait = defaultRenderingWait
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.ProfileBase == "" {
		cfg.ProfileBase = "https://x.com"
	}
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{cfg: cfg, client: client, logger: logger}
}

// ID implements adapter.Adapter.
func (a *Adapter) ID() string { return ID }

// Available implements adapter.Availability.
func (a *Adapter) Available() bool {
	return strings.TrimSpace(a.cfg.APIKey) != ""
}

// Fetch implements adapter.Adapter.
func (a *Adapter) Fetch(ctx context.Context, account post.AccountTarget, limit int) adapter.Result {
	if !a.Available() {
		return adapter.Skipped(ID, "api key not configured")
	}
	return adapter.Guard(ID, func() adapter.Result {
		ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
		defer cancel()

		bodies, err := a.scrape(ctx, account)
		if err != nil {
			return adapter.Failed(ID, err)
		}
		posts, err := timeline.DecodeAll(bodies, account, limit)
		if err != nil {
			return adapter.Failed(ID, err)
		}
		a.logger.Debug("proxy capture decoded",
			zap.String("account", account.Handle),
			zap.Int("payloads", len(bodies)),
			zap.Int("posts", len(posts)),
		)
		return adapter.Success(ID, posts)
	})
}

func (a *Adapter) scrape(ctx context.Context, account post.AccountTarget) ([][]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.requestURL(account), nil)
	if err != nil {
		return nil, fmt.Errorf("build scrape request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("scrape request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &adapter.StatusError{Code: resp.StatusCode, URL: a.cfg.Endpoint}
	}
	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read scrape response: %w", err)
	}

	var doc any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, adapter.Parse(fmt.Errorf("decode scrape response: %w", err))
	}
	raw, err := xhrBodiesQuery.Search(doc)
	if err != nil {
		return nil, adapter.Parse(fmt.Errorf("query xhr calls: %w", err))
	}
	values, _ := raw.([]any)
	bodies := make([][]byte, 0, len(values))
	for _, v := range values {
		if s, ok := v.(string); ok && s != "" {
			bodies = append(bodies, []byte(s))
		}
	}
	if len(bodies) == 0 {
		return nil, adapter.NewError(adapter.ReasonEmpty, timeline.ErrNoPayload)
	}
	return bodies, nil
}

func (a *Adapter) requestURL(account post.AccountTarget) string {
	q := url.Values{}
	q.Set("key", a.cfg.APIKey)
	q.Set("url", strings.TrimRight(a.cfg.ProfileBase, "/")+"/"+url.PathEscape(account.Handle))
	q.Set("render_js", "true")
	q.Set("wait_for_selector", tweetSelector)
	q.Set("rendering_wait", strconv.FormatInt(a.cfg.RenderingWait.Milliseconds(), 10))
	q.Set("country", a.cfg.Country)
	q.Set("proxy_pool", a.cfg.ProxyPool)
	q.Set("asp", "true")
	return strings.TrimRight(a.cfg.Endpoint, "/") + "/scrape?" + q.Encode()
}

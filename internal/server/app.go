// Package server builds the digest application from configuration and owns
// its long-lived clients.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/ai-digest/internal/adapter"
	"github.com/JakeFAU/ai-digest/internal/adapter/browser"
	"github.com/JakeFAU/ai-digest/internal/adapter/feed"
	"github.com/JakeFAU/ai-digest/internal/adapter/mirror"
	"github.com/JakeFAU/ai-digest/internal/adapter/proxy"
	"github.com/JakeFAU/ai-digest/internal/api"
	"github.com/JakeFAU/ai-digest/internal/clock/system"
	"github.com/JakeFAU/ai-digest/internal/config"
	"github.com/JakeFAU/ai-digest/internal/delivery"
	"github.com/JakeFAU/ai-digest/internal/digest"
	collyfetcher "github.com/JakeFAU/ai-digest/internal/fetcher/colly"
	"github.com/JakeFAU/ai-digest/internal/governor"
	"github.com/JakeFAU/ai-digest/internal/id/uuid"
	"github.com/JakeFAU/ai-digest/internal/logging"
	"github.com/JakeFAU/ai-digest/internal/orchestrator"
	"github.com/JakeFAU/ai-digest/internal/pipeline"
	"github.com/JakeFAU/ai-digest/internal/policy/ratelimit"
	"github.com/JakeFAU/ai-digest/internal/post"
	"github.com/JakeFAU/ai-digest/internal/publisher"
	gcppublisher "github.com/JakeFAU/ai-digest/internal/publisher/pubsub"
	"github.com/JakeFAU/ai-digest/internal/runlog"
	"github.com/JakeFAU/ai-digest/internal/runlog/sinks"
	blobstorage "github.com/JakeFAU/ai-digest/internal/storage"
	gcsstorage "github.com/JakeFAU/ai-digest/internal/storage/gcs"
	localstorage "github.com/JakeFAU/ai-digest/internal/storage/local"
	pgstore "github.com/JakeFAU/ai-digest/internal/storage/postgres"
	"github.com/JakeFAU/ai-digest/internal/summarize/gemini"
	"github.com/JakeFAU/ai-digest/internal/summarize/openai"
	"github.com/JakeFAU/ai-digest/internal/telemetry"
)

// Version is stamped into traces; overridden at link time.
var Version = "dev"

// App contains the application's dependencies.
type App struct {
	cfg             config.Config
	logger          *zap.Logger
	accounts        []post.AccountTarget
	pipeline        *pipeline.Pipeline
	runlogHub       *runlog.Hub
	browser         *browser.Adapter
	pubsubClient    *pubsub.Client
	pubsubPublisher *pubsub.Publisher
	storage         *storage.Client
	attemptStore    *pgstore.AttemptStore
	tracerShutdown  func(context.Context) error
}

// Build creates the application's dependencies and installs the global logger.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(logging.Config{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
	})
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return build(ctx, cfg, logger, prometheus.DefaultRegisterer)
}

func build(ctx context.Context, cfg config.Config, logger *zap.Logger, reg prometheus.Registerer) (_ *App, err error) {
	accounts, err := cfg.AccountTargets()
	if err != nil {
		return nil, err
	}
	app := &App{cfg: cfg, logger: logger, accounts: accounts}
	defer func() {
		if err != nil {
			closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			_ = app.Close(closeCtx)
		}
	}()

	app.logger.Info("building application",
		zap.Int("accounts", len(accounts)),
		zap.Duration("window", cfg.Window),
		zap.Strings("chain", cfg.Run.Chain),
		zap.Duration("budget", cfg.Run.Budget),
	)

	tp, err := telemetry.InitTracerProvider(ctx, telemetry.TracingConfig{
		ServiceName: cfg.Telemetry.ServiceName,
		Version:     Version,
		ProjectID:   cfg.Telemetry.ProjectID,
	})
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}
	app.tracerShutdown = tp.Shutdown

	clock := system.New()
	chain, err := setupChain(app, clock)
	if err != nil {
		return nil, err
	}
	artifacts, err := setupArtifacts(ctx, app)
	if err != nil {
		return nil, err
	}
	pub, err := setupPublisher(ctx, app)
	if err != nil {
		return nil, err
	}
	events, err := setupRunlog(ctx, app, reg)
	if err != nil {
		return nil, err
	}
	notifier, err := setupNotifier(app)
	if err != nil {
		return nil, err
	}

	app.pipeline, err = pipeline.New(
		pipeline.Config{
			Fetch: orchestrator.Config{
				Concurrency: cfg.Run.Concurrency,
				Budget:      cfg.Run.Budget,
				CallTimeout: cfg.Run.CallTimeout,
				FetchLimit:  cfg.Run.FetchLimit,
				CompareMode: cfg.Run.Compare,
				AcceptEmpty: cfg.Run.AcceptEmpty,
			},
			Rate: governor.Config{
				Baseline: cfg.Governor.Baseline,
				Ceiling:  cfg.Governor.Ceiling,
				Factor:   cfg.Governor.Factor,
				Decay:    cfg.Governor.Decay,
				Now:      clock.Now,
			},
			DefaultWindow:  cfg.Window,
			ArtifactPrefix: cfg.Artifacts.Prefix,
		},
		pipeline.Deps{
			Chain:     chain,
			Digest:    setupDigest(ctx, app),
			Notifier:  notifier,
			Artifacts: artifacts,
			Publisher: pub,
			Events:    events,
			IDs:       uuid.New(),
			Logger:    logger.Named("pipeline"),
			Now:       clock.Now,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("pipeline init failed: %w", err)
	}
	return app, nil
}

// Accounts returns the configured account list.
func (a *App) Accounts() []post.AccountTarget {
	return append([]post.AccountTarget(nil), a.accounts...)
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// RunOnce executes one digest run over the configured accounts unless req
// overrides them.
func (a *App) RunOnce(ctx context.Context, req pipeline.Request) (pipeline.Report, error) {
	if len(req.Accounts) == 0 {
		req.Accounts = a.Accounts()
	}
	return a.pipeline.Run(ctx, req)
}

// Compare runs every adapter for every account without building a digest.
func (a *App) Compare(ctx context.Context, accounts []post.AccountTarget) (orchestrator.Report, error) {
	if len(accounts) == 0 {
		accounts = a.Accounts()
	}
	return a.pipeline.Compare(ctx, accounts)
}

// Serve runs the diagnostics HTTP server until ctx is canceled.
func (a *App) Serve(ctx context.Context, addr string) error {
	if addr == "" {
		addr = a.cfg.Server.Addr
	}
	apiServer := api.NewServer(a.pipeline, api.Config{
		APIKey:         a.cfg.Server.APIKey,
		RequestTimeout: a.cfg.Server.RequestTimeout,
		Accounts:       a.Accounts(),
		Window:         a.cfg.Window,
	}, a.logger.Named("api"))

	srv := &http.Server{
		Addr:              addr,
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown initiated")
	case serveErr = <-errCh:
		a.logger.Error("http server error", zap.Error(serveErr))
	}

	grace := a.cfg.Server.ShutdownGrace
	if grace <= 0 {
		grace = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), grace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	if serveErr != nil {
		return fmt.Errorf("http server: %w", serveErr)
	}
	return nil
}

// Close gracefully shuts down the application. It is safe on a partially
// built App.
func (a *App) Close(ctx context.Context) error {
	a.closeInfrastructure(ctx)
	a.closeObservability(ctx)
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure(ctx context.Context) {
	// The hub drains into the attempt store, so it closes first.
	if a.runlogHub != nil {
		if err := a.runlogHub.Close(ctx); err != nil {
			a.logger.Warn("runlog hub close failed", zap.Error(err))
		}
	}
	if a.browser != nil {
		a.browser.Close()
	}
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.attemptStore != nil {
		a.attemptStore.Close()
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}

func setupChain(app *App, clock *system.Clock) ([]adapter.Adapter, error) {
	cfg := app.cfg
	var (
		chain   []adapter.Adapter
		fetcher *collyfetcher.Fetcher
		pacer   *ratelimit.Limiter
	)
	// Mirror and feed share one transport and one per-host pacer.
	hostDeps := func() (*collyfetcher.Fetcher, *ratelimit.Limiter) {
		if fetcher == nil {
			fetcher = collyfetcher.New(collyfetcher.Config{
				UserAgent: cfg.Mirror.UserAgent,
				Timeout:   cfg.Mirror.Timeout,
			})
			pacer = ratelimit.New(ratelimit.Config{
				RPS:      cfg.Mirror.RPS,
				Burst:    cfg.Mirror.Burst,
				Cooldown: cfg.Mirror.Cooldown,
				Now:      clock.Now,
			})
		}
		return fetcher, pacer
	}

	for _, id := range cfg.Run.Chain {
		switch id {
		case config.AdapterProxy:
			chain = append(chain, proxy.New(proxy.Config{
				APIKey:        cfg.Proxy.APIKey,
				Endpoint:      cfg.Proxy.Endpoint,
				Country:       cfg.Proxy.Country,
				ProxyPool:     cfg.Proxy.ProxyPool,
				RenderingWait: cfg.Proxy.RenderingWait,
				Timeout:       cfg.Proxy.Timeout,
			}, &http.Client{}, app.logger.Named("proxy")))
		case config.AdapterBrowser:
			b, err := browser.New(browser.Config{
				MaxParallel:       cfg.Browser.MaxParallel,
				UserAgent:         cfg.Browser.UserAgent,
				NavigationTimeout: cfg.Browser.NavigationTimeout,
				Settle:            cfg.Browser.Settle,
				ExecPath:          cfg.Browser.ExecPath,
			}, app.logger.Named("browser"))
			if err != nil {
				app.logger.Warn("browser adapter init failed, dropping it from the chain", zap.Error(err))
				continue
			}
			app.browser = b
			chain = append(chain, b)
		case config.AdapterMirror:
			f, p := hostDeps()
			chain = append(chain, mirror.New(mirror.Config{
				Hosts:   cfg.Mirror.Hosts,
				Timeout: cfg.Mirror.Timeout,
			}, f, p, app.logger.Named("mirror")))
		case config.AdapterFeed:
			f, p := hostDeps()
			chain = append(chain, feed.New(feed.Config{
				Hosts:   cfg.Feed.Hosts,
				Timeout: cfg.Feed.Timeout,
			}, f, p, app.logger.Named("feed")))
		default:
			return nil, fmt.Errorf("unknown adapter %q", id)
		}
	}
	if len(chain) == 0 {
		return nil, fmt.Errorf("no adapters available")
	}
	ids := make([]string, len(chain))
	for i, a := range chain {
		ids[i] = a.ID()
	}
	app.logger.Info("adapter chain ready", zap.Strings("adapters", ids))
	return chain, nil
}

func setupDigest(ctx context.Context, app *App) *digest.Builder {
	cfg := app.cfg.Summarizer
	var strategies []digest.Strategy
	for _, name := range cfg.Order {
		switch name {
		case gemini.Name:
			s, err := gemini.New(ctx, gemini.Config{
				APIKey:  cfg.GeminiAPIKey,
				Model:   cfg.GeminiModel,
				Timeout: cfg.Timeout,
			})
			if err != nil {
				app.logger.Info("gemini summarizer disabled", zap.Error(err))
				continue
			}
			strategies = append(strategies, s)
		case openai.Name:
			s, err := openai.New(openai.Config{
				APIKey:   cfg.OpenAIAPIKey,
				Model:    cfg.OpenAIModel,
				Endpoint: cfg.OpenAIEndpoint,
				Timeout:  cfg.Timeout,
			}, nil)
			if err != nil {
				app.logger.Info("openai summarizer disabled", zap.Error(err))
				continue
			}
			strategies = append(strategies, s)
		}
	}
	strategies = append(strategies, digest.Manual{})
	return digest.NewBuilder(app.cfg.Digest.MaxItems, strategies, app.logger.Named("digest"))
}

func setupNotifier(app *App) (delivery.Notifier, error) {
	cfg := app.cfg.Delivery
	kind := cfg.Notifier
	if kind == config.NotifierAuto {
		switch {
		case cfg.SlackWebhookURL != "":
			kind = config.NotifierSlack
		case cfg.DiscordWebhookURL != "":
			kind = config.NotifierDiscord
		default:
			kind = config.NotifierLog
		}
	}
	switch kind {
	case config.NotifierSlack:
		n, err := delivery.NewSlackNotifier(cfg.SlackWebhookURL, &http.Client{Timeout: cfg.Timeout})
		if err != nil {
			return nil, fmt.Errorf("slack notifier init failed: %w", err)
		}
		app.logger.Info("delivering to slack")
		return n, nil
	case config.NotifierDiscord:
		n, err := delivery.NewDiscordNotifier(cfg.DiscordWebhookURL)
		if err != nil {
			return nil, fmt.Errorf("discord notifier init failed: %w", err)
		}
		app.logger.Info("delivering to discord")
		return n, nil
	default:
		app.logger.Warn("no webhook configured, digests will only be logged")
		return delivery.NewLogNotifier(app.logger.Named("delivery")), nil
	}
}

func setupArtifacts(ctx context.Context, app *App) (blobstorage.BlobStore, error) {
	cfg := app.cfg.Artifacts
	if !cfg.Enabled {
		app.logger.Info("artifact storage disabled")
		return nil, nil
	}
	if cfg.GCSBucket != "" {
		var err error
		app.storage, err = storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		store, err := gcsstorage.New(app.storage, gcsstorage.Config{
			Bucket:       cfg.GCSBucket,
			CacheControl: cfg.CacheControl,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.logger.Info("using GCS artifact storage", zap.String("bucket", cfg.GCSBucket))
		return store, nil
	}
	store, err := localstorage.New(localstorage.Config{BaseDir: cfg.Dir})
	if err != nil {
		return nil, fmt.Errorf("local blob store init failed: %w", err)
	}
	app.logger.Info("using local artifact storage", zap.String("path", cfg.Dir))
	return store, nil
}

func setupPublisher(ctx context.Context, app *App) (publisher.Publisher, error) {
	cfg := app.cfg.PubSub
	if cfg.Topic == "" {
		app.logger.Debug("no Pub/Sub topic configured, reports will not be published")
		return nil, nil
	}
	var err error
	app.pubsubClient, err = pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.pubsubPublisher = app.pubsubClient.Publisher(cfg.Topic)
	app.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", cfg.ProjectID),
		zap.String("topic", cfg.Topic),
	)
	return gcppublisher.New(app.pubsubPublisher), nil
}

func setupRunlog(ctx context.Context, app *App, reg prometheus.Registerer) (runlog.Emitter, error) {
	cfg := app.cfg.Runlog
	sinkList := []runlog.Sink{sinks.NewLogSink(app.logger.Named("runlog"))}

	promSink, err := sinks.NewPrometheusSink(reg)
	if err != nil {
		return nil, fmt.Errorf("runlog prometheus sink init failed: %w", err)
	}
	sinkList = append(sinkList, promSink)

	if cfg.JSONLPath != "" {
		jsonl, err := sinks.NewJSONLSink(cfg.JSONLPath)
		if err != nil {
			return nil, fmt.Errorf("runlog jsonl sink init failed: %w", err)
		}
		sinkList = append(sinkList, jsonl)
		app.logger.Info("runlog jsonl sink enabled", zap.String("path", cfg.JSONLPath))
	}

	if cfg.PostgresDSN != "" {
		app.attemptStore, err = pgstore.NewAttemptStore(ctx, pgstore.Config{
			DSN:           cfg.PostgresDSN,
			RunsTable:     cfg.RunsTable,
			AttemptsTable: cfg.AttemptsTable,
			MaxConns:      cfg.MaxConns,
		})
		if err != nil {
			return nil, fmt.Errorf("attempt store init failed: %w", err)
		}
		sinkList = append(sinkList, sinks.NewStoreSink(app.attemptStore, app.logger.Named("runlog_store")))
		app.logger.Info("runlog postgres sink enabled", zap.String("table", cfg.AttemptsTable))
	}

	hubCfg := runlog.Config{
		BufferSize:     cfg.BufferSize,
		MaxBatchEvents: cfg.MaxBatchEvents,
		MaxBatchWait:   cfg.MaxBatchWait,
		SinkTimeout:    cfg.SinkTimeout,
		BaseContext:    context.WithoutCancel(ctx),
		Logger:         app.logger.Named("runlog_hub"),
	}
	app.runlogHub = runlog.NewHub(hubCfg, sinkList...)
	app.logger.Info("runlog hub initialized",
		zap.Int("sinks", len(sinkList)),
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
	)
	return app.runlogHub, nil
}

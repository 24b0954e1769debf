// Package config loads and validates digest configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/ai-digest/internal/post"
)

// EnvPrefix prefixes every environment override, e.g. DIGEST_RUN_BUDGET.
const EnvPrefix = "DIGEST"

// Adapter identifiers accepted in run.chain.
const (
	AdapterProxy   = "proxy"
	AdapterBrowser = "browser"
	AdapterMirror  = "mirror"
	AdapterFeed    = "feed"
)

// Notifier selections accepted in delivery.notifier.
const (
	NotifierAuto    = "auto"
	NotifierSlack   = "slack"
	NotifierDiscord = "discord"
	NotifierLog     = "log"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Logging    LoggingConfig    `mapstructure:"logging"`
	Accounts   []string         `mapstructure:"accounts"`
	Window     time.Duration    `mapstructure:"window"`
	Run        RunConfig        `mapstructure:"run"`
	Governor   GovernorConfig   `mapstructure:"governor"`
	Proxy      ProxyConfig      `mapstructure:"proxy"`
	Browser    BrowserConfig    `mapstructure:"browser"`
	Mirror     MirrorConfig     `mapstructure:"mirror"`
	Feed       FeedConfig       `mapstructure:"feed"`
	Summarizer SummarizerConfig `mapstructure:"summarizer"`
	Digest     DigestConfig     `mapstructure:"digest"`
	Delivery   DeliveryConfig   `mapstructure:"delivery"`
	Runlog     RunlogConfig     `mapstructure:"runlog"`
	Artifacts  ArtifactsConfig  `mapstructure:"artifacts"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Server     ServerConfig     `mapstructure:"server"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// RunConfig governs the fetch phase.
type RunConfig struct {
	// Chain lists adapters in priority order.
	Chain       []string      `mapstructure:"chain"`
	Budget      time.Duration `mapstructure:"budget"`
	Concurrency int           `mapstructure:"concurrency"`
	Compare     bool          `mapstructure:"compare"`
	AcceptEmpty bool          `mapstructure:"accept_empty"`
	FetchLimit  int           `mapstructure:"fetch_limit"`
	CallTimeout time.Duration `mapstructure:"call_timeout"`
}

// GovernorConfig shapes per-adapter backoff.
type GovernorConfig struct {
	Baseline time.Duration `mapstructure:"baseline"`
	Ceiling  time.Duration `mapstructure:"ceiling"`
	Factor   float64       `mapstructure:"factor"`
	Decay    float64       `mapstructure:"decay"`
}

// ProxyConfig configures the scraping-service adapter.
type ProxyConfig struct {
	APIKey        string        `mapstructure:"api_key"`
	Endpoint      string        `mapstructure:"endpoint"`
	Country       string        `mapstructure:"country"`
	ProxyPool     string        `mapstructure:"proxy_pool"`
	RenderingWait time.Duration `mapstructure:"rendering_wait"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// BrowserConfig configures the headless browser adapter.
type BrowserConfig struct {
	MaxParallel       int           `mapstructure:"max_parallel"`
	UserAgent         string        `mapstructure:"user_agent"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	Settle            time.Duration `mapstructure:"settle"`
	ExecPath          string        `mapstructure:"exec_path"`
}

// MirrorConfig configures the HTML mirror adapter and the shared host pacer.
type MirrorConfig struct {
	Hosts     []string      `mapstructure:"hosts"`
	UserAgent string        `mapstructure:"user_agent"`
	Timeout   time.Duration `mapstructure:"timeout"`
	RPS       float64       `mapstructure:"rps"`
	Burst     int           `mapstructure:"burst"`
	Cooldown  time.Duration `mapstructure:"cooldown"`
}

// FeedConfig configures the RSS adapter. Empty hosts reuse mirror.hosts.
type FeedConfig struct {
	Hosts   []string      `mapstructure:"hosts"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// SummarizerConfig configures the AI rungs of the digest ladder.
type SummarizerConfig struct {
	// Order lists AI summarizers tried before the manual digest.
	Order          []string      `mapstructure:"order"`
	GeminiAPIKey   string        `mapstructure:"gemini_api_key"`
	GeminiModel    string        `mapstructure:"gemini_model"`
	OpenAIAPIKey   string        `mapstructure:"openai_api_key"`
	OpenAIModel    string        `mapstructure:"openai_model"`
	OpenAIEndpoint string        `mapstructure:"openai_endpoint"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

// DigestConfig bounds the digest input.
type DigestConfig struct {
	MaxItems int `mapstructure:"max_items"`
}

// DeliveryConfig selects the notifier.
type DeliveryConfig struct {
	Notifier          string        `mapstructure:"notifier"`
	SlackWebhookURL   string        `mapstructure:"slack_webhook_url"`
	DiscordWebhookURL string        `mapstructure:"discord_webhook_url"`
	Timeout           time.Duration `mapstructure:"timeout"`
}

// RunlogConfig configures the diagnostic run-log hub and its sinks.
type RunlogConfig struct {
	BufferSize     int           `mapstructure:"buffer_size"`
	MaxBatchEvents int           `mapstructure:"max_batch_events"`
	MaxBatchWait   time.Duration `mapstructure:"max_batch_wait"`
	SinkTimeout    time.Duration `mapstructure:"sink_timeout"`
	JSONLPath      string        `mapstructure:"jsonl_path"`
	PostgresDSN    string        `mapstructure:"postgres_dsn"`
	RunsTable      string        `mapstructure:"runs_table"`
	AttemptsTable  string        `mapstructure:"attempts_table"`
	MaxConns       int32         `mapstructure:"max_conns"`
}

// ArtifactsConfig sets where run artifacts are written.
type ArtifactsConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Dir          string `mapstructure:"dir"`
	GCSBucket    string `mapstructure:"gcs_bucket"`
	Prefix       string `mapstructure:"prefix"`
	CacheControl string `mapstructure:"cache_control"`
}

// PubSubConfig holds the report topic.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// ServerConfig controls the diagnostics HTTP server.
type ServerConfig struct {
	Addr           string        `mapstructure:"addr"`
	APIKey         string        `mapstructure:"api_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	ShutdownGrace  time.Duration `mapstructure:"shutdown_grace"`
}

// TelemetryConfig controls tracing export.
type TelemetryConfig struct {
	ServiceName string `mapstructure:"service_name"`
	ProjectID   string `mapstructure:"project_id"`
}

// DefaultAccounts is the monitored account list used when none is configured.
var DefaultAccounts = []string{
	"OpenAI",
	"xai",
	"AnthropicAI",
	"GoogleDeepMind",
	"MistralAI",
	"AIatMeta",
	"Cohere",
	"perplexity_ai",
	"scale_ai",
	"runwayml",
	"dair_ai",
}

// DefaultHosts mirrors the host list of the mirror adapter.
var DefaultHosts = []string{
	"nitter.net",
	"nitter.poast.org",
	"nitter.privacydev.net",
	"nitter.unixfox.eu",
	"nitter.kavin.rocks",
	"nitter.rawbit.ninja",
	"nitter.1d4.us",
	"nitter.moomoo.me",
	"nitter.fdn.fr",
	"nitter.42l.fr",
}

// Load builds a Config from defaults, an optional file and the environment.
func Load(path string) (Config, error) {
	v := New()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}
	return FromViper(v)
}

// New returns a Viper instance with defaults and environment binding.
// Commands bind their flags onto it before calling FromViper.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// FromViper unmarshals and validates v.
func FromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// setDefaults registers every key, including empty credentials, so that
// AutomaticEnv overrides are honored by Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")

	v.SetDefault("accounts", DefaultAccounts)
	v.SetDefault("window", "24h")

	v.SetDefault("run.chain", []string{AdapterProxy, AdapterBrowser, AdapterMirror, AdapterFeed})
	v.SetDefault("run.budget", "20m")
	v.SetDefault("run.concurrency", 3)
	v.SetDefault("run.compare", false)
	v.SetDefault("run.accept_empty", false)
	v.SetDefault("run.fetch_limit", 20)
	v.SetDefault("run.call_timeout", "90s")

	v.SetDefault("governor.baseline", "2s")
	v.SetDefault("governor.ceiling", "60s")
	v.SetDefault("governor.factor", 2.0)
	v.SetDefault("governor.decay", 0.5)

	v.SetDefault("proxy.api_key", "")
	v.SetDefault("proxy.endpoint", "https://api.scrapfly.io")
	v.SetDefault("proxy.country", "us")
	v.SetDefault("proxy.proxy_pool", "public_residential_pool")
	v.SetDefault("proxy.rendering_wait", "5s")
	v.SetDefault("proxy.timeout", "90s")

	v.SetDefault("browser.max_parallel", 2)
	v.SetDefault("browser.user_agent", "")
	v.SetDefault("browser.navigation_timeout", "45s")
	v.SetDefault("browser.settle", "2s")
	v.SetDefault("browser.exec_path", "")

	v.SetDefault("mirror.hosts", DefaultHosts)
	v.SetDefault("mirror.user_agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36")
	v.SetDefault("mirror.timeout", "30s")
	v.SetDefault("mirror.rps", 0.5)
	v.SetDefault("mirror.burst", 1)
	v.SetDefault("mirror.cooldown", "90s")

	v.SetDefault("feed.hosts", []string{})
	v.SetDefault("feed.timeout", "30s")

	v.SetDefault("summarizer.order", []string{"gemini", "openai"})
	v.SetDefault("summarizer.gemini_api_key", "")
	v.SetDefault("summarizer.gemini_model", "gemini-2.0-flash")
	v.SetDefault("summarizer.openai_api_key", "")
	v.SetDefault("summarizer.openai_model", "gpt-4o-mini")
	v.SetDefault("summarizer.openai_endpoint", "https://api.openai.com/v1/chat/completions")
	v.SetDefault("summarizer.timeout", "60s")

	v.SetDefault("digest.max_items", 25)

	v.SetDefault("delivery.notifier", NotifierAuto)
	v.SetDefault("delivery.slack_webhook_url", "")
	v.SetDefault("delivery.discord_webhook_url", "")
	v.SetDefault("delivery.timeout", "30s")

	v.SetDefault("runlog.buffer_size", 1024)
	v.SetDefault("runlog.max_batch_events", 256)
	v.SetDefault("runlog.max_batch_wait", "500ms")
	v.SetDefault("runlog.sink_timeout", "10s")
	v.SetDefault("runlog.jsonl_path", "")
	v.SetDefault("runlog.postgres_dsn", "")
	v.SetDefault("runlog.runs_table", "digest_runs")
	v.SetDefault("runlog.attempts_table", "adapter_attempts")
	v.SetDefault("runlog.max_conns", 4)

	v.SetDefault("artifacts.enabled", true)
	v.SetDefault("artifacts.dir", "data/digests")
	v.SetDefault("artifacts.gcs_bucket", "")
	v.SetDefault("artifacts.prefix", "digests")
	v.SetDefault("artifacts.cache_control", "no-cache")

	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.api_key", "")
	v.SetDefault("server.request_timeout", "30s")
	v.SetDefault("server.shutdown_grace", "15s")

	v.SetDefault("telemetry.service_name", "ai-digest")
	v.SetDefault("telemetry.project_id", "")
}

// normalize trims list entries and lower-cases identifiers.
func (c *Config) normalize() {
	c.Run.Chain = cleanList(c.Run.Chain, true)
	c.Summarizer.Order = cleanList(c.Summarizer.Order, true)
	c.Mirror.Hosts = cleanList(c.Mirror.Hosts, false)
	c.Feed.Hosts = cleanList(c.Feed.Hosts, false)
	c.Delivery.Notifier = strings.ToLower(strings.TrimSpace(c.Delivery.Notifier))
	if len(c.Feed.Hosts) == 0 {
		c.Feed.Hosts = append([]string(nil), c.Mirror.Hosts...)
	}
}

func cleanList(in []string, lower bool) []string {
	out := make([]string, 0, len(in))
	for _, entry := range in {
		for _, part := range strings.Split(entry, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if lower {
				part = strings.ToLower(part)
			}
			out = append(out, part)
		}
	}
	return out
}

// Validate enforces required values and reasonable limits. Credentials are
// only checked for presence where a selection depends on them.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	_, accErr := post.ParseAccounts(c.Accounts)
	check(accErr == nil, "accounts: at least one handle is required")
	check(c.Window > 0, "window must be > 0")

	check(len(c.Run.Chain) > 0, "run.chain must list at least one adapter")
	seen := make(map[string]struct{}, len(c.Run.Chain))
	for _, id := range c.Run.Chain {
		switch id {
		case AdapterProxy, AdapterBrowser, AdapterMirror, AdapterFeed:
		default:
			check(false, "run.chain: unknown adapter %q", id)
		}
		_, dup := seen[id]
		check(!dup, "run.chain: duplicate adapter %q", id)
		seen[id] = struct{}{}
	}
	check(c.Run.Budget >= 0, "run.budget must be >= 0")
	check(c.Run.Concurrency >= 1 && c.Run.Concurrency <= 5, "run.concurrency must be between 1 and 5")
	check(c.Run.FetchLimit > 0, "run.fetch_limit must be > 0")
	check(c.Run.CallTimeout > 0, "run.call_timeout must be > 0")

	check(c.Governor.Baseline > 0, "governor.baseline must be > 0")
	check(c.Governor.Ceiling >= c.Governor.Baseline, "governor.ceiling must be >= governor.baseline")
	check(c.Governor.Factor >= 1, "governor.factor must be >= 1")
	check(c.Governor.Decay > 0 && c.Governor.Decay <= 1, "governor.decay must be in (0, 1]")

	_, usesMirror := seen[AdapterMirror]
	_, usesFeed := seen[AdapterFeed]
	check(!usesMirror || len(c.Mirror.Hosts) > 0, "mirror.hosts must not be empty")
	check(!usesFeed || len(c.Feed.Hosts) > 0, "feed.hosts must not be empty")
	check(c.Mirror.RPS >= 0, "mirror.rps must be >= 0")
	check(c.Browser.MaxParallel >= 0, "browser.max_parallel must be >= 0")

	for _, name := range c.Summarizer.Order {
		check(name == "gemini" || name == "openai", "summarizer.order: unknown summarizer %q", name)
	}
	check(c.Digest.MaxItems > 0, "digest.max_items must be > 0")

	switch c.Delivery.Notifier {
	case NotifierAuto, NotifierLog:
	case NotifierSlack:
		check(c.Delivery.SlackWebhookURL != "", "delivery.slack_webhook_url is required for the slack notifier")
	case NotifierDiscord:
		check(c.Delivery.DiscordWebhookURL != "", "delivery.discord_webhook_url is required for the discord notifier")
	default:
		check(false, "delivery.notifier: unknown notifier %q", c.Delivery.Notifier)
	}

	check(c.Runlog.BufferSize > 0, "runlog.buffer_size must be > 0")
	check(c.Runlog.MaxBatchEvents > 0, "runlog.max_batch_events must be > 0")
	check(!c.Artifacts.Enabled || c.Artifacts.GCSBucket != "" || c.Artifacts.Dir != "",
		"artifacts.dir or artifacts.gcs_bucket is required when artifacts are enabled")
	check(c.PubSub.Topic == "" || c.PubSub.ProjectID != "", "pubsub.project_id is required when pubsub.topic is set")
	check(c.Server.Addr != "", "server.addr is required")

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// AccountTargets parses the configured handles.
func (c Config) AccountTargets() ([]post.AccountTarget, error) {
	accounts, err := post.ParseAccounts(c.Accounts)
	if err != nil {
		return nil, fmt.Errorf("accounts: %w", err)
	}
	return accounts, nil
}

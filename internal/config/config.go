// Package config loads and validates scraper configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Marketplace MarketplaceConfig `mapstructure:"marketplace"`
	Fetcher     FetcherConfig     `mapstructure:"fetcher"`
	Headless    HeadlessConfig    `mapstructure:"headless"`
	Cache       CacheConfig       `mapstructure:"cache"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limit"`
	Extract     ExtractConfig     `mapstructure:"extract"`
	Snapshots   SnapshotConfig    `mapstructure:"snapshots"`
	DB          DBConfig          `mapstructure:"db"`
	PubSub      PubSubConfig      `mapstructure:"pubsub"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int `mapstructure:"port"`
	ShutdownGraceSeconds  int `mapstructure:"shutdown_grace_seconds"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
}

// MarketplaceConfig describes the upstream search page.
type MarketplaceConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	SearchPath     string `mapstructure:"search_path"`
	QueryParam     string `mapstructure:"query_param"`
	AcceptLanguage string `mapstructure:"accept_language"`
}

// FetcherConfig selects and tunes the upstream fetcher.
type FetcherConfig struct {
	Engine        string  `mapstructure:"engine"`
	TimeoutMs     int     `mapstructure:"timeout_ms"`
	UserAgent     string  `mapstructure:"user_agent"`
	MaxBodyBytes  int     `mapstructure:"max_body_bytes"`
	UpstreamRPS   float64 `mapstructure:"upstream_rps"`
	UpstreamBurst int     `mapstructure:"upstream_burst"`
}

// HeadlessConfig configures the chromedp fetcher.
type HeadlessConfig struct {
	MaxParallel   int `mapstructure:"max_parallel"`
	NavTimeoutSec int `mapstructure:"nav_timeout_seconds"`
}

// CacheConfig bounds the result cache.
type CacheConfig struct {
	TTLMs      int `mapstructure:"ttl_ms"`
	MaxEntries int `mapstructure:"max_entries"`
}

// RateLimitConfig sets the per-client fixed window.
type RateLimitConfig struct {
	Max           int `mapstructure:"max"`
	WindowSeconds int `mapstructure:"window_seconds"`
	MaxClients    int `mapstructure:"max_clients"`
}

// ExtractConfig controls price rendering.
type ExtractConfig struct {
	CurrencySymbol    string `mapstructure:"currency_symbol"`
	CurrencyThousands string `mapstructure:"currency_thousands"`
	CurrencyDecimal   string `mapstructure:"currency_decimal"`
}

// SnapshotConfig picks where raw search pages are archived.
type SnapshotConfig struct {
	Provider  string `mapstructure:"provider"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// DBConfig controls access to the scrape history database.
type DBConfig struct {
	DSN                    string `mapstructure:"dsn"`
	Table                  string `mapstructure:"table"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeSeconds int    `mapstructure:"max_conn_lifetime_seconds"`
}

// PubSubConfig holds metadata for scrape notifications. A topic without a
// project publishes to the in-process memory publisher.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Supported fetcher engines and snapshot providers.
const (
	EngineColly    = "colly"
	EngineHeadless = "headless"

	SnapshotsNone   = "none"
	SnapshotsMemory = "memory"
	SnapshotsLocal  = "local"
	SnapshotsGCS    = "gcs"
)

// legacyEnv maps config keys to the bare environment names older
// deployments set.
var legacyEnv = map[string]string{
	"server.port":        "PORT",
	"fetcher.timeout_ms": "REQUEST_TIMEOUT_MS",
	"cache.ttl_ms":       "CACHE_TTL_MS",
	"rate_limit.max":     "RATE_LIMIT_MAX",
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SCRAPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	for key, env := range legacyEnv {
		prefixed := "SCRAPER_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, env); err != nil {
			return Config{}, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.shutdown_grace_seconds", 10)
	v.SetDefault("server.request_timeout_seconds", 30)
	v.SetDefault("marketplace.base_url", "https://www.amazon.com.br")
	v.SetDefault("marketplace.search_path", "/s")
	v.SetDefault("marketplace.query_param", "k")
	v.SetDefault("marketplace.accept_language", "pt-BR,pt;q=0.9,en-US;q=0.8,en;q=0.7")
	v.SetDefault("fetcher.engine", EngineColly)
	v.SetDefault("fetcher.timeout_ms", 15000)
	v.SetDefault("fetcher.user_agent", "")
	v.SetDefault("fetcher.max_body_bytes", 10<<20)
	v.SetDefault("fetcher.upstream_rps", 0)
	v.SetDefault("fetcher.upstream_burst", 1)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("cache.ttl_ms", 300000)
	v.SetDefault("cache.max_entries", 1000)
	v.SetDefault("rate_limit.max", 15)
	v.SetDefault("rate_limit.window_seconds", 60)
	v.SetDefault("rate_limit.max_clients", 10000)
	v.SetDefault("extract.currency_symbol", "R$")
	v.SetDefault("extract.currency_thousands", ".")
	v.SetDefault("extract.currency_decimal", ",")
	v.SetDefault("snapshots.provider", SnapshotsNone)
	v.SetDefault("snapshots.base_dir", "")
	v.SetDefault("snapshots.gcs_bucket", "")
	v.SetDefault("snapshots.prefix", "snapshots")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", "scrape_history")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.max_conn_lifetime_seconds", 0)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("server.request_timeout_seconds must be > 0")
	}
	u, err := url.Parse(c.Marketplace.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("marketplace.base_url must be an absolute http(s) URL")
	}
	if c.Marketplace.QueryParam == "" {
		return fmt.Errorf("marketplace.query_param must be set")
	}
	switch c.Fetcher.Engine {
	case EngineColly:
	case EngineHeadless:
		if c.Headless.MaxParallel <= 0 {
			return fmt.Errorf("headless.max_parallel must be > 0 when the headless engine is selected")
		}
	default:
		return fmt.Errorf("fetcher.engine must be %q or %q", EngineColly, EngineHeadless)
	}
	if c.Fetcher.TimeoutMs <= 0 {
		return fmt.Errorf("fetcher.timeout_ms must be > 0")
	}
	if c.Fetcher.UpstreamRPS < 0 {
		return fmt.Errorf("fetcher.upstream_rps must be >= 0")
	}
	if c.Cache.TTLMs <= 0 {
		return fmt.Errorf("cache.ttl_ms must be > 0")
	}
	if c.RateLimit.Max <= 0 {
		return fmt.Errorf("rate_limit.max must be > 0")
	}
	if c.RateLimit.WindowSeconds <= 0 {
		return fmt.Errorf("rate_limit.window_seconds must be > 0")
	}
	switch c.Snapshots.Provider {
	case "", SnapshotsNone, SnapshotsMemory:
	case SnapshotsLocal:
		if c.Snapshots.BaseDir == "" {
			return fmt.Errorf("snapshots.base_dir must be set for the local provider")
		}
	case SnapshotsGCS:
		if c.Snapshots.GCSBucket == "" {
			return fmt.Errorf("snapshots.gcs_bucket must be set for the gcs provider")
		}
	default:
		return fmt.Errorf("snapshots.provider %q is not supported", c.Snapshots.Provider)
	}
	if c.PubSub.ProjectID != "" && c.PubSub.TopicName == "" {
		return fmt.Errorf("pubsub.topic_name must be set when pubsub.project_id is")
	}
	return nil
}

// FetchTimeout returns the upstream fetch budget.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetcher.TimeoutMs) * time.Millisecond
}

// CacheTTL returns the result cache lifetime.
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLMs) * time.Millisecond
}

// RateLimitWindow returns the fixed window length.
func (c Config) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimit.WindowSeconds) * time.Second
}

// RequestTimeout bounds a single API request.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// DBMaxConnLifetime returns the pool connection lifetime; zero keeps the
// driver default.
func (c Config) DBMaxConnLifetime() time.Duration {
	return time.Duration(c.DB.MaxConnLifetimeSeconds) * time.Second
}

// ShutdownGrace bounds graceful shutdown.
func (c Config) ShutdownGrace() time.Duration {
	if c.Server.ShutdownGraceSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.Server.ShutdownGraceSeconds) * time.Second
}

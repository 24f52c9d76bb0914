// Package config loads and validates wikitrust configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all configuration knobs loaded via Viper. It is read once at
// startup and passed by value into constructors.
type Config struct {
	DB         DBConfig         `mapstructure:"db"`
	Crawler    CrawlerConfig    `mapstructure:"crawler"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Popularity PopularityConfig `mapstructure:"popularity"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Server     ServerConfig     `mapstructure:"server"`
	Ranking    RankingConfig    `mapstructure:"ranking"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// DBConfig controls access to the relational database. Each worker dials its
// own connection from DSN.
type DBConfig struct {
	DSN                   string `mapstructure:"dsn"`
	ConnectTimeoutSeconds int    `mapstructure:"connect_timeout_seconds"`
}

// CrawlerConfig governs the worker pool.
type CrawlerConfig struct {
	BaseURL        string  `mapstructure:"base_url"`
	Concurrency    int     `mapstructure:"concurrency"`
	QueueDepth     int     `mapstructure:"queue_depth"`
	UserAgent      string  `mapstructure:"user_agent"`
	RespectRobots  bool    `mapstructure:"respect_robots"`
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// HTTPConfig configures fetch timeouts and retry behavior.
type HTTPConfig struct {
	TimeoutSeconds   int `mapstructure:"timeout_seconds"`
	MaxAttempts      int `mapstructure:"max_attempts"`
	BackoffInitialMs int `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int `mapstructure:"backoff_max_ms"`
}

// StorageConfig selects the blob store for cached popularity records.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	LocalDir  string `mapstructure:"local_dir"`
	Prefix    string `mapstructure:"prefix"`
}

// PopularityConfig points at the external popularity service.
type PopularityConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	APIKey   string `mapstructure:"api_key"`
	TopLinks int    `mapstructure:"top_links"`
}

// PubSubConfig holds metadata for page completion notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ServerConfig controls the ops HTTP endpoint served during crawls.
type ServerConfig struct {
	MetricsAddr string `mapstructure:"metrics_addr"`
}

// RankingConfig sets the trust factor fit and report size.
type RankingConfig struct {
	LogX     bool `mapstructure:"log_x"`
	LogY     bool `mapstructure:"log_y"`
	Reversal bool `mapstructure:"reversal"`
	NewsOnly bool `mapstructure:"news_only"`
	Top      int  `mapstructure:"top"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Storage backends.
const (
	BackendMemory = "memory"
	BackendLocal  = "local"
	BackendGCS    = "gcs"
)

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("WIKITRUST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

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
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.connect_timeout_seconds", 10)
	v.SetDefault("crawler.base_url", "https://en.wikipedia.org/wiki/")
	v.SetDefault("crawler.concurrency", 4)
	v.SetDefault("crawler.queue_depth", 64)
	v.SetDefault("crawler.user_agent", "wikitrust-bot/0.1")
	v.SetDefault("crawler.respect_robots", true)
	v.SetDefault("crawler.rate_limit_rps", 5.0)
	v.SetDefault("crawler.rate_limit_burst", 5)
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.max_attempts", 2)
	v.SetDefault("http.backoff_initial_ms", 250)
	v.SetDefault("http.backoff_max_ms", 5000)
	v.SetDefault("storage.backend", BackendLocal)
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.local_dir", "data")
	v.SetDefault("storage.prefix", "popularity")
	v.SetDefault("popularity.endpoint", "")
	v.SetDefault("popularity.api_key", "")
	v.SetDefault("popularity.top_links", 1000)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("server.metrics_addr", "")
	v.SetDefault("ranking.log_x", true)
	v.SetDefault("ranking.log_y", true)
	v.SetDefault("ranking.reversal", true)
	v.SetDefault("ranking.news_only", true)
	v.SetDefault("ranking.top", 10)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits. The DSN is checked
// by the commands that need a database.
func (c Config) Validate() error {
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.QueueDepth < 0 {
		return fmt.Errorf("crawler.queue_depth must be >= 0")
	}
	if u, err := url.Parse(c.Crawler.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("crawler.base_url must be an absolute URL")
	}
	if c.Crawler.RateLimitRPS < 0 {
		return fmt.Errorf("crawler.rate_limit_rps must be >= 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxAttempts <= 0 {
		return fmt.Errorf("http.max_attempts must be > 0")
	}
	if c.HTTP.BackoffMaxMs < c.HTTP.BackoffInitialMs {
		return fmt.Errorf("http.backoff_max_ms must be >= http.backoff_initial_ms")
	}
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendLocal:
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir must be set for the local backend")
		}
	case BackendGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not one of memory, local, gcs", c.Storage.Backend)
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	if c.Ranking.Top < 0 {
		return fmt.Errorf("ranking.top must be >= 0")
	}
	return nil
}

// FetchTimeout is the per-attempt fetch deadline.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// Backoff returns the retry delay bounds.
func (c Config) Backoff() (initial, maxDelay time.Duration) {
	return time.Duration(c.HTTP.BackoffInitialMs) * time.Millisecond,
		time.Duration(c.HTTP.BackoffMaxMs) * time.Millisecond
}

// ConnectTimeout bounds each database dial.
func (c Config) ConnectTimeout() time.Duration {
	return time.Duration(c.DB.ConnectTimeoutSeconds) * time.Second
}

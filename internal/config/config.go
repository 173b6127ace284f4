// Package config loads and validates scraper configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

// Supported fetcher and queue backends.
const (
	FetcherColly    = "colly"
	FetcherHeadless = "headless"
	QueueMemory     = "memory"
	QueueRedis      = "redis"
)

// Config captures all scraper configuration knobs loaded via Viper.
type Config struct {
	Scrape   ScrapeConfig   `mapstructure:"scrape"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Fetcher  FetcherConfig  `mapstructure:"fetcher"`
	Headless HeadlessConfig `mapstructure:"headless"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Progress ProgressConfig `mapstructure:"progress"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ScrapeConfig describes what a run fetches and how wide it fans out.
type ScrapeConfig struct {
	PageURLTemplate   string `mapstructure:"page_url_template"`
	DetailURLTemplate string `mapstructure:"detail_url_template"`
	FirstPage         int    `mapstructure:"first_page"`
	Pages             int    `mapstructure:"pages"`
	// Workers is the pool size used in multithreaded mode.
	Workers   int `mapstructure:"workers"`
	MaxFanOut int `mapstructure:"max_fanout"`
}

// HTTPConfig configures fetch timeouts and the optional retry wrapper.
type HTTPConfig struct {
	TimeoutSeconds   int    `mapstructure:"timeout_seconds"`
	UserAgent        string `mapstructure:"user_agent"`
	MaxAttempts      int    `mapstructure:"max_attempts"`
	BackoffInitialMs int    `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int    `mapstructure:"backoff_max_ms"`
	// RatePerSecond throttles fetches per host; 0 disables the limit.
	RatePerSecond float64 `mapstructure:"rate_per_second"`
	Burst         int     `mapstructure:"burst"`
}

// FetcherConfig picks the fetch backend.
type FetcherConfig struct {
	Kind string `mapstructure:"kind"`
}

// HeadlessConfig configures the chromedp fetcher.
type HeadlessConfig struct {
	MaxParallel   int `mapstructure:"max_parallel"`
	NavTimeoutSec int `mapstructure:"nav_timeout_seconds"`
}

// QueueConfig picks the page queue backend.
type QueueConfig struct {
	Backend       string `mapstructure:"backend"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	KeyPrefix     string `mapstructure:"key_prefix"`
}

// MetricsConfig controls the optional /metrics listener. Empty Addr disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// ProgressConfig tunes the progress hub.
type ProgressConfig struct {
	BufferSize      int `mapstructure:"buffer_size"`
	MaxBatchEvents  int `mapstructure:"max_batch_events"`
	MaxBatchWaitMs  int `mapstructure:"max_batch_wait_ms"`
	SinkTimeoutSecs int `mapstructure:"sink_timeout_seconds"`
}

// LoggingConfig toggles zap development features and the minimum level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from defaults, an optional file and SCRAPER_* env vars.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SCRAPER")
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
	v.SetDefault("scrape.page_url_template", "https://news.ycombinator.com/news?p=%d")
	v.SetDefault("scrape.detail_url_template", "https://news.ycombinator.com/item?id=%s")
	v.SetDefault("scrape.first_page", 1)
	v.SetDefault("scrape.pages", 100)
	v.SetDefault("scrape.workers", 8)
	v.SetDefault("scrape.max_fanout", 0)
	v.SetDefault("http.timeout_seconds", 100)
	v.SetDefault("http.user_agent", "hn-fanout-scraper/0.1")
	v.SetDefault("http.max_attempts", 1)
	v.SetDefault("http.backoff_initial_ms", 250)
	v.SetDefault("http.backoff_max_ms", 2000)
	v.SetDefault("http.rate_per_second", 0)
	v.SetDefault("http.burst", 1)
	v.SetDefault("fetcher.kind", FetcherColly)
	v.SetDefault("headless.max_parallel", 2)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("queue.backend", QueueMemory)
	v.SetDefault("queue.redis_addr", "")
	v.SetDefault("queue.redis_password", "")
	v.SetDefault("queue.redis_db", 0)
	v.SetDefault("queue.key_prefix", "scraper:pages")
	v.SetDefault("metrics.addr", "")
	v.SetDefault("progress.buffer_size", 4096)
	v.SetDefault("progress.max_batch_events", 500)
	v.SetDefault("progress.max_batch_wait_ms", 250)
	v.SetDefault("progress.sink_timeout_seconds", 5)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if !strings.Contains(c.Scrape.PageURLTemplate, "%d") {
		return errors.New("scrape.page_url_template must contain %d")
	}
	if !strings.Contains(c.Scrape.DetailURLTemplate, "%s") {
		return errors.New("scrape.detail_url_template must contain %s")
	}
	if c.Scrape.Pages < 0 {
		return errors.New("scrape.pages must be >= 0")
	}
	if c.Scrape.Workers <= 0 {
		return errors.New("scrape.workers must be > 0")
	}
	if c.Scrape.MaxFanOut < 0 {
		return errors.New("scrape.max_fanout must be >= 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return errors.New("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxAttempts <= 0 {
		return errors.New("http.max_attempts must be > 0")
	}
	if c.HTTP.BackoffInitialMs < 0 || c.HTTP.BackoffMaxMs < 0 {
		return errors.New("http backoff values must be >= 0")
	}
	if c.HTTP.RatePerSecond < 0 || c.HTTP.Burst < 0 {
		return errors.New("http.rate_per_second and http.burst must be >= 0")
	}
	switch c.Fetcher.Kind {
	case FetcherColly:
	case FetcherHeadless:
		if c.Headless.MaxParallel < 0 {
			return errors.New("headless.max_parallel must be >= 0")
		}
	default:
		return fmt.Errorf("fetcher.kind %q is not one of %s|%s", c.Fetcher.Kind, FetcherColly, FetcherHeadless)
	}
	switch c.Queue.Backend {
	case QueueMemory:
	case QueueRedis:
		if strings.TrimSpace(c.Queue.RedisAddr) == "" {
			return errors.New("queue.redis_addr must be set when queue.backend is redis")
		}
	default:
		return fmt.Errorf("queue.backend %q is not one of %s|%s", c.Queue.Backend, QueueMemory, QueueRedis)
	}
	if c.Progress.BufferSize <= 0 || c.Progress.MaxBatchEvents <= 0 || c.Progress.MaxBatchWaitMs <= 0 {
		return errors.New("progress buffer and batch settings must be > 0")
	}
	if c.Progress.SinkTimeoutSecs < 0 {
		return errors.New("progress.sink_timeout_seconds must be >= 0")
	}
	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	return nil
}

// FetchTimeout bounds a single fetch attempt.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// FetchBudget bounds one logical fetch including every retry and backoff.
func (c Config) FetchBudget() time.Duration {
	attempts := max(c.HTTP.MaxAttempts, 1)
	backoff := time.Duration(c.HTTP.BackoffMaxMs) * time.Millisecond
	return time.Duration(attempts)*c.FetchTimeout() + time.Duration(attempts-1)*backoff
}

// NavTimeout is the headless navigation timeout.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Headless.NavTimeoutSec) * time.Second
}

// MaxBatchWait is the progress hub flush interval.
func (c Config) MaxBatchWait() time.Duration {
	return time.Duration(c.Progress.MaxBatchWaitMs) * time.Millisecond
}

// SinkTimeout bounds one progress sink flush; zero lets the hub pick.
func (c Config) SinkTimeout() time.Duration {
	return time.Duration(c.Progress.SinkTimeoutSecs) * time.Second
}

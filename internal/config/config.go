// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	DB      DBConfig      `mapstructure:"db"`
	Seed    SeedConfig    `mapstructure:"seed"`
	Crawler CrawlerConfig `mapstructure:"crawler"`
	Fetch   FetchConfig   `mapstructure:"fetch"`
	Queue   QueueConfig   `mapstructure:"queue"`
	Catalog CatalogConfig `mapstructure:"catalog"`
	Mirror  MirrorConfig  `mapstructure:"mirror"`
	Events  EventsConfig  `mapstructure:"events"`
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// DBConfig controls access to the Postgres queue and catalog stores.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// SeedConfig points the seed loader at its input file.
type SeedConfig struct {
	File      string `mapstructure:"file"`
	BatchSize int    `mapstructure:"batch_size"`
}

// CrawlerConfig governs the worker pool.
type CrawlerConfig struct {
	Concurrency  int           `mapstructure:"concurrency"`
	MaxRetries   int           `mapstructure:"max_retries"`
	UserAgent    string        `mapstructure:"user_agent"`
	IdleWait     time.Duration `mapstructure:"idle_wait"`
	ErrorWait    time.Duration `mapstructure:"error_wait"`
	StartStagger time.Duration `mapstructure:"start_stagger"`
}

// FetchConfig configures the HTTP fetcher.
type FetchConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// QueueConfig governs claim leases and the stale-row reaper.
type QueueConfig struct {
	LeaseTimeout time.Duration `mapstructure:"lease_timeout"`
	ReapInterval time.Duration `mapstructure:"reap_interval"`
}

// CatalogConfig selects the upsert merge policy.
type CatalogConfig struct {
	MergePolicy string `mapstructure:"merge_policy"`
}

// MirrorConfig configures the optional external image host. Mirroring
// activates only when AccountID and Token are both set (hosted provider)
// or when GCSBucket is set (GCS provider).
type MirrorConfig struct {
	AccountID string        `mapstructure:"account_id"`
	Token     string        `mapstructure:"token"`
	Endpoint  string        `mapstructure:"endpoint"`
	GCSBucket string        `mapstructure:"gcs_bucket"`
	Delay     time.Duration `mapstructure:"delay"`
}

// EventsConfig holds Pub/Sub metadata for catalog-update notifications.
type EventsConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// ServerConfig controls the ops HTTP server (healthz, metrics).
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment. An explicit path is
// required to exist; otherwise well-known locations are searched and a
// missing file falls back to defaults plus CRAWLER_* env vars.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/catalog-crawler/")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
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
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("seed.file", "seed_urls.json")
	v.SetDefault("seed.batch_size", 500)
	v.SetDefault("crawler.concurrency", 4)
	v.SetDefault("crawler.max_retries", 3)
	v.SetDefault("crawler.user_agent", "catalog-crawler/1.0 (+https://github.com/JakeFAU/catalog-crawler)")
	v.SetDefault("crawler.idle_wait", "1s")
	v.SetDefault("crawler.error_wait", "2s")
	v.SetDefault("crawler.start_stagger", "250ms")
	v.SetDefault("fetch.timeout", "20s")
	v.SetDefault("queue.lease_timeout", "10m")
	v.SetDefault("queue.reap_interval", "1m")
	v.SetDefault("catalog.merge_policy", "sticky")
	v.SetDefault("mirror.delay", "500ms")
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("logging.development", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.DB.DSN == "" {
		return fmt.Errorf("db.dsn is required")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.MaxRetries <= 0 {
		return fmt.Errorf("crawler.max_retries must be > 0")
	}
	if c.Fetch.Timeout <= 0 {
		return fmt.Errorf("fetch.timeout must be > 0")
	}
	if c.Queue.LeaseTimeout <= 0 {
		return fmt.Errorf("queue.lease_timeout must be > 0")
	}
	switch c.Catalog.MergePolicy {
	case "sticky", "overwrite":
	default:
		return fmt.Errorf("catalog.merge_policy must be sticky or overwrite, got %q", c.Catalog.MergePolicy)
	}
	return nil
}

// MirrorEnabled reports whether any mirror provider is configured.
func (c Config) MirrorEnabled() bool {
	return (c.Mirror.AccountID != "" && c.Mirror.Token != "") || c.Mirror.GCSBucket != ""
}

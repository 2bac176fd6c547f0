// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Backend names accepted in backend.
const (
	BackendRedis  = "redis"
	BackendBadger = "badger"
	BackendMemory = "memory"
)

// DefaultTargetDomains is the music-site crawl list used when none is configured.
var DefaultTargetDomains = []string{
	"ultimate-guitar.com",
	"azchords.com",
	"e-chords.com",
	"chordie.com",
	"songsterr.com",
	"chordify.com",
	"azlyrics.com",
	"bandcamp.com",
	"soundcloud.com",
	"last.fm",
	"discogs.com",
	"musicbrainz.org",
	"reverbnation.com",
	"pitchfork.com",
	"allmusic.com",
	"rateyourmusic.com",
}

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Crawler     CrawlerConfig     `mapstructure:"crawler"`
	Concurrency ConcurrencyConfig `mapstructure:"concurrency"`
	Resources   ResourcesConfig   `mapstructure:"resources"`
	Robots      RobotsConfig      `mapstructure:"robots"`
	Targets     TargetsConfig     `mapstructure:"targets"`
	Backend     string            `mapstructure:"backend"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Badger      BadgerConfig      `mapstructure:"badger"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Export      ExportConfig      `mapstructure:"export"`
}

// ServerConfig controls the operator HTTP server.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	APIKey          string        `mapstructure:"api_key"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// CrawlerConfig governs fetching, politeness and run budgets.
type CrawlerConfig struct {
	UserAgent         string        `mapstructure:"user_agent"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	MaxContentLength  int           `mapstructure:"max_content_length"`
	MaxRedirects      int           `mapstructure:"max_redirects"`
	DefaultDelay      time.Duration `mapstructure:"default_delay"`
	MaxDepth          int           `mapstructure:"max_depth"`
	MaxPages          int64         `mapstructure:"max_pages"`
	MaxPagesPerDomain int64         `mapstructure:"max_pages_per_domain"`
	MaxLinksPerPage   int           `mapstructure:"max_links_per_page"`
	GlobalQPS         float64       `mapstructure:"global_qps"`
	SeenTTL           time.Duration `mapstructure:"seen_ttl"`
	SeenCacheMode     string        `mapstructure:"seen_cache_mode"`
	SeenCacheSize     int           `mapstructure:"seen_cache_size"`
	MaxConnections    int           `mapstructure:"max_connections"`
	MaxConnsPerHost   int           `mapstructure:"max_conns_per_host"`
}

// ConcurrencyConfig bounds the adaptive worker level.
type ConcurrencyConfig struct {
	Min         int   `mapstructure:"min"`
	Max         int   `mapstructure:"max"`
	Initial     int   `mapstructure:"initial"`
	Step        int   `mapstructure:"step"`
	AdjustEvery int64 `mapstructure:"adjust_every"`
}

// ResourcesConfig sets the process ceilings and the health cadence.
type ResourcesConfig struct {
	MaxMemoryMB    float64       `mapstructure:"max_memory_mb"`
	MaxCPUPercent  float64       `mapstructure:"max_cpu_percent"`
	HighWater      float64       `mapstructure:"high_water"`
	LowWater       float64       `mapstructure:"low_water"`
	CleanupEvery   int64         `mapstructure:"cleanup_every"`
	HealthInterval time.Duration `mapstructure:"health_interval"`
}

// RobotsConfig controls robots.txt handling.
type RobotsConfig struct {
	Respect      bool          `mapstructure:"respect"`
	CacheTTL     time.Duration `mapstructure:"cache_ttl"`
	ErrorTTL     time.Duration `mapstructure:"error_ttl"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
	MaxBytes     int64         `mapstructure:"max_bytes"`
}

// TargetsConfig lists the domains to crawl and any extra seed URLs.
type TargetsConfig struct {
	Domains []string `mapstructure:"domains"`
	Seeds   []string `mapstructure:"seeds"`
}

// RedisConfig configures the redis backend.
type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	PoolSize    int           `mapstructure:"pool_size"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	FrontierKey string        `mapstructure:"frontier_key"`
}

// BadgerConfig configures the embedded backend.
type BadgerConfig struct {
	Dir      string `mapstructure:"dir"`
	InMemory bool   `mapstructure:"in_memory"`
}

// DatabaseConfig controls result storage. An empty DSN keeps results in memory.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	EnsureSchema    bool          `mapstructure:"ensure_schema"`
}

// ExportConfig controls the CSV export.
type ExportConfig struct {
	// Destination is a directory or a gs://bucket/prefix URI.
	Destination string `mapstructure:"destination"`
	OnShutdown  bool   `mapstructure:"on_shutdown"`
	Limit       int    `mapstructure:"limit"`
}

// Load builds a Config from disk/environment.
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
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Backend = strings.ToLower(strings.TrimSpace(cfg.Backend))

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "")

	v.SetDefault("crawler.user_agent", "MusicCrawler/1.0 (+https://github.com/JakeFAU/polite-crawler)")
	v.SetDefault("crawler.request_timeout", "30s")
	v.SetDefault("crawler.max_content_length", 1<<20)
	v.SetDefault("crawler.max_redirects", 3)
	v.SetDefault("crawler.default_delay", "1s")
	v.SetDefault("crawler.max_depth", 5)
	v.SetDefault("crawler.max_pages", 10000)
	v.SetDefault("crawler.max_pages_per_domain", 1000)
	v.SetDefault("crawler.max_links_per_page", 50)
	v.SetDefault("crawler.global_qps", 0)
	v.SetDefault("crawler.seen_ttl", "24h")
	v.SetDefault("crawler.seen_cache_mode", "sample")
	v.SetDefault("crawler.seen_cache_size", 10000)
	v.SetDefault("crawler.max_connections", 100)
	v.SetDefault("crawler.max_conns_per_host", 2)

	v.SetDefault("concurrency.min", 5)
	v.SetDefault("concurrency.max", 20)
	v.SetDefault("concurrency.initial", 10)
	v.SetDefault("concurrency.step", 2)
	v.SetDefault("concurrency.adjust_every", 10)

	v.SetDefault("resources.max_memory_mb", 450)
	v.SetDefault("resources.max_cpu_percent", 60)
	v.SetDefault("resources.high_water", 0.85)
	v.SetDefault("resources.low_water", 0.70)
	v.SetDefault("resources.cleanup_every", 100)
	v.SetDefault("resources.health_interval", "30s")

	v.SetDefault("robots.respect", true)
	v.SetDefault("robots.cache_ttl", "1h")
	v.SetDefault("robots.error_ttl", "5m")
	v.SetDefault("robots.fetch_timeout", "10s")
	v.SetDefault("robots.max_bytes", 1<<20)

	v.SetDefault("targets.domains", DefaultTargetDomains)

	v.SetDefault("backend", BackendRedis)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.pool_size", 20)
	v.SetDefault("redis.dial_timeout", "5s")
	v.SetDefault("redis.frontier_key", "frontier")
	v.SetDefault("badger.dir", "data/badger")

	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.ensure_schema", true)

	v.SetDefault("export.destination", "output")
	v.SetDefault("export.on_shutdown", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if strings.TrimSpace(c.Crawler.UserAgent) == "" {
		return fmt.Errorf("crawler.user_agent is required")
	}
	if c.Crawler.RequestTimeout <= 0 {
		return fmt.Errorf("crawler.request_timeout must be > 0")
	}
	if c.Crawler.MaxContentLength <= 0 {
		return fmt.Errorf("crawler.max_content_length must be > 0")
	}
	if c.Crawler.MaxDepth < 0 {
		return fmt.Errorf("crawler.max_depth must be >= 0")
	}
	if c.Crawler.DefaultDelay < 0 {
		return fmt.Errorf("crawler.default_delay must be >= 0")
	}
	switch c.Crawler.SeenCacheMode {
	case "sample", "bloom":
	default:
		return fmt.Errorf("crawler.seen_cache_mode must be sample or bloom, got %q", c.Crawler.SeenCacheMode)
	}
	if c.Concurrency.Min < 1 {
		return fmt.Errorf("concurrency.min must be >= 1")
	}
	if c.Concurrency.Max < c.Concurrency.Min {
		return fmt.Errorf("concurrency.max must be >= concurrency.min")
	}
	if c.Concurrency.Initial < c.Concurrency.Min || c.Concurrency.Initial > c.Concurrency.Max {
		return fmt.Errorf("concurrency.initial must be within [min, max]")
	}
	if c.Resources.MaxMemoryMB <= 0 || c.Resources.MaxCPUPercent <= 0 {
		return fmt.Errorf("resources.max_memory_mb and resources.max_cpu_percent must be > 0")
	}
	if c.Resources.LowWater <= 0 || c.Resources.LowWater >= c.Resources.HighWater || c.Resources.HighWater > 1 {
		return fmt.Errorf("resources water marks must satisfy 0 < low_water < high_water <= 1")
	}
	if len(c.Targets.Domains) == 0 {
		return fmt.Errorf("targets.domains must list at least one domain")
	}
	switch c.Backend {
	case BackendRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required for the redis backend")
		}
	case BackendBadger:
		if !c.Badger.InMemory && c.Badger.Dir == "" {
			return fmt.Errorf("badger.dir is required unless badger.in_memory is set")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("backend must be one of redis, badger, memory; got %q", c.Backend)
	}
	if c.Export.OnShutdown && strings.TrimSpace(c.Export.Destination) == "" {
		return fmt.Errorf("export.destination is required when export.on_shutdown is set")
	}
	return nil
}

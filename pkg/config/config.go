package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

//go:generate go run ../../cmd/schema/main.go schema.json

// Config holds the application configuration
type Config struct {
	Server struct {
		Listen  string        `yaml:"listen" json:"listen" jsonschema:"default=:8080,description=HTTP server listen address"`
		Timeout time.Duration `yaml:"timeout" json:"timeout" jsonschema:"default=30s,description=HTTP server timeout"`
		BaseURL string        `yaml:"base_url" json:"base_url" jsonschema:"default=http://localhost:8080,description=Base URL for generated feed links"`
	} `yaml:"server" json:"server" jsonschema:"description=Server configuration"`

	Cache CacheConfig `yaml:"cache" json:"cache" jsonschema:"description=Cache configuration"`

	Fetch FetchConfig `yaml:"fetch" json:"fetch" jsonschema:"description=Feed fetching configuration"`

	Feeds FeedsConfig `yaml:"feeds" json:"feeds" jsonschema:"description=Feed source registry configuration"`
}

// CacheConfig holds cache limits and behavior
type CacheConfig struct {
	MaxEntries          int           `yaml:"max_entries" json:"max_entries" jsonschema:"default=500,description=Maximum number of cache entries"`
	MaxSizeBytes        int64         `yaml:"max_size_bytes" json:"max_size_bytes" jsonschema:"default=52428800,description=Maximum total cache size in bytes"`
	SweepInterval       time.Duration `yaml:"sweep_interval" json:"sweep_interval" jsonschema:"default=5m,description=Background expiry sweep interval"`
	Compression         bool          `yaml:"compression" json:"compression" jsonschema:"default=true,description=Compress large payloads"`
	CompressionMinBytes int           `yaml:"compression_min_bytes" json:"compression_min_bytes" jsonschema:"default=1024,description=Compression threshold in bytes"`
	SnapshotPath        string        `yaml:"snapshot_path" json:"snapshot_path" jsonschema:"description=Optional sqlite file for cache snapshots across restarts"`
}

// FetchConfig holds transport settings for feed fetching
type FetchConfig struct {
	Timeout        time.Duration     `yaml:"timeout" json:"timeout" jsonschema:"default=30s,description=Per-fetch transport timeout"`
	MaxWorkers     int               `yaml:"max_workers" json:"max_workers" jsonschema:"default=5,description=Maximum concurrent source fetches"`
	ProxyURL       string            `yaml:"proxy_url" json:"proxy_url" jsonschema:"description=Optional fetch relay URL; direct fetches when empty"`
	HostInterval   time.Duration     `yaml:"host_interval" json:"host_interval" jsonschema:"default=1s,description=Minimum spacing between requests to one host"`
	FilterCacheTTL time.Duration     `yaml:"filter_cache_ttl" json:"filter_cache_ttl" jsonschema:"default=2m,description=TTL for cached filtered views"`
	APIKeys        map[string]string `yaml:"api_keys" json:"api_keys" jsonschema:"description=Per-source credentials keyed by source id"`
}

// FeedsConfig holds the source registry and refresh cadences
type FeedsConfig struct {
	Path             string        `yaml:"path" json:"path" jsonschema:"default=feeds.json,description=Path to the feeds configuration document"`
	PriorityInterval time.Duration `yaml:"priority_interval" json:"priority_interval" jsonschema:"default=15m,description=Background refresh cadence for priority-1 sources"`
	FullInterval     time.Duration `yaml:"full_interval" json:"full_interval" jsonschema:"default=1h,description=Background refresh cadence for all sources"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // file path comes from CLI flag
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	setDefaults(&cfg)

	// validate configuration
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	// verify against embedded schema
	if err := VerifyAgainstEmbeddedSchema(&cfg); err != nil {
		// log warning but don't fail - schema validation is supplementary
		fmt.Printf("warning: schema validation failed: %v\n", err)
	}

	return &cfg, nil
}

// Default returns a configuration with all defaults applied, used when no
// config file is given
func Default() *Config {
	var cfg Config
	setDefaults(&cfg)
	return &cfg
}

func setDefaults(cfg *Config) {
	// set defaults for server
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = ":8080"
	}
	if cfg.Server.Timeout == 0 {
		cfg.Server.Timeout = 30 * time.Second
	}
	if cfg.Server.BaseURL == "" {
		cfg.Server.BaseURL = "http://localhost:8080"
	}

	// set defaults for cache
	if cfg.Cache.MaxEntries == 0 {
		cfg.Cache.MaxEntries = 500
	}
	if cfg.Cache.MaxSizeBytes == 0 {
		cfg.Cache.MaxSizeBytes = 50 * 1024 * 1024
	}
	if cfg.Cache.SweepInterval == 0 {
		cfg.Cache.SweepInterval = 5 * time.Minute
	}
	if cfg.Cache.CompressionMinBytes == 0 {
		cfg.Cache.CompressionMinBytes = 1024
	}

	// set defaults for fetch
	if cfg.Fetch.Timeout == 0 {
		cfg.Fetch.Timeout = 30 * time.Second
	}
	if cfg.Fetch.MaxWorkers == 0 {
		cfg.Fetch.MaxWorkers = 5
	}
	if cfg.Fetch.HostInterval == 0 {
		cfg.Fetch.HostInterval = time.Second
	}
	if cfg.Fetch.FilterCacheTTL == 0 {
		cfg.Fetch.FilterCacheTTL = 2 * time.Minute
	}

	// set defaults for feeds
	if cfg.Feeds.Path == "" {
		cfg.Feeds.Path = "feeds.json"
	}
	if cfg.Feeds.PriorityInterval == 0 {
		cfg.Feeds.PriorityInterval = 15 * time.Minute
	}
	if cfg.Feeds.FullInterval == 0 {
		cfg.Feeds.FullInterval = time.Hour
	}
}

// validate checks configuration for correctness
func validate(cfg *Config) error {
	// validate server config
	if cfg.Server.Timeout < time.Second {
		return fmt.Errorf("server timeout must be at least 1 second")
	}

	// validate cache config
	if cfg.Cache.MaxEntries < 1 {
		return fmt.Errorf("cache.max_entries must be positive")
	}
	if cfg.Cache.MaxSizeBytes < 1024 {
		return fmt.Errorf("cache.max_size_bytes must be at least 1024")
	}
	if cfg.Cache.CompressionMinBytes < 0 {
		return fmt.Errorf("cache.compression_min_bytes must be non-negative")
	}

	// validate fetch config
	if cfg.Fetch.Timeout < time.Second {
		return fmt.Errorf("fetch.timeout must be at least 1 second")
	}
	if cfg.Fetch.MaxWorkers < 1 {
		return fmt.Errorf("fetch.max_workers must be positive")
	}
	if cfg.Fetch.HostInterval < 0 {
		return fmt.Errorf("fetch.host_interval must be non-negative")
	}

	return nil
}

// GetServerConfig returns server configuration
func (c *Config) GetServerConfig() (listen string, timeout time.Duration) {
	return c.Server.Listen, c.Server.Timeout
}

// BaseURL returns the external base URL used in generated feed links
func (c *Config) BaseURL() string {
	return c.Server.BaseURL
}

// GetCacheConfig returns cache configuration
func (c *Config) GetCacheConfig() CacheConfig {
	return c.Cache
}

// GetFetchConfig returns fetch configuration
func (c *Config) GetFetchConfig() FetchConfig {
	return c.Fetch
}

// GetFullConfig returns the full configuration
func (c *Config) GetFullConfig() *Config {
	return c
}

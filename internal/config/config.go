package config

import (
	"time"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Config is the root configuration for the ingestion daemon.
type Config struct {
	Queue     QueueConfig     `mapstructure:"queue"     yaml:"queue"`
	Scheduler SchedulerConfig `mapstructure:"scheduler" yaml:"scheduler"`
	Recrawler RecrawlerConfig `mapstructure:"recrawler" yaml:"recrawler"`
	Plugin    PluginConfig    `mapstructure:"plugin"    yaml:"plugin"`
	Logging   LoggingConfig   `mapstructure:"logging"   yaml:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"   yaml:"metrics"`
}

// QueueConfig controls the crawl queue store and its admission limits
// (spec §3 UserSettings, §4.5 dequeue caps).
type QueueConfig struct {
	DBPath              string   `mapstructure:"db_path"               yaml:"db_path"`
	DomainCrawlLimit    uint32   `mapstructure:"domain_crawl_limit"    yaml:"domain_crawl_limit"`
	InflightDomainLimit uint32   `mapstructure:"inflight_domain_limit" yaml:"inflight_domain_limit"`
	InflightCrawlLimit  uint32   `mapstructure:"inflight_crawl_limit"  yaml:"inflight_crawl_limit"` // 0 == unbounded
	MaxRetries          int      `mapstructure:"max_retries"           yaml:"max_retries"`
	CrawlExternalLinks  bool     `mapstructure:"crawl_external_links"  yaml:"crawl_external_links"`
	BlockList           []string `mapstructure:"block_list"            yaml:"block_list"`
}

// SchedulerConfig controls the dequeue worker pool (spec §5).
type SchedulerConfig struct {
	Workers      int           `mapstructure:"workers"       yaml:"workers"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

// RecrawlerConfig controls the stale-file-document recheck loop (spec
// §4.6, seed scenario 4). Interval sets the loop's tick period. StaleAfter
// is validated and shown by the config command but is not passed to the
// store: DequeueRecrawl uses a fixed 24-hour threshold.
type RecrawlerConfig struct {
	Interval        time.Duration `mapstructure:"interval"         yaml:"interval"`
	StaleAfter       time.Duration `mapstructure:"stale_after"      yaml:"stale_after"`
}

// PluginConfig controls the WASM plugin host (spec §4.9).
type PluginConfig struct {
	Dir           string        `mapstructure:"dir"            yaml:"dir"`
	CallTimeout   time.Duration `mapstructure:"call_timeout"   yaml:"call_timeout"`
	IgnoreFile    string        `mapstructure:"ignore_file"    yaml:"ignore_file"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	Output string `mapstructure:"output" yaml:"output"`
}

// MetricsConfig controls the Prometheus metrics/health endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Port    int    `mapstructure:"port"    yaml:"port"`
	Path    string `mapstructure:"path"    yaml:"path"`
}

// DefaultConfig returns a Config with sensible defaults, mirroring the
// values named in spec §4.5/§4.6 (domain_crawl_limit=500000,
// inflight_domain_limit=2, max_retries=5, recrawl stale_after=24h, plugin
// call_timeout=30s).
func DefaultConfig() *Config {
	return &Config{
		Queue: QueueConfig{
			DBPath:              "./ingestd.db",
			DomainCrawlLimit:    500_000,
			InflightDomainLimit: 2,
			InflightCrawlLimit:  0, // 0 == unbounded (UserSettings.Infinite)
			MaxRetries:          5,
			CrawlExternalLinks:  false,
		},
		Scheduler: SchedulerConfig{
			Workers:      10,
			PollInterval: 250 * time.Millisecond,
		},
		Recrawler: RecrawlerConfig{
			Interval:   10 * time.Minute,
			StaleAfter: 24 * time.Hour,
		},
		Plugin: PluginConfig{
			Dir:         "./plugins",
			CallTimeout: 30 * time.Second,
			IgnoreFile:  ".gitignore",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Port:    9090,
			Path:    "/metrics",
		},
	}
}

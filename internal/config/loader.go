package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration from file and environment; it binds no CLI
// flags. Priority (highest to lowest): env vars > config file > defaults.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")

	// Set defaults from struct
	setDefaults(v, cfg)

	// Environment variable support
	v.SetEnvPrefix("INGESTD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Load config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Search default locations
		v.SetConfigName("ingestd")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".ingestd"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && configPath != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is okay if not explicitly specified
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// LoadFromFile reads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	return Load(path)
}

// setDefaults registers default values in viper.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("queue.db_path", cfg.Queue.DBPath)
	v.SetDefault("queue.domain_crawl_limit", cfg.Queue.DomainCrawlLimit)
	v.SetDefault("queue.inflight_domain_limit", cfg.Queue.InflightDomainLimit)
	v.SetDefault("queue.inflight_crawl_limit", cfg.Queue.InflightCrawlLimit)
	v.SetDefault("queue.max_retries", cfg.Queue.MaxRetries)
	v.SetDefault("queue.crawl_external_links", cfg.Queue.CrawlExternalLinks)
	v.SetDefault("queue.block_list", cfg.Queue.BlockList)

	v.SetDefault("scheduler.workers", cfg.Scheduler.Workers)
	v.SetDefault("scheduler.poll_interval", cfg.Scheduler.PollInterval)

	v.SetDefault("recrawler.interval", cfg.Recrawler.Interval)
	v.SetDefault("recrawler.stale_after", cfg.Recrawler.StaleAfter)

	v.SetDefault("plugin.dir", cfg.Plugin.Dir)
	v.SetDefault("plugin.call_timeout", cfg.Plugin.CallTimeout)
	v.SetDefault("plugin.ignore_file", cfg.Plugin.IgnoreFile)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("logging.output", cfg.Logging.Output)

	v.SetDefault("metrics.enabled", cfg.Metrics.Enabled)
	v.SetDefault("metrics.port", cfg.Metrics.Port)
	v.SetDefault("metrics.path", cfg.Metrics.Path)
}

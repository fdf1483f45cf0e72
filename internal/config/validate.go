package config

import (
	"fmt"
)

// Validate checks the configuration for invalid values.
func Validate(cfg *Config) error {
	if cfg.Queue.DBPath == "" {
		return fmt.Errorf("queue.db_path must not be empty")
	}
	if cfg.Queue.DomainCrawlLimit == 0 {
		return fmt.Errorf("queue.domain_crawl_limit must be > 0")
	}
	if cfg.Queue.InflightDomainLimit == 0 {
		return fmt.Errorf("queue.inflight_domain_limit must be > 0")
	}
	if cfg.Queue.MaxRetries < 0 {
		return fmt.Errorf("queue.max_retries must be >= 0, got %d", cfg.Queue.MaxRetries)
	}
	for _, pattern := range cfg.Queue.BlockList {
		if pattern == "" {
			return fmt.Errorf("queue.block_list entries must not be empty")
		}
	}

	if cfg.Scheduler.Workers < 1 {
		return fmt.Errorf("scheduler.workers must be >= 1, got %d", cfg.Scheduler.Workers)
	}
	if cfg.Scheduler.PollInterval <= 0 {
		return fmt.Errorf("scheduler.poll_interval must be > 0")
	}

	if cfg.Recrawler.Interval <= 0 {
		return fmt.Errorf("recrawler.interval must be > 0")
	}
	if cfg.Recrawler.StaleAfter <= 0 {
		return fmt.Errorf("recrawler.stale_after must be > 0")
	}

	if cfg.Plugin.Dir == "" {
		return fmt.Errorf("plugin.dir must not be empty")
	}
	if cfg.Plugin.CallTimeout <= 0 {
		return fmt.Errorf("plugin.call_timeout must be > 0")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging.level must be debug/info/warn/error, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" && cfg.Logging.Format != "json" {
		return fmt.Errorf("logging.format must be 'text' or 'json', got %q", cfg.Logging.Format)
	}

	if cfg.Metrics.Enabled {
		if cfg.Metrics.Port < 1 || cfg.Metrics.Port > 65535 {
			return fmt.Errorf("metrics.port must be 1-65535, got %d", cfg.Metrics.Port)
		}
	}

	return nil
}

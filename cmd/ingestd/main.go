package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/arclamp/ingestd/internal/config"
	"github.com/arclamp/ingestd/internal/observability"
	"github.com/arclamp/ingestd/internal/plugin"
	"github.com/arclamp/ingestd/internal/queue"
	"github.com/arclamp/ingestd/internal/queue/sqlite"
	"github.com/arclamp/ingestd/internal/scheduler"
	"github.com/arclamp/ingestd/internal/supervisor"
	"github.com/arclamp/ingestd/internal/task"
)

var (
	cfgFile string
	verbose bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "ingestd",
		Short: "ingestd — personal search indexer ingestion daemon",
		Long: `ingestd is the crawl-queue scheduler and plugin host behind a personal
search indexer.

Features:
  • Durable SQLite-backed crawl queue with priority classes and retry accounting
  • Per-domain and global in-flight caps enforced at dequeue time
  • URL admission filtering via user block-lists and lens configurations
  • Sandboxed WASM data-source plugins (interval and filesystem-watch triggers)
  • Prometheus metrics endpoint`,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(enqueueCmd())
	rootCmd.AddCommand(recrawlNowCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}

func loadConfig() (*config.Config, *slog.Logger, error) {
	logger := setupLogger()
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, logger, nil
}

func openStore(cfg *config.Config, logger *slog.Logger) (queue.Store, error) {
	return sqlite.Open(cfg.Queue.DBPath, logger)
}

func userSettingsFromConfig(cfg *config.Config) task.UserSettings {
	s := task.DefaultUserSettings()
	s.DomainCrawlLimit = cfg.Queue.DomainCrawlLimit
	s.InflightDomainLimit = cfg.Queue.InflightDomainLimit
	if cfg.Queue.InflightCrawlLimit > 0 {
		s.InflightCrawlLimit = task.FiniteLimit(cfg.Queue.InflightCrawlLimit)
	}
	s.CrawlExternalLinks = cfg.Queue.CrawlExternalLinks
	s.BlockList = cfg.Queue.BlockList
	return s
}

// serveCmd runs the supervisor + scheduler + recrawler + plugin host until
// a shutdown signal arrives (spec §4.8).
func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run the ingestion daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}

			store, err := openStore(cfg, logger)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer store.Close()

			sup := supervisor.New(store, logger)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				sig := <-sigCh
				logger.Info("received signal, shutting down...", "signal", sig)
				cancel()
			}()

			if err := sup.Recover(ctx); err != nil {
				return fmt.Errorf("startup recovery: %w", err)
			}

			settingsFn := func() task.UserSettings { return userSettingsFromConfig(cfg) }

			dirs, err := config.DefaultDirs()
			if err != nil {
				return fmt.Errorf("resolve plugin host directories: %w", err)
			}

			registry := plugin.NewRegistry()
			host := plugin.NewHost(registry, logger, cfg.Plugin.CallTimeout)
			defer registry.CloseAll()

			loaded, err := loadPlugins(ctx, cfg, dirs, registry, host, logger)
			if err != nil {
				return fmt.Errorf("load plugins: %w", err)
			}
			go runIntervalTicker(ctx, host)
			for _, lp := range loaded {
				if lp.watcher == nil {
					continue
				}
				defer lp.watcher.Close()
				go forwardFSEvents(ctx, host, lp.watcher)
			}

			var metrics *observability.Metrics
			if cfg.Metrics.Enabled {
				metrics = observability.NewMetrics(logger)
				if err := metrics.StartServer(cfg.Metrics.Port, cfg.Metrics.Path); err != nil {
					logger.Warn("failed to start metrics server", "error", err)
				}
				go runStatsTicker(ctx, store, metrics)
			}

			process := func(ctx context.Context, t *task.Task) error {
				logger.Info("dequeued task", "id", t.ID, "url", t.URL, "domain", t.Domain)
				return store.MarkDone(ctx, t.ID, nil)
			}

			sched := scheduler.New(store, settingsFn, process, cfg.Scheduler.Workers, cfg.Scheduler.PollInterval, logger)
			recrawler := scheduler.NewRecrawler(store, settingsFn, process, cfg.Recrawler.Interval, logger)

			tasks := []supervisor.Task{
				sched.Run,
				recrawler.Run,
				host.Run,
			}

			logger.Info("ingestd starting", "workers", cfg.Scheduler.Workers, "db", cfg.Queue.DBPath)
			return sup.Run(ctx, tasks...)
		},
	}
}

// runStatsTicker periodically refreshes the queue-depth gauges from the
// store until ctx is canceled (spec §10.4).
func runStatsTicker(ctx context.Context, store queue.Store, metrics *observability.Metrics) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats, err := store.QueueStats(ctx)
			if err != nil {
				continue
			}
			var queued, processing, completed, failed int64
			for _, s := range stats {
				switch s.Status {
				case task.StatusQueued:
					queued += s.Count
				case task.StatusProcessing:
					processing += s.Count
				case task.StatusCompleted:
					completed += s.Count
				case task.StatusFailed:
					failed += s.Count
				}
			}
			metrics.RecordQueueStats(queued, processing, completed, failed)
		}
	}
}

// enqueueCmd performs a one-shot admission through the filter into the
// store (spec §4.2/§4.3).
func enqueueCmd() *cobra.Command {
	var blockList []string

	cmd := &cobra.Command{
		Use:   "enqueue [url...]",
		Short: "admit and enqueue one or more URLs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}

			store, err := openStore(cfg, logger)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer store.Close()

			settings := userSettingsFromConfig(cfg)
			if len(blockList) == 0 {
				blockList = cfg.Queue.BlockList
			}

			req := queue.EnqueueRequest{
				URLs:      args,
				BlockList: blockList,
				Settings:  settings,
			}
			if err := store.EnqueueAll(context.Background(), req); err != nil {
				return fmt.Errorf("enqueue: %w", err)
			}

			fmt.Printf("enqueued %d url(s)\n", len(args))
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&blockList, "block", nil, "comma-separated block-list domains")
	return cmd
}

// recrawlNowCmd forces one DequeueRecrawl pass (spec §4.6) rather than
// waiting for the next scheduled tick.
func recrawlNowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recrawl-now",
		Short: "immediately check for a stale local-file document to recrawl",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}

			store, err := openStore(cfg, logger)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer store.Close()

			settings := userSettingsFromConfig(cfg)
			t, err := store.DequeueRecrawl(context.Background(), settings)
			if err != nil {
				return fmt.Errorf("dequeue recrawl: %w", err)
			}
			if t == nil {
				fmt.Println("no stale document found")
				return nil
			}
			fmt.Printf("claimed for recrawl: id=%d url=%s\n", t.ID, t.URL)
			return nil
		},
	}
}

// configCmd dumps the effective configuration.
func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			fmt.Printf("Queue:\n")
			fmt.Printf("  DB Path:               %s\n", cfg.Queue.DBPath)
			fmt.Printf("  Domain Crawl Limit:    %d\n", cfg.Queue.DomainCrawlLimit)
			fmt.Printf("  Inflight Domain Limit: %d\n", cfg.Queue.InflightDomainLimit)
			fmt.Printf("  Inflight Crawl Limit:  %d\n", cfg.Queue.InflightCrawlLimit)
			fmt.Printf("  Max Retries:           %d\n", cfg.Queue.MaxRetries)
			fmt.Printf("  Crawl External Links:  %v\n", cfg.Queue.CrawlExternalLinks)
			fmt.Printf("\nScheduler:\n")
			fmt.Printf("  Workers:               %d\n", cfg.Scheduler.Workers)
			fmt.Printf("  Poll Interval:         %s\n", cfg.Scheduler.PollInterval)
			fmt.Printf("\nRecrawler:\n")
			fmt.Printf("  Interval:              %s\n", cfg.Recrawler.Interval)
			fmt.Printf("  Stale After:           %s\n", cfg.Recrawler.StaleAfter)
			fmt.Printf("\nPlugin:\n")
			fmt.Printf("  Dir:                   %s\n", cfg.Plugin.Dir)
			fmt.Printf("  Call Timeout:          %s\n", cfg.Plugin.CallTimeout)
			fmt.Printf("\nMetrics:\n")
			fmt.Printf("  Enabled:               %v\n", cfg.Metrics.Enabled)
			fmt.Printf("  Port:                  %d\n", cfg.Metrics.Port)
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("ingestd %s\n", config.Version)
		},
	}
}

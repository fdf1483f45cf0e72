package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/arclamp/ingestd/internal/config"
	"github.com/arclamp/ingestd/internal/plugin"
)

const pluginManifestFile = "plugin.yaml"

// pluginManifest is the on-disk description of one plugin directory under
// cfg.Plugin.Dir: a compiled WASM module plus the metadata spec §3's
// "Plugin instance" needs to build a plugin.Config.
type pluginManifest struct {
	Name         string            `yaml:"name"`
	Author       string            `yaml:"author"`
	Description  string            `yaml:"description"`
	WASMFile     string            `yaml:"wasm_file"`
	Enabled      bool              `yaml:"enabled"`
	Settings     map[string]string `yaml:"settings"`
	Interval     bool              `yaml:"interval"`      // subscribe IntervalTick
	WatchPath    string            `yaml:"watch_path"`    // subscribe WatchDirectory if set
	WatchRecurse bool              `yaml:"watch_recurse"` // recurse into WatchPath's subdirectories
}

// loadedPlugin pairs a registered instance with the filesystem watcher its
// manifest asked for, if any, so the caller can forward its events.
type loadedPlugin struct {
	instance *plugin.Instance
	watcher  *plugin.FSWatcher
}

// loadPlugins scans cfg.Plugin.Dir for one subdirectory per plugin, each
// holding a plugin.yaml manifest and a compiled WASM module, and registers
// every one it finds into registry: compile+sandbox (spec §4.9 Initialize),
// subscribe per its manifest, and invoke _start if enabled. A missing
// plugin directory is not an error — a fresh install has none.
func loadPlugins(ctx context.Context, cfg *config.Config, dirs config.Dirs, registry *plugin.Registry, host *plugin.Host, logger *slog.Logger) ([]loadedPlugin, error) {
	entries, err := os.ReadDir(cfg.Plugin.Dir)
	if os.IsNotExist(err) {
		logger.Info("plugin directory does not exist, no plugins loaded", "dir", cfg.Plugin.Dir)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("plugin loader: read %q: %w", cfg.Plugin.Dir, err)
	}

	var loaded []loadedPlugin
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		pluginDir := filepath.Join(cfg.Plugin.Dir, entry.Name())

		lp, err := loadPlugin(ctx, cfg, dirs, pluginDir, registry, host)
		if err != nil {
			logger.Error("failed to load plugin", "dir", pluginDir, "error", err)
			continue
		}
		if lp == nil {
			continue // no manifest in this directory
		}
		logger.Info("loaded plugin", "name", lp.instance.Config.Name, "enabled", lp.instance.Enabled())
		loaded = append(loaded, *lp)
	}
	return loaded, nil
}

func loadPlugin(ctx context.Context, cfg *config.Config, dirs config.Dirs, pluginDir string, registry *plugin.Registry, host *plugin.Host) (*loadedPlugin, error) {
	manifestPath := filepath.Join(pluginDir, pluginManifestFile)
	raw, err := os.ReadFile(manifestPath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var manifest pluginManifest
	if err := yaml.Unmarshal(raw, &manifest); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if manifest.Name == "" {
		return nil, fmt.Errorf("manifest missing name")
	}

	wasmFile := manifest.WASMFile
	if wasmFile == "" {
		wasmFile = "plugin.wasm"
	}
	wasmBytes, err := os.ReadFile(filepath.Join(pluginDir, wasmFile))
	if err != nil {
		return nil, fmt.Errorf("read wasm module: %w", err)
	}

	pluginCfg := plugin.Config{
		Name:         manifest.Name,
		Author:       manifest.Author,
		Description:  manifest.Description,
		WASMPath:     filepath.Join(pluginDir, wasmFile),
		DataDir:      dirs.PluginDataDir(manifest.Name),
		IsEnabled:    manifest.Enabled,
		UserSettings: manifest.Settings,
	}

	sandbox, err := plugin.NewSandbox(ctx, pluginCfg, wasmBytes, dirs)
	if err != nil {
		return nil, fmt.Errorf("build sandbox: %w", err)
	}

	inst := registry.Register(pluginCfg, sandbox)

	if inst.Enabled() {
		startCtx, cancel := context.WithTimeout(ctx, cfg.Plugin.CallTimeout)
		err := sandbox.Call(startCtx, "_start")
		cancel()
		if err != nil {
			return nil, fmt.Errorf("invoke _start: %w", err)
		}
	}

	var watcher *plugin.FSWatcher
	if manifest.Interval {
		if err := host.Commands().Send(ctx, plugin.Command{
			Kind:         plugin.CommandSubscribe,
			Subscription: plugin.NewIntervalTickSubscription(inst.ID),
		}); err != nil {
			return nil, fmt.Errorf("subscribe interval tick: %w", err)
		}
	}
	if manifest.WatchPath != "" {
		sub, err := plugin.NewWatchDirectorySubscription(inst.ID, manifest.WatchPath, manifest.WatchRecurse)
		if err != nil {
			return nil, fmt.Errorf("watch directory subscription: %w", err)
		}
		if err := host.Commands().Send(ctx, plugin.Command{Kind: plugin.CommandSubscribe, Subscription: sub}); err != nil {
			return nil, fmt.Errorf("subscribe watch directory: %w", err)
		}

		ignore, err := plugin.NewIgnoreMatcher(manifest.WatchPath, cfg.Plugin.IgnoreFile)
		if err != nil {
			return nil, fmt.Errorf("build ignore matcher: %w", err)
		}
		watcher, err = plugin.NewFSWatcher(manifest.WatchPath, manifest.WatchRecurse, ignore)
		if err != nil {
			return nil, fmt.Errorf("start filesystem watcher: %w", err)
		}
	}

	return &loadedPlugin{instance: inst, watcher: watcher}, nil
}

// forwardFSEvents relays a loaded plugin's filesystem watcher events into
// the host's command channel as QueueFileNotify commands, until ctx is
// canceled or the watcher's channel closes.
func forwardFSEvents(ctx context.Context, host *plugin.Host, watcher *plugin.FSWatcher) {
	events := watcher.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			_ = host.Commands().Send(ctx, plugin.Command{Kind: plugin.CommandQueueFileNotify, FSEvent: ev})
		}
	}
}

// runIntervalTicker sends QueueIntervalCheck on host's command channel at
// plugin.TickerInterval until ctx is canceled (spec §4.9's 10-minute
// IntervalTick cadence).
func runIntervalTicker(ctx context.Context, host *plugin.Host) {
	ticker := time.NewTicker(plugin.TickerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = host.Commands().Send(ctx, plugin.Command{Kind: plugin.CommandQueueIntervalTick})
		}
	}
}

package plugin

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	gitignore "github.com/sabhiram/go-gitignore"
)

// NewIntervalTickSubscription builds an IntervalTick subscription for a
// plugin (spec §3/§4.9): fired every IntervalTickCadence regardless of
// filesystem activity.
func NewIntervalTickSubscription(pluginID int) Subscription {
	return Subscription{PluginID: pluginID, Kind: SubscriptionIntervalTick}
}

// NewWatchDirectorySubscription validates path and builds a WatchDirectory
// subscription. It rejects paths that do not exist or are not directories,
// matching the original's subscribe_for_file_changes validation.
func NewWatchDirectorySubscription(pluginID int, path string, recurse bool) (Subscription, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Subscription{}, err
	}
	if !info.IsDir() {
		return Subscription{}, &PathNotDirError{Path: path}
	}
	return Subscription{PluginID: pluginID, Kind: SubscriptionWatchDirectory, Path: path, Recurse: recurse}, nil
}

// PathNotDirError reports that a WatchDirectory subscription path exists
// but is not a directory.
type PathNotDirError struct{ Path string }

func (e *PathNotDirError) Error() string {
	return "plugin: watch path is not a directory: " + e.Path
}

// pathUnderRoot reports whether path falls under root, honoring recurse:
// when false, path's parent directory must equal root exactly.
func pathUnderRoot(root string, recurse bool, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return false
	}
	if recurse {
		return true
	}
	return filepath.Dir(rel) == "."
}

// mapFsnotifyOp maps a raw fsnotify.Op to the FSOp vocabulary this package
// uses internally, collapsing Chmod-only events into FSOpMetadataOnly so
// they are suppressed before ever reaching a plugin (spec §4.9).
func mapFsnotifyOp(op fsnotify.Op) FSOp {
	switch {
	case op&fsnotify.Create != 0:
		return FSOpCreate
	case op&fsnotify.Write != 0:
		return FSOpWrite
	case op&fsnotify.Remove != 0, op&fsnotify.Rename != 0:
		return FSOpRemove
	case op&fsnotify.Chmod != 0:
		return FSOpMetadataOnly
	default:
		return FSOpMetadataOnly
	}
}

// IgnoreMatcher filters raw filesystem events against a .gitignore-style
// rule file rooted at a watched directory, so plugin subscriptions never
// see churn inside e.g. .git or node_modules (spec §4.9 "ignore
// directories the platform should never walk").
type IgnoreMatcher struct {
	root   string
	ignore *gitignore.GitIgnore
}

// NewIgnoreMatcher loads ignoreFile (typically "<root>/.ingestdignore" or
// an existing ".gitignore") relative to root. A missing ignore file yields
// a matcher that ignores nothing.
func NewIgnoreMatcher(root, ignoreFile string) (*IgnoreMatcher, error) {
	path := filepath.Join(root, ignoreFile)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return &IgnoreMatcher{root: root, ignore: nil}, nil
	}
	m, err := gitignore.CompileIgnoreFile(path)
	if err != nil {
		return nil, err
	}
	return &IgnoreMatcher{root: root, ignore: m}, nil
}

// Ignored reports whether path (absolute, under root) should be suppressed.
func (m *IgnoreMatcher) Ignored(path string, isDir bool) bool {
	if m.ignore == nil {
		return false
	}
	rel, err := filepath.Rel(m.root, path)
	if err != nil {
		return false
	}
	return m.ignore.MatchesPath(rel)
}

// FSWatcher wraps an fsnotify.Watcher, mapping its raw events into FSEvent
// values and applying an IgnoreMatcher, ready to be forwarded to a Host as
// QueueFileNotify commands.
type FSWatcher struct {
	watcher *fsnotify.Watcher
	ignore  *IgnoreMatcher
}

// NewFSWatcher creates a watcher rooted at root, optionally recursing into
// every subdirectory, with events filtered by ignore (nil disables
// filtering).
func NewFSWatcher(root string, recurse bool, ignore *IgnoreMatcher) (*FSWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	roots := []string{root}
	if recurse {
		roots = roots[:0]
		err := filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if info.IsDir() {
				roots = append(roots, p)
			}
			return nil
		})
		if err != nil {
			w.Close()
			return nil, err
		}
	}

	for _, r := range roots {
		if err := w.Add(r); err != nil {
			w.Close()
			return nil, err
		}
	}

	return &FSWatcher{watcher: w, ignore: ignore}, nil
}

// Close releases the underlying fsnotify watcher.
func (fw *FSWatcher) Close() error { return fw.watcher.Close() }

// Events returns the channel of mapped FSEvent values. Ignored paths and
// suppressed ops never appear on this channel.
func (fw *FSWatcher) Events() <-chan FSEvent {
	out := make(chan FSEvent)
	go func() {
		defer close(out)
		for {
			select {
			case ev, ok := <-fw.watcher.Events:
				if !ok {
					return
				}
				op := mapFsnotifyOp(ev.Op)
				if op == FSOpMetadataOnly {
					continue
				}
				if fw.ignore != nil && fw.ignore.Ignored(ev.Name, false) {
					continue
				}
				out <- FSEvent{Path: ev.Name, Op: op}
			case _, ok := <-fw.watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return out
}

package plugin

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/fsnotify/fsnotify"
)

func TestNewWatchDirectorySubscriptionRejectsMissingPath(t *testing.T) {
	if _, err := NewWatchDirectorySubscription(1, filepath.Join(t.TempDir(), "nope"), false); err == nil {
		t.Fatal("expected error for missing path")
	}
}

func TestNewWatchDirectorySubscriptionRejectsFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "f.txt")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := NewWatchDirectorySubscription(1, file, false)
	if err == nil {
		t.Fatal("expected error for non-directory path")
	}
	if _, ok := err.(*PathNotDirError); !ok {
		t.Fatalf("expected *PathNotDirError, got %T", err)
	}
}

func TestNewWatchDirectorySubscriptionAcceptsDirectory(t *testing.T) {
	dir := t.TempDir()
	sub, err := NewWatchDirectorySubscription(7, dir, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sub.Kind != SubscriptionWatchDirectory || sub.Path != dir || !sub.Recurse {
		t.Fatalf("unexpected subscription: %+v", sub)
	}
}

func TestPathUnderRootNonRecursive(t *testing.T) {
	root := "/watch"
	if !pathUnderRoot(root, false, "/watch/file.txt") {
		t.Error("direct child should match non-recursive root")
	}
	if pathUnderRoot(root, false, "/watch/sub/file.txt") {
		t.Error("nested child should not match non-recursive root")
	}
	if pathUnderRoot(root, false, "/other/file.txt") {
		t.Error("unrelated path should never match")
	}
}

func TestPathUnderRootRecursive(t *testing.T) {
	root := "/watch"
	if !pathUnderRoot(root, true, "/watch/a/b/c.txt") {
		t.Error("deeply nested child should match recursive root")
	}
	if pathUnderRoot(root, true, "/elsewhere/c.txt") {
		t.Error("unrelated path should never match")
	}
}

func TestMapFsnotifyOpSuppressesChmod(t *testing.T) {
	if op := mapFsnotifyOp(fsnotify.Chmod); op != FSOpMetadataOnly {
		t.Fatalf("Chmod should map to FSOpMetadataOnly, got %v", op)
	}
	if op := mapFsnotifyOp(fsnotify.Create); op != FSOpCreate {
		t.Fatalf("Create should map to FSOpCreate, got %v", op)
	}
	if op := mapFsnotifyOp(fsnotify.Write); op != FSOpWrite {
		t.Fatalf("Write should map to FSOpWrite, got %v", op)
	}
	if op := mapFsnotifyOp(fsnotify.Remove); op != FSOpRemove {
		t.Fatalf("Remove should map to FSOpRemove, got %v", op)
	}
	if op := mapFsnotifyOp(fsnotify.Rename); op != FSOpRemove {
		t.Fatalf("Rename should map to FSOpRemove, got %v", op)
	}
}

func TestMapFSOpSuppressesMetadataOnly(t *testing.T) {
	if _, ok := mapFSOp(FSOpMetadataOnly); ok {
		t.Fatal("FSOpMetadataOnly must never reach a plugin event")
	}
	if kind, ok := mapFSOp(FSOpCreate); !ok || kind != EventFileCreated {
		t.Fatalf("FSOpCreate mapping wrong: kind=%v ok=%v", kind, ok)
	}
	if kind, ok := mapFSOp(FSOpWrite); !ok || kind != EventFileUpdated {
		t.Fatalf("FSOpWrite mapping wrong: kind=%v ok=%v", kind, ok)
	}
	if kind, ok := mapFSOp(FSOpRemove); !ok || kind != EventFileDeleted {
		t.Fatalf("FSOpRemove mapping wrong: kind=%v ok=%v", kind, ok)
	}
}

func TestIgnoreMatcherWithoutFileIgnoresNothing(t *testing.T) {
	dir := t.TempDir()
	m, err := NewIgnoreMatcher(dir, ".gitignore")
	if err != nil {
		t.Fatalf("NewIgnoreMatcher: %v", err)
	}
	if m.Ignored(filepath.Join(dir, "anything.txt"), false) {
		t.Fatal("matcher without an ignore file should ignore nothing")
	}
}

func TestIgnoreMatcherHonorsPatterns(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".gitignore"), []byte("*.log\nnode_modules/\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	m, err := NewIgnoreMatcher(dir, ".gitignore")
	if err != nil {
		t.Fatalf("NewIgnoreMatcher: %v", err)
	}
	if !m.Ignored(filepath.Join(dir, "debug.log"), false) {
		t.Error("*.log should be ignored")
	}
	if m.Ignored(filepath.Join(dir, "main.go"), false) {
		t.Error("main.go should not be ignored")
	}
}

func TestNewIntervalTickSubscription(t *testing.T) {
	sub := NewIntervalTickSubscription(3)
	if sub.Kind != SubscriptionIntervalTick || sub.PluginID != 3 {
		t.Fatalf("unexpected subscription: %+v", sub)
	}
}

package plugin

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

// fakeRunner records calls and requests instead of talking to a real
// sandbox, so the host event loop can be exercised without a WASM module.
type fakeRunner struct {
	mu       sync.Mutex
	calls    []string
	requests []any
	closed   bool
}

func (f *fakeRunner) Call(ctx context.Context, funcName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, funcName)
	return nil
}

func (f *fakeRunner) WriteRequest(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, v)
	return nil
}

func (f *fakeRunner) ReadResponse() (any, error) { return nil, io.EOF }

func (f *fakeRunner) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeRunner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestHostHandleUpdateCallsEnabledPlugin(t *testing.T) {
	reg := NewRegistry()
	runner := &fakeRunner{}
	inst := reg.Register(Config{Name: "example", IsEnabled: true}, runner)

	h := NewHost(reg, testLogger(), time.Second)
	h.handle(context.Background(), Command{Kind: CommandHandleUpdate, PluginID: inst.ID, Event: Event{Kind: EventIntervalUpdate}})

	if runner.callCount() != 1 {
		t.Fatalf("expected 1 call, got %d", runner.callCount())
	}
}

func TestHostHandleUpdateSkipsDisabledPlugin(t *testing.T) {
	reg := NewRegistry()
	runner := &fakeRunner{}
	inst := reg.Register(Config{Name: "example", IsEnabled: false}, runner)

	h := NewHost(reg, testLogger(), time.Second)
	h.handle(context.Background(), Command{Kind: CommandHandleUpdate, PluginID: inst.ID, Event: Event{Kind: EventIntervalUpdate}})

	if runner.callCount() != 0 {
		t.Fatalf("disabled plugin should not be called, got %d calls", runner.callCount())
	}
}

func TestHostEnableDisablePlugin(t *testing.T) {
	reg := NewRegistry()
	inst := reg.Register(Config{Name: "example", IsEnabled: false}, &fakeRunner{})

	h := NewHost(reg, testLogger(), time.Second)
	h.handle(context.Background(), Command{Kind: CommandEnablePlugin, PluginID: inst.ID})
	if !inst.Enabled() {
		t.Fatal("expected plugin enabled after CommandEnablePlugin")
	}

	h.handle(context.Background(), Command{Kind: CommandDisablePlugin, PluginID: inst.ID})
	if inst.Enabled() {
		t.Fatal("expected plugin disabled after CommandDisablePlugin")
	}
}

func TestHostIntervalTickFansOutToSubscribers(t *testing.T) {
	reg := NewRegistry()
	runner := &fakeRunner{}
	inst := reg.Register(Config{Name: "tick-plugin", IsEnabled: true}, runner)

	h := NewHost(reg, testLogger(), time.Second)
	h.handle(context.Background(), Command{
		Kind:         CommandSubscribe,
		Subscription: NewIntervalTickSubscription(inst.ID),
	})
	h.handle(context.Background(), Command{Kind: CommandQueueIntervalTick})

	if runner.callCount() != 1 {
		t.Fatalf("expected interval tick to reach subscribed plugin once, got %d", runner.callCount())
	}
}

func TestHostFileNotifySuppressesMetadataOnly(t *testing.T) {
	dir := t.TempDir()
	reg := NewRegistry()
	runner := &fakeRunner{}
	inst := reg.Register(Config{Name: "watch-plugin", IsEnabled: true}, runner)

	h := NewHost(reg, testLogger(), time.Second)
	sub, err := NewWatchDirectorySubscription(inst.ID, dir, false)
	if err != nil {
		t.Fatalf("NewWatchDirectorySubscription: %v", err)
	}
	h.handle(context.Background(), Command{Kind: CommandSubscribe, Subscription: sub})

	h.handle(context.Background(), Command{Kind: CommandQueueFileNotify, FSEvent: FSEvent{Path: dir + "/f.txt", Op: FSOpMetadataOnly}})
	if runner.callCount() != 0 {
		t.Fatalf("metadata-only fs event must be suppressed, got %d calls", runner.callCount())
	}

	h.handle(context.Background(), Command{Kind: CommandQueueFileNotify, FSEvent: FSEvent{Path: dir + "/f.txt", Op: FSOpCreate}})
	if runner.callCount() != 1 {
		t.Fatalf("create fs event should reach subscriber once, got %d calls", runner.callCount())
	}
}

func TestHostFileNotifyIgnoresOutsideWatchedRoot(t *testing.T) {
	dir := t.TempDir()
	reg := NewRegistry()
	runner := &fakeRunner{}
	inst := reg.Register(Config{Name: "watch-plugin", IsEnabled: true}, runner)

	h := NewHost(reg, testLogger(), time.Second)
	sub, err := NewWatchDirectorySubscription(inst.ID, dir, false)
	if err != nil {
		t.Fatalf("NewWatchDirectorySubscription: %v", err)
	}
	h.handle(context.Background(), Command{Kind: CommandSubscribe, Subscription: sub})

	h.handle(context.Background(), Command{Kind: CommandQueueFileNotify, FSEvent: FSEvent{Path: "/elsewhere/f.txt", Op: FSOpCreate}})
	if runner.callCount() != 0 {
		t.Fatalf("event outside watched root must not reach subscriber, got %d calls", runner.callCount())
	}
}

func TestHostRunStopsOnContextCancel(t *testing.T) {
	reg := NewRegistry()
	h := NewHost(reg, testLogger(), time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()

	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after context cancellation")
	}
}

package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/arclamp/ingestd/internal/dispatch"
)

// Host runs the plugin command event loop: the Go analogue of the
// original's plugin_event_loop tokio::select!. Commands arrive serially on
// a single channel and are handled one at a time, which gives every plugin
// the "one update call in flight at a time" guarantee spec §5 requires —
// a per-plugin lock is unnecessary because the whole loop is single-threaded
// by construction.
type Host struct {
	registry    *Registry
	logger      *slog.Logger
	commands    *dispatch.Channel[Command]
	callTimeout time.Duration

	subscriptions map[int][]Subscription // by plugin id
}

// NewHost creates a Host with its own command channel. callTimeout bounds
// every plugin update() invocation (spec §9.1's resolved Open Question:
// plugin call timeout via context.WithTimeout).
func NewHost(registry *Registry, logger *slog.Logger, callTimeout time.Duration) *Host {
	return &Host{
		registry:      registry,
		logger:        logger,
		commands:      dispatch.NewChannel[Command](64),
		callTimeout:   callTimeout,
		subscriptions: make(map[int][]Subscription),
	}
}

// Commands returns the channel callers use to enqueue commands for the
// host loop (QueueIntervalCheck, QueueFileNotify, EnablePlugin, ...).
func (h *Host) Commands() *dispatch.Channel[Command] { return h.commands }

// Run drains the command channel until ctx is canceled or the channel is
// closed, dispatching each command to its handler in turn.
func (h *Host) Run(ctx context.Context) error {
	defer h.commands.Close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case cmd, ok := <-h.commands.Out():
			if !ok {
				return nil
			}
			h.handle(ctx, cmd)
		}
	}
}

func (h *Host) handle(ctx context.Context, cmd Command) {
	var err error
	switch cmd.Kind {
	case CommandInitialize:
		err = h.handleInitialize(cmd)
	case CommandEnablePlugin:
		err = h.setEnabled(cmd.PluginID, true)
	case CommandDisablePlugin:
		err = h.setEnabled(cmd.PluginID, false)
	case CommandSubscribe:
		h.subscriptions[cmd.Subscription.PluginID] = append(
			h.subscriptions[cmd.Subscription.PluginID], cmd.Subscription)
	case CommandHandleUpdate:
		err = h.handleUpdate(ctx, cmd.PluginID, cmd.Event)
	case CommandQueueIntervalTick:
		err = h.dispatchIntervalTick(ctx)
	case CommandQueueFileNotify:
		err = h.dispatchFileNotify(ctx, cmd.FSEvent)
	default:
		err = fmt.Errorf("plugin host: unknown command kind %q", cmd.Kind)
	}

	if err != nil {
		h.logger.Error("plugin command failed", "kind", cmd.Kind, "error", err)
	}
}

func (h *Host) handleInitialize(cmd Command) error {
	if _, ok := h.registry.GetByName(cmd.PluginConfig.Name); ok {
		return fmt.Errorf("plugin host: %q already initialized", cmd.PluginConfig.Name)
	}
	// This command only rejects a duplicate name: it compiles nothing,
	// registers nothing and does not invoke _start. Registration with a real
	// Runner happens in the loader, which has the wasm bytes and Dirs needed
	// to build a Sandbox.
	return nil
}

func (h *Host) setEnabled(id int, enabled bool) error {
	inst, ok := h.registry.Get(id)
	if !ok {
		return fmt.Errorf("plugin host: unknown plugin id %d", id)
	}
	inst.SetEnabled(enabled)
	return nil
}

// handleUpdate calls update() on the plugin named, writing ev as its
// request payload first (spec §4.9: plugin exports receive events through
// the same write/call/read request-response exchange as host queries).
// The call is bounded by h.callTimeout so a hung plugin cannot stall the
// host loop indefinitely.
func (h *Host) handleUpdate(ctx context.Context, id int, ev Event) error {
	inst, ok := h.registry.Get(id)
	if !ok {
		return fmt.Errorf("plugin host: unknown plugin id %d", id)
	}
	if !inst.Enabled() {
		return nil
	}
	if err := inst.Runner.WriteRequest(eventToWire(ev)); err != nil {
		return fmt.Errorf("plugin host: write update event to %q: %w", inst.Config.Name, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, h.callTimeout)
	defer cancel()
	return inst.Runner.Call(callCtx, "update")
}

func eventToWire(ev Event) map[string]any {
	m := map[string]any{"kind": string(ev.Kind)}
	if ev.Path != "" {
		m["path"] = ev.Path
	}
	return m
}

// dispatchIntervalTick fans an IntervalUpdate event out to every plugin
// with an IntervalTick subscription (spec §4.9, 10-minute cadence).
func (h *Host) dispatchIntervalTick(ctx context.Context) error {
	var firstErr error
	for pluginID, subs := range h.subscriptions {
		for _, sub := range subs {
			if sub.Kind != SubscriptionIntervalTick {
				continue
			}
			if err := h.handleUpdate(ctx, pluginID, Event{Kind: EventIntervalUpdate}); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// dispatchFileNotify maps a raw filesystem event onto the matching
// WatchDirectory subscribers and delivers the corresponding Event.
func (h *Host) dispatchFileNotify(ctx context.Context, raw FSEvent) error {
	kind, ok := mapFSOp(raw.Op)
	if !ok {
		return nil // Modify(Metadata)-equivalent, suppressed per spec §4.9
	}

	var firstErr error
	for pluginID, subs := range h.subscriptions {
		for _, sub := range subs {
			if sub.Kind != SubscriptionWatchDirectory {
				continue
			}
			if !pathUnderRoot(sub.Path, sub.Recurse, raw.Path) {
				continue
			}
			if err := h.handleUpdate(ctx, pluginID, Event{Kind: kind, Path: raw.Path}); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// mapFSOp maps a raw FSOp to the plugin-visible EventKind, reporting false
// for ops that must never reach a plugin (spec §4.9: "suppress
// Modify(Metadata) notifications — attribute-only changes never fire").
func mapFSOp(op FSOp) (EventKind, bool) {
	switch op {
	case FSOpCreate:
		return EventFileCreated, true
	case FSOpWrite:
		return EventFileUpdated, true
	case FSOpRemove:
		return EventFileDeleted, true
	case FSOpMetadataOnly:
		return "", false
	default:
		return "", false
	}
}

// TickerInterval is exposed so callers (cmd/ingestd's interval ticker) can wire
// an interval ticker into QueueIntervalCheck commands without duplicating
// the cadence constant.
const TickerInterval = IntervalTickCadence

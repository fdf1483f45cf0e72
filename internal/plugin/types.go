// Package plugin hosts sandboxed WASM extension modules: it compiles and
// instantiates each plugin, maintains its enabled/disabled state, and routes
// subscribed events to it (spec §4.9). No host functions are exported to the
// module, so a plugin has no enqueue, subscribe or data-query callback to
// invoke.
package plugin

import "time"

// Config is a plugin's static configuration plus its current user
// overrides, matching spec §3's "Plugin instance" shape.
type Config struct {
	Name         string
	Author       string
	Description  string
	Trigger      string
	WASMPath     string
	DataDir      string
	IsEnabled    bool
	UserSettings map[string]string
}

// EventKind enumerates the events a plugin's exported update function may
// receive (spec §4.9).
type EventKind string

const (
	EventIntervalUpdate EventKind = "IntervalUpdate"
	EventFileCreated    EventKind = "FileCreated"
	EventFileUpdated    EventKind = "FileUpdated"
	EventFileDeleted    EventKind = "FileDeleted"
)

// Event is delivered to a plugin's update() export.
type Event struct {
	Kind EventKind `json:"kind"`
	Path string    `json:"path,omitempty"`
}

// SubscriptionKind enumerates what a plugin may subscribe to (spec §3).
type SubscriptionKind string

const (
	SubscriptionIntervalTick    SubscriptionKind = "IntervalTick"
	SubscriptionWatchDirectory  SubscriptionKind = "WatchDirectory"
)

// Subscription binds a plugin to an event source.
type Subscription struct {
	PluginID int
	Kind     SubscriptionKind
	Path     string // WatchDirectory only
	Recurse  bool   // WatchDirectory only
}

// IntervalTickCadence is the fixed cadence at which IntervalTick
// subscribers receive an IntervalUpdate event (spec §4.9).
const IntervalTickCadence = 10 * time.Minute

// CommandKind enumerates the plugin host event loop's command variants,
// the Go analogue of the original's PluginCommand enum.
type CommandKind string

const (
	CommandInitialize        CommandKind = "Initialize"
	CommandEnablePlugin      CommandKind = "EnablePlugin"
	CommandDisablePlugin     CommandKind = "DisablePlugin"
	CommandHandleUpdate      CommandKind = "HandleUpdate"
	CommandSubscribe         CommandKind = "Subscribe"
	CommandQueueIntervalTick CommandKind = "QueueIntervalCheck"
	CommandQueueFileNotify   CommandKind = "QueueFileNotify"
)

// Command is one message on the plugin command channel. Only the fields
// relevant to Kind are populated, mirroring the original's enum variants.
type Command struct {
	Kind         CommandKind
	PluginName   string
	PluginConfig Config
	PluginID     int
	Event        Event
	Subscription Subscription
	FSEvent      FSEvent
}

// FSOp classifies a raw filesystem notification.
type FSOp string

const (
	FSOpCreate         FSOp = "Create"
	FSOpWrite          FSOp = "Write"
	FSOpRemove         FSOp = "Remove"
	FSOpMetadataOnly   FSOp = "MetadataOnly" // suppressed, never forwarded
)

// FSEvent is a raw filesystem change notification, pre-mapping.
type FSEvent struct {
	Path string
	Op   FSOp
}

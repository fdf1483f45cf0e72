package plugin

import (
	"context"
	"sync"
	"sync/atomic"
)

// Runner abstracts a plugin's sandboxed execution surface so the registry
// and event loop do not depend directly on the wazero-backed Sandbox,
// keeping them unit-testable without a real WASM module. Call takes a
// context so the caller can bound a hung plugin export with a deadline
// (spec §9.1's plugin call timeout).
type Runner interface {
	Call(ctx context.Context, funcName string) error
	WriteRequest(v any) error
	ReadResponse() (any, error)
	Close() error
}

// Instance is a single registered plugin: its configuration, sandbox, and
// mutable enabled flag (spec §3's "Plugin instance").
type Instance struct {
	ID      int
	Config  Config
	Runner  Runner
	enabled atomic.Bool
}

// Enabled reports the plugin's current is_enabled flag.
func (p *Instance) Enabled() bool { return p.enabled.Load() }

// SetEnabled updates the plugin's is_enabled flag.
func (p *Instance) SetEnabled(v bool) { p.enabled.Store(v) }

// Registry is a concurrent map of plugin instances keyed by id, generalized
// from the teacher's five-variant-typed registry into the single
// PluginInstance shape spec §3 names.
type Registry struct {
	mu     sync.RWMutex
	byID   map[int]*Instance
	byName map[string]int
	nextID int
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:   make(map[int]*Instance),
		byName: make(map[string]int),
	}
}

// Register assigns the next plugin id, stores the instance, and returns it.
func (r *Registry) Register(cfg Config, runner Runner) *Instance {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.nextID
	r.nextID++

	inst := &Instance{ID: id, Config: cfg, Runner: runner}
	inst.SetEnabled(cfg.IsEnabled)

	r.byID[id] = inst
	r.byName[cfg.Name] = id
	return inst
}

// Get returns the instance with id, if any.
func (r *Registry) Get(id int) (*Instance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.byID[id]
	return inst, ok
}

// GetByName returns the instance with the given plugin name, if any.
func (r *Registry) GetByName(name string) (*Instance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byName[name]
	if !ok {
		return nil, false
	}
	return r.byID[id], true
}

// List returns every registered instance in id order.
func (r *Registry) List() []*Instance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Instance, 0, len(r.byID))
	for id := 0; id < r.nextID; id++ {
		if inst, ok := r.byID[id]; ok {
			out = append(out, inst)
		}
	}
	return out
}

// CloseAll closes every registered plugin's runner, collecting and
// returning the first error encountered (if any) while still attempting to
// close the rest — one bad plugin must not leave the others leaking.
func (r *Registry) CloseAll() error {
	r.mu.RLock()
	instances := make([]*Instance, 0, len(r.byID))
	for _, inst := range r.byID {
		instances = append(instances, inst)
	}
	r.mu.RUnlock()

	var firstErr error
	for _, inst := range instances {
		if err := inst.Runner.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Package supervisor implements process-level lifecycle management: startup
// recovery of crashed in-flight tasks and coordinated shutdown of every
// long-lived component (spec §4.8).
package supervisor

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/arclamp/ingestd/internal/dispatch"
	"github.com/arclamp/ingestd/internal/queue"
)

// commandBusCapacity and shutdownBroadcastCapacity mirror the channel
// capacities named in spec §5.
const (
	commandBusCapacity        = 16
	shutdownBroadcastCapacity = 16
)

// Command is a control message on the crawler command bus.
type Command int

const (
	CommandPause Command = iota
	CommandResume
	CommandKill
)

// Supervisor owns startup recovery, the crawler command bus, and the fleet
// of long-lived tasks run under a single errgroup so any task's fatal error
// cancels the rest (the Go-native equivalent of the shutdown broadcast:
// every task receives ctx, and one cancellation reaches them all at their
// next suspension point).
type Supervisor struct {
	store   queue.Store
	logger  *slog.Logger
	commands *dispatch.Broadcast[Command]
}

// New constructs a Supervisor bound to store.
func New(store queue.Store, logger *slog.Logger) *Supervisor {
	return &Supervisor{
		store:    store,
		logger:   logger.With("component", "supervisor"),
		commands: dispatch.NewBroadcast[Command](commandBusCapacity),
	}
}

// Recover transitions every Processing row back to Queued, recovering from
// a prior crash (spec §4.8, I5, P9). Called once at process start before any
// task is launched.
func (sup *Supervisor) Recover(ctx context.Context) error {
	n, err := sup.store.ResetInFlight(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		sup.logger.Info("recovered in-flight tasks from prior run", "count", n)
	}
	return nil
}

// Commands returns the crawler command bus, letting callers Subscribe for
// pause/resume/kill notifications or Publish one to every subscriber.
func (sup *Supervisor) Commands() *dispatch.Broadcast[Command] { return sup.commands }

// Task is a long-lived component the Supervisor runs and supervises: the
// scheduler's dequeue loop, the recrawler, the plugin host event loop, and
// so on. It must return promptly once ctx is canceled.
type Task func(ctx context.Context) error

// Run launches every task under a shared context and waits for either all
// of them to finish or one to return a non-nil error, in which case every
// other task is canceled. On return, the command bus is closed so no
// stranded subscriber blocks forever.
func (sup *Supervisor) Run(ctx context.Context, tasks ...Task) error {
	defer sup.commands.CloseAll()

	eg, egCtx := errgroup.WithContext(ctx)
	for _, t := range tasks {
		t := t
		eg.Go(func() error { return t(egCtx) })
	}
	return eg.Wait()
}

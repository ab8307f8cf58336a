package manager

import (
	"context"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
)

// Flags are the supervisor-wide notification flags. OS signal handlers and
// child reapers only set them; decisions are taken by the owners reading them.
// Timeouts are not a flag: every bounded wait carries its own timer.
type Flags struct {
	shutdown     atomic.Bool
	childChanged atomic.Uint64
}

// RequestShutdown sets the shutdown flag.
func (f *Flags) RequestShutdown() { f.shutdown.Store(true) }

func (f *Flags) ShuttingDown() bool { return f.shutdown.Load() }

func (f *Flags) childExited() { f.childChanged.Add(1) }

// ChildChanges counts reaped children since the supervisor started.
func (f *Flags) ChildChanges() uint64 { return f.childChanged.Load() }

// ShutdownSignals are the OS signals that request a supervisor shutdown.
var ShutdownSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}

// WatchSignals returns a context cancelled when a shutdown signal arrives.
// The shutdown flag is set before the context is cancelled.
func (f *Flags) WatchSignals(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, ShutdownSignals...)
	go func() {
		defer signal.Stop(ch)
		select {
		case <-ch:
			f.shutdown.Store(true)
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

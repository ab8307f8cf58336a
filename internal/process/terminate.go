package process

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"time"
)

// Terminate asks the child to exit with SIGTERM and waits up to grace for it
// to be reaped. When grace elapses (or ctx is cancelled) the process group is
// killed, the child is reaped, and the returned outcome is a forced SIGKILL
// together with ErrStopTimeout.
func (c *Child) Terminate(ctx context.Context, grace time.Duration) (Outcome, error) {
	if c.Exited() {
		return c.Outcome(), nil
	}
	if err := c.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, ErrNotRunning) {
		return c.forceKill(), err
	}

	switch err := waitDone(ctx, c.done, grace); {
	case err == nil:
		return c.Outcome(), nil
	case errors.Is(err, errDeadline):
		return c.forceKill(), fmt.Errorf("%w: %s (pid %d) after %s", ErrStopTimeout, c.name, c.pid, grace)
	default:
		return c.forceKill(), fmt.Errorf("%w: %s (pid %d): %w", ErrStopTimeout, c.name, c.pid, err)
	}
}

func (c *Child) forceKill() Outcome {
	c.Kill()
	return Signaled{Signal: syscall.SIGKILL, Forced: true}
}

package process

import (
	"context"
	"errors"
	"time"
)

var errDeadline = errors.New("deadline elapsed")

// waitDone blocks until done is closed, d elapses or ctx is cancelled.
// It is the single blocking wait-with-deadline used by every protocol step;
// a non-positive d waits on done and ctx only.
func waitDone(ctx context.Context, done <-chan struct{}, d time.Duration) error {
	var expired <-chan time.Time
	if d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		expired = t.C
	}
	select {
	case <-done:
		return nil
	case <-expired:
		return errDeadline
	case <-ctx.Done():
		return ctx.Err()
	}
}

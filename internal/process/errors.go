package process

import (
	"errors"
	"fmt"
)

// Error categories. Every error returned by this package and by the manager
// wraps exactly one of them, so callers can classify failures with errors.Is.
var (
	ErrValidation = errors.New("validation error")
	ErrResource   = errors.New("resource error")
	ErrProcess    = errors.New("process error")
	ErrTimeout    = errors.New("timeout error")
)

var (
	ErrStartTimeout = fmt.Errorf("%w: daemon startup timed out", ErrTimeout)
	ErrStopTimeout  = fmt.Errorf("%w: daemon shutdown timed out", ErrTimeout)
	ErrSyncFailed   = fmt.Errorf("%w: failed to synchronize with daemon", ErrProcess)
	ErrNotRunning   = fmt.Errorf("%w: no child process", ErrProcess)
)

func resourceErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrResource, op, err)
}

func processErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrProcess, op, err)
}

package manager

import (
	"fmt"

	"github.com/loykin/legion/internal/process"
)

var (
	ErrNotFound     = fmt.Errorf("%w: daemon not found", process.ErrValidation)
	ErrDuplicate    = fmt.Errorf("%w: daemon already registered", process.ErrValidation)
	ErrInvalidName  = fmt.Errorf("%w: invalid daemon name", process.ErrValidation)
	ErrInvalidState = fmt.Errorf("%w: operation not allowed in current state", process.ErrValidation)
	ErrStillActive  = fmt.Errorf("%w: daemon is not inactive", process.ErrValidation)
	ErrShuttingDown = fmt.Errorf("%w: supervisor is shutting down", process.ErrValidation)
	ErrCapacity     = fmt.Errorf("%w: daemon registry is full", process.ErrResource)
)

func stateErr(base error, name string, s State) error {
	return fmt.Errorf("%w: %s is %s", base, name, s)
}

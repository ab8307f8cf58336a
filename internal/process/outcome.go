package process

import (
	"fmt"
	"syscall"
)

// Outcome is how a child process terminated. It is either Exited or Signaled.
type Outcome interface {
	fmt.Stringer
	// Abnormal reports whether the child was terminated by a signal.
	Abnormal() bool
	outcome()
}

// Exited is a normal exit carrying the exit code.
type Exited struct {
	Code int `json:"code"`
}

// Signaled is a termination by signal. Forced is set when the supervisor
// killed the child after the shutdown deadline elapsed.
type Signaled struct {
	Signal syscall.Signal `json:"signal"`
	Forced bool           `json:"forced,omitempty"`
}

func (Exited) outcome()   {}
func (Signaled) outcome() {}

func (Exited) Abnormal() bool   { return false }
func (Signaled) Abnormal() bool { return true }

func (e Exited) String() string { return fmt.Sprintf("exit status %d", e.Code) }

func (s Signaled) String() string {
	if s.Forced {
		return fmt.Sprintf("signal %d (%s, forced)", int(s.Signal), s.Signal)
	}
	return fmt.Sprintf("signal %d (%s)", int(s.Signal), s.Signal)
}

// outcomeFromWaitStatus converts a reaped wait status into an Outcome.
func outcomeFromWaitStatus(ws syscall.WaitStatus) Outcome {
	if ws.Signaled() {
		return Signaled{Signal: ws.Signal()}
	}
	return Exited{Code: ws.ExitStatus()}
}

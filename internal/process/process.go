package process

import (
	"errors"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// Child is a launched daemon process. Exactly one goroutine waits on the
// underlying process; everyone else observes its exit through Done.
type Child struct {
	name      string
	cmd       *exec.Cmd
	pid       int
	startedAt time.Time

	done    chan struct{}
	mu      sync.Mutex
	outcome Outcome
	waitErr error
}

func newChild(name string, cmd *exec.Cmd) *Child {
	c := &Child{
		name:      name,
		cmd:       cmd,
		pid:       cmd.Process.Pid,
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}
	go c.reap()
	return c
}

// reap owns cmd.Wait so the child never lingers as a zombie.
func (c *Child) reap() {
	err := c.cmd.Wait()
	var oc Outcome = Exited{Code: 0}
	if ps := c.cmd.ProcessState; ps != nil {
		if ws, ok := ps.Sys().(syscall.WaitStatus); ok {
			oc = outcomeFromWaitStatus(ws)
		}
	}
	// a non-zero exit is an outcome, not a wait failure
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		err = nil
	}
	c.mu.Lock()
	c.outcome = oc
	c.waitErr = err
	c.mu.Unlock()
	close(c.done)
}

func (c *Child) Name() string         { return c.name }
func (c *Child) Pid() int             { return c.pid }
func (c *Child) StartedAt() time.Time { return c.startedAt }

// Done is closed once the child has been reaped.
func (c *Child) Done() <-chan struct{} { return c.done }

// Exited reports whether the child has been reaped.
func (c *Child) Exited() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Outcome returns the reaped outcome, or nil while the child is running.
func (c *Child) Outcome() Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outcome
}

// WaitErr is the error from cmd.Wait other than a non-zero exit.
func (c *Child) WaitErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.waitErr
}

// Signal delivers sig to the child's process group.
func (c *Child) Signal(sig syscall.Signal) error {
	if c.Exited() {
		return ErrNotRunning
	}
	if err := killGroup(c.pid, sig); err != nil {
		return processErr("signal "+sig.String(), err)
	}
	return nil
}

// Kill sends SIGKILL to the process group and blocks until the child is reaped.
func (c *Child) Kill() Outcome {
	_ = c.Signal(syscall.SIGKILL)
	<-c.done
	return c.Outcome()
}

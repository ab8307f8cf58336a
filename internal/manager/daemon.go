package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/legion/internal/env"
	"github.com/loykin/legion/internal/history"
	"github.com/loykin/legion/internal/logger"
	"github.com/loykin/legion/internal/metrics"
	"github.com/loykin/legion/internal/process"
)

// runtime is the supervisor context shared by every daemon.
type runtime struct {
	cfg     Config
	env     *env.Env
	events  *history.Fanout
	log     *slog.Logger
	flags   *Flags
	rotator logger.Rotator
}

// Daemon is a registered daemon record. All mutations happen on its owner
// goroutine; readers take snapshots under mu, so pid and state are never
// observed torn.
//
// State machine:
// inactive -> starting -> active -> stopping -> exited|crashed -> inactive
type Daemon struct {
	name    string
	command string
	args    []string
	rt      *runtime

	mu         sync.RWMutex
	state      State
	pid        int
	outcome    process.Outcome
	child      *process.Child
	lastChange time.Time
	lastEvent  time.Time
	lastErr    string

	cmdChan   chan command
	doneChan  chan struct{}
	closedErr error
}

type commandAction int

const (
	actionStart commandAction = iota
	actionStop
	actionRotate
	actionRetire
	actionShutdown
)

type command struct {
	action commandAction
	ctx    context.Context
	reply  chan error
}

func newDaemon(rt *runtime, name, cmdline string, args []string) *Daemon {
	now := time.Now()
	d := &Daemon{
		name:       name,
		command:    cmdline,
		args:       append([]string(nil), args...),
		rt:         rt,
		state:      StateInactive,
		lastChange: now,
		lastEvent:  now,
		cmdChan:    make(chan command),
		doneChan:   make(chan struct{}),
	}
	go d.runStateMachine()
	return d
}

func (d *Daemon) Name() string { return d.name }

func (d *Daemon) State() State {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

// Pid returns the pid of the running child, or 0.
func (d *Daemon) Pid() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.pid
}

func (d *Daemon) spec() process.Spec {
	return process.Spec{
		Name:       d.name,
		Command:    d.command,
		Args:       d.args,
		DaemonsDir: d.rt.cfg.DaemonsDir,
		LogDir:     d.rt.cfg.LogDir,
		Env:        d.rt.env.DaemonEnv(d.rt.cfg.DaemonsDir),
	}
}

func (d *Daemon) Start(ctx context.Context) error  { return d.send(ctx, actionStart) }
func (d *Daemon) Stop(ctx context.Context) error   { return d.send(ctx, actionStop) }
func (d *Daemon) Rotate(ctx context.Context) error { return d.send(ctx, actionRotate) }

// retire ends the owner goroutine if the daemon is inactive. A retired
// daemon rejects every further command with ErrNotFound.
func (d *Daemon) retire(ctx context.Context) error { return d.send(ctx, actionRetire) }

// shutdown stops the daemon if it is active and ends the owner goroutine.
func (d *Daemon) shutdown(ctx context.Context) error { return d.send(ctx, actionShutdown) }

// send queues a command on the owner goroutine. ctx bounds only the wait for
// the owner to accept it: once accepted, the protocol runs to completion or
// its own timeout even if the caller goes away.
func (d *Daemon) send(ctx context.Context, a commandAction) error {
	cmd := command{action: a, ctx: context.WithoutCancel(ctx), reply: make(chan error, 1)}
	select {
	case d.cmdChan <- cmd:
		return <-cmd.reply
	case <-d.doneChan:
		return d.closedErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runStateMachine is the single owner of the record.
func (d *Daemon) runStateMachine() {
	defer close(d.doneChan)
	for {
		var exited <-chan struct{}
		if d.child != nil {
			exited = d.child.Done()
		}
		select {
		case cmd := <-d.cmdChan:
			if d.handleCommand(cmd) {
				return
			}
		case <-exited:
			d.reconcile()
		}
	}
}

// handleCommand runs cmd and reports whether the owner should exit.
func (d *Daemon) handleCommand(cmd command) bool {
	var err error
	done := false
	switch cmd.action {
	case actionStart:
		err = d.handleStart(cmd.ctx)
	case actionStop:
		err = d.handleStop(cmd.ctx)
	case actionRotate:
		err = d.handleRotate(cmd.ctx)
	case actionRetire:
		if s := d.State(); s != StateInactive {
			err = stateErr(ErrStillActive, d.name, s)
			d.report(err)
		} else {
			d.closedErr = fmt.Errorf("%w: %s", ErrNotFound, d.name)
			done = true
		}
	case actionShutdown:
		if d.State() == StateActive {
			err = d.handleStop(cmd.ctx)
		}
		d.closedErr = fmt.Errorf("%w: %s", ErrShuttingDown, d.name)
		done = true
	}
	cmd.reply <- err
	return done
}

func (d *Daemon) handleStart(ctx context.Context) error {
	if s := d.State(); s != StateInactive {
		err := stateErr(ErrInvalidState, d.name, s)
		d.report(err)
		return err
	}
	d.setState(StateStarting)
	d.emit(history.EventStart)

	began := time.Now()
	child, err := process.Launch(ctx, d.spec(), d.rt.cfg.StartTimeout)
	if err != nil {
		d.setState(StateInactive)
		metrics.IncStartFailure(d.name, failureReason(err))
		err = fmt.Errorf("start %s: %w", d.name, err)
		d.report(err)
		return err
	}

	d.mu.Lock()
	d.child = child
	d.pid = child.Pid()
	d.outcome = nil
	d.lastErr = ""
	d.mu.Unlock()
	d.setState(StateActive)

	metrics.IncStart(d.name)
	metrics.ObserveStartDuration(d.name, time.Since(began).Seconds())
	d.emit(history.EventActive)
	d.rt.log.Info("daemon active", "daemon", d.name, "pid", child.Pid())
	return nil
}

func (d *Daemon) handleStop(ctx context.Context) error {
	switch s := d.State(); {
	case s.Terminal():
		d.reset()
		return nil
	case s != StateActive:
		err := stateErr(ErrInvalidState, d.name, s)
		d.report(err)
		return err
	}

	child := d.child
	d.emit(history.EventStop)
	d.setState(StateStopping)

	oc, err := child.Terminate(ctx, d.rt.cfg.StopTimeout)
	d.finish(oc, child.WaitErr())
	if err != nil {
		err = fmt.Errorf("stop %s: %w", d.name, err)
		d.report(err)
		return err
	}
	return nil
}

// reconcile records a child that exited while the daemon was active.
func (d *Daemon) reconcile() {
	oc := d.child.Outcome()
	d.rt.log.Warn("daemon exited unexpectedly", "daemon", d.name, "pid", d.child.Pid(), "outcome", oc.String())
	d.finish(oc, d.child.WaitErr())
}

// finish moves a reaped daemon to its terminal state. A wait failure does not
// change the outcome but is reported.
func (d *Daemon) finish(oc process.Outcome, waitErr error) {
	next := StateExited
	if oc.Abnormal() {
		next = StateCrashed
	}
	forced := false
	if sig, ok := oc.(process.Signaled); ok {
		forced = sig.Forced
	}

	d.mu.Lock()
	pid := d.pid
	d.outcome = oc
	d.mu.Unlock()
	d.emitWith(history.EventTerm, func(r *history.Record) { r.PID = pid; r.State = next.String() })

	d.mu.Lock()
	d.pid = 0
	d.child = nil
	d.mu.Unlock()
	d.setState(next)

	d.rt.flags.childExited()
	metrics.IncStop(d.name, forced)

	if waitErr != nil {
		d.report(fmt.Errorf("%w: wait %s: %w", process.ErrProcess, d.name, waitErr))
	}
}

// reset acknowledges a terminal state.
func (d *Daemon) reset() {
	d.mu.Lock()
	d.outcome = nil
	d.mu.Unlock()
	d.setState(StateInactive)
	d.emit(history.EventReset)
}

func (d *Daemon) handleRotate(ctx context.Context) error {
	wasActive := d.State() == StateActive
	if wasActive {
		if err := d.handleStop(ctx); err != nil {
			return fmt.Errorf("logrotate %s: %w", d.name, err)
		}
	}

	if err := d.rt.rotator.Rotate(d.name); err != nil {
		err = fmt.Errorf("%w: logrotate %s: %w", process.ErrResource, d.name, err)
		d.report(err)
		return err
	}
	metrics.IncRotation(d.name)
	d.emit(history.EventLogRotate)

	if !wasActive {
		return nil
	}
	d.reset()
	return d.handleStart(ctx)
}

func (d *Daemon) setState(next State) {
	d.mu.Lock()
	prev := d.state
	d.state = next
	d.lastChange = time.Now()
	d.mu.Unlock()

	metrics.RecordStateTransition(d.name, prev.String(), next.String())
	metrics.SetCurrentState(d.name, next.String(), stateNames[:])
	d.rt.log.Debug("daemon state changed", "daemon", d.name, "from", prev.String(), "to", next.String())
}

func (d *Daemon) record() history.Record {
	d.mu.RLock()
	defer d.mu.RUnlock()
	r := history.Record{Name: d.name, Command: d.command, PID: d.pid, State: d.state.String(), Error: d.lastErr}
	if d.outcome != nil {
		r.Outcome = d.outcome.String()
	}
	return r
}

func (d *Daemon) emit(t history.EventType) { d.emitWith(t, nil) }

func (d *Daemon) emitWith(t history.EventType, edit func(*history.Record)) {
	r := d.record()
	if edit != nil {
		edit(&r)
	}
	d.mu.Lock()
	d.lastEvent = time.Now()
	d.mu.Unlock()
	d.rt.events.Emit(history.NewEvent(t, r))
}

// report publishes a failure on the error channel. It never changes state.
func (d *Daemon) report(err error) {
	d.mu.Lock()
	d.lastErr = err.Error()
	d.mu.Unlock()
	d.rt.log.Warn("daemon operation failed", "daemon", d.name, "error", err)
	d.emit(history.EventError)
}

// Status is a point-in-time snapshot of a daemon.
type Status struct {
	Name       string          `json:"name"`
	Command    string          `json:"command"`
	Args       []string        `json:"args,omitempty"`
	PID        int             `json:"pid"`
	State      State           `json:"state"`
	Alive      bool            `json:"alive"` // leader process running and not a zombie
	Outcome    process.Outcome `json:"-"`
	ExitInfo   string          `json:"outcome,omitempty"`
	StartedAt  time.Time       `json:"started_at,omitzero"`
	LastChange time.Time       `json:"last_change"`
	LastEvent  time.Time       `json:"last_event"`
	LastError  string          `json:"last_error,omitempty"`
}

func (d *Daemon) Status() Status {
	d.mu.RLock()
	st := Status{
		Name:       d.name,
		Command:    d.command,
		Args:       append([]string(nil), d.args...),
		PID:        d.pid,
		State:      d.state,
		Outcome:    d.outcome,
		LastChange: d.lastChange,
		LastEvent:  d.lastEvent,
		LastError:  d.lastErr,
	}
	child := d.child
	d.mu.RUnlock()

	if st.Outcome != nil {
		st.ExitInfo = st.Outcome.String()
	}
	if st.State == StateActive && child != nil {
		// the owner reconciles an exit shortly; until then report what the OS sees
		st.Alive = !child.Exited() && process.Alive(st.PID)
		if !st.Alive {
			d.rt.log.Debug("active daemon leader is gone", "daemon", d.name, "pid", st.PID)
		}
		st.StartedAt = process.StartTime(st.PID)
		if st.StartedAt.IsZero() {
			st.StartedAt = child.StartedAt()
		}
	}
	return st
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, process.ErrStartTimeout):
		return "timeout"
	case errors.Is(err, process.ErrSyncFailed):
		return "sync"
	case errors.Is(err, process.ErrResource):
		return "resource"
	default:
		return "spawn"
	}
}

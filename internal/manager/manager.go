package manager

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"
	"go.uber.org/multierr"

	"github.com/loykin/legion/internal/env"
	"github.com/loykin/legion/internal/history"
	"github.com/loykin/legion/internal/logger"
	"github.com/loykin/legion/internal/metrics"
	"github.com/loykin/legion/internal/process"
)

// Default protocol timeouts.
const (
	DefaultStartTimeout = time.Second
	DefaultStopTimeout  = time.Second
)

// Config holds the supervisor-wide settings every daemon shares.
type Config struct {
	DaemonsDir   string
	LogDir       string
	LogVersions  int
	MaxDaemons   int
	StartTimeout time.Duration
	StopTimeout  time.Duration
}

func (c Config) withDefaults() Config {
	if c.DaemonsDir == "" {
		c.DaemonsDir = "daemons"
	}
	if c.LogDir == "" {
		c.LogDir = "logs"
	}
	if c.LogVersions <= 0 {
		c.LogVersions = logger.DefaultVersions
	}
	if c.MaxDaemons <= 0 {
		c.MaxDaemons = DefaultCapacity
	}
	if c.StartTimeout <= 0 {
		c.StartTimeout = DefaultStartTimeout
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = DefaultStopTimeout
	}
	return c
}

// Definition declares a daemon to register at boot.
type Definition struct {
	Name      string
	Command   string
	Args      []string
	Autostart bool
}

// Manager is the supervisor facade: it owns the registry and enforces the
// preconditions of every operation.
type Manager struct {
	rt    *runtime
	reg   *Registry
	flags Flags

	shutdownOnce sync.Once
	shutdownErr  error
}

type options struct {
	log   *slog.Logger
	sinks []history.Sink
	env   *env.Env
}

type Option func(*options)

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithHistory sets the sinks that receive lifecycle events.
func WithHistory(sinks ...history.Sink) Option {
	return func(o *options) { o.sinks = append(o.sinks, sinks...) }
}

// WithEnv sets the environment base that daemons inherit.
func WithEnv(e *env.Env) Option {
	return func(o *options) { o.env = e }
}

func New(cfg Config, opts ...Option) *Manager {
	cfg = cfg.withDefaults()
	o := options{
		log: slog.New(slog.NewTextHandler(io.Discard, nil)),
		env: env.New(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if o.env == nil {
		o.env = env.New()
	}

	m := &Manager{reg: NewRegistry(cfg.MaxDaemons)}
	m.rt = &runtime{
		cfg:     cfg,
		env:     o.env,
		events:  history.NewFanout(o.log, o.sinks...),
		log:     o.log,
		flags:   &m.flags,
		rotator: logger.Rotator{Dir: cfg.LogDir, Versions: cfg.LogVersions},
	}
	return m
}

// SetHistorySinks replaces the history sinks. Passing none clears the list.
func (m *Manager) SetHistorySinks(sinks ...history.Sink) { m.rt.events.SetSinks(sinks...) }

// CloseHistory closes the history sinks. Call it after Shutdown.
func (m *Manager) CloseHistory() error { return m.rt.events.Close() }

func (m *Manager) Config() Config { return m.rt.cfg }

func (m *Manager) Flags() *Flags { return &m.flags }

// Register creates an inactive daemon record.
func (m *Manager) Register(name, command string, args ...string) error {
	if err := m.accepting(); err != nil {
		return m.fail(name, err)
	}
	if err := validateName(name); err != nil {
		return m.fail(name, err)
	}
	if strings.TrimSpace(command) == "" {
		return m.fail(name, fmt.Errorf("%w: %s: command is required", process.ErrValidation, name))
	}
	d := newDaemon(m.rt, name, command, args)
	if err := m.reg.Add(d); err != nil {
		_ = d.retire(context.Background())
		return m.fail(name, err)
	}
	metrics.SetRegistered(m.reg.Len())
	metrics.SetCurrentState(name, StateInactive.String(), stateNames[:])
	d.emit(history.EventRegister)
	m.rt.log.Info("daemon registered", "daemon", name, "command", command)
	return nil
}

// Unregister destroys an inactive daemon record.
func (m *Manager) Unregister(name string) error {
	if err := m.accepting(); err != nil {
		return m.fail(name, err)
	}
	d, err := m.find(name)
	if err != nil {
		return err
	}
	if err := d.retire(context.Background()); err != nil {
		return err
	}
	if _, err := m.reg.Remove(name); err != nil {
		return m.fail(name, err)
	}
	metrics.SetRegistered(m.reg.Len())
	metrics.ForgetDaemon(name)
	d.emit(history.EventUnregister)
	m.rt.log.Info("daemon unregistered", "daemon", name)
	return nil
}

// Start launches an inactive daemon and waits for its readiness signal.
func (m *Manager) Start(ctx context.Context, name string) error {
	d, err := m.operable(name)
	if err != nil {
		return err
	}
	return d.Start(ctx)
}

// Stop terminates an active daemon, or resets one in a terminal state.
func (m *Manager) Stop(ctx context.Context, name string) error {
	d, err := m.operable(name)
	if err != nil {
		return err
	}
	return d.Stop(ctx)
}

// LogRotate shifts the daemon's log generations, restarting it if active.
func (m *Manager) LogRotate(ctx context.Context, name string) error {
	d, err := m.operable(name)
	if err != nil {
		return err
	}
	return d.Rotate(ctx)
}

func (m *Manager) Status(name string) (Status, error) {
	d, ok := m.reg.Find(name)
	if !ok {
		return Status{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return d.Status(), nil
}

// StatusAll reports every daemon in registration order.
func (m *Manager) StatusAll() []Status {
	return lo.Map(m.reg.List(), func(d *Daemon, _ int) Status { return d.Status() })
}

// ActivePIDs maps the name of each active daemon to its pid.
func (m *Manager) ActivePIDs() map[string]int {
	active := m.reg.Filter(StateActive)
	return lo.SliceToMap(active, func(d *Daemon) (string, int) { return d.name, d.Pid() })
}

// Bootstrap registers defs in order and starts those marked autostart.
func (m *Manager) Bootstrap(ctx context.Context, defs []Definition) error {
	var errs error
	for _, def := range defs {
		if err := m.Register(def.Name, def.Command, def.Args...); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if def.Autostart {
			errs = multierr.Append(errs, m.Start(ctx, def.Name))
		}
	}
	return errs
}

// Shutdown refuses further operations and stops every active daemon. It is
// safe to call more than once; later calls return the first result.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.shutdownOnce.Do(func() {
		m.flags.RequestShutdown()
		daemons := m.reg.List()
		m.rt.log.Info("supervisor shutting down", "daemons", len(daemons))

		var (
			mu   sync.Mutex
			errs error
			wg   sync.WaitGroup
		)
		for _, d := range daemons {
			wg.Add(1)
			go func(d *Daemon) {
				defer wg.Done()
				if err := d.shutdown(ctx); err != nil {
					mu.Lock()
					errs = multierr.Append(errs, err)
					mu.Unlock()
				}
			}(d)
		}
		wg.Wait()
		m.shutdownErr = errs
	})
	return m.shutdownErr
}

func (m *Manager) accepting() error {
	if m.flags.ShuttingDown() {
		return ErrShuttingDown
	}
	return nil
}

func (m *Manager) find(name string) (*Daemon, error) {
	d, ok := m.reg.Find(name)
	if !ok {
		return nil, m.fail(name, fmt.Errorf("%w: %s", ErrNotFound, name))
	}
	return d, nil
}

func (m *Manager) operable(name string) (*Daemon, error) {
	if err := m.accepting(); err != nil {
		return nil, m.fail(name, err)
	}
	return m.find(name)
}

// fail reports a facade-level failure that no daemon owner has seen.
func (m *Manager) fail(name string, err error) error {
	m.rt.log.Warn("daemon operation rejected", "daemon", name, "error", err)
	m.rt.events.Emit(history.NewEvent(history.EventError, history.Record{Name: name, Error: err.Error()}))
	return err
}

func validateName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	case strings.ContainsAny(name, "/\\ \t\n\x00"):
		return fmt.Errorf("%w: %q contains a path separator or whitespace", ErrInvalidName, name)
	}
	return nil
}

package legion

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	cfg "github.com/loykin/legion/internal/config"
	"github.com/loykin/legion/internal/env"
	"github.com/loykin/legion/internal/history"
	"github.com/loykin/legion/internal/history/factory"
	"github.com/loykin/legion/internal/manager"
	"github.com/loykin/legion/internal/metrics"
	"github.com/loykin/legion/internal/process"
	iapi "github.com/loykin/legion/internal/server"
	itls "github.com/loykin/legion/internal/tls"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Status = manager.Status

type State = manager.State

type Definition = manager.Definition

type ManagerConfig = manager.Config

type Config = cfg.Config

type Outcome = process.Outcome

type Exited = process.Exited

type Signaled = process.Signaled

type HistoryEvent = history.Event

type HistorySink = history.Sink

type UsageCollector = metrics.UsageCollector

type TLSOptions = itls.Options

const (
	StateInactive = manager.StateInactive
	StateStarting = manager.StateStarting
	StateActive   = manager.StateActive
	StateStopping = manager.StateStopping
	StateExited   = manager.StateExited
	StateCrashed  = manager.StateCrashed
)

// Error categories and sentinels, usable with errors.Is.
var (
	ErrValidation = process.ErrValidation
	ErrResource   = process.ErrResource
	ErrProcess    = process.ErrProcess
	ErrTimeout    = process.ErrTimeout

	ErrNotFound     = manager.ErrNotFound
	ErrDuplicate    = manager.ErrDuplicate
	ErrCapacity     = manager.ErrCapacity
	ErrInvalidState = manager.ErrInvalidState
	ErrStillActive  = manager.ErrStillActive
	ErrShuttingDown = manager.ErrShuttingDown
)

// Manager is a thin facade over internal/manager.Manager.
// It provides a stable public API for embedding.
type Manager struct{ inner *manager.Manager }

type Option = manager.Option

func WithLogger(l *slog.Logger) Option { return manager.WithLogger(l) }

func WithHistory(sinks ...HistorySink) Option { return manager.WithHistory(sinks...) }

// WithEnv overrides entries (K=V) of the environment every daemon inherits.
func WithEnv(kvs []string) Option {
	e := env.New()
	for _, kv := range kvs {
		if k, v, ok := strings.Cut(kv, "="); ok {
			e = e.WithSet(k, v)
		}
	}
	return manager.WithEnv(e)
}

func New(c ManagerConfig, opts ...Option) *Manager {
	return &Manager{inner: manager.New(c, opts...)}
}

func (m *Manager) Register(name, command string, args ...string) error {
	return m.inner.Register(name, command, args...)
}
func (m *Manager) Unregister(name string) error                 { return m.inner.Unregister(name) }
func (m *Manager) Start(ctx context.Context, name string) error { return m.inner.Start(ctx, name) }
func (m *Manager) Stop(ctx context.Context, name string) error  { return m.inner.Stop(ctx, name) }
func (m *Manager) LogRotate(ctx context.Context, name string) error {
	return m.inner.LogRotate(ctx, name)
}
func (m *Manager) Status(name string) (Status, error) { return m.inner.Status(name) }
func (m *Manager) StatusAll() []Status                { return m.inner.StatusAll() }
func (m *Manager) ActivePIDs() map[string]int         { return m.inner.ActivePIDs() }
func (m *Manager) Bootstrap(ctx context.Context, defs []Definition) error {
	return m.inner.Bootstrap(ctx, defs)
}
func (m *Manager) Shutdown(ctx context.Context) error { return m.inner.Shutdown(ctx) }
func (m *Manager) CloseHistory() error                { return m.inner.CloseHistory() }

// WatchSignals returns a context cancelled on SIGINT or SIGTERM. The
// manager refuses new operations from that point on.
func (m *Manager) WatchSignals(parent context.Context) (context.Context, context.CancelFunc) {
	return m.inner.Flags().WatchSignals(parent)
}

func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }

// NewHistorySinks builds one sink per DSN (sqlite://, postgres://,
// clickhouse://, log://).
func NewHistorySinks(dsns []string, log *slog.Logger) ([]HistorySink, error) {
	return factory.NewSinksFromDSNs(dsns, log)
}

// NewHTTPHandler returns the management API for m mounted at basePath.
// usage may be nil.
func NewHTTPHandler(m *Manager, basePath string, usage *UsageCollector) http.Handler {
	r := iapi.NewRouter(m.inner, basePath)
	if usage != nil {
		r.WithUsage(usage)
	}
	return r.Handler()
}

// NewHTTPServer builds a server for the management API. TLS is enabled when
// tlsOpts says so; start it with ListenAndServeTLS("", "") in that case.
func NewHTTPServer(addr string, h http.Handler, tlsOpts TLSOptions) (*http.Server, error) {
	srv := iapi.NewServer(addr, h)
	tc, err := itls.Setup(tlsOpts)
	if err != nil {
		return nil, err
	}
	srv.TLSConfig = tc
	return srv, nil
}

func NewUsageCollector(interval time.Duration, log *slog.Logger) *UsageCollector {
	return metrics.NewUsageCollector(interval, log)
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// NewMetricsServer returns a server exposing /metrics from the default registry.
func NewMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// TLSEnabled reports whether srv was configured for HTTPS.
func TLSEnabled(srv *http.Server) bool { return srv.TLSConfig != nil }

package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	daemonStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "legion",
			Subsystem: "daemon",
			Name:      "starts_total",
			Help:      "Number of daemons that reached the active state.",
		}, []string{"name"},
	)
	daemonStartFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "legion",
			Subsystem: "daemon",
			Name:      "start_failures_total",
			Help:      "Number of failed start attempts by reason.",
		}, []string{"name", "reason"},
	)
	daemonStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "legion",
			Subsystem: "daemon",
			Name:      "stops_total",
			Help:      "Number of stops, labelled forced when SIGKILL was required.",
		}, []string{"name", "forced"},
	)
	daemonStartDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "legion",
			Subsystem: "daemon",
			Name:      "start_duration_seconds",
			Help:      "Time from spawn until the readiness byte arrived.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"name"},
	)
	daemonRotations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "legion",
			Subsystem: "daemon",
			Name:      "log_rotations_total",
			Help:      "Number of log rotations.",
		}, []string{"name"},
	)

	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "legion",
			Subsystem: "daemon",
			Name:      "state_transitions_total",
			Help:      "Number of state transitions between daemon states.",
		}, []string{"name", "from", "to"},
	)

	currentStates = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "legion",
			Subsystem: "daemon",
			Name:      "current_state",
			Help:      "Current state of daemons (1 for the state the daemon is in, 0 otherwise).",
		}, []string{"name", "state"},
	)

	registered = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "legion",
			Name:      "registered_daemons",
			Help:      "Number of daemons currently in the registry.",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{daemonStarts, daemonStartFailures, daemonStops, daemonStartDuration, daemonRotations, stateTransitions, currentStates, registered}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// already registered with this registerer: keep the existing one
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
// The caller is responsible for starting an HTTP server and wiring the route.
func Handler() http.Handler { return promhttp.Handler() }

// HandlerFor serves metrics gathered from g.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncStart(name string) {
	if regOK.Load() {
		daemonStarts.WithLabelValues(name).Inc()
	}
}

func IncStartFailure(name, reason string) {
	if regOK.Load() {
		daemonStartFailures.WithLabelValues(name, reason).Inc()
	}
}

func IncStop(name string, forced bool) {
	if regOK.Load() {
		f := "false"
		if forced {
			f = "true"
		}
		daemonStops.WithLabelValues(name, f).Inc()
	}
}

func ObserveStartDuration(name string, seconds float64) {
	if regOK.Load() {
		daemonStartDuration.WithLabelValues(name).Observe(seconds)
	}
}

func IncRotation(name string) {
	if regOK.Load() {
		daemonRotations.WithLabelValues(name).Inc()
	}
}

func SetRegistered(n int) {
	if regOK.Load() {
		registered.Set(float64(n))
	}
}

func RecordStateTransition(name, from, to string) {
	if regOK.Load() {
		stateTransitions.WithLabelValues(name, from, to).Inc()
	}
}

// SetCurrentState marks state as the one name is in and clears the others
// listed in all.
func SetCurrentState(name, state string, all []string) {
	if !regOK.Load() {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		currentStates.WithLabelValues(name, s).Set(v)
	}
}

// ForgetDaemon drops every per-daemon series for name once it is unregistered.
func ForgetDaemon(name string) {
	if !regOK.Load() {
		return
	}
	l := prometheus.Labels{"name": name}
	daemonStarts.DeletePartialMatch(l)
	daemonStartFailures.DeletePartialMatch(l)
	daemonStops.DeletePartialMatch(l)
	daemonStartDuration.DeletePartialMatch(l)
	daemonRotations.DeletePartialMatch(l)
	stateTransitions.DeletePartialMatch(l)
	currentStates.DeletePartialMatch(l)
}

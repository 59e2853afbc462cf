// Package metrics exposes Prometheus counters and gauges for the
// ingest, alerts, digest, and scheduler subsystems, and the handler
// that serves them.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "starlinker"

const (
	ingestSubsystem    = "ingest"
	alertsSubsystem    = "alerts"
	digestSubsystem    = "digest"
	schedulerSubsystem = "scheduler"
)

var (
	// SignalsFetched counts signals fetched per ingest module, whether
	// or not they were new.
	SignalsFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: ingestSubsystem,
			Name:      "signals_fetched_total",
			Help:      "Signals fetched per ingest module, regardless of whether they were new.",
		},
		[]string{"module"},
	)

	// SignalsStored counts signals newly persisted per ingest module.
	SignalsStored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: ingestSubsystem,
			Name:      "signals_stored_total",
			Help:      "Signals newly persisted per ingest module.",
		},
		[]string{"module"},
	)

	// ModuleErrors counts ingest module failures by module name.
	ModuleErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: ingestSubsystem,
			Name:      "module_errors_total",
			Help:      "Ingest module run failures by module name.",
		},
		[]string{"module"},
	)

	// AlertsDispatched counts delivered alerts by channel.
	AlertsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: alertsSubsystem,
			Name:      "dispatched_total",
			Help:      "Alerts delivered, by channel.",
		},
		[]string{"channel"},
	)

	// AlertsSuppressed counts alert runs suppressed by quiet hours or
	// snooze.
	AlertsSuppressed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: alertsSubsystem,
			Name:      "suppressed_total",
			Help:      "Alert runs suppressed by quiet hours or an active snooze.",
		},
	)

	// DigestsSent counts dispatched digests by type ("daily"/"weekly").
	DigestsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: digestSubsystem,
			Name:      "sent_total",
			Help:      "Digests dispatched, by digest type.",
		},
		[]string{"type"},
	)

	// SchedulerRunning reports whether the scheduler is currently active.
	SchedulerRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: schedulerSubsystem,
			Name:      "running",
			Help:      "1 if the scheduler is running, 0 otherwise.",
		},
	)
)

// SetSchedulerRunning records the scheduler's run state as a 0/1 gauge.
func SetSchedulerRunning(running bool) {
	if running {
		SchedulerRunning.Set(1)
		return
	}
	SchedulerRunning.Set(0)
}

// Handler returns the HTTP handler that serves the default Prometheus
// registry in the text exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

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

	launches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "panelsvc",
			Subsystem: "service",
			Name:      "launches_total",
			Help:      "Number of successful service process launches.",
		}, []string{"service"},
	)
	adoptions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "panelsvc",
			Subsystem: "service",
			Name:      "adoptions_total",
			Help:      "Number of prior instances adopted from a PID file.",
		}, []string{"service"},
	)
	launchFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "panelsvc",
			Subsystem: "service",
			Name:      "launch_failures_total",
			Help:      "Number of failed EnsureRunning calls by failure kind.",
		}, []string{"service", "kind"},
	)
	stops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "panelsvc",
			Subsystem: "service",
			Name:      "stops_total",
			Help:      "Number of stops (graceful or kill).",
		}, []string{"service"},
	)
	terminationIncomplete = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "panelsvc",
			Subsystem: "service",
			Name:      "termination_incomplete_total",
			Help:      "Stops after which the process was still alive.",
		}, []string{"service"},
	)
	readyWait = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "panelsvc",
			Subsystem: "service",
			Name:      "ready_wait_seconds",
			Help:      "Time spent waiting for the service address to accept connections.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"service"},
	)
	running = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "panelsvc",
			Subsystem: "service",
			Name:      "running",
			Help:      "1 while the supervisor holds a live handle.",
		}, []string{"service"},
	)
	cpuPercent = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "panelsvc",
			Subsystem: "process",
			Name:      "cpu_percent",
			Help:      "CPU usage of the supervised process.",
		}, []string{"service"},
	)
	memoryRSS = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "panelsvc",
			Subsystem: "process",
			Name:      "memory_rss_bytes",
			Help:      "Resident memory of the supervised process.",
		}, []string{"service"},
	)
	panelEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "panelsvc",
			Subsystem: "panel",
			Name:      "events_total",
			Help:      "Panel lifecycle events dispatched to the controller.",
		}, []string{"event"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{launches, adoptions, launchFailures, stops, terminationIncomplete, readyWait, running, cpuPercent, memoryRSS, panelEvents}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
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
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncLaunch(service string) {
	if regOK.Load() {
		launches.WithLabelValues(service).Inc()
	}
}

func IncAdopt(service string) {
	if regOK.Load() {
		adoptions.WithLabelValues(service).Inc()
	}
}

func IncLaunchFailure(service, kind string) {
	if regOK.Load() {
		launchFailures.WithLabelValues(service, kind).Inc()
	}
}

func IncStop(service string) {
	if regOK.Load() {
		stops.WithLabelValues(service).Inc()
	}
}

func IncTerminationIncomplete(service string) {
	if regOK.Load() {
		terminationIncomplete.WithLabelValues(service).Inc()
	}
}

func ObserveReadyWait(service string, seconds float64) {
	if regOK.Load() {
		readyWait.WithLabelValues(service).Observe(seconds)
	}
}

func SetRunning(service string, up bool) {
	if regOK.Load() {
		v := 0.0
		if up {
			v = 1
		}
		running.WithLabelValues(service).Set(v)
	}
}

func SetProcessStats(service string, cpu float64, rss uint64) {
	if regOK.Load() {
		cpuPercent.WithLabelValues(service).Set(cpu)
		memoryRSS.WithLabelValues(service).Set(float64(rss))
	}
}

func IncPanelEvent(event string) {
	if regOK.Load() {
		panelEvents.WithLabelValues(event).Inc()
	}
}

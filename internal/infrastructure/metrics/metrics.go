// Package metrics exposes peerlink's Prometheus collectors.
//
// Collectors register lazily on first use, so packages can record without
// any setup. Handler serves the default registry.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "peerlink"

var (
	registerOnce sync.Once

	storeConflicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recordstore",
			Name:      "conflicts_total",
			Help:      "Optimistic-concurrency conflicts by record type.",
		},
		[]string{"type"},
	)
	storeConflictsExceeded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recordstore",
			Name:      "conflicts_exceeded_total",
			Help:      "Updates that exhausted the retry budget.",
		},
		[]string{"type"},
	)
	relayPolls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "polls_total",
			Help:      "Pending-envelope scans by trigger.",
		},
		[]string{"trigger"},
	)
	relayProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "envelopes_processed_total",
			Help:      "Envelopes processed by outcome.",
		},
		[]string{"outcome"},
	)
	relayDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "processing_duration_seconds",
			Help:      "Time from claim to merge for one envelope.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)
	catalogPublishes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "catalog",
			Name:      "publishes_total",
			Help:      "Catalog and host-state publishes by kind and success.",
		},
		[]string{"kind", "success"},
	)
	commandsExecuted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "commands",
			Name:      "executed_total",
			Help:      "Commands executed by terminal state and status code.",
		},
		[]string{"state", "status"},
	)
	commandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "commands",
			Name:      "execution_duration_seconds",
			Help:      "Command execution duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"state"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "Host API requests by route pattern, method and status.",
		},
		[]string{"route", "method", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "Host API request duration by route pattern.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	commandClaims = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "commands",
			Name:      "claims_total",
			Help:      "Claim attempts by result.",
		},
		[]string{"result"},
	)
)

// Register registers every collector with the default registry. Safe to call
// more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			storeConflicts, storeConflictsExceeded,
			relayPolls, relayProcessed, relayDuration,
			catalogPublishes,
			commandsExecuted, commandDuration, commandClaims,
			httpRequests, httpDuration,
		)
	})
}

// Handler returns the HTTP handler serving the default registry.
func Handler() http.Handler {
	Register()
	return promhttp.Handler()
}

func RecordConflict(recordType string) {
	Register()
	storeConflicts.WithLabelValues(recordType).Inc()
}

func RecordConflictExceeded(recordType string) {
	Register()
	storeConflictsExceeded.WithLabelValues(recordType).Inc()
}

func RecordPoll(trigger string) {
	Register()
	relayPolls.WithLabelValues(trigger).Inc()
}

func RecordEnvelopeProcessed(outcome string, duration time.Duration) {
	Register()
	relayProcessed.WithLabelValues(outcome).Inc()
	relayDuration.Observe(duration.Seconds())
}

func RecordPublish(kind string, success bool) {
	Register()
	catalogPublishes.WithLabelValues(kind, strconv.FormatBool(success)).Inc()
}

func RecordClaim(result string) {
	Register()
	commandClaims.WithLabelValues(result).Inc()
}

func RecordCommand(state string, status int, duration time.Duration) {
	Register()
	commandsExecuted.WithLabelValues(state, strconv.Itoa(status)).Inc()
	commandDuration.WithLabelValues(state).Observe(duration.Seconds())
}

// RecordHTTPRequest counts one API request. route is the matched pattern,
// not the raw path, to keep label cardinality bounded.
func RecordHTTPRequest(route, method string, status int, duration time.Duration) {
	Register()
	httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(route).Observe(duration.Seconds())
}

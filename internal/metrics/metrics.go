// Package metrics holds the Prometheus collectors of the connector.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the connector-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	dispatchInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "remote_connector",
			Subsystem: "dispatch",
			Name:      "inflight_calls",
			Help:      "Current number of in-flight remote calls.",
		},
	)

	dispatchCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "remote_connector",
			Subsystem: "dispatch",
			Name:      "calls_total",
			Help:      "Total number of remote calls dispatched.",
		},
		[]string{"model", "operation", "status"},
	)

	dispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "remote_connector",
			Subsystem: "dispatch",
			Name:      "call_duration_seconds",
			Help:      "Duration of remote calls.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
		},
		[]string{"model", "operation"},
	)

	typeDeclarations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "remote_connector",
			Subsystem: "registry",
			Name:      "type_declarations_total",
			Help:      "Total number of object types declared to a transport.",
		},
		[]string{"model"},
	)

	circuitTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "remote_connector",
			Subsystem: "transport",
			Name:      "circuit_transitions_total",
			Help:      "Circuit breaker state transitions.",
		},
		[]string{"from", "to"},
	)
)

func init() {
	Registry.MustRegister(
		dispatchInFlight,
		dispatchCalls,
		dispatchDuration,
		typeDeclarations,
		circuitTransitions,
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// StartCall marks a call in flight and returns the function that records its
// outcome. status is an HTTP status code, or 0 for transport failures.
func StartCall(model, operation string) func(status int) {
	start := time.Now()
	dispatchInFlight.Inc()
	return func(status int) {
		dispatchInFlight.Dec()
		label := "transport_error"
		if status > 0 {
			label = strconv.Itoa(status)
		}
		dispatchCalls.WithLabelValues(model, operation, label).Inc()
		dispatchDuration.WithLabelValues(model, operation).Observe(time.Since(start).Seconds())
	}
}

// RecordTypeDeclaration counts an object type declaration.
func RecordTypeDeclaration(model string) {
	typeDeclarations.WithLabelValues(model).Inc()
}

// RecordCircuitTransition counts a circuit breaker state change.
func RecordCircuitTransition(from, to string) {
	circuitTransitions.WithLabelValues(from, to).Inc()
}

// Calls returns the call counter, for tests and diagnostics.
func Calls() *prometheus.CounterVec {
	return dispatchCalls
}

// TypeDeclarations returns the declaration counter, for tests and diagnostics.
func TypeDeclarations() *prometheus.CounterVec {
	return typeDeclarations
}

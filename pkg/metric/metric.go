// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "vastinspect"

// Metrics holds all metrics for the inspector
type Metrics struct {
	registry *prometheus.Registry

	// Firing metrics
	Firings         *prometheus.CounterVec
	DuplicateFires  *prometheus.CounterVec
	DispatchLatency prometheus.Histogram

	// Lifecycle metrics
	Transitions *prometheus.CounterVec
	LoadsFailed *prometheus.CounterVec

	// Control channel metrics
	SessionsStarted  prometheus.Counter
	MessagesReceived *prometheus.CounterVec
	MessagesIgnored  *prometheus.CounterVec

	// Transport metrics
	DocumentsFetched *prometheus.CounterVec
}

// NewMetrics creates a metrics instance on its own registry
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.NewRegistry())
}

// NewMetricsWith registers the metrics on reg
func NewMetricsWith(reg *prometheus.Registry) *Metrics {
	m := &Metrics{registry: reg}

	m.Firings = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "firings_total",
		Help:      "Tracking URLs dispatched by category and outcome",
	}, []string{"category", "status"})

	m.DuplicateFires = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "firings_duplicate_total",
		Help:      "Firing attempts rejected because the raw URL already fired",
	}, []string{"category"})

	m.DispatchLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "dispatch_duration_seconds",
		Help:      "Time to complete a tracking dispatch",
		Buckets:   prometheus.DefBuckets,
	})

	m.Transitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "lifecycle_transitions_total",
		Help:      "Lifecycle state transitions by target state",
	}, []string{"state"})

	m.LoadsFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "lifecycle_loads_failed_total",
		Help:      "Rejected ad loads by reason",
	}, []string{"reason"})

	m.SessionsStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "simid_sessions_started_total",
		Help:      "Control-channel sessions allocated",
	})

	m.MessagesReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "simid_messages_received_total",
		Help:      "Accepted inbound control-channel messages by type",
	}, []string{"type"})

	m.MessagesIgnored = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "simid_messages_ignored_total",
		Help:      "Ignored inbound control-channel messages by reason",
	}, []string{"reason"})

	m.DocumentsFetched = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transport_documents_total",
		Help:      "Descriptor documents provided by source",
	}, []string{"source"})

	reg.MustRegister(
		m.Firings,
		m.DuplicateFires,
		m.DispatchLatency,
		m.Transitions,
		m.LoadsFailed,
		m.SessionsStarted,
		m.MessagesReceived,
		m.MessagesIgnored,
		m.DocumentsFetched,
	)
	return m
}

// GetGatherer returns the prometheus gatherer for metrics export
func (m *Metrics) GetGatherer() prometheus.Gatherer {
	return m.registry
}

// Nop is a metrics instance on a private registry, for callers that do not export
func Nop() *Metrics {
	return NewMetrics()
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides Prometheus metrics for the explore client.
//
// # Description
//
// Metrics include:
//   - Explore query counters and latency, per-node outcomes
//   - Cohort patient-list requests by result and status transitions
//   - Gateway HTTP requests and open status websockets
//
// Exposed on /metrics by the gateway.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
// Every method is a no-op on a nil *Metrics.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

const metricsNamespace = "glowingbear"

const (
	exploreSubsystem = "explore"
	cohortsSubsystem = "cohorts"
	gatewaySubsystem = "gateway"
)

// Metrics holds the Prometheus collectors.
type Metrics struct {
	// QueriesTotal counts explore queries. Labels: status (success, error, timeout)
	QueriesTotal *prometheus.CounterVec

	// QueryDurationSeconds measures whole explore queries. Labels: status
	QueryDurationSeconds *prometheus.HistogramVec

	// NodeRequestsTotal counts per-node query requests. Labels: node, outcome
	NodeRequestsTotal *prometheus.CounterVec

	// ActiveQueries tracks explore queries in flight.
	ActiveQueries prometheus.Gauge

	// PatientListRequestsTotal counts GetList calls by result
	// (cached, deduplicated, fetched, unauthorized, error).
	PatientListRequestsTotal *prometheus.CounterVec

	// StatusTransitionsTotal counts cohort status changes. Labels: status
	StatusTransitionsTotal *prometheus.CounterVec

	// DecryptionDurationSeconds measures patient-list decryption.
	DecryptionDurationSeconds prometheus.Histogram

	// HTTPRequestsTotal counts gateway requests. Labels: route, code
	HTTPRequestsTotal *prometheus.CounterVec

	// StatusSubscribers tracks open status websockets.
	StatusSubscribers prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// means the default registerer.
//
// # Limitations
//
//   - Panics if called twice with the same registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		QueriesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: exploreSubsystem,
				Name:      "queries_total",
				Help:      "Total explore queries by status",
			},
			[]string{"status"},
		),

		QueryDurationSeconds: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: exploreSubsystem,
				Name:      "query_duration_seconds",
				Help:      "Explore query duration across all nodes",
				Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 180, 600},
			},
			[]string{"status"},
		),

		NodeRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: exploreSubsystem,
				Name:      "node_requests_total",
				Help:      "Per-node explore requests by outcome",
			},
			[]string{"node", "outcome"},
		),

		ActiveQueries: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: exploreSubsystem,
				Name:      "active_queries",
				Help:      "Explore queries in flight",
			},
		),

		PatientListRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: cohortsSubsystem,
				Name:      "patient_list_requests_total",
				Help:      "Patient-list requests by result",
			},
			[]string{"result"},
		),

		StatusTransitionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: cohortsSubsystem,
				Name:      "status_transitions_total",
				Help:      "Cohort patient-list status transitions",
			},
			[]string{"status"},
		),

		DecryptionDurationSeconds: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: cohortsSubsystem,
				Name:      "decryption_duration_seconds",
				Help:      "Time to decrypt all node patient lists of a cohort",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30},
			},
		),

		HTTPRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "http_requests_total",
				Help:      "Gateway HTTP requests by route and status code",
			},
			[]string{"route", "code"},
		),

		StatusSubscribers: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "status_subscribers",
				Help:      "Open cohort status websockets",
			},
		),
	}
}

// =============================================================================
// Label Values
// =============================================================================

// QueryStatus labels a finished explore query.
type QueryStatus string

const (
	QueryStatusSuccess QueryStatus = "success"
	QueryStatusError   QueryStatus = "error"
	QueryStatusTimeout QueryStatus = "timeout"
)

// ListResult labels a GetList call.
type ListResult string

const (
	ListResultCached       ListResult = "cached"
	ListResultDeduplicated ListResult = "deduplicated"
	ListResultFetched      ListResult = "fetched"
	ListResultUnauthorized ListResult = "unauthorized"
	ListResultError        ListResult = "error"
)

// =============================================================================
// Helper Methods
// =============================================================================

// QueryStarted increments the active query gauge.
func (m *Metrics) QueryStarted() {
	if m == nil {
		return
	}
	m.ActiveQueries.Inc()
}

// QueryFinished records a finished explore query and decrements the gauge.
func (m *Metrics) QueryFinished(status QueryStatus, d time.Duration) {
	if m == nil {
		return
	}
	m.ActiveQueries.Dec()
	m.QueriesTotal.WithLabelValues(string(status)).Inc()
	m.QueryDurationSeconds.WithLabelValues(string(status)).Observe(d.Seconds())
}

// RecordNodeRequest records one node's answer.
func (m *Metrics) RecordNodeRequest(node string, success bool) {
	if m == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "error"
	}
	m.NodeRequestsTotal.WithLabelValues(node, outcome).Inc()
}

// RecordListRequest records a GetList outcome.
func (m *Metrics) RecordListRequest(result ListResult) {
	if m == nil {
		return
	}
	m.PatientListRequestsTotal.WithLabelValues(string(result)).Inc()
}

// RecordTransition records a cohort status change.
func (m *Metrics) RecordTransition(status string) {
	if m == nil {
		return
	}
	m.StatusTransitionsTotal.WithLabelValues(status).Inc()
}

// RecordDecryption records decryption latency.
func (m *Metrics) RecordDecryption(d time.Duration) {
	if m == nil {
		return
	}
	m.DecryptionDurationSeconds.Observe(d.Seconds())
}

// RecordHTTPRequest records a gateway request.
func (m *Metrics) RecordHTTPRequest(route, code string) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(route, code).Inc()
}

// SubscriberOpened increments the websocket gauge.
func (m *Metrics) SubscriberOpened() {
	if m == nil {
		return
	}
	m.StatusSubscribers.Inc()
}

// SubscriberClosed decrements the websocket gauge.
func (m *Metrics) SubscriberClosed() {
	if m == nil {
		return
	}
	m.StatusSubscribers.Dec()
}

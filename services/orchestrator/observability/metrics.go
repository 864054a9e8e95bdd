// Copyright (C) 2025 Aegi AI (engineering@aegi.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides Prometheus metrics for the analysis
// core's HTTP surface and background engines.
//
// # Description
//
// All metrics live under the "aegi" namespace with the "core"
// subsystem. Handlers record through the typed helper methods rather
// than touching collectors directly, so label sets stay consistent
// across the codebase.
//
// # Usage
//
//	m := observability.InitMetrics()
//	m.RecordRequest("/cases/:case/analysis/chat", "POST", 200, elapsed)
package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "aegi"
	subsystem = "core"
)

// Metrics bundles every collector the orchestrator records into.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ErrorsTotal     *prometheus.CounterVec

	PipelineRunsTotal *prometheus.CounterVec
	AnomaliesTotal    *prometheus.CounterVec

	WebsocketsActive prometheus.Gauge
	ChatStreamsTotal prometheus.Counter
}

var (
	defaultMetrics *Metrics
	initOnce       sync.Once
)

// InitMetrics registers the collector set exactly once and returns the
// process-wide instance. Safe to call from multiple packages.
func InitMetrics() *Metrics {
	initOnce.Do(func() {
		defaultMetrics = newMetrics(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}

// NewMetricsWithRegistry builds an isolated collector set. Tests use
// this to avoid duplicate-registration panics across cases.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	return newMetrics(reg)
}

func newMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   []float64{0.005, 0.025, 0.1, 0.25, 1, 2.5, 10, 30},
		}, []string{"route"}),
		ErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "http_errors_total",
			Help:      "Error responses by route and error code.",
		}, []string{"route", "error_code"}),
		PipelineRunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "pipeline_runs_total",
			Help:      "Pipeline runs started, by playbook.",
		}, []string{"playbook"}),
		AnomaliesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "gdelt_anomalies_total",
			Help:      "GDELT anomalies detected by type.",
		}, []string{"anomaly_type"}),
		WebsocketsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "websockets_active",
			Help:      "Currently open websocket connections.",
		}),
		ChatStreamsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "chat_streams_total",
			Help:      "Chat questions answered over the websocket.",
		}),
	}
}

// RecordRequest records one finished HTTP request.
func (m *Metrics) RecordRequest(route, method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

// RecordError records one error response.
func (m *Metrics) RecordError(route, errorCode string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(route, errorCode).Inc()
}

// RecordPipelineRun counts one started pipeline run.
func (m *Metrics) RecordPipelineRun(playbook string) {
	if m == nil {
		return
	}
	m.PipelineRunsTotal.WithLabelValues(playbook).Inc()
}

// RecordAnomaly counts one detected GDELT anomaly.
func (m *Metrics) RecordAnomaly(anomalyType string) {
	if m == nil {
		return
	}
	m.AnomaliesTotal.WithLabelValues(anomalyType).Inc()
}

// WebsocketOpened and WebsocketClosed track the active connection
// gauge.
func (m *Metrics) WebsocketOpened() {
	if m == nil {
		return
	}
	m.WebsocketsActive.Inc()
}

func (m *Metrics) WebsocketClosed() {
	if m == nil {
		return
	}
	m.WebsocketsActive.Dec()
}

// ChatStreamStarted counts one websocket chat question.
func (m *Metrics) ChatStreamStarted() {
	if m == nil {
		return
	}
	m.ChatStreamsTotal.Inc()
}

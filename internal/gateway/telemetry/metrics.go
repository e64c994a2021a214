// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package telemetry exposes the data plane's Prometheus metrics. Labels
// are limited to closed enumerations (the three decisions); nothing here
// carries per-key or per-path cardinality.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_requests_total",
		Help: "Requests handled by the data plane, by terminal decision",
	}, []string{"decision"})
	requestDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "gateway_request_duration_seconds",
		Help:    "End-to-end request latency including upstream time",
		Buckets: prometheus.DefBuckets,
	})

	auditDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gateway_audit_events_dropped_total",
		Help: "Audit events dropped because the queue was full or shutting down",
	})
	auditSendFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gateway_audit_send_failures_total",
		Help: "Audit POSTs to the control plane that failed or timed out",
	})
	auditQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_audit_queue_depth",
		Help: "Audit events currently buffered in the in-memory queue",
	})

	kvErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gateway_kv_errors_total",
		Help: "KV operations that failed and triggered the fail-open path",
	})
	upstreamErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gateway_upstream_errors_total",
		Help: "Forward attempts that failed before upstream response headers",
	})

	configRefreshSuccessTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gateway_config_refresh_success_total",
		Help: "Successful project config refreshes",
	})
	configRefreshFailureTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gateway_config_refresh_failure_total",
		Help: "Failed project config refresh attempts",
	})
	configProjects = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_config_projects",
		Help: "Projects in the live config snapshot",
	})
)

func init() {
	// Register eagerly. Harmless if /metrics is never scraped.
	prometheus.MustRegister(
		requestsTotal, requestDuration,
		auditDroppedTotal, auditSendFailuresTotal, auditQueueDepth,
		kvErrorsTotal, upstreamErrorsTotal,
		configRefreshSuccessTotal, configRefreshFailureTotal, configProjects,
	)
}

// ObserveRequest records one terminal request outcome.
func ObserveRequest(decision string, latency time.Duration) {
	requestsTotal.WithLabelValues(decision).Inc()
	requestDuration.Observe(latency.Seconds())
}

func AuditDropped()    { auditDroppedTotal.Inc() }
func AuditSendFailed() { auditSendFailuresTotal.Inc() }

func SetAuditQueueDepth(n int) { auditQueueDepth.Set(float64(n)) }

func KVError()       { kvErrorsTotal.Inc() }
func UpstreamError() { upstreamErrorsTotal.Inc() }

func ConfigRefreshSuccess(projects int) {
	configRefreshSuccessTotal.Inc()
	configProjects.Set(float64(projects))
}

func ConfigRefreshFailure() { configRefreshFailureTotal.Inc() }

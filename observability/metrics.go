// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability holds the Prometheus metrics for the orchestrator.
// Metrics are registered once at process start via promauto and exposed on
// the /metrics endpoint.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "kachemak"

var (
	// turnsTotal counts completed chat turns by outcome.
	turnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_turns_total",
			Help:      "Total chat turns processed, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	// admissionRejectionsTotal counts requests turned away at the gate.
	admissionRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admission_rejections_total",
			Help:      "Requests rejected before reaching a handler, labeled by reason.",
		},
		[]string{"reason"},
	)

	// directiveDispatchesTotal counts lookup dispatches by marker.
	directiveDispatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "directive_dispatches_total",
			Help:      "Directive lookups dispatched by the completion loop, labeled by marker.",
		},
		[]string{"marker"},
	)

	// completionLatencySeconds observes completion service call latency.
	completionLatencySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "completion_latency_seconds",
			Help:      "Latency of completion service calls, labeled by loop phase.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		},
		[]string{"phase"},
	)
)

// RecordTurn increments the turn counter for the given outcome
// ("ok", "validation", "unauthorized", "not_found", "upstream").
func RecordTurn(outcome string) {
	turnsTotal.WithLabelValues(outcome).Inc()
}

// RecordAdmissionRejection increments the gate rejection counter
// ("rate_limit").
func RecordAdmissionRejection(reason string) {
	admissionRejectionsTotal.WithLabelValues(reason).Inc()
}

// RecordDispatch increments the dispatch counter for a directive marker.
func RecordDispatch(marker string) {
	directiveDispatchesTotal.WithLabelValues(marker).Inc()
}

// RecordCompletionLatency observes one completion call's duration in seconds.
func RecordCompletionLatency(phase string, seconds float64) {
	completionLatencySeconds.WithLabelValues(phase).Observe(seconds)
}

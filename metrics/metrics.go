// Copyright (C) 2023 Intel Corporation
// SPDX-License-Identifier: Apache-2.0

// Package metrics exposes the Prometheus instrumentation emitted by the
// report handler pipeline: ticks processed, buckets released, incomplete
// ticks dropped, retrains triggered, reports lost, and the current model
// hash per frequency layer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "smartwatts"

var (
	// TicksProcessed counts HWPC reports accepted into a tick buffer, by
	// socket and scope.
	TicksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ticks_processed_total",
		Help:      "Number of HWPC reports inserted into a handler's tick buffer.",
	}, []string{"socket", "scope"})

	// BucketsReleased counts ticks released by the tick buffer for
	// processing, by socket and scope.
	BucketsReleased = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "buckets_released_total",
		Help:      "Number of tick buckets released by a handler's tick buffer.",
	}, []string{"socket", "scope"})

	// IncompleteTicksDropped counts buckets released without a system-wide
	// ("all") report, by socket and scope.
	IncompleteTicksDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "incomplete_ticks_dropped_total",
		Help:      "Number of tick buckets dropped for missing the system-wide target report.",
	}, []string{"socket", "scope"})

	// RetrainsTriggered counts model retrains triggered by the
	// error-driven trainer, by socket, scope and frequency layer.
	RetrainsTriggered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "retrains_triggered_total",
		Help:      "Number of times a power model was retrained after exceeding its error threshold.",
	}, []string{"socket", "scope", "layer"})

	// ReportsLost counts Power reports dropped after a sink exhausted its
	// retry budget.
	ReportsLost = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reports_lost_total",
		Help:      "Number of Power reports dropped after the sink exhausted its retry budget.",
	})

	// ModelHash reports the current model hash for a given socket, scope
	// and frequency layer, as a gauge so diagnostics can detect a
	// retraining event without scraping logs.
	ModelHash = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "model_hash",
		Help:      "Current coefficient hash of the power model for a frequency layer, truncated to a float64-safe range.",
	}, []string{"socket", "scope", "layer"})

	// ModelsActive reports the number of distinct frequency-layer models
	// a handler currently holds, by socket and scope.
	ModelsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "models_active",
		Help:      "Number of distinct frequency-layer power models currently held by a handler.",
	}, []string{"socket", "scope"})
)

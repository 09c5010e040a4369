// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sofea

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// =============================================================================
// Metrics
// =============================================================================

var tracer = otel.Tracer("sofea")

var (
	sweepsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sofea",
		Name:      "sweeps_total",
		Help:      "Completed fringe sweeps",
	})

	sweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "sofea",
		Name:      "sweep_duration_seconds",
		Help:      "Wall time per sweep",
		Buckets:   prometheus.ExponentialBuckets(0.001, 4, 12),
	})

	// nodesTotal counts fringe nodes by state and outcome.
	// Outcomes: "read", "deferred", "expanded", "replaced", "requeued".
	nodesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sofea",
		Name:      "nodes_total",
		Help:      "Fringe nodes processed by state and outcome",
	}, []string{"state", "outcome"})

	nodesAddedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sofea",
		Name:      "nodes_added_total",
		Help:      "Replacement nodes written by committed expansions",
	}, []string{"state"})

	leavesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sofea",
		Name:      "leaves_total",
		Help:      "Exact leaf Z values recorded",
	}, []string{"state"})

	fringeNodes = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sofea",
		Name:      "fringe_nodes",
		Help:      "Nodes stored in the fringe",
	})

	fringeCapacity = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sofea",
		Name:      "fringe_capacity_nodes",
		Help:      "Fringe capacity in nodes",
	})
)

// OpenTelemetry instruments, exported by whichever meter provider
// telemetry.Init installed. Instruments created before the provider is set
// are forwarded to it.
var (
	meter = otel.Meter("sofea")

	otelSweepDuration, _ = meter.Float64Histogram("sofea.sweep.duration",
		metric.WithDescription("Wall time per sweep"),
		metric.WithUnit("s"))

	otelNodesRead, _ = meter.Int64Counter("sofea.sweep.nodes_read",
		metric.WithDescription("Fringe nodes read by state"),
		metric.WithUnit("{node}"))

	otelLeaves, _ = meter.Int64Counter("sofea.sweep.leaves",
		metric.WithDescription("Exact leaf Z values recorded by state"),
		metric.WithUnit("{leaf}"))
)

func recordSweep(ctx context.Context, report *SweepReport) {
	otelSweepDuration.Record(ctx, report.Duration.Seconds())
	for _, st := range report.States {
		attrs := metric.WithAttributes(attribute.String("state", st.State))
		otelNodesRead.Add(ctx, st.Read, attrs)
		otelLeaves.Add(ctx, st.Leaves, attrs)
	}

	sweepsTotal.Inc()
	sweepDuration.Observe(report.Duration.Seconds())
	fringeNodes.Set(float64(report.FringeNodes))
	fringeCapacity.Set(float64(report.FringeCapacity))
	for _, st := range report.States {
		nodesTotal.WithLabelValues(st.State, "read").Add(float64(st.Read))
		nodesTotal.WithLabelValues(st.State, "deferred").Add(float64(st.Deferred))
		nodesTotal.WithLabelValues(st.State, "expanded").Add(float64(st.Expanded))
		nodesTotal.WithLabelValues(st.State, "replaced").Add(float64(st.Replaced))
		nodesTotal.WithLabelValues(st.State, "requeued").Add(float64(st.Requeued))
		nodesAddedTotal.WithLabelValues(st.State).Add(float64(st.Added))
		leavesTotal.WithLabelValues(st.State).Add(float64(st.Leaves))
	}
}

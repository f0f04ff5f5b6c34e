// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianEdit/services/editor/classify"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for dispatch.
var (
	tracer = otel.Tracer("aleutian.editor.scheduler")
	meter  = otel.Meter("aleutian.editor.scheduler")
)

var (
	dispatchLatency metric.Float64Histogram
	dispatchTotal   metric.Int64Counter
	preemptions     metric.Int64Counter
	laneWait        metric.Float64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		dispatchLatency, err = meter.Float64Histogram(
			"editor_dispatch_duration_seconds",
			metric.WithDescription("Duration of dispatched editor requests"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		dispatchTotal, err = meter.Int64Counter(
			"editor_dispatch_total",
			metric.WithDescription("Dispatched editor requests by service and result"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		preemptions, err = meter.Int64Counter(
			"editor_validation_preemptions_total",
			metric.WithDescription("Validation tasks cancelled to make room for a locking request"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		laneWait, err = meter.Float64Histogram(
			"editor_lane_wait_seconds",
			metric.WithDescription("Time spent waiting for a resource lane"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// startDispatchSpan creates a span for one request.
func startDispatchSpan(ctx context.Context, sessionID string, req classify.ServiceRequest) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Scheduler.Dispatch",
		trace.WithAttributes(
			attribute.String("editor.service", string(req.Kind)),
			attribute.String("editor.class", req.Class.String()),
			attribute.String("editor.resource", req.Resource),
			attribute.String("editor.session_id", sessionID),
		),
	)
}

func recordDispatch(ctx context.Context, kind classify.ServiceKind, result string, duration time.Duration) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("service", string(kind)),
		attribute.String("result", result),
	)
	dispatchLatency.Record(ctx, duration.Seconds(), attrs)
	dispatchTotal.Add(ctx, 1, attrs)
}

func recordPreemption(ctx context.Context, by classify.ServiceKind) {
	if err := initMetrics(); err != nil {
		return
	}
	preemptions.Add(ctx, 1, metric.WithAttributes(attribute.String("by", string(by))))
}

func recordLaneWait(ctx context.Context, d time.Duration) {
	if err := initMetrics(); err != nil {
		return
	}
	laneWait.Record(ctx, d.Seconds())
}

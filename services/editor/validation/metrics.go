// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package validation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tasksStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "editor_validation_tasks_started_total",
		Help: "Validation tasks started",
	})

	tasksFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "editor_validation_tasks_finished_total",
		Help: "Validation tasks finished by outcome",
	}, []string{"outcome"})

	tasksDegraded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "editor_validation_tasks_degraded_total",
		Help: "Validation tasks that produced a degraded result",
	})

	taskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "editor_validation_task_duration_seconds",
		Help:    "Time from task start until the validator returned",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"outcome"})

	tasksRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "editor_validation_tasks_running",
		Help: "Validation tasks whose validator has not returned",
	})
)

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package confidence

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	projectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "compass_confidence_projections_total",
		Help: "Objective confidence scores computed",
	})

	scoreDistribution = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "compass_confidence_score",
		Help:    "Distribution of computed confidence scores",
		Buckets: []float64{0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
	})
)

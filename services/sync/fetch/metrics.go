// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package fetch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	fetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "compass_fetches_total",
		Help: "Fetch cycles by kind and outcome",
	}, []string{"kind", "outcome"})

	fetchJoinsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "compass_fetch_singleflight_joins_total",
		Help: "Callers that joined an already in-flight fetch",
	}, []string{"kind"})

	fetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "compass_fetch_duration_seconds",
		Help:    "End-to-end fetch cycle duration",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"kind"})

	ingestSectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "compass_ingest_sections_total",
		Help: "Section payloads applied from the progressive stream",
	}, []string{"section"})

	ingestMalformedLines = promauto.NewCounter(prometheus.CounterOpts{
		Name: "compass_ingest_malformed_lines_total",
		Help: "Stream lines dropped because they failed JSON parsing",
	})
)

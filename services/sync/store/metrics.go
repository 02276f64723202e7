// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for store operations.
var (
	sectionSetsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "compass_store_section_sets_total",
		Help: "Section payload replacements by section name",
	}, []string{"section"})

	sectionDecodeFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "compass_store_section_decode_failures_total",
		Help: "Section payloads rejected because they failed to decode",
	}, []string{"section"})

	entityMutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "compass_store_entity_mutations_total",
		Help: "Fine-grained entity mutations by kind",
	}, []string{"kind"})

	storeClearsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "compass_store_clears_total",
		Help: "Full store invalidations",
	})

	freshnessChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "compass_store_freshness_checks_total",
		Help: "Freshness decisions by outcome",
	}, []string{"outcome"})
)

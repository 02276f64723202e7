// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package snapshot

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	opsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "compass_snapshot_ops_total",
		Help: "Snapshot store operations by outcome",
	}, []string{"op", "outcome"})

	snapshotBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "compass_snapshot_bytes",
		Help: "Size of the last saved snapshot",
	})
)

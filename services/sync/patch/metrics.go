// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package patch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	patchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "compass_patch_instructions_total",
		Help: "Cache-patch instructions by action and outcome",
	}, []string{"action", "outcome"})

	malformedPayloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "compass_patch_malformed_payloads_total",
		Help: "Cache-patch payloads that failed to decode, by action",
	}, []string{"action"})
)

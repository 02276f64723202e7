// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package bus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var signalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "compass_bus_signals_total",
	Help: "Invalidation signals by transport and disposition",
}, []string{"transport", "disposition"})

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package confidence

import (
	"fmt"
	"time"
)

// quarter is the resolved planning window a score is computed against.
// End is exclusive, so totalDays for Q3 is 92 (Jul 1 to Oct 1).
type quarter struct {
	start time.Time
	end   time.Time

	totalDays      float64
	remainingDays  float64
	remainingRatio float64
}

// resolveQuarter parses a "YYYY-Q#" cycle label. An absent or malformed
// label falls back to the calendar quarter containing now.
func (p *Projector) resolveQuarter(cycleQtr string, now time.Time) quarter {
	start, ok := parseCycleQtr(cycleQtr)
	if !ok {
		if cycleQtr != "" {
			p.logger.Debug("falling back to current quarter", "cycle_qtr", cycleQtr)
		}
		start = currentQuarterStart(now)
	}
	return makeQuarter(start, now)
}

func parseCycleQtr(s string) (time.Time, bool) {
	var year, qtr int
	if _, err := fmt.Sscanf(s, "%d-Q%d", &year, &qtr); err != nil {
		return time.Time{}, false
	}
	if year < 1 || qtr < 1 || qtr > 4 {
		return time.Time{}, false
	}
	return time.Date(year, time.Month(3*(qtr-1)+1), 1, 0, 0, 0, 0, time.UTC), true
}

func currentQuarterStart(now time.Time) time.Time {
	qtr := (int(now.Month()) - 1) / 3
	return time.Date(now.Year(), time.Month(3*qtr+1), 1, 0, 0, 0, 0, time.UTC)
}

func makeQuarter(start, now time.Time) quarter {
	end := start.AddDate(0, 3, 0)
	total := end.Sub(start).Hours() / 24

	remaining := end.Sub(now).Hours() / 24
	if remaining < 0 {
		remaining = 0
	}
	if remaining > total {
		remaining = total
	}

	return quarter{
		start:          start,
		end:            end,
		totalDays:      total,
		remainingDays:  remaining,
		remainingRatio: clamp01(remaining / total),
	}
}

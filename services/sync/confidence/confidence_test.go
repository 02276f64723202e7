// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package confidence

import (
	"testing"
	"time"

	"github.com/AleutianAI/compass/services/sync/datatypes"
)

// Fixed clock: Sep 1 2025, so 2025-Q3 (92 days, Jul 1 to Oct 1) has
// exactly 30 days remaining.
var testNow = time.Date(2025, time.September, 1, 0, 0, 0, 0, time.UTC)

func testProjector(opts ...Option) *Projector {
	opts = append([]Option{WithClock(func() time.Time { return testNow })}, opts...)
	return New(opts...)
}

func objective(id string, progress float64, children ...datatypes.OKRT) []datatypes.OKRT {
	forest := []datatypes.OKRT{{
		ID:       id,
		Type:     datatypes.TypeObjective,
		Progress: progress,
		CycleQtr: "2025-Q3",
	}}
	return append(forest, children...)
}

func TestScoreBounds(t *testing.T) {
	p := testProjector()

	t.Run("full progress with no due dates scores 100", func(t *testing.T) {
		forest := objective("o1", 100,
			datatypes.OKRT{ID: "k1", Type: datatypes.TypeKeyResult, ParentID: "o1", Progress: 100},
			datatypes.OKRT{ID: "t1", Type: datatypes.TypeTask, ParentID: "k1", Progress: 100},
		)
		if got := p.Score(forest[0], forest); got != 100 {
			t.Errorf("score = %d, want 100", got)
		}
	})

	t.Run("zero progress deep overdue scores near zero", func(t *testing.T) {
		forest := objective("o1", 0,
			datatypes.OKRT{ID: "k1", Type: datatypes.TypeKeyResult, ParentID: "o1", Progress: 0, DueDate: "2024-01-01"},
			datatypes.OKRT{ID: "t1", Type: datatypes.TypeTask, ParentID: "k1", Progress: 0, DueDate: "2024-01-01"},
		)
		got := p.Score(forest[0], forest)
		if got < 0 || got > 5 {
			t.Errorf("score = %d, want near 0", got)
		}
	})

	t.Run("never escapes 0 to 100 under extreme inputs", func(t *testing.T) {
		forest := objective("o1", 250,
			datatypes.OKRT{ID: "k1", Type: datatypes.TypeKeyResult, ParentID: "o1", Progress: -40, DueDate: "1990-01-01"},
		)
		got := p.Score(forest[0], forest)
		if got < 0 || got > 100 {
			t.Errorf("score = %d out of range", got)
		}
	})
}

func TestScoreQuarterScenario(t *testing.T) {
	// One KeyResult (due in 40 days, progress 50) over one stalled Task
	// (due in 5 days, progress 0), 30 of 92 quarter days remaining. The
	// task clamps to zero, the blend contributes 0.15, and the remaining
	// penalties pull the objective into the low end of [0, 15].
	forest := objective("o1", 0,
		datatypes.OKRT{ID: "k1", Type: datatypes.TypeKeyResult, ParentID: "o1", Progress: 50, Weight: 1, DueDate: "2025-10-11"},
		datatypes.OKRT{ID: "t1", Type: datatypes.TypeTask, ParentID: "k1", Progress: 0, Weight: 1, DueDate: "2025-09-06"},
	)

	got := testProjector().Score(forest[0], forest)
	if got < 0 || got > 15 {
		t.Errorf("score = %d, want within [0, 15]", got)
	}
}

func TestScoreMonotonicInTaskProgress(t *testing.T) {
	p := testProjector()

	prev := -1
	for _, progress := range []float64{0, 25, 50, 75, 100} {
		forest := objective("o1", 0,
			datatypes.OKRT{ID: "k1", Type: datatypes.TypeKeyResult, ParentID: "o1", Progress: 50, DueDate: "2025-09-20"},
			datatypes.OKRT{ID: "t1", Type: datatypes.TypeTask, ParentID: "k1", Progress: progress, DueDate: "2025-09-10"},
		)
		got := p.Score(forest[0], forest)
		if got < prev {
			t.Fatalf("score dropped to %d from %d when task progress rose to %v", got, prev, progress)
		}
		prev = got
	}
}

func TestScoreWithoutChildren(t *testing.T) {
	p := testProjector()

	forest := objective("o1", 80)
	got := p.Score(forest[0], forest)

	// 0.8 minus the objective quarter penalty 0.2 x (1 - 30/92) x 0.1.
	if got != 79 {
		t.Errorf("score = %d, want 79", got)
	}
}

func TestScoreUsesEmbeddedKeyResults(t *testing.T) {
	p := testProjector()

	shared := datatypes.OKRT{
		ID:       "o9",
		Type:     datatypes.TypeObjective,
		Progress: 10,
		CycleQtr: "2025-Q3",
		KeyResults: []datatypes.OKRT{
			{ID: "k9", Type: datatypes.TypeKeyResult, Progress: 100},
		},
	}

	// The embedded summary, not the objective's own 10%, drives the score.
	if got := p.Score(shared, nil); got < 90 {
		t.Errorf("score = %d, want the embedded key result to dominate", got)
	}
}

func TestScoreWeightNormalization(t *testing.T) {
	p := testProjector()

	forest := objective("o1", 0,
		datatypes.OKRT{ID: "k1", Type: datatypes.TypeKeyResult, ParentID: "o1", Progress: 0},
		datatypes.OKRT{ID: "t1", Type: datatypes.TypeTask, ParentID: "k1", Progress: 100, Weight: 3},
		datatypes.OKRT{ID: "t2", Type: datatypes.TypeTask, ParentID: "k1", Progress: 0, Weight: 1},
	)
	heavy := p.Score(forest[0], forest)

	forest[2].Weight = 1
	forest[3].Weight = 3
	light := p.Score(forest[0], forest)

	if heavy <= light {
		t.Errorf("weighting the finished task 3x scored %d, the stalled one 3x scored %d", heavy, light)
	}

	// Unset weights default to equal, matching explicit 1s.
	forest[2].Weight = 0
	forest[3].Weight = 0
	equal := p.Score(forest[0], forest)
	forest[2].Weight = 1
	forest[3].Weight = 1
	explicit := p.Score(forest[0], forest)
	if equal != explicit {
		t.Errorf("unset weights scored %d, explicit equal weights %d", equal, explicit)
	}
}

func TestOverdueScoresBelowUpcoming(t *testing.T) {
	p := testProjector()

	build := func(due string) []datatypes.OKRT {
		return objective("o1", 0,
			datatypes.OKRT{ID: "k1", Type: datatypes.TypeKeyResult, ParentID: "o1", Progress: 40},
			datatypes.OKRT{ID: "t1", Type: datatypes.TypeTask, ParentID: "k1", Progress: 40, DueDate: due},
		)
	}

	overdue := build("2025-08-01")
	upcoming := build("2025-09-25")
	none := build("")

	so := p.Score(overdue[0], overdue)
	su := p.Score(upcoming[0], upcoming)
	sn := p.Score(none[0], none)

	if so >= su || su >= sn {
		t.Errorf("scores overdue=%d upcoming=%d none=%d, want strictly increasing", so, su, sn)
	}
}

func TestResolveQuarter(t *testing.T) {
	p := testProjector()

	t.Run("parses cycle labels", func(t *testing.T) {
		q := p.resolveQuarter("2025-Q3", testNow)
		if q.totalDays != 92 {
			t.Errorf("totalDays = %v, want 92", q.totalDays)
		}
		if q.remainingDays != 30 {
			t.Errorf("remainingDays = %v, want 30", q.remainingDays)
		}
	})

	t.Run("malformed labels fall back to the current quarter", func(t *testing.T) {
		for _, label := range []string{"", "Q3-2025", "2025-Q9", "garbage"} {
			q := p.resolveQuarter(label, testNow)
			want := p.resolveQuarter("2025-Q3", testNow)
			if !q.start.Equal(want.start) || !q.end.Equal(want.end) {
				t.Errorf("label %q resolved to %v-%v", label, q.start, q.end)
			}
		}
	})

	t.Run("elapsed quarter clamps remaining to zero", func(t *testing.T) {
		q := p.resolveQuarter("2025-Q1", testNow)
		if q.remainingDays != 0 || q.remainingRatio != 0 {
			t.Errorf("remaining = %v ratio %v, want 0", q.remainingDays, q.remainingRatio)
		}
	})
}

func TestScoreAll(t *testing.T) {
	p := testProjector()

	forest := []datatypes.OKRT{
		{ID: "o1", Type: datatypes.TypeObjective, Progress: 100, CycleQtr: "2025-Q3"},
		{ID: "o2", Type: datatypes.TypeObjective, Progress: 0, CycleQtr: "2025-Q3"},
		{ID: "k1", Type: datatypes.TypeKeyResult, ParentID: "o1", Progress: 100},
	}

	scores := p.ScoreAll(forest)
	if len(scores) != 2 {
		t.Fatalf("scored %d nodes, want only the 2 objectives", len(scores))
	}
	if scores["o1"] <= scores["o2"] {
		t.Errorf("o1=%d o2=%d, want o1 higher", scores["o1"], scores["o2"])
	}
}

func TestCustomWeights(t *testing.T) {
	// Zeroing every penalty weight turns the projection into pure
	// weighted completion.
	w := DefaultWeights()
	w.TaskOverdue, w.TaskUpcoming, w.TaskQuarter = 0, 0, 0
	w.KeyResultOverdue, w.KeyResultUpcoming, w.KeyResultQuarter = 0, 0, 0
	w.ObjectiveQuarter = 0

	p := testProjector(WithWeights(w))
	forest := objective("o1", 0,
		datatypes.OKRT{ID: "k1", Type: datatypes.TypeKeyResult, ParentID: "o1", Progress: 0, DueDate: "2024-01-01"},
		datatypes.OKRT{ID: "t1", Type: datatypes.TypeTask, ParentID: "k1", Progress: 50, DueDate: "2024-01-01"},
	)

	// 0.7 x 0.5 blend, no penalties anywhere.
	if got := p.Score(forest[0], forest); got != 35 {
		t.Errorf("score = %d, want 35", got)
	}
}

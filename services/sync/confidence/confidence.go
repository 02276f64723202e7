// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package confidence derives a 0-100 confidence score per Objective from
// its cached subtree, blending raw completion with due-date and
// quarter-time pressure. The projection is a pure function of the subtree,
// the clock, and the weight set; it never mutates the cache.
package confidence

import (
	"log/slog"
	"math"
	"time"

	"github.com/AleutianAI/compass/services/sync/datatypes"
)

// Weights are the blend and penalty coefficients of the projection.
//
// The magnitudes are tuned product constants, not derived from a model.
// They are exposed so deployments can adjust them, but the defaults define
// the reference behavior: leaf progress dominates, slipping deadlines and
// quarter exhaustion subtract from it.
type Weights struct {
	// ChildBlend and OwnBlend mix a KeyResult's task average with its own
	// reported progress. They should sum to 1.
	ChildBlend float64 `json:"child_blend" yaml:"child_blend"`
	OwnBlend   float64 `json:"own_blend" yaml:"own_blend"`

	// Task-level penalty weights.
	TaskOverdue  float64 `json:"task_overdue" yaml:"task_overdue"`
	TaskUpcoming float64 `json:"task_upcoming" yaml:"task_upcoming"`
	TaskQuarter  float64 `json:"task_quarter" yaml:"task_quarter"`

	// KeyResult-level penalty weights, applied to the blended value.
	KeyResultOverdue  float64 `json:"key_result_overdue" yaml:"key_result_overdue"`
	KeyResultUpcoming float64 `json:"key_result_upcoming" yaml:"key_result_upcoming"`
	KeyResultQuarter  float64 `json:"key_result_quarter" yaml:"key_result_quarter"`

	// Objectives carry no due date, so only quarter pressure applies.
	ObjectiveQuarter float64 `json:"objective_quarter" yaml:"objective_quarter"`
}

// DefaultWeights returns the reference coefficient set.
func DefaultWeights() Weights {
	return Weights{
		ChildBlend:        0.7,
		OwnBlend:          0.3,
		TaskOverdue:       0.4,
		TaskUpcoming:      0.25,
		TaskQuarter:       0.2,
		KeyResultOverdue:  0.3,
		KeyResultUpcoming: 0.2,
		KeyResultQuarter:  0.15,
		ObjectiveQuarter:  0.1,
	}
}

// Projector scores Objectives. Safe for concurrent use; all state is
// read-only after construction.
type Projector struct {
	weights Weights
	now     func() time.Time
	logger  *slog.Logger
}

// Option configures a Projector.
type Option func(*Projector)

// WithWeights overrides the coefficient set.
func WithWeights(w Weights) Option {
	return func(p *Projector) { p.weights = w }
}

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Projector) {
		if now != nil {
			p.now = now
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Projector) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// New creates a Projector with the default weights and clock.
func New(opts ...Option) *Projector {
	p := &Projector{
		weights: DefaultWeights(),
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Weights returns the active coefficient set.
func (p *Projector) Weights() Weights { return p.weights }

// Score computes the confidence score for one Objective. The forest is
// the flat OKRT list the objective lives in; children are resolved by
// parent id, falling back to the embedded summary list on shared
// objectives. The result is always an integer in [0, 100].
func (p *Projector) Score(obj datatypes.OKRT, forest []datatypes.OKRT) int {
	now := p.now()
	q := p.resolveQuarter(obj.CycleQtr, now)

	score := p.objectiveScore(obj, forest, q, now)
	final := int(math.Round(clamp01(score) * 100))
	projectionsTotal.Inc()
	scoreDistribution.Observe(float64(final))
	return final
}

// ScoreAll scores every Objective in the forest, keyed by id.
func (p *Projector) ScoreAll(forest []datatypes.OKRT) map[string]int {
	scores := make(map[string]int)
	for _, node := range forest {
		if node.Type == datatypes.TypeObjective {
			scores[node.ID] = p.Score(node, forest)
		}
	}
	return scores
}

func (p *Projector) objectiveScore(obj datatypes.OKRT, forest []datatypes.OKRT, q quarter, now time.Time) float64 {
	krs := childrenOf(obj, forest)

	var base float64
	if len(krs) == 0 {
		base = clamp01(obj.Progress / 100)
	} else {
		var weighted, total float64
		for _, kr := range krs {
			w := kr.EffectiveWeight()
			weighted += w * p.keyResultScore(kr, forest, q, now)
			total += w
		}
		base = clamp01(weighted / total)
	}

	return clamp01(base - (1-base)*(1-q.remainingRatio)*p.weights.ObjectiveQuarter)
}

func (p *Projector) keyResultScore(kr datatypes.OKRT, forest []datatypes.OKRT, q quarter, now time.Time) float64 {
	tasks := childrenOf(kr, forest)
	own := clamp01(kr.Progress / 100)

	base := own
	if len(tasks) > 0 {
		var weighted, total float64
		for _, task := range tasks {
			w := task.EffectiveWeight()
			weighted += w * p.taskScore(task, q, now)
			total += w
		}
		base = clamp01(p.weights.ChildBlend*(weighted/total) + p.weights.OwnBlend*own)
	}

	pen := p.duePenalty(kr.DueDate, base, q, now, p.weights.KeyResultOverdue, p.weights.KeyResultUpcoming)
	qpen := (1 - base) * (1 - q.remainingRatio) * p.weights.KeyResultQuarter
	return clamp01(base - pen - qpen)
}

func (p *Projector) taskScore(task datatypes.OKRT, q quarter, now time.Time) float64 {
	progress := clamp01(task.Progress / 100)

	pen := p.duePenalty(task.DueDate, progress, q, now, p.weights.TaskOverdue, p.weights.TaskUpcoming)
	qpen := (1 - progress) * (1 - q.remainingRatio) * p.weights.TaskQuarter
	return clamp01(progress - pen - qpen)
}

// duePenalty computes the due-date pressure term. Overdue work is
// penalized by how late it is relative to the quarter length (floored at a
// week so a short quarter cannot explode the ratio); upcoming work by how
// little of the remaining quarter is left before the deadline. A missing
// or unparseable due date contributes nothing.
func (p *Projector) duePenalty(dueDate string, progress float64, q quarter, now time.Time, overdueW, upcomingW float64) float64 {
	if dueDate == "" {
		return 0
	}
	due, err := time.Parse("2006-01-02", dueDate)
	if err != nil {
		p.logger.Debug("ignoring malformed due date", "due_date", dueDate)
		return 0
	}

	daysToDue := due.Sub(now).Hours() / 24
	if daysToDue < 0 {
		lateness := clamp01(-daysToDue / math.Max(7, q.totalDays))
		return (1 - progress) * lateness * overdueW
	}

	urgency := 1.0
	if q.remainingDays > 0 {
		urgency = clamp01(1 - daysToDue/q.remainingDays)
	}
	return (1 - progress) * urgency * upcomingW
}

// childrenOf resolves a node's children from the flat forest by parent
// id. Shared objectives arrive with an embedded summary list instead of
// flat children; that list is the fallback.
func childrenOf(node datatypes.OKRT, forest []datatypes.OKRT) []datatypes.OKRT {
	var children []datatypes.OKRT
	for _, candidate := range forest {
		if candidate.ParentID == node.ID {
			children = append(children, candidate)
		}
	}
	if len(children) == 0 && len(node.KeyResults) > 0 {
		return node.KeyResults
	}
	return children
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

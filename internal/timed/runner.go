// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package timed runs the fixed-schedule tasks of the battery (head
// stability, skew, nystagmus, bucket). Each phase ends through a scheduler
// continuation; the current phase label tags every recorded row.
package timed

import (
	"errors"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/relabs-tech/vr_assess/internal/protocol"
	"github.com/relabs-tech/vr_assess/internal/scheduler"
)

var ErrAlreadyStarted = errors.New("timed: already started")

// PhaseChange is reported whenever the runner enters a phase or finishes.
type PhaseChange struct {
	Task     string    `json:"task"`
	From     string    `json:"from"`
	To       string    `json:"to"`
	Index    int       `json:"index"`
	Total    int       `json:"total"`
	At       time.Time `json:"at"`
	Complete bool      `json:"complete"`
}

type Runner struct {
	proto  protocol.Protocol
	phases []protocol.Phase
	queue  *scheduler.Queue
	log    *zap.Logger
	notify func(PhaseChange)

	started bool
	done    bool
	stopped bool
	idx     int
	handle  *scheduler.Handle
}

func NewRunner(p protocol.Protocol, q *scheduler.Queue, log *zap.Logger, notify func(PhaseChange)) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{
		proto:  p,
		phases: p.Expand(),
		queue:  q,
		log:    log.Named("timed").With(zap.String("task", p.Name)),
		notify: notify,
	}
}

func (r *Runner) Protocol() protocol.Protocol { return r.proto }

// Start enters the first phase.
func (r *Runner) Start(now time.Time) error {
	if r.started {
		return ErrAlreadyStarted
	}
	r.started = true
	r.enter(0, "", now)
	return nil
}

func (r *Runner) enter(i int, from string, now time.Time) {
	r.idx = i
	ph := r.phases[i]
	r.report(from, ph.Label, now, false)
	r.log.Info("phase started", zap.String("phase", ph.Label), zap.Int("index", i+1), zap.Duration("duration", ph.Duration))

	if ph.Duration <= 0 {
		// Open-ended phase: only Finish or Stop leaves it.
		return
	}
	r.handle = r.queue.After(now, ph.Duration, "phase-end:"+ph.Label, r.phaseEnded)
}

func (r *Runner) phaseEnded(now time.Time) {
	r.handle = nil
	if r.stopped || r.done {
		return
	}
	if r.idx+1 < len(r.phases) {
		r.enter(r.idx+1, r.phases[r.idx].Label, now)
		return
	}
	if r.proto.OpenEnded {
		return
	}
	r.finish(now)
}

func (r *Runner) finish(now time.Time) {
	r.done = true
	r.report(r.phases[r.idx].Label, r.Tag(), now, true)
	r.log.Info("task complete")
}

// Finish ends an open-ended task on operator request.
func (r *Runner) Finish(now time.Time) {
	if !r.started || r.done {
		return
	}
	if r.handle != nil {
		r.handle.Cancel()
		r.handle = nil
	}
	r.finish(now)
}

// Stop abandons the task and drops the pending phase end.
func (r *Runner) Stop() {
	r.stopped = true
	if r.handle != nil {
		r.handle.Cancel()
		r.handle = nil
	}
}

func (r *Runner) report(from, to string, now time.Time, complete bool) {
	if r.notify == nil {
		return
	}
	r.notify(PhaseChange{
		Task:     r.proto.Name,
		From:     from,
		To:       to,
		Index:    r.idx + 1,
		Total:    len(r.phases),
		At:       now,
		Complete: complete,
	})
}

// Tag is the label recorded rows carry right now.
func (r *Runner) Tag() string {
	if !r.started {
		return ""
	}
	if r.done && r.proto.FinalTag != "" {
		return r.proto.FinalTag
	}
	return r.phases[r.idx].Label
}

func (r *Runner) IsComplete() bool { return r.done }

// CurrentProgress returns the 1-based phase index and its label.
func (r *Runner) CurrentProgress() (int, string) {
	if !r.started {
		return 0, ""
	}
	return r.idx + 1, r.Tag()
}

// FoldBucketAngle folds a dial rotation in degrees onto [0,90], treating the
// dial as symmetric about both axes.
func FoldBucketAngle(z float64) float64 {
	z = math.Mod(z, 360)
	if z < 0 {
		z += 360
	}
	switch {
	case z > 90 && z <= 180:
		return 180 - z
	case z > 180 && z <= 270:
		return z - 180
	case z > 270:
		return 360 - z
	}
	return z
}

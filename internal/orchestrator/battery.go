// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package orchestrator sequences the tasks of a battery, holding on a
// completion message for a fixed time between tasks.
package orchestrator

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/relabs-tech/vr_assess/internal/scheduler"
)

var (
	ErrNotStarted = errors.New("orchestrator: battery not started")
	ErrHolding    = errors.New("orchestrator: already holding before next task")
	ErrDone       = errors.New("orchestrator: battery finished")
)

// DefaultHold is how long the completion message stays up before the next task.
const DefaultHold = 3 * time.Second

// Progress is a snapshot of where the battery is.
type Progress struct {
	Index   int    `json:"index"` // 0-based
	Total   int    `json:"total"`
	Task    string `json:"task"`
	Holding bool   `json:"holding"`
	Done    bool   `json:"done"`
}

type Battery struct {
	tasks []string
	hold  time.Duration
	queue *scheduler.Queue
	log   *zap.Logger

	// OnStart is called whenever a task becomes current.
	OnStart func(task string, index int, now time.Time)
	// OnDone is called once after the last task's hold.
	OnDone func(now time.Time)

	started bool
	idx     int
	holding *scheduler.Handle
	done    bool
}

func New(tasks []string, hold time.Duration, q *scheduler.Queue, log *zap.Logger) *Battery {
	if log == nil {
		log = zap.NewNop()
	}
	return &Battery{
		tasks: append([]string(nil), tasks...),
		hold:  hold,
		queue: q,
		log:   log.Named("battery"),
	}
}

func (b *Battery) Start(now time.Time) error {
	if b.started {
		return nil
	}
	b.started = true
	if len(b.tasks) == 0 {
		b.finish(now)
		return nil
	}
	b.begin(now)
	return nil
}

func (b *Battery) begin(now time.Time) {
	task := b.tasks[b.idx]
	b.log.Info("task starting", zap.String("task", task), zap.Int("index", b.idx+1), zap.Int("total", len(b.tasks)))
	if b.OnStart != nil {
		b.OnStart(task, b.idx, now)
	}
}

// Current returns the running task.
func (b *Battery) Current() (string, bool) {
	if !b.started || b.done {
		return "", false
	}
	return b.tasks[b.idx], true
}

// CompleteCurrent starts the hold after the current task. The next task
// begins when the hold's continuation is drained.
func (b *Battery) CompleteCurrent(now time.Time) error {
	switch {
	case !b.started:
		return ErrNotStarted
	case b.done:
		return ErrDone
	case b.holding != nil:
		return ErrHolding
	}
	b.log.Info("task complete", zap.String("task", b.tasks[b.idx]), zap.Duration("hold", b.hold))
	b.holding = b.queue.After(now, b.hold, "battery-hold", b.advance)
	return nil
}

func (b *Battery) advance(now time.Time) {
	b.holding = nil
	b.idx++
	if b.idx >= len(b.tasks) {
		b.idx = len(b.tasks) - 1
		b.finish(now)
		return
	}
	b.begin(now)
}

func (b *Battery) finish(now time.Time) {
	b.done = true
	b.log.Info("battery complete")
	if b.OnDone != nil {
		b.OnDone(now)
	}
}

func (b *Battery) Holding() bool { return b.holding != nil }
func (b *Battery) Done() bool    { return b.done }

func (b *Battery) Progress() Progress {
	p := Progress{Index: b.idx, Total: len(b.tasks), Holding: b.holding != nil, Done: b.done}
	if len(b.tasks) > 0 {
		p.Task = b.tasks[b.idx]
	}
	return p
}

// Stop cancels a pending hold so no further task starts.
func (b *Battery) Stop() {
	if b.holding != nil {
		b.holding.Cancel()
		b.holding = nil
	}
}

// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package tick splits wall time into a variable-rate frame tick and a
// fixed-rate simulation tick.
//
// Sampling, logging and transition evaluation all run on the fixed tick, so
// every row of every stream is spaced exactly one step apart regardless of
// how irregular the frame rate is.
package tick

import (
	"context"
	"time"

	"github.com/relabs-tech/vr_assess/internal/clock"
)

type Driver struct {
	Step time.Duration
	// MaxSteps caps fixed ticks per frame; time beyond it is discarded so a
	// long stall does not replay as a burst. 0 means no cap.
	MaxSteps int

	// Update runs once per frame with the frame delta.
	Update func(now time.Time, dt time.Duration)
	// FixedUpdate runs zero or more times per frame with nominal timestamps.
	FixedUpdate func(at time.Time)
	// OnDrop is told how many fixed steps were discarded in a frame.
	OnDrop func(steps int)

	started bool
	last    time.Time
	next    time.Time
	acc     time.Duration
	fixed   uint64
	dropped uint64
}

// New returns a driver whose fixed tick runs at rateHz.
func New(rateHz float64, maxSteps int) *Driver {
	return &Driver{
		Step:     time.Duration(float64(time.Second) / rateHz),
		MaxSteps: maxSteps,
	}
}

// Frame advances the driver to now and returns how many fixed ticks ran.
func (d *Driver) Frame(now time.Time) int {
	var dt time.Duration
	if !d.started {
		d.started = true
		d.next = now
		d.acc = d.Step
	} else {
		dt = now.Sub(d.last)
		if dt < 0 {
			dt = 0
		}
		d.acc += dt
	}
	d.last = now

	if d.Update != nil {
		d.Update(now, dt)
	}

	n := 0
	for d.acc >= d.Step {
		if d.MaxSteps > 0 && n >= d.MaxSteps {
			skip := int(d.acc / d.Step)
			d.acc -= time.Duration(skip) * d.Step
			d.next = d.next.Add(time.Duration(skip) * d.Step)
			d.dropped += uint64(skip)
			if d.OnDrop != nil {
				d.OnDrop(skip)
			}
			break
		}
		if d.FixedUpdate != nil {
			d.FixedUpdate(d.next)
		}
		d.next = d.next.Add(d.Step)
		d.acc -= d.Step
		d.fixed++
		n++
	}
	return n
}

// FixedTicks is the number of fixed ticks run so far.
func (d *Driver) FixedTicks() uint64 { return d.fixed }

// Dropped is the number of fixed ticks discarded by the MaxSteps cap.
func (d *Driver) Dropped() uint64 { return d.dropped }

// Run drives frames at frameRateHz until ctx is cancelled or stop returns true.
func (d *Driver) Run(ctx context.Context, clk clock.Clock, frameRateHz float64, stop func() bool) error {
	ticker := time.NewTicker(time.Duration(float64(time.Second) / frameRateHz))
	defer ticker.Stop()

	d.Frame(clk.Now())
	for {
		if stop != nil && stop() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			d.Frame(clk.Now())
		}
	}
}

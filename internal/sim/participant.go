// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package sim provides a scripted participant that stands in for the headset
// during demos, dry runs and end-to-end tests of the reach task.
package sim

import (
	"math/rand/v2"
	"time"

	"github.com/relabs-tech/vr_assess/internal/clock"
	"github.com/relabs-tech/vr_assess/internal/orientation"
	"github.com/relabs-tech/vr_assess/internal/pose"
	"github.com/relabs-tech/vr_assess/internal/reach"
)

// Goal tells the participant what to do this tick.
type Goal struct {
	Hand pose.Handedness
	// Calibrate extends the arm straight ahead and pinches at full extension.
	Calibrate bool
	Target    orientation.Vec3
	// Idle keeps the active hand at rest.
	Idle bool
}

// GoalFunc is polled on every sample.
type GoalFunc func() Goal

type Config struct {
	Head           orientation.Vec3
	ArmLength      float64 // metres from shoulder estimate to fingertip
	Speed          float64 // metres per second
	Geometry       reach.Geometry
	Noise          float64 // uniform positional noise amplitude, metres
	DropEvery      int     // every Nth sample reports tracking loss; 0 disables
	ArrivalEpsilon float64
	Seed           uint64
}

func DefaultConfig() Config {
	return Config{
		Head:           orientation.Vec3{Y: 1.6},
		ArmLength:      0.55,
		Speed:          1.2,
		Geometry:       reach.DefaultGeometry(),
		Noise:          0.001,
		ArrivalEpsilon: 0.005,
		Seed:           1,
	}
}

// Participant implements pose.Provider.
type Participant struct {
	cfg   Config
	clk   clock.Clock
	goal  GoalFunc
	rng   *rand.Rand
	last  time.Time
	calls int

	tips map[pose.Handedness]orientation.Vec3
}

func NewParticipant(cfg Config, clk clock.Clock, goal GoalFunc) *Participant {
	p := &Participant{
		cfg:  cfg,
		clk:  clk,
		goal: goal,
		rng:  rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
		last: clk.Now(),
		tips: make(map[pose.Handedness]orientation.Vec3, 2),
	}
	p.tips[pose.Left] = p.rest(pose.Left)
	p.tips[pose.Right] = p.rest(pose.Right)
	return p
}

func (p *Participant) shoulder(h pose.Handedness) orientation.Vec3 {
	return reach.EstimateShoulder(p.cfg.Head, orientation.Right, h, p.cfg.Geometry)
}

func (p *Participant) rest(h pose.Handedness) orientation.Vec3 {
	return p.shoulder(h).Add(orientation.Down.Scale(0.45)).Add(orientation.Forward.Scale(0.1))
}

func (p *Participant) Next() (pose.Snapshot, error) {
	now := p.clk.Now()
	dt := now.Sub(p.last).Seconds()
	p.last = now
	p.calls++

	g := p.goal()
	active := g.Hand
	if !active.Valid() {
		active = pose.Right
	}

	pinching := false
	for _, h := range []pose.Handedness{pose.Left, pose.Right} {
		dest := p.rest(h)
		if h == active && !g.Idle {
			if g.Calibrate {
				dest = p.shoulder(h).Add(orientation.Forward.Scale(p.cfg.ArmLength))
			} else {
				dest = g.Target
			}
		}
		p.tips[h] = p.step(p.tips[h], dest, dt)
		if h == active && g.Calibrate && p.tips[h].Dist(dest) <= p.cfg.ArrivalEpsilon {
			pinching = true
		}
	}

	if p.cfg.DropEvery > 0 && p.calls%p.cfg.DropEvery == 0 {
		return pose.Snapshot{}, pose.ErrTrackingLost
	}

	snap := pose.Snapshot{
		Time: now,
		Head: pose.Head{Position: p.cfg.Head, Tracked: true},
		LeftEye: pose.Eye{
			Rotation:   orientation.Euler{X: p.jitterAngle(), Y: p.jitterAngle()},
			Confidence: 0.95,
			Enabled:    true,
		},
		RightEye: pose.Eye{
			Rotation:   orientation.Euler{X: p.jitterAngle(), Y: p.jitterAngle()},
			Confidence: 0.95,
			Enabled:    true,
		},
		LeftHand:  p.hand(pose.Left, active == pose.Left && pinching),
		RightHand: p.hand(pose.Right, active == pose.Right && pinching),
	}
	return snap.WithBasis(), nil
}

func (p *Participant) step(from, to orientation.Vec3, dt float64) orientation.Vec3 {
	d := to.Sub(from)
	dist := d.Len()
	maxStep := p.cfg.Speed * dt
	if dist <= maxStep || dist == 0 {
		return to
	}
	return from.Add(d.Scale(maxStep / dist))
}

func (p *Participant) hand(h pose.Handedness, pinching bool) pose.Hand {
	tip := p.tips[h].Add(p.noise())
	return pose.Hand{
		Position: tip.Sub(orientation.Forward.Scale(pose.FingertipFallbackOffset)),
		Forward:  orientation.Forward,
		IndexTip: &tip,
		Tracked:  true,
		Pinching: pinching,
	}
}

func (p *Participant) noise() orientation.Vec3 {
	if p.cfg.Noise == 0 {
		return orientation.Zero
	}
	n := p.cfg.Noise
	return orientation.Vec3{
		X: (p.rng.Float64()*2 - 1) * n,
		Y: (p.rng.Float64()*2 - 1) * n,
		Z: (p.rng.Float64()*2 - 1) * n,
	}
}

// jitterAngle returns a small fixation tremor in raw [0,360) form.
func (p *Participant) jitterAngle() float64 {
	a := (p.rng.Float64()*2 - 1) * 0.5
	if a < 0 {
		a += 360
	}
	return a
}

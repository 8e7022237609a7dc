// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package reach holds the spatial side of the reach task: shoulder
// estimation, calibration from a pinch, target placement and the hit and
// return tests.
package reach

import (
	"time"

	"github.com/relabs-tech/vr_assess/internal/orientation"
	"github.com/relabs-tech/vr_assess/internal/pose"
)

// Geometry holds the anthropometric constants used to estimate the shoulder
// from the head.
type Geometry struct {
	ShoulderDrop    float64 // metres below the eye line
	ShoulderLateral float64 // metres to the side of the head centre
}

func DefaultGeometry() Geometry {
	return Geometry{ShoulderDrop: 0.25, ShoulderLateral: 0.18}
}

// EstimateShoulder returns head + (0,-drop,0) ± right·lateral, mirrored by hand.
func EstimateShoulder(head, right orientation.Vec3, hand pose.Handedness, g Geometry) orientation.Vec3 {
	side := right.Normalized().Scale(g.ShoulderLateral)
	if hand == pose.Left {
		side = side.Scale(-1)
	}
	return head.Add(orientation.Vec3{Y: -g.ShoulderDrop}).Add(side)
}

// Calibration is derived once per arm from a pinch at full extension.
type Calibration struct {
	Hand          pose.Handedness `json:"hand"`
	ReachDistance float64         `json:"reach_distance"`
	// ShoulderOffset is the estimated shoulder relative to the head at pinch time.
	ShoulderOffset orientation.Vec3 `json:"shoulder_offset"`
	Fingertip      orientation.Vec3 `json:"fingertip"`
	// Origin and OriginForward freeze the head pose at calibration; the home
	// target is placed relative to them for the rest of the session.
	Origin        orientation.Vec3 `json:"origin"`
	OriginForward orientation.Vec3 `json:"origin_forward"`
	At            time.Time        `json:"at"`
}

// Calibrate measures the 3D reach from the estimated shoulder to the fingertip
// of hand. ok is false when the hand is untracked or the reach is shorter than
// minReach, which filters pinches detected before the arm is extended.
func Calibrate(s pose.Snapshot, hand pose.Handedness, g Geometry, minReach float64) (cal Calibration, reach float64, ok bool) {
	if !s.Head.Tracked {
		return Calibration{}, 0, false
	}
	tip, tracked := s.Fingertip(hand)
	if !tracked {
		return Calibration{}, 0, false
	}
	shoulder := EstimateShoulder(s.Head.Position, s.Head.Right, hand, g)
	reach = tip.Dist(shoulder)
	if reach < minReach {
		return Calibration{}, reach, false
	}
	return Calibration{
		Hand:           hand,
		ReachDistance:  reach,
		ShoulderOffset: shoulder.Sub(s.Head.Position),
		Fingertip:      tip,
		Origin:         s.Head.Position,
		OriginForward:  s.Head.Forward.Normalized(),
		At:             s.Time,
	}, reach, true
}

// HandednessDetector decides the starting hand by proximity: the first hand to
// come within Radius of its own start ball wins.
type HandednessDetector struct {
	LeftBall  orientation.Vec3
	RightBall orientation.Vec3
	Radius    float64
}

func (d HandednessDetector) Detect(s pose.Snapshot) (pose.Handedness, bool) {
	if s.LeftHand.Tracked && s.LeftHand.Position.Dist(d.LeftBall) < d.Radius {
		return pose.Left, true
	}
	if s.RightHand.Tracked && s.RightHand.Position.Dist(d.RightBall) < d.Radius {
		return pose.Right, true
	}
	return "", false
}

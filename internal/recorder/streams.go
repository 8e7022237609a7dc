// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package recorder

import (
	"github.com/relabs-tech/vr_assess/internal/pose"
)

const (
	PositionPrecision = 4
	RotationPrecision = 3
)

// Stream is one named output file and how to pull its values from a sample.
type Stream struct {
	Name      string
	Precision int
	// Tagged appends Sample.Tag as the last field.
	Tagged  bool
	Extract func(Sample) ([]float64, bool)
}

// WithTag returns a copy of st that appends the sample tag.
func (st Stream) WithTag() Stream {
	st.Tagged = true
	return st
}

func HeadPosition() Stream {
	return Stream{Name: "HeadPosition", Precision: PositionPrecision, Extract: func(s Sample) ([]float64, bool) {
		return s.Pose.Head.Position.Components(), s.Pose.Head.Tracked
	}}
}

func HeadRotation() Stream {
	return Stream{Name: "HeadRotation", Precision: RotationPrecision, Extract: func(s Sample) ([]float64, bool) {
		return s.Pose.Head.Rotation.Normalized().Components(), s.Pose.Head.Tracked
	}}
}

func eyeStream(name string, eye func(pose.Snapshot) pose.Eye) Stream {
	return Stream{Name: name, Precision: RotationPrecision, Extract: func(s Sample) ([]float64, bool) {
		e := eye(s.Pose)
		return e.Rotation.Normalized().Components(), e.Enabled
	}}
}

func LeftEyeRotation() Stream {
	return eyeStream("LeftEyeRotation", func(p pose.Snapshot) pose.Eye { return p.LeftEye })
}

func RightEyeRotation() Stream {
	return eyeStream("RightEyeRotation", func(p pose.Snapshot) pose.Eye { return p.RightEye })
}

func handStream(name string, h pose.Handedness) Stream {
	return Stream{Name: name, Precision: PositionPrecision, Extract: func(s Sample) ([]float64, bool) {
		hand := s.Pose.Hand(h)
		return hand.Position.Components(), hand.Tracked
	}}
}

func LeftHandPosition() Stream  { return handStream("LeftHandPosition", pose.Left) }
func RightHandPosition() Stream { return handStream("RightHandPosition", pose.Right) }

// Trajectory logs the active effector's fingertip, tagged with the phase.
func Trajectory() Stream {
	return Stream{Name: "Trajectory", Precision: PositionPrecision, Tagged: true, Extract: func(s Sample) ([]float64, bool) {
		if !s.Hand.Valid() {
			return nil, false
		}
		tip, ok := s.Pose.Fingertip(s.Hand)
		return tip.Components(), ok
	}}
}

// Scalar logs Sample.Values[key] when present.
func Scalar(name, key string, precision int) Stream {
	return Stream{Name: name, Precision: precision, Extract: func(s Sample) ([]float64, bool) {
		v, ok := s.Values[key]
		return []float64{v}, ok
	}}
}

// HeadAndEyes is the set every task records.
func HeadAndEyes() []Stream {
	return []Stream{HeadPosition(), HeadRotation(), LeftEyeRotation(), RightEyeRotation()}
}

// ReachStreams is the reach task set.
func ReachStreams() []Stream {
	return append(HeadAndEyes(), LeftHandPosition(), RightHandPosition(), Trajectory())
}

// Tag wraps every stream so it appends the sample tag, for the timed tasks
// where each row carries the phase it was recorded in.
func Tag(streams []Stream) []Stream {
	out := make([]Stream, len(streams))
	for i, st := range streams {
		out[i] = st.WithTag()
	}
	return out
}

// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package pose

import (
	"errors"
	"time"

	"github.com/relabs-tech/vr_assess/internal/orientation"
)

// ErrTrackingLost is returned by providers when no valid sample is available
// this tick (headset asleep, hands out of view, bridge disconnected).
var ErrTrackingLost = errors.New("pose: tracking unavailable")

// FingertipFallbackOffset is how far in front of the hand root we assume the
// index tip is when the runtime does not report the joint.
const FingertipFallbackOffset = 0.08

// Handedness selects the left or right effector.
type Handedness string

const (
	Left  Handedness = "Left"
	Right Handedness = "Right"
)

func (h Handedness) Opposite() Handedness {
	if h == Left {
		return Right
	}
	return Left
}

func (h Handedness) Valid() bool { return h == Left || h == Right }

type Head struct {
	Position orientation.Vec3  `json:"position"`
	Rotation orientation.Euler `json:"rotation"`
	Forward  orientation.Vec3  `json:"forward"`
	Right    orientation.Vec3  `json:"right"`
	Up       orientation.Vec3  `json:"up"`
	Tracked  bool              `json:"tracked"`
}

type Eye struct {
	Rotation   orientation.Euler `json:"rotation"`
	Confidence float64           `json:"confidence"`
	Enabled    bool              `json:"enabled"`
}

type Hand struct {
	Position orientation.Vec3  `json:"position"`
	Forward  orientation.Vec3  `json:"forward"`
	IndexTip *orientation.Vec3 `json:"index_tip,omitempty"`
	Tracked  bool              `json:"tracked"`
	Pinching bool              `json:"pinching"`
}

// Snapshot is everything the tasks read from the headset in one tick. It is a
// plain value; nothing in it refers back to runtime objects.
type Snapshot struct {
	Time      time.Time `json:"time"`
	Head      Head      `json:"head"`
	LeftEye   Eye       `json:"left_eye"`
	RightEye  Eye       `json:"right_eye"`
	LeftHand  Hand      `json:"left_hand"`
	RightHand Hand      `json:"right_hand"`
}

// Provider is anything that can provide snapshots over time: the headset
// bridge, a scripted participant, a mock generator.
type Provider interface {
	Next() (Snapshot, error)
}

// Hand returns the hand selected by h.
func (s Snapshot) Hand(h Handedness) Hand {
	if h == Left {
		return s.LeftHand
	}
	return s.RightHand
}

// Fingertip returns the index fingertip of the selected hand, falling back to
// an estimate in front of the hand root. ok is false when the hand is not tracked.
func (s Snapshot) Fingertip(h Handedness) (tip orientation.Vec3, ok bool) {
	hand := s.Hand(h)
	if !hand.Tracked {
		return orientation.Zero, false
	}
	if hand.IndexTip != nil {
		return *hand.IndexTip, true
	}
	return hand.Position.Add(hand.Forward.Normalized().Scale(FingertipFallbackOffset)), true
}

// WithBasis fills the head direction vectors from the head rotation when the
// source only reported Euler angles.
func (s Snapshot) WithBasis() Snapshot {
	if s.Head.Forward == orientation.Zero {
		s.Head.Forward, s.Head.Right, s.Head.Up = orientation.Basis(s.Head.Rotation)
	}
	return s
}

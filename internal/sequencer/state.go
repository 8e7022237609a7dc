// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sequencer

import (
	"fmt"
	"time"

	"github.com/relabs-tech/vr_assess/internal/pose"
)

type State int

const (
	Idle State = iota
	Calibration
	PracticeReach
	PracticeReset
	RecordedReach
	RecordedReset
	// HandSwitch is never held across ticks; it only appears as an event
	// target before the sequencer resumes in RecordedReach.
	HandSwitch
	Complete
)

var stateNames = [...]string{
	Idle:          "Idle",
	Calibration:   "Calibration",
	PracticeReach: "PracticeReach",
	PracticeReset: "PracticeReset",
	RecordedReach: "RecordedReach",
	RecordedReset: "RecordedReset",
	HandSwitch:    "HandSwitch",
	Complete:      "Complete",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	for i, n := range stateNames {
		if n == string(b) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown sequencer state %q", b)
}

func (s State) Reaching() bool  { return s == PracticeReach || s == RecordedReach }
func (s State) Resetting() bool { return s == PracticeReset || s == RecordedReset }
func (s State) Recorded() bool  { return s == RecordedReach || s == RecordedReset }

// TransitionEvent describes one state change.
type TransitionEvent struct {
	From    State           `json:"from"`
	To      State           `json:"to"`
	Trial   int             `json:"trial"`
	Visible bool            `json:"visible"`
	Hand    pose.Handedness `json:"hand"`
	At      time.Time       `json:"at"`
	Reason  string          `json:"reason"`
	// Error is the reach error in metres for hit transitions.
	Error float64 `json:"error,omitempty"`
}

// EventSink receives every transition as it happens.
type EventSink interface {
	Transition(ev TransitionEvent)
}

// Sinks fans an event out to several sinks.
type Sinks []EventSink

func (s Sinks) Transition(ev TransitionEvent) {
	for _, sink := range s {
		if sink != nil {
			sink.Transition(ev)
		}
	}
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(TransitionEvent)

func (f EventSinkFunc) Transition(ev TransitionEvent) { f(ev) }

var instructions = map[State]string{
	Idle:          "Waiting to start...",
	Calibration:   "Reach out and pinch your index and thumb fingers",
	PracticeReach: "Touch and hold the ball with your fingertip",
	PracticeReset: "Return to cube.",
	RecordedReach: "Touch and hold the ball with your fingertip",
	RecordedReset: "Return to cube.",
	HandSwitch:    "Now using the opposite hand!",
	Complete:      "All trials complete!",
}

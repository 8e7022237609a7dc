// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package telemetry

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/relabs-tech/vr_assess/internal/sequencer"
	"github.com/relabs-tech/vr_assess/internal/timed"
)

// Event kinds carried in EventMessage.Kind.
const (
	KindTransition = "transition"
	KindPhase      = "phase"
	KindBattery    = "battery"
)

// EventMessage is the envelope published on the events topic.
type EventMessage struct {
	Kind        string                     `json:"kind"`
	Session     string                     `json:"session"`
	Participant string                     `json:"participant"`
	Task        string                     `json:"task"`
	At          time.Time                  `json:"at"`
	Transition  *sequencer.TransitionEvent `json:"transition,omitempty"`
	Phase       *timed.PhaseChange         `json:"phase,omitempty"`
	Note        string                     `json:"note,omitempty"`
}

// Progress is the periodic status snapshot published on the progress topic
// and served by the dashboard.
type Progress struct {
	Session     string    `json:"session"`
	Participant string    `json:"participant"`
	Task        string    `json:"task"`
	Trial       int       `json:"trial"`
	State       string    `json:"state"`
	Instruction string    `json:"instruction,omitempty"`
	Visible     bool      `json:"visible"`
	Hand        string    `json:"hand,omitempty"`
	TaskIndex   int       `json:"task_index"`
	TaskTotal   int       `json:"task_total"`
	Holding     bool      `json:"holding"`
	Done        bool      `json:"done"`
	At          time.Time `json:"at"`
}

// Bridge forwards task events to a Publisher. It implements
// sequencer.EventSink, and Phase can be passed as a timed runner notify func.
type Bridge struct {
	pub           Publisher
	eventsTopic   string
	progressTopic string
	log           *zap.Logger

	mu          sync.Mutex
	session     string
	participant string
	task        string
}

func NewBridge(pub Publisher, eventsTopic, progressTopic string, log *zap.Logger) *Bridge {
	if pub == nil {
		pub = Nop{}
	}
	return &Bridge{pub: pub, eventsTopic: eventsTopic, progressTopic: progressTopic, log: log}
}

// SetTask labels subsequent messages. The battery calls it on every task start.
func (b *Bridge) SetTask(session, participant, task string) {
	b.mu.Lock()
	b.session, b.participant, b.task = session, participant, task
	b.mu.Unlock()
}

func (b *Bridge) envelope(kind string, at time.Time) EventMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return EventMessage{Kind: kind, Session: b.session, Participant: b.participant, Task: b.task, At: at}
}

func (b *Bridge) Transition(ev sequencer.TransitionEvent) {
	msg := b.envelope(KindTransition, ev.At)
	msg.Transition = &ev
	b.publish(b.eventsTopic, msg)
}

func (b *Bridge) Phase(pc timed.PhaseChange) {
	msg := b.envelope(KindPhase, pc.At)
	msg.Phase = &pc
	b.publish(b.eventsTopic, msg)
}

// Battery publishes a free-form battery milestone such as a task start.
func (b *Bridge) Battery(note string, at time.Time) {
	msg := b.envelope(KindBattery, at)
	msg.Note = note
	b.publish(b.eventsTopic, msg)
}

// Progress fills the session labels and publishes p.
func (b *Bridge) Progress(p Progress) {
	b.mu.Lock()
	p.Session, p.Participant = b.session, b.participant
	if p.Task == "" {
		p.Task = b.task
	}
	b.mu.Unlock()
	b.publish(b.progressTopic, p)
}

func (b *Bridge) publish(topic string, v any) {
	if topic == "" {
		return
	}
	if err := b.pub.Publish(topic, v); err != nil {
		b.log.Warn("telemetry publish failed", zap.String("topic", topic), zap.Error(err))
	}
}

// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package session holds per-participant session context and decides where a
// task writes its files.
package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/relabs-tech/vr_assess/internal/orientation"
	"github.com/relabs-tech/vr_assess/internal/pose"
)

// ErrNoPersistence is wrapped when the session directory cannot be created.
// The task still runs; nothing is written.
var ErrNoPersistence = errors.New("session: persistence unavailable")

// DefaultParticipant is used when the operator leaves the name empty.
const DefaultParticipant = "player"

type TrialKind string

const (
	KindCalibration TrialKind = "Calibration"
	KindPractice    TrialKind = "Practice"
	KindRecorded    TrialKind = "Recorded"
)

type Outcome string

const (
	Success Outcome = "Success"
	Aborted Outcome = "Aborted"
)

// Trial is one finalized unit of the reach task.
type Trial struct {
	Index       int              `json:"index"`
	Kind        TrialKind        `json:"kind"`
	Visible     bool             `json:"visible"`
	Hand        pose.Handedness  `json:"hand"`
	Outcome     Outcome          `json:"outcome"`
	Error       float64          `json:"error"`
	Target      orientation.Vec3 `json:"target"`
	Effector    orientation.Vec3 `json:"effector"`
	FinalizedAt time.Time        `json:"finalized_at"`
}

// Session is the context one participant's task runs in. It is created by
// PathManager and passed explicitly to everything that needs it.
type Session struct {
	ID          uuid.UUID `json:"id"`
	Participant string    `json:"participant"`
	Task        string    `json:"task"`
	Start       time.Time `json:"start"`
	Dir         string    `json:"dir"`
	Persist     bool      `json:"persist"`

	mu     sync.Mutex
	trials []Trial
}

// AddTrial appends a finalized trial. Insertion order is temporal order.
func (s *Session) AddTrial(t Trial) {
	s.mu.Lock()
	s.trials = append(s.trials, t)
	s.mu.Unlock()
}

// Trials returns a copy of the finalized trials.
func (s *Session) Trials() []Trial {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Trial, len(s.trials))
	copy(out, s.trials)
	return out
}

// StreamPath returns the file a named stream writes to, or "" when the
// session does not persist.
func (s *Session) StreamPath(name string) string {
	if !s.Persist {
		return ""
	}
	return filepath.Join(s.Dir, name+".txt")
}

const dirTimeLayout = "2006-01-02-15-04-05"

// PathManager lays out session directories under Root.
//
// Standalone tasks use <root>/<task>/<participant>/<yyyy-MM-dd-HH-mm-ss>/.
// A battery shares one <root>/<participant>_<yyyy-MM-dd_HH-mm-ss>/ folder with
// one subdirectory per task.
type PathManager struct {
	Root    string
	battery bool
}

// NewBatteryPaths returns a PathManager rooted at the battery folder for
// participant, fixed at now.
func NewBatteryPaths(root, participant string, now time.Time) PathManager {
	if participant == "" {
		participant = DefaultParticipant
	}
	dir := filepath.Join(root, participant+"_"+now.Format("2006-01-02_15-04-05"))
	return PathManager{Root: dir, battery: true}
}

// Create builds the session for task and creates its directory. On failure
// the session is still returned with Persist false, together with an error
// wrapping ErrNoPersistence.
func (m PathManager) Create(participant, task string, now time.Time) (*Session, error) {
	if participant == "" {
		participant = DefaultParticipant
	}
	s := &Session{
		ID:          uuid.New(),
		Participant: participant,
		Task:        task,
		Start:       now,
	}
	if m.Root == "" {
		return s, fmt.Errorf("%w: no data root configured", ErrNoPersistence)
	}

	if m.battery {
		s.Dir = filepath.Join(m.Root, task)
	} else {
		s.Dir = filepath.Join(m.Root, task, participant, now.Format(dirTimeLayout))
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return s, fmt.Errorf("%w: create %s: %v", ErrNoPersistence, s.Dir, err)
	}
	s.Persist = true
	return s, nil
}

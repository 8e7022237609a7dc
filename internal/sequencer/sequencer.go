// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package sequencer drives the reach task trial by trial: calibration,
// practice, two counterbalanced recorded blocks, one per arm.
//
// A Sequencer is owned by the fixed tick. AdvanceIfConditionMet, the
// continuations it schedules and the read accessors are all expected to run
// on that one goroutine.
package sequencer

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/relabs-tech/vr_assess/internal/orientation"
	"github.com/relabs-tech/vr_assess/internal/pose"
	"github.com/relabs-tech/vr_assess/internal/reach"
	"github.com/relabs-tech/vr_assess/internal/recorder"
	"github.com/relabs-tech/vr_assess/internal/scheduler"
	"github.com/relabs-tech/vr_assess/internal/session"
)

var (
	ErrNotStarted     = errors.New("sequencer: calibration not started")
	ErrAlreadyStarted = errors.New("sequencer: already started")
)

type Config struct {
	FirstRecordedTrial int
	ReachesPerArm      int
	// Practice trials below this index show the hand.
	PracticeVisibleBelow int
	MinCalibrationReach  float64
	ResetCooldown        time.Duration
	EvaluationDelay      time.Duration
	// ConfirmAtHome holds the first practice trial until the participant has
	// touched the home cube once after calibrating.
	ConfirmAtHome bool
	// Strict panics on sequencing invariant violations instead of assuming
	// the hand is visible. Meant for development builds.
	Strict bool
}

func DefaultConfig() Config {
	return Config{
		FirstRecordedTrial:   11,
		ReachesPerArm:        25,
		PracticeVisibleBelow: 6,
		MinCalibrationReach:  0.1,
		ResetCooldown:        2 * time.Second,
		EvaluationDelay:      10 * time.Millisecond,
	}
}

// SwitchTrial is the first trial of the second arm.
func (c Config) SwitchTrial() int { return c.FirstRecordedTrial + c.ReachesPerArm }

// TotalTrials is the last trial index.
func (c Config) TotalTrials() int { return c.SwitchTrial() + c.ReachesPerArm - 1 }

// Deps are the collaborators a Sequencer writes to. Session, Spawner,
// Detector, Queue and Rand are required.
type Deps struct {
	Session  *session.Session
	Recorder *recorder.Recorder
	Spawner  *reach.Spawner
	Detector *reach.Detector
	Geometry reach.Geometry
	Queue    *scheduler.Queue
	Rand     *rand.Rand
	Sink     EventSink
	Logger   *zap.Logger
}

// Tick is the input to one evaluation.
type Tick struct {
	Now  time.Time
	Pose pose.Snapshot
	// Tracked is false when the provider reported tracking loss this tick.
	Tracked bool
}

type Sequencer struct {
	cfg  Config
	deps Deps
	log  *zap.Logger

	state       State
	trial       int
	hand        pose.Handedness
	switched    bool
	firstArm    []bool
	secondArm   []bool
	cal         reach.Calibration
	calibrated  bool
	awaitHome   bool
	evaluating  bool
	pendingEval *scheduler.Handle
	cooldownEnd time.Time

	target reach.Target
	home   reach.Target

	last         pose.Snapshot
	lastEffector orientation.Vec3
	haveEffector bool

	pending []TransitionEvent
	stopped bool
}

func New(cfg Config, hand pose.Handedness, deps Deps) *Sequencer {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Recorder == nil {
		deps.Recorder = recorder.New("", nil, recorder.Options{})
	}
	if !hand.Valid() {
		hand = pose.Right
	}
	return &Sequencer{
		cfg:   cfg,
		deps:  deps,
		log:   deps.Logger.Named("sequencer"),
		state: Idle,
		hand:  hand,
	}
}

// StartCalibration enters the calibration trial and draws the first arm's
// visibility order.
func (s *Sequencer) StartCalibration(now time.Time) error {
	if s.state != Idle {
		return ErrAlreadyStarted
	}
	s.firstArm = GenerateVisibility(s.cfg.ReachesPerArm, s.deps.Rand)
	s.trial = 1
	s.emit(Idle, Calibration, now, "start")
	s.state = Calibration
	s.log.Info("calibration started",
		zap.String("hand", string(s.hand)),
		zap.Int("visible", countTrue(s.firstArm)),
		zap.Int("invisible", len(s.firstArm)-countTrue(s.firstArm)),
	)
	return nil
}

// AdvanceIfConditionMet evaluates the transition condition of the current
// state against this tick's pose. It returns the transition that happened
// since the previous call, if any, including ones completed by a delayed
// continuation during the tick's queue drain.
func (s *Sequencer) AdvanceIfConditionMet(t Tick) (*TransitionEvent, error) {
	if s.state == Idle {
		return nil, ErrNotStarted
	}
	if t.Tracked {
		s.observe(t.Pose)
	}
	if !s.stopped && t.Tracked && len(s.pending) == 0 {
		s.evaluate(t)
	}
	if len(s.pending) == 0 {
		return nil, nil
	}
	ev := s.pending[0]
	s.pending = s.pending[1:]
	return &ev, nil
}

func (s *Sequencer) observe(p pose.Snapshot) {
	s.last = p
	if tip, ok := p.Fingertip(s.hand); ok {
		s.lastEffector = tip
		s.haveEffector = true
	}
}

func (s *Sequencer) evaluate(t Tick) {
	switch s.state {
	case Calibration:
		s.evaluateCalibration(t)
	case PracticeReach, RecordedReach:
		s.evaluateReach(t)
	case PracticeReset, RecordedReset:
		s.evaluateReset(t)
	}
}

func (s *Sequencer) evaluateCalibration(t Tick) {
	if s.awaitHome {
		tip, ok := t.Pose.Fingertip(s.hand)
		if ok && s.deps.Detector.Returned(tip, s.home) {
			s.awaitHome = false
			s.beginReaching(t.Now)
		}
		return
	}
	if !t.Pose.Hand(s.hand).Pinching {
		return
	}
	cal, dist, ok := reach.Calibrate(t.Pose, s.hand, s.deps.Geometry, s.cfg.MinCalibrationReach)
	if !ok {
		s.log.Debug("calibration pinch rejected", zap.Float64("reach", dist))
		return
	}
	s.cal = cal
	s.calibrated = true
	s.home = s.deps.Spawner.Home(cal, t.Now)
	s.deps.Session.AddTrial(session.Trial{
		Index:       1,
		Kind:        session.KindCalibration,
		Visible:     true,
		Hand:        s.hand,
		Outcome:     session.Success,
		Effector:    cal.Fingertip,
		FinalizedAt: t.Now,
	})
	s.log.Info("calibration complete",
		zap.Float64("reach_distance", cal.ReachDistance),
		zap.Stringer("shoulder_offset", cal.ShoulderOffset),
	)
	if s.cfg.ConfirmAtHome {
		s.awaitHome = true
		return
	}
	s.beginReaching(t.Now)
}

// beginReaching leaves calibration for trial 2, which is already recorded
// when no practice trials are configured.
func (s *Sequencer) beginReaching(now time.Time) {
	s.trial = 2
	s.spawn(now)
	next := PracticeReach
	if s.trial >= s.cfg.FirstRecordedTrial {
		next = RecordedReach
	}
	s.emit(Calibration, next, now, "calibrated")
	s.state = next
}

func (s *Sequencer) evaluateReach(t Tick) {
	if s.evaluating || !t.Pose.Head.Tracked {
		return
	}
	tip, ok := t.Pose.Fingertip(s.hand)
	if !ok {
		return
	}
	shoulder := reach.EstimateShoulder(t.Pose.Head.Position, t.Pose.Head.Right, s.hand, s.deps.Geometry)
	res := s.deps.Detector.Hit(tip, s.target, shoulder, s.cal)
	if !res.Hit {
		return
	}
	s.evaluating = true
	s.pendingEval = s.deps.Queue.After(t.Now, s.cfg.EvaluationDelay, "evaluate-reach", s.finishReach)
	s.log.Debug("hit detected",
		zap.Int("trial", s.trial),
		zap.Float64("distance", res.Distance),
		zap.Float64("extension", res.Extension),
		zap.Float64("cosine", res.Cosine),
	)
}

// finishReach runs EvaluationDelay after the hit with the latest effector.
func (s *Sequencer) finishReach(now time.Time) {
	s.pendingEval = nil
	if s.stopped || !s.state.Reaching() {
		return
	}
	final := s.lastEffector
	errDist := final.Dist(s.target.Position)
	visible := s.Visible()
	kind := session.KindPractice
	if s.state == RecordedReach {
		kind = session.KindRecorded
	}

	s.home = s.deps.Spawner.Home(s.cal, now)
	s.deps.Session.AddTrial(session.Trial{
		Index:       s.trial,
		Kind:        kind,
		Visible:     visible,
		Hand:        s.hand,
		Outcome:     session.Success,
		Error:       errDist,
		Target:      s.target.Position,
		Effector:    final,
		FinalizedAt: now,
	})
	if kind == session.KindRecorded {
		s.appendTrialRow(recorder.TrialRow{
			Time:    now,
			Trial:   s.trial,
			Visible: visible,
			HandPos: final,
			Target:  s.target.Position,
			Error:   errDist,
		})
	}

	s.cooldownEnd = now.Add(s.cfg.ResetCooldown)
	from, to := PracticeReach, PracticeReset
	if s.state == RecordedReach {
		from, to = RecordedReach, RecordedReset
	}
	s.emitWith(from, to, now, "hit", errDist)
	s.state = to
}

func (s *Sequencer) evaluateReset(t Tick) {
	if t.Now.Before(s.cooldownEnd) {
		return
	}
	tip, ok := t.Pose.Fingertip(s.hand)
	if !ok || !s.deps.Detector.Returned(tip, s.home) {
		return
	}
	if s.state == RecordedReset {
		s.appendTrialRow(recorder.TrialRow{
			Time:    t.Now,
			Trial:   s.trial,
			Reset:   true,
			HandPos: tip,
			Target:  s.home.Position,
			Error:   tip.Dist(s.home.Position),
		})
	}

	from := s.state
	s.trial++
	s.evaluating = false

	switch {
	case from == PracticeReset && s.trial < s.cfg.FirstRecordedTrial:
		s.spawn(t.Now)
		s.emit(from, PracticeReach, t.Now, "returned")
		s.state = PracticeReach
	case from == PracticeReset:
		s.spawn(t.Now)
		s.emit(from, RecordedReach, t.Now, "practice done")
		s.state = RecordedReach
	case s.trial == s.cfg.SwitchTrial() && !s.switched:
		s.switchHands(t.Now)
	case s.trial > s.cfg.TotalTrials():
		s.emit(from, Complete, t.Now, "all trials done")
		s.state = Complete
		s.log.Info("reach task complete", zap.Int("trials", len(s.deps.Session.Trials())))
	default:
		s.spawn(t.Now)
		s.emit(from, RecordedReach, t.Now, "returned")
		s.state = RecordedReach
	}
}

func (s *Sequencer) switchHands(now time.Time) {
	s.switched = true
	s.hand = s.hand.Opposite()
	s.haveEffector = false
	if tip, ok := s.last.Fingertip(s.hand); ok {
		s.lastEffector, s.haveEffector = tip, true
	}
	s.secondArm = GenerateVisibility(s.cfg.ReachesPerArm, s.deps.Rand)
	s.spawn(now)
	s.emit(RecordedReset, HandSwitch, now, "switch hands")
	s.state = RecordedReach
	s.log.Info("hand switched",
		zap.String("hand", string(s.hand)),
		zap.Int("trial", s.trial),
		zap.Int("visible", countTrue(s.secondArm)),
	)
}

func (s *Sequencer) spawn(now time.Time) {
	snap := s.last
	snap.Time = now
	s.target = s.deps.Spawner.Spawn(snap, s.cal, s.hand)
}

func (s *Sequencer) appendTrialRow(row recorder.TrialRow) {
	row.Hand = s.hand
	row.HeadPos = s.last.Head.Position
	row.LeftEye = s.last.LeftEye.Rotation
	row.RightEye = s.last.RightEye.Rotation
	row.HomePos = s.home.Position
	if err := s.deps.Recorder.AppendTrial(row); err != nil {
		s.log.Warn("trial row not written", zap.Int("trial", row.Trial), zap.Error(err))
	}
}

func (s *Sequencer) emit(from, to State, now time.Time, reason string) {
	s.emitWith(from, to, now, reason, 0)
}

func (s *Sequencer) emitWith(from, to State, now time.Time, reason string, errDist float64) {
	ev := TransitionEvent{
		From:   from,
		To:     to,
		Trial:  s.trial,
		Hand:   s.hand,
		At:     now,
		Reason: reason,
		Error:  errDist,
	}
	if to != Complete && to != Calibration {
		ev.Visible = s.Visible()
	}
	s.pending = append(s.pending, ev)
	if s.deps.Sink != nil {
		s.deps.Sink.Transition(ev)
	}
	s.log.Debug("transition",
		zap.Stringer("from", from),
		zap.Stringer("to", to),
		zap.Int("trial", s.trial),
		zap.String("reason", reason),
	)
}

// Visible reports whether the active hand is shown for the current trial.
func (s *Sequencer) Visible() bool {
	switch {
	case s.state == Complete:
		return true
	case s.trial < s.cfg.FirstRecordedTrial:
		return s.trial < s.cfg.PracticeVisibleBelow
	case s.trial < s.cfg.SwitchTrial():
		return s.lookup(s.firstArm, s.trial-s.cfg.FirstRecordedTrial)
	default:
		return s.lookup(s.secondArm, s.trial-s.cfg.SwitchTrial())
	}
}

func (s *Sequencer) lookup(list []bool, i int) bool {
	if i >= 0 && i < len(list) {
		return list[i]
	}
	msg := fmt.Sprintf("sequencer: visibility index %d out of range for trial %d (list length %d)", i, s.trial, len(list))
	if s.cfg.Strict {
		panic(msg)
	}
	s.log.Warn("visibility lookup out of range, assuming visible",
		zap.Int("trial", s.trial),
		zap.Int("index", i),
		zap.Int("len", len(list)),
	)
	return true
}

// Stop cancels any pending continuation and marks an unfinished reach as
// aborted. The sequencer ignores further ticks.
func (s *Sequencer) Stop(now time.Time) {
	if s.stopped {
		return
	}
	s.stopped = true
	if s.pendingEval != nil {
		s.pendingEval.Cancel()
		s.pendingEval = nil
	}
	if s.state.Reaching() {
		s.deps.Session.AddTrial(session.Trial{
			Index:       s.trial,
			Kind:        s.kind(),
			Visible:     s.Visible(),
			Hand:        s.hand,
			Outcome:     session.Aborted,
			Target:      s.target.Position,
			Effector:    s.lastEffector,
			FinalizedAt: now,
		})
	}
	s.log.Info("sequencer stopped", zap.Stringer("state", s.state), zap.Int("trial", s.trial))
}

func (s *Sequencer) kind() session.TrialKind {
	switch {
	case s.trial <= 1:
		return session.KindCalibration
	case s.trial < s.cfg.FirstRecordedTrial:
		return session.KindPractice
	default:
		return session.KindRecorded
	}
}

func (s *Sequencer) IsComplete() bool { return s.state == Complete }

// CurrentProgress returns the trial index and the phase label.
func (s *Sequencer) CurrentProgress() (int, string) { return s.trial, s.state.String() }

func (s *Sequencer) State() State          { return s.state }
func (s *Sequencer) Hand() pose.Handedness { return s.hand }
func (s *Sequencer) Config() Config        { return s.cfg }
func (s *Sequencer) Instruction() string   { return instructions[s.state] }
func (s *Sequencer) AwaitingHome() bool    { return s.awaitHome }
func (s *Sequencer) Evaluating() bool      { return s.evaluating }
func (s *Sequencer) Calibrated() bool      { return s.calibrated }
func (s *Sequencer) Stopped() bool         { return s.stopped }

// Calibration returns the calibration result once it exists.
func (s *Sequencer) Calibration() (reach.Calibration, bool) { return s.cal, s.calibrated }

// CurrentTarget returns the reach target while a reach is in progress.
func (s *Sequencer) CurrentTarget() (reach.Target, bool) {
	return s.target, s.state.Reaching()
}

// HomeTarget returns the reset cube once calibration has placed it.
func (s *Sequencer) HomeTarget() (reach.Target, bool) {
	return s.home, s.calibrated
}

// VisibilityLists returns copies of both arms' visibility orders.
func (s *Sequencer) VisibilityLists() (first, second []bool) {
	return append([]bool(nil), s.firstArm...), append([]bool(nil), s.secondArm...)
}

func countTrue(list []bool) int {
	n := 0
	for _, v := range list {
		if v {
			n++
		}
	}
	return n
}

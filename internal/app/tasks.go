// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/relabs-tech/vr_assess/internal/pose"
	"github.com/relabs-tech/vr_assess/internal/protocol"
	"github.com/relabs-tech/vr_assess/internal/reach"
	"github.com/relabs-tech/vr_assess/internal/recorder"
	"github.com/relabs-tech/vr_assess/internal/sequencer"
	"github.com/relabs-tech/vr_assess/internal/session"
	"github.com/relabs-tech/vr_assess/internal/sim"
	"github.com/relabs-tech/vr_assess/internal/telemetry"
	"github.com/relabs-tech/vr_assess/internal/timed"
)

// ReachTaskName is the battery name of the finger-target reach task.
const ReachTaskName = "ReachTask"

// BucketStream is the stream the bucket test writes its folded angle to.
const BucketStream = "BucketAngle"

const bucketKey = "bucket"

// task is one runnable assessment. advance is called once per fixed tick,
// after the recorder row and the scheduler drain.
type task interface {
	name() string
	start(now time.Time) error
	sample(at time.Time, snap pose.Snapshot) recorder.Sample
	recorder() *recorder.Recorder
	advance(at time.Time, snap pose.Snapshot, tracked bool)
	done() bool
	progress(at time.Time) telemetry.Progress
	goal() sim.Goal
	stop(at time.Time)
}

// newTask builds the task called name with its session under paths.
func (rt *Runtime) newTask(name string, paths session.PathManager, now time.Time) (task, error) {
	participant := rt.Cfg.Participant
	if strings.EqualFold(name, ReachTaskName) {
		sess := rt.openSession(paths, participant, ReachTaskName, now)
		return newReachTask(rt, sess), nil
	}

	p, err := protocol.Resolve(name)
	if err != nil {
		return nil, err
	}
	sess := rt.openSession(paths, participant, p.Task, now)
	return newTimedTask(rt, sess, p), nil
}

func (rt *Runtime) openSession(paths session.PathManager, participant, taskName string, now time.Time) *session.Session {
	sess, err := paths.Create(participant, taskName, now)
	if err != nil {
		// The task still runs; only its files are lost.
		rt.Log.Warn("session will not be persisted", zap.String("task", taskName), zap.Error(err))
	}
	rt.Bridge.SetTask(sess.ID.String(), sess.Participant, taskName)
	return sess
}

func (rt *Runtime) newRecorder(sess *session.Session, streams []recorder.Stream) *recorder.Recorder {
	dir := ""
	if sess.Persist {
		dir = sess.Dir
	}
	return recorder.New(dir, streams, recorder.Options{
		Logger:   rt.Log,
		Observer: rt.Metrics,
	})
}

// reachTask runs handedness detection, then the reach sequencer.
type reachTask struct {
	rt   *Runtime
	sess *session.Session
	rec  *recorder.Recorder

	handedness reach.HandednessDetector
	deadline   time.Time
	hand       pose.Handedness
	seq        *sequencer.Sequencer
	seed       uint64
}

func newReachTask(rt *Runtime, sess *session.Session) *reachTask {
	return &reachTask{
		rt:         rt,
		sess:       sess,
		rec:        rt.newRecorder(sess, recorder.ReachStreams()),
		handedness: rt.Cfg.HandednessDetector(),
	}
}

func (t *reachTask) name() string                 { return ReachTaskName }
func (t *reachTask) recorder() *recorder.Recorder { return t.rec }

func (t *reachTask) start(now time.Time) error {
	if err := t.rec.OpenTrialLog(); err != nil {
		t.rt.Log.Warn("trial log not created", zap.Error(err))
	}
	if t.rt.Cfg.StartHand.Valid() {
		return t.begin(t.rt.Cfg.StartHand, now)
	}
	t.deadline = now.Add(t.rt.Cfg.HandednessTimeout)
	t.rt.Log.Info("waiting for handedness: touch a start ball")
	return nil
}

// begin fixes the starting hand and starts calibration.
func (t *reachTask) begin(hand pose.Handedness, now time.Time) error {
	t.hand = hand
	if err := t.rec.WriteHandedness(now, hand); err != nil {
		t.rt.Log.Warn("handedness not written", zap.Error(err))
	}

	rng, seed := sequencer.NewRand(t.rt.Cfg.RNGSeed)
	t.seed = seed
	geom := t.rt.Cfg.Geometry()
	t.seq = sequencer.New(t.rt.Cfg.SequencerConfig(), hand, sequencer.Deps{
		Session:  t.sess,
		Recorder: t.rec,
		Spawner:  reach.NewSpawner(t.rt.Cfg.SpawnConfig(), geom, rng),
		Detector: reach.NewDetector(t.rt.Cfg.DetectorConfig()),
		Geometry: geom,
		Queue:    t.rt.Queue,
		Rand:     rng,
		Sink:     t.rt.sinks(),
		Logger:   t.rt.Log,
	})
	t.rt.Log.Info("reach task starting",
		zap.String("session", t.sess.ID.String()),
		zap.String("hand", string(hand)),
		zap.Uint64("seed", seed),
		zap.Stringer("hit_mode", t.rt.Cfg.HitMode),
		zap.Stringer("anchor", t.rt.Cfg.AnchorMode),
	)
	return t.seq.StartCalibration(now)
}

func (t *reachTask) sample(at time.Time, snap pose.Snapshot) recorder.Sample {
	s := recorder.Sample{Time: at, Pose: snap, Hand: t.hand}
	if t.seq != nil {
		s.Tag = t.seq.State().String()
	}
	return s
}

func (t *reachTask) advance(at time.Time, snap pose.Snapshot, tracked bool) {
	if t.seq == nil {
		t.detectHand(at, snap, tracked)
		return
	}
	if _, err := t.seq.AdvanceIfConditionMet(sequencer.Tick{Now: at, Pose: snap, Tracked: tracked}); err != nil && !errors.Is(err, sequencer.ErrNotStarted) {
		t.rt.Log.Warn("reach evaluation failed", zap.Error(err))
	}
}

func (t *reachTask) detectHand(at time.Time, snap pose.Snapshot, tracked bool) {
	hand, ok := pose.Handedness(""), false
	if tracked {
		hand, ok = t.handedness.Detect(snap)
	}
	if !ok && !at.Before(t.deadline) {
		hand, ok = pose.Right, true
		t.rt.Log.Warn("no start ball touched, defaulting to right hand")
	}
	if !ok {
		return
	}
	if err := t.begin(hand, at); err != nil {
		t.rt.Log.Error("reach task did not start", zap.Error(err))
	}
}

func (t *reachTask) done() bool { return t.seq != nil && t.seq.IsComplete() }

func (t *reachTask) progress(at time.Time) telemetry.Progress {
	p := telemetry.Progress{Task: ReachTaskName, State: "Handedness", At: at}
	if t.seq == nil {
		p.Instruction = "Touch a ball to choose your starting hand"
		return p
	}
	p.Trial, p.State = t.seq.CurrentProgress()
	p.Instruction = t.seq.Instruction()
	p.Visible = t.seq.Visible()
	p.Hand = string(t.seq.Hand())
	return p
}

func (t *reachTask) goal() sim.Goal {
	if t.seq == nil {
		hand := t.rt.Cfg.StartHand
		if !hand.Valid() {
			hand = pose.Right
		}
		ball := t.handedness.RightBall
		if hand == pose.Left {
			ball = t.handedness.LeftBall
		}
		return sim.Goal{Hand: hand, Target: ball}
	}
	return participantGoal(t.seq)
}

func (t *reachTask) stop(at time.Time) {
	if t.seq != nil && !t.seq.IsComplete() {
		t.seq.Stop(at)
	}
}

// participantGoal maps the sequencer state to what a cooperative participant
// does next.
func participantGoal(s *sequencer.Sequencer) sim.Goal {
	g := sim.Goal{Hand: s.Hand()}
	st := s.State()
	switch {
	case st == sequencer.Calibration && s.AwaitingHome():
		home, _ := s.HomeTarget()
		g.Target = home.Position
	case st == sequencer.Calibration:
		g.Calibrate = true
	case st.Reaching():
		tgt, _ := s.CurrentTarget()
		g.Target = tgt.Position
	case st.Resetting():
		home, _ := s.HomeTarget()
		g.Target = home.Position
	default:
		g.Idle = true
	}
	return g
}

// timedTask runs a phase protocol and tags every row with the phase.
type timedTask struct {
	rt      *Runtime
	sess    *session.Session
	rec     *recorder.Recorder
	proto   protocol.Protocol
	runner  *timed.Runner
	started time.Time
}

func newTimedTask(rt *Runtime, sess *session.Session, p protocol.Protocol) *timedTask {
	var streams []recorder.Stream
	switch p.Streams {
	case protocol.StreamsHead:
		streams = []recorder.Stream{recorder.HeadPosition(), recorder.HeadRotation()}
	default:
		streams = recorder.HeadAndEyes()
	}
	streams = recorder.Tag(streams)
	if p.Bucket {
		streams = append(streams, recorder.Scalar(BucketStream, bucketKey, recorder.RotationPrecision))
	}

	t := &timedTask{
		rt:    rt,
		sess:  sess,
		rec:   rt.newRecorder(sess, streams),
		proto: p,
	}
	t.runner = timed.NewRunner(p, rt.Queue, rt.Log, func(pc timed.PhaseChange) {
		rt.Bridge.Phase(pc)
		rt.Metrics.PhaseChanged(pc.Task)
	})
	return t
}

func (t *timedTask) name() string                 { return t.proto.Name }
func (t *timedTask) recorder() *recorder.Recorder { return t.rec }

func (t *timedTask) start(now time.Time) error {
	t.started = now
	if err := t.runner.Start(now); err != nil {
		return fmt.Errorf("%s: %w", t.proto.Name, err)
	}
	return nil
}

func (t *timedTask) sample(at time.Time, snap pose.Snapshot) recorder.Sample {
	s := recorder.Sample{Time: at, Pose: snap, Tag: t.runner.Tag()}
	if t.proto.Bucket && snap.Head.Tracked {
		s.Values = map[string]float64{bucketKey: timed.FoldBucketAngle(snap.Head.Rotation.Z)}
	}
	return s
}

func (t *timedTask) advance(at time.Time, _ pose.Snapshot, _ bool) {
	limit := t.rt.Cfg.OpenEndedLimit
	if t.proto.OpenEnded && limit > 0 && !t.runner.IsComplete() && at.Sub(t.started) >= limit {
		t.runner.Finish(at)
	}
}

func (t *timedTask) done() bool { return t.runner.IsComplete() }

func (t *timedTask) progress(at time.Time) telemetry.Progress {
	idx, label := t.runner.CurrentProgress()
	return telemetry.Progress{Task: t.proto.Name, Trial: idx, State: label, At: at}
}

func (t *timedTask) goal() sim.Goal { return sim.Goal{Idle: true} }

func (t *timedTask) stop(at time.Time) {
	if !t.runner.IsComplete() {
		t.runner.Stop()
	}
}

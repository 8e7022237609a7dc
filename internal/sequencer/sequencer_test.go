package sequencer

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/vr_assess/internal/clock"
	"github.com/relabs-tech/vr_assess/internal/orientation"
	"github.com/relabs-tech/vr_assess/internal/pose"
	"github.com/relabs-tech/vr_assess/internal/reach"
	"github.com/relabs-tech/vr_assess/internal/recorder"
	"github.com/relabs-tech/vr_assess/internal/scheduler"
	"github.com/relabs-tech/vr_assess/internal/session"
	"github.com/relabs-tech/vr_assess/internal/sim"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

const step = 20 * time.Millisecond

type harness struct {
	seq    *Sequencer
	queue  *scheduler.Queue
	sess   *session.Session
	rec    *recorder.Recorder
	clk    *clock.Manual
	events []TransitionEvent
}

func newHarness(t *testing.T, cfg Config, dir string) *harness {
	t.Helper()
	h := &harness{
		queue: scheduler.New(),
		sess:  &session.Session{Participant: "P1", Task: "VisInvisStability"},
		rec:   recorder.New(dir, recorder.ReachStreams(), recorder.Options{}),
		clk:   clock.NewManual(t0),
	}
	require.NoError(t, h.rec.OpenTrialLog())
	spawnCfg := reach.DefaultSpawnConfig()
	spawnCfg.JitterX, spawnCfg.JitterY = 0, 0
	rng, _ := NewRand(42)
	h.seq = New(cfg, pose.Right, Deps{
		Session:  h.sess,
		Recorder: h.rec,
		Spawner:  reach.NewSpawner(spawnCfg, reach.DefaultGeometry(), rng),
		Detector: reach.NewDetector(reach.DefaultDetectorConfig()),
		Geometry: reach.DefaultGeometry(),
		Queue:    h.queue,
		Rand:     rng,
		Sink:     EventSinkFunc(func(ev TransitionEvent) { h.events = append(h.events, ev) }),
	})
	return h
}

var headPos = orientation.Vec3{Y: 1.6}

func snapWithTip(tip orientation.Vec3, pinch bool) pose.Snapshot {
	return pose.Snapshot{
		Head:      pose.Head{Position: headPos, Tracked: true},
		RightHand: pose.Hand{IndexTip: &tip, Tracked: true, Pinching: pinch},
	}.WithBasis()
}

// tick advances the clock, drains the queue, then evaluates.
func (h *harness) tick(t *testing.T, snap pose.Snapshot, tracked bool) *TransitionEvent {
	t.Helper()
	now := h.clk.Advance(step)
	snap.Time = now
	h.queue.Drain(now)
	ev, err := h.seq.AdvanceIfConditionMet(Tick{Now: now, Pose: snap, Tracked: tracked})
	require.NoError(t, err)
	return ev
}

func (h *harness) calibrate(t *testing.T) {
	t.Helper()
	require.NoError(t, h.seq.StartCalibration(h.clk.Now()))
	shoulder := reach.EstimateShoulder(headPos, orientation.Right, pose.Right, reach.DefaultGeometry())
	ev := h.tick(t, snapWithTip(shoulder.Add(orientation.Forward.Scale(0.5)), true), true)
	require.NotNil(t, ev)
	require.Equal(t, Calibration, ev.From)
	require.Equal(t, PracticeReach, ev.To)
}

func TestAdvanceBeforeStart(t *testing.T) {
	h := newHarness(t, DefaultConfig(), "")
	_, err := h.seq.AdvanceIfConditionMet(Tick{Now: t0, Tracked: true})
	assert.ErrorIs(t, err, ErrNotStarted)
	require.NoError(t, h.seq.StartCalibration(t0))
	assert.ErrorIs(t, h.seq.StartCalibration(t0), ErrAlreadyStarted)
}

func TestDerivedTrialConstants(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 36, cfg.SwitchTrial())
	assert.Equal(t, 60, cfg.TotalTrials())
}

func TestCalibrationRejectsShortReach(t *testing.T) {
	h := newHarness(t, DefaultConfig(), "")
	require.NoError(t, h.seq.StartCalibration(t0))
	shoulder := reach.EstimateShoulder(headPos, orientation.Right, pose.Right, reach.DefaultGeometry())

	assert.Nil(t, h.tick(t, snapWithTip(shoulder.Add(orientation.Forward.Scale(0.05)), true), true))
	assert.Nil(t, h.tick(t, snapWithTip(shoulder.Add(orientation.Forward.Scale(0.5)), false), true))
	assert.Equal(t, Calibration, h.seq.State())

	ev := h.tick(t, snapWithTip(shoulder.Add(orientation.Forward.Scale(0.5)), true), true)
	require.NotNil(t, ev)
	cal, ok := h.seq.Calibration()
	require.True(t, ok)
	assert.InDelta(t, 0.5, cal.ReachDistance, 1e-9)

	trial, phase := h.seq.CurrentProgress()
	assert.Equal(t, 2, trial)
	assert.Equal(t, "PracticeReach", phase)
	require.Len(t, h.sess.Trials(), 1)
	assert.Equal(t, session.KindCalibration, h.sess.Trials()[0].Kind)
}

func TestConfirmAtHome(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ConfirmAtHome = true
	h := newHarness(t, cfg, "")
	require.NoError(t, h.seq.StartCalibration(t0))
	shoulder := reach.EstimateShoulder(headPos, orientation.Right, pose.Right, reach.DefaultGeometry())
	assert.Nil(t, h.tick(t, snapWithTip(shoulder.Add(orientation.Forward.Scale(0.5)), true), true))
	assert.True(t, h.seq.AwaitingHome())

	home, ok := h.seq.HomeTarget()
	require.True(t, ok)
	ev := h.tick(t, snapWithTip(home.Position, false), true)
	require.NotNil(t, ev)
	assert.Equal(t, PracticeReach, ev.To)
}

func TestNoPracticeStartsRecordedAtTrialTwo(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FirstRecordedTrial = 2
	cfg.PracticeVisibleBelow = 2
	dir := t.TempDir()
	h := newHarness(t, cfg, dir)
	require.NoError(t, h.seq.StartCalibration(h.clk.Now()))
	shoulder := reach.EstimateShoulder(headPos, orientation.Right, pose.Right, reach.DefaultGeometry())

	ev := h.tick(t, snapWithTip(shoulder.Add(orientation.Forward.Scale(0.5)), true), true)
	require.NotNil(t, ev)
	assert.Equal(t, Calibration, ev.From)
	assert.Equal(t, RecordedReach, ev.To)
	assert.Equal(t, 2, ev.Trial)
	first, _ := h.seq.VisibilityLists()
	assert.Equal(t, first[0], ev.Visible)
	assert.Equal(t, cfg.ReachesPerArm+1, cfg.SwitchTrial())

	target, _ := h.seq.CurrentTarget()
	h.tick(t, snapWithTip(target.Position, false), true)
	h.tick(t, snapWithTip(target.Position, false), true)
	assert.Equal(t, RecordedReset, h.seq.State())

	trials := h.sess.Trials()
	require.Len(t, trials, 2)
	assert.Equal(t, session.KindRecorded, trials[1].Kind)
	assert.Equal(t, first[0], trials[1].Visible)

	b, err := os.ReadFile(h.rec.Path(recorder.TrialLogName))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(b), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], ",Trial 2,")
}

func TestReachEvaluatesAfterDelay(t *testing.T) {
	h := newHarness(t, DefaultConfig(), "")
	h.calibrate(t)

	target, ok := h.seq.CurrentTarget()
	require.True(t, ok)
	assert.Nil(t, h.tick(t, snapWithTip(target.Position, false), true))
	assert.True(t, h.seq.Evaluating())

	// The continuation runs in the next tick's drain, even without tracking.
	ev := h.tick(t, pose.Snapshot{}, false)
	require.NotNil(t, ev)
	assert.Equal(t, PracticeReset, h.seq.State())
	assert.Equal(t, PracticeReach, ev.From)
	assert.Equal(t, PracticeReset, ev.To)
	assert.InDelta(t, 0, ev.Error, 1e-9)
	assert.Equal(t, *ev, h.events[len(h.events)-1])

	trials := h.sess.Trials()
	require.Len(t, trials, 2)
	assert.Equal(t, 2, trials[1].Index)
	assert.Equal(t, session.KindPractice, trials[1].Kind)
	assert.True(t, trials[1].Visible)
}

func TestHitSchedulesOnce(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EvaluationDelay = time.Second
	h := newHarness(t, cfg, "")
	h.calibrate(t)

	target, _ := h.seq.CurrentTarget()
	for range 10 {
		h.tick(t, snapWithTip(target.Position, false), true)
	}
	assert.Equal(t, 1, h.queue.Pending())
}

func TestReturnFiresOnce(t *testing.T) {
	h := newHarness(t, DefaultConfig(), "")
	h.calibrate(t)
	target, _ := h.seq.CurrentTarget()
	h.tick(t, snapWithTip(target.Position, false), true)
	h.tick(t, snapWithTip(target.Position, false), true)
	require.Equal(t, PracticeReset, h.seq.State())

	home, _ := h.seq.HomeTarget()
	atHome := snapWithTip(home.Position, false)

	// Cooldown holds the reset even at home.
	for range 50 {
		assert.Nil(t, h.tick(t, atHome, true))
	}
	fired := 0
	for range 200 {
		if ev := h.tick(t, atHome, true); ev != nil {
			fired++
			assert.Equal(t, PracticeReset, ev.From)
			assert.Equal(t, PracticeReach, ev.To)
			assert.Equal(t, 3, ev.Trial)
		}
	}
	assert.Equal(t, 1, fired)
	trial, _ := h.seq.CurrentProgress()
	assert.Equal(t, 3, trial)
}

func TestTrackingLostIsNoTransition(t *testing.T) {
	h := newHarness(t, DefaultConfig(), "")
	h.calibrate(t)
	target, _ := h.seq.CurrentTarget()

	assert.Nil(t, h.tick(t, pose.Snapshot{}, false))
	assert.Nil(t, h.tick(t, snapWithTip(target.Position, false), false))
	assert.False(t, h.seq.Evaluating())
	assert.Equal(t, PracticeReach, h.seq.State())

	// A hit followed by tracking loss still completes with the last effector.
	h.tick(t, snapWithTip(target.Position, false), true)
	h.tick(t, pose.Snapshot{}, false)
	assert.Equal(t, PracticeReset, h.seq.State())
}

func TestStopCancelsContinuation(t *testing.T) {
	h := newHarness(t, DefaultConfig(), "")
	h.calibrate(t)
	target, _ := h.seq.CurrentTarget()
	h.tick(t, snapWithTip(target.Position, false), true)
	require.Equal(t, 1, h.queue.Pending())

	h.seq.Stop(h.clk.Now())
	assert.Equal(t, 0, h.queue.Pending())
	h.tick(t, snapWithTip(target.Position, false), true)
	assert.Equal(t, PracticeReach, h.seq.State())

	trials := h.sess.Trials()
	assert.Equal(t, session.Aborted, trials[len(trials)-1].Outcome)
}

func TestVisibilityInvariant(t *testing.T) {
	h := newHarness(t, DefaultConfig(), "")
	require.NoError(t, h.seq.StartCalibration(t0))
	h.seq.trial = 20
	h.seq.firstArm = h.seq.firstArm[:5]
	assert.True(t, h.seq.Visible())

	cfg := DefaultConfig()
	cfg.Strict = true
	strict := newHarness(t, cfg, "")
	require.NoError(t, strict.seq.StartCalibration(t0))
	strict.seq.trial = 40
	assert.Panics(t, func() { strict.seq.Visible() })
}

func TestPracticeVisibility(t *testing.T) {
	h := newHarness(t, DefaultConfig(), "")
	for trial := 2; trial <= 10; trial++ {
		h.seq.trial = trial
		assert.Equal(t, trial < 6, h.seq.Visible(), "trial %d", trial)
	}
}

// goal steers the simulated participant from the sequencer's public state.
func goal(s *Sequencer) sim.Goal {
	g := sim.Goal{Hand: s.Hand()}
	st := s.State()
	switch {
	case st == Calibration && s.AwaitingHome():
		home, _ := s.HomeTarget()
		g.Target = home.Position
	case st == Calibration:
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

func TestFullSimulatedRun(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	h := newHarness(t, cfg, dir)

	simCfg := sim.DefaultConfig()
	simCfg.DropEvery = 37
	p := sim.NewParticipant(simCfg, h.clk, func() sim.Goal { return goal(h.seq) })

	require.NoError(t, h.seq.StartCalibration(h.clk.Now()))
	prev, _ := h.seq.CurrentProgress()
	startHand := h.seq.Hand()
	for i := 0; i < 30000 && !h.seq.IsComplete(); i++ {
		now := h.clk.Advance(step)
		snap, err := p.Next()
		tracked := err == nil
		if tracked {
			require.NoError(t, h.rec.Tick(recorder.Sample{Time: now, Pose: snap, Hand: h.seq.Hand(), Tag: h.seq.State().String()}))
		}
		h.queue.Drain(now)
		_, err = h.seq.AdvanceIfConditionMet(Tick{Now: now, Pose: snap, Tracked: tracked})
		require.NoError(t, err)

		trial, _ := h.seq.CurrentProgress()
		require.GreaterOrEqual(t, trial, prev)
		require.LessOrEqual(t, trial-prev, 1)
		prev = trial
	}
	require.True(t, h.seq.IsComplete())
	assert.Equal(t, cfg.TotalTrials()+1, prev)

	// Calibration, 9 practice, 50 recorded.
	trials := h.sess.Trials()
	require.Len(t, trials, 60)
	for i, tr := range trials {
		assert.Equal(t, i+1, tr.Index)
	}
	assert.Equal(t, startHand, trials[34].Hand)
	assert.Equal(t, startHand.Opposite(), trials[35].Hand)
	assert.Equal(t, startHand.Opposite(), h.seq.Hand())

	first, second := h.seq.VisibilityLists()
	assert.Equal(t, 13, countTrue(first))
	assert.Equal(t, 13, countTrue(second))
	for i := 0; i < 25; i++ {
		assert.Equal(t, first[i], trials[10+i].Visible, "trial %d", 11+i)
		assert.Equal(t, second[i], trials[35+i].Visible, "trial %d", 36+i)
	}

	switches := 0
	for _, ev := range h.events {
		if ev.To == HandSwitch {
			switches++
			assert.Equal(t, 36, ev.Trial)
		}
	}
	assert.Equal(t, 1, switches)

	b, err := os.ReadFile(h.rec.Path(recorder.TrialLogName))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(b), "\n"), "\n")
	assert.Len(t, lines, 1+50+50)
	assert.Contains(t, lines[1], ",Trial 11,")
	assert.Contains(t, lines[2], ",Trial Reset Cube,")
}

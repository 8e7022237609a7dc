package telemetry

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/relabs-tech/vr_assess/internal/recorder"
	"github.com/relabs-tech/vr_assess/internal/sequencer"
	"github.com/relabs-tech/vr_assess/internal/timed"
)

var (
	_ recorder.Observer   = (*Metrics)(nil)
	_ sequencer.EventSink = (*Metrics)(nil)
	_ sequencer.EventSink = (*Bridge)(nil)
	_ Publisher           = (*MQTTPublisher)(nil)
)

type published struct {
	topic string
	v     any
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (f *fakePublisher) Publish(topic string, v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, published{topic, v})
	return nil
}

var t0 = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func TestBridgeTransition(t *testing.T) {
	pub := &fakePublisher{}
	b := NewBridge(pub, "vrassess/events", "vrassess/progress", zap.NewNop())
	b.SetTask("sess-1", "P01", "ReachTask")

	b.Transition(sequencer.TransitionEvent{From: sequencer.RecordedReach, To: sequencer.RecordedReset, Trial: 12, At: t0, Error: 0.04})

	require.Len(t, pub.msgs, 1)
	assert.Equal(t, "vrassess/events", pub.msgs[0].topic)
	msg := pub.msgs[0].v.(EventMessage)
	assert.Equal(t, KindTransition, msg.Kind)
	assert.Equal(t, "sess-1", msg.Session)
	assert.Equal(t, "P01", msg.Participant)
	assert.Equal(t, "ReachTask", msg.Task)
	assert.Equal(t, t0, msg.At)
	require.NotNil(t, msg.Transition)
	assert.Equal(t, 12, msg.Transition.Trial)
	assert.Nil(t, msg.Phase)
}

func TestBridgePhaseAndProgress(t *testing.T) {
	pub := &fakePublisher{}
	b := NewBridge(pub, "ev", "prog", zap.NewNop())
	b.SetTask("sess-2", "P02", "TestofSkew")

	b.Phase(timed.PhaseChange{Task: "TestofSkew", From: "Both", To: "BothActive", Index: 1, Total: 10, At: t0})
	b.Progress(Progress{Trial: 0, State: "BothActive", At: t0})

	require.Len(t, pub.msgs, 2)
	phase := pub.msgs[0].v.(EventMessage)
	assert.Equal(t, KindPhase, phase.Kind)
	assert.Equal(t, "BothActive", phase.Phase.To)

	assert.Equal(t, "prog", pub.msgs[1].topic)
	p := pub.msgs[1].v.(Progress)
	assert.Equal(t, "sess-2", p.Session)
	assert.Equal(t, "TestofSkew", p.Task)
}

func TestBridgePublishErrorIsLogged(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	b := NewBridge(&fakePublisher{err: errors.New("broker gone")}, "ev", "prog", zap.New(core))

	b.Battery("task started", t0)

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "telemetry publish failed", logs.All()[0].Message)
}

func TestBridgeSkipsEmptyTopic(t *testing.T) {
	pub := &fakePublisher{}
	b := NewBridge(pub, "", "", zap.NewNop())
	b.Battery("x", t0)
	b.Progress(Progress{})
	assert.Empty(t, pub.msgs)
}

func TestMetrics(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.AppendFailed("HeadPosition")
	m.AppendFailed("HeadPosition")
	m.Transition(sequencer.TransitionEvent{From: sequencer.PracticeReach, To: sequencer.PracticeReset, Trial: 3, Error: 0.03})
	m.Transition(sequencer.TransitionEvent{From: sequencer.PracticeReset, To: sequencer.PracticeReach, Trial: 4})
	m.PhaseChanged("HeadStability")
	m.FixedTicks.Add(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.AppendErrors.WithLabelValues("HeadPosition")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Transitions.WithLabelValues("PracticeReach", "PracticeReset")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.TrialIndex))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PhaseChanges.WithLabelValues("HeadStability")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.FixedTicks))
	assert.Equal(t, 1, testutil.CollectAndCount(m.ReachError))
}

func TestMetricsRegisterTwicePanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics(reg)
	assert.Panics(t, func() { NewMetrics(reg) })
}

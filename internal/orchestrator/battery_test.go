package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/vr_assess/internal/scheduler"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func TestBatteryHoldsBetweenTasks(t *testing.T) {
	q := scheduler.New()
	b := New([]string{"HeadStability", "TestofNystagmus", "TestofSkew"}, DefaultHold, q, nil)
	var started []string
	var doneAt time.Time
	b.OnStart = func(task string, _ int, _ time.Time) { started = append(started, task) }
	b.OnDone = func(now time.Time) { doneAt = now }

	assert.ErrorIs(t, b.CompleteCurrent(t0), ErrNotStarted)
	require.NoError(t, b.Start(t0))
	cur, ok := b.Current()
	require.True(t, ok)
	assert.Equal(t, "HeadStability", cur)

	require.NoError(t, b.CompleteCurrent(t0))
	assert.ErrorIs(t, b.CompleteCurrent(t0), ErrHolding)
	assert.True(t, b.Progress().Holding)

	q.Drain(t0.Add(2999 * time.Millisecond))
	cur, _ = b.Current()
	assert.Equal(t, "HeadStability", cur)
	q.Drain(t0.Add(3 * time.Second))
	cur, _ = b.Current()
	assert.Equal(t, "TestofNystagmus", cur)

	now := t0.Add(10 * time.Second)
	require.NoError(t, b.CompleteCurrent(now))
	q.Drain(now.Add(DefaultHold))
	now = now.Add(time.Minute)
	require.NoError(t, b.CompleteCurrent(now))
	q.Drain(now.Add(DefaultHold))

	assert.True(t, b.Done())
	assert.Equal(t, now.Add(DefaultHold), doneAt)
	assert.Equal(t, []string{"HeadStability", "TestofNystagmus", "TestofSkew"}, started)
	assert.ErrorIs(t, b.CompleteCurrent(now), ErrDone)
	_, ok = b.Current()
	assert.False(t, ok)
	assert.Equal(t, Progress{Index: 2, Total: 3, Task: "TestofSkew", Done: true}, b.Progress())
}

func TestBatteryStopCancelsHold(t *testing.T) {
	q := scheduler.New()
	b := New([]string{"a", "b"}, DefaultHold, q, nil)
	require.NoError(t, b.Start(t0))
	require.NoError(t, b.CompleteCurrent(t0))
	b.Stop()
	q.Drain(t0.Add(time.Hour))
	cur, _ := b.Current()
	assert.Equal(t, "a", cur)
	assert.False(t, b.Holding())
}

func TestEmptyBattery(t *testing.T) {
	b := New(nil, DefaultHold, scheduler.New(), nil)
	require.NoError(t, b.Start(t0))
	assert.True(t, b.Done())
	assert.Equal(t, Progress{Done: true}, b.Progress())
}

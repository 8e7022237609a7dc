package pose

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/relabs-tech/vr_assess/internal/clock"
	"github.com/relabs-tech/vr_assess/internal/orientation"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var t0 = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func TestHandedness(t *testing.T) {
	assert.Equal(t, Right, Left.Opposite())
	assert.Equal(t, Left, Right.Opposite())
	assert.True(t, Left.Valid())
	assert.False(t, Handedness("left").Valid())
}

func TestFingertip(t *testing.T) {
	tip := orientation.Vec3{X: 0.3, Y: 1.2, Z: 0.5}
	s := Snapshot{
		RightHand: Hand{Position: orientation.Vec3{Y: 1}, IndexTip: &tip, Tracked: true},
		LeftHand:  Hand{Position: orientation.Vec3{Y: 1}, Forward: orientation.Vec3{Z: 2}, Tracked: true},
	}

	got, ok := s.Fingertip(Right)
	require.True(t, ok)
	assert.Equal(t, tip, got)

	// No index joint: estimate in front of the hand root.
	got, ok = s.Fingertip(Left)
	require.True(t, ok)
	assert.InDelta(t, FingertipFallbackOffset, got.Z, 1e-12)

	s.LeftHand.Tracked = false
	_, ok = s.Fingertip(Left)
	assert.False(t, ok)
}

func TestWithBasisKeepsReportedVectors(t *testing.T) {
	s := Snapshot{Head: Head{Rotation: orientation.Euler{Y: 90}}}.WithBasis()
	assert.InDelta(t, 1.0, s.Head.Forward.X, 1e-9)

	custom := orientation.Vec3{X: 0.6, Z: 0.8}
	s = Snapshot{Head: Head{Rotation: orientation.Euler{Y: 90}, Forward: custom}}.WithBasis()
	assert.Equal(t, custom, s.Head.Forward)
}

func TestMockProviderRawAngles(t *testing.T) {
	clk := clock.NewManual(t0)
	p := NewMockProvider(clk)
	for i := 0; i < 200; i++ {
		s, err := p.Next()
		require.NoError(t, err)
		assert.Equal(t, clk.Now(), s.Time)
		r := s.Head.Rotation
		assert.True(t, r.X >= 0 && r.X < 360, "raw angles stay in [0,360): %v", r)
		assert.InDelta(t, 1.0, s.Head.Forward.Len(), 1e-9)
		clk.Advance(20 * time.Millisecond)
	}
}

func TestMQTTProvider(t *testing.T) {
	clk := clock.NewManual(t0)
	p := NewMQTTProvider(clk, 200*time.Millisecond, nil)

	_, err := p.Next()
	assert.ErrorIs(t, err, ErrTrackingLost)

	payload, err := json.Marshal(Snapshot{Head: Head{Position: orientation.Vec3{Y: 1.6}, Tracked: true}})
	require.NoError(t, err)
	require.NoError(t, p.HandleMessage(payload))

	s, err := p.Next()
	require.NoError(t, err)
	assert.Equal(t, 1.6, s.Head.Position.Y)
	assert.Equal(t, t0, s.Time, "missing timestamps take the receive time")
	assert.InDelta(t, 1.0, s.Head.Forward.Z, 1e-9)

	clk.Advance(150 * time.Millisecond)
	_, err = p.Next()
	assert.NoError(t, err)

	clk.Advance(100 * time.Millisecond)
	s, err = p.Next()
	assert.ErrorIs(t, err, ErrTrackingLost)
	assert.Equal(t, 1.6, s.Head.Position.Y, "stale snapshot is still returned for logging")

	assert.Error(t, p.HandleMessage([]byte("{not json")))
	assert.Equal(t, 1, p.Malformed())
}

func TestMQTTProviderLogsMalformedPayloads(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	p := NewMQTTProvider(clock.NewManual(t0), 0, zap.New(core))

	for range 3 {
		assert.Error(t, p.HandleMessage([]byte("{not json")))
	}
	assert.Equal(t, 3, p.Malformed())

	entries := logs.FilterMessage("malformed pose payload").All()
	require.Len(t, entries, 1, "repeated failures are rate limited")
	fields := entries[0].ContextMap()
	assert.Equal(t, int64(9), fields["bytes"])
	assert.Contains(t, fields["error"], "invalid character")

	_, err := p.Next()
	assert.ErrorIs(t, err, ErrTrackingLost)
}

func TestMQTTProviderConcurrentUpdates(t *testing.T) {
	p := NewMQTTProvider(clock.NewManual(t0), 0, nil)
	payload, err := json.Marshal(Snapshot{Head: Head{Tracked: true}})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = p.HandleMessage(payload)
				_, _ = p.Next()
			}
		}()
	}
	wg.Wait()

	s, err := p.Next()
	require.NoError(t, err)
	assert.True(t, s.Head.Tracked)
}

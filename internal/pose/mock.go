// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package pose

import (
	"math"
	"time"

	"github.com/relabs-tech/vr_assess/internal/clock"
	"github.com/relabs-tech/vr_assess/internal/orientation"
)

type mockProvider struct {
	clk   clock.Clock
	start time.Time
}

// NewMockProvider creates a provider that generates smooth changing head sway
// and a slow horizontal eye sweep. Used by the timed tasks in demo runs.
func NewMockProvider(clk clock.Clock) Provider {
	return &mockProvider{clk: clk, start: clk.Now()}
}

func (m *mockProvider) Next() (Snapshot, error) {
	now := m.clk.Now()
	elapsed := now.Sub(m.start).Seconds()

	// Raw runtime angles live in [0,360), so small negative sways wrap.
	headRot := orientation.Euler{
		X: wrap360(2 * math.Sin(elapsed*0.9)),
		Y: wrap360(3 * math.Cos(elapsed*0.7)),
		Z: wrap360(1 * math.Sin(elapsed*1.3)),
	}
	eyeYaw := wrap360(15 * math.Sin(elapsed*2*math.Pi*0.25))

	snap := Snapshot{
		Time: now,
		Head: Head{
			Position: orientation.Vec3{
				X: 0.01 * math.Sin(elapsed),
				Y: 1.6 + 0.005*math.Cos(elapsed*0.5),
				Z: 0.01 * math.Cos(elapsed*0.8),
			},
			Rotation: headRot,
			Tracked:  true,
		},
		LeftEye:   Eye{Rotation: orientation.Euler{Y: eyeYaw}, Confidence: 0.9, Enabled: true},
		RightEye:  Eye{Rotation: orientation.Euler{Y: eyeYaw}, Confidence: 0.9, Enabled: true},
		LeftHand:  Hand{Position: orientation.Vec3{X: -0.2, Y: 1.0, Z: 0.1}, Forward: orientation.Forward, Tracked: true},
		RightHand: Hand{Position: orientation.Vec3{X: 0.2, Y: 1.0, Z: 0.1}, Forward: orientation.Forward, Tracked: true},
	}
	return snap.WithBasis(), nil
}

func wrap360(a float64) float64 {
	a = math.Mod(a, 360)
	if a < 0 {
		a += 360
	}
	return a
}

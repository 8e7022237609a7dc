// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package reach

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/relabs-tech/vr_assess/internal/orientation"
	"github.com/relabs-tech/vr_assess/internal/pose"
)

// AnchorMode selects how the reach target is placed.
type AnchorMode int

const (
	// ShoulderReach aims from the estimated shoulder towards a point ahead of
	// the head and scales by the calibrated reach.
	ShoulderReach AnchorMode = iota
	// HeadForward places the target straight ahead of the head.
	HeadForward
	// NoseAnchored is HeadForward measured from a point just below and in
	// front of the eyes.
	NoseAnchored
)

var anchorNames = map[AnchorMode]string{
	ShoulderReach: "shoulder_reach",
	HeadForward:   "head_forward",
	NoseAnchored:  "nose_anchored",
}

func (m AnchorMode) String() string {
	if s, ok := anchorNames[m]; ok {
		return s
	}
	return fmt.Sprintf("AnchorMode(%d)", int(m))
}

func ParseAnchorMode(s string) (AnchorMode, error) {
	for m, name := range anchorNames {
		if strings.EqualFold(s, name) {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown anchor mode %q", s)
}

type SpawnConfig struct {
	Anchor     AnchorMode
	Multiplier float64 // fraction of calibrated reach
	Offset     float64 // metres subtracted after scaling
	JitterX    float64 // half-width of the lateral jitter rectangle
	JitterY    float64 // half-height of the vertical jitter rectangle
	// AimDistance is how far ahead of the head the ShoulderReach aim point sits.
	AimDistance float64
	// Home target placement relative to the calibration origin.
	HomeSetback float64
	HomeDrop    float64
	// Nose point relative to the head, for NoseAnchored.
	NoseForward float64
	NoseDrop    float64
}

func DefaultSpawnConfig() SpawnConfig {
	return SpawnConfig{
		Anchor:      ShoulderReach,
		Multiplier:  0.95,
		Offset:      0,
		JitterX:     0.2,
		JitterY:     0.1,
		AimDistance: 1.0,
		HomeSetback: 0.2,
		HomeDrop:    0.30,
		NoseForward: 0.1,
		NoseDrop:    0.05,
	}
}

// Target is a placed reach or home target. Targets are values: a new one is
// spawned for every trial rather than moving an existing one.
type Target struct {
	ID        int              `json:"id"`
	Position  orientation.Vec3 `json:"position"`
	Home      bool             `json:"home"`
	SpawnedAt time.Time        `json:"spawned_at"`
}

type Spawner struct {
	cfg    SpawnConfig
	geom   Geometry
	rng    *rand.Rand
	nextID int
}

func NewSpawner(cfg SpawnConfig, geom Geometry, rng *rand.Rand) *Spawner {
	return &Spawner{cfg: cfg, geom: geom, rng: rng}
}

func (s *Spawner) Config() SpawnConfig { return s.cfg }

func (s *Spawner) uniform(half float64) float64 {
	if half == 0 {
		return 0
	}
	return (s.rng.Float64()*2 - 1) * half
}

// Spawn places a new reach target for hand using the current head pose.
func (s *Spawner) Spawn(snap pose.Snapshot, cal Calibration, hand pose.Handedness) Target {
	head := snap.Head
	dist := cal.ReachDistance*s.cfg.Multiplier - s.cfg.Offset
	x := s.uniform(s.cfg.JitterX)
	y := s.uniform(s.cfg.JitterY)

	var pos orientation.Vec3
	switch s.cfg.Anchor {
	case HeadForward:
		pos = head.Position.
			Add(head.Forward.Scale(dist)).
			Add(head.Right.Scale(x)).
			Add(head.Up.Scale(y))
	case NoseAnchored:
		nose := head.Position.
			Add(head.Forward.Scale(s.cfg.NoseForward)).
			Add(head.Up.Scale(-s.cfg.NoseDrop))
		pos = nose.
			Add(head.Forward.Scale(dist)).
			Add(head.Right.Scale(x)).
			Add(head.Up.Scale(y))
	default:
		shoulder := EstimateShoulder(head.Position, head.Right, hand, s.geom)
		aim := head.Position.Add(head.Forward.Scale(s.cfg.AimDistance))
		dir := aim.Sub(shoulder).Normalized()
		lateral, vertical := orthoBasis(dir, head.Right)
		pos = shoulder.
			Add(dir.Scale(dist)).
			Add(lateral.Scale(x)).
			Add(vertical.Scale(y))
	}

	s.nextID++
	return Target{ID: s.nextID, Position: pos, SpawnedAt: snap.Time}
}

// Home places the reset target below and in front of the calibration origin.
func (s *Spawner) Home(cal Calibration, at time.Time) Target {
	s.nextID++
	return Target{
		ID:        s.nextID,
		Position:  HomePosition(cal, s.cfg.HomeSetback, s.cfg.HomeDrop),
		Home:      true,
		SpawnedAt: at,
	}
}

// HomePosition is origin + forward·(reach − setback) + down·drop, using the
// head pose frozen at calibration.
func HomePosition(cal Calibration, setback, drop float64) orientation.Vec3 {
	fwd := cal.OriginForward
	if fwd == orientation.Zero {
		fwd = orientation.Forward
	}
	return cal.Origin.
		Add(fwd.Scale(cal.ReachDistance - setback)).
		Add(orientation.Down.Scale(drop))
}

// orthoBasis returns lateral and vertical unit vectors orthogonal to dir.
// fallback is used when dir is parallel to world up.
func orthoBasis(dir, fallback orientation.Vec3) (lateral, vertical orientation.Vec3) {
	lateral = orientation.Up.Cross(dir).Normalized()
	if lateral == orientation.Zero {
		lateral = fallback.Normalized()
	}
	vertical = dir.Cross(lateral).Normalized()
	return lateral, vertical
}

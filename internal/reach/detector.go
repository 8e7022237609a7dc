// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package reach

import (
	"fmt"
	"strings"

	"github.com/relabs-tech/vr_assess/internal/orientation"
)

// HitMode selects how strict the reach hit test is.
type HitMode int

const (
	// DistanceExtensionAndDirection requires the effector near the target,
	// the arm extended and the approach inside a cone around the target
	// direction.
	DistanceExtensionAndDirection HitMode = iota
	DistanceAndExtension
	DistanceOnly
	// ForwardCrossing only checks that the effector passed the target plane
	// along the calibration forward axis. Deprecated: kept to reproduce early
	// pilot sessions.
	ForwardCrossing
)

var hitModeNames = map[HitMode]string{
	DistanceExtensionAndDirection: "distance_extension_direction",
	DistanceAndExtension:          "distance_extension",
	DistanceOnly:                  "distance",
	ForwardCrossing:               "forward_crossing",
}

func (m HitMode) String() string {
	if s, ok := hitModeNames[m]; ok {
		return s
	}
	return fmt.Sprintf("HitMode(%d)", int(m))
}

func ParseHitMode(s string) (HitMode, error) {
	for m, name := range hitModeNames {
		if strings.EqualFold(s, name) {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown hit mode %q", s)
}

type DetectorConfig struct {
	Mode               HitMode
	HitRadius          float64
	MinExtensionRatio  float64
	MinDirectionCosine float64
	ReturnRadius       float64
	// Inclusive makes every threshold comparison accept equality.
	Inclusive bool
}

func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		Mode:               DistanceExtensionAndDirection,
		HitRadius:          0.1,
		MinExtensionRatio:  0.9,
		MinDirectionCosine: 0.7,
		ReturnRadius:       0.15,
		Inclusive:          true,
	}
}

// HitResult reports each condition separately so rejected reaches can be
// diagnosed from the log.
type HitResult struct {
	Hit          bool
	Distance     float64
	Extension    float64
	Cosine       float64
	WithinRadius bool
	Extended     bool
	Aligned      bool
	Crossed      bool
}

type Detector struct {
	cfg DetectorConfig
}

func NewDetector(cfg DetectorConfig) *Detector {
	return &Detector{cfg: cfg}
}

func (d *Detector) Config() DetectorConfig { return d.cfg }

func (d *Detector) atMost(v, limit float64) bool {
	if d.cfg.Inclusive {
		return v <= limit
	}
	return v < limit
}

func (d *Detector) atLeast(v, limit float64) bool {
	if d.cfg.Inclusive {
		return v >= limit
	}
	return v > limit
}

// Hit evaluates the reach conditions for the effector against target.
func (d *Detector) Hit(effector orientation.Vec3, target Target, shoulder orientation.Vec3, cal Calibration) HitResult {
	r := HitResult{
		Distance:  effector.Dist(target.Position),
		Extension: effector.Dist(shoulder),
		Cosine:    orientation.CosineSimilarity(target.Position.Sub(shoulder), effector.Sub(shoulder)),
	}
	r.WithinRadius = d.atMost(r.Distance, d.cfg.HitRadius)
	r.Extended = d.atLeast(r.Extension, cal.ReachDistance*d.cfg.MinExtensionRatio)
	r.Aligned = d.atLeast(r.Cosine, d.cfg.MinDirectionCosine)

	fwd := cal.OriginForward
	if fwd == orientation.Zero {
		fwd = orientation.Forward
	}
	r.Crossed = effector.Sub(target.Position).Dot(fwd) > 0

	switch d.cfg.Mode {
	case ForwardCrossing:
		r.Hit = r.Crossed
	case DistanceOnly:
		r.Hit = r.WithinRadius
	case DistanceAndExtension:
		r.Hit = r.WithinRadius && r.Extended
	default:
		r.Hit = r.WithinRadius && r.Extended && r.Aligned
	}
	return r
}

// Returned reports whether the effector is back within the return radius of
// the home target. Cooldown gating is the caller's job.
func (d *Detector) Returned(effector orientation.Vec3, home Target) bool {
	return d.atMost(effector.Dist(home.Position), d.cfg.ReturnRadius)
}

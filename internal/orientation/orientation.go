// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package orientation

import (
	"fmt"
	"math"
)

// Vec3 is a position or direction in tracking space (metres, Y up, Z forward).
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Euler holds rotation angles in degrees, as reported by the headset runtime.
// Raw values are in [0,360); see Normalized for the signed form we log.
type Euler struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

var (
	Zero    = Vec3{}
	Up      = Vec3{Y: 1}
	Down    = Vec3{Y: -1}
	Forward = Vec3{Z: 1}
	Right   = Vec3{X: 1}
)

func (v Vec3) Add(o Vec3) Vec3       { return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z} }
func (v Vec3) Sub(o Vec3) Vec3       { return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z} }
func (v Vec3) Scale(s float64) Vec3  { return Vec3{v.X * s, v.Y * s, v.Z * s} }
func (v Vec3) Dot(o Vec3) float64    { return v.X*o.X + v.Y*o.Y + v.Z*o.Z }
func (v Vec3) Len() float64          { return math.Sqrt(v.Dot(v)) }
func (v Vec3) Dist(o Vec3) float64   { return v.Sub(o).Len() }
func (v Vec3) Components() []float64 { return []float64{v.X, v.Y, v.Z} }

func (v Vec3) Cross(o Vec3) Vec3 {
	return Vec3{
		X: v.Y*o.Z - v.Z*o.Y,
		Y: v.Z*o.X - v.X*o.Z,
		Z: v.X*o.Y - v.Y*o.X,
	}
}

// Normalized returns the unit vector, or Zero for a zero-length input.
func (v Vec3) Normalized() Vec3 {
	l := v.Len()
	if l == 0 {
		return Zero
	}
	return v.Scale(1 / l)
}

func (v Vec3) String() string {
	return fmt.Sprintf("(%.3f,%.3f,%.3f)", v.X, v.Y, v.Z)
}

// CosineSimilarity returns cos of the angle between a and b, or 0 when either
// vector has no length.
func CosineSimilarity(a, b Vec3) float64 {
	la, lb := a.Len(), b.Len()
	if la == 0 || lb == 0 {
		return 0
	}
	return a.Dot(b) / (la * lb)
}

// NormalizeAngle maps an angle in degrees to the signed range [-180,180].
// The input is first wrapped into [0,360); values above 180 then become a-360.
//
//	NormalizeAngle(359) = -1
//	NormalizeAngle(180) = 180
//	NormalizeAngle(181) = -179
func NormalizeAngle(a float64) float64 {
	a = math.Mod(a, 360)
	if a < 0 {
		a += 360
	}
	if a > 180 {
		return a - 360
	}
	return a
}

// Normalized applies NormalizeAngle to every axis.
func (e Euler) Normalized() Euler {
	return Euler{NormalizeAngle(e.X), NormalizeAngle(e.Y), NormalizeAngle(e.Z)}
}

func (e Euler) Components() []float64 { return []float64{e.X, e.Y, e.Z} }

const degToRad = math.Pi / 180.0

// Basis returns the forward, right and up unit vectors for a rotation given as
// Euler degrees, using the headset runtime convention: left-handed, Y up, Z
// forward, applied yaw (Y) then pitch (X) then roll (Z). Positive pitch looks down.
func Basis(e Euler) (forward, right, up Vec3) {
	sx, cx := math.Sincos(e.X * degToRad)
	sy, cy := math.Sincos(e.Y * degToRad)
	sz, cz := math.Sincos(e.Z * degToRad)

	forward = Vec3{X: sy * cx, Y: -sx, Z: cy * cx}
	right = Vec3{
		X: cy*cz + sy*sx*sz,
		Y: cx * sz,
		Z: -sy*cz + cy*sx*sz,
	}
	up = Vec3{
		X: -cy*sz + sy*sx*cz,
		Y: cx * cz,
		Z: sy*sz + cy*sx*cz,
	}
	return forward, right, up
}

// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sequencer

import "math/rand/v2"

// GenerateVisibility returns n flags, ceil(n/2) true and floor(n/2) false,
// in a uniformly random order. The shuffle is Fisher–Yates from the last
// index down to 1 with k drawn uniformly from [0,i].
func GenerateVisibility(n int, rng *rand.Rand) []bool {
	if n <= 0 {
		return nil
	}
	visible := (n + 1) / 2
	list := make([]bool, n)
	for i := range visible {
		list[i] = true
	}
	for i := n - 1; i > 0; i-- {
		k := rng.IntN(i + 1)
		list[i], list[k] = list[k], list[i]
	}
	return list
}

// NewRand returns the generator used for counterbalancing. A zero seed draws
// one from the runtime, which is then reported so the run can be replayed.
func NewRand(seed uint64) (*rand.Rand, uint64) {
	if seed == 0 {
		seed = rand.Uint64()
	}
	return rand.New(rand.NewPCG(seed, seed^0x5851f42d4c957f2d)), seed
}

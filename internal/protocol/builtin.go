// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package protocol

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

const (
	HeadStabilityName = "HeadStability"
	SkewName          = "TestofSkew"
	NystagmusName     = "TestofNystagmus"
	BucketName        = "BucketTest"
)

// HeadStability shows three backgrounds for 10 s each.
func HeadStability() Protocol {
	return Protocol{
		Name:    HeadStabilityName,
		Task:    HeadStabilityName,
		Streams: StreamsHeadAndEyes,
		Phases: []Phase{
			{Label: "solid", Duration: 10 * time.Second},
			{Label: "passthrough", Duration: 10 * time.Second},
			{Label: "skybox", Duration: 10 * time.Second},
		},
		FinalTag: "complete",
	}
}

// TestOfSkew alternates which fixation object is shown. The
// left/right block runs twice.
func TestOfSkew() Protocol {
	return Protocol{
		Name:    SkewName,
		Task:    SkewName,
		Streams: StreamsHeadAndEyes,
		Phases: []Phase{
			{Label: "Both", Duration: time.Second},
			{Label: "BothActive", Duration: 5 * time.Second},
		},
		Loop: &Loop{
			Count: 2,
			Phases: []Phase{
				{Label: "LeftActive", Duration: 5 * time.Second},
				{Label: "BothActive", Duration: 5 * time.Second},
				{Label: "RightActive", Duration: 5 * time.Second},
				{Label: "BothActive", Duration: 5 * time.Second},
			},
		},
		FinalTag: "None",
	}
}

// TestOfNystagmus moves the fixation target left and right for three cycles.
func TestOfNystagmus() Protocol {
	return Protocol{
		Name:    NystagmusName,
		Task:    NystagmusName,
		Streams: StreamsHeadAndEyes,
		Loop: &Loop{
			Count: 3,
			Phases: []Phase{
				{Label: "Left", Duration: 5 * time.Second},
				{Label: "Right", Duration: 5 * time.Second},
			},
		},
		FinalTag: "complete",
	}
}

// BucketTest records the head and the folded bucket angle until stopped.
func BucketTest() Protocol {
	return Protocol{
		Name:      BucketName,
		Task:      BucketName,
		Streams:   StreamsHead,
		Phases:    []Phase{{Label: "Open"}},
		OpenEnded: true,
		Bucket:    true,
	}
}

var builtins = map[string]func() Protocol{
	strings.ToLower(HeadStabilityName): HeadStability,
	strings.ToLower(SkewName):          TestOfSkew,
	strings.ToLower(NystagmusName):     TestOfNystagmus,
	strings.ToLower(BucketName):        BucketTest,
}

// Builtin looks a protocol up by name, case-insensitively.
func Builtin(name string) (Protocol, error) {
	if f, ok := builtins[strings.ToLower(name)]; ok {
		return f(), nil
	}
	return Protocol{}, fmt.Errorf("protocol: no built-in protocol %q (have %s)", name, strings.Join(BuiltinNames(), ", "))
}

func BuiltinNames() []string {
	names := []string{HeadStabilityName, SkewName, NystagmusName, BucketName}
	sort.Strings(names)
	return names
}

// Resolve returns the built-in protocol called nameOrPath, or loads it as a
// YAML file.
func Resolve(nameOrPath string) (Protocol, error) {
	if p, err := Builtin(nameOrPath); err == nil {
		return p, nil
	}
	return Load(nameOrPath)
}

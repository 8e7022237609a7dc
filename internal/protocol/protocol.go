// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package protocol describes the timed tasks of the battery as a list of
// labelled phases. Protocols can be loaded from YAML; the standard ones are
// built in.
package protocol

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// Stream sets a timed task can record.
const (
	StreamsHeadAndEyes = "head_eyes"
	StreamsHead        = "head"
)

type Phase struct {
	Label    string        `yaml:"label"`
	Duration time.Duration `yaml:"duration"`
}

type Loop struct {
	Count  int     `yaml:"count"`
	Phases []Phase `yaml:"phases"`
}

type Protocol struct {
	Name string `yaml:"name"`
	// Task is the directory name the session writes into.
	Task    string  `yaml:"task"`
	Streams string  `yaml:"streams"`
	Phases  []Phase `yaml:"phases"`
	Loop    *Loop   `yaml:"loop,omitempty"`
	Tail    []Phase `yaml:"tail,omitempty"`
	// FinalTag is written into rows after the last phase ends.
	FinalTag string `yaml:"final_tag,omitempty"`
	// OpenEnded protocols stay in their last phase until the operator stops them.
	OpenEnded bool `yaml:"open_ended,omitempty"`
	// Bucket adds the folded bucket angle stream.
	Bucket bool `yaml:"bucket,omitempty"`
}

// Expand flattens the protocol into the phase order it runs in.
func (p Protocol) Expand() []Phase {
	out := slices.Clone(p.Phases)
	if p.Loop != nil {
		for range p.Loop.Count {
			out = append(out, p.Loop.Phases...)
		}
	}
	return append(out, p.Tail...)
}

// Duration is the total scheduled time, or 0 for open-ended protocols.
func (p Protocol) Duration() time.Duration {
	if p.OpenEnded {
		return 0
	}
	var d time.Duration
	for _, ph := range p.Expand() {
		d += ph.Duration
	}
	return d
}

func (p Protocol) Validate() error {
	var errs []error
	if p.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}
	phases := p.Expand()
	if len(phases) == 0 {
		errs = append(errs, errors.New("at least one phase is required"))
	}
	for i, ph := range phases {
		if ph.Label == "" {
			errs = append(errs, fmt.Errorf("phase %d: label is required", i))
		}
		last := i == len(phases)-1
		if ph.Duration <= 0 && !(last && p.OpenEnded) {
			errs = append(errs, fmt.Errorf("phase %d (%s): duration must be positive", i, ph.Label))
		}
	}
	if p.Loop != nil && p.Loop.Count < 0 {
		errs = append(errs, errors.New("loop count must not be negative"))
	}
	switch p.Streams {
	case "", StreamsHeadAndEyes, StreamsHead:
	default:
		errs = append(errs, fmt.Errorf("unknown stream set %q", p.Streams))
	}
	if len(errs) > 0 {
		return fmt.Errorf("protocol %q: %w", p.Name, errors.Join(errs...))
	}
	return nil
}

// Parse decodes and validates a YAML protocol.
func Parse(data []byte) (Protocol, error) {
	var p Protocol
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Protocol{}, fmt.Errorf("protocol: parse: %w", err)
	}
	if p.Task == "" {
		p.Task = p.Name
	}
	if err := p.Validate(); err != nil {
		return Protocol{}, err
	}
	return p, nil
}

func Load(path string) (Protocol, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Protocol{}, fmt.Errorf("protocol: read %s: %w", path, err)
	}
	return Parse(data)
}

// Marshal renders p as YAML, for writing out a built-in as a starting point.
func Marshal(p Protocol) ([]byte, error) {
	return yaml.Marshal(p)
}

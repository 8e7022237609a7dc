// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package recorder appends synchronized, timestamped rows to a set of named
// text streams, one row per stream per fixed tick.
package recorder

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/relabs-tech/vr_assess/internal/pose"
)

// RowTimeLayout is the per-tick stream timestamp. Every stream written in one
// tick carries the same string.
const RowTimeLayout = "15:04:05.000"

// Sample is what the recorder sees on one fixed tick.
type Sample struct {
	Time time.Time
	Pose pose.Snapshot
	// Tag is the trial phase or active-object label for tagged streams.
	Tag string
	// Hand is the active effector for the trajectory stream.
	Hand pose.Handedness
	// Values carries task specific scalars such as the bucket angle.
	Values map[string]float64
}

// Observer is told about append failures; telemetry.Metrics implements it.
type Observer interface {
	AppendFailed(stream string)
}

type Options struct {
	Logger   *zap.Logger
	Observer Observer
	// FailureLogEvery limits how often append failures reach the log.
	FailureLogEvery time.Duration
}

// Recorder owns the stream files of one session directory. A Recorder with an
// empty directory is disabled: every call succeeds and nothing is written.
type Recorder struct {
	dir     string
	streams []Stream
	log     *zap.Logger
	obs     Observer
	limiter *rate.Limiter

	suppressed atomic.Int64
	rows       atomic.Int64
}

func New(dir string, streams []Stream, opts Options) *Recorder {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	every := opts.FailureLogEvery
	if every <= 0 {
		every = 5 * time.Second
	}
	return &Recorder{
		dir:     dir,
		streams: slices.Clone(streams),
		log:     opts.Logger.Named("recorder"),
		obs:     opts.Observer,
		limiter: rate.NewLimiter(rate.Every(every), 1),
	}
}

func (r *Recorder) Enabled() bool { return r.dir != "" }

func (r *Recorder) Dir() string { return r.dir }

// Path returns the file backing a stream name.
func (r *Recorder) Path(name string) string {
	return filepath.Join(r.dir, name+".txt")
}

// Rows is the number of stream rows written so far.
func (r *Recorder) Rows() int64 { return r.rows.Load() }

// TickError lists the streams that failed to append in one tick.
type TickError struct {
	Failed map[string]error
}

func (e *TickError) Error() string {
	return fmt.Sprintf("recorder: %d stream(s) failed: %s", len(e.Failed), strings.Join(e.Streams(), ", "))
}

func (e *TickError) Streams() []string {
	names := make([]string, 0, len(e.Failed))
	for n := range e.Failed {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

func (e *TickError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failed))
	for _, n := range e.Streams() {
		errs = append(errs, e.Failed[n])
	}
	return errs
}

// Tick formats the shared timestamp once and appends one row to every stream
// whose extractor has a value this tick. A failing stream never stops the
// others; failures come back as a *TickError.
func (r *Recorder) Tick(s Sample) error {
	if !r.Enabled() {
		return nil
	}
	ts := s.Time.Format(RowTimeLayout)

	var failed map[string]error
	for _, st := range r.streams {
		vals, ok := st.Extract(s)
		if !ok {
			continue
		}
		line := formatRow(ts, vals, st.Precision, st.Tagged, s.Tag)
		if err := appendLine(r.Path(st.Name), line); err != nil {
			if failed == nil {
				failed = make(map[string]error)
			}
			failed[st.Name] = err
			r.appendFailed(st.Name, err)
			continue
		}
		r.rows.Add(1)
	}
	if failed != nil {
		return &TickError{Failed: failed}
	}
	return nil
}

func (r *Recorder) appendFailed(stream string, err error) {
	if r.obs != nil {
		r.obs.AppendFailed(stream)
	}
	if !r.limiter.Allow() {
		r.suppressed.Add(1)
		return
	}
	r.log.Warn("stream append failed",
		zap.String("stream", stream),
		zap.Error(err),
		zap.Int64("suppressed", r.suppressed.Swap(0)),
	)
}

func formatRow(ts string, vals []float64, prec int, tagged bool, tag string) string {
	var b strings.Builder
	b.WriteString(ts)
	for _, v := range vals {
		b.WriteString(", ")
		b.WriteString(strconv.FormatFloat(v, 'f', prec, 64))
	}
	if tagged {
		b.WriteString(", ")
		b.WriteString(tag)
	}
	b.WriteByte('\n')
	return b.String()
}

// appendLine opens, writes and closes the file on every call so a crash never
// loses more than the row being written.
func appendLine(path, line string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	_, werr := f.WriteString(line)
	cerr := f.Close()
	return errors.Join(werr, cerr)
}

// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/relabs-tech/vr_assess/internal/config"
	"github.com/relabs-tech/vr_assess/internal/sequencer"
	"github.com/relabs-tech/vr_assess/internal/session"
)

// consolePrinter writes one line per reach transition.
type consolePrinter struct {
	out io.Writer
}

func (p consolePrinter) Transition(ev sequencer.TransitionEvent) {
	fmt.Fprintf(p.out,
		"[TRIAL %2d] %-13s -> %-13s hand=%-5s visible=%-5t err=%.3fm  (%s)\n",
		ev.Trial, ev.From, ev.To, ev.Hand, ev.Visible, ev.Error, ev.Reason,
	)
}

// RunMockConsole plays a complete reach session with the simulated
// participant on a manual clock and prints every transition to out.
func RunMockConsole(ctx context.Context, cfg *config.Config, log *zap.Logger, out io.Writer) error {
	rt, err := NewRuntime(cfg, log, Options{Offline: true, PoseSource: config.PoseSourceSim})
	if err != nil {
		return err
	}
	defer rt.Close()
	rt.Sink = consolePrinter{out: out}

	res, err := RunReachTask(ctx, rt)
	if err != nil {
		return err
	}
	printSummary(out, res)
	return nil
}

func printSummary(out io.Writer, res Result) {
	for _, s := range res.Sessions {
		success, aborted := 0, 0
		for _, t := range s.Trials() {
			if t.Outcome == session.Success {
				success++
			} else {
				aborted++
			}
		}
		dir := s.Dir
		if !s.Persist {
			dir = "(not saved)"
		}
		fmt.Fprintf(out, "%-16s trials=%d aborted=%d dir=%s\n", s.Task, success, aborted, dir)
	}
	fmt.Fprintf(out, "fixed ticks=%d dropped=%d elapsed=%s complete=%t\n",
		res.FixedTicks, res.Dropped, res.Elapsed.Round(time.Millisecond), res.Completed)
}

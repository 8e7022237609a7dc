// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/relabs-tech/vr_assess/internal/orchestrator"
	"github.com/relabs-tech/vr_assess/internal/pose"
	"github.com/relabs-tech/vr_assess/internal/recorder"
	"github.com/relabs-tech/vr_assess/internal/session"
	"github.com/relabs-tech/vr_assess/internal/telemetry"
	"github.com/relabs-tech/vr_assess/internal/tick"
)

// Result summarises a finished run.
type Result struct {
	Tasks      []string
	Completed  bool
	FixedTicks uint64
	Dropped    uint64
	// Elapsed is measured on the runtime clock, so offline runs report
	// simulated time.
	Elapsed time.Duration
	// Sessions holds the session of every task that was started.
	Sessions []*session.Session
}

// RunBattery runs cfg.BatteryTasks in order inside one participant folder.
func RunBattery(ctx context.Context, rt *Runtime) (Result, error) {
	now := rt.Clock.Now()
	paths := session.PathManager{}
	if rt.Cfg.DataRoot != "" {
		paths = session.NewBatteryPaths(rt.Cfg.DataRoot, rt.Cfg.Participant, now)
	}
	return rt.execute(ctx, rt.Cfg.BatteryTasks, paths, rt.Cfg.TransitionHold)
}

// RunReachTask runs the reach task on its own.
func RunReachTask(ctx context.Context, rt *Runtime) (Result, error) {
	return rt.execute(ctx, []string{ReachTaskName}, session.PathManager{Root: rt.Cfg.DataRoot}, 0)
}

// RunTimedTask runs one timed protocol, given as a built-in name or YAML path.
func RunTimedTask(ctx context.Context, rt *Runtime, nameOrPath string) (Result, error) {
	return rt.execute(ctx, []string{nameOrPath}, session.PathManager{Root: rt.Cfg.DataRoot}, 0)
}

// execute runs tasks through the orchestrator next to the metrics server.
func (rt *Runtime) execute(ctx context.Context, tasks []string, paths session.PathManager, hold time.Duration) (Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	start := rt.Clock.Now()
	run := &taskRun{rt: rt, paths: paths}
	g, gctx := errgroup.WithContext(ctx)

	if rt.offline == nil && rt.Cfg.MetricsAddr != "" {
		srv := &http.Server{
			Addr:              rt.Cfg.MetricsAddr,
			Handler:           promhttp.HandlerFor(rt.Registry, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			rt.Log.Info("metrics listening", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
			defer done()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		defer cancel()
		return run.loop(gctx, tasks, hold)
	})

	err := g.Wait()
	res := Result{
		Tasks:     tasks,
		Completed: run.battery != nil && run.battery.Done(),
		Sessions:  run.sessions,
		Elapsed:   rt.Clock.Now().Sub(start),
	}
	if run.driver != nil {
		res.FixedTicks, res.Dropped = run.driver.FixedTicks(), run.driver.Dropped()
	}
	return res, err
}

// taskRun owns the per-tick pipeline for one orchestrated run.
type taskRun struct {
	rt       *Runtime
	paths    session.PathManager
	battery  *orchestrator.Battery
	driver   *tick.Driver
	current  task
	sessions []*session.Session
	startErr error

	lastProgress time.Time
}

func (r *taskRun) loop(ctx context.Context, tasks []string, hold time.Duration) error {
	rt := r.rt
	r.driver = tick.New(rt.Cfg.SampleRateHz, rt.Cfg.MaxFixedSteps)
	r.driver.FixedUpdate = r.fixed
	r.driver.Update = r.frame
	r.driver.OnDrop = func(steps int) {
		rt.Metrics.DroppedSteps.Add(float64(steps))
		rt.Log.Warn("fixed steps dropped", zap.Int("steps", steps))
	}

	r.battery = orchestrator.New(tasks, hold, rt.Queue, rt.Log)
	r.battery.OnStart = r.startTask
	r.battery.OnDone = func(now time.Time) {
		rt.Bridge.Battery("battery complete", now)
		r.publishProgress(now)
	}

	if err := r.battery.Start(rt.Clock.Now()); err != nil {
		return err
	}
	if r.startErr != nil {
		return r.startErr
	}

	stop := func() bool { return r.battery.Done() || r.startErr != nil }
	var err error
	if rt.offline != nil {
		err = r.runOffline(ctx, stop)
	} else {
		err = r.driver.Run(ctx, rt.Clock, rt.Cfg.FrameRateHz, stop)
	}

	now := rt.Clock.Now()
	if !r.battery.Done() {
		if r.current != nil {
			r.current.stop(now)
		}
		r.battery.Stop()
		if n := rt.Queue.CancelAll(); n > 0 {
			rt.Log.Debug("pending continuations cancelled", zap.Int("count", n))
		}
	}
	if r.startErr != nil {
		return r.startErr
	}
	return err
}

// runOffline steps frames on the manual clock without sleeping.
func (r *taskRun) runOffline(ctx context.Context, stop func() bool) error {
	frame := time.Duration(float64(time.Second) / r.rt.Cfg.FrameRateHz)
	r.driver.Frame(r.rt.offline.Now())
	for !stop() {
		if err := ctx.Err(); err != nil {
			return err
		}
		r.driver.Frame(r.rt.offline.Advance(frame))
	}
	return nil
}

func (r *taskRun) startTask(name string, index int, now time.Time) {
	t, err := r.rt.newTask(name, r.paths, now)
	if err == nil {
		err = t.start(now)
	}
	if err != nil {
		r.startErr = fmt.Errorf("task %d (%s): %w", index+1, name, err)
		return
	}
	r.current = t
	r.rt.goals.set(t.goal)
	if s := sessionOf(t); s != nil {
		r.sessions = append(r.sessions, s)
	}
	r.rt.Bridge.Battery("task started: "+t.name(), now)
}

func sessionOf(t task) *session.Session {
	switch v := t.(type) {
	case *reachTask:
		return v.sess
	case *timedTask:
		return v.sess
	}
	return nil
}

// fixed is one fixed tick: sample, record, drain continuations, evaluate.
func (r *taskRun) fixed(at time.Time) {
	rt := r.rt
	rt.Metrics.FixedTicks.Inc()

	snap, err := rt.Provider.Next()
	tracked := err == nil
	if err != nil {
		if errors.Is(err, pose.ErrTrackingLost) {
			rt.Metrics.TrackingLost.Inc()
		} else {
			rt.Log.Warn("pose provider failed", zap.Error(err))
		}
		snap = pose.Snapshot{}
	}
	snap.Time = at

	cur := r.current
	if cur != nil {
		if err := cur.recorder().Tick(cur.sample(at, snap)); err != nil {
			var te *recorder.TickError
			if !errors.As(err, &te) {
				rt.Log.Warn("recorder tick failed", zap.Error(err))
			}
		}
	}

	rt.Queue.Drain(at)

	// The drain may have started the next task.
	if cur != r.current || cur == nil {
		return
	}
	cur.advance(at, snap, tracked)
	if cur.done() && !r.battery.Holding() && !r.battery.Done() {
		if err := r.battery.CompleteCurrent(at); err != nil {
			rt.Log.Warn("battery did not advance", zap.Error(err))
		}
		r.publishProgress(at)
	}
}

func (r *taskRun) frame(now time.Time, _ time.Duration) {
	if now.Sub(r.lastProgress) < r.rt.Cfg.ProgressInterval {
		return
	}
	r.publishProgress(now)
}

func (r *taskRun) publishProgress(now time.Time) {
	r.lastProgress = now
	var p telemetry.Progress
	if r.current != nil {
		p = r.current.progress(now)
	}
	bp := r.battery.Progress()
	p.TaskIndex, p.TaskTotal = bp.Index, bp.Total
	p.Holding, p.Done = bp.Holding, bp.Done
	p.At = now
	r.rt.Bridge.Progress(p)
}

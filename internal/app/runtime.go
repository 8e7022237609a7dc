// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/relabs-tech/vr_assess/internal/clock"
	"github.com/relabs-tech/vr_assess/internal/config"
	"github.com/relabs-tech/vr_assess/internal/pose"
	"github.com/relabs-tech/vr_assess/internal/scheduler"
	"github.com/relabs-tech/vr_assess/internal/sequencer"
	"github.com/relabs-tech/vr_assess/internal/sim"
	"github.com/relabs-tech/vr_assess/internal/telemetry"
)

// Runtime is everything a task run shares: configuration, time, the pose
// feed and the telemetry outputs.
type Runtime struct {
	Cfg      *config.Config
	Log      *zap.Logger
	Clock    clock.Clock
	Provider pose.Provider
	Queue    *scheduler.Queue
	Bridge   *telemetry.Bridge
	Metrics  *telemetry.Metrics
	Registry *prometheus.Registry
	// Sink receives reach transitions in addition to telemetry, e.g. the
	// terminal printer of the mock console.
	Sink sequencer.EventSink

	// offline is set when frames are stepped on a manual clock as fast as
	// possible instead of waiting on a ticker.
	offline *clock.Manual

	goals   *goalSwitch
	closers []func()
}

// Options selects how a Runtime is built.
type Options struct {
	// Offline runs on a manual clock starting at Start.
	Offline bool
	Start   time.Time
	// PoseSource overrides cfg.PoseSource.
	PoseSource string
}

// NewRuntime connects the configured pose source and publisher. Call Close
// when done.
func NewRuntime(cfg *config.Config, log *zap.Logger, opts Options) (*Runtime, error) {
	if log == nil {
		log = zap.NewNop()
	}
	rt := &Runtime{
		Cfg:      cfg,
		Log:      log,
		Queue:    scheduler.New(),
		Registry: prometheus.NewRegistry(),
		goals:    &goalSwitch{},
	}
	rt.Metrics = telemetry.NewMetrics(rt.Registry)

	if opts.Offline {
		start := opts.Start
		if start.IsZero() {
			start = time.Now()
		}
		rt.offline = clock.NewManual(start)
		rt.Clock = rt.offline
	} else {
		rt.Clock = clock.System
	}

	var pub telemetry.Publisher = telemetry.Nop{}
	if cfg.MQTTEnabled && !opts.Offline {
		p, err := telemetry.NewMQTTPublisher(cfg.MQTTBroker, cfg.MQTTClientIDAssess, log.Named("mqtt"))
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, p.Close)
		pub = p
	}
	rt.Bridge = telemetry.NewBridge(pub, cfg.TopicEvents, cfg.TopicProgress, log.Named("telemetry"))

	source := cfg.PoseSource
	if opts.PoseSource != "" {
		source = opts.PoseSource
	}
	if err := rt.connectPose(source); err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

func (rt *Runtime) connectPose(source string) error {
	switch source {
	case config.PoseSourceSim:
		rt.Provider = sim.NewParticipant(sim.DefaultConfig(), rt.Clock, rt.goals.goal)
	case config.PoseSourceMock:
		rt.Provider = pose.NewMockProvider(rt.Clock)
	case config.PoseSourceMQTT:
		if rt.offline != nil {
			return fmt.Errorf("pose source %q cannot run offline", source)
		}
		opts := mqtt.NewClientOptions().
			AddBroker(rt.Cfg.MQTTBroker).
			SetClientID(rt.Cfg.MQTTClientIDAssess + "-pose")

		client := mqtt.NewClient(opts)
		if token := client.Connect(); token.Wait() && token.Error() != nil {
			return fmt.Errorf("pose: connect %s: %w", rt.Cfg.MQTTBroker, token.Error())
		}
		rt.closers = append(rt.closers, func() { client.Disconnect(250) })

		p := pose.NewMQTTProvider(rt.Clock, rt.Cfg.PoseStale, rt.Log)
		if err := p.Subscribe(client, rt.Cfg.TopicPose); err != nil {
			return err
		}
		rt.Log.Info("subscribed to pose feed", zap.String("topic", rt.Cfg.TopicPose))
		rt.Provider = p
	default:
		return fmt.Errorf("unknown pose source %q", source)
	}
	return nil
}

// Close releases broker connections.
func (rt *Runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}

func (rt *Runtime) sinks() sequencer.EventSink {
	return sequencer.Sinks{rt.Bridge, rt.Metrics, rt.Sink}
}

// goalSwitch lets the simulated participant follow whichever task is current.
type goalSwitch struct {
	mu sync.Mutex
	fn sim.GoalFunc
}

func (g *goalSwitch) set(fn sim.GoalFunc) {
	g.mu.Lock()
	g.fn = fn
	g.mu.Unlock()
}

func (g *goalSwitch) goal() sim.Goal {
	g.mu.Lock()
	fn := g.fn
	g.mu.Unlock()
	if fn == nil {
		return sim.Goal{Idle: true}
	}
	return fn()
}

// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/relabs-tech/vr_assess/internal/sequencer"
)

// Metrics are the process counters exposed on /metrics. Metrics implements
// recorder.Observer and sequencer.EventSink so it can be wired in directly.
type Metrics struct {
	FixedTicks   prometheus.Counter
	DroppedSteps prometheus.Counter
	TrackingLost prometheus.Counter
	AppendErrors *prometheus.CounterVec
	Transitions  *prometheus.CounterVec
	TrialIndex   prometheus.Gauge
	PhaseChanges *prometheus.CounterVec
	ReachError   prometheus.Histogram
}

// NewMetrics registers the collectors on reg. Pass prometheus.NewRegistry()
// in tests to avoid clashing with the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		FixedTicks: f.NewCounter(prometheus.CounterOpts{
			Name: "vrassess_fixed_ticks_total",
			Help: "Fixed-rate ticks processed",
		}),
		DroppedSteps: f.NewCounter(prometheus.CounterOpts{
			Name: "vrassess_dropped_fixed_steps_total",
			Help: "Fixed steps dropped because a frame fell too far behind",
		}),
		TrackingLost: f.NewCounter(prometheus.CounterOpts{
			Name: "vrassess_tracking_lost_total",
			Help: "Ticks where the pose provider reported no tracking",
		}),
		AppendErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vrassess_stream_append_errors_total",
			Help: "Failed stream row appends by stream",
		}, []string{"stream"}),
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vrassess_transitions_total",
			Help: "Reach task state transitions",
		}, []string{"from", "to"}),
		TrialIndex: f.NewGauge(prometheus.GaugeOpts{
			Name: "vrassess_trial_index",
			Help: "Current reach task trial index",
		}),
		PhaseChanges: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vrassess_phase_changes_total",
			Help: "Timed task phase changes by task",
		}, []string{"task"}),
		ReachError: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "vrassess_reach_error_meters",
			Help:    "Distance from fingertip to target at hit",
			Buckets: prometheus.LinearBuckets(0, 0.02, 8),
		}),
	}
}

func (m *Metrics) AppendFailed(stream string) {
	m.AppendErrors.WithLabelValues(stream).Inc()
}

func (m *Metrics) Transition(ev sequencer.TransitionEvent) {
	m.Transitions.WithLabelValues(ev.From.String(), ev.To.String()).Inc()
	m.TrialIndex.Set(float64(ev.Trial))
	if ev.From.Reaching() && ev.To.Resetting() {
		m.ReachError.Observe(ev.Error)
	}
}

func (m *Metrics) PhaseChanged(task string) {
	m.PhaseChanges.WithLabelValues(task).Inc()
}

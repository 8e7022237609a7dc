// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/relabs-tech/vr_assess/internal/config"
	"github.com/relabs-tech/vr_assess/internal/telemetry"
)

// RunConsoleMQTT prints the events and progress a running battery publishes
// until ctx is cancelled.
func RunConsoleMQTT(ctx context.Context, cfg *config.Config, log *zap.Logger, out io.Writer) error {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDConsole)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	log.Info("console: connected to MQTT broker", zap.String("broker", cfg.MQTTBroker))

	// Subscribe to events
	eventsToken := client.Subscribe(cfg.TopicEvents, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var ev telemetry.EventMessage
		if err := json.Unmarshal(msg.Payload(), &ev); err != nil {
			log.Warn("console: event unmarshal error", zap.Error(err))
			return
		}
		fmt.Fprintln(out, formatEvent(ev))
	})
	eventsToken.Wait()
	if eventsToken.Error() != nil {
		return eventsToken.Error()
	}
	log.Info("console: subscribed", zap.String("topic", cfg.TopicEvents))

	// Subscribe to progress
	progressToken := client.Subscribe(cfg.TopicProgress, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var p telemetry.Progress
		if err := json.Unmarshal(msg.Payload(), &p); err != nil {
			log.Warn("console: progress unmarshal error", zap.Error(err))
			return
		}
		fmt.Fprintln(out, formatProgress(p))
	})
	progressToken.Wait()
	if progressToken.Error() != nil {
		return progressToken.Error()
	}
	log.Info("console: subscribed", zap.String("topic", cfg.TopicProgress))

	<-ctx.Done()

	log.Info("console: shutting down")
	client.Disconnect(250)
	return nil
}

func formatEvent(ev telemetry.EventMessage) string {
	ts := ev.At.Format("15:04:05.000")
	switch {
	case ev.Transition != nil:
		t := ev.Transition
		return fmt.Sprintf("[EVENT] %s %-12s trial=%2d %s -> %s hand=%s visible=%t err=%.3fm",
			ts, ev.Task, t.Trial, t.From, t.To, t.Hand, t.Visible, t.Error)
	case ev.Phase != nil:
		p := ev.Phase
		if p.Complete {
			return fmt.Sprintf("[PHASE] %s %-12s complete (tag %s)", ts, ev.Task, p.To)
		}
		return fmt.Sprintf("[PHASE] %s %-12s %d/%d %s", ts, ev.Task, p.Index, p.Total, p.To)
	default:
		return fmt.Sprintf("[BATT ] %s %-12s %s", ts, ev.Task, ev.Note)
	}
}

func formatProgress(p telemetry.Progress) string {
	status := p.State
	switch {
	case p.Done:
		status = "battery done"
	case p.Holding:
		status += " (next task soon)"
	}
	return fmt.Sprintf("[PROG ] task %d/%d %-12s trial=%2d %s",
		p.TaskIndex+1, p.TaskTotal, p.Task, p.Trial, status)
}

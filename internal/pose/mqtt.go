// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package pose

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/relabs-tech/vr_assess/internal/clock"
)

// MQTTProvider serves the latest snapshot published by the headset bridge.
// A snapshot older than the staleness window counts as lost tracking.
type MQTTProvider struct {
	clk        clock.Clock
	staleAfter time.Duration
	log        *zap.Logger

	limiter    *rate.Limiter
	suppressed atomic.Int64

	mu         sync.RWMutex
	last       Snapshot
	receivedAt time.Time
	have       bool
	bad        int
}

// MalformedLogEvery limits how often a bad payload is logged.
const MalformedLogEvery = 5 * time.Second

func NewMQTTProvider(clk clock.Clock, staleAfter time.Duration, log *zap.Logger) *MQTTProvider {
	if log == nil {
		log = zap.NewNop()
	}
	return &MQTTProvider{
		clk:        clk,
		staleAfter: staleAfter,
		log:        log.Named("pose"),
		limiter:    rate.NewLimiter(rate.Every(MalformedLogEvery), 1),
	}
}

// Subscribe registers the provider on topic.
func (p *MQTTProvider) Subscribe(client mqtt.Client, topic string) error {
	token := client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		// Next keeps serving the previous snapshot after a bad payload.
		_ = p.HandleMessage(msg.Payload())
	})
	token.Wait()
	if token.Error() != nil {
		return fmt.Errorf("subscribe %s: %w", topic, token.Error())
	}
	return nil
}

// HandleMessage decodes one JSON snapshot payload. Decode failures are
// counted and logged at most once per MalformedLogEvery.
func (p *MQTTProvider) HandleMessage(payload []byte) error {
	var s Snapshot
	if err := json.Unmarshal(payload, &s); err != nil {
		p.mu.Lock()
		p.bad++
		p.mu.Unlock()
		p.malformed(len(payload), err)
		return fmt.Errorf("pose payload: %w", err)
	}
	now := p.clk.Now()
	if s.Time.IsZero() {
		s.Time = now
	}
	s = s.WithBasis()

	p.mu.Lock()
	p.last = s
	p.receivedAt = now
	p.have = true
	p.mu.Unlock()
	return nil
}

func (p *MQTTProvider) Next() (Snapshot, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.have {
		return Snapshot{}, ErrTrackingLost
	}
	if p.staleAfter > 0 && p.clk.Now().Sub(p.receivedAt) > p.staleAfter {
		return p.last, ErrTrackingLost
	}
	return p.last, nil
}

// Malformed returns how many payloads failed to decode.
func (p *MQTTProvider) Malformed() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.bad
}

func (p *MQTTProvider) malformed(size int, err error) {
	if !p.limiter.Allow() {
		p.suppressed.Add(1)
		return
	}
	p.log.Warn("malformed pose payload",
		zap.Int("bytes", size),
		zap.Error(err),
		zap.Int64("suppressed", p.suppressed.Swap(0)),
	)
}

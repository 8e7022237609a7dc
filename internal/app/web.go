// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/relabs-tech/vr_assess/internal/config"
	"github.com/relabs-tech/vr_assess/internal/telemetry"
)

const monitorEventHistory = 200

// wsFrame is what the monitor page receives over /ws.
type wsFrame struct {
	Type     string                  `json:"type"` // event, progress
	Event    *telemetry.EventMessage `json:"event,omitempty"`
	Progress *telemetry.Progress     `json:"progress,omitempty"`
}

// monitor keeps the latest battery state received over MQTT for the
// experimenter dashboard.
type monitor struct {
	log *zap.Logger
	hub *hub

	mu           sync.RWMutex
	lastProgress telemetry.Progress
	haveProgress bool
	events       []telemetry.EventMessage

	received *prometheus.CounterVec
}

func newMonitor(reg prometheus.Registerer, log *zap.Logger) *monitor {
	return &monitor{
		log: log,
		hub: newHub(log),
		received: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "vrassess_monitor_messages_total",
			Help: "Messages received by the monitor by kind and result",
		}, []string{"kind", "result"}),
	}
}

func (m *monitor) handleEvent(payload []byte) error {
	var ev telemetry.EventMessage
	if err := json.Unmarshal(payload, &ev); err != nil {
		m.received.WithLabelValues("event", "malformed").Inc()
		return fmt.Errorf("event payload: %w", err)
	}
	m.received.WithLabelValues("event", "ok").Inc()

	m.mu.Lock()
	m.events = append(m.events, ev)
	if len(m.events) > monitorEventHistory {
		m.events = m.events[len(m.events)-monitorEventHistory:]
	}
	m.mu.Unlock()

	m.push(wsFrame{Type: "event", Event: &ev})
	return nil
}

func (m *monitor) handleProgress(payload []byte) error {
	var p telemetry.Progress
	if err := json.Unmarshal(payload, &p); err != nil {
		m.received.WithLabelValues("progress", "malformed").Inc()
		return fmt.Errorf("progress payload: %w", err)
	}
	m.received.WithLabelValues("progress", "ok").Inc()

	m.mu.Lock()
	m.lastProgress = p
	m.haveProgress = true
	m.mu.Unlock()

	m.push(wsFrame{Type: "progress", Progress: &p})
	return nil
}

func (m *monitor) push(f wsFrame) {
	b, err := json.Marshal(f)
	if err != nil {
		m.log.Warn("monitor: frame marshal error", zap.Error(err))
		return
	}
	m.hub.broadcast(b)
}

// hello is the first frame a new browser gets: the latest progress.
func (m *monitor) hello() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.haveProgress {
		return nil
	}
	p := m.lastProgress
	b, err := json.Marshal(wsFrame{Type: "progress", Progress: &p})
	if err != nil {
		return nil
	}
	return b
}

func writeJSON(w http.ResponseWriter, log *zap.Logger, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn("monitor: json encode error", zap.Error(err))
	}
}

func (m *monitor) routes(staticDir string, gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()

	// JSON API endpoint: latest progress
	mux.HandleFunc("/api/progress", func(w http.ResponseWriter, r *http.Request) {
		m.mu.RLock()
		defer m.mu.RUnlock()

		if !m.haveProgress {
			http.Error(w, "no data yet", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, m.log, m.lastProgress)
	})

	// JSON API endpoint: recent events, oldest first
	mux.HandleFunc("/api/events", func(w http.ResponseWriter, r *http.Request) {
		m.mu.RLock()
		events := append([]telemetry.EventMessage(nil), m.events...)
		m.mu.RUnlock()
		if events == nil {
			events = []telemetry.EventMessage{}
		}
		writeJSON(w, m.log, events)
	})

	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		m.hub.serveWS(w, r, m.hello())
	})

	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	// Static files as the root
	if staticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(staticDir)))
	}
	return mux
}

// RunWeb serves the experimenter monitor until ctx is cancelled.
func RunWeb(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	reg := prometheus.NewRegistry()
	m := newMonitor(reg, log)

	// 1) Connect to MQTT broker
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDWeb)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	defer client.Disconnect(250)
	log.Info("monitor: connected to MQTT broker", zap.String("broker", cfg.MQTTBroker))

	// 2) Subscribe to the battery topics
	subs := map[string]func([]byte) error{
		cfg.TopicEvents:   m.handleEvent,
		cfg.TopicProgress: m.handleProgress,
	}
	for topic, handle := range subs {
		token := client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
			if err := handle(msg.Payload()); err != nil {
				log.Warn("monitor: MQTT payload error", zap.String("topic", msg.Topic()), zap.Error(err))
			}
		})
		token.Wait()
		if token.Error() != nil {
			return token.Error()
		}
		log.Info("monitor: subscribed", zap.String("topic", topic))
	}

	// 3) HTTP server
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.WebServerPort),
		Handler:           m.routes(cfg.WebStaticDir, reg),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("monitor: web server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		m.hub.closeAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

package app

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/relabs-tech/vr_assess/internal/telemetry"
)

func newTestMonitor(t *testing.T) (*monitor, *httptest.Server, *prometheus.Registry) {
	t.Helper()
	static := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(static, "index.html"), []byte("<h1>monitor</h1>"), 0o644))

	reg := prometheus.NewRegistry()
	m := newMonitor(reg, zap.NewNop())
	srv := httptest.NewServer(m.routes(static, reg))
	return m, srv, reg
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestMonitorAPI(t *testing.T) {
	defer goleak.VerifyNone(t)
	m, srv, reg := newTestMonitor(t)
	defer srv.Close()
	client := srv.Client()
	defer client.CloseIdleConnections()

	resp, err := client.Get(srv.URL + "/api/progress")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	require.NoError(t, m.handleProgress(mustJSON(t, telemetry.Progress{Task: "TestofSkew", State: "LeftActive", TaskTotal: 3})))
	require.NoError(t, m.handleEvent(mustJSON(t, telemetry.EventMessage{Kind: telemetry.KindBattery, Note: "task started: TestofSkew"})))
	assert.Error(t, m.handleEvent([]byte("nope")))

	resp, err = client.Get(srv.URL + "/api/progress")
	require.NoError(t, err)
	var p telemetry.Progress
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&p))
	resp.Body.Close()
	assert.Equal(t, "LeftActive", p.State)

	resp, err = client.Get(srv.URL + "/api/events")
	require.NoError(t, err)
	var events []telemetry.EventMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&events))
	resp.Body.Close()
	require.Len(t, events, 1)
	assert.Equal(t, "task started: TestofSkew", events[0].Note)

	resp, err = client.Get(srv.URL + "/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.received.WithLabelValues("event", "malformed")))
	n, err := testutil.GatherAndCount(reg, "vrassess_monitor_messages_total")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestMonitorEventHistoryIsBounded(t *testing.T) {
	m := newMonitor(prometheus.NewRegistry(), zap.NewNop())
	for i := 0; i < monitorEventHistory+25; i++ {
		require.NoError(t, m.handleEvent(mustJSON(t, telemetry.EventMessage{Kind: telemetry.KindBattery})))
	}
	assert.Len(t, m.events, monitorEventHistory)
}

func TestMonitorWebsocket(t *testing.T) {
	defer goleak.VerifyNone(t)
	m, srv, _ := newTestMonitor(t)
	defer srv.Close()

	require.NoError(t, m.handleProgress(mustJSON(t, telemetry.Progress{Task: "HeadStability", State: "solid"})))

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	readFrame := func() wsFrame {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var f wsFrame
		require.NoError(t, conn.ReadJSON(&f))
		return f
	}

	hello := readFrame()
	assert.Equal(t, "progress", hello.Type)
	require.NotNil(t, hello.Progress)
	assert.Equal(t, "solid", hello.Progress.State)

	require.Eventually(t, func() bool { return m.hub.Len() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, m.handleEvent(mustJSON(t, telemetry.EventMessage{Kind: telemetry.KindPhase, Task: "HeadStability"})))

	f := readFrame()
	assert.Equal(t, "event", f.Type)
	require.NotNil(t, f.Event)
	assert.Equal(t, telemetry.KindPhase, f.Event.Kind)

	m.hub.closeAll()
	require.Eventually(t, func() bool { return m.hub.Len() == 0 }, 2*time.Second, 5*time.Millisecond)

	// Closed hubs refuse new clients.
	conn2, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn2.Close()
	require.NoError(t, conn2.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn2.ReadMessage()
	assert.Error(t, err)
}

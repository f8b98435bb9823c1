package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"smartcrowd.klederson.com/internal/bluetooth"
	"smartcrowd.klederson.com/internal/broadcast"
	"smartcrowd.klederson.com/internal/calibration"
	"smartcrowd.klederson.com/internal/metrics"
)

type staticLink bluetooth.State

func (l staticLink) State() bluetooth.State { return bluetooth.State(l) }

type staticReading struct {
	r  bluetooth.SensorReading
	ok bool
}

func (s staticReading) Last() (bluetooth.SensorReading, bool) { return s.r, s.ok }

type fixture struct {
	store *calibration.Store
	hub   *broadcast.Hub
	srv   *httptest.Server
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	store := calibration.NewStore()
	hub := broadcast.NewHub(nil, nil)
	s := New(store, hub, opts)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		hub.Close()
		ts.Close()
	})
	return &fixture{store: store, hub: hub, srv: ts}
}

func (f *fixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg map[string]any
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	return resp
}

func TestStatus(t *testing.T) {
	f := newFixture(t, Options{Link: staticLink(bluetooth.Active)})

	resp, err := http.Get(f.srv.URL + "/")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, map[string]any{
		"status":      "ok",
		"service":     "SmartCrowd Backend",
		"link":        "active",
		"subscribers": 0.0,
	}, decode(t, resp))

	resp, err = http.Get(f.srv.URL + "/nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetCalibration(t *testing.T) {
	f := newFixture(t, Options{})

	resp, err := http.Get(f.srv.URL + "/calibration")
	require.NoError(t, err)
	body := decode(t, resp)
	cal := body["calibration"].(map[string]any)
	assert.Len(t, cal, 3)
	assert.Equal(t, "ENTRANCE", cal["A1"].(map[string]any)["name"])
	assert.Equal(t, -40.0, cal["A1"].(map[string]any)["rssi_1m"])
}

func TestUpdateCalibration(t *testing.T) {
	f := newFixture(t, Options{})

	resp := post(t, f.srv.URL+"/calibration", `{"anchor_id":"A1","rssi_1m":-38}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode(t, resp)
	assert.Equal(t, "updated", body["status"])

	a1 := f.store.Get(calibration.A1)
	assert.Equal(t, -38.0, a1.RSSIAt1m)
	assert.Equal(t, 2.0, a1.PathLossExp)
	assert.Equal(t, calibration.Defaults().A2, f.store.Get(calibration.A2))
}

func TestUpdateCalibrationErrors(t *testing.T) {
	f := newFixture(t, Options{})

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"malformed", `{"anchor_id":`, http.StatusBadRequest},
		{"missing anchor", `{"rssi_1m":-38}`, http.StatusBadRequest},
		{"unknown anchor", `{"anchor_id":"A7","n":2.5}`, http.StatusNotFound},
		{"bad exponent", `{"anchor_id":"A2","n":0}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := post(t, f.srv.URL+"/calibration", tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Contains(t, decode(t, resp), "error")
		})
	}
	assert.Equal(t, calibration.Defaults(), f.store.All())
}

func TestResetCalibration(t *testing.T) {
	f := newFixture(t, Options{})
	n := 3.0
	f.store.Update(calibration.A3, nil, &n)

	resp := post(t, f.srv.URL+"/calibration/reset", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "reset", decode(t, resp)["status"])
	assert.Equal(t, calibration.Defaults(), f.store.All())

	resp, err := http.Get(f.srv.URL + "/calibration/reset")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestReading(t *testing.T) {
	empty := newFixture(t, Options{Readings: staticReading{}})
	resp, err := http.Get(empty.srv.URL + "/reading")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	f := newFixture(t, Options{Readings: staticReading{r: bluetooth.SensorReading{HR: 72, RSSI1: -50}, ok: true}})
	resp, err = http.Get(f.srv.URL + "/reading")
	require.NoError(t, err)
	body := decode(t, resp)
	assert.Equal(t, 72.0, body["hr"])
	assert.Equal(t, -50.0, body["rssi1"])
}

func TestPreflight(t *testing.T) {
	f := newFixture(t, Options{})
	req, err := http.NewRequest(http.MethodOptions, f.srv.URL+"/calibration", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), "POST")
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	f := newFixture(t, Options{Gatherer: reg, Metrics: m})

	post(t, f.srv.URL+"/calibration/reset", "").Body.Close()

	resp, err := http.Get(f.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `smartcrowd_calibration_changes_total{op="reset"} 1`)
}

func TestWebSocketReceivesCalibrationOnConnect(t *testing.T) {
	f := newFixture(t, Options{})
	conn := f.dial(t)

	msg := readMessage(t, conn)
	assert.Equal(t, "calibration_update", msg["type"])
	assert.Len(t, msg["data"], 3)

	require.Eventually(t, func() bool { return f.hub.Count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestCalibrationChangesAreBroadcast(t *testing.T) {
	f := newFixture(t, Options{})
	conn := f.dial(t)
	readMessage(t, conn)

	post(t, f.srv.URL+"/calibration", `{"anchor_id":"A2","n":2.5}`).Body.Close()

	msg := readMessage(t, conn)
	assert.Equal(t, "calibration_update", msg["type"])
	a2 := msg["data"].(map[string]any)["A2"].(map[string]any)
	assert.Equal(t, 2.5, a2["n"])
}

func TestWebSocketControlMessage(t *testing.T) {
	f := newFixture(t, Options{})
	conn := f.dial(t)
	readMessage(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"update_calibration","anchor_id":"A3","rssi_1m":-44}`)))

	msg := readMessage(t, conn)
	assert.Equal(t, "calibration_update", msg["type"])
	assert.Equal(t, -44.0, f.store.Get(calibration.A3).RSSIAt1m)
	assert.Equal(t, 2.0, f.store.Get(calibration.A3).PathLossExp)
}

func TestWebSocketDisconnectRemovesSubscriber(t *testing.T) {
	f := newFixture(t, Options{})
	conn := f.dial(t)
	readMessage(t, conn)
	require.Eventually(t, func() bool { return f.hub.Count() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	require.Eventually(t, func() bool { return f.hub.Count() == 0 }, time.Second, 5*time.Millisecond)
}

package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"smartcrowd.klederson.com/internal/calibration"
	"smartcrowd.klederson.com/internal/pipeline"
)

func TestDecodeSensorData(t *testing.T) {
	raw := `{"type":"sensor_data","data":{"fall":1,"systemOn":1,"heartbeat":72,
		"position":{"x":4.5,"y":6},"distances":{"A1":3.98,"A2":7.1,"A3":5},
		"rssi":{"rssi1":-52,"rssi2":-57,"rssi3":-54},"room":"DANCE_ROOM",
		"heartbeatHistory":[{"time":1,"value":72}],
		"calibration":{"A1":{"rssi_1m":-40,"n":2,"x":0,"y":0,"name":"ENTRANCE"}}}}`

	msg, err := Decode([]byte(raw))
	require.NoError(t, err)
	d, ok := msg.(SensorDataMsg)
	require.True(t, ok)
	assert.Equal(t, 1, d.Fall)
	assert.Equal(t, 72.0, d.Heartbeat)
	assert.Equal(t, 4.5, d.Position.X)
	assert.Equal(t, 7.1, d.Distances.A2)
	assert.Equal(t, -54.0, d.RSSI.RSSI3)
	assert.Len(t, d.HRHistory, 1)
	assert.Equal(t, calibration.A1, d.Calibration.A1.ID, "IDs restored")
	assert.Equal(t, "ENTRANCE", d.Calibration.A1.Name)
}

func TestDecodeCalibrationUpdate(t *testing.T) {
	data := `{"type":"calibration_update","data":{"A2":{"rssi_1m":-44,"n":2.5,"x":10,"y":0,"name":"BACKSTAGE_1"}}}`
	msg, err := Decode([]byte(data))
	require.NoError(t, err)
	cal, ok := msg.(CalibrationMsg)
	require.True(t, ok)
	assert.Equal(t, calibration.A2, cal.A2.ID)
	assert.Equal(t, -44.0, cal.A2.RSSIAt1m)
	assert.Equal(t, 2.5, cal.A2.PathLossExp)
}

func TestDecodeRejects(t *testing.T) {
	_, err := Decode([]byte(`{"type":"ping"}`))
	assert.ErrorIs(t, err, ErrUnknownMessage)

	_, err = Decode([]byte(`not json`))
	assert.Error(t, err)

	_, err = Decode([]byte(`{"type":"sensor_data","data":"oops"}`))
	assert.Error(t, err)
}

// backend is a minimal /ws endpoint: it greets each client with a
// calibration_update and records what clients send.
type backend struct {
	srv      *httptest.Server
	received chan []byte
	conns    chan *websocket.Conn
}

func newBackend(t *testing.T) *backend {
	t.Helper()
	b := &backend{received: make(chan []byte, 8), conns: make(chan *websocket.Conn, 4)}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	b.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		b.conns <- conn
		msg := pipeline.CalibrationUpdate(calibration.Defaults())
		if err := conn.WriteJSON(msg); err != nil {
			return
		}
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			b.received <- data
		}
	}))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *backend) url() string {
	return "ws" + strings.TrimPrefix(b.srv.URL, "http")
}

func collect(ch chan tea.Msg) func(tea.Msg) {
	return func(msg tea.Msg) { ch <- msg }
}

func next(t *testing.T, ch chan tea.Msg) tea.Msg {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no message from feed")
		return nil
	}
}

func TestFeedDeliversAndSendsControl(t *testing.T) {
	b := newBackend(t)
	f := NewFeed(b.url(), 20*time.Millisecond, nil)
	assert.ErrorIs(t, f.SendControl(pipeline.ControlMessage{}), ErrOffline)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	msgs := make(chan tea.Msg, 16)
	done := make(chan struct{})
	go func() {
		f.Run(ctx, collect(msgs))
		close(done)
	}()

	assert.Equal(t, FeedStatusMsg{Connected: true}, next(t, msgs))
	cal, ok := next(t, msgs).(CalibrationMsg)
	require.True(t, ok)
	assert.Equal(t, "ENTRANCE", cal.A1.Name)

	rssi := -38.0
	require.NoError(t, f.SendControl(pipeline.ControlMessage{
		Type:     pipeline.TypeUpdateCalibration,
		AnchorID: calibration.A1,
		RSSIAt1m: &rssi,
	}))
	select {
	case data := <-b.received:
		assert.JSONEq(t, `{"type":"update_calibration","anchor_id":"A1","rssi_1m":-38}`, string(data))
	case <-time.After(2 * time.Second):
		t.Fatal("backend never received the control message")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestFeedReconnects(t *testing.T) {
	b := newBackend(t)
	f := NewFeed(b.url(), 20*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	msgs := make(chan tea.Msg, 16)
	go f.Run(ctx, collect(msgs))

	assert.Equal(t, FeedStatusMsg{Connected: true}, next(t, msgs))
	first := <-b.conns
	next(t, msgs) // calibration greeting

	require.NoError(t, first.Close())

	status, ok := next(t, msgs).(FeedStatusMsg)
	require.True(t, ok)
	assert.False(t, status.Connected)
	assert.Error(t, status.Err)

	assert.Equal(t, FeedStatusMsg{Connected: true}, next(t, msgs))
	_, ok = next(t, msgs).(CalibrationMsg)
	assert.True(t, ok)
}

func TestFeedRetriesUnreachableBackend(t *testing.T) {
	f := NewFeed("ws://127.0.0.1:1/ws", 10*time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	msgs := make(chan tea.Msg, 16)
	go f.Run(ctx, collect(msgs))

	for i := 0; i < 2; i++ {
		status, ok := next(t, msgs).(FeedStatusMsg)
		require.True(t, ok)
		assert.False(t, status.Connected)
		assert.ErrorContains(t, status.Err, "dial")
	}
}

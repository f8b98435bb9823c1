package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"smartcrowd.klederson.com/internal/calibration"
	"smartcrowd.klederson.com/internal/config"
	"smartcrowd.klederson.com/internal/pipeline"
)

var (
	ErrOffline        = errors.New("feed is not connected")
	ErrUnknownMessage = errors.New("unknown message type")
)

// Feed keeps a WebSocket subscription to the backend open and forwards what
// arrives to the program.
type Feed struct {
	url    string
	retry  time.Duration
	dialer *websocket.Dialer
	log    *zap.Logger

	mu   sync.Mutex // guards conn and serializes writes
	conn *websocket.Conn
}

// NewFeed creates a feed for url that redials retry after every drop.
func NewFeed(url string, retry time.Duration, log *zap.Logger) *Feed {
	if retry <= 0 {
		retry = config.MonitorReconnect
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Feed{
		url:    url,
		retry:  retry,
		dialer: websocket.DefaultDialer,
		log:    log,
	}
}

// URL returns the backend endpoint.
func (f *Feed) URL() string { return f.url }

// Run keeps the feed connected until ctx is done. Decoded messages and
// connection changes are passed to send, typically tea.Program.Send.
func (f *Feed) Run(ctx context.Context, send func(tea.Msg)) {
	for {
		err := f.session(ctx, send)
		if ctx.Err() != nil {
			return
		}
		f.log.Debug("Feed disconnected", zap.String("url", f.url), zap.Error(err))
		send(FeedStatusMsg{Err: err})

		timer := time.NewTimer(f.retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (f *Feed) session(ctx context.Context, send func(tea.Msg)) error {
	conn, _, err := f.dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", f.url, err)
	}
	f.setConn(conn)
	defer func() {
		f.setConn(nil)
		_ = conn.Close()
	}()
	// Unblocks ReadMessage on shutdown.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	f.log.Info("Feed connected", zap.String("url", f.url))
	send(FeedStatusMsg{Connected: true})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		msg, err := Decode(data)
		if err != nil {
			f.log.Debug("Skipping feed message", zap.Error(err))
			continue
		}
		send(msg)
	}
}

func (f *Feed) setConn(conn *websocket.Conn) {
	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()
}

// SendControl writes an upstream control message on the live connection.
func (f *Feed) SendControl(msg pipeline.ControlMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.conn == nil {
		return ErrOffline
	}
	if err := f.conn.SetWriteDeadline(time.Now().Add(config.ControlTimeout)); err != nil {
		return err
	}
	if err := f.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("send %s: %w", msg.Type, err)
	}
	return nil
}

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Decode turns one subscriber stream message into a program message.
func Decode(data []byte) (tea.Msg, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	switch env.Type {
	case pipeline.TypeSensorData:
		var d pipeline.SensorData
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		d.Calibration = d.Calibration.WithIDs()
		return SensorDataMsg(d), nil

	case pipeline.TypeCalibrationUpdate:
		var t calibration.Table
		if err := json.Unmarshal(env.Data, &t); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return CalibrationMsg(t.WithIDs()), nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, env.Type)
}

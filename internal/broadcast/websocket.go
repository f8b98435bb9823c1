package broadcast

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"smartcrowd.klederson.com/internal/config"
)

const maxControlMessageSize = 4096

// Upgrader accepts any origin; the stream carries no credentials.
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// WSSubscriber is a WebSocket client. gorilla connections allow a single
// concurrent writer, so every write goes through writeMu.
type WSSubscriber struct {
	id           string
	conn         *websocket.Conn
	writeTimeout time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func NewWSSubscriber(conn *websocket.Conn, writeTimeout time.Duration) *WSSubscriber {
	if writeTimeout <= 0 {
		writeTimeout = config.WriteTimeout
	}
	return &WSSubscriber{
		id:           uuid.NewString(),
		conn:         conn,
		writeTimeout: writeTimeout,
	}
}

func (s *WSSubscriber) ID() string {
	return s.id
}

// Send writes one text frame, bounded by the write timeout or ctx's
// deadline, whichever is sooner.
func (s *WSSubscriber) Send(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	deadline := time.Now().Add(s.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(deadline)
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

// ReadLoop reads client frames and hands text payloads to handle until the
// connection fails or closes. Binary frames are ignored.
func (s *WSSubscriber) ReadLoop(handle func([]byte)) error {
	s.conn.SetReadLimit(maxControlMessageSize)
	for {
		typ, data, err := s.conn.ReadMessage()
		if err != nil {
			return err
		}
		if typ == websocket.TextMessage {
			handle(data)
		}
	}
}

// Close sends a close frame and releases the connection. Safe to call more
// than once.
func (s *WSSubscriber) Close() error {
	var err error
	s.closeOnce.Do(func() {
		// WriteControl may run concurrently with a blocked Send.
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = s.conn.Close()
	})
	return err
}

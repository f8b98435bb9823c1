package bluetooth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"smartcrowd.klederson.com/internal/config"
	"smartcrowd.klederson.com/internal/metrics"
)

var (
	// ErrDeviceNotFound is returned by Transport.Discover when the tracker
	// did not show up before the scan gave up.
	ErrDeviceNotFound = errors.New("tracker not found")

	// ErrNotConnected is returned by Conn methods once the link is gone.
	ErrNotConnected = errors.New("not connected")
)

// State is the link session state.
type State int

const (
	Disconnected State = iota
	Scanning
	Connecting
	Subscribing
	Active
)

func (s State) String() string {
	switch s {
	case Scanning:
		return "scanning"
	case Connecting:
		return "connecting"
	case Subscribing:
		return "subscribing"
	case Active:
		return "active"
	default:
		return "disconnected"
	}
}

// Transport finds the tracker and opens a link to it.
type Transport interface {
	// Discover blocks until the tracker is found and returns its address,
	// or fails with ErrDeviceNotFound.
	Discover(ctx context.Context) (string, error)
	Connect(ctx context.Context, addr string) (Conn, error)
}

// Conn is an open link that delivers raw notification payloads.
type Conn interface {
	Subscribe(handler func([]byte)) error
	Unsubscribe() error
	Connected() bool
	Close() error
}

// SessionConfig tunes the retry policy. Zero values take the defaults.
type SessionConfig struct {
	Backoff   time.Duration // wait after a failed discover/connect/subscribe
	Poll      time.Duration // liveness check interval while active
	QueueSize int
}

// Session keeps a link to the tracker alive and pushes every parsed reading
// to Readings(). It retries forever until its context is cancelled.
type Session struct {
	transport Transport
	parser    *FrameParser
	log       *zap.Logger
	metrics   *metrics.Metrics

	backoff time.Duration
	poll    time.Duration

	readings chan SensorReading

	mu            sync.Mutex
	state         State
	conn          Conn
	onStateChange []func(State)
}

// NewSession creates a session over t. Notifications are decoded by parser.
func NewSession(t Transport, parser *FrameParser, cfg SessionConfig, log *zap.Logger, m *metrics.Metrics) *Session {
	if cfg.Backoff <= 0 {
		cfg.Backoff = config.ReconnectBackoff
	}
	if cfg.Poll <= 0 {
		cfg.Poll = config.LivenessInterval
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = config.ReadingQueueSize
	}
	if log == nil {
		log = zap.NewNop()
	}
	if parser == nil {
		parser = NewFrameParser(log, m)
	}
	return &Session{
		transport: t,
		parser:    parser,
		log:       log,
		metrics:   m,
		backoff:   cfg.Backoff,
		poll:      cfg.Poll,
		readings:  make(chan SensorReading, cfg.QueueSize),
	}
}

// Readings is the queue consumed by the pipeline. It is never closed.
func (s *Session) Readings() <-chan SensorReading {
	return s.readings
}

// Parser returns the frame parser, for access to the last reading.
func (s *Session) Parser() *FrameParser {
	return s.parser
}

// State returns the current link state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// OnStateChange registers fn to be called on every transition.
func (s *Session) OnStateChange(fn func(State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onStateChange = append(s.onStateChange, fn)
}

// Run drives the state machine until ctx is cancelled.
func (s *Session) Run(ctx context.Context) error {
	defer s.Disconnect()

	for ctx.Err() == nil {
		err := s.establish(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			s.log.Warn("Tracker link failed, retrying",
				zap.Error(err),
				zap.Duration("backoff", s.backoff),
			)
			s.Disconnect()
			if !sleep(ctx, s.backoff) {
				break
			}
			continue
		}

		s.monitor(ctx)
		s.Disconnect()
		if ctx.Err() == nil {
			s.metrics.LinkRetry("lost")
			s.log.Warn("Tracker connection lost, rescanning")
		}
	}
	return ctx.Err()
}

// establish walks Scanning → Connecting → Subscribing → Active.
func (s *Session) establish(ctx context.Context) error {
	s.setState(Scanning)
	addr, err := s.transport.Discover(ctx)
	if err != nil {
		s.metrics.LinkRetry("not_found")
		return fmt.Errorf("discover: %w", err)
	}
	s.log.Info("Found tracker", zap.String("address", addr))

	s.setState(Connecting)
	conn, err := s.transport.Connect(ctx, addr)
	if err != nil {
		s.metrics.LinkRetry("connect")
		return fmt.Errorf("connect %s: %w", addr, err)
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	s.setState(Subscribing)
	if err := conn.Subscribe(s.handleNotification); err != nil {
		s.metrics.LinkRetry("subscribe")
		return fmt.Errorf("subscribe: %w", err)
	}

	s.setState(Active)
	s.log.Info("Subscribed to tracker notifications", zap.String("address", addr))
	return nil
}

// monitor polls the link until it drops or ctx is cancelled.
func (s *Session) monitor(ctx context.Context) {
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			conn := s.conn
			s.mu.Unlock()
			if conn == nil || !conn.Connected() {
				return
			}
		}
	}
}

func (s *Session) handleNotification(payload []byte) {
	r, ok := s.parser.Parse(payload)
	if !ok {
		return
	}
	select {
	case s.readings <- r:
	default:
		s.metrics.ReadingDropped()
		s.log.Debug("Pipeline queue full, reading dropped")
	}
}

// Disconnect tears down the current link, if any. Unsubscribe and close
// errors are logged and otherwise ignored. Safe to call from any state and
// any number of times.
func (s *Session) Disconnect() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn != nil {
		if err := conn.Unsubscribe(); err != nil {
			s.log.Debug("Unsubscribe failed", zap.Error(err))
		}
		if err := conn.Close(); err != nil {
			s.log.Debug("Close failed", zap.Error(err))
		}
	}
	s.setState(Disconnected)
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	if s.state == st {
		s.mu.Unlock()
		return
	}
	prev := s.state
	s.state = st
	hooks := s.onStateChange
	s.mu.Unlock()

	s.metrics.LinkState(int(st))
	s.log.Debug("Link state changed", zap.Stringer("from", prev), zap.Stringer("to", st))
	for _, fn := range hooks {
		fn(st)
	}
}

// sleep waits for d or until ctx is done. Returns false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

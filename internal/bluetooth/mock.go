package bluetooth

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"smartcrowd.klederson.com/internal/config"
)

// MockAddress is the address reported by MockTransport.Discover.
const MockAddress = "mock:tracker"

type mockAnchor struct {
	baseRSSI  float64
	amplitude float64
	phase     float64
}

// Wearer drifts between the anchors: A1 strongest, A3 weakest.
var mockAnchors = [3]mockAnchor{
	{baseRSSI: -45, amplitude: 4, phase: 0},
	{baseRSSI: -50, amplitude: 4, phase: 2 * math.Pi / 3},
	{baseRSSI: -55, amplitude: 4, phase: 4 * math.Pi / 3},
}

// MockTransport generates synthetic tracker frames for demo mode and tests.
// Frames go through the same text format and parser as real hardware.
type MockTransport struct {
	interval time.Duration
	rng      *rand.Rand
	rngMu    sync.Mutex
}

// NewMockTransport creates a mock that emits one frame per interval.
func NewMockTransport(interval time.Duration) *MockTransport {
	if interval <= 0 {
		interval = config.MockFrameInterval
	}
	return &MockTransport{
		interval: interval,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (m *MockTransport) Discover(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return MockAddress, nil
}

func (m *MockTransport) Connect(ctx context.Context, addr string) (Conn, error) {
	if addr != MockAddress {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, addr)
	}
	return &mockConn{transport: m, stop: make(chan struct{})}, nil
}

// Frame renders the synthetic frame for tick t.
func (m *MockTransport) Frame(t int) string {
	m.rngMu.Lock()
	defer m.rngMu.Unlock()
	r := m.rng

	uniform := func(lo, hi float64) float64 { return lo + r.Float64()*(hi-lo) }

	// The firmware reports acc = |x + y + z - 10|, so standing still is near 0.
	accX := uniform(0, 0.5)
	accY := uniform(0, 0.5)
	accZ := 9.8 + uniform(-0.2, 0.2)
	if r.Float64() < 0.05 {
		// Impact: lateral spike, vertical drop.
		accX = uniform(3, 6)
		accY = uniform(3, 6)
		accZ = uniform(5, 8)
	}
	acc := math.Abs(accX + accY + accZ - 10)

	fall := 0
	if r.Float64() < 0.02 {
		fall = 1
	}
	hr := math.Round(75 + 15*math.Sin(float64(t)/10) + uniform(-5, 5))
	temp := 37 + uniform(-0.3, 0.3)

	var rssi [3]float64
	for i, a := range mockAnchors {
		rssi[i] = math.Round(a.baseRSSI + a.amplitude*math.Sin(float64(t)*0.05+a.phase) + uniform(-6, 6))
	}

	return fmt.Sprintf("[%d; 1; %.2f; %.2f; %.2f; %.2f; %.0f; %.1f; %.0f; %.0f; %.0f]",
		fall, acc, accX, accY, accZ, hr, temp, rssi[0], rssi[1], rssi[2])
}

type mockConn struct {
	transport *MockTransport
	stop      chan struct{}
	stopOnce  sync.Once
	running   atomic.Bool
	closed    atomic.Bool
}

func (c *mockConn) Subscribe(handler func([]byte)) error {
	if c.closed.Load() {
		return ErrNotConnected
	}
	if !c.running.CompareAndSwap(false, true) {
		return nil
	}
	go c.loop(handler)
	return nil
}

func (c *mockConn) loop(handler func([]byte)) {
	ticker := time.NewTicker(c.transport.interval)
	defer ticker.Stop()

	t := 0
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			t++
			handler([]byte(c.transport.Frame(t)))
		}
	}
}

func (c *mockConn) Unsubscribe() error {
	c.halt()
	return nil
}

func (c *mockConn) Connected() bool {
	return !c.closed.Load()
}

func (c *mockConn) Close() error {
	c.closed.Store(true)
	c.halt()
	return nil
}

func (c *mockConn) halt() {
	c.stopOnce.Do(func() { close(c.stop) })
}

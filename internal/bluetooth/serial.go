package bluetooth

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"go.bug.st/serial"
	"go.uber.org/zap"
	"smartcrowd.klederson.com/internal/config"
)

// Port name fragments the tracker enumerates as when wired over USB.
var serialPortHints = []string{"ttyACM", "ttyUSB", "usbmodem", "usbserial", "COM"}

// SerialTransport reads the same text frames from a USB serial console, one
// frame per line. Used when the tracker is cabled instead of paired.
type SerialTransport struct {
	port     string
	baudRate int
	log      *zap.Logger

	// Swappable for tests.
	listPorts func() ([]string, error)
	openPort  func(name string, mode *serial.Mode) (io.ReadCloser, error)
}

// NewSerialTransport creates a serial transport. An empty port picks the
// first port that looks like a USB CDC device.
func NewSerialTransport(port string, baudRate int, log *zap.Logger) *SerialTransport {
	if baudRate <= 0 {
		baudRate = config.SerialBaudRate
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &SerialTransport{
		port:      port,
		baudRate:  baudRate,
		log:       log,
		listPorts: serial.GetPortsList,
		openPort: func(name string, mode *serial.Mode) (io.ReadCloser, error) {
			return serial.Open(name, mode)
		},
	}
}

// Discover returns the configured port as is, so symlinks and ptys that the
// port list never shows still work. Otherwise it picks the first port that
// looks like a USB serial device.
func (t *SerialTransport) Discover(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if t.port != "" {
		return t.port, nil
	}
	ports, err := t.listPorts()
	if err != nil {
		return "", fmt.Errorf("list serial ports: %w", err)
	}

	for _, p := range ports {
		for _, hint := range serialPortHints {
			if strings.Contains(p, hint) {
				return p, nil
			}
		}
	}
	return "", ErrDeviceNotFound
}

func (t *SerialTransport) Connect(ctx context.Context, addr string) (Conn, error) {
	mode := &serial.Mode{
		BaudRate: t.baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	rc, err := t.openPort(addr, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", addr, err)
	}
	t.log.Debug("Opened serial port", zap.String("port", addr), zap.Int("baud", t.baudRate))
	return newLineConn(rc), nil
}

// lineConn turns a byte stream into one notification per line. The link is
// considered dropped once the stream returns an error or EOF.
type lineConn struct {
	rc        io.ReadCloser
	handler   atomic.Pointer[func([]byte)]
	connected atomic.Bool
	started   atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func newLineConn(rc io.ReadCloser) *lineConn {
	c := &lineConn{rc: rc}
	c.connected.Store(true)
	return c
}

func (c *lineConn) Subscribe(handler func([]byte)) error {
	if !c.connected.Load() {
		return ErrNotConnected
	}
	c.handler.Store(&handler)
	if c.started.CompareAndSwap(false, true) {
		go c.readLoop()
	}
	return nil
}

func (c *lineConn) readLoop() {
	defer c.connected.Store(false)

	scan := bufio.NewScanner(c.rc)
	for scan.Scan() {
		line := scan.Bytes()
		if len(line) == 0 {
			continue
		}
		h := c.handler.Load()
		if h == nil {
			continue
		}
		payload := make([]byte, len(line))
		copy(payload, line)
		(*h)(payload)
	}
}

func (c *lineConn) Unsubscribe() error {
	c.handler.Store(nil)
	return nil
}

func (c *lineConn) Connected() bool {
	return c.connected.Load()
}

func (c *lineConn) Close() error {
	c.closeOnce.Do(func() {
		c.connected.Store(false)
		c.closeErr = c.rc.Close()
	})
	return c.closeErr
}

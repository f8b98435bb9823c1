package bluetooth

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"smartcrowd.klederson.com/internal/config"
	"tinygo.org/x/bluetooth"
)

// BLETransport finds the tracker by its advertised local name and
// subscribes to the telemetry characteristic.
type BLETransport struct {
	adapter     *bluetooth.Adapter
	name        string
	charUUID    bluetooth.UUID
	scanTimeout time.Duration
	log         *zap.Logger

	mu      sync.Mutex
	enabled bool
	found   map[string]bluetooth.Address
	conns   map[string]*bleConn
}

// NewBLETransport creates a transport on the default adapter.
func NewBLETransport(name string, scanTimeout time.Duration, log *zap.Logger) (*BLETransport, error) {
	uuid, err := bluetooth.ParseUUID(config.CharacteristicUUID)
	if err != nil {
		return nil, fmt.Errorf("parse characteristic uuid: %w", err)
	}
	if name == "" {
		name = config.DeviceName
	}
	if scanTimeout <= 0 {
		scanTimeout = config.ScanTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &BLETransport{
		adapter:     bluetooth.DefaultAdapter,
		name:        name,
		charUUID:    uuid,
		scanTimeout: scanTimeout,
		log:         log,
		found:       make(map[string]bluetooth.Address),
		conns:       make(map[string]*bleConn),
	}, nil
}

// enable powers the adapter on first use. A failed attempt is retried on the
// next call rather than remembered.
func (t *BLETransport) enable() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.enabled {
		return nil
	}

	t.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		t.mu.Lock()
		c := t.conns[device.Address.String()]
		t.mu.Unlock()
		if c != nil && !connected {
			c.connected.Store(false)
		}
	})
	if err := t.adapter.Enable(); err != nil {
		return fmt.Errorf("failed to enable BLE adapter: %w (try running with sudo or setcap cap_net_admin+ep)", err)
	}
	t.enabled = true
	return nil
}

// Discover scans until a device advertising the tracker name is seen.
func (t *BLETransport) Discover(ctx context.Context) (string, error) {
	if err := t.enable(); err != nil {
		return "", err
	}

	scanCtx, cancel := context.WithTimeout(ctx, t.scanTimeout)
	defer cancel()

	result := make(chan bluetooth.Address, 1)
	done := make(chan error, 1)
	go func() {
		done <- t.adapter.Scan(func(adapter *bluetooth.Adapter, r bluetooth.ScanResult) {
			if r.LocalName() != t.name {
				return
			}
			select {
			case result <- r.Address:
			default:
			}
			_ = adapter.StopScan()
		})
	}()

	select {
	case addr := <-result:
		<-done
		key := addr.String()
		t.mu.Lock()
		t.found[key] = addr
		t.mu.Unlock()
		return key, nil
	case err := <-done:
		if err != nil {
			return "", fmt.Errorf("scan: %w", err)
		}
		return "", ErrDeviceNotFound
	case <-scanCtx.Done():
		_ = t.adapter.StopScan()
		<-done
		if err := ctx.Err(); err != nil {
			return "", err
		}
		return "", ErrDeviceNotFound
	}
}

// Connect opens a GATT connection and resolves the telemetry characteristic.
func (t *BLETransport) Connect(ctx context.Context, addr string) (Conn, error) {
	t.mu.Lock()
	address, ok := t.found[addr]
	t.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s was not discovered", ErrDeviceNotFound, addr)
	}

	device, err := t.adapter.Connect(address, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, err
	}

	t.log.Debug("Connected to tracker", zap.String("address", addr))

	services, err := device.DiscoverServices(nil)
	if err != nil {
		_ = device.Disconnect()
		return nil, fmt.Errorf("discover services: %w", err)
	}

	var char *bluetooth.DeviceCharacteristic
	for _, svc := range services {
		chars, err := svc.DiscoverCharacteristics([]bluetooth.UUID{t.charUUID})
		if err != nil || len(chars) == 0 {
			continue
		}
		char = &chars[0]
		break
	}
	if char == nil {
		_ = device.Disconnect()
		return nil, fmt.Errorf("characteristic %s not found", t.charUUID.String())
	}

	c := &bleConn{transport: t, key: addr, device: device, char: char}
	c.connected.Store(true)
	t.mu.Lock()
	t.conns[addr] = c
	t.mu.Unlock()
	return c, nil
}

type bleConn struct {
	transport *BLETransport
	key       string
	device    bluetooth.Device
	char      *bluetooth.DeviceCharacteristic
	connected atomic.Bool
	closeOnce sync.Once
}

func (c *bleConn) Subscribe(handler func([]byte)) error {
	if !c.connected.Load() {
		return ErrNotConnected
	}
	return c.char.EnableNotifications(func(buf []byte) {
		// The buffer is reused by the stack once the callback returns.
		payload := make([]byte, len(buf))
		copy(payload, buf)
		handler(payload)
	})
}

func (c *bleConn) Unsubscribe() error {
	if !c.connected.Load() {
		return ErrNotConnected
	}
	return c.char.EnableNotifications(nil)
}

func (c *bleConn) Connected() bool {
	return c.connected.Load()
}

func (c *bleConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.connected.Store(false)
		c.transport.mu.Lock()
		delete(c.transport.conns, c.key)
		c.transport.mu.Unlock()
		err = c.device.Disconnect()
	})
	return err
}

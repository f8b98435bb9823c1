package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

const (
	// RSSI to distance estimation
	MeasuredPower = -40.0 // Default RSSI at 1 meter (dBm)
	PathLossExp   = 2.0   // Default path loss exponent (N)
	MinDistance   = 0.1   // Meters
	MaxDistance   = 20.0  // Meters

	// Room geometry
	RoomName   = "DANCE_ROOM"
	RoomWidth  = 10.0 // Meters
	RoomHeight = 10.0 // Meters

	// Tracker link
	DeviceName         = "PortentaTracker"
	CharacteristicUUID = "D7F10001-8F98-4B86-B9F2-C5E0D6526D3C"
	ReconnectBackoff   = 5 * time.Second
	LivenessInterval   = 1 * time.Second
	ScanTimeout        = 10 * time.Second
	SerialBaudRate     = 115200
	MockFrameInterval  = 500 * time.Millisecond
	ReadingQueueSize   = 16

	// Pipeline
	HistorySize = 60

	// Server
	ListenAddr   = ":8000"
	WriteTimeout = 10 * time.Second
	ServiceName  = "SmartCrowd Backend"

	// Bridges
	MQTTTopic       = "smartcrowd/sensor"
	RedisStream     = "smartcrowd:sensor"
	RedisStreamSize = 1000

	// Monitor
	MonitorURL       = "ws://localhost:8000/ws"
	MonitorReconnect = 2 * time.Second
	AspectRatio      = 0.5 // Terminal char aspect correction (chars are ~2:1 tall)
	TargetFPS        = 10
	PulsePeriod      = 2 * time.Second
	PulseRange       = 6.0 // Meters
	PulseWidth       = 0.8 // Meters
	TrailLength      = 12
	ControlTimeout   = 2 * time.Second

	// App
	AppName    = "SMARTCROWD"
	AppVersion = "1.0"
)

// Transport kinds accepted by Config.Transport.
const (
	TransportBLE    = "ble"
	TransportSerial = "serial"
	TransportMock   = "mock"
)

// Config is the runtime configuration of the backend. Defaults come from the
// constants above, then the environment, then command line flags.
type Config struct {
	Transport   string
	DeviceName  string
	SerialPort  string
	BaudRate    int
	Listen      string
	Room        string
	Backoff     time.Duration
	Poll        time.Duration
	ScanTimeout time.Duration

	LogLevel  string
	LogFormat string

	MQTTBroker  string
	MQTTTopic   string
	RedisAddr   string
	RedisStream string
}

// Default returns a Config populated with the built-in defaults.
func Default() Config {
	return Config{
		Transport:   TransportBLE,
		DeviceName:  DeviceName,
		BaudRate:    SerialBaudRate,
		Listen:      ListenAddr,
		Room:        RoomName,
		Backoff:     ReconnectBackoff,
		Poll:        LivenessInterval,
		ScanTimeout: ScanTimeout,
		LogLevel:    "info",
		LogFormat:   "json",
		MQTTTopic:   MQTTTopic,
		RedisStream: RedisStream,
	}
}

// LoadFromEnv overrides fields from <prefix>_* environment variables.
func (c *Config) LoadFromEnv(prefix string) error {
	str := func(key string, dst *string) {
		if v := os.Getenv(prefix + "_" + key); v != "" {
			*dst = v
		}
	}
	str("TRANSPORT", &c.Transport)
	str("DEVICE_NAME", &c.DeviceName)
	str("SERIAL_PORT", &c.SerialPort)
	str("LISTEN", &c.Listen)
	str("ROOM", &c.Room)
	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FORMAT", &c.LogFormat)
	str("MQTT_BROKER", &c.MQTTBroker)
	str("MQTT_TOPIC", &c.MQTTTopic)
	str("REDIS_ADDR", &c.RedisAddr)
	str("REDIS_STREAM", &c.RedisStream)

	if v := os.Getenv(prefix + "_BAUD"); v != "" {
		baud, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s_BAUD: %w", prefix, err)
		}
		c.BaudRate = baud
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"BACKOFF", &c.Backoff},
		{"POLL", &c.Poll},
		{"SCAN_TIMEOUT", &c.ScanTimeout},
	}
	for _, d := range durations {
		v := os.Getenv(prefix + "_" + d.key)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s_%s: %w", prefix, d.key, err)
		}
		*d.dst = parsed
	}
	return nil
}

// Validate reports the first inconsistency in c.
func (c Config) Validate() error {
	switch c.Transport {
	case TransportBLE, TransportMock:
	case TransportSerial:
		// An empty SerialPort means auto-detect.
		if c.BaudRate <= 0 {
			return fmt.Errorf("invalid baud rate %d", c.BaudRate)
		}
	default:
		return fmt.Errorf("unknown transport %q (want %s, %s or %s)",
			c.Transport, TransportBLE, TransportSerial, TransportMock)
	}
	if c.Backoff <= 0 || c.Poll <= 0 || c.ScanTimeout <= 0 {
		return fmt.Errorf("backoff, poll and scan timeout must be positive")
	}
	if c.Listen == "" {
		return fmt.Errorf("listen address is empty")
	}
	return nil
}

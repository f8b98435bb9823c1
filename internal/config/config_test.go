package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, TransportBLE, cfg.Transport)
	assert.Equal(t, 5*time.Second, cfg.Backoff)
	assert.Equal(t, time.Second, cfg.Poll)
	assert.Equal(t, "DANCE_ROOM", cfg.Room)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("SCTEST_TRANSPORT", "serial")
	t.Setenv("SCTEST_SERIAL_PORT", "/dev/ttyACM0")
	t.Setenv("SCTEST_BAUD", "9600")
	t.Setenv("SCTEST_BACKOFF", "250ms")

	cfg := Default()
	require.NoError(t, cfg.LoadFromEnv("SCTEST"))

	assert.Equal(t, TransportSerial, cfg.Transport)
	assert.Equal(t, "/dev/ttyACM0", cfg.SerialPort)
	assert.Equal(t, 9600, cfg.BaudRate)
	assert.Equal(t, 250*time.Millisecond, cfg.Backoff)
	assert.Equal(t, time.Second, cfg.Poll, "unset variables keep their defaults")
	require.NoError(t, cfg.Validate())
}

func TestLoadFromEnvRejectsBadDuration(t *testing.T) {
	t.Setenv("SCTEST_POLL", "soon")
	cfg := Default()
	assert.Error(t, cfg.LoadFromEnv("SCTEST"))
}

func TestValidateSerialAutoDetect(t *testing.T) {
	cfg := Default()
	cfg.Transport = TransportSerial
	assert.NoError(t, cfg.Validate(), "serial port is auto-detected when unset")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown transport", func(c *Config) { c.Transport = "carrier-pigeon" }},
		{"serial without baud", func(c *Config) { c.Transport = TransportSerial; c.BaudRate = 0 }},
		{"zero backoff", func(c *Config) { c.Backoff = 0 }},
		{"empty listen", func(c *Config) { c.Listen = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

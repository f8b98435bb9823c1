package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"smartcrowd.klederson.com/internal/app"
	"smartcrowd.klederson.com/internal/bluetooth"
	"smartcrowd.klederson.com/internal/broadcast"
	"smartcrowd.klederson.com/internal/calibration"
	"smartcrowd.klederson.com/internal/config"
	"smartcrowd.klederson.com/internal/logging"
	"smartcrowd.klederson.com/internal/metrics"
	"smartcrowd.klederson.com/internal/pipeline"
	"smartcrowd.klederson.com/internal/server"
)

const envPrefix = "SMARTCROWD"

var (
	cfg = config.Default()

	flagMonitorURL string
	flagLogFile    string
)

func main() {
	// Defaults, then environment, then flags.
	if err := cfg.LoadFromEnv(envPrefix); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	rootCmd := &cobra.Command{
		Use:   "smartcrowd",
		Short: "SmartCrowd - wearable tracker backend with live position streaming",
		Long: `SmartCrowd connects to a wearable tracker over Bluetooth LE (or a serial
port), turns its RSSI readings into a position inside the room and streams
vitals and position to WebSocket subscribers.

Bluetooth access may require sudo or the CAP_NET_ADMIN capability.
Use --transport mock for a simulated tracker without hardware.

Every flag can also be set through a SMARTCROWD_* environment variable,
e.g. SMARTCROWD_TRANSPORT=mock.`,
		SilenceUsage: true,
		RunE:         runServe,
	}

	f := rootCmd.Flags()
	f.StringVar(&cfg.Transport, "transport", cfg.Transport, "Tracker link: ble, serial or mock")
	f.StringVar(&cfg.DeviceName, "device-name", cfg.DeviceName, "BLE local name of the tracker")
	f.StringVar(&cfg.SerialPort, "serial-port", cfg.SerialPort, "Serial port of the tracker (auto-detect when empty)")
	f.IntVar(&cfg.BaudRate, "baud", cfg.BaudRate, "Serial baud rate")
	f.StringVar(&cfg.Listen, "listen", cfg.Listen, "HTTP listen address")
	f.StringVar(&cfg.Room, "room", cfg.Room, "Room name reported with each reading")
	f.DurationVar(&cfg.Backoff, "backoff", cfg.Backoff, "Wait after a failed link attempt")
	f.DurationVar(&cfg.Poll, "poll", cfg.Poll, "Link liveness check interval")
	f.DurationVar(&cfg.ScanTimeout, "scan-timeout", cfg.ScanTimeout, "BLE scan timeout per attempt")
	f.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn, error")
	f.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format: json or console")
	f.StringVar(&cfg.MQTTBroker, "mqtt-broker", cfg.MQTTBroker, "Republish the stream to this MQTT broker (e.g. tcp://localhost:1883)")
	f.StringVar(&cfg.MQTTTopic, "mqtt-topic", cfg.MQTTTopic, "MQTT topic for the republished stream")
	f.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "Append the stream to Redis at this address")
	f.StringVar(&cfg.RedisStream, "redis-stream", cfg.RedisStream, "Redis stream key")

	monitorCmd := &cobra.Command{
		Use:   "monitor",
		Short: "Terminal view of a running backend",
		Long: `monitor subscribes to a running backend's WebSocket stream and shows the
room map, the wearer's vitals and the anchor calibration. The selected
anchor's calibration can be adjusted from the keyboard.`,
		SilenceUsage: true,
		RunE:         runMonitor,
	}
	monitorCmd.Flags().StringVar(&flagMonitorURL, "url", config.MonitorURL, "Backend WebSocket endpoint")
	monitorCmd.Flags().StringVar(&flagLogFile, "log-file", "", "Write debug logs to this file")
	rootCmd.AddCommand(monitorCmd)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := logging.New(cfg.LogLevel, cfg.LogFormat, "smartcrowd")
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	transport, err := newTransport(log)
	if err != nil {
		return err
	}

	parser := bluetooth.NewFrameParser(log, m)
	session := bluetooth.NewSession(transport, parser, bluetooth.SessionConfig{
		Backoff:   cfg.Backoff,
		Poll:      cfg.Poll,
		QueueSize: config.ReadingQueueSize,
	}, log, m)
	session.OnStateChange(func(s bluetooth.State) {
		log.Info("Tracker link state", zap.String("state", s.String()))
	})

	store := calibration.NewStore()
	hub := broadcast.NewHub(log, m)
	if err := connectBridges(ctx, hub, log); err != nil {
		return err
	}

	pipe := pipeline.New(store, hub, cfg.Room, log, m)
	srv := server.New(store, hub, server.Options{
		Link:     session,
		Readings: parser,
		Gatherer: reg,
		Logger:   log,
		Metrics:  m,
	})

	log.Info("Starting SmartCrowd backend",
		zap.String("transport", cfg.Transport),
		zap.String("listen", cfg.Listen),
		zap.String("room", cfg.Room),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return session.Run(gctx) })
	g.Go(func() error { return pipe.Run(gctx, session.Readings()) })
	g.Go(func() error { return srv.ListenAndServe(gctx, cfg.Listen) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Backend stopped", zap.Error(err))
		return err
	}
	log.Info("Shutdown complete")
	return nil
}

func newTransport(log *zap.Logger) (bluetooth.Transport, error) {
	switch cfg.Transport {
	case config.TransportMock:
		return bluetooth.NewMockTransport(config.MockFrameInterval), nil
	case config.TransportSerial:
		return bluetooth.NewSerialTransport(cfg.SerialPort, cfg.BaudRate, log), nil
	default:
		t, err := bluetooth.NewBLETransport(cfg.DeviceName, cfg.ScanTimeout, log)
		if err != nil {
			return nil, fmt.Errorf("ble transport: %w", err)
		}
		return t, nil
	}
}

// connectBridges attaches the optional MQTT and Redis republishers to the
// hub. They are subscribers like any WebSocket client.
func connectBridges(ctx context.Context, hub *broadcast.Hub, log *zap.Logger) error {
	if cfg.MQTTBroker != "" {
		client, err := broadcast.NewMQTTClient(cfg.MQTTBroker, "")
		if err != nil {
			return fmt.Errorf("mqtt bridge: %w", err)
		}
		hub.Connect(broadcast.NewMQTTSubscriber(client, cfg.MQTTTopic))
		log.Info("MQTT bridge connected", zap.String("broker", cfg.MQTTBroker), zap.String("topic", cfg.MQTTTopic))
	}

	if cfg.RedisAddr != "" {
		client, err := broadcast.NewRedisClient(ctx, cfg.RedisAddr)
		if err != nil {
			return fmt.Errorf("redis bridge: %w", err)
		}
		hub.Connect(broadcast.NewStreamSubscriber(client, cfg.RedisStream, config.RedisStreamSize))
		log.Info("Redis bridge connected", zap.String("addr", cfg.RedisAddr), zap.String("stream", cfg.RedisStream))
	}
	return nil
}

func runMonitor(cmd *cobra.Command, args []string) error {
	log := zap.NewNop()
	if flagLogFile != "" {
		l, err := logging.NewFile("debug", flagLogFile, "smartcrowd-monitor")
		if err != nil {
			return fmt.Errorf("failed to create logger: %w", err)
		}
		log = l
		defer func() { _ = log.Sync() }()
	}

	feed := app.NewFeed(flagMonitorURL, config.MonitorReconnect, log)
	p := tea.NewProgram(
		app.New(feed),
		tea.WithAltScreen(),
		tea.WithFPS(30),
	)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	go feed.Run(ctx, p.Send)

	_, err := p.Run()
	return err
}

package broadcast

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"smartcrowd.klederson.com/internal/config"
)

const mqttPublishTimeout = 5 * time.Second

// Publisher is the part of mqtt.Client the bridge needs.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// NewMQTTClient connects to broker with auto-reconnect enabled.
func NewMQTTClient(broker, clientID string) (mqtt.Client, error) {
	if clientID == "" {
		clientID = "smartcrowd-" + uuid.NewString()[:8]
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetConnectTimeout(10 * time.Second)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	return client, nil
}

// MQTTSubscriber republishes every message on one topic at QoS 0.
type MQTTSubscriber struct {
	id      string
	client  Publisher
	topic   string
	timeout time.Duration
}

func NewMQTTSubscriber(client Publisher, topic string) *MQTTSubscriber {
	if topic == "" {
		topic = config.MQTTTopic
	}
	return &MQTTSubscriber{
		id:      "mqtt-" + uuid.NewString(),
		client:  client,
		topic:   topic,
		timeout: mqttPublishTimeout,
	}
}

func (s *MQTTSubscriber) ID() string {
	return s.id
}

func (s *MQTTSubscriber) Send(ctx context.Context, payload []byte) error {
	timeout := s.timeout
	if d, ok := ctx.Deadline(); ok {
		if left := time.Until(d); left < timeout {
			timeout = left
		}
	}

	token := s.client.Publish(s.topic, 0, false, payload)
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("publish to %s: timed out after %s", s.topic, timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", s.topic, err)
	}
	return nil
}

// Close disconnects the client if it supports it.
func (s *MQTTSubscriber) Close() error {
	if c, ok := s.client.(interface{ Disconnect(quiesce uint) }); ok {
		c.Disconnect(250)
	}
	return nil
}

package broadcast

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"smartcrowd.klederson.com/internal/config"
)

// StreamAdder is the part of redis.Client the bridge needs.
type StreamAdder interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// NewRedisClient creates a client and checks the connection.
func NewRedisClient(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return client, nil
}

// StreamSubscriber appends every message to a capped Redis stream so that
// late consumers can replay recent history.
type StreamSubscriber struct {
	id     string
	client StreamAdder
	stream string
	maxLen int64
}

func NewStreamSubscriber(client StreamAdder, stream string, maxLen int64) *StreamSubscriber {
	if stream == "" {
		stream = config.RedisStream
	}
	if maxLen <= 0 {
		maxLen = config.RedisStreamSize
	}
	return &StreamSubscriber{
		id:     "stream-" + uuid.NewString(),
		client: client,
		stream: stream,
		maxLen: maxLen,
	}
}

func (s *StreamSubscriber) ID() string {
	return s.id
}

// Send adds one entry with the message type and its JSON payload.
func (s *StreamSubscriber) Send(ctx context.Context, payload []byte) error {
	var envelope struct {
		Type string `json:"type"`
	}
	_ = json.Unmarshal(payload, &envelope)

	err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"type":    envelope.Type,
			"payload": string(payload),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", s.stream, err)
	}
	return nil
}

// Close closes the client if it supports it.
func (s *StreamSubscriber) Close() error {
	if c, ok := s.client.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

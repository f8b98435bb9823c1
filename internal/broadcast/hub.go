// Package broadcast fans messages out to live subscribers: WebSocket clients
// and optional MQTT and Redis stream bridges.
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"smartcrowd.klederson.com/internal/metrics"
)

// Subscriber is one consumer of the message stream.
type Subscriber interface {
	ID() string
	Send(ctx context.Context, payload []byte) error
	Close() error
}

// Hub holds the active subscribers in connection order.
type Hub struct {
	log     *zap.Logger
	metrics *metrics.Metrics

	mu   sync.Mutex
	subs []Subscriber
}

func NewHub(log *zap.Logger, m *metrics.Metrics) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{log: log, metrics: m}
}

// Connect adds sub to the end of the delivery order.
func (h *Hub) Connect(sub Subscriber) {
	h.mu.Lock()
	h.subs = append(h.subs, sub)
	n := len(h.subs)
	h.mu.Unlock()

	h.metrics.Subscribers(n)
	h.log.Info("Subscriber connected", zap.String("id", sub.ID()), zap.Int("total", n))
}

// ConnectWith delivers the message built by initial to sub, then adds sub
// to the delivery order. Both happen under the hub lock, so no broadcast can
// reach sub before its initial message, and initial observes any state whose
// change broadcast has not yet taken its subscriber snapshot. On a failed
// send sub is not added.
func (h *Hub) ConnectWith(ctx context.Context, sub Subscriber, initial func() any) error {
	h.mu.Lock()
	payload, err := encode(initial())
	if err == nil {
		err = sub.Send(ctx, payload)
	}
	if err != nil {
		h.mu.Unlock()
		return fmt.Errorf("initial send to %s: %w", sub.ID(), err)
	}
	h.subs = append(h.subs, sub)
	n := len(h.subs)
	h.mu.Unlock()

	h.metrics.Subscribers(n)
	h.log.Info("Subscriber connected", zap.String("id", sub.ID()), zap.Int("total", n))
	return nil
}

// Disconnect removes the subscriber with the given ID. The caller keeps
// ownership of the underlying connection. Returns false if it was not present.
func (h *Hub) Disconnect(id string) bool {
	h.mu.Lock()
	removed := h.remove(id)
	n := len(h.subs)
	h.mu.Unlock()

	if removed {
		h.metrics.Subscribers(n)
		h.log.Info("Subscriber disconnected", zap.String("id", id), zap.Int("total", n))
	}
	return removed
}

// remove must be called with mu held.
func (h *Hub) remove(id string) bool {
	for i, s := range h.subs {
		if s.ID() == id {
			h.subs = append(h.subs[:i:i], h.subs[i+1:]...)
			return true
		}
	}
	return false
}

// Count returns the number of active subscribers.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Broadcast encodes msg once and delivers it to every subscriber in order.
// A subscriber whose delivery fails is removed and closed after the pass;
// the others still receive the message.
func (h *Hub) Broadcast(ctx context.Context, msg any) {
	payload, err := encode(msg)
	if err != nil {
		h.log.Error("Failed to encode broadcast message", zap.Error(err))
		return
	}

	start := time.Now()
	h.mu.Lock()
	snapshot := make([]Subscriber, len(h.subs))
	copy(snapshot, h.subs)
	h.mu.Unlock()

	var failed []Subscriber
	for _, sub := range snapshot {
		if err := sub.Send(ctx, payload); err != nil {
			h.log.Warn("Delivery failed, dropping subscriber",
				zap.String("id", sub.ID()),
				zap.Error(err),
			)
			failed = append(failed, sub)
		}
	}
	h.prune(failed)
	h.metrics.BroadcastDone(start)
}

func (h *Hub) prune(failed []Subscriber) {
	if len(failed) == 0 {
		return
	}
	h.mu.Lock()
	for _, sub := range failed {
		h.remove(sub.ID())
	}
	n := len(h.subs)
	h.mu.Unlock()

	for _, sub := range failed {
		h.metrics.DeliveryFailed()
		_ = sub.Close()
	}
	h.metrics.Subscribers(n)
}

// Close disconnects and closes every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := h.subs
	h.subs = nil
	h.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Close()
	}
	h.metrics.Subscribers(0)
}

func encode(msg any) ([]byte, error) {
	switch m := msg.(type) {
	case []byte:
		return m, nil
	case json.RawMessage:
		return m, nil
	default:
		return json.Marshal(msg)
	}
}

package broadcast

import (
	"context"
	"errors"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeToken struct {
	done bool
	err  error
}

func (t *fakeToken) Wait() bool                     { return t.done }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	if t.done {
		close(ch)
	}
	return ch
}

type published struct {
	topic   string
	qos     byte
	payload []byte
}

type fakePublisher struct {
	token        *fakeToken
	sent         []published
	disconnected bool
}

func (p *fakePublisher) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	p.sent = append(p.sent, published{topic, qos, payload.([]byte)})
	return p.token
}

func (p *fakePublisher) Disconnect(uint) { p.disconnected = true }

func TestMQTTSubscriberPublishes(t *testing.T) {
	pub := &fakePublisher{token: &fakeToken{done: true}}
	s := NewMQTTSubscriber(pub, "")

	require.NoError(t, s.Send(context.Background(), []byte(`{"type":"sensor_data"}`)))
	require.Len(t, pub.sent, 1)
	assert.Equal(t, "smartcrowd/sensor", pub.sent[0].topic)
	assert.Equal(t, byte(0), pub.sent[0].qos)
	assert.Equal(t, `{"type":"sensor_data"}`, string(pub.sent[0].payload))

	require.NoError(t, s.Close())
	assert.True(t, pub.disconnected)
}

func TestMQTTSubscriberFailures(t *testing.T) {
	timedOut := NewMQTTSubscriber(&fakePublisher{token: &fakeToken{}}, "t")
	assert.ErrorContains(t, timedOut.Send(context.Background(), []byte("x")), "timed out")

	rejected := NewMQTTSubscriber(&fakePublisher{token: &fakeToken{done: true, err: errors.New("not connected")}}, "t")
	assert.ErrorContains(t, rejected.Send(context.Background(), []byte("x")), "not connected")
}

type fakeStream struct {
	args []*redis.XAddArgs
	err  error
}

func (f *fakeStream) XAdd(_ context.Context, a *redis.XAddArgs) *redis.StringCmd {
	f.args = append(f.args, a)
	if f.err != nil {
		return redis.NewStringResult("", f.err)
	}
	return redis.NewStringResult("1-0", nil)
}

func TestStreamSubscriberAppends(t *testing.T) {
	fs := &fakeStream{}
	s := NewStreamSubscriber(fs, "", 0)

	require.NoError(t, s.Send(context.Background(), []byte(`{"type":"calibration_update","data":{}}`)))
	require.Len(t, fs.args, 1)
	a := fs.args[0]
	assert.Equal(t, "smartcrowd:sensor", a.Stream)
	assert.Equal(t, int64(1000), a.MaxLen)
	assert.True(t, a.Approx)
	assert.Equal(t, map[string]interface{}{
		"type":    "calibration_update",
		"payload": `{"type":"calibration_update","data":{}}`,
	}, a.Values)
}

func TestStreamSubscriberError(t *testing.T) {
	s := NewStreamSubscriber(&fakeStream{err: errors.New("READONLY")}, "s", 10)
	assert.ErrorContains(t, s.Send(context.Background(), []byte("{}")), "READONLY")
	assert.NoError(t, s.Close())
}

func TestBridgeIsPrunedLikeAnySubscriber(t *testing.T) {
	h := NewHub(nil, nil)
	ws := &fakeSubscriber{id: "ws"}
	bridge := NewStreamSubscriber(&fakeStream{err: errors.New("down")}, "s", 10)
	h.Connect(bridge)
	h.Connect(ws)

	h.Broadcast(context.Background(), []byte(`{"type":"sensor_data"}`))
	assert.Equal(t, []string{"ws"}, ids(h))
	assert.Len(t, ws.received(), 1)
}

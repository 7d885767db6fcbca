package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ukydev/fleet-maintenance/internal/models"
)

type doneToken struct {
	err  error
	done chan struct{}
}

func newDoneToken(err error) *doneToken {
	t := &doneToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *doneToken) Wait() bool                     { return true }
func (t *doneToken) WaitTimeout(time.Duration) bool { return true }
func (t *doneToken) Done() <-chan struct{}          { return t.done }
func (t *doneToken) Error() error                   { return t.err }

type pendingToken struct{ doneToken }

func (t *pendingToken) Done() <-chan struct{} { return make(chan struct{}) }

// fakeClient records publishes. Unused mqtt.Client methods panic.
type fakeClient struct {
	mqtt.Client
	topic   string
	qos     byte
	payload []byte
	token   mqtt.Token
}

func (c *fakeClient) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	c.topic, c.qos, c.payload = topic, qos, payload.([]byte)
	return c.token
}

type mockSink struct {
	mock.Mock
}

func (m *mockSink) RecordReading(ctx context.Context, r models.MeterReading) error {
	args := m.Called(ctx, r)
	return args.Error(0)
}

func TestMQTTPublisher_Publish(t *testing.T) {
	client := &fakeClient{token: newDoneToken(nil)}
	p := NewMQTTPublisher(client, "fleet/maintenance")
	fixed := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return fixed }

	err := p.Publish(context.Background(), OrderCreated, map[string]string{"order_id": "o1"})
	require.NoError(t, err)

	assert.Equal(t, "fleet/maintenance/order.created", client.topic)
	assert.Equal(t, byte(1), client.qos)

	var env Envelope
	require.NoError(t, json.Unmarshal(client.payload, &env))
	assert.Equal(t, OrderCreated, env.Type)
	assert.Equal(t, fixed, env.OccurredAt)
	assert.JSONEq(t, `{"order_id":"o1"}`, string(env.Payload))
}

func TestMQTTPublisher_Errors(t *testing.T) {
	client := &fakeClient{token: newDoneToken(errors.New("not connected"))}
	p := NewMQTTPublisher(client, "fleet")
	err := p.Publish(context.Background(), TaskCancelled, struct{}{})
	assert.ErrorContains(t, err, "not connected")

	err = p.Publish(context.Background(), TaskCancelled, make(chan int))
	assert.Error(t, err)

	client.token = &pendingToken{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = p.Publish(ctx, TaskCancelled, struct{}{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNopPublisher(t *testing.T) {
	var p Publisher = NopPublisher{}
	assert.NoError(t, p.Publish(context.Background(), OrderCompleted, nil))
	p.Close()
}

func TestTelemetrySubscriber_Handle(t *testing.T) {
	sink := new(mockSink)
	s := NewTelemetrySubscriber(nil, "fleet/telemetry/", sink)
	assert.Equal(t, "fleet/telemetry/+", s.Filter())

	sink.On("RecordReading", mock.Anything, mock.MatchedBy(func(r models.MeterReading) bool {
		return r.AssetID == "a1" && r.Odometer != nil && *r.Odometer == 1234.5 && !r.Timestamp.IsZero()
	})).Return(nil).Once()
	require.NoError(t, s.Handle("fleet/telemetry/a1", []byte(`{"odometer":1234.5}`)))

	sink.On("RecordReading", mock.Anything, mock.MatchedBy(func(r models.MeterReading) bool {
		return r.AssetID == "a2"
	})).Return(errors.New("unknown asset")).Once()
	assert.Error(t, s.Handle("fleet/telemetry/x", []byte(`{"asset_id":"a2","engine_hours":10}`)))

	assert.Error(t, s.Handle("fleet/telemetry/a1", []byte(`not json`)))
	assert.Error(t, s.Handle("fleet/telemetry/", []byte(`{}`)))

	sink.AssertExpectations(t)
}

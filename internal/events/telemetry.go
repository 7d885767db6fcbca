package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"

	"github.com/ukydev/fleet-maintenance/internal/models"
)

// ReadingSink accepts meter readings.
type ReadingSink interface {
	RecordReading(ctx context.Context, r models.MeterReading) error
}

// TelemetrySubscriber feeds meter readings published on <topic>/<assetID>
// into a sink.
type TelemetrySubscriber struct {
	client  mqtt.Client
	topic   string
	sink    ReadingSink
	timeout time.Duration
}

// NewTelemetrySubscriber creates a subscriber on a connected client.
func NewTelemetrySubscriber(client mqtt.Client, topic string, sink ReadingSink) *TelemetrySubscriber {
	return &TelemetrySubscriber{client: client, topic: strings.TrimSuffix(topic, "/"), sink: sink, timeout: 5 * time.Second}
}

// Filter is the subscription filter.
func (s *TelemetrySubscriber) Filter() string {
	return s.topic + "/+"
}

// Start subscribes to the telemetry topic.
func (s *TelemetrySubscriber) Start() error {
	token := s.client.Subscribe(s.Filter(), 1, func(_ mqtt.Client, msg mqtt.Message) {
		if err := s.Handle(msg.Topic(), msg.Payload()); err != nil {
			log.WithError(err).WithField("topic", msg.Topic()).Warn("Dropped meter reading")
		}
	})
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", s.Filter(), err)
	}
	log.WithField("filter", s.Filter()).Info("Subscribed to meter telemetry")
	return nil
}

// Stop unsubscribes.
func (s *TelemetrySubscriber) Stop() {
	s.client.Unsubscribe(s.Filter()).Wait()
}

// Handle decodes one telemetry message. The asset id falls back to the last
// topic segment when the payload omits it.
func (s *TelemetrySubscriber) Handle(topic string, payload []byte) error {
	var r models.MeterReading
	if err := json.Unmarshal(payload, &r); err != nil {
		return fmt.Errorf("decode reading: %w", err)
	}
	if r.AssetID == "" {
		r.AssetID = topic[strings.LastIndex(topic, "/")+1:]
	}
	if r.AssetID == "" {
		return fmt.Errorf("reading on %s has no asset id", topic)
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	return s.sink.RecordReading(ctx, r)
}

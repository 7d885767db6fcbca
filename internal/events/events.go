// Package events publishes maintenance lifecycle events and consumes meter
// telemetry over MQTT.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
)

// Type names a lifecycle event. It is also the last topic segment.
type Type string

const (
	ScheduleExpanded        Type = "schedule.expanded"
	OrderCreated            Type = "order.created"
	OrderCompletionRecorded Type = "order.completion_recorded"
	OrderCompleted          Type = "order.completed"
	OrderCancelled          Type = "order.cancelled"
	TaskCancelled           Type = "task.cancelled"
	TaskUpdated             Type = "task.updated"
	TasksDeleted            Type = "tasks.deleted"
	VendorCreated           Type = "vendor.created"
)

const defaultPublishQoS byte = 1

// Envelope is the JSON body of every published message.
type Envelope struct {
	Type       Type            `json:"type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// Publisher delivers lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, t Type, payload interface{}) error
	Close()
}

// NopPublisher drops every event. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Type, interface{}) error { return nil }
func (NopPublisher) Close() {}

// MQTTConfig holds broker connection settings.
type MQTTConfig struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	ConnectTimeout time.Duration
}

// Connect opens an MQTT connection that reconnects on its own.
func Connect(cfg MQTTConfig) (mqtt.Client, error) {
	timeout := cfg.ConnectTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetAutoReconnect(true).
		SetConnectTimeout(timeout).
		SetOrderMatters(false).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.WithError(err).Warn("MQTT connection lost")
		}).
		SetOnConnectHandler(func(mqtt.Client) {
			log.WithField("broker", cfg.Broker).Info("MQTT connected")
		})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(timeout) {
		return nil, fmt.Errorf("mqtt connect to %s: timed out", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", cfg.Broker, err)
	}
	return client, nil
}

// MQTTPublisher publishes envelopes to <prefix>/<type>.
type MQTTPublisher struct {
	client mqtt.Client
	prefix string
	now    func() time.Time
}

// NewMQTTPublisher creates a publisher on an already connected client.
func NewMQTTPublisher(client mqtt.Client, prefix string) *MQTTPublisher {
	return &MQTTPublisher{client: client, prefix: prefix, now: time.Now}
}

// Topic returns the topic an event type is published on.
func (p *MQTTPublisher) Topic(t Type) string {
	return p.prefix + "/" + string(t)
}

// Publish sends one event at QoS 1 and waits for the broker to accept it.
func (p *MQTTPublisher) Publish(ctx context.Context, t Type, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", t, err)
	}
	data, err := json.Marshal(Envelope{Type: t, OccurredAt: p.now().UTC(), Payload: body})
	if err != nil {
		return fmt.Errorf("marshal %s envelope: %w", t, err)
	}

	token := p.client.Publish(p.Topic(t), defaultPublishQoS, false, data)
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("publish %s: %w", t, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close disconnects from the broker.
func (p *MQTTPublisher) Close() {
	p.client.Disconnect(250)
}

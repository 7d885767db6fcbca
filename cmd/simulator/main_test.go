package main

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ukydev/fleet-maintenance/internal/models"
)

func TestAdvance(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	s := &AssetState{AssetID: "a1", Odometer: 1000, EngineHours: 50, SpeedMph: 50}

	for i := 0; i < 200; i++ {
		prevOdo, prevHrs := s.Odometer, s.EngineHours
		advance(s, rng, 15*time.Minute)

		assert.GreaterOrEqual(t, s.SpeedMph, 25.0)
		assert.LessOrEqual(t, s.SpeedMph, 70.0)
		assert.InDelta(t, prevHrs+0.25, s.EngineHours, 1e-9)
		if s.Idle {
			assert.Equal(t, prevOdo, s.Odometer)
		} else {
			assert.InDelta(t, prevOdo+s.SpeedMph*0.25, s.Odometer, 1e-9)
		}
	}
}

func TestReadingFrom(t *testing.T) {
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	s := &AssetState{AssetID: "a2", Odometer: 96310.5, EngineHours: 3390.25}
	r := readingFrom(s, now)

	require.NotNil(t, r.Odometer)
	require.NotNil(t, r.EngineHours)
	assert.Equal(t, "a2", r.AssetID)
	assert.Equal(t, 96310.5, *r.Odometer)
	assert.Equal(t, 3390.25, *r.EngineHours)
	assert.Equal(t, now, r.Timestamp)

	// The reading does not alias the state.
	s.Odometer = 0
	assert.Equal(t, 96310.5, *r.Odometer)
}

func TestFetchAssets(t *testing.T) {
	authToken = "sim-token"
	defer func() { authToken = "" }()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/assets", r.URL.Path)
		assert.Equal(t, "Bearer sim-token", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode([]models.Asset{{ID: "a1", CurrentOdometer: 182450}})
	}))
	defer server.Close()

	assets, err := fetchAssets(context.Background(), server.URL+"/api")
	require.NoError(t, err)
	require.Len(t, assets, 1)
	assert.Equal(t, 182450.0, assets[0].CurrentOdometer)
}

func TestFetchAssets_Unauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	_, err := fetchAssets(context.Background(), server.URL+"/api")
	assert.ErrorContains(t, err, "401")
}

func TestHTTPSender(t *testing.T) {
	var got models.MeterReading
	status := http.StatusNoContent
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/assets/a1/meter", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(status)
	}))
	defer server.Close()

	sender := httpSender{apiURL: server.URL + "/api"}
	r := readingFrom(&AssetState{AssetID: "a1", Odometer: 10, EngineHours: 1}, time.Now().UTC())
	require.NoError(t, sender.Send(context.Background(), r))
	require.NotNil(t, got.Odometer)
	assert.Equal(t, 10.0, *got.Odometer)

	status = http.StatusNotFound
	assert.ErrorContains(t, sender.Send(context.Background(), r), "404")
}

type doneToken struct {
	mqtt.Token
	err error
}

func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

func (t doneToken) Error() error { return t.err }

type fakeClient struct {
	mqtt.Client
	mu      sync.Mutex
	topics  []string
	payload [][]byte
	err     error
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topics = append(c.topics, topic)
	c.payload = append(c.payload, payload.([]byte))
	return doneToken{err: c.err}
}

func TestMQTTSender(t *testing.T) {
	client := &fakeClient{}
	sender := mqttSender{client: client, topic: "fleet/telemetry/"}
	r := readingFrom(&AssetState{AssetID: "a3", Odometer: 5}, time.Now().UTC())

	require.NoError(t, sender.Send(context.Background(), r))
	assert.Equal(t, []string{"fleet/telemetry/a3"}, client.topics)

	var decoded models.MeterReading
	require.NoError(t, json.Unmarshal(client.payload[0], &decoded))
	assert.Equal(t, "a3", decoded.AssetID)

	client.err = errors.New("broker gone")
	assert.EqualError(t, sender.Send(context.Background(), r), "broker gone")
}

type recordingSender struct {
	mu       sync.Mutex
	readings []models.MeterReading
}

func (s *recordingSender) Send(_ context.Context, r models.MeterReading) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readings = append(s.readings, r)
	return nil
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.readings)
}

func TestSimulateAsset_StopsOnCancel(t *testing.T) {
	sender := &recordingSender{}
	state := &AssetState{AssetID: "a1", Odometer: 100, SpeedMph: 40}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		simulateAsset(ctx, sender, state, 5*time.Millisecond, time.Hour, 1)
		close(done)
	}()

	require.Eventually(t, func() bool { return sender.count() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("simulateAsset did not stop")
	}

	sender.mu.Lock()
	defer sender.mu.Unlock()
	for i := 1; i < len(sender.readings); i++ {
		assert.GreaterOrEqual(t, *sender.readings[i].Odometer, *sender.readings[i-1].Odometer)
		assert.Greater(t, *sender.readings[i].EngineHours, *sender.readings[i-1].EngineHours)
	}
}

func TestEnvDuration(t *testing.T) {
	t.Setenv("SIM_TICK_SECONDS", "5")
	assert.Equal(t, 5*time.Second, envDuration("SIM_TICK_SECONDS", time.Second))

	t.Setenv("SIM_TICK_SECONDS", "zero")
	assert.Equal(t, time.Second, envDuration("SIM_TICK_SECONDS", time.Second))

	t.Setenv("SIM_TICK_SECONDS", "0")
	assert.Equal(t, time.Second, envDuration("SIM_TICK_SECONDS", time.Second))
}

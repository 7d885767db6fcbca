// Command simulator drives asset meters forward and reports the readings,
// either over MQTT to the telemetry topic or to the meter endpoint of the
// API.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"

	"github.com/ukydev/fleet-maintenance/internal/events"
	"github.com/ukydev/fleet-maintenance/internal/models"
)

// AssetState is the simulated position of one asset's meters.
type AssetState struct {
	AssetID     string
	Odometer    float64
	EngineHours float64
	SpeedMph    float64
	Idle        bool
}

// Sender delivers a reading to the maintenance service.
type Sender interface {
	Send(ctx context.Context, r models.MeterReading) error
}

var authToken string

var httpClient = &http.Client{Timeout: 10 * time.Second}

func authorizedRequest(ctx context.Context, method, url string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authToken != "" {
		req.Header.Set("Authorization", "Bearer "+authToken)
	}
	return httpClient.Do(req)
}

// fetchAssets reads the asset registry from the API.
func fetchAssets(ctx context.Context, apiURL string) ([]models.Asset, error) {
	resp, err := authorizedRequest(ctx, http.MethodGet, apiURL+"/assets", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list assets: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("asset listing failed with status: %d", resp.StatusCode)
	}
	var assets []models.Asset
	if err := json.NewDecoder(resp.Body).Decode(&assets); err != nil {
		return nil, fmt.Errorf("failed to decode assets: %w", err)
	}
	return assets, nil
}

// httpSender posts readings to /assets/:id/meter.
type httpSender struct {
	apiURL string
}

func (s httpSender) Send(ctx context.Context, r models.MeterReading) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal reading: %w", err)
	}
	resp, err := authorizedRequest(ctx, http.MethodPost, s.apiURL+"/assets/"+r.AssetID+"/meter", data)
	if err != nil {
		return fmt.Errorf("failed to send reading: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("meter update failed with status: %d", resp.StatusCode)
	}
	return nil
}

// mqttSender publishes readings to <topic>/<asset id>.
type mqttSender struct {
	client mqtt.Client
	topic  string
}

func (s mqttSender) Send(ctx context.Context, r models.MeterReading) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal reading: %w", err)
	}
	token := s.client.Publish(strings.TrimSuffix(s.topic, "/")+"/"+r.AssetID, 1, false, data)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// advance moves the meters forward by one tick of the given length. Idle
// assets accrue engine hours but no distance.
func advance(s *AssetState, rng *rand.Rand, tick time.Duration) {
	if rng.Float64() < 0.1 {
		s.Idle = !s.Idle
	}
	s.SpeedMph += (rng.Float64()*2 - 1) * 3
	if s.SpeedMph < 25 {
		s.SpeedMph = 25
	}
	if s.SpeedMph > 70 {
		s.SpeedMph = 70
	}

	hours := tick.Hours()
	s.EngineHours += hours
	if !s.Idle {
		s.Odometer += s.SpeedMph * hours
	}
}

func readingFrom(s *AssetState, now time.Time) models.MeterReading {
	odo := s.Odometer
	hrs := s.EngineHours
	return models.MeterReading{AssetID: s.AssetID, Odometer: &odo, EngineHours: &hrs, Timestamp: now}
}

// simulateAsset reports one reading per interval until ctx is done. Each
// interval stands for timeScale of driving.
func simulateAsset(ctx context.Context, sender Sender, s *AssetState, interval, timeScale time.Duration, seed int64) {
	rng := rand.New(rand.NewSource(seed))
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}
		advance(s, rng, timeScale)
		r := readingFrom(s, time.Now().UTC())
		if err := sender.Send(ctx, r); err != nil {
			log.WithError(err).WithField("asset_id", s.AssetID).Error("Failed to send meter reading")
			continue
		}
		log.WithFields(log.Fields{
			"asset_id":     s.AssetID,
			"odometer":     fmt.Sprintf("%.1f", s.Odometer),
			"engine_hours": fmt.Sprintf("%.2f", s.EngineHours),
		}).Debug("Sent meter reading")
	}
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 1 {
			return time.Duration(n) * time.Second
		}
	}
	return def
}

func main() {
	// Optional JWT for protected API
	authToken = os.Getenv("SIM_AUTH_TOKEN")

	apiURL := os.Getenv("API_BASE_URL")
	if apiURL == "" {
		apiURL = "http://localhost:8080/api"
	}
	interval := envDuration("SIM_TICK_SECONDS", 2*time.Second)
	// Each tick simulates this much driving.
	timeScale := envDuration("SIM_SCALE_SECONDS", 15*time.Minute)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var sender Sender = httpSender{apiURL: apiURL}
	if broker := os.Getenv("MQTT_BROKER"); broker != "" {
		client, err := events.Connect(events.MQTTConfig{Broker: broker, ClientID: "fleet-meter-simulator"})
		if err != nil {
			log.WithError(err).Fatal("Failed to connect to MQTT broker")
		}
		defer client.Disconnect(250)
		topic := os.Getenv("TELEMETRY_TOPIC")
		if topic == "" {
			topic = "fleet/telemetry"
		}
		sender = mqttSender{client: client, topic: topic}
	}

	assets, err := fetchAssets(ctx, apiURL)
	if err != nil {
		log.WithError(err).Error("Ensure SIM_AUTH_TOKEN is valid and API is reachable. Exiting.")
		return
	}
	if len(assets) == 0 {
		log.Error("No assets registered. Exiting.")
		return
	}

	log.WithFields(log.Fields{
		"assets":     len(assets),
		"api_url":    apiURL,
		"interval":   interval,
		"time_scale": timeScale,
	}).Info("Starting meter simulation")

	for i, a := range assets {
		s := &AssetState{
			AssetID:     a.ID,
			Odometer:    a.CurrentOdometer,
			EngineHours: a.CurrentEngineHours,
			SpeedMph:    35 + rand.Float64()*25,
		}
		go simulateAsset(ctx, sender, s, interval, timeScale, time.Now().UnixNano()+int64(i))
	}

	<-ctx.Done()
	log.Info("Meter simulation stopped")
}

package models

import (
	"time"
)

// MeterReading is a telemetry sample of an asset's meters.
type MeterReading struct {
	AssetID     string    `json:"asset_id"`
	Odometer    *float64  `json:"odometer,omitempty"`
	EngineHours *float64  `json:"engine_hours,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

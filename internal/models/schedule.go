package models

import (
	"time"
)

// FrequencyUnit is the meter a schedule or due rule is measured in.
type FrequencyUnit string

const (
	UnitMiles       FrequencyUnit = "miles"
	UnitDays        FrequencyUnit = "days"
	UnitEngineHours FrequencyUnit = "engine_hours"
)

// IsValidUnit checks if a frequency unit is known.
func IsValidUnit(u FrequencyUnit) bool {
	switch u {
	case UnitMiles, UnitDays, UnitEngineHours:
		return true
	default:
		return false
	}
}

// EntityFilter selects the asset categories a schedule targets.
type EntityFilter string

const (
	EntityCMV    EntityFilter = "cmv"
	EntityNonCMV EntityFilter = "non_cmv"
	EntityAll    EntityFilter = "all"
)

// Matches reports whether an asset category passes the filter.
func (f EntityFilter) Matches(c AssetCategory) bool {
	switch f {
	case EntityAll:
		return true
	case EntityCMV:
		return c == AssetCategoryCMV
	case EntityNonCMV:
		return c == AssetCategoryNonCMV
	default:
		return false
	}
}

// Channel is a reminder delivery channel. Delivery itself happens elsewhere.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelInApp Channel = "in_app"
	ChannelSMS   Channel = "sms"
)

// Frequency is how often a schedule recurs.
type Frequency struct {
	Every int           `bson:"every" json:"every"`
	Unit  FrequencyUnit `bson:"unit" json:"unit"`
}

// Assignment selects the assets a schedule spawns tasks for.
type Assignment struct {
	ApplyToAll bool     `bson:"apply_to_all" json:"apply_to_all"`
	AssetIDs   []string `bson:"asset_ids,omitempty" json:"asset_ids,omitempty"`
}

// AlertConfig is the reminder configuration attached to a schedule.
type AlertConfig struct {
	Recipients         []string  `bson:"recipients,omitempty" json:"recipients,omitempty"`                     // roles, e.g. "Fleet Manager", "Driver"
	ReminderDaysBefore []int     `bson:"reminder_days_before,omitempty" json:"reminder_days_before,omitempty"` // 90, 60, 30, 7
	Channels           []Channel `bson:"channels,omitempty" json:"channels,omitempty"`
}

// Schedule is a recurring maintenance policy.
type Schedule struct {
	ID                string       `bson:"_id" json:"id"`
	Name              string       `bson:"name" json:"name"`
	EntityFilter      EntityFilter `bson:"entity_filter" json:"entity_filter"`
	ServiceTypeIDs    []string     `bson:"service_type_ids" json:"service_type_ids"`
	Frequency         Frequency    `bson:"frequency" json:"frequency"`
	UpcomingThreshold int          `bson:"upcoming_threshold" json:"upcoming_threshold"` // same unit as Frequency
	Assignment        Assignment   `bson:"assignment" json:"assignment"`
	Alert             AlertConfig  `bson:"alert" json:"alert"`
	CreatedAt         time.Time    `bson:"created_at" json:"created_at"`
	Version           int64        `bson:"version" json:"version"`
}

// Clone returns a deep copy of the schedule.
func (s Schedule) Clone() Schedule {
	s.ServiceTypeIDs = append([]string(nil), s.ServiceTypeIDs...)
	s.Assignment.AssetIDs = append([]string(nil), s.Assignment.AssetIDs...)
	s.Alert.Recipients = append([]string(nil), s.Alert.Recipients...)
	s.Alert.ReminderDaysBefore = append([]int(nil), s.Alert.ReminderDaysBefore...)
	s.Alert.Channels = append([]Channel(nil), s.Alert.Channels...)
	return s
}

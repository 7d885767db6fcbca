package maintenance

import (
	"fmt"
	"time"

	"github.com/ukydev/fleet-maintenance/internal/models"
)

// Measurement is the current reading of one meter. For the days unit only
// At is used.
type Measurement struct {
	Unit  models.FrequencyUnit
	Value float64
	At    time.Time
}

// MeasurementFor reads the meter matching unit from an asset.
func MeasurementFor(unit models.FrequencyUnit, asset models.Asset, now time.Time) Measurement {
	m := Measurement{Unit: unit, At: now}
	switch unit {
	case models.UnitMiles:
		m.Value = asset.CurrentOdometer
	case models.UnitEngineHours:
		m.Value = asset.CurrentEngineHours
	}
	return m
}

// Remaining returns how much of the rule's unit is left before the task is
// due. Days are fractional.
func Remaining(rule models.DueRule, m Measurement) (float64, error) {
	if m.Unit != rule.Unit {
		return 0, fmt.Errorf("%w: rule is %s, measurement is %s", ErrUnitMismatch, rule.Unit, m.Unit)
	}
	if err := rule.Validate(); err != nil {
		return 0, &InvariantViolation{Message: fmt.Sprintf("due rule: %v", err)}
	}
	switch rule.Unit {
	case models.UnitMiles:
		return *rule.DueAtOdometer - m.Value, nil
	case models.UnitEngineHours:
		return *rule.DueAtEngineHours - m.Value, nil
	default:
		return rule.DueAtDate.Sub(m.At).Hours() / 24, nil
	}
}

// Classify derives upcoming, due or overdue from a rule and a reading.
func Classify(rule models.DueRule, m Measurement) (models.TaskStatus, error) {
	remaining, err := Remaining(rule, m)
	if err != nil {
		return "", err
	}
	switch {
	case remaining <= 0:
		return models.StatusOverdue, nil
	case remaining <= float64(rule.UpcomingThreshold):
		return models.StatusDue, nil
	default:
		return models.StatusUpcoming, nil
	}
}

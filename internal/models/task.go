package models

import (
	"errors"
	"fmt"
	"time"
)

// Lifecycle is the persisted part of a task's state. Active tasks carry a
// display status that is derived on every read.
type Lifecycle string

const (
	LifecycleActive    Lifecycle = "active"
	LifecycleCompleted Lifecycle = "completed"
	LifecycleCancelled Lifecycle = "cancelled"
)

// IsTerminal reports whether no further transition is allowed.
func (l Lifecycle) IsTerminal() bool {
	return l == LifecycleCompleted || l == LifecycleCancelled
}

// TaskStatus is the status shown to users.
type TaskStatus string

const (
	StatusUpcoming   TaskStatus = "upcoming"
	StatusDue        TaskStatus = "due"
	StatusOverdue    TaskStatus = "overdue"
	StatusInProgress TaskStatus = "in_progress"
	StatusCompleted  TaskStatus = "completed"
	StatusCancelled  TaskStatus = "cancelled"
)

// AllTaskStatuses lists every display status in presentation order.
var AllTaskStatuses = []TaskStatus{
	StatusUpcoming, StatusDue, StatusOverdue, StatusInProgress, StatusCompleted, StatusCancelled,
}

// IsValidTaskStatus checks if a display status is known.
func IsValidTaskStatus(s TaskStatus) bool {
	for _, known := range AllTaskStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// MeterSnapshot captures an asset's meters when a task is created.
type MeterSnapshot struct {
	Odometer    float64   `bson:"odometer" json:"odometer"`
	EngineHours float64   `bson:"engine_hours" json:"engine_hours"`
	CapturedAt  time.Time `bson:"captured_at" json:"captured_at"`
}

// DueRule determines when a task becomes due. Exactly one DueAt field is
// populated and it matches Unit.
type DueRule struct {
	Unit              FrequencyUnit `bson:"unit" json:"unit"`
	FrequencyEvery    int           `bson:"frequency_every" json:"frequency_every"`
	UpcomingThreshold int           `bson:"upcoming_threshold" json:"upcoming_threshold"`
	DueAtOdometer     *float64      `bson:"due_at_odometer,omitempty" json:"due_at_odometer,omitempty"`
	DueAtEngineHours  *float64      `bson:"due_at_engine_hours,omitempty" json:"due_at_engine_hours,omitempty"`
	DueAtDate         *time.Time    `bson:"due_at_date,omitempty" json:"due_at_date,omitempty"`
}

var (
	ErrDueAtMissing  = errors.New("due rule has no due-at value")
	ErrDueAtMultiple = errors.New("due rule has more than one due-at value")
)

// Validate checks the shape of the rule.
func (r DueRule) Validate() error {
	if !IsValidUnit(r.Unit) {
		return fmt.Errorf("unknown unit %q", r.Unit)
	}
	if r.FrequencyEvery <= 0 {
		return errors.New("frequency must be positive")
	}
	if r.UpcomingThreshold < 0 {
		return errors.New("upcoming threshold cannot be negative")
	}
	n := 0
	if r.DueAtOdometer != nil {
		n++
	}
	if r.DueAtEngineHours != nil {
		n++
	}
	if r.DueAtDate != nil {
		n++
	}
	switch {
	case n == 0:
		return ErrDueAtMissing
	case n > 1:
		return ErrDueAtMultiple
	}
	switch r.Unit {
	case UnitMiles:
		if r.DueAtOdometer == nil {
			return fmt.Errorf("unit %s requires due_at_odometer", r.Unit)
		}
	case UnitEngineHours:
		if r.DueAtEngineHours == nil {
			return fmt.Errorf("unit %s requires due_at_engine_hours", r.Unit)
		}
	case UnitDays:
		if r.DueAtDate == nil {
			return fmt.Errorf("unit %s requires due_at_date", r.Unit)
		}
	}
	return nil
}

// Clone returns a copy that shares no pointers with r.
func (r DueRule) Clone() DueRule {
	if r.DueAtOdometer != nil {
		v := *r.DueAtOdometer
		r.DueAtOdometer = &v
	}
	if r.DueAtEngineHours != nil {
		v := *r.DueAtEngineHours
		r.DueAtEngineHours = &v
	}
	if r.DueAtDate != nil {
		v := *r.DueAtDate
		r.DueAtDate = &v
	}
	return r
}

// CancelDetails is the audit record of a cancellation.
type CancelDetails struct {
	Reason      string    `bson:"reason" json:"reason"`
	CancelledAt time.Time `bson:"cancelled_at" json:"cancelled_at"`
	CancelledBy string    `bson:"cancelled_by" json:"cancelled_by"`
}

// MaintenanceTask is one unit of recurring work for one asset.
type MaintenanceTask struct {
	ID             string         `bson:"_id" json:"id"`
	AssetID        string         `bson:"asset_id" json:"asset_id"`
	ScheduleID     string         `bson:"schedule_id" json:"schedule_id"`
	BatchID        string         `bson:"batch_id,omitempty" json:"batch_id,omitempty"`
	ServiceTypeIDs []string       `bson:"service_type_ids" json:"service_type_ids"`
	Lifecycle      Lifecycle      `bson:"lifecycle" json:"lifecycle"`
	MeterSnapshot  MeterSnapshot  `bson:"meter_snapshot" json:"meter_snapshot"`
	DueRule        DueRule        `bson:"due_rule" json:"due_rule"`
	CancelDetails  *CancelDetails `bson:"cancel_details,omitempty" json:"cancel_details,omitempty"`
	CompletedAt    *time.Time     `bson:"completed_at,omitempty" json:"completed_at,omitempty"`
	CreatedAt      time.Time      `bson:"created_at" json:"created_at"`
	UpdatedAt      time.Time      `bson:"updated_at" json:"updated_at"`
	Version        int64          `bson:"version" json:"version"`
}

// Clone returns a deep copy of the task.
func (t MaintenanceTask) Clone() MaintenanceTask {
	t.ServiceTypeIDs = append([]string(nil), t.ServiceTypeIDs...)
	t.DueRule = t.DueRule.Clone()
	if t.CancelDetails != nil {
		cd := *t.CancelDetails
		t.CancelDetails = &cd
	}
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		t.CompletedAt = &at
	}
	return t
}

// TaskView is a task together with its derived status.
type TaskView struct {
	MaintenanceTask `bson:",inline"`
	Status          TaskStatus `json:"status"`
	LockedBy        string     `json:"locked_by,omitempty"` // open order id
}

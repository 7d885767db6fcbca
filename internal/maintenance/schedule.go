package maintenance

import (
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ukydev/fleet-maintenance/internal/models"
)

// ValidateSchedule checks a schedule definition against the catalog.
func ValidateSchedule(s models.Schedule, catalog ServiceCatalog) error {
	if strings.TrimSpace(s.Name) == "" {
		return invalid("name", "schedule name is required")
	}
	switch s.EntityFilter {
	case models.EntityCMV, models.EntityNonCMV, models.EntityAll:
	default:
		return invalid("entity_filter", "unknown entity filter %q", s.EntityFilter)
	}
	if len(s.ServiceTypeIDs) == 0 {
		return invalid("service_type_ids", "select at least one service")
	}
	for _, id := range s.ServiceTypeIDs {
		st, ok := catalog.Get(id)
		if !ok {
			return invalid("service_type_ids", "unknown service type %q", id)
		}
		if !st.AppliesTo(s.EntityFilter) {
			return invalid("service_type_ids", "service type %q does not apply to %s assets", id, s.EntityFilter)
		}
	}
	if !models.IsValidUnit(s.Frequency.Unit) {
		return invalid("frequency.unit", "unknown unit %q", s.Frequency.Unit)
	}
	if s.Frequency.Every <= 0 {
		return invalid("frequency.every", "frequency must be greater than zero")
	}
	if s.UpcomingThreshold < 0 {
		return invalid("upcoming_threshold", "threshold cannot be negative")
	}
	if !s.Assignment.ApplyToAll && len(s.Assignment.AssetIDs) == 0 {
		return invalid("assignment", "assign at least one asset or apply to all")
	}
	for _, c := range s.Alert.Channels {
		switch c {
		case models.ChannelEmail, models.ChannelInApp, models.ChannelSMS:
		default:
			return invalid("alert.channels", "unknown channel %q", c)
		}
	}
	for _, d := range s.Alert.ReminderDaysBefore {
		if d <= 0 {
			return invalid("alert.reminder_days_before", "reminder offsets must be positive")
		}
	}
	return nil
}

// EligibleAssets resolves the assets a schedule applies to.
func EligibleAssets(s models.Schedule, fleet []models.Asset) ([]models.Asset, error) {
	if s.Assignment.ApplyToAll {
		var out []models.Asset
		for _, a := range fleet {
			if s.EntityFilter.Matches(a.Category) {
				out = append(out, a)
			}
		}
		return out, nil
	}

	byID := make(map[string]models.Asset, len(fleet))
	for _, a := range fleet {
		byID[a.ID] = a
	}
	seen := make(map[string]bool)
	out := make([]models.Asset, 0, len(s.Assignment.AssetIDs))
	for _, id := range s.Assignment.AssetIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		a, ok := byID[id]
		if !ok {
			return nil, invalid("assignment.asset_ids", "unknown asset %q", id)
		}
		if !s.EntityFilter.Matches(a.Category) {
			return nil, invalid("assignment.asset_ids", "asset %q is not a %s asset", id, s.EntityFilter)
		}
		out = append(out, a)
	}
	return out, nil
}

// ProjectDueRule builds a due rule one frequency ahead of the asset's
// current reading.
func ProjectDueRule(freq models.Frequency, threshold int, asset models.Asset, now time.Time) models.DueRule {
	rule := models.DueRule{
		Unit:              freq.Unit,
		FrequencyEvery:    freq.Every,
		UpcomingThreshold: threshold,
	}
	switch freq.Unit {
	case models.UnitMiles:
		v := asset.CurrentOdometer + float64(freq.Every)
		rule.DueAtOdometer = &v
	case models.UnitEngineHours:
		v := asset.CurrentEngineHours + float64(freq.Every)
		rule.DueAtEngineHours = &v
	case models.UnitDays:
		v := now.AddDate(0, 0, freq.Every)
		rule.DueAtDate = &v
	}
	return rule
}

// Expand creates one task per asset. Every task carries the schedule id and
// batchID so the cohort can be found later.
func Expand(s models.Schedule, batchID string, assets []models.Asset, now time.Time, newID func() string) []models.MaintenanceTask {
	tasks := make([]models.MaintenanceTask, 0, len(assets))
	for _, a := range assets {
		tasks = append(tasks, models.MaintenanceTask{
			ID:             newID(),
			AssetID:        a.ID,
			ScheduleID:     s.ID,
			BatchID:        batchID,
			ServiceTypeIDs: append([]string(nil), s.ServiceTypeIDs...),
			Lifecycle:      models.LifecycleActive,
			MeterSnapshot: models.MeterSnapshot{
				Odometer:    a.CurrentOdometer,
				EngineHours: a.CurrentEngineHours,
				CapturedAt:  now,
			},
			DueRule:   ProjectDueRule(s.Frequency, s.UpcomingThreshold, a, now),
			CreatedAt: now,
			UpdatedAt: now,
			Version:   1,
		})
	}
	return tasks
}

// ExpandResult is the outcome of spawning a cohort of tasks.
type ExpandResult struct {
	Schedule models.Schedule         `json:"schedule"`
	BatchID  string                  `json:"batch_id"`
	Tasks    []models.MaintenanceTask `json:"tasks"`
	// Replayed is set when the batch id had already been expanded and the
	// earlier cohort was returned unchanged.
	Replayed bool `json:"replayed"`
}

// CreateSchedule stores a new schedule and immediately expands it over the
// eligible assets of fleet.
func (e *Engine) CreateSchedule(s models.Schedule, fleet []models.Asset, now time.Time) (ExpandResult, error) {
	if err := ValidateSchedule(s, e.catalog); err != nil {
		return ExpandResult{}, err
	}
	assets, err := EligibleAssets(s, fleet)
	if err != nil {
		return ExpandResult{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if s.ID == "" {
		s.ID = e.newID()
	}
	if _, exists := e.schedules[s.ID]; exists {
		return ExpandResult{}, &ConflictError{Message: "schedule " + s.ID + " already exists"}
	}
	s = s.Clone()
	s.CreatedAt = now
	s.Version = 1
	e.schedules[s.ID] = &s
	e.scheduleSeq = append(e.scheduleSeq, s.ID)

	result := e.expandLocked(&s, e.newID(), assets, now)
	e.log.WithFields(logrus.Fields{
		"schedule_id": s.ID,
		"batch_id":    result.BatchID,
		"tasks":       len(result.Tasks),
	}).Info("Schedule created")
	return result, nil
}

// ExpandSchedule spawns a new cohort for an existing schedule. A repeated
// batchID returns the cohort created the first time.
func (e *Engine) ExpandSchedule(scheduleID, batchID string, fleet []models.Asset, now time.Time) (ExpandResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.schedules[scheduleID]
	if !ok {
		return ExpandResult{}, &NotFoundError{Kind: "schedule", ID: scheduleID}
	}
	if batchID != "" {
		if ids, seen := e.taskBatches[batchID]; seen {
			result := ExpandResult{Schedule: s.Clone(), BatchID: batchID, Replayed: true}
			for _, id := range ids {
				t, ok := e.tasks[id]
				if !ok {
					continue
				}
				if t.ScheduleID != scheduleID {
					return ExpandResult{}, &ConflictError{Message: "batch " + batchID + " belongs to another schedule"}
				}
				result.Tasks = append(result.Tasks, t.Clone())
			}
			return result, nil
		}
	} else {
		batchID = e.newID()
	}

	assets, err := EligibleAssets(*s, fleet)
	if err != nil {
		return ExpandResult{}, err
	}
	result := e.expandLocked(s, batchID, assets, now)
	e.log.WithFields(logrus.Fields{
		"schedule_id": scheduleID,
		"batch_id":    batchID,
		"tasks":       len(result.Tasks),
	}).Info("Schedule expanded")
	return result, nil
}

func (e *Engine) expandLocked(s *models.Schedule, batchID string, assets []models.Asset, now time.Time) ExpandResult {
	tasks := Expand(*s, batchID, assets, now, e.newID)
	ids := make([]string, 0, len(tasks))
	for i := range tasks {
		t := tasks[i].Clone()
		assertInvariant(t.DueRule.Validate() == nil, "expanded task %s has invalid due rule", t.ID)
		e.tasks[t.ID] = &t
		e.taskSeq = append(e.taskSeq, t.ID)
		ids = append(ids, t.ID)
	}
	e.taskBatches[batchID] = ids
	return ExpandResult{Schedule: s.Clone(), BatchID: batchID, Tasks: tasks}
}

// Schedule returns one schedule.
func (e *Engine) Schedule(id string) (models.Schedule, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.schedules[id]
	if !ok {
		return models.Schedule{}, &NotFoundError{Kind: "schedule", ID: id}
	}
	return s.Clone(), nil
}

// Schedules lists schedules in creation order.
func (e *Engine) Schedules() []models.Schedule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]models.Schedule, 0, len(e.scheduleSeq))
	for _, id := range e.scheduleSeq {
		out = append(out, e.schedules[id].Clone())
	}
	return out
}

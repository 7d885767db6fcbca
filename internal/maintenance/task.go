package maintenance

import (
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ukydev/fleet-maintenance/internal/models"
)

// TaskFilter narrows ListTasks. Empty fields match everything.
type TaskFilter struct {
	AssetID    string
	ScheduleID string
	BatchID    string
	Status     models.TaskStatus
}

// TaskEdit carries the editable fields of an active task. Nil fields are
// left unchanged.
type TaskEdit struct {
	ServiceTypeIDs []string        `json:"service_type_ids,omitempty"`
	DueRule        *models.DueRule `json:"due_rule,omitempty"`
}

// checkMutable reports why a task cannot be changed, if it cannot.
func (e *Engine) checkMutable(t *models.MaintenanceTask) error {
	if t.Lifecycle.IsTerminal() {
		return &TerminalStateError{Kind: "task", ID: t.ID, State: string(t.Lifecycle)}
	}
	if orderID, locked := e.locks[t.ID]; locked {
		return &LockedError{TaskID: t.ID, OrderID: orderID}
	}
	return nil
}

// CancelTask moves an active, unlocked task to cancelled.
func (e *Engine) CancelTask(id, reason, actor string, now time.Time) (models.MaintenanceTask, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return models.MaintenanceTask{}, invalid("reason", "a cancellation reason is required")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.tasks[id]
	if !ok {
		return models.MaintenanceTask{}, &NotFoundError{Kind: "task", ID: id}
	}
	if err := e.checkMutable(t); err != nil {
		return models.MaintenanceTask{}, err
	}

	t.Lifecycle = models.LifecycleCancelled
	t.CancelDetails = &models.CancelDetails{Reason: reason, CancelledAt: now, CancelledBy: actor}
	t.UpdatedAt = now
	t.Version++

	e.log.WithFields(logrus.Fields{
		"task_id":  id,
		"asset_id": t.AssetID,
		"actor":    actor,
	}).Info("Task cancelled")
	return t.Clone(), nil
}

// EditTask changes the services or due rule of an active, unlocked task.
func (e *Engine) EditTask(id string, edit TaskEdit, now time.Time) (models.MaintenanceTask, error) {
	if edit.ServiceTypeIDs == nil && edit.DueRule == nil {
		return models.MaintenanceTask{}, invalid("", "nothing to update")
	}
	if edit.ServiceTypeIDs != nil {
		if len(edit.ServiceTypeIDs) == 0 {
			return models.MaintenanceTask{}, invalid("service_type_ids", "select at least one service")
		}
		for _, sid := range edit.ServiceTypeIDs {
			if _, ok := e.catalog.Get(sid); !ok {
				return models.MaintenanceTask{}, invalid("service_type_ids", "unknown service type %q", sid)
			}
		}
	}
	if edit.DueRule != nil {
		if err := edit.DueRule.Validate(); err != nil {
			return models.MaintenanceTask{}, invalid("due_rule", "%v", err)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.tasks[id]
	if !ok {
		return models.MaintenanceTask{}, &NotFoundError{Kind: "task", ID: id}
	}
	if err := e.checkMutable(t); err != nil {
		return models.MaintenanceTask{}, err
	}

	if edit.ServiceTypeIDs != nil {
		t.ServiceTypeIDs = append([]string(nil), edit.ServiceTypeIDs...)
	}
	if edit.DueRule != nil {
		t.DueRule = edit.DueRule.Clone()
	}
	t.UpdatedAt = now
	t.Version++
	return t.Clone(), nil
}

// DeleteTasks removes tasks permanently. Either every id is deleted or none
// is. Tasks referenced by any order, open or closed, cannot be deleted.
func (e *Engine) DeleteTasks(ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, invalid("task_ids", "no tasks given")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	unique := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if _, ok := e.tasks[id]; !ok {
			return nil, &NotFoundError{Kind: "task", ID: id}
		}
		if orderID, locked := e.locks[id]; locked {
			return nil, &LockedError{TaskID: id, OrderID: orderID}
		}
		unique = append(unique, id)
	}
	for _, orderID := range e.orderSeq {
		o := e.orders[orderID]
		for _, id := range unique {
			if o.HasTask(id) {
				return nil, &ConflictError{Message: "task " + id + " is part of order " + orderID}
			}
		}
	}

	for _, id := range unique {
		t := e.tasks[id]
		if rest := removeID(e.taskBatches[t.BatchID], id); len(rest) > 0 {
			e.taskBatches[t.BatchID] = rest
		} else {
			delete(e.taskBatches, t.BatchID)
		}
		e.taskSeq = removeID(e.taskSeq, id)
		delete(e.tasks, id)
	}
	e.log.WithField("tasks", len(unique)).Info("Tasks deleted")
	return unique, nil
}

// Task returns one task with its derived status.
func (e *Engine) Task(id string, assets AssetSource, now time.Time) (models.TaskView, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	t, ok := e.tasks[id]
	if !ok {
		return models.TaskView{}, &NotFoundError{Kind: "task", ID: id}
	}
	return e.viewOf(t, assets, now), nil
}

// ListTasks returns tasks in creation order with derived statuses.
func (e *Engine) ListTasks(filter TaskFilter, assets AssetSource, now time.Time) []models.TaskView {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := []models.TaskView{}
	for _, id := range e.taskSeq {
		t := e.tasks[id]
		if filter.AssetID != "" && t.AssetID != filter.AssetID {
			continue
		}
		if filter.ScheduleID != "" && t.ScheduleID != filter.ScheduleID {
			continue
		}
		if filter.BatchID != "" && t.BatchID != filter.BatchID {
			continue
		}
		v := e.viewOf(t, assets, now)
		if filter.Status != "" && v.Status != filter.Status {
			continue
		}
		out = append(out, v)
	}
	return out
}

// StatusCounts tallies derived statuses, optionally for one asset. Every
// known status is present in the result.
func (e *Engine) StatusCounts(assetID string, assets AssetSource, now time.Time) map[models.TaskStatus]int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	counts := make(map[models.TaskStatus]int, len(models.AllTaskStatuses))
	for _, s := range models.AllTaskStatuses {
		counts[s] = 0
	}
	for _, id := range e.taskSeq {
		t := e.tasks[id]
		if assetID != "" && t.AssetID != assetID {
			continue
		}
		counts[e.deriveStatus(t, assets, now)]++
	}
	return counts
}

package maintenance

import (
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/ukydev/fleet-maintenance/internal/models"
)

// Snapshot is the full persisted state of the engine.
type Snapshot struct {
	Schedules []models.Schedule
	Tasks     []models.MaintenanceTask
	Orders    []models.TaskOrder
}

// Snapshot copies the current state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s := Snapshot{
		Schedules: make([]models.Schedule, 0, len(e.scheduleSeq)),
		Tasks:     make([]models.MaintenanceTask, 0, len(e.taskSeq)),
		Orders:    make([]models.TaskOrder, 0, len(e.orderSeq)),
	}
	for _, id := range e.scheduleSeq {
		s.Schedules = append(s.Schedules, e.schedules[id].Clone())
	}
	for _, id := range e.taskSeq {
		s.Tasks = append(s.Tasks, e.tasks[id].Clone())
	}
	for _, id := range e.orderSeq {
		s.Orders = append(s.Orders, e.orders[id].Clone())
	}
	return s
}

type state struct {
	schedules          map[string]*models.Schedule
	scheduleSeq        []string
	tasks              map[string]*models.MaintenanceTask
	taskSeq            []string
	orders             map[string]*models.TaskOrder
	orderSeq           []string
	locks              map[string]string
	taskBatches        map[string][]string
	orderBatches       map[string][]string
	completionRequests map[string][]string
}

// Restore replaces the engine state with a persisted snapshot. The snapshot
// is checked before it is installed; on error the previous state is kept.
func (e *Engine) Restore(s Snapshot) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	prev := state{
		schedules: e.schedules, scheduleSeq: e.scheduleSeq,
		tasks: e.tasks, taskSeq: e.taskSeq,
		orders: e.orders, orderSeq: e.orderSeq,
		locks: e.locks, taskBatches: e.taskBatches, orderBatches: e.orderBatches,
		completionRequests: e.completionRequests,
	}
	e.reset()
	if err := e.install(s); err != nil {
		e.schedules, e.scheduleSeq = prev.schedules, prev.scheduleSeq
		e.tasks, e.taskSeq = prev.tasks, prev.taskSeq
		e.orders, e.orderSeq = prev.orders, prev.orderSeq
		e.locks = prev.locks
		e.taskBatches, e.orderBatches = prev.taskBatches, prev.orderBatches
		e.completionRequests = prev.completionRequests
		return err
	}

	e.log.WithFields(logrus.Fields{
		"schedules": len(e.schedules),
		"tasks":     len(e.tasks),
		"orders":    len(e.orders),
		"locked":    len(e.locks),
	}).Info("Maintenance state restored")
	return nil
}

func (e *Engine) install(s Snapshot) error {
	schedules := append([]models.Schedule(nil), s.Schedules...)
	sort.SliceStable(schedules, func(i, j int) bool { return schedules[i].CreatedAt.Before(schedules[j].CreatedAt) })
	for _, sc := range schedules {
		if _, dup := e.schedules[sc.ID]; dup {
			return fmt.Errorf("duplicate schedule %s", sc.ID)
		}
		c := sc.Clone()
		e.schedules[c.ID] = &c
		e.scheduleSeq = append(e.scheduleSeq, c.ID)
	}

	tasks := append([]models.MaintenanceTask(nil), s.Tasks...)
	sort.SliceStable(tasks, func(i, j int) bool { return tasks[i].CreatedAt.Before(tasks[j].CreatedAt) })
	for _, t := range tasks {
		if _, dup := e.tasks[t.ID]; dup {
			return fmt.Errorf("duplicate task %s", t.ID)
		}
		if err := t.DueRule.Validate(); err != nil {
			return &InvariantViolation{Message: fmt.Sprintf("task %s: %v", t.ID, err)}
		}
		c := t.Clone()
		e.tasks[c.ID] = &c
		e.taskSeq = append(e.taskSeq, c.ID)
		e.taskBatches[c.BatchID] = append(e.taskBatches[c.BatchID], c.ID)
	}

	orders := append([]models.TaskOrder(nil), s.Orders...)
	sort.SliceStable(orders, func(i, j int) bool { return orders[i].CreatedAt.Before(orders[j].CreatedAt) })
	for _, o := range orders {
		if _, dup := e.orders[o.ID]; dup {
			return fmt.Errorf("duplicate order %s", o.ID)
		}
		c := o.Clone()
		e.orders[c.ID] = &c
		e.orderSeq = append(e.orderSeq, c.ID)
		if c.BatchID != "" {
			e.orderBatches[c.BatchID] = append(e.orderBatches[c.BatchID], c.ID)
		}
	}

	e.recoverCompletions()
	if err := e.rebuildLocks(); err != nil {
		return err
	}
	for _, id := range e.orderSeq {
		if err := e.orderConsistency(e.orders[id]); err != nil {
			return err
		}
	}
	return nil
}

// recoverCompletions marks tasks completed when an order already records
// their completion event. Orders are written before tasks, so a write that
// failed between the two leaves the task behind its order.
func (e *Engine) recoverCompletions() {
	for _, orderID := range e.orderSeq {
		for _, ev := range e.orders[orderID].Completions {
			for _, id := range ev.TaskIDs {
				t, ok := e.tasks[id]
				if !ok || t.Lifecycle != models.LifecycleActive {
					continue
				}
				completedAt := ev.CompletedAt
				t.Lifecycle = models.LifecycleCompleted
				t.CompletedAt = &completedAt
				if ev.CompletedAt.After(t.UpdatedAt) {
					t.UpdatedAt = ev.CompletedAt
				}
				t.Version++
				e.log.WithFields(logrus.Fields{
					"task_id":       id,
					"order_id":      orderID,
					"completion_id": ev.ID,
				}).Warn("Task completion recovered from order event")
			}
		}
	}
}

package maintenance

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ukydev/fleet-maintenance/internal/models"
)

// ServiceCatalog resolves service type ids.
type ServiceCatalog interface {
	Get(id string) (models.ServiceType, bool)
}

// VendorRegistry resolves vendors and creates new ones inline with an order.
type VendorRegistry interface {
	Get(id string) (models.Vendor, bool)
	Create(details models.VendorDetails, now time.Time) (models.Vendor, error)
}

// AssetSource supplies current meter readings for status derivation.
type AssetSource interface {
	Get(id string) (models.Asset, bool)
}

// Engine owns schedules, tasks and orders. Every mutation runs under a
// single lock so that lock checks and the writes they guard are atomic.
type Engine struct {
	mu sync.RWMutex

	schedules   map[string]*models.Schedule
	scheduleSeq []string
	tasks       map[string]*models.MaintenanceTask
	taskSeq     []string
	orders      map[string]*models.TaskOrder
	orderSeq    []string

	// taskID -> id of the open order that references it
	locks map[string]string
	// expansion batch id -> task ids
	taskBatches map[string][]string
	// order batch id -> order ids
	orderBatches map[string][]string
	// completion request id -> event ids recorded for it
	completionRequests map[string][]string

	vendors VendorRegistry
	catalog ServiceCatalog
	newID   func() string
	log     logrus.FieldLogger
}

// Option configures an Engine.
type Option func(*Engine)

// WithIDGenerator replaces the uuid generator, mostly for tests.
func WithIDGenerator(f func() string) Option {
	return func(e *Engine) { e.newID = f }
}

// WithLogger sets the logger used for audit lines.
func WithLogger(l logrus.FieldLogger) Option {
	return func(e *Engine) { e.log = l }
}

// New creates an empty engine.
func New(vendors VendorRegistry, catalog ServiceCatalog, opts ...Option) *Engine {
	e := &Engine{
		vendors: vendors,
		catalog: catalog,
		newID:   uuid.NewString,
		log:     logrus.StandardLogger(),
	}
	e.reset()
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) reset() {
	e.schedules = make(map[string]*models.Schedule)
	e.scheduleSeq = nil
	e.tasks = make(map[string]*models.MaintenanceTask)
	e.taskSeq = nil
	e.orders = make(map[string]*models.TaskOrder)
	e.orderSeq = nil
	e.locks = make(map[string]string)
	e.taskBatches = make(map[string][]string)
	e.orderBatches = make(map[string][]string)
	e.completionRequests = make(map[string][]string)
}

// LockedBy returns the open order that locks a task.
func (e *Engine) LockedBy(taskID string) (string, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	orderID, ok := e.locks[taskID]
	return orderID, ok
}

func (e *Engine) lockTasks(o *models.TaskOrder) {
	for _, id := range o.TaskIDs {
		holder, held := e.locks[id]
		assertInvariant(!held || holder == o.ID, "task %s already locked by %s", id, holder)
		e.locks[id] = o.ID
	}
}

func (e *Engine) unlockTasks(o *models.TaskOrder) {
	for _, id := range o.TaskIDs {
		assertInvariant(e.locks[id] == o.ID, "task %s not locked by closing order %s", id, o.ID)
		delete(e.locks, id)
	}
}

// rebuildLocks recomputes the lock index from open orders.
func (e *Engine) rebuildLocks() error {
	e.locks = make(map[string]string)
	for _, id := range e.orderSeq {
		o := e.orders[id]
		if o.Status != models.OrderOpen {
			continue
		}
		for _, taskID := range o.TaskIDs {
			if holder, held := e.locks[taskID]; held {
				return &InvariantViolation{Message: "task " + taskID + " is referenced by open orders " + holder + " and " + o.ID}
			}
			e.locks[taskID] = o.ID
		}
	}
	return nil
}

// deriveStatus computes the display status of a task. Terminal lifecycle
// wins, then the lock index, then the due rule.
func (e *Engine) deriveStatus(t *models.MaintenanceTask, assets AssetSource, now time.Time) models.TaskStatus {
	switch t.Lifecycle {
	case models.LifecycleCompleted:
		return models.StatusCompleted
	case models.LifecycleCancelled:
		return models.StatusCancelled
	}
	if _, locked := e.locks[t.ID]; locked {
		return models.StatusInProgress
	}

	asset, ok := models.Asset{}, false
	if assets != nil {
		asset, ok = assets.Get(t.AssetID)
	}
	if !ok {
		asset = models.Asset{
			ID:                 t.AssetID,
			CurrentOdometer:    t.MeterSnapshot.Odometer,
			CurrentEngineHours: t.MeterSnapshot.EngineHours,
		}
	}
	status, err := Classify(t.DueRule, MeasurementFor(t.DueRule.Unit, asset, now))
	if err != nil {
		panic(&InvariantViolation{Message: "task " + t.ID + ": " + err.Error()})
	}
	return status
}

func (e *Engine) viewOf(t *models.MaintenanceTask, assets AssetSource, now time.Time) models.TaskView {
	return models.TaskView{
		MaintenanceTask: t.Clone(),
		Status:          e.deriveStatus(t, assets, now),
		LockedBy:        e.locks[t.ID],
	}
}

func removeID(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i:i], ids[i+1:]...)
		}
	}
	return ids
}

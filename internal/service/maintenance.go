// Package service runs maintenance operations against the engine and then
// persists, publishes and measures what changed.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/ukydev/fleet-maintenance/internal/db"
	"github.com/ukydev/fleet-maintenance/internal/events"
	"github.com/ukydev/fleet-maintenance/internal/maintenance"
	"github.com/ukydev/fleet-maintenance/internal/metrics"
	"github.com/ukydev/fleet-maintenance/internal/models"
	"github.com/ukydev/fleet-maintenance/internal/registry"
)

// ErrPersist wraps failures to write committed changes to the store. The
// in-memory change stays committed.
var ErrPersist = errors.New("persist")

// MaintenanceService is the entry point used by the HTTP API and the
// telemetry subscriber.
type MaintenanceService struct {
	engine    *maintenance.Engine
	assets    *registry.Assets
	vendors   *registry.Vendors
	catalog   *registry.Catalog
	store     db.Store
	publisher events.Publisher
	log       logrus.FieldLogger
	now       func() time.Time
}

// Option configures a MaintenanceService.
type Option func(*MaintenanceService)

func WithStore(s db.Store) Option {
	return func(m *MaintenanceService) { m.store = s }
}

func WithPublisher(p events.Publisher) Option {
	return func(m *MaintenanceService) { m.publisher = p }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(m *MaintenanceService) { m.log = l }
}

func WithClock(now func() time.Time) Option {
	return func(m *MaintenanceService) { m.now = now }
}

// New creates the service. Without options it keeps state in memory and
// publishes nothing.
func New(engine *maintenance.Engine, assets *registry.Assets, vendors *registry.Vendors, catalog *registry.Catalog, opts ...Option) *MaintenanceService {
	m := &MaintenanceService{
		engine:    engine,
		assets:    assets,
		vendors:   vendors,
		catalog:   catalog,
		store:     db.NewMemoryStore(),
		publisher: events.NopPublisher{},
		log:       logrus.StandardLogger(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *MaintenanceService) clock() time.Time {
	return m.now().UTC()
}

// Hydrate loads persisted vendors, assets and engine state. Stored assets
// replace seeded ones with the same id.
func (m *MaintenanceService) Hydrate(ctx context.Context) error {
	vendors, err := m.store.LoadVendors(ctx)
	if err != nil {
		return fmt.Errorf("load vendors: %w", err)
	}
	m.vendors.Load(vendors)

	assets, err := m.store.LoadAssets(ctx)
	if err != nil {
		return fmt.Errorf("load assets: %w", err)
	}
	for _, a := range assets {
		m.assets.Put(a)
	}

	snap, err := m.store.LoadSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	if err := m.engine.Restore(snap); err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	if repaired := recoveredTasks(snap.Tasks, m.engine.Snapshot().Tasks); len(repaired) > 0 {
		if err := m.store.UpsertTasks(ctx, repaired...); err != nil {
			return fmt.Errorf("store recovered tasks: %w", err)
		}
		m.log.WithField("tasks", len(repaired)).Warn("Recovered task completions written back")
	}

	// Seeded entries that were never stored get written now.
	if err := m.store.UpsertVendors(ctx, m.vendors.List()...); err != nil {
		return fmt.Errorf("store vendors: %w", err)
	}
	if err := m.store.UpsertAssets(ctx, m.assets.List()...); err != nil {
		return fmt.Errorf("store assets: %w", err)
	}
	m.refreshOpenOrders()
	m.log.WithFields(logrus.Fields{
		"vendors":   len(m.vendors.List()),
		"assets":    len(m.assets.List()),
		"schedules": len(snap.Schedules),
		"tasks":     len(snap.Tasks),
		"orders":    len(snap.Orders),
	}).Info("Maintenance service hydrated")
	return nil
}

// Catalog returns every service type.
func (m *MaintenanceService) Catalog(filter models.EntityFilter) []models.ServiceType {
	if filter == "" {
		return m.catalog.List()
	}
	return m.catalog.Applicable(filter)
}

func (m *MaintenanceService) Assets() []models.Asset {
	return m.assets.List()
}

func (m *MaintenanceService) Vendors() []models.Vendor {
	return m.vendors.List()
}

// CreateVendor adds a vendor outside of order creation.
func (m *MaintenanceService) CreateVendor(ctx context.Context, d models.VendorDetails) (models.Vendor, error) {
	v, err := m.vendors.Create(d, m.clock())
	if err != nil {
		return models.Vendor{}, &maintenance.ValidationError{Field: "company_name", Message: err.Error()}
	}
	m.publish(ctx, events.VendorCreated, v)
	return v, m.persist("create_vendor", func() error { return m.store.UpsertVendors(ctx, v) })
}

// RecordReading applies a meter reading to the asset registry.
func (m *MaintenanceService) RecordReading(ctx context.Context, r models.MeterReading) error {
	if r.Timestamp.IsZero() {
		r.Timestamp = m.clock()
	}
	asset, changed, err := m.assets.RecordReading(r)
	switch {
	case errors.Is(err, registry.ErrUnknownAsset):
		return &maintenance.NotFoundError{Kind: "asset", ID: r.AssetID}
	case errors.Is(err, registry.ErrEmptyReading):
		return &maintenance.ValidationError{Field: "odometer", Message: err.Error()}
	case err != nil:
		return err
	}
	if !changed {
		return nil
	}
	return m.persist("record_reading", func() error { return m.store.UpsertAssets(ctx, asset) })
}

// CreateSchedule stores a schedule and spawns its first cohort of tasks.
func (m *MaintenanceService) CreateSchedule(ctx context.Context, s models.Schedule) (maintenance.ExpandResult, error) {
	res, err := m.engine.CreateSchedule(s, m.assets.List(), m.clock())
	if err != nil {
		return res, m.rejected("create_schedule", err)
	}
	return res, m.afterExpand(ctx, "create_schedule", res)
}

// ExpandSchedule spawns another cohort. A repeated batch id returns the
// earlier cohort and writes it again, so a retry after a failed write
// still reaches the store.
func (m *MaintenanceService) ExpandSchedule(ctx context.Context, scheduleID, batchID string) (maintenance.ExpandResult, error) {
	res, err := m.engine.ExpandSchedule(scheduleID, batchID, m.assets.List(), m.clock())
	if err != nil {
		return res, m.rejected("expand_schedule", err)
	}
	return res, m.afterExpand(ctx, "expand_schedule", res)
}

func (m *MaintenanceService) afterExpand(ctx context.Context, op string, res maintenance.ExpandResult) error {
	if !res.Replayed {
		metrics.RecordTasksSpawned(len(res.Tasks))
		m.publish(ctx, events.ScheduleExpanded, map[string]interface{}{
			"schedule_id": res.Schedule.ID,
			"batch_id":    res.BatchID,
			"task_ids":    taskIDs(res.Tasks),
		})
	}
	return m.persist(op, func() error {
		if err := m.store.UpsertSchedules(ctx, res.Schedule); err != nil {
			return err
		}
		return m.store.UpsertTasks(ctx, res.Tasks...)
	})
}

func (m *MaintenanceService) Schedule(id string) (models.Schedule, error) {
	return m.engine.Schedule(id)
}

func (m *MaintenanceService) Schedules() []models.Schedule {
	return m.engine.Schedules()
}

func (m *MaintenanceService) Task(id string) (models.TaskView, error) {
	return m.engine.Task(id, m.assets, m.clock())
}

func (m *MaintenanceService) ListTasks(filter maintenance.TaskFilter) []models.TaskView {
	return m.engine.ListTasks(filter, m.assets, m.clock())
}

func (m *MaintenanceService) StatusCounts(assetID string) map[models.TaskStatus]int {
	return m.engine.StatusCounts(assetID, m.assets, m.clock())
}

// EditTask changes the services or due rule of an active, unlocked task.
func (m *MaintenanceService) EditTask(ctx context.Context, id string, edit maintenance.TaskEdit) (models.MaintenanceTask, error) {
	t, err := m.engine.EditTask(id, edit, m.clock())
	if err != nil {
		return t, m.rejected("edit_task", err)
	}
	m.publish(ctx, events.TaskUpdated, t)
	return t, m.persist("edit_task", func() error { return m.store.UpsertTasks(ctx, t) })
}

// CancelTask skips one occurrence of a task.
func (m *MaintenanceService) CancelTask(ctx context.Context, id, reason, actor string) (models.MaintenanceTask, error) {
	t, err := m.engine.CancelTask(id, reason, actor, m.clock())
	if err != nil {
		return t, m.rejected("cancel_task", err)
	}
	metrics.RecordTaskCancelled()
	m.publish(ctx, events.TaskCancelled, t)
	return t, m.persist("cancel_task", func() error { return m.store.UpsertTasks(ctx, t) })
}

// DeleteTasks removes tasks that no order references.
func (m *MaintenanceService) DeleteTasks(ctx context.Context, ids []string) ([]string, error) {
	deleted, err := m.engine.DeleteTasks(ids)
	if err != nil {
		return nil, m.rejected("delete_tasks", err)
	}
	m.publish(ctx, events.TasksDeleted, map[string][]string{"task_ids": deleted})
	return deleted, m.persist("delete_tasks", func() error { return m.store.DeleteTasks(ctx, deleted) })
}

// CreateOrders opens one work order per asset for the requested tasks.
func (m *MaintenanceService) CreateOrders(ctx context.Context, req maintenance.OrderRequest) (maintenance.OrderResult, error) {
	res, err := m.engine.CreateOrders(req, m.clock())
	if err != nil {
		return res, m.rejected("create_orders", err)
	}
	if res.Replayed {
		return res, m.persist("create_orders", func() error {
			if len(res.Orders) > 0 {
				if v, ok := m.vendors.Get(res.Orders[0].VendorID); ok {
					if err := m.store.UpsertVendors(ctx, v); err != nil {
						return err
					}
				}
			}
			return m.store.UpsertOrders(ctx, res.Orders...)
		})
	}
	metrics.RecordOrdersCreated(len(res.Orders))
	m.refreshOpenOrders()
	if res.Vendor != nil {
		m.publish(ctx, events.VendorCreated, res.Vendor)
	}
	for _, o := range res.Orders {
		m.publish(ctx, events.OrderCreated, o)
	}
	return res, m.persist("create_orders", func() error {
		if res.Vendor != nil {
			if err := m.store.UpsertVendors(ctx, *res.Vendor); err != nil {
				return err
			}
		}
		return m.store.UpsertOrders(ctx, res.Orders...)
	})
}

// CancelOrder cancels an open order and releases its tasks.
func (m *MaintenanceService) CancelOrder(ctx context.Context, id, reason, actor string) (models.TaskOrder, error) {
	o, err := m.engine.CancelOrder(id, reason, actor, m.clock())
	if err != nil {
		return o, m.rejected("cancel_order", err)
	}
	m.refreshOpenOrders()
	m.publish(ctx, events.OrderCancelled, o)
	return o, m.persist("cancel_order", func() error { return m.store.UpsertOrders(ctx, o) })
}

func (m *MaintenanceService) Order(id string) (models.OrderView, error) {
	return m.engine.Order(id)
}

func (m *MaintenanceService) ListOrders(filter maintenance.OrderFilter) []models.OrderView {
	return m.engine.ListOrders(filter)
}

// CompleteOrder records finished work on one order.
func (m *MaintenanceService) CompleteOrder(ctx context.Context, orderID string, req maintenance.CompletionRequest) (maintenance.CompletionResult, error) {
	res, err := m.engine.CompleteOrder(orderID, req, m.clock())
	if err != nil {
		return res, m.rejected("complete_order", err)
	}
	return res, m.afterCompletion(ctx, "complete_order", res)
}

// CompleteBatch records finished work across the orders of one batch.
func (m *MaintenanceService) CompleteBatch(ctx context.Context, batchID string, req maintenance.CompletionRequest) (maintenance.CompletionResult, error) {
	res, err := m.engine.CompleteBatch(batchID, req, m.clock())
	if err != nil {
		return res, m.rejected("complete_batch", err)
	}
	return res, m.afterCompletion(ctx, "complete_batch", res)
}

func (m *MaintenanceService) afterCompletion(ctx context.Context, op string, res maintenance.CompletionResult) error {
	if res.Replayed {
		return m.persistCompletion(ctx, op, res, m.completedAssets(res))
	}
	var changedAssets []models.Asset
	for _, o := range res.Orders {
		for _, ev := range res.Events {
			if !hasEvent(o, ev.ID) {
				continue
			}
			metrics.RecordCompletion(string(ev.Currency), ev.TotalPaid(""))
			m.publish(ctx, events.OrderCompletionRecorded, map[string]interface{}{
				"order_id": o.ID,
				"event":    ev,
			})
			for _, r := range maintenance.FinalReadings(o, ev) {
				asset, changed, err := m.assets.RecordReading(r)
				if err != nil {
					m.log.WithError(err).WithField("asset_id", r.AssetID).Warn("Final meter reading not applied")
					continue
				}
				if changed {
					changedAssets = append(changedAssets, asset)
				}
			}
		}
		if o.Status == models.OrderCompleted {
			m.publish(ctx, events.OrderCompleted, o)
		}
	}
	m.refreshOpenOrders()
	return m.persistCompletion(ctx, op, res, changedAssets)
}

// persistCompletion writes orders before tasks. The orders carry the
// completion events, so Restore can finish a task whose write was lost.
func (m *MaintenanceService) persistCompletion(ctx context.Context, op string, res maintenance.CompletionResult, assets []models.Asset) error {
	return m.persist(op, func() error {
		if err := m.store.UpsertOrders(ctx, res.Orders...); err != nil {
			return err
		}
		if err := m.store.UpsertTasks(ctx, res.Tasks...); err != nil {
			return err
		}
		return m.store.UpsertAssets(ctx, assets...)
	})
}

// completedAssets returns the current registry entries of assets that
// reported final meter values in the result's events.
func (m *MaintenanceService) completedAssets(res maintenance.CompletionResult) []models.Asset {
	seen := make(map[string]bool)
	var out []models.Asset
	for _, o := range res.Orders {
		for _, ev := range res.Events {
			if !hasEvent(o, ev.ID) {
				continue
			}
			for _, r := range maintenance.FinalReadings(o, ev) {
				if seen[r.AssetID] {
					continue
				}
				seen[r.AssetID] = true
				if a, ok := m.assets.Get(r.AssetID); ok {
					out = append(out, a)
				}
			}
		}
	}
	return out
}

// recoveredTasks returns the restored tasks whose version moved past the
// stored one.
func recoveredTasks(stored, restored []models.MaintenanceTask) []models.MaintenanceTask {
	versions := make(map[string]int64, len(stored))
	for _, t := range stored {
		versions[t.ID] = t.Version
	}
	var out []models.MaintenanceTask
	for _, t := range restored {
		if v, ok := versions[t.ID]; ok && t.Version > v {
			out = append(out, t)
		}
	}
	return out
}

// Expenses projects maintenance expenses from completion events. An empty
// assetID covers the whole fleet.
func (m *MaintenanceService) Expenses(assetID string) ([]models.Expense, map[models.Currency]decimal.Decimal) {
	expenses := maintenance.ProjectExpenses(m.engine.Orders(), assetID)
	return expenses, maintenance.TotalsByCurrency(expenses)
}

func (m *MaintenanceService) refreshOpenOrders() {
	open := 0
	for _, o := range m.engine.Orders() {
		if o.Status == models.OrderOpen {
			open++
		}
	}
	metrics.SetOpenOrders(open)
}

// rejected logs and counts an engine refusal and passes the error through.
func (m *MaintenanceService) rejected(op string, err error) error {
	reason := Reason(err)
	metrics.RecordRejected(op, reason)
	entry := m.log.WithError(err).WithFields(logrus.Fields{"operation": op, "reason": reason})
	var locked *maintenance.LockedError
	if errors.As(err, &locked) {
		entry = entry.WithField("order_id", locked.OrderID)
	}
	entry.Debug("Mutation rejected")
	return err
}

func (m *MaintenanceService) persist(op string, write func() error) error {
	if err := write(); err != nil {
		m.log.WithError(err).WithField("operation", op).Error("Failed to persist maintenance change")
		return fmt.Errorf("%w: %s: %v", ErrPersist, op, err)
	}
	return nil
}

func (m *MaintenanceService) publish(ctx context.Context, t events.Type, payload interface{}) {
	if err := m.publisher.Publish(ctx, t, payload); err != nil {
		m.log.WithError(err).WithField("event", t).Error("Failed to publish maintenance event")
	}
}

// Reason names the error class for logs, metrics and API error codes.
func Reason(err error) string {
	switch {
	case errors.Is(err, maintenance.ErrValidation):
		return "validation"
	case errors.Is(err, maintenance.ErrNotFound):
		return "not_found"
	case errors.Is(err, maintenance.ErrLocked):
		return "locked"
	case errors.Is(err, maintenance.ErrTerminal):
		return "terminal_state"
	case errors.Is(err, maintenance.ErrConflict):
		return "conflict"
	case errors.Is(err, maintenance.ErrUnitMismatch):
		return "unit_mismatch"
	default:
		return "internal"
	}
}

func hasEvent(o models.TaskOrder, eventID string) bool {
	for _, ev := range o.Completions {
		if ev.ID == eventID {
			return true
		}
	}
	return false
}

func taskIDs(tasks []models.MaintenanceTask) []string {
	ids := make([]string, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}
	return ids
}

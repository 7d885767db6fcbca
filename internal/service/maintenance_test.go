package service

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ukydev/fleet-maintenance/internal/db"
	"github.com/ukydev/fleet-maintenance/internal/events"
	"github.com/ukydev/fleet-maintenance/internal/maintenance"
	"github.com/ukydev/fleet-maintenance/internal/models"
	"github.com/ukydev/fleet-maintenance/internal/registry"
)

var fixedNow = time.Date(2026, 4, 1, 15, 0, 0, 0, time.UTC)

type recordingPublisher struct {
	mu    sync.Mutex
	types []events.Type
}

func (p *recordingPublisher) Publish(_ context.Context, t events.Type, _ interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.types = append(p.types, t)
	return nil
}

func (p *recordingPublisher) Close() {}

func (p *recordingPublisher) count(t events.Type) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, got := range p.types {
		if got == t {
			n++
		}
	}
	return n
}

// flakyStore fails order or task writes while the matching flag is set.
type flakyStore struct {
	*db.MemoryStore
	failOrders bool
	failTasks  bool
}

func (s *flakyStore) UpsertOrders(ctx context.Context, orders ...models.TaskOrder) error {
	if s.failOrders {
		return errors.New("mongo unavailable")
	}
	return s.MemoryStore.UpsertOrders(ctx, orders...)
}

func (s *flakyStore) UpsertTasks(ctx context.Context, tasks ...models.MaintenanceTask) error {
	if s.failTasks {
		return errors.New("mongo unavailable")
	}
	return s.MemoryStore.UpsertTasks(ctx, tasks...)
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestService(t *testing.T, store db.Store) (*MaintenanceService, *recordingPublisher) {
	t.Helper()
	catalog, err := registry.LoadCatalog("")
	require.NoError(t, err)
	fleet, err := registry.LoadFleet("")
	require.NoError(t, err)

	vendors := registry.NewVendors(fleet.Vendors)
	engine := maintenance.New(vendors, catalog, maintenance.WithLogger(quietLogger()))
	pub := &recordingPublisher{}
	svc := New(engine, registry.NewAssets(fleet.Assets), vendors, catalog,
		WithStore(store),
		WithPublisher(pub),
		WithLogger(quietLogger()),
		WithClock(func() time.Time { return fixedNow }),
	)
	require.NoError(t, svc.Hydrate(context.Background()))
	return svc, pub
}

func oilSchedule() models.Schedule {
	return models.Schedule{
		Name:              "Oil every 10k",
		EntityFilter:      models.EntityCMV,
		ServiceTypeIDs:    []string{"oil_filter_change"},
		Frequency:         models.Frequency{Every: 10000, Unit: models.UnitMiles},
		UpcomingThreshold: 1000,
		Assignment:        models.Assignment{AssetIDs: []string{"a1", "a2"}},
	}
}

func TestMaintenanceService_OrderLifecycle(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemoryStore()
	svc, pub := newTestService(t, store)

	expanded, err := svc.CreateSchedule(ctx, oilSchedule())
	require.NoError(t, err)
	require.Len(t, expanded.Tasks, 2)
	assert.Equal(t, 1, pub.count(events.ScheduleExpanded))

	snap, err := store.LoadSnapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, snap.Schedules, 1)
	assert.Len(t, snap.Tasks, 2)

	ordered, err := svc.CreateOrders(ctx, maintenance.OrderRequest{
		BatchID:  "batch-1",
		TaskIDs:  taskIDs(expanded.Tasks),
		VendorID: "ven_1",
		Meta:     models.OrderMeta{OdometerRequired: true},
	})
	require.NoError(t, err)
	require.Len(t, ordered.Orders, 2)
	assert.Equal(t, 2, pub.count(events.OrderCreated))

	for _, task := range svc.ListTasks(maintenance.TaskFilter{}) {
		assert.Equal(t, models.StatusInProgress, task.Status)
	}

	odo := 190000.0
	invoiced := fixedNow.AddDate(0, 0, -1)
	done, err := svc.CompleteBatch(ctx, "batch-1", maintenance.CompletionRequest{
		RequestID:   "req-1",
		Currency:    models.CurrencyUSD,
		InvoiceDate: &invoiced,
		Assets: []maintenance.AssetCompletion{{
			AssetID:          "a1",
			FinalOdometer:    &odo,
			PartsAndSupplies: decimal.RequireFromString("80"),
			Labour:           decimal.RequireFromString("40"),
			Tax:              decimal.RequireFromString("9.60"),
		}},
		CompletedBy: "dispatcher",
	})
	require.NoError(t, err)
	require.Len(t, done.Events, 1)
	assert.Equal(t, 1, pub.count(events.OrderCompletionRecorded))
	assert.Equal(t, 1, pub.count(events.OrderCompleted))

	// The final odometer moves the asset registry forward and is stored.
	assets, err := store.LoadAssets(ctx)
	require.NoError(t, err)
	for _, a := range assets {
		if a.ID == "a1" {
			assert.Equal(t, 190000.0, a.CurrentOdometer)
		}
	}

	snap, err = store.LoadSnapshot(ctx)
	require.NoError(t, err)
	statuses := map[string]models.OrderStatus{}
	for _, o := range snap.Orders {
		statuses[o.AssetID] = o.Status
	}
	assert.Equal(t, models.OrderCompleted, statuses["a1"])
	assert.Equal(t, models.OrderOpen, statuses["a2"])

	expenses, totals := svc.Expenses("")
	require.Len(t, expenses, 1)
	assert.Equal(t, "a1", expenses[0].AssetID)
	assert.True(t, totals[models.CurrencyUSD].Equal(decimal.RequireFromString("129.60")))

	// Replaying the same request changes nothing and publishes nothing.
	again, err := svc.CompleteBatch(ctx, "batch-1", maintenance.CompletionRequest{
		RequestID:   "req-1",
		InvoiceDate: &invoiced,
		Assets:      []maintenance.AssetCompletion{{AssetID: "a1", FinalOdometer: &odo}},
	})
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, 1, pub.count(events.OrderCompletionRecorded))
}

func TestMaintenanceService_RejectedMutationPersistsNothing(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemoryStore()
	svc, pub := newTestService(t, store)

	expanded, err := svc.CreateSchedule(ctx, oilSchedule())
	require.NoError(t, err)
	first, err := svc.CreateOrders(ctx, maintenance.OrderRequest{TaskIDs: taskIDs(expanded.Tasks[:1]), VendorID: "ven_2"})
	require.NoError(t, err)

	_, err = svc.CreateOrders(ctx, maintenance.OrderRequest{TaskIDs: taskIDs(expanded.Tasks), VendorID: "ven_2"})
	var locked *maintenance.LockedError
	require.ErrorAs(t, err, &locked)
	assert.Equal(t, first.Orders[0].ID, locked.OrderID)
	assert.Equal(t, "locked", Reason(err))

	snap, err := store.LoadSnapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, snap.Orders, 1)
	assert.Equal(t, 1, pub.count(events.OrderCreated))

	_, err = svc.CancelTask(ctx, expanded.Tasks[0].ID, "not needed", "ops")
	assert.ErrorIs(t, err, maintenance.ErrLocked)
}

func TestMaintenanceService_PersistFailureKeepsCommit(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, &flakyStore{MemoryStore: db.NewMemoryStore(), failOrders: true})

	expanded, err := svc.CreateSchedule(ctx, oilSchedule())
	require.NoError(t, err)

	res, err := svc.CreateOrders(ctx, maintenance.OrderRequest{TaskIDs: taskIDs(expanded.Tasks), VendorID: "ven_1"})
	assert.ErrorIs(t, err, ErrPersist)
	require.Len(t, res.Orders, 2)

	_, err = svc.Order(res.Orders[0].ID)
	assert.NoError(t, err)
}

func TestMaintenanceService_RetryAfterPersistFailure(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{MemoryStore: db.NewMemoryStore()}
	svc, pub := newTestService(t, store)

	expanded, err := svc.CreateSchedule(ctx, oilSchedule())
	require.NoError(t, err)

	store.failTasks = true
	cohort, err := svc.ExpandSchedule(ctx, expanded.Schedule.ID, "cohort-2")
	assert.ErrorIs(t, err, ErrPersist)
	store.failTasks = false
	again, err := svc.ExpandSchedule(ctx, expanded.Schedule.ID, "cohort-2")
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, 2, pub.count(events.ScheduleExpanded))

	snap, err := store.LoadSnapshot(ctx)
	require.NoError(t, err)
	stored := map[string]bool{}
	for _, task := range snap.Tasks {
		stored[task.ID] = true
	}
	for _, task := range cohort.Tasks {
		assert.True(t, stored[task.ID], task.ID)
	}

	req := maintenance.OrderRequest{BatchID: "batch-1", TaskIDs: taskIDs(expanded.Tasks), VendorID: "ven_1"}
	store.failOrders = true
	_, err = svc.CreateOrders(ctx, req)
	assert.ErrorIs(t, err, ErrPersist)
	store.failOrders = false
	replayed, err := svc.CreateOrders(ctx, req)
	require.NoError(t, err)
	assert.True(t, replayed.Replayed)
	assert.Equal(t, 2, pub.count(events.OrderCreated))

	snap, err = store.LoadSnapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, snap.Orders, 2)

	invoiced := fixedNow
	completion := maintenance.CompletionRequest{
		RequestID:   "req-1",
		InvoiceDate: &invoiced,
		Assets:      []maintenance.AssetCompletion{{AssetID: "a1", Labour: decimal.RequireFromString("50")}},
	}
	store.failTasks = true
	_, err = svc.CompleteBatch(ctx, "batch-1", completion)
	assert.ErrorIs(t, err, ErrPersist)
	store.failTasks = false
	done, err := svc.CompleteBatch(ctx, "batch-1", completion)
	require.NoError(t, err)
	assert.True(t, done.Replayed)
	assert.Equal(t, 1, pub.count(events.OrderCompletionRecorded))

	snap, err = store.LoadSnapshot(ctx)
	require.NoError(t, err)
	for _, task := range snap.Tasks {
		if task.AssetID == "a1" && task.BatchID == expanded.BatchID {
			assert.Equal(t, models.LifecycleCompleted, task.Lifecycle)
		}
	}
}

func TestMaintenanceService_HydrateAfterFailedTaskWrite(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{MemoryStore: db.NewMemoryStore()}
	svc, _ := newTestService(t, store)

	expanded, err := svc.CreateSchedule(ctx, oilSchedule())
	require.NoError(t, err)
	_, err = svc.CreateOrders(ctx, maintenance.OrderRequest{BatchID: "batch-1", TaskIDs: taskIDs(expanded.Tasks), VendorID: "ven_1"})
	require.NoError(t, err)

	// The orders reach the store with their completion events; the task
	// write fails.
	store.failTasks = true
	invoiced := fixedNow
	_, err = svc.CompleteBatch(ctx, "batch-1", maintenance.CompletionRequest{
		RequestID:   "req-1",
		InvoiceDate: &invoiced,
		Assets: []maintenance.AssetCompletion{
			{AssetID: "a1", Labour: decimal.RequireFromString("50")},
			{AssetID: "a2", Labour: decimal.RequireFromString("70")},
		},
	})
	require.ErrorIs(t, err, ErrPersist)

	restarted, _ := newTestService(t, store.MemoryStore)
	for _, id := range taskIDs(expanded.Tasks) {
		task, err := restarted.Task(id)
		require.NoError(t, err)
		assert.Equal(t, models.StatusCompleted, task.Status)
		assert.Empty(t, task.LockedBy)
	}
	expenses, _ := restarted.Expenses("")
	assert.Len(t, expenses, 2)

	// The recovered tasks are written back.
	snap, err := store.LoadSnapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Tasks, 2)
	for _, task := range snap.Tasks {
		assert.Equal(t, models.LifecycleCompleted, task.Lifecycle)
		require.NotNil(t, task.CompletedAt)
		assert.Equal(t, fixedNow, *task.CompletedAt)
	}
}

func TestMaintenanceService_HydrateRestoresState(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemoryStore()
	svc, _ := newTestService(t, store)

	expanded, err := svc.CreateSchedule(ctx, oilSchedule())
	require.NoError(t, err)
	res, err := svc.CreateOrders(ctx, maintenance.OrderRequest{
		TaskIDs:   taskIDs(expanded.Tasks[:1]),
		NewVendor: &models.VendorDetails{CompanyName: "Hill Country Mobile Mechanics"},
	})
	require.NoError(t, err)
	require.NotNil(t, res.Vendor)

	restarted, _ := newTestService(t, store)
	task, err := restarted.Task(expanded.Tasks[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, task.Status)
	assert.Equal(t, res.Orders[0].ID, task.LockedBy)

	names := map[string]bool{}
	for _, v := range restarted.Vendors() {
		names[v.CompanyName] = true
	}
	assert.True(t, names["Hill Country Mobile Mechanics"])
}

func TestMaintenanceService_RecordReading(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemoryStore()
	svc, _ := newTestService(t, store)

	odo := 200000.0
	require.NoError(t, svc.RecordReading(ctx, models.MeterReading{AssetID: "a1", Odometer: &odo}))

	err := svc.RecordReading(ctx, models.MeterReading{AssetID: "ghost", Odometer: &odo})
	assert.ErrorIs(t, err, maintenance.ErrNotFound)

	err = svc.RecordReading(ctx, models.MeterReading{AssetID: "a1"})
	assert.ErrorIs(t, err, maintenance.ErrValidation)

	assets, err := store.LoadAssets(ctx)
	require.NoError(t, err)
	for _, a := range assets {
		if a.ID == "a1" {
			assert.Equal(t, odo, a.CurrentOdometer)
			assert.Equal(t, fixedNow, a.MeterUpdatedAt)
		}
	}
}

func TestReason(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&maintenance.ValidationError{Field: "name"}, "validation"},
		{&maintenance.NotFoundError{Kind: "task", ID: "x"}, "not_found"},
		{&maintenance.LockedError{TaskID: "t", OrderID: "o"}, "locked"},
		{&maintenance.TerminalStateError{Kind: "task", ID: "t", State: "completed"}, "terminal_state"},
		{&maintenance.ConflictError{Message: "dup"}, "conflict"},
		{errors.New("boom"), "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, Reason(tt.err))
		})
	}
}

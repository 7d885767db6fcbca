package db

import (
	"context"
	"sort"
	"sync"

	"github.com/ukydev/fleet-maintenance/internal/maintenance"
	"github.com/ukydev/fleet-maintenance/internal/models"
)

// MemoryStore implements Store in process memory. It applies the same
// version rule as MongoStore.
type MemoryStore struct {
	mu        sync.Mutex
	schedules map[string]models.Schedule
	tasks     map[string]models.MaintenanceTask
	orders    map[string]models.TaskOrder
	vendors   map[string]models.Vendor
	assets    map[string]models.Asset
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		schedules: make(map[string]models.Schedule),
		tasks:     make(map[string]models.MaintenanceTask),
		orders:    make(map[string]models.TaskOrder),
		vendors:   make(map[string]models.Vendor),
		assets:    make(map[string]models.Asset),
	}
}

func (m *MemoryStore) UpsertSchedules(_ context.Context, schedules ...models.Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range schedules {
		if cur, ok := m.schedules[s.ID]; ok && cur.Version >= s.Version {
			continue
		}
		m.schedules[s.ID] = s.Clone()
	}
	return nil
}

func (m *MemoryStore) UpsertTasks(_ context.Context, tasks ...models.MaintenanceTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range tasks {
		if cur, ok := m.tasks[t.ID]; ok && cur.Version >= t.Version {
			continue
		}
		m.tasks[t.ID] = t.Clone()
	}
	return nil
}

func (m *MemoryStore) UpsertOrders(_ context.Context, orders ...models.TaskOrder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range orders {
		if cur, ok := m.orders[o.ID]; ok && cur.Version >= o.Version {
			continue
		}
		m.orders[o.ID] = o.Clone()
	}
	return nil
}

func (m *MemoryStore) DeleteTasks(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.tasks, id)
	}
	return nil
}

func (m *MemoryStore) LoadSnapshot(_ context.Context) (maintenance.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var snap maintenance.Snapshot
	for _, s := range m.schedules {
		snap.Schedules = append(snap.Schedules, s.Clone())
	}
	for _, t := range m.tasks {
		snap.Tasks = append(snap.Tasks, t.Clone())
	}
	for _, o := range m.orders {
		snap.Orders = append(snap.Orders, o.Clone())
	}
	sort.Slice(snap.Schedules, func(i, j int) bool { return snap.Schedules[i].ID < snap.Schedules[j].ID })
	sort.Slice(snap.Tasks, func(i, j int) bool { return snap.Tasks[i].ID < snap.Tasks[j].ID })
	sort.Slice(snap.Orders, func(i, j int) bool { return snap.Orders[i].ID < snap.Orders[j].ID })
	return snap, nil
}

func (m *MemoryStore) UpsertVendors(_ context.Context, vendors ...models.Vendor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range vendors {
		m.vendors[v.ID] = v
	}
	return nil
}

func (m *MemoryStore) LoadVendors(_ context.Context) ([]models.Vendor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Vendor, 0, len(m.vendors))
	for _, v := range m.vendors {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) UpsertAssets(_ context.Context, assets ...models.Asset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range assets {
		if cur, ok := m.assets[a.ID]; ok {
			if cur.CurrentOdometer > a.CurrentOdometer {
				a.CurrentOdometer = cur.CurrentOdometer
			}
			if cur.CurrentEngineHours > a.CurrentEngineHours {
				a.CurrentEngineHours = cur.CurrentEngineHours
			}
			if cur.MeterUpdatedAt.After(a.MeterUpdatedAt) {
				a.MeterUpdatedAt = cur.MeterUpdatedAt
			}
		}
		m.assets[a.ID] = a
	}
	return nil
}

func (m *MemoryStore) LoadAssets(_ context.Context) ([]models.Asset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Asset, 0, len(m.assets))
	for _, a := range m.assets {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

package db

import (
	"context"

	"github.com/ukydev/fleet-maintenance/internal/maintenance"
	"github.com/ukydev/fleet-maintenance/internal/models"
)

// Store defines the persistence operations used by the maintenance service.
// Upserts of versioned entities never replace a newer stored copy.
type Store interface {
	UpsertSchedules(ctx context.Context, schedules ...models.Schedule) error
	UpsertTasks(ctx context.Context, tasks ...models.MaintenanceTask) error
	UpsertOrders(ctx context.Context, orders ...models.TaskOrder) error
	DeleteTasks(ctx context.Context, ids []string) error
	LoadSnapshot(ctx context.Context) (maintenance.Snapshot, error)

	UpsertVendors(ctx context.Context, vendors ...models.Vendor) error
	LoadVendors(ctx context.Context) ([]models.Vendor, error)
	UpsertAssets(ctx context.Context, assets ...models.Asset) error
	LoadAssets(ctx context.Context) ([]models.Asset, error)
}

// Cursor defines the interface for cursor operations.
type Cursor interface {
	All(ctx context.Context, out interface{}) error
	Close(ctx context.Context) error
}

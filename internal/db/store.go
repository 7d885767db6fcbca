package db

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ukydev/fleet-maintenance/internal/maintenance"
	"github.com/ukydev/fleet-maintenance/internal/models"
)

const duplicateKeyCode = 11000

// Collection names.
const (
	SchedulesCollection = "maintenance_schedules"
	TasksCollection     = "maintenance_tasks"
	OrdersCollection    = "task_orders"
	VendorsCollection   = "vendors"
	AssetsCollection    = "assets"
)

// MongoStore implements Store on MongoDB.
type MongoStore struct {
	Schedules *mongo.Collection
	Tasks     *mongo.Collection
	Orders    *mongo.Collection
	Vendors   *mongo.Collection
	Assets    *mongo.Collection
}

// NewMongoStore binds a store to the collections of one database.
func NewMongoStore(database *mongo.Database) *MongoStore {
	return &MongoStore{
		Schedules: database.Collection(SchedulesCollection),
		Tasks:     database.Collection(TasksCollection),
		Orders:    database.Collection(OrdersCollection),
		Vendors:   database.Collection(VendorsCollection),
		Assets:    database.Collection(AssetsCollection),
	}
}

// EnsureIndexes creates the secondary indexes used by ad-hoc queries.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	if _, err := s.Tasks.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "asset_id", Value: 1}}},
		{Keys: bson.D{{Key: "batch_id", Value: 1}}},
		{Keys: bson.D{{Key: "schedule_id", Value: 1}}},
	}); err != nil {
		return fmt.Errorf("task indexes: %w", err)
	}
	if _, err := s.Orders.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "batch_id", Value: 1}}},
		{Keys: bson.D{{Key: "asset_id", Value: 1}, {Key: "status", Value: 1}}},
	}); err != nil {
		return fmt.Errorf("order indexes: %w", err)
	}
	return nil
}

// UpsertSchedules stores schedules.
func (s *MongoStore) UpsertSchedules(ctx context.Context, schedules ...models.Schedule) error {
	writes := make([]mongo.WriteModel, 0, len(schedules))
	for _, sc := range schedules {
		writes = append(writes, versionedReplace(sc.ID, sc.Version, sc))
	}
	return bulkWrite(ctx, s.Schedules, writes)
}

// UpsertTasks stores tasks.
func (s *MongoStore) UpsertTasks(ctx context.Context, tasks ...models.MaintenanceTask) error {
	writes := make([]mongo.WriteModel, 0, len(tasks))
	for _, t := range tasks {
		writes = append(writes, versionedReplace(t.ID, t.Version, t))
	}
	return bulkWrite(ctx, s.Tasks, writes)
}

// UpsertOrders stores orders.
func (s *MongoStore) UpsertOrders(ctx context.Context, orders ...models.TaskOrder) error {
	writes := make([]mongo.WriteModel, 0, len(orders))
	for _, o := range orders {
		writes = append(writes, versionedReplace(o.ID, o.Version, o))
	}
	return bulkWrite(ctx, s.Orders, writes)
}

// DeleteTasks removes tasks by id.
func (s *MongoStore) DeleteTasks(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if s.Tasks == nil {
		return fmt.Errorf("mongo collection is nil")
	}
	_, err := s.Tasks.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}})
	return err
}

// LoadSnapshot reads every schedule, task and order.
func (s *MongoStore) LoadSnapshot(ctx context.Context) (maintenance.Snapshot, error) {
	var snap maintenance.Snapshot
	if err := findAll(ctx, s.Schedules, &snap.Schedules); err != nil {
		return snap, fmt.Errorf("load schedules: %w", err)
	}
	if err := findAll(ctx, s.Tasks, &snap.Tasks); err != nil {
		return snap, fmt.Errorf("load tasks: %w", err)
	}
	if err := findAll(ctx, s.Orders, &snap.Orders); err != nil {
		return snap, fmt.Errorf("load orders: %w", err)
	}
	return snap, nil
}

// UpsertVendors stores vendors.
func (s *MongoStore) UpsertVendors(ctx context.Context, vendors ...models.Vendor) error {
	writes := make([]mongo.WriteModel, 0, len(vendors))
	for _, v := range vendors {
		writes = append(writes, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": v.ID}).
			SetReplacement(v).
			SetUpsert(true))
	}
	return bulkWrite(ctx, s.Vendors, writes)
}

// LoadVendors reads every vendor.
func (s *MongoStore) LoadVendors(ctx context.Context) ([]models.Vendor, error) {
	var vendors []models.Vendor
	if err := findAll(ctx, s.Vendors, &vendors); err != nil {
		return nil, fmt.Errorf("load vendors: %w", err)
	}
	return vendors, nil
}

// UpsertAssets stores assets. Meter fields only ever increase.
func (s *MongoStore) UpsertAssets(ctx context.Context, assets ...models.Asset) error {
	writes := make([]mongo.WriteModel, 0, len(assets))
	for _, a := range assets {
		writes = append(writes, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"_id": a.ID}).
			SetUpdate(bson.M{
				"$set": bson.M{"unit_number": a.UnitNumber, "category": a.Category},
				"$max": bson.M{
					"current_odometer":     a.CurrentOdometer,
					"current_engine_hours": a.CurrentEngineHours,
					"meter_updated_at":     a.MeterUpdatedAt,
				},
			}).
			SetUpsert(true))
	}
	return bulkWrite(ctx, s.Assets, writes)
}

// LoadAssets reads every asset.
func (s *MongoStore) LoadAssets(ctx context.Context) ([]models.Asset, error) {
	var assets []models.Asset
	if err := findAll(ctx, s.Assets, &assets); err != nil {
		return nil, fmt.Errorf("load assets: %w", err)
	}
	return assets, nil
}

// versionedReplace replaces a document only when the stored version is
// older. When a newer copy exists the upsert collides on _id and the
// duplicate key error is discarded by bulkWrite.
func versionedReplace(id string, version int64, doc interface{}) mongo.WriteModel {
	return mongo.NewReplaceOneModel().
		SetFilter(bson.M{"_id": id, "version": bson.M{"$lt": version}}).
		SetReplacement(doc).
		SetUpsert(true)
}

func bulkWrite(ctx context.Context, coll *mongo.Collection, writes []mongo.WriteModel) error {
	if len(writes) == 0 {
		return nil
	}
	if coll == nil {
		return fmt.Errorf("mongo collection is nil")
	}
	_, err := coll.BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(false))
	if err != nil && onlyStaleWrites(err) {
		return nil
	}
	return err
}

// onlyStaleWrites reports whether every write error is a duplicate key,
// which for versioned upserts means the stored copy was newer.
func onlyStaleWrites(err error) bool {
	var bwe mongo.BulkWriteException
	if !errors.As(err, &bwe) || bwe.WriteConcernError != nil || len(bwe.WriteErrors) == 0 {
		return false
	}
	for _, we := range bwe.WriteErrors {
		if we.Code != duplicateKeyCode {
			return false
		}
	}
	return true
}

func findAll(ctx context.Context, coll *mongo.Collection, out interface{}) error {
	cursor, err := find(ctx, coll, bson.M{}, options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return err
	}
	defer cursor.Close(ctx)
	return cursor.All(ctx, out)
}

package db

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/ukydev/fleet-maintenance/internal/models"
)

func TestConnectMongo_BadURI(t *testing.T) {
	client, err := ConnectMongo(context.Background(), "mongodb://bad:uri")
	if err == nil {
		t.Error("expected error for bad URI, got nil")
	}
	if client != nil {
		t.Error("expected nil client on error")
	}
}

func TestDecimalCodec_RoundTrip(t *testing.T) {
	reg := NewRegistry()
	in := models.Costs{
		PartsAndSupplies: decimal.RequireFromString("100.10"),
		Labour:           decimal.RequireFromString("0.20"),
		Tax:              decimal.RequireFromString("13.05"),
	}
	in.TotalPaid = in.PartsAndSupplies.Add(in.Labour).Add(in.Tax)

	raw, err := bson.MarshalWithRegistry(reg, in)
	require.NoError(t, err)

	var doc bson.M
	require.NoError(t, bson.Unmarshal(raw, &doc))
	assert.Equal(t, "113.35", doc["total_paid"])

	var out models.Costs
	require.NoError(t, bson.UnmarshalWithRegistry(reg, raw, &out))
	assert.True(t, out.TotalPaid.Equal(in.TotalPaid))
	assert.True(t, out.Balanced())
}

func TestDecimalCodec_DecodesNumbers(t *testing.T) {
	reg := NewRegistry()
	raw, err := bson.Marshal(bson.M{"labour": 12.5, "tax": int32(3), "parts_and_supplies": int64(7), "total_paid": nil})
	require.NoError(t, err)

	var out models.Costs
	require.NoError(t, bson.UnmarshalWithRegistry(reg, raw, &out))
	assert.True(t, out.Labour.Equal(decimal.RequireFromString("12.5")))
	assert.True(t, out.Tax.Equal(decimal.NewFromInt(3)))
	assert.True(t, out.PartsAndSupplies.Equal(decimal.NewFromInt(7)))
	assert.True(t, out.TotalPaid.IsZero())
}

func TestUpsertTasks_NilCollection(t *testing.T) {
	store := &MongoStore{}
	err := store.UpsertTasks(context.Background(), models.MaintenanceTask{ID: "t1", Version: 1})
	if err == nil {
		t.Error("expected error when collection is nil")
	}
	assert.NoError(t, store.UpsertTasks(context.Background()))
}

func TestOnlyStaleWrites(t *testing.T) {
	stale := mongo.BulkWriteException{WriteErrors: []mongo.BulkWriteError{
		{WriteError: mongo.WriteError{Code: duplicateKeyCode}},
	}}
	assert.True(t, onlyStaleWrites(stale))

	mixed := mongo.BulkWriteException{WriteErrors: []mongo.BulkWriteError{
		{WriteError: mongo.WriteError{Code: duplicateKeyCode}},
		{WriteError: mongo.WriteError{Code: 2}},
	}}
	assert.False(t, onlyStaleWrites(mixed))
	assert.False(t, onlyStaleWrites(mongo.ErrNoDocuments))
}

// Integration test (requires running MongoDB)
func TestMongoStore_Integration(t *testing.T) {
	uri := os.Getenv("MONGO_URI")
	if uri == "" || uri == "uri" {
		t.Skip("MONGO_URI not set or invalid, skipping integration test")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	client, err := ConnectMongo(ctx, uri)
	if err != nil {
		t.Skipf("failed to connect: %v, skipping integration test", err)
		return
	}
	defer client.Disconnect(context.Background())

	database := client.Database("test_fleet_maintenance")
	require.NoError(t, database.Drop(ctx))
	store := NewMongoStore(database)
	require.NoError(t, store.EnsureIndexes(ctx))

	odo := 1000.0
	task := models.MaintenanceTask{
		ID:        "t1",
		AssetID:   "a1",
		Lifecycle: models.LifecycleActive,
		DueRule:   models.DueRule{Unit: models.UnitMiles, FrequencyEvery: 500, DueAtOdometer: &odo},
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
		Version:   2,
	}
	require.NoError(t, store.UpsertTasks(ctx, task))

	older := task
	older.Version = 1
	older.Lifecycle = models.LifecycleCancelled
	require.NoError(t, store.UpsertTasks(ctx, older))

	snap, err := store.LoadSnapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Tasks, 1)
	assert.Equal(t, models.LifecycleActive, snap.Tasks[0].Lifecycle)

	require.NoError(t, store.DeleteTasks(ctx, []string{"t1"}))
	snap, err = store.LoadSnapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap.Tasks)
}

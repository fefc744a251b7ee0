package persistence

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/OpenAds/loader/internal/task"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, StatusCompleted, StatusFor(task.Progress{Success: 100}))
	assert.Equal(t, StatusFailed, StatusFor(task.Progress{Failure: 100}))
	assert.Equal(t, StatusFailed, StatusFor(task.Progress{}))
	assert.Equal(t, StatusPartiallyFailed, StatusFor(task.Progress{Success: 50, Failure: 50}))
}

func TestLoadStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store, err := NewLoadStore(newTestDB(t))
	require.NoError(t, err)

	record := &LoadRecord{
		TenantID: "tenant-1",
		Name:     "Spring sale",
		Type:     task.TypeCampaignLoad,
		Request:  json.RawMessage(`{"name":"Spring sale"}`),
	}
	require.NoError(t, store.Create(ctx, record))
	assert.NotEqual(t, uuid.Nil, record.ID)
	assert.Equal(t, StatusRunning, record.Status)

	log := []task.SubtaskEntry{
		{Description: "Advertiser 1", Done: true, Succeeded: true},
		{Description: "Advertiser 2", Done: true, Succeeded: false, Error: "campaign rejected"},
	}
	require.NoError(t, store.SaveOutcome(ctx, record.ID, Outcome{
		Progress: task.Progress{Success: 50, Failure: 50},
		Log:      log,
	}))

	got, err := store.GetByID(ctx, "tenant-1", record.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPartiallyFailed, got.Status)
	assert.Equal(t, task.Progress{Success: 50, Failure: 50}, got.Progress)
	assert.Equal(t, log, got.Log)
	assert.JSONEq(t, `{"name":"Spring sale"}`, string(got.Request))
	require.NotNil(t, got.FinishedAt)

	require.NoError(t, store.MarkRunning(ctx, record.ID))
	got, err = store.GetByID(ctx, "tenant-1", record.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, got.Status)
	assert.Nil(t, got.FinishedAt)
}

func TestLoadStoreTenantScoping(t *testing.T) {
	ctx := context.Background()
	store, err := NewLoadStore(newTestDB(t))
	require.NoError(t, err)

	record := &LoadRecord{TenantID: "tenant-1", Name: "a", Type: task.TypeCampaignLoad}
	require.NoError(t, store.Create(ctx, record))

	_, err = store.GetByID(ctx, "tenant-2", record.ID)
	assert.ErrorIs(t, err, ErrRecordNotFound)

	err = store.SaveOutcome(ctx, uuid.New(), Outcome{})
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestLoadStoreListByTenant(t *testing.T) {
	ctx := context.Background()
	store, err := NewLoadStore(newTestDB(t))
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Create(ctx, &LoadRecord{TenantID: "tenant-1", Name: "load", Type: task.TypeCampaignLoad}))
	}
	require.NoError(t, store.Create(ctx, &LoadRecord{TenantID: "tenant-2", Name: "other", Type: task.TypeCampaignLoad}))

	records, total, err := store.ListByTenant(ctx, "tenant-1", 0, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	assert.Len(t, records, 3)

	records, total, err = store.ListByTenant(ctx, "tenant-1", 3, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	assert.Len(t, records, 2)

	records, total, err = store.ListByTenant(ctx, "tenant-3", 0, 3)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, records)
}

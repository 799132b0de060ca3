package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/LJTian/MarketBrief/internal/logging"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestStore(t *testing.T, withRedis bool) (*Store, *miniredis.Miniredis) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "brief.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	var (
		rdb *redis.Client
		mr  *miniredis.Miniredis
	)
	if withRedis {
		mr = miniredis.RunT(t)
		rdb = redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = rdb.Close() })
	}

	store, err := NewStoreWith(db, rdb, logging.Discard())
	require.NoError(t, err)
	return store, mr
}

func sampleRun(id string, started time.Time) *Run {
	return &Run{
		ID:         id,
		StartedAt:  started,
		FinishedAt: started.Add(time.Minute),
		RunDate:    started.Format("2006-01-02"),
		Sources: datatypes.JSONMap{
			"market_indices": map[string]any{"status": "success"},
		},
		Summary:   "📈 아침 시황 요약",
		Chunks:    1,
		Delivered: true,
	}
}

func TestSaveAndListRuns(t *testing.T) {
	store, _ := newTestStore(t, false)
	ctx := context.Background()
	base := time.Date(2026, 10, 19, 7, 0, 0, 0, time.UTC)

	require.NoError(t, store.SaveRun(ctx, sampleRun("run-1", base.Add(-24*time.Hour))))
	require.NoError(t, store.SaveRun(ctx, sampleRun("run-2", base)))

	list, err := store.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "run-2", list[0].ID)

	latest, err := store.LatestRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, "run-2", latest.ID)
	assert.Equal(t, "success", latest.Sources["market_indices"].(map[string]any)["status"])
}

func TestLatestRunNotFound(t *testing.T) {
	store, _ := newTestStore(t, false)
	_, err := store.LatestRun(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveRunUpdatesCaches(t *testing.T) {
	store, mr := newTestStore(t, true)
	ctx := context.Background()
	base := time.Date(2026, 10, 19, 7, 0, 0, 0, time.UTC)

	require.NoError(t, store.SaveRun(ctx, sampleRun("run-1", base)))
	assert.True(t, mr.Exists(latestRunKey))

	list, err := store.ListRuns(ctx, 5)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, mr.Exists("brief:runs:5"))

	// 新记录写入后列表缓存失效
	require.NoError(t, store.SaveRun(ctx, sampleRun("run-2", base.Add(time.Hour))))
	assert.False(t, mr.Exists("brief:runs:5"))

	list, err = store.ListRuns(ctx, 5)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	latest, err := store.LatestRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, "run-2", latest.ID)
}

func TestTryLock(t *testing.T) {
	store, mr := newTestStore(t, true)
	ctx := context.Background()

	ok, unlock, err := store.TryLock(ctx, "a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ok, _, err = store.TryLock(ctx, "b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	unlock()
	assert.False(t, mr.Exists(runLockKey))

	ok, _, err = store.TryLock(ctx, "b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTryLockWithoutRedis(t *testing.T) {
	store, _ := newTestStore(t, false)
	ctx := context.Background()

	ok, unlock, err := store.TryLock(ctx, "a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ok, _, err = store.TryLock(ctx, "b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	unlock()
	ok, _, err = store.TryLock(ctx, "b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLocalCacheWithoutRedis(t *testing.T) {
	store, _ := newTestStore(t, false)
	ctx := context.Background()
	base := time.Date(2026, 10, 19, 7, 0, 0, 0, time.UTC)

	require.NoError(t, store.SaveRun(ctx, sampleRun("run-1", base)))
	list, err := store.ListRuns(ctx, 5)
	require.NoError(t, err)
	require.Len(t, list, 1)

	// 新记录写入后列表缓存失效
	require.NoError(t, store.SaveRun(ctx, sampleRun("run-2", base.Add(24*time.Hour))))
	list, err = store.ListRuns(ctx, 5)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	latest, err := store.LatestRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, "run-2", latest.ID)
}

func TestSaveSummaryFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "output")
	now := time.Date(2026, 10, 19, 7, 0, 5, 0, time.UTC)

	path, err := SaveSummaryFile(dir, now, "요약")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "summary_20261019_070005.txt"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "요약", string(data))
}

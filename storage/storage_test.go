package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NethermindEth/nfaclaw-agent/gatekeeper"
)

func openTestDB(t *testing.T) *DBStorage {
	t.Helper()
	db, err := Open(InMemoryConfig(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestPutGetObject(t *testing.T) {
	db := openTestDB(t)

	got, err := db.Get("missing")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, db.PutObject("a:1", map[string]int{"x": 1}, 0))
	var out map[string]int
	require.NoError(t, db.GetObject("a:1", &out))
	assert.Equal(t, 1, out["x"])

	err = db.GetObject("a:2", &out)
	assert.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, db.Put("a:2", []byte("y"), 0))
	all, err := db.GetByPrefix("a:")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	stats := db.Metrics()
	assert.Equal(t, int64(2), stats.Puts)
	assert.Equal(t, int64(3), stats.Gets)
	assert.Zero(t, stats.Errors)
	assert.NoError(t, db.RunGC())
}

func TestRateStoreWindow(t *testing.T) {
	store := NewRateStore(openTestDB(t))
	ctx := context.Background()
	start := time.Now()

	for i := 1; i <= 3; i++ {
		d, err := store.Hit(ctx, "chat:w", 3, time.Minute, start)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, i, d.Count)
	}
	d, err := store.Hit(ctx, "chat:w", 3, time.Minute, start.Add(time.Second))
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 3, d.Count)

	d, err = store.Hit(ctx, "chat:w", 3, time.Minute, start.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, d.Count)

	buckets, err := store.Buckets()
	require.NoError(t, err)
	require.Contains(t, buckets, "chat:w")
	assert.Equal(t, 1, buckets["chat:w"].Count)
}

func TestRateStoreWithLimiter(t *testing.T) {
	limiter := gatekeeper.NewLimiter(NewRateStore(openTestDB(t)), 2, time.Hour, "ip")
	ctx := context.Background()
	require.NoError(t, limiter.Allow(ctx, "10.0.0.1"))
	require.NoError(t, limiter.Allow(ctx, "10.0.0.1"))

	var rerr *gatekeeper.RateLimitError
	require.ErrorAs(t, limiter.Allow(ctx, "10.0.0.1"), &rerr)
	assert.Equal(t, "ip", rerr.Scope)
	assert.Greater(t, rerr.RetryAfter, 59*time.Minute)
}

func TestRateStoreConcurrentHits(t *testing.T) {
	store := NewRateStore(openTestDB(t))
	now := time.Now()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := store.Hit(context.Background(), "chat:hot", 10, time.Hour, now)
			if err != nil || !d.Allowed {
				return
			}
			mu.Lock()
			allowed++
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, allowed, 10)
	assert.Positive(t, allowed)
}

func TestRateStoreCanceledContext(t *testing.T) {
	store := NewRateStore(openTestDB(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := store.Hit(ctx, "chat:x", 1, time.Minute, time.Now())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCronRepository(t *testing.T) {
	repo := NewCronRepository(openTestDB(t))

	_, err := repo.Last("distribute")
	assert.ErrorIs(t, err, ErrNotFound)

	ranAt := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, repo.Save(CronRun{
		Job:    "distribute",
		RanAt:  ranAt,
		Report: map[string]interface{}{"ok": true, "skipped": true},
	}))

	run, err := repo.Last("distribute")
	require.NoError(t, err)
	assert.Equal(t, "distribute", run.Job)
	assert.True(t, ranAt.Equal(run.RanAt))
	assert.Equal(t, map[string]interface{}{"ok": true, "skipped": true}, run.Report)
}

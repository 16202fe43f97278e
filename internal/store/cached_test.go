package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/voyagen/lineup/internal/cache"
	"github.com/voyagen/lineup/internal/commit"
)

func openTestRedis(t *testing.T) *cache.Redis {
	t.Helper()
	url := os.Getenv("LINEUP_TEST_REDIS_URL")
	if url == "" {
		t.Skip("LINEUP_TEST_REDIS_URL not set")
	}
	r, err := cache.Connect(context.Background(), url)
	if err != nil {
		t.Fatalf("redis: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestCachedStoreInvalidatesAndQueuesOnSubmit(t *testing.T) {
	ctx := context.Background()
	rds := openTestRedis(t)
	if _, err := cache.Drain(ctx, rds, cache.DefaultQueue); err != nil {
		t.Fatal(err)
	}
	_ = cache.DelPattern(ctx, rds, "lineup:*")

	cs := NewCachedStore(openTestSQLite(t), rds)

	cat, err := cs.LoadCatalog(ctx)
	if err != nil || len(cat.Channels) != 0 {
		t.Fatalf("LoadCatalog = %+v, %v", cat, err)
	}

	results, err := cs.Submit(WithSessionID(ctx, "s-1"), []commit.Item{create(-1, 1, "A", nil)})
	if err != nil || results[0].Err != nil {
		t.Fatalf("Submit = %+v, %v", results, err)
	}

	cat, err = cs.LoadCatalog(ctx)
	if err != nil || len(cat.Channels) != 1 {
		t.Fatalf("catalog after submit = %+v, %v (stale cache?)", cat, err)
	}

	job, err := cache.Dequeue(ctx, rds, cache.DefaultQueue, time.Second)
	if err != nil || job == nil {
		t.Fatalf("Dequeue = %+v, %v", job, err)
	}
	if job.SessionID != "s-1" || job.Committed != 1 || job.ChannelIDs[0] != results[0].Entity.ID {
		t.Fatalf("job = %+v", job)
	}
	if cache.IsLocked(ctx, rds, cache.CommitLockKey) {
		t.Fatal("commit lock not released")
	}
}

func TestCachedStoreSubmitWaitsForLock(t *testing.T) {
	ctx := context.Background()
	rds := openTestRedis(t)
	unlock, err := cache.TryLock(ctx, rds, cache.CommitLockKey, time.Minute)
	if err != nil {
		t.Fatalf("TryLock: %v", err)
	}
	go func() {
		time.Sleep(300 * time.Millisecond)
		unlock()
	}()

	cs := NewCachedStore(openTestSQLite(t), rds)
	if _, err := cs.Submit(ctx, []commit.Item{create(-1, 1, "A", nil)}); err != nil {
		t.Fatalf("Submit after lock release: %v", err)
	}
	_, _ = cache.Drain(ctx, rds, cache.DefaultQueue)
}

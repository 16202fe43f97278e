package store

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log"
	"time"

	"github.com/voyagen/lineup/internal/cache"
	"github.com/voyagen/lineup/internal/commit"
	"github.com/voyagen/lineup/internal/models"
)

// Cache TTLs for different entity types.
const (
	ttlCatalog  = 1 * time.Minute
	ttlChannels = 1 * time.Minute
	ttlChannel  = 5 * time.Minute
	ttlGroups   = 5 * time.Minute
)

// Commit lock timings. A commit waits up to commitLockWait for another
// process to finish before giving up.
const (
	commitLockTTL  = 2 * time.Minute
	commitLockWait = 10 * time.Second
	commitLockPoll = 100 * time.Millisecond
)

const (
	keyCatalog = "lineup:catalog"
	keyGroups  = "lineup:groups"
)

type sessionIDKey struct{}

// WithSessionID tags ctx with the id of the session committing through it, so
// the export job can name its origin.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey{}, id)
}

func sessionIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(sessionIDKey{}).(string)
	return id
}

// CachedStore wraps a Store with a Redis caching layer.
// Catalog reads are served from cache when possible; commits take a
// cross-process lock, invalidate every catalog key and queue an export job.
type CachedStore struct {
	inner Store
	cache *cache.Redis
	queue string
}

// NewCachedStore creates a CachedStore that wraps inner with Redis caching.
func NewCachedStore(inner Store, c *cache.Redis) *CachedStore {
	return &CachedStore{inner: inner, cache: c, queue: cache.DefaultQueue}
}

// --- cached read operations ---

func (c *CachedStore) LoadCatalog(ctx context.Context) (models.Catalog, error) {
	if v, err := cache.Get[models.Catalog](ctx, c.cache, keyCatalog); err == nil {
		return v, nil
	}
	cat, err := c.inner.LoadCatalog(ctx)
	if err != nil {
		return models.Catalog{}, err
	}
	if err := cache.Set(ctx, c.cache, keyCatalog, cat, ttlCatalog); err != nil {
		log.Printf("cache: set %s: %v", keyCatalog, err)
	}
	return cat, nil
}

func (c *CachedStore) GetChannelByID(ctx context.Context, channelID int64) (*models.Channel, error) {
	key := fmt.Sprintf("lineup:channel:%d", channelID)
	if v, err := cache.Get[models.Channel](ctx, c.cache, key); err == nil {
		return &v, nil
	}
	ch, err := c.inner.GetChannelByID(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if err := cache.Set(ctx, c.cache, key, ch, ttlChannel); err != nil {
		log.Printf("cache: set %s: %v", key, err)
	}
	return ch, nil
}

// channelListResult is a helper type to cache the ListChannels tuple.
type channelListResult struct {
	Channels []models.Channel `json:"channels"`
	Total    int              `json:"total"`
}

func (c *CachedStore) ListChannels(ctx context.Context, filter ChannelFilter) ([]models.Channel, int, error) {
	key := fmt.Sprintf("lineup:channels:%s", filterHash(filter))
	if v, err := cache.Get[channelListResult](ctx, c.cache, key); err == nil {
		return v.Channels, v.Total, nil
	}
	channels, total, err := c.inner.ListChannels(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	if err := cache.Set(ctx, c.cache, key, channelListResult{Channels: channels, Total: total}, ttlChannels); err != nil {
		log.Printf("cache: set %s: %v", key, err)
	}
	return channels, total, nil
}

func (c *CachedStore) ListGroups(ctx context.Context) ([]models.Group, error) {
	if v, err := cache.Get[[]models.Group](ctx, c.cache, keyGroups); err == nil {
		return v, nil
	}
	groups, err := c.inner.ListGroups(ctx)
	if err != nil {
		return nil, err
	}
	if err := cache.Set(ctx, c.cache, keyGroups, groups, ttlGroups); err != nil {
		log.Printf("cache: set %s: %v", keyGroups, err)
	}
	return groups, nil
}

// --- write operations with cache invalidation ---

// Submit persists items while holding the commit lock, then drops every
// cached catalog view and queues an export of the new lineup.
func (c *CachedStore) Submit(ctx context.Context, items []commit.Item) ([]commit.Result, error) {
	unlock, err := cache.Lock(ctx, c.cache, cache.CommitLockKey, commitLockTTL, commitLockWait, commitLockPoll)
	if err != nil {
		return nil, fmt.Errorf("Submit: acquire commit lock: %w", err)
	}
	defer unlock()

	results, err := c.inner.Submit(ctx, items)
	if err != nil {
		return nil, err
	}

	var ids []int64
	for _, r := range results {
		if r.Err != nil {
			continue
		}
		if r.Entity != nil {
			ids = append(ids, r.Entity.ID)
		} else {
			ids = append(ids, r.Item.EntityID)
		}
	}
	if len(ids) == 0 {
		return results, nil
	}

	c.invalidate(ctx, keyCatalog, keyGroups)
	c.invalidatePattern(ctx, "lineup:channel:*", "lineup:channels:*")

	job := cache.LineupChangedJob{
		SessionID:   sessionIDFrom(ctx),
		Committed:   len(ids),
		ChannelIDs:  ids,
		CommittedAt: time.Now().UTC(),
	}
	if err := cache.Enqueue(ctx, c.cache, c.queue, job); err != nil {
		log.Printf("cache: enqueue export: %v", err)
	}
	return results, nil
}

func (c *CachedStore) GetOrCreateGroup(ctx context.Context, name string) (int64, error) {
	id, err := c.inner.GetOrCreateGroup(ctx, name)
	if err != nil {
		return 0, err
	}
	c.invalidate(ctx, keyCatalog, keyGroups)
	return id, nil
}

// --- passthrough (no caching) ---

func (c *CachedStore) GetOrCreateStream(ctx context.Context, name, url string) (int64, error) {
	return c.inner.GetOrCreateStream(ctx, name, url)
}

func (c *CachedStore) ListStreams(ctx context.Context, ids []int64) ([]models.Stream, error) {
	return c.inner.ListStreams(ctx, ids)
}

// Close closes the wrapped store. The Redis client is owned by the caller.
func (c *CachedStore) Close() error {
	return c.inner.Close()
}

// --- helpers ---

// invalidate deletes exact cache keys, logging any errors.
func (c *CachedStore) invalidate(ctx context.Context, keys ...string) {
	if err := cache.Del(ctx, c.cache, keys...); err != nil && !cache.IsMiss(err) {
		log.Printf("cache: del %v: %v", keys, err)
	}
}

// invalidatePattern deletes all keys matching the given glob patterns.
func (c *CachedStore) invalidatePattern(ctx context.Context, patterns ...string) {
	for _, p := range patterns {
		if err := cache.DelPattern(ctx, c.cache, p); err != nil {
			log.Printf("cache: del pattern %s: %v", p, err)
		}
	}
}

// filterHash produces a short deterministic hash for a ChannelFilter so it
// can be used as part of a cache key.
func filterHash(f ChannelFilter) string {
	group := "any"
	if f.GroupID != nil {
		group = fmt.Sprintf("%d", *f.GroupID)
	}
	raw := fmt.Sprintf("%s|%v|%s|%d|%d", group, f.Ungrouped, f.Search, f.limit(), f.Offset)
	h := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%x", h[:8])
}

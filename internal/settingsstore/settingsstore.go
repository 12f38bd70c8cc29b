// Package settingsstore implements the domain settings read-through
// cache from spec.md §5: a sliding 30-minute / absolute 1-hour cache over
// the Setting key/value table (internal/store), invalidated across
// processes via a github.com/redis/go-redis/v9 pub/sub channel — the
// same client wrapper pattern internal/providers/usagegate grounds on
// the retrieval pack's Redis client idiom.
package settingsstore

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// invalidationChannel is the pub/sub channel a setting write publishes to
// so every other process's cache drops its copy immediately instead of
// waiting out the TTL.
const invalidationChannel = "settingsstore:invalidate"

const (
	slidingTTL  = 30 * time.Minute
	absoluteTTL = 1 * time.Hour
)

// Store is the narrow persistence surface settingsstore needs.
type Store interface {
	GetSetting(ctx context.Context, key string) (value string, ok bool, err error)
	PutSetting(ctx context.Context, key, value string) error
	AllSettings(ctx context.Context) (map[string]string, error)
}

type entry struct {
	value      string
	lastAccess time.Time
	loadedAt   time.Time
}

func (e entry) expired(now time.Time) bool {
	return now.Sub(e.lastAccess) > slidingTTL || now.Sub(e.loadedAt) > absoluteTTL
}

// invalidationEvent is the payload published on a setting change; a
// receiver treats an empty Key as "drop everything".
type invalidationEvent struct {
	Key string `json:"key"`
}

// Cache is the read-through cache over internal/store's Setting table.
type Cache struct {
	store Store
	rdb   *redis.Client
	log   zerolog.Logger

	mu      sync.RWMutex
	entries map[string]entry

	cancel context.CancelFunc
}

// New constructs a Cache and starts its redis subscription loop. Call
// Close to stop the loop when the process shuts down. rdb may be nil, in
// which case invalidation is local-process-only (sliding/absolute TTL
// still applies).
func New(store Store, rdb *redis.Client, log zerolog.Logger) *Cache {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Cache{
		store:   store,
		rdb:     rdb,
		log:     log.With().Str("component", "settingsstore").Logger(),
		entries: make(map[string]entry),
		cancel:  cancel,
	}
	if rdb != nil {
		go c.subscribeLoop(ctx)
	}
	return c
}

func (c *Cache) subscribeLoop(ctx context.Context) {
	sub := c.rdb.Subscribe(ctx, invalidationChannel)
	defer sub.Close()
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var ev invalidationEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				c.log.Warn().Err(err).Msg("malformed settings invalidation payload")
				continue
			}
			c.dropLocal(ev.Key)
		}
	}
}

func (c *Cache) dropLocal(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if key == "" {
		c.entries = make(map[string]entry)
		return
	}
	delete(c.entries, key)
}

// Close stops the cache's background subscription goroutine.
func (c *Cache) Close() { c.cancel() }

// Get returns a setting's value, loading and caching it from the store on
// a miss or an expired entry.
func (c *Cache) Get(ctx context.Context, key string) (string, bool, error) {
	now := time.Now()
	c.mu.RLock()
	e, found := c.entries[key]
	c.mu.RUnlock()
	if found && !e.expired(now) {
		c.touch(key, now)
		return e.value, true, nil
	}

	value, ok, err := c.store.GetSetting(ctx, key)
	if err != nil {
		return "", false, err
	}
	if !ok {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return "", false, nil
	}
	c.mu.Lock()
	c.entries[key] = entry{value: value, lastAccess: now, loadedAt: now}
	c.mu.Unlock()
	return value, true, nil
}

// GetOr returns Get's value, or fallback if the key has never been set.
func (c *Cache) GetOr(ctx context.Context, key, fallback string) string {
	v, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		return fallback
	}
	return v
}

func (c *Cache) touch(key string, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		e.lastAccess = now
		c.entries[key] = e
	}
}

// Put writes a setting through to the store, updates the local cache, and
// publishes an invalidation event so other processes drop their stale
// copy, per spec.md §5's "setting-change event invalidates the cache and
// publishes to in-process subscribers".
func (c *Cache) Put(ctx context.Context, key, value string) error {
	if err := c.store.PutSetting(ctx, key, value); err != nil {
		return err
	}
	now := time.Now()
	c.mu.Lock()
	c.entries[key] = entry{value: value, lastAccess: now, loadedAt: now}
	c.mu.Unlock()
	return c.publishInvalidation(ctx, key)
}

func (c *Cache) publishInvalidation(ctx context.Context, key string) error {
	if c.rdb == nil {
		return nil
	}
	payload, err := json.Marshal(invalidationEvent{Key: key})
	if err != nil {
		return err
	}
	return c.rdb.Publish(ctx, invalidationChannel, payload).Err()
}

// Warm preloads every known setting from the store, useful at process
// startup so the first request of each kind isn't a cache miss.
func (c *Cache) Warm(ctx context.Context) error {
	all, err := c.store.AllSettings(ctx)
	if err != nil {
		return err
	}
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range all {
		c.entries[k] = entry{value: v, lastAccess: now, loadedAt: now}
	}
	return nil
}

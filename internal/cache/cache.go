// Package cache provides the process-wide, time-boxed read cache that sits in
// front of the event store.
//
// The whole collection is one cache unit: there is no per-entry eviction. A
// read refreshes the snapshot when it is empty or older than the TTL, and the
// write path forces a reload after every successful persist so that reads
// observe writes even inside the TTL window.
package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	appLog "agendacomic/internal/log"
	"agendacomic/internal/model"
)

// DefaultTTL bounds the age of a snapshot before Get refreshes it.
const DefaultTTL = time.Hour

// Loader is the read side of the store.
type Loader interface {
	Load(ctx context.Context) ([]model.Event, error)
}

// EventCache caches the full event collection.
//
// Snapshots handed to callers are shared and must be treated as read-only;
// a reload swaps in a new slice and never mutates the previous one.
type EventCache struct {
	loader Loader
	ttl    time.Duration
	now    func() time.Time

	mu         sync.RWMutex
	cached     []model.Event
	loaded     bool
	lastLoaded time.Time
	seq        uint64
	committed  uint64

	group singleflight.Group
}

// Option configures an EventCache.
type Option func(*EventCache)

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *EventCache) { c.now = now }
}

// New constructs an empty (unloaded) cache. A non-positive ttl selects
// DefaultTTL.
func New(loader Loader, ttl time.Duration, opts ...Option) *EventCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &EventCache{
		loader: loader,
		ttl:    ttl,
		now:    time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Get returns the cached collection, refreshing it first when it is empty or
// expired. If a TTL-triggered refresh fails while a previous snapshot exists,
// the stale snapshot is served and the failure is logged; without a previous
// snapshot the load error is returned.
func (c *EventCache) Get(ctx context.Context) ([]model.Event, error) {
	c.mu.RLock()
	events, loaded, last := c.cached, c.loaded, c.lastLoaded
	c.mu.RUnlock()

	if loaded && len(events) > 0 && c.now().Sub(last) <= c.ttl {
		return events, nil
	}

	fresh, err := c.refresh(ctx)
	if err != nil {
		if loaded {
			appLog.Warn("cache refresh failed; serving stale snapshot", err,
				"age", c.now().Sub(last).Round(time.Second).String(),
				"count", len(events),
			)
			return events, nil
		}
		return nil, err
	}
	return fresh, nil
}

// InvalidateAndReload unconditionally reloads from the store. Errors are
// returned to the caller and the previous snapshot stays in place.
func (c *EventCache) InvalidateAndReload(ctx context.Context) error {
	_, err := c.load(ctx, "invalidate")
	return err
}

// LastLoaded reports when the current snapshot was loaded; zero if never.
func (c *EventCache) LastLoaded() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastLoaded
}

// refresh is the TTL path: concurrent expired reads share one load.
func (c *EventCache) refresh(ctx context.Context) ([]model.Event, error) {
	v, err, shared := c.group.Do("refresh", func() (any, error) {
		// Shared by every waiter; one caller going away must not fail the rest.
		return c.load(context.WithoutCancel(ctx), "ttl")
	})
	if err != nil {
		return nil, err
	}
	if shared {
		appLog.Debug("cache refresh shared")
	}
	return v.([]model.Event), nil
}

// load reads the store and swaps the snapshot. A load that started before a
// newer, already committed load is discarded, so a slow TTL refresh can never
// overwrite the snapshot produced by a post-write reload.
func (c *EventCache) load(ctx context.Context, reason string) ([]model.Event, error) {
	c.mu.Lock()
	c.seq++
	seq := c.seq
	c.mu.Unlock()

	events, err := c.loader.Load(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if seq < c.committed {
		appLog.Debug("cache load superseded", "reason", reason)
		return c.cached, nil
	}
	c.cached = events
	c.loaded = true
	c.lastLoaded = c.now()
	c.committed = seq
	appLog.Debug("cache reloaded", "reason", reason, "count", len(events))
	return events, nil
}

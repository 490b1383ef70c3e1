package notifications

import (
	"context"
	"sync"
	"time"
)

// UnreadCache memoizes unread counts per user. A miss is reported with
// ok=false and a nil error.
//
// Every Invalidate advances the user's generation. Set stores a count only
// while the generation still equals the one read before the count was
// computed, so a count raced by a concurrent mutation is never cached.
type UnreadCache interface {
	Get(ctx context.Context, userID string) (count int, ok bool, err error)
	Generation(ctx context.Context, userID string) (uint64, error)
	Set(ctx context.Context, userID string, gen uint64, count int, ttl time.Duration) (stored bool, err error)
	Invalidate(ctx context.Context, userID string) error
}

type cachedCount struct {
	count     int
	expiresAt time.Time
}

// MemoryUnreadCache is a process-local UnreadCache.
type MemoryUnreadCache struct {
	mu      sync.RWMutex
	entries map[string]cachedCount
	gens    map[string]uint64
	now     func() time.Time
}

// MemoryUnreadCacheOption configures a MemoryUnreadCache.
type MemoryUnreadCacheOption func(*MemoryUnreadCache)

// WithCacheClock overrides the time source used for entry expiry.
func WithCacheClock(now func() time.Time) MemoryUnreadCacheOption {
	return func(c *MemoryUnreadCache) {
		if now != nil {
			c.now = now
		}
	}
}

// NewMemoryUnreadCache creates an empty process-local cache.
func NewMemoryUnreadCache(opts ...MemoryUnreadCacheOption) *MemoryUnreadCache {
	c := &MemoryUnreadCache{
		entries: make(map[string]cachedCount),
		gens:    make(map[string]uint64),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *MemoryUnreadCache) Get(ctx context.Context, userID string) (int, bool, error) {
	c.mu.RLock()
	entry, ok := c.entries[userID]
	c.mu.RUnlock()

	if !ok || !c.now().Before(entry.expiresAt) {
		return 0, false, nil
	}
	return entry.count, true, nil
}

func (c *MemoryUnreadCache) Generation(ctx context.Context, userID string) (uint64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gens[userID], nil
}

func (c *MemoryUnreadCache) Set(ctx context.Context, userID string, gen uint64, count int, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gens[userID] != gen {
		return false, nil
	}
	c.entries[userID] = cachedCount{count: count, expiresAt: c.now().Add(ttl)}
	return true, nil
}

func (c *MemoryUnreadCache) Invalidate(ctx context.Context, userID string) error {
	c.mu.Lock()
	delete(c.entries, userID)
	c.gens[userID]++
	c.mu.Unlock()
	return nil
}

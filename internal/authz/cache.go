package authz

import (
	"context"
	"sync"
	"time"
)

// DefaultCacheTTL is how long a cached permission set stays valid.
const DefaultCacheTTL = 5 * time.Minute

// Cache stores resolved permission sets keyed by (user, tenant). It is an
// optimization only; a miss always falls back to the permission source.
type Cache interface {
	Get(ctx context.Context, userID, tenantID string) ([]string, bool)
	Set(ctx context.Context, userID, tenantID string, perms []string)
	Invalidate(ctx context.Context, userID, tenantID string)
	Clear(ctx context.Context)
}

type cacheKey struct {
	userID   string
	tenantID string
}

type cacheEntry struct {
	perms     []string
	expiresAt time.Time
}

// MemoryCache is a process-local Cache safe for concurrent use.
type MemoryCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[cacheKey]cacheEntry
	now     func() time.Time
}

// NewMemoryCache creates a MemoryCache. A non-positive ttl uses
// DefaultCacheTTL.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &MemoryCache{
		ttl:     ttl,
		entries: make(map[cacheKey]cacheEntry),
		now:     time.Now,
	}
}

func (c *MemoryCache) Get(_ context.Context, userID, tenantID string) ([]string, bool) {
	k := cacheKey{userID, tenantID}
	c.mu.RLock()
	e, ok := c.entries[k]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if !c.now().Before(e.expiresAt) {
		c.mu.Lock()
		if cur, ok := c.entries[k]; ok && cur.expiresAt.Equal(e.expiresAt) {
			delete(c.entries, k)
		}
		c.mu.Unlock()
		return nil, false
	}
	return append([]string(nil), e.perms...), true
}

func (c *MemoryCache) Set(_ context.Context, userID, tenantID string, perms []string) {
	e := cacheEntry{
		perms:     append([]string(nil), perms...),
		expiresAt: c.now().Add(c.ttl),
	}
	c.mu.Lock()
	c.entries[cacheKey{userID, tenantID}] = e
	c.mu.Unlock()
}

func (c *MemoryCache) Invalidate(_ context.Context, userID, tenantID string) {
	c.mu.Lock()
	delete(c.entries, cacheKey{userID, tenantID})
	c.mu.Unlock()
}

func (c *MemoryCache) Clear(_ context.Context) {
	c.mu.Lock()
	c.entries = make(map[cacheKey]cacheEntry)
	c.mu.Unlock()
}

// Len returns the number of entries, including expired ones not yet evicted.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// NoopCache never stores anything.
type NoopCache struct{}

func (NoopCache) Get(context.Context, string, string) ([]string, bool) { return nil, false }
func (NoopCache) Set(context.Context, string, string, []string)        {}
func (NoopCache) Invalidate(context.Context, string, string)           {}
func (NoopCache) Clear(context.Context)                                {}

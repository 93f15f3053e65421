package access

import (
	"sync"
	"time"
)

// permCache is a small in-process read cache for family relationships.
// The gate consults it on every authorization, so lookups must not hit
// the database each time. Entries are invalidated synchronously when a
// permission changes; the TTL only bounds staleness across processes.
type permCache struct {
	mu      sync.RWMutex
	entries map[string]permCacheEntry
	ttl     time.Duration
	now     func() time.Time
}

type permCacheEntry struct {
	rel       *Relationship
	missing   bool
	expiresAt time.Time
}

func newPermCache(ttl time.Duration) *permCache {
	return &permCache{
		entries: make(map[string]permCacheEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func cacheKey(tenantID, actorID, subjectID string) string {
	return tenantID + "|" + actorID + "|" + subjectID
}

// get returns (relationship, found). A cached miss counts as found with
// a nil relationship, so absent rows do not cause repeated lookups.
func (c *permCache) get(tenantID, actorID, subjectID string) (*Relationship, bool) {
	c.mu.RLock()
	entry, ok := c.entries[cacheKey(tenantID, actorID, subjectID)]
	c.mu.RUnlock()

	if !ok || c.now().After(entry.expiresAt) {
		return nil, false
	}
	if entry.missing {
		return nil, true
	}
	return entry.rel, true
}

func (c *permCache) put(tenantID, actorID, subjectID string, rel *Relationship) {
	c.mu.Lock()
	c.entries[cacheKey(tenantID, actorID, subjectID)] = permCacheEntry{
		rel:       rel,
		missing:   rel == nil,
		expiresAt: c.now().Add(c.ttl),
	}
	c.mu.Unlock()
}

// invalidate removes one pair. Called synchronously from SetPermission
// before it returns, so a revoked permission is never honored after the
// change is acknowledged.
func (c *permCache) invalidate(tenantID, actorID, subjectID string) {
	c.mu.Lock()
	delete(c.entries, cacheKey(tenantID, actorID, subjectID))
	c.mu.Unlock()
}

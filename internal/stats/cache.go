package stats

import "sync"

type cacheKey struct {
	achievementID string
	userID        int64
}

// Cache memoizes UserStats per achievement and user for the lifetime of one
// top-level request or rebuild unit. Callers own its lifecycle.
type Cache struct {
	mu      sync.Mutex
	entries map[cacheKey]*UserStats
}

func NewCache() *Cache {
	return &Cache{entries: make(map[cacheKey]*UserStats)}
}

func (c *Cache) Get(achievementID string, userID int64) (*UserStats, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.entries[cacheKey{achievementID, userID}]
	return s, ok
}

func (c *Cache) Put(achievementID string, s *UserStats) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey{achievementID, s.UserID()}] = s
}

// Clear drops every memoized entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[cacheKey]*UserStats)
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

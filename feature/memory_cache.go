package feature

import (
	"maps"
	"sync"
	"time"
)

// MemoryItemCache 是内存物品特征缓存，超过容量时淘汰最久未访问的条目。
// 物品统计特征由离线任务按天更新，短 TTL 的本地缓存可以显著减少对特征源的访问。
type MemoryItemCache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
	maxSize int
	ttl     time.Duration
	now     func() time.Time
}

type cacheEntry struct {
	features   map[string]any
	expireTime time.Time
	accessTime time.Time
}

// NewMemoryItemCache 创建物品特征缓存
func NewMemoryItemCache(maxSize int, ttl time.Duration) *MemoryItemCache {
	if maxSize <= 0 {
		maxSize = 10000
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &MemoryItemCache{
		entries: make(map[string]*cacheEntry),
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
	}
}

func (c *MemoryItemCache) Get(itemID string) (map[string]any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[itemID]
	if !ok {
		return nil, false
	}
	now := c.now()
	if now.After(entry.expireTime) {
		delete(c.entries, itemID)
		return nil, false
	}
	entry.accessTime = now
	return maps.Clone(entry.features), true
}

func (c *MemoryItemCache) Set(itemID string, features map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[itemID]; !exists && len(c.entries) >= c.maxSize {
		c.evictLRU()
	}
	now := c.now()
	c.entries[itemID] = &cacheEntry{
		features:   maps.Clone(features),
		expireTime: now.Add(c.ttl),
		accessTime: now,
	}
}

// Len 返回当前条目数。
func (c *MemoryItemCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// evictLRU 删除最久未访问的条目，调用方需持有锁
func (c *MemoryItemCache) evictLRU() {
	var oldestKey string
	var oldestTime time.Time
	first := true

	for key, entry := range c.entries {
		if first || entry.accessTime.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.accessTime
			first = false
		}
	}

	if !first {
		delete(c.entries, oldestKey)
	}
}

var _ ItemCache = (*MemoryItemCache)(nil)

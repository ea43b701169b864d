package cache

import (
	"context"
	"sync"
	"time"

	"github.com/rushteam/recserve/core"
)

type memoryEntry struct {
	result   core.RecommendationResult
	expireAt time.Time
}

// MemoryCache 是进程内缓存，写入与读取都做深拷贝，调用方无法修改缓存内容。
// 过期条目在 Get 命中时删除，Set 每隔一个 TTL 顺带清扫一次全部过期条目。
type MemoryCache struct {
	mu      sync.RWMutex
	users   map[string]map[string]memoryEntry // user -> pageType -> entry
	ttl     time.Duration
	now     func() time.Time
	sweepAt time.Time
}

// NewMemoryCache 创建内存缓存；ttl<=0 时使用默认 300s。
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = core.DefaultCacheTTL
	}
	return &MemoryCache{
		users: make(map[string]map[string]memoryEntry),
		ttl:   ttl,
		now:   time.Now,
	}
}

// WithClock 替换时钟，用于测试。
func (c *MemoryCache) WithClock(now func() time.Time) *MemoryCache {
	c.now = now
	return c
}

func (c *MemoryCache) Get(ctx context.Context, userID, pageType string) (core.RecommendationResult, bool, error) {
	now := c.now()
	c.mu.RLock()
	e, ok := c.users[userID][pageType]
	c.mu.RUnlock()
	if !ok {
		return core.RecommendationResult{}, false, nil
	}
	if !now.Before(e.expireAt) {
		c.mu.Lock()
		// 加写锁期间可能已被重新写入
		if cur, ok := c.users[userID][pageType]; ok && !now.Before(cur.expireAt) {
			c.deleteLocked(userID, pageType)
		}
		c.mu.Unlock()
		return core.RecommendationResult{}, false, nil
	}
	return e.result.Clone(), true, nil
}

func (c *MemoryCache) Set(ctx context.Context, userID, pageType string, result core.RecommendationResult) error {
	now := c.now()
	entry := memoryEntry{result: result.Clone(), expireAt: now.Add(c.ttl)}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !now.Before(c.sweepAt) {
		c.sweepLocked(now)
		c.sweepAt = now.Add(c.ttl)
	}
	pages, ok := c.users[userID]
	if !ok {
		pages = make(map[string]memoryEntry)
		c.users[userID] = pages
	}
	pages[pageType] = entry
	return nil
}

func (c *MemoryCache) Invalidate(ctx context.Context, userID string) error {
	c.mu.Lock()
	delete(c.users, userID)
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) deleteLocked(userID, pageType string) {
	pages := c.users[userID]
	delete(pages, pageType)
	if len(pages) == 0 {
		delete(c.users, userID)
	}
}

func (c *MemoryCache) sweepLocked(now time.Time) {
	for userID, pages := range c.users {
		for pageType, e := range pages {
			if !now.Before(e.expireAt) {
				delete(pages, pageType)
			}
		}
		if len(pages) == 0 {
			delete(c.users, userID)
		}
	}
}

var _ Cache = (*MemoryCache)(nil)

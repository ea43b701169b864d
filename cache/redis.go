package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rushteam/recserve/core"
)

// RedisCache 以 JSON 形式将结果写入 rec:{user}:{page}（SET EX，单命令原子覆盖），
// 并在 recidx:{user} 集合中记录已缓存的页面类型，用于按用户整体失效。
// 条目与索引在同一个 MULTI 中写入；失效时 WATCH 索引，期间有新写入则重试，
// 保证任何存活条目都能在索引中找到。
type RedisCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisCache 创建 Redis 缓存；ttl<=0 时使用默认 300s。
func NewRedisCache(client redis.UniversalClient, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = core.DefaultCacheTTL
	}
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, userID, pageType string) (core.RecommendationResult, bool, error) {
	raw, err := c.client.Get(ctx, Key(userID, pageType)).Bytes()
	if errors.Is(err, redis.Nil) {
		return core.RecommendationResult{}, false, nil
	}
	if err != nil {
		return core.RecommendationResult{}, false, core.WrapDomainError(core.ModuleCache, core.ErrorCodeUnavailable, err, "cache: get")
	}
	var result core.RecommendationResult
	if err := json.Unmarshal(raw, &result); err != nil {
		// 损坏的条目视为未命中，下次写入会覆盖
		return core.RecommendationResult{}, false, nil
	}
	return result, true, nil
}

func (c *RedisCache) Set(ctx context.Context, userID, pageType string, result core.RecommendationResult) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("cache: marshal result: %w", err)
	}
	idx := indexKey(userID)
	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, Key(userID, pageType), raw, c.ttl)
		pipe.SAdd(ctx, idx, pageType)
		pipe.Expire(ctx, idx, c.ttl)
		return nil
	})
	if err != nil {
		return core.WrapDomainError(core.ModuleCache, core.ErrorCodeUnavailable, err, "cache: set")
	}
	return nil
}

// invalidateRetries 是失效与并发写入冲突时的最大重试次数。
const invalidateRetries = 10

func (c *RedisCache) Invalidate(ctx context.Context, userID string) error {
	idx := indexKey(userID)
	txf := func(tx *redis.Tx) error {
		pages, err := tx.SMembers(ctx, idx).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		keys := make([]string, 0, len(pages)+1)
		for _, p := range pages {
			keys = append(keys, Key(userID, p))
		}
		keys = append(keys, idx)
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, keys...)
			return nil
		})
		return err
	}
	var err error
	for rep := 0; rep < invalidateRetries; rep++ {
		err = c.client.Watch(ctx, txf, idx)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		return core.WrapDomainError(core.ModuleCache, core.ErrorCodeUnavailable, err, "cache: invalidate")
	}
	return nil
}

var _ Cache = (*RedisCache)(nil)

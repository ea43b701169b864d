// Package cache 实现推荐结果缓存，按 (user, pageType) 存储完整结果。
//
// 语义：
//   - Set 总是整体覆盖并刷新 TTL，同一 key 至多一个有效条目
//   - Get 只会看到完整写入的结果
//   - Invalidate 删除该用户所有页面类型的条目
package cache

import (
	"context"
	"fmt"

	"github.com/rushteam/recserve/core"
)

// Cache 是响应缓存接口。
type Cache interface {
	// Get 返回未过期的缓存结果；未命中时 ok=false
	Get(ctx context.Context, userID, pageType string) (result core.RecommendationResult, ok bool, err error)

	// Set 无条件覆盖并设置新 TTL
	Set(ctx context.Context, userID, pageType string, result core.RecommendationResult) error

	// Invalidate 删除该用户所有页面类型的条目
	Invalidate(ctx context.Context, userID string) error
}

// Invalidator 是缓存失效能力，摄取链路只依赖这一部分。
type Invalidator interface {
	Invalidate(ctx context.Context, userID string) error
}

// Key 返回缓存 key（rec:{user}:{page}）。
func Key(userID, pageType string) string {
	return fmt.Sprintf("rec:%s:%s", userID, pageType)
}

// indexKey 返回用户已缓存页面类型的索引集合 key。
func indexKey(userID string) string {
	return fmt.Sprintf("recidx:%s", userID)
}

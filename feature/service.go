package feature

import (
	"context"
	"errors"
)

var (
	// ErrFeatureNotFound 特征未找到
	ErrFeatureNotFound = errors.New("feature: feature not found")
	// ErrFeatureServiceUnavailable 特征服务不可用
	ErrFeatureServiceUnavailable = errors.New("feature: service unavailable")
)

// Provider 是外部特征源（离线画像、物品统计）的抽象接口，采用策略模式。
// 不同的特征源（Feast、Redis Hash）实现此接口。
//
// 返回值为特征名到标量或列表值的映射；实体没有任何特征时返回空 map 而非错误。
type Provider interface {
	// Name 返回提供者名称（用于日志/监控）
	Name() string

	// UserFeatures 获取用户画像/统计特征
	UserFeatures(ctx context.Context, userID string) (map[string]any, error)

	// ItemFeatures 批量获取物品特征，结果只包含有特征的物品
	ItemFeatures(ctx context.Context, itemIDs []string) (map[string]map[string]any, error)
}

// ItemCache 是物品特征的本地缓存接口。
type ItemCache interface {
	Get(itemID string) (map[string]any, bool)
	Set(itemID string, features map[string]any)
}

package core

import "context"

// FeatureService 是特征聚合服务的领域接口。
//
// 设计原则：
//   - 定义在领域层（core），由基础设施层（feature）实现
//   - 外部特征源故障时降级，不向调用方返回错误
//
// 注意：请求级上下文特征应通过 RecommendContext.Params 传递，
// 而不是通过 FeatureService 获取。
//
// 实现：
//   - feature.Aggregator 实现此接口
type FeatureService interface {
	// GetUserFeatures 获取用户特征（实时状态 + 画像），失败时返回降级特征
	GetUserFeatures(ctx context.Context, userID string) FeatureSet

	// GetItemFeatures 批量获取物品特征，失败时每个物品返回空 FeatureSet
	GetItemFeatures(ctx context.Context, itemIDs []string) map[string]FeatureSet
}

package core

import "context"

// RecallDataStore 是召回数据存储的领域接口。
//
// 设计原则：
//   - 定义在领域层（core），由基础设施层（store）实现
//   - 统一各召回通道的数据访问，避免接口爆炸
//   - 数据由离线任务预计算写入，在线只读
//
// 实现：
//   - store.MemoryStore、store.RedisStore 实现此接口
type RecallDataStore interface {
	// SimilarItems 返回物品预计算相似列表的前 n 个（按相似度降序）
	SimilarItems(ctx context.Context, itemID string, n int) ([]string, error)

	// PopularItems 返回某页面类型热门榜的前 n 个
	PopularItems(ctx context.Context, pageType string, n int) ([]string, error)

	// CategoryItems 返回某类目榜单的前 n 个
	CategoryItems(ctx context.Context, category string, n int) ([]string, error)
}

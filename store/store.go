package store

import "fmt"

// 注意：此包只包含实现，接口定义在 core 包。
// 使用 core.StateStore 与 core.RecallDataStore 接口。
//
// 示例：
//   var state core.StateStore = NewMemoryStore()
//   var recall core.RecallDataStore = NewMemoryStore()
//
// Key 布局（与离线任务、缓存、实验模块共享，修改需同步）：
//   user:{u}:realtime:recent_items        LIST  最近 10 个交互物品，最新在前
//   user:{u}:realtime:actions:{yyyyMMddHH} HASH  action -> count，24h 过期
//   user:{u}:realtime:sequence            ZSET  "{ts}:{item}" -> ts，保留 50 条
//   item:{id}:similar                     ZSET  相似物品 -> 相似度
//   popular:{page}                        ZSET  物品 -> 热度
//   category:{c}:items                    ZSET  物品 -> 类目内得分
//   feature:user:{u} / feature:item:{id}  HASH  离线特征

// RecentItemsKey 返回最近物品列表 key。
func RecentItemsKey(userID string) string {
	return fmt.Sprintf("user:%s:realtime:recent_items", userID)
}

// ActionsKey 返回某小时桶的行为计数 key。
func ActionsKey(userID, hourBucket string) string {
	return fmt.Sprintf("user:%s:realtime:actions:%s", userID, hourBucket)
}

// SequenceKey 返回行为序列 key。
func SequenceKey(userID string) string {
	return fmt.Sprintf("user:%s:realtime:sequence", userID)
}

// SimilarKey 返回物品相似列表 key。
func SimilarKey(itemID string) string {
	return fmt.Sprintf("item:%s:similar", itemID)
}

// PopularKey 返回页面热门榜 key。
func PopularKey(pageType string) string {
	return fmt.Sprintf("popular:%s", pageType)
}

// CategoryKey 返回类目榜单 key。
func CategoryKey(category string) string {
	return fmt.Sprintf("category:%s:items", category)
}

// UserFeatureKey 返回用户离线特征 Hash key。
func UserFeatureKey(userID string) string {
	return fmt.Sprintf("feature:user:%s", userID)
}

// ItemFeatureKey 返回物品离线特征 Hash key。
func ItemFeatureKey(itemID string) string {
	return fmt.Sprintf("feature:item:%s", itemID)
}

// sequenceMember 编码序列成员；同一时刻对同一物品的重复事件落到同一成员上。
func sequenceMember(ts int64, itemID string) string {
	return fmt.Sprintf("%d:%s", ts, itemID)
}

package model

import "github.com/rushteam/recserve/core"

// FeaturePopularity 是降级打分使用的物品特征。
const FeaturePopularity = "popularity_score"

// PopularityScore 是模型不可用时的降级分数：物品的 popularity_score，缺失取 0。
func PopularityScore(item core.FeatureSet) float64 {
	v, _ := item.Float64(FeaturePopularity)
	return v
}

package feature

// 降级特征。外部特征源不可用时使用，保证返回值结构完整。
const (
	UnknownSegment = "unknown"

	FeatureUserSegment = "user_segment"
	FeatureTotalClicks = "total_clicks"
	FeatureRecentItems = "recent_items"
	FeatureCTR         = "ctr"
)

// FallbackUserFeatures 返回画像不可用时的哨兵特征。
func FallbackUserFeatures() map[string]any {
	return map[string]any{
		FeatureUserSegment: UnknownSegment,
		FeatureTotalClicks: 0.0,
	}
}

// emptyRealtime 返回实时状态不可读时的空值（空列表与零计数）。
func emptyRealtime() map[string]any {
	return map[string]any{
		FeatureRecentItems:  []string{},
		"click_count":       0.0,
		"add_to_cart_count": 0.0,
		"purchase_count":    0.0,
		FeatureCTR:          0.0,
	}
}

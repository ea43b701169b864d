package core

// ScoredItem 是排序输出。
type ScoredItem struct {
	ItemID string  `json:"item_id"`
	Score  float64 `json:"score"`
}

// Recommendation 是最终返回给调用方的一条推荐。
type Recommendation struct {
	ItemID string  `json:"item_id"`
	Score  float64 `json:"score"`
	Reason string  `json:"reason"`
}

// RecommendationResult 是一次推荐的有序结果，原样缓存；只整体替换，不原地修改。
type RecommendationResult struct {
	Items        []Recommendation `json:"items"`
	ModelVersion string           `json:"model_version,omitempty"`
}

// Clone 返回深拷贝。
func (r RecommendationResult) Clone() RecommendationResult {
	out := r
	out.Items = append([]Recommendation(nil), r.Items...)
	return out
}

// ResultFromItems 将 Pipeline 输出转换为结果，reason 取自 Label "reason"。
func ResultFromItems(items []*Item, modelVersion string) RecommendationResult {
	recs := make([]Recommendation, 0, len(items))
	for _, it := range items {
		if it == nil {
			continue
		}
		reason := ""
		if lbl, ok := it.Labels["reason"]; ok {
			reason = lbl.Value
		}
		recs = append(recs, Recommendation{ItemID: it.ID, Score: it.Score, Reason: reason})
	}
	return RecommendationResult{Items: recs, ModelVersion: modelVersion}
}

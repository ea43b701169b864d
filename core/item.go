package core

import "github.com/rushteam/recserve/pkg/utils"

// Item 是推荐链路中的统一承载结构：特征、分数、元信息、标签。
// Labels 用于解释与策略驱动；Score 用于排序决策。
type Item struct {
	ID       string
	Score    float64
	Features FeatureSet
	Meta     map[string]any
	Labels   map[string]utils.Label
}

func NewItem(id string) *Item {
	return &Item{
		ID:     id,
		Meta:   make(map[string]any),
		Labels: make(map[string]utils.Label),
	}
}

// Category 返回物品类目（特征 category），用于多样性计算。
func (it *Item) Category() string {
	return it.Features.String("category")
}

// PutLabel 写入 Label；若已存在同名 key，则按默认 Merge 规则累积。
func (it *Item) PutLabel(key string, lbl utils.Label) {
	if it.Labels == nil {
		it.Labels = make(map[string]utils.Label)
	}
	if old, ok := it.Labels[key]; ok {
		it.Labels[key] = utils.MergeLabel(old, lbl)
		return
	}
	it.Labels[key] = lbl
}

// Source 返回产生该物品的召回通道（recall_source 标签）。
func (it *Item) Source() string {
	if lbl, ok := it.Labels["recall_source"]; ok {
		return lbl.Value
	}
	return ""
}

package feature

import (
	"context"

	"github.com/rushteam/recserve/core"
	"github.com/rushteam/recserve/pipeline"
)

// EnrichNode 是特征注入节点：批量获取候选物品特征并写入 Item.Features。
// 用户特征在进入 Pipeline 前已写入 rctx.User。
type EnrichNode struct {
	FeatureService core.FeatureService
}

func (n *EnrichNode) Name() string        { return "feature.enrich" }
func (n *EnrichNode) Kind() pipeline.Kind { return pipeline.KindEnrich }

func (n *EnrichNode) Process(
	ctx context.Context,
	rctx *core.RecommendContext,
	items []*core.Item,
) ([]*core.Item, error) {
	if n.FeatureService == nil || len(items) == 0 {
		return items, nil
	}
	ids := make([]string, 0, len(items))
	for _, it := range items {
		if it != nil {
			ids = append(ids, it.ID)
		}
	}
	feats := n.FeatureService.GetItemFeatures(ctx, ids)
	for _, it := range items {
		if it == nil {
			continue
		}
		// 召回阶段可能已带少量特征（如类目），外部特征覆盖同名项
		it.Features = it.Features.Merge(feats[it.ID])
	}
	return items, nil
}

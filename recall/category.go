package recall

import (
	"context"
	"fmt"

	"github.com/rushteam/recserve/core"
	"github.com/rushteam/recserve/pipeline"
)

// Category 是基于用户偏好类目的召回。
// 偏好类目来自画像特征 top_categories，取前 TopCategories 个，每个类目读取 PerCategory 个物品。
// 召回的物品带上 category 特征，后续特征注入会以外部特征为准覆盖。
type Category struct {
	Store core.RecallDataStore

	TopCategories int // 默认 3
	PerCategory   int // 默认 31
}

func (r *Category) Name() string        { return "category" }
func (r *Category) Kind() pipeline.Kind { return pipeline.KindRecall }

func (r *Category) Process(ctx context.Context, rctx *core.RecommendContext, _ []*core.Item) ([]*core.Item, error) {
	return r.Recall(ctx, rctx)
}

func (r *Category) Recall(ctx context.Context, rctx *core.RecommendContext) ([]*core.Item, error) {
	if r.Store == nil || rctx == nil {
		return nil, nil
	}
	top := r.TopCategories
	if top <= 0 {
		top = core.DefaultTopCategories
	}
	per := r.PerCategory
	if per <= 0 {
		per = core.DefaultCategoryLimit
	}

	cats := rctx.User.Strings("top_categories")
	if len(cats) > top {
		cats = cats[:top]
	}
	var out []*core.Item
	for _, c := range cats {
		ids, err := r.Store.CategoryItems(ctx, c, per)
		if err != nil {
			return nil, fmt.Errorf("category %s: %w", c, err)
		}
		for _, it := range itemsFromIDs(ids, r.Name()) {
			it.Features = it.Features.With("category", c)
			out = append(out, it)
		}
	}
	return out, nil
}

package recall

import (
	"context"

	"github.com/rushteam/recserve/core"
	"github.com/rushteam/recserve/pipeline"
)

// Popular 是按页面类型的热门召回，读取 popular:{page} 有序集合的前 Limit 个。
type Popular struct {
	Store core.RecallDataStore
	Limit int // 默认 101
}

func (r *Popular) Name() string        { return "popular" }
func (r *Popular) Kind() pipeline.Kind { return pipeline.KindRecall }

func (r *Popular) Process(ctx context.Context, rctx *core.RecommendContext, _ []*core.Item) ([]*core.Item, error) {
	return r.Recall(ctx, rctx)
}

func (r *Popular) Recall(ctx context.Context, rctx *core.RecommendContext) ([]*core.Item, error) {
	if r.Store == nil {
		return nil, nil
	}
	limit := r.Limit
	if limit <= 0 {
		limit = core.DefaultPopularLimit
	}
	page := core.DefaultPageType
	if rctx != nil && rctx.PageType != "" {
		page = rctx.PageType
	}
	ids, err := r.Store.PopularItems(ctx, page, limit)
	if err != nil {
		return nil, err
	}
	return itemsFromIDs(ids, r.Name()), nil
}

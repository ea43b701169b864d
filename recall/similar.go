package recall

import (
	"context"
	"fmt"

	"github.com/rushteam/recserve/core"
	"github.com/rushteam/recserve/pipeline"
)

// Similar 是基于用户近期浏览的相似物品召回：
// 取最近 SeedItems 个浏览物品，每个物品读取 PerItem 个近邻。
//
// 近期浏览优先从 rctx.User 的 recent_items 读取（特征聚合已取过一次），
// 缺失时回退到 State。
type Similar struct {
	Store core.RecallDataStore
	State core.StateStore

	SeedItems int // 默认 6
	PerItem   int // 默认 11
}

func (r *Similar) Name() string        { return "similar" }
func (r *Similar) Kind() pipeline.Kind { return pipeline.KindRecall }

func (r *Similar) Process(ctx context.Context, rctx *core.RecommendContext, _ []*core.Item) ([]*core.Item, error) {
	return r.Recall(ctx, rctx)
}

func (r *Similar) Recall(ctx context.Context, rctx *core.RecommendContext) ([]*core.Item, error) {
	if r.Store == nil || rctx == nil {
		return nil, nil
	}
	seeds, err := r.seeds(ctx, rctx)
	if err != nil {
		return nil, err
	}

	perItem := r.PerItem
	if perItem <= 0 {
		perItem = core.DefaultSimilarPerItem
	}
	var ids []string
	for _, seed := range seeds {
		similar, err := r.Store.SimilarItems(ctx, seed, perItem)
		if err != nil {
			return nil, fmt.Errorf("similar items of %s: %w", seed, err)
		}
		ids = append(ids, similar...)
	}
	return itemsFromIDs(ids, r.Name()), nil
}

func (r *Similar) seeds(ctx context.Context, rctx *core.RecommendContext) ([]string, error) {
	n := r.SeedItems
	if n <= 0 {
		n = core.DefaultSimilarSeedItems
	}
	recent := rctx.User.Strings("recent_items")
	if len(recent) == 0 && r.State != nil {
		var err error
		recent, err = r.State.RecentItems(ctx, rctx.UserID, n)
		if err != nil {
			return nil, fmt.Errorf("recent items: %w", err)
		}
	}
	if len(recent) > n {
		recent = recent[:n]
	}
	return recent, nil
}

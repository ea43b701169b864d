package filter

import (
	"context"

	"github.com/rushteam/recserve/core"
)

// Filter 是过滤器的抽象接口，用于判断一个 Item 是否应该被过滤掉。
// 返回 true 表示应该过滤（移除），false 表示保留。
type Filter interface {
	// Name 返回过滤器名称
	Name() string

	// ShouldFilter 判断 item 是否应该被过滤
	ShouldFilter(ctx context.Context, rctx *core.RecommendContext, item *core.Item) (bool, error)
}

// Apply 依次用 filters 过滤 items，保持原有顺序。
// 过滤器出错时保留该物品，不中断流程。
func Apply(ctx context.Context, rctx *core.RecommendContext, items []*core.Item, filters ...Filter) []*core.Item {
	if len(filters) == 0 {
		return items
	}
	out := make([]*core.Item, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		if !shouldFilter(ctx, rctx, item, filters) {
			out = append(out, item)
		}
	}
	return out
}

func shouldFilter(ctx context.Context, rctx *core.RecommendContext, item *core.Item, filters []Filter) bool {
	for _, f := range filters {
		ok, err := f.ShouldFilter(ctx, rctx, item)
		if err != nil {
			continue
		}
		if ok {
			return true
		}
	}
	return false
}

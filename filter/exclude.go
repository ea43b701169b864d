package filter

import (
	"context"

	"github.com/rushteam/recserve/core"
)

// ExcludeFilter 过滤请求中显式排除的物品（exclude_items）。
// IDs 用于追加请求之外的固定排除项。
type ExcludeFilter struct {
	IDs []string
}

// NewExcludeFilter 创建排除过滤器。
func NewExcludeFilter(ids ...string) *ExcludeFilter {
	return &ExcludeFilter{IDs: ids}
}

func (f *ExcludeFilter) Name() string {
	return "filter.exclude"
}

func (f *ExcludeFilter) ShouldFilter(
	_ context.Context,
	rctx *core.RecommendContext,
	item *core.Item,
) (bool, error) {
	if item == nil {
		return true, nil
	}
	if rctx != nil && rctx.IsExcluded(item.ID) {
		return true, nil
	}
	for _, id := range f.IDs {
		if item.ID == id {
			return true, nil
		}
	}
	return false, nil
}

package recall

import (
	"context"

	"github.com/rushteam/recserve/core"
	"github.com/rushteam/recserve/pkg/utils"
)

// Source 表示一个可复用的召回通道（相似/热门/类目/...）。
// 你可以把它理解为“可并发 fan-out 的策略单元”。
//
// 设计原则：
//   - 通道只负责生成候选，不做去重与排除，交给 Fanout 统一处理
//   - 单个通道失败不影响其他通道，Fanout 按空结果处理
type Source interface {
	Name() string
	Recall(ctx context.Context, rctx *core.RecommendContext) ([]*core.Item, error)
}

const (
	// LabelRecallSource 记录候选来自哪个召回通道
	LabelRecallSource = "recall_source"
)

// itemsFromIDs 将 ID 列表转换为候选，保持原有顺序。
func itemsFromIDs(ids []string, source string) []*core.Item {
	out := make([]*core.Item, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		it := core.NewItem(id)
		it.PutLabel(LabelRecallSource, utils.Label{Value: source, Source: "recall"})
		out = append(out, it)
	}
	return out
}

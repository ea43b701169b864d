package rerank

import (
	"context"

	"github.com/rushteam/recserve/core"
	"github.com/rushteam/recserve/pipeline"
)

// TopNNode 是一个 Top-N 截断节点，用于在重排后截取前 N 个物品。
//
// 示例：
//
//	pipeline := &pipeline.Pipeline{
//	    Nodes: []pipeline.Node{
//	        &rank.ModelNode{...},    // 排序
//	        &rerank.MMR{},           // 多样性重排
//	        &rerank.TopNNode{},      // 截取请求条数
//	    },
//	}
type TopNNode struct {
	// N 要保留的物品数量（Top N）
	// 如果 N <= 0，使用请求的 num_recommendations
	// 如果 N > len(items)，则返回所有物品
	N int
}

func (n *TopNNode) Name() string {
	return "rerank.topn"
}

func (n *TopNNode) Kind() pipeline.Kind {
	return pipeline.KindReRank
}

func (n *TopNNode) Process(
	_ context.Context,
	rctx *core.RecommendContext,
	items []*core.Item,
) ([]*core.Item, error) {
	limit := n.N
	if limit <= 0 && rctx != nil {
		limit = rctx.Num
	}
	if limit <= 0 {
		limit = core.DefaultNumRecommendations
	}
	if len(items) <= limit {
		return items, nil
	}
	return items[:limit], nil
}

package rerank

import (
	"context"
	"math"

	"github.com/rushteam/recserve/core"
	"github.com/rushteam/recserve/pipeline"
	"github.com/rushteam/recserve/pkg/conv"
)

// ParamLambda 是实验变体中覆盖 MMR lambda 的参数名。
const ParamLambda = "lambda"

// 类目相似度分三档
const (
	SameCategorySimilarity      = 0.8
	SamePrefixSimilarity        = 0.5
	DifferentCategorySimilarity = 0.1

	categoryPrefixLen = 3
)

// MMR 是最大边际相关 (Maximal Marginal Relevance) 多样性重排节点。
//
// 输入按分数降序排列。以最高分物品为起点，每轮从剩余候选中选出
// lambda*score - (1-lambda)*maxSim 最大的物品，maxSim 为与已选物品的最大类目相似度。
// 选满 MaxSelected 个或候选耗尽时停止。同分时保留输入中靠前的物品。
//
// lambda 优先读取请求参数 lambda（由实验变体下发），否则使用 Lambda。
type MMR struct {
	Lambda      float64 // 默认 0.5
	MaxSelected int     // 默认 50
}

func (n *MMR) Name() string        { return "rerank.mmr" }
func (n *MMR) Kind() pipeline.Kind { return pipeline.KindReRank }

func (n *MMR) Process(
	_ context.Context,
	rctx *core.RecommendContext,
	items []*core.Item,
) ([]*core.Item, error) {
	remaining := make([]*core.Item, 0, len(items))
	for _, it := range items {
		if it != nil {
			remaining = append(remaining, it)
		}
	}
	if len(remaining) == 0 {
		return remaining, nil
	}

	lambda := n.lambda(rctx)
	limit := n.MaxSelected
	if limit <= 0 {
		limit = core.DefaultMMRMaxSelected
	}
	limit = min(limit, len(remaining))

	selected := make([]*core.Item, 0, limit)
	selected = append(selected, remaining[0])
	remaining = remaining[1:]

	for len(selected) < limit && len(remaining) > 0 {
		best := -1
		bestScore := math.Inf(-1)
		for i, cand := range remaining {
			maxSim := 0.0
			for _, sel := range selected {
				maxSim = max(maxSim, CategorySimilarity(cand.Category(), sel.Category()))
			}
			score := lambda*cand.Score - (1-lambda)*maxSim
			if score > bestScore {
				bestScore = score
				best = i
			}
		}
		if best < 0 {
			break
		}
		selected = append(selected, remaining[best])
		remaining = append(remaining[:best], remaining[best+1:]...)
	}
	return selected, nil
}

func (n *MMR) lambda(rctx *core.RecommendContext) float64 {
	lambda := n.Lambda
	if lambda <= 0 {
		lambda = core.DefaultMMRLambda
	}
	if rctx != nil {
		if v, ok := rctx.Param(ParamLambda); ok {
			if f, ok := conv.ToFloat64(v); ok && f >= 0 && f <= 1 {
				lambda = f
			}
		}
	}
	return lambda
}

// CategorySimilarity 计算两个类目的相似度：
// 完全相同为 0.8，前 3 个字符相同为 0.5，其余为 0.1。
func CategorySimilarity(a, b string) float64 {
	if a == b {
		return SameCategorySimilarity
	}
	if a != "" && b != "" && prefix(a) == prefix(b) {
		return SamePrefixSimilarity
	}
	return DifferentCategorySimilarity
}

func prefix(s string) string {
	r := []rune(s)
	if len(r) > categoryPrefixLen {
		r = r[:categoryPrefixLen]
	}
	return string(r)
}

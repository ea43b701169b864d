package rerank

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/rushteam/recserve/core"
	"github.com/rushteam/recserve/pipeline"
	"github.com/rushteam/recserve/pkg/dsl"
	"github.com/rushteam/recserve/pkg/utils"
)

// LabelReason 是推荐理由写入的 Label key。
const LabelReason = "reason"

const (
	ReasonRecentlyViewed = "recently viewed similar"
	ReasonTrending       = "trending"
	ReasonDefault        = "you may also like"
)

// ReasonRule 是一条推荐理由规则：When 为 CEL 布尔表达式，命中时使用 Reason。
type ReasonRule struct {
	When   string `json:"when" yaml:"when"`
	Reason string `json:"reason" yaml:"reason"`
}

// DefaultReasonRules 返回默认规则：近期浏览过的物品优先，其次是购买率高于 0.1 的热门物品。
func DefaultReasonRules() []ReasonRule {
	return []ReasonRule{
		{When: `has(user.recent_items) && item.id in user.recent_items`, Reason: ReasonRecentlyViewed},
		{When: `has(item.features.purchase_rate) && item.features.purchase_rate > 0.1`, Reason: ReasonTrending},
	}
}

type compiledRule struct {
	expr   *dsl.Expr
	reason string
}

// ReasonNode 为每个输出物品生成推荐理由，规则按顺序匹配，第一个命中的生效，
// 都未命中时使用 Fallback。规则求值出错按未命中处理。
type ReasonNode struct {
	rules    []compiledRule
	fallback string
	log      zerolog.Logger
}

// NewReasonNode 编译规则，表达式有误时返回错误。rules 为空时使用默认规则。
func NewReasonNode(rules []ReasonRule, fallback string, log zerolog.Logger) (*ReasonNode, error) {
	if len(rules) == 0 {
		rules = DefaultReasonRules()
	}
	if fallback == "" {
		fallback = ReasonDefault
	}
	n := &ReasonNode{fallback: fallback, log: log}
	for _, r := range rules {
		expr, err := dsl.Compile(r.When)
		if err != nil {
			return nil, fmt.Errorf("reason rule %q: %w", r.Reason, err)
		}
		n.rules = append(n.rules, compiledRule{expr: expr, reason: r.Reason})
	}
	return n, nil
}

func (n *ReasonNode) Name() string        { return "postprocess.reason" }
func (n *ReasonNode) Kind() pipeline.Kind { return pipeline.KindPostProcess }

func (n *ReasonNode) Process(
	_ context.Context,
	rctx *core.RecommendContext,
	items []*core.Item,
) ([]*core.Item, error) {
	for _, it := range items {
		if it == nil {
			continue
		}
		if it.Labels == nil {
			it.Labels = make(map[string]utils.Label)
		}
		// 理由只保留一个，直接覆盖
		it.Labels[LabelReason] = utils.Label{Value: n.reasonFor(it, rctx), Source: "rule"}
	}
	return items, nil
}

func (n *ReasonNode) reasonFor(it *core.Item, rctx *core.RecommendContext) string {
	for _, r := range n.rules {
		ok, err := r.expr.Evaluate(it, rctx)
		if err != nil {
			n.log.Debug().Err(err).Str("item_id", it.ID).Msg("reason rule skipped")
			continue
		}
		if ok {
			return r.reason
		}
	}
	return n.fallback
}

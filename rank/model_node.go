package rank

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	"github.com/rushteam/recserve/core"
	"github.com/rushteam/recserve/model"
	"github.com/rushteam/recserve/pipeline"
	"github.com/rushteam/recserve/pkg/breaker"
	"github.com/rushteam/recserve/pkg/metrics"
	"github.com/rushteam/recserve/pkg/utils"
)

// ScoreMode 标记一批候选的分数来源：模型打分或热度降级，二者在调用时选择其一。
type ScoreMode string

const (
	ScoreModeModel      ScoreMode = "model"
	ScoreModePopularity ScoreMode = "popularity"
)

const (
	// LabelScoreMode 写入物品与上下文，记录本次分数来源
	LabelScoreMode = "score_mode"
	// LabelModelVersion 写入上下文，作为响应中的 model_version
	LabelModelVersion = "model_version"

	// ParamModel 是实验变体参数中选择模型的 key
	ParamModel = "model"

	// FallbackModelVersion 是降级时对外暴露的模型版本
	FallbackModelVersion = "popularity_fallback"
)

// ModelNode 是排序融合 Node：
//   - 按 Schema 将用户特征与物品特征合并为定长向量（同名以物品为准，缺失取 0）
//   - 在超时与熔断保护下批量调用 Scorer
//   - 整批失败时以物品的 popularity_score 作为分数（缺失取 0）
//   - 按分数降序稳定排序
//
// Scorers 允许实验变体通过参数 model 选择不同模型，未命中时使用 Scorer。
type ModelNode struct {
	Scorer  model.Scorer
	Scorers map[string]model.Scorer
	Schema  model.Schema
	Timeout time.Duration
	Breaker *gobreaker.CircuitBreaker[[]float64]
	Log     zerolog.Logger
}

func (n *ModelNode) Name() string        { return "rank.model" }
func (n *ModelNode) Kind() pipeline.Kind { return pipeline.KindRank }

func (n *ModelNode) Process(
	ctx context.Context,
	rctx *core.RecommendContext,
	items []*core.Item,
) ([]*core.Item, error) {
	valid := make([]*core.Item, 0, len(items))
	for _, it := range items {
		if it != nil {
			valid = append(valid, it)
		}
	}
	if len(valid) == 0 {
		return valid, nil
	}

	scorer := n.selectScorer(rctx)
	mode := ScoreModePopularity
	var scores []float64
	if scorer != nil {
		var err error
		scores, err = n.score(ctx, rctx, scorer, valid)
		if err == nil {
			mode = ScoreModeModel
		} else {
			metrics.Fallbacks.WithLabelValues("rank_model").Inc()
			n.Log.Warn().Err(err).
				Str("request_id", rctx.RequestID).
				Str("scorer", scorer.Name()).
				Msg("scoring failed, falling back to popularity")
		}
	}

	version := FallbackModelVersion
	if mode == ScoreModeModel {
		version = scorer.Name()
	}
	for i, it := range valid {
		if mode == ScoreModeModel {
			it.Score = scores[i]
		} else {
			it.Score = model.PopularityScore(it.Features)
		}
		it.PutLabel(LabelScoreMode, utils.Label{Value: string(mode), Source: "rank"})
	}
	rctx.PutLabel(LabelScoreMode, utils.Label{Value: string(mode), Source: "rank"})
	rctx.PutLabel(LabelModelVersion, utils.Label{Value: version, Source: "rank"})

	sort.SliceStable(valid, func(i, j int) bool {
		return valid[i].Score > valid[j].Score
	})
	return valid, nil
}

func (n *ModelNode) selectScorer(rctx *core.RecommendContext) model.Scorer {
	if len(n.Scorers) > 0 && rctx != nil {
		if v, ok := rctx.Param(ParamModel); ok {
			if name, ok := v.(string); ok {
				if s, ok := n.Scorers[name]; ok {
					return s
				}
			}
		}
	}
	return n.Scorer
}

func (n *ModelNode) score(ctx context.Context, rctx *core.RecommendContext, scorer model.Scorer, items []*core.Item) ([]float64, error) {
	schema := n.Schema
	if len(schema) == 0 {
		schema = model.DefaultSchema()
	}
	vectors := make([][]float64, len(items))
	for i, it := range items {
		vectors[i] = schema.Vector(rctx.User, it.Features)
	}
	scores, err := breaker.Call(ctx, n.Breaker, n.Timeout, func(ctx context.Context) ([]float64, error) {
		return scorer.Score(ctx, vectors)
	})
	if err != nil {
		return nil, err
	}
	if len(scores) != len(items) {
		return nil, core.NewDomainError(core.ModuleRank, core.ErrorCodeInternalError, "scorer returned mismatched batch")
	}
	return scores, nil
}

package recall

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/rushteam/recserve/core"
	"github.com/rushteam/recserve/filter"
	"github.com/rushteam/recserve/pipeline"
	"github.com/rushteam/recserve/pkg/breaker"
	"github.com/rushteam/recserve/pkg/metrics"
	"github.com/rushteam/recserve/pkg/utils"
)

// Fanout 是一个 Recall Node：并发执行多个召回通道，并合并结果。
//
// 合并规则：
//   - 按 Sources 顺序拼接，同一 ID 只保留第一次出现的候选（先到先得）
//   - 合并后应用 Filters（请求排除集合等）
//   - 最终截断到 Limit
//
// 单个通道出错或超时按空结果处理，不中断其他通道。
type Fanout struct {
	Sources       []Source
	Filters       []filter.Filter
	Timeout       time.Duration // 每个召回通道的超时时间
	MaxConcurrent int           // 最大并发数（0 表示无限制）
	Limit         int           // 候选上限，默认 200
	Log           zerolog.Logger
}

func (n *Fanout) Name() string        { return "recall.fanout" }
func (n *Fanout) Kind() pipeline.Kind { return pipeline.KindRecall }

func (n *Fanout) Process(
	ctx context.Context,
	rctx *core.RecommendContext,
	_ []*core.Item,
) ([]*core.Item, error) {
	if len(n.Sources) == 0 {
		return nil, nil
	}

	// 每个通道写入自己的槽位，合并顺序与完成先后无关
	results := make([][]*core.Item, len(n.Sources))
	eg := new(errgroup.Group)
	if n.MaxConcurrent > 0 {
		eg.SetLimit(n.MaxConcurrent)
	}

	for i, src := range n.Sources {
		i, src := i, src
		eg.Go(func() error {
			items, err := breaker.Call[[]*core.Item](ctx, nil, n.Timeout, func(ctx context.Context) ([]*core.Item, error) {
				return src.Recall(ctx, rctx)
			})
			if err != nil {
				metrics.Fallbacks.WithLabelValues("recall_" + src.Name()).Inc()
				n.Log.Warn().Err(err).Str("source", src.Name()).Msg("recall source failed, using empty result")
				return nil
			}
			metrics.RecallCandidates.WithLabelValues(src.Name()).Observe(float64(len(items)))
			for _, it := range items {
				if it != nil && it.Source() == "" {
					it.PutLabel(LabelRecallSource, utils.Label{Value: src.Name(), Source: "recall"})
				}
			}
			results[i] = items
			return nil
		})
	}
	_ = eg.Wait()

	out := Merge(results...)
	out = filter.Apply(ctx, rctx, out, n.Filters...)

	limit := n.Limit
	if limit <= 0 {
		limit = core.DefaultCandidateLimit
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Merge 按参数顺序拼接各通道结果并按 ID 去重，保留第一次出现的候选。
func Merge(lists ...[]*core.Item) []*core.Item {
	total := 0
	for _, l := range lists {
		total += len(l)
	}
	seen := make(map[string]struct{}, total)
	out := make([]*core.Item, 0, total)
	for _, l := range lists {
		for _, it := range l {
			if it == nil {
				continue
			}
			if _, ok := seen[it.ID]; ok {
				continue
			}
			seen[it.ID] = struct{}{}
			out = append(out, it)
		}
	}
	return out
}

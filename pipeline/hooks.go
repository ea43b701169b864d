package pipeline

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/rushteam/recserve/core"
	"github.com/rushteam/recserve/pkg/metrics"
)

// ObserveHook 记录每个 Node 的耗时指标，并以 debug 级别输出输入输出条数。
func ObserveHook(log zerolog.Logger) Hook {
	return HookFunc(func(_ context.Context, rctx *core.RecommendContext, node Node, in, out int, elapsed time.Duration, err error) {
		metrics.NodeLatency.WithLabelValues(node.Name(), string(node.Kind())).Observe(elapsed.Seconds())
		ev := log.Debug()
		if err != nil {
			ev = log.Warn().Err(err)
		}
		ev.Str("request_id", rctx.RequestID).
			Str("node", node.Name()).
			Int("in", in).
			Int("out", out).
			Dur("elapsed", elapsed).
			Msg("node done")
	})
}

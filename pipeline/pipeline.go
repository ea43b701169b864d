package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rushteam/recserve/core"
)

// Hook 在每个 Node 执行后被调用，用于打点与日志。
type Hook interface {
	AfterNode(ctx context.Context, rctx *core.RecommendContext, node Node, in, out int, elapsed time.Duration, err error)
}

// HookFunc 是函数形式的 Hook。
type HookFunc func(ctx context.Context, rctx *core.RecommendContext, node Node, in, out int, elapsed time.Duration, err error)

func (f HookFunc) AfterNode(ctx context.Context, rctx *core.RecommendContext, node Node, in, out int, elapsed time.Duration, err error) {
	f(ctx, rctx, node, in, out, elapsed, err)
}

// Pipeline 是核心抽象：把推荐逻辑拆成可组合的 Node 链。
// 每个 Node 执行前检查 ctx，调用方放弃请求后不再继续后续阶段。
type Pipeline struct {
	Nodes []Node
	Hooks []Hook
}

func (p *Pipeline) Run(
	ctx context.Context,
	rctx *core.RecommendContext,
	items []*core.Item,
) ([]*core.Item, error) {
	cur := items
	for _, node := range p.Nodes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		start := time.Now()
		next, err := node.Process(ctx, rctx, cur)
		for _, h := range p.Hooks {
			h.AfterNode(ctx, rctx, node, len(cur), len(next), time.Since(start), err)
		}
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", node.Name(), err)
		}
		cur = next
	}
	return cur, nil
}

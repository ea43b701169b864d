package ingest

import (
	"context"
	"errors"

	"github.com/rushteam/recserve/cache"
	"github.com/rushteam/recserve/pkg/metrics"
)

// ReasonInstantInterest 是即时兴趣触发的刷新原因。
const ReasonInstantInterest = "instant_interest"

// RefreshSignal 是推荐刷新信号。
type RefreshSignal struct {
	UserID string `json:"user_id"`
	Reason string `json:"reason"`
}

// Notifier 接收刷新信号。
//
// 设计原则：
//   - 通知是尽力而为的，失败只记录日志，不影响事件确认
//   - 至少一次：重复投递的事件可能产生重复信号，实现需幂等
type Notifier interface {
	Name() string
	Notify(ctx context.Context, sig RefreshSignal) error
}

// Notifiers 依次调用全部通知器，返回合并后的错误。
type Notifiers []Notifier

func (ns Notifiers) Name() string { return "multi" }

func (ns Notifiers) Notify(ctx context.Context, sig RefreshSignal) error {
	var errs []error
	for _, n := range ns {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, sig); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// CacheNotifier 使该用户的响应缓存失效，下一次请求重新计算。
type CacheNotifier struct {
	Cache cache.Invalidator
}

func (n *CacheNotifier) Name() string { return "cache" }

func (n *CacheNotifier) Notify(ctx context.Context, sig RefreshSignal) error {
	if err := n.Cache.Invalidate(ctx, sig.UserID); err != nil {
		return err
	}
	metrics.CacheInvalidations.WithLabelValues(sig.Reason).Inc()
	return nil
}

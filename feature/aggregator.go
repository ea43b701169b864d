package feature

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/sync/errgroup"

	"github.com/rushteam/recserve/core"
	"github.com/rushteam/recserve/pkg/breaker"
	"github.com/rushteam/recserve/pkg/logging"
	"github.com/rushteam/recserve/pkg/metrics"
)

// Aggregator 合并实时行为状态与外部特征源，为每个用户/物品构造一个 FeatureSet。
//
// 降级规则：
//   - 外部画像不可用：只保留实时特征，并写入 user_segment="unknown"、total_clicks=0
//   - 实时状态不可读：recent_items 为空列表，计数为 0
//   - 物品特征批量失败：每个物品返回空 FeatureSet
//
// 以上情况都不向调用方返回错误。
type Aggregator struct {
	state    core.StateStore
	provider Provider
	cache    ItemCache
	timeout  time.Duration
	now      func() time.Time
	log      zerolog.Logger

	userBreaker *gobreaker.CircuitBreaker[map[string]any]
	itemBreaker *gobreaker.CircuitBreaker[map[string]map[string]any]
}

// Option 是 Aggregator 的配置选项，采用函数式选项模式。
type Option func(*Aggregator)

// WithTimeout 设置每次外部调用的超时。
func WithTimeout(d time.Duration) Option {
	return func(a *Aggregator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithItemCache 启用物品特征本地缓存。
func WithItemCache(c ItemCache) Option {
	return func(a *Aggregator) { a.cache = c }
}

// WithBreaker 为外部特征源启用熔断。
func WithBreaker(cfg breaker.Config) Option {
	return func(a *Aggregator) {
		userCfg, itemCfg := cfg, cfg
		userCfg.Name = "feature.user"
		itemCfg.Name = "feature.item"
		a.userBreaker = breaker.New[map[string]any](userCfg, a.log)
		a.itemBreaker = breaker.New[map[string]map[string]any](itemCfg, a.log)
	}
}

// WithLogger 设置 logger。
func WithLogger(l zerolog.Logger) Option {
	return func(a *Aggregator) { a.log = logging.Component(l, "feature") }
}

// WithClock 替换时钟，用于测试小时桶。
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// NewAggregator 创建特征聚合器；provider 可为空（只有实时特征）。
// WithLogger 应放在 WithBreaker 之前，熔断器状态日志才会带上组件字段。
func NewAggregator(state core.StateStore, provider Provider, opts ...Option) *Aggregator {
	a := &Aggregator{
		state:    state,
		provider: provider,
		timeout:  150 * time.Millisecond,
		now:      time.Now,
		log:      logging.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// GetUserFeatures 并发读取实时状态与画像，画像在下、实时在上合并。
func (a *Aggregator) GetUserFeatures(ctx context.Context, userID string) core.FeatureSet {
	var realtime, profile map[string]any
	var g errgroup.Group
	g.Go(func() error {
		realtime = a.realtimeFeatures(ctx, userID)
		return nil
	})
	g.Go(func() error {
		profile = a.profileFeatures(ctx, userID)
		return nil
	})
	_ = g.Wait()
	return core.NewFeatureSet(profile).Merge(core.NewFeatureSet(realtime))
}

func (a *Aggregator) realtimeFeatures(ctx context.Context, userID string) map[string]any {
	bucket := core.HourBucket(a.now())
	feats, err := breaker.Call(ctx, nil, a.timeout, func(ctx context.Context) (map[string]any, error) {
		recent, err := a.state.RecentItems(ctx, userID, core.RecentItemsCapacity)
		if err != nil {
			return nil, err
		}
		counts, err := a.state.ActionCounts(ctx, userID, bucket)
		if err != nil {
			return nil, err
		}
		return RealtimeFeatures(recent, counts), nil
	})
	if err != nil {
		metrics.Fallbacks.WithLabelValues("realtime_features").Inc()
		a.log.Warn().Err(err).Str("user_id", userID).Msg("realtime state unavailable, using empty realtime features")
		return emptyRealtime()
	}
	return feats
}

func (a *Aggregator) profileFeatures(ctx context.Context, userID string) map[string]any {
	if a.provider == nil {
		return FallbackUserFeatures()
	}
	feats, err := breaker.Call(ctx, a.userBreaker, a.timeout, func(ctx context.Context) (map[string]any, error) {
		return a.provider.UserFeatures(ctx, userID)
	})
	if err != nil {
		metrics.Fallbacks.WithLabelValues("user_features").Inc()
		a.log.Warn().Err(err).Str("user_id", userID).Str("provider", a.provider.Name()).Msg("profile features unavailable, degrading to realtime only")
		return FallbackUserFeatures()
	}
	return feats
}

// GetItemFeatures 批量获取物品特征，先查本地缓存，未命中部分一次性请求外部特征源。
func (a *Aggregator) GetItemFeatures(ctx context.Context, itemIDs []string) map[string]core.FeatureSet {
	out := make(map[string]core.FeatureSet, len(itemIDs))
	misses := make([]string, 0, len(itemIDs))
	for _, id := range itemIDs {
		if _, seen := out[id]; seen {
			continue
		}
		if a.cache != nil {
			if feats, ok := a.cache.Get(id); ok {
				out[id] = core.NewFeatureSet(feats)
				continue
			}
		}
		out[id] = core.FeatureSet{}
		misses = append(misses, id)
	}
	if len(misses) == 0 || a.provider == nil {
		return out
	}

	fetched, err := breaker.Call(ctx, a.itemBreaker, a.timeout, func(ctx context.Context) (map[string]map[string]any, error) {
		return a.provider.ItemFeatures(ctx, misses)
	})
	if err != nil {
		metrics.Fallbacks.WithLabelValues("item_features").Inc()
		a.log.Warn().Err(err).Int("items", len(misses)).Str("provider", a.provider.Name()).Msg("item features unavailable, using empty feature sets")
		return out
	}
	for _, id := range misses {
		feats, ok := fetched[id]
		if !ok {
			continue
		}
		out[id] = core.NewFeatureSet(feats)
		if a.cache != nil {
			a.cache.Set(id, feats)
		}
	}
	return out
}

// RealtimeFeatures 由最近物品与当前小时计数推导实时特征。
// ctr = purchase / click，无点击时为 0。
func RealtimeFeatures(recent []string, counts map[core.Action]int64) map[string]any {
	clicks := float64(counts[core.ActionClick])
	purchases := float64(counts[core.ActionPurchase])
	ctr := 0.0
	if clicks > 0 {
		ctr = purchases / clicks
	}
	if recent == nil {
		recent = []string{}
	}
	return map[string]any{
		FeatureRecentItems:  recent,
		"click_count":       clicks,
		"add_to_cart_count": float64(counts[core.ActionAddToCart]),
		"purchase_count":    purchases,
		FeatureCTR:          ctr,
	}
}

var _ core.FeatureService = (*Aggregator)(nil)

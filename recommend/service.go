// Package recommend 是在线推荐的编排层：缓存、实验分组、Pipeline 执行与事件上报。
package recommend

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rushteam/recserve/cache"
	"github.com/rushteam/recserve/core"
	"github.com/rushteam/recserve/experiment"
	"github.com/rushteam/recserve/pipeline"
	"github.com/rushteam/recserve/pkg/metrics"
	"github.com/rushteam/recserve/rank"
)

// Checker 是健康检查项，返回 nil 表示正常。
type Checker func(ctx context.Context) error

// Service 编排一次推荐请求：
//
//	分组与曝光 -> 缓存查询 -> 用户特征 -> Pipeline -> 写缓存 -> 上报曝光事件
//
// 外部依赖的瞬时故障由各组件降级处理；请求边界捕获 panic，返回带 request_id 的内部错误。
type Service struct {
	pipeline    *pipeline.Pipeline
	features    core.FeatureService
	cache       cache.Cache
	experiments *experiment.Engine
	sink        core.EventSink
	checks      map[string]Checker
	log         zerolog.Logger
	now         func() time.Time
	newID       func() string

	defaultModelVersion string
}

// Option 配置 Service。
type Option func(*Service)

func WithCache(c cache.Cache) Option { return func(s *Service) { s.cache = c } }
func WithExperiments(e *experiment.Engine) Option { return func(s *Service) { s.experiments = e } }
func WithEventSink(sink core.EventSink) Option { return func(s *Service) { s.sink = sink } }
func WithLogger(l zerolog.Logger) Option { return func(s *Service) { s.log = l } }
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }
func WithRequestIDGenerator(f func() string) Option { return func(s *Service) { s.newID = f } }
func WithDefaultModelVersion(v string) Option { return func(s *Service) { s.defaultModelVersion = v } }
func WithHealthCheck(name string, c Checker) Option {
	return func(s *Service) { s.checks[name] = c }
}

// New 创建 Service。
func New(p *pipeline.Pipeline, features core.FeatureService, opts ...Option) *Service {
	s := &Service{
		pipeline:            p,
		features:            features,
		checks:              make(map[string]Checker),
		log:                 zerolog.Nop(),
		now:                 time.Now,
		newID:               uuid.NewString,
		defaultModelVersion: "unknown",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Experiments 返回实验引擎，未配置时为 nil。
func (s *Service) Experiments() *experiment.Engine { return s.experiments }

// Recommend 生成推荐。入参非法返回 InvalidInput；调用方取消时返回 ctx 错误且不写缓存。
func (s *Service) Recommend(ctx context.Context, req core.Request) (resp *Response, err error) {
	start := s.now()
	requestID := s.newID()
	defer func() {
		if err != nil {
			err = &RequestError{RequestID: requestID, Err: err}
		}
	}()
	if err := req.Normalize(); err != nil {
		return nil, err
	}
	log := s.log.With().
		Str("request_id", requestID).
		Str("user_id", req.UserID).
		Str("page_type", req.PageType).
		Logger()

	defer func() {
		if r := recover(); r != nil {
			metrics.RecommendErrors.WithLabelValues(req.PageType).Inc()
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("recommend panicked")
			resp = nil
			err = core.NewDomainError(core.ModuleService, core.ErrorCodeInternalError,
				fmt.Sprintf("internal error (request_id=%s)", requestID))
		}
	}()

	rctx := core.NewRecommendContext(requestID, req)
	assigned, primary := s.assign(rctx)

	result, cached := s.lookup(ctx, req, log)
	if cached {
		result = filterExcluded(result, rctx)
	} else {
		rctx.User = s.features.GetUserFeatures(ctx, req.UserID)
		items, err := s.pipeline.Run(ctx, rctx, nil)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			metrics.RecommendErrors.WithLabelValues(req.PageType).Inc()
			log.Error().Err(err).Msg("pipeline failed")
			return nil, fmt.Errorf("recommend (request_id=%s): %w", requestID, err)
		}
		result = core.ResultFromItems(items, s.modelVersion(rctx))
		s.store(ctx, req, result, log)
	}
	if len(result.Items) > req.Num {
		result.Items = result.Items[:req.Num]
	}
	// 调用方已放弃的请求没有展示任何内容，不计曝光
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	s.recordExposures(ctx, rctx, assigned, log)

	elapsed := s.now().Sub(start)
	metrics.RecommendRequests.WithLabelValues(req.PageType, result.ModelVersion).Inc()
	metrics.RecommendLatency.WithLabelValues(req.PageType).Observe(elapsed.Seconds())
	metrics.ItemImpressions.WithLabelValues(req.PageType).Add(float64(len(result.Items)))
	s.recordImpressions(ctx, req.UserID, result, log)

	return &Response{
		UserID:           req.UserID,
		RequestID:        requestID,
		Recommendations:  result.Items,
		ProcessingTimeMs: float64(elapsed.Microseconds()) / 1000,
		ModelVersion:     result.ModelVersion,
		ExperimentID:     primary,
		Experiments:      assigned,
		Cached:           cached,
	}, nil
}

// assign 为所有进行中的实验确定分组，变体参数覆盖到 rctx.Params。
// 只计算分组，不写计数；返回实验到分组的映射以及第一个实验 ID（按 ID 排序）。
func (s *Service) assign(rctx *core.RecommendContext) (map[string]string, string) {
	if s.experiments == nil {
		return nil, ""
	}
	active := s.experiments.Registry().Active()
	if len(active) == 0 {
		return nil, ""
	}
	assigned := make(map[string]string, len(active))
	for _, expID := range active {
		variant := s.experiments.AssignVariant(rctx.UserID, expID)
		assigned[expID] = variant
		for k, v := range s.experiments.VariantParams(expID, variant) {
			rctx.Params[k] = v
		}
	}
	return assigned, active[0]
}

// recordExposures 在结果产出后记录曝光并持久化分组。
func (s *Service) recordExposures(ctx context.Context, rctx *core.RecommendContext, assigned map[string]string, log zerolog.Logger) {
	for expID, want := range assigned {
		variant, err := s.experiments.RecordExposure(ctx, rctx.UserID, expID, rctx.RequestID)
		if err != nil {
			// 计数失败不影响本次响应，分组本身是确定性的
			metrics.Fallbacks.WithLabelValues("experiment_exposure").Inc()
			log.Warn().Err(err).Str("experiment_id", expID).Msg("record exposure failed")
			continue
		}
		if variant != want {
			// 请求期间实验被重新配置，以持久化的分组为准
			log.Debug().Str("experiment_id", expID).Str("variant", variant).Str("assigned", want).Msg("variant changed during request")
		}
	}
}

func (s *Service) lookup(ctx context.Context, req core.Request, log zerolog.Logger) (core.RecommendationResult, bool) {
	if s.cache == nil {
		return core.RecommendationResult{}, false
	}
	result, ok, err := s.cache.Get(ctx, req.UserID, req.PageType)
	if err != nil {
		metrics.Fallbacks.WithLabelValues("cache_get").Inc()
		log.Warn().Err(err).Msg("cache get failed")
		return core.RecommendationResult{}, false
	}
	if !ok {
		metrics.CacheMisses.Inc()
		return core.RecommendationResult{}, false
	}
	metrics.CacheHits.Inc()
	return result, true
}

func (s *Service) store(ctx context.Context, req core.Request, result core.RecommendationResult, log zerolog.Logger) {
	if s.cache == nil || len(result.Items) == 0 {
		return
	}
	// 调用方已放弃的请求不写缓存
	if ctx.Err() != nil {
		return
	}
	if err := s.cache.Set(ctx, req.UserID, req.PageType, result); err != nil {
		log.Warn().Err(err).Msg("cache set failed")
	}
}

func (s *Service) modelVersion(rctx *core.RecommendContext) string {
	if lbl, ok := rctx.GetLabel(rank.LabelModelVersion); ok && lbl.Value != "" {
		return lbl.Value
	}
	return s.defaultModelVersion
}

func (s *Service) recordImpressions(ctx context.Context, userID string, result core.RecommendationResult, log zerolog.Logger) {
	if s.sink == nil || len(result.Items) == 0 {
		return
	}
	ts := s.now().Unix()
	events := make([]core.BehaviorEvent, 0, len(result.Items))
	for _, rec := range result.Items {
		events = append(events, core.BehaviorEvent{
			UserID:    userID,
			ItemID:    rec.ItemID,
			Action:    core.ActionImpression,
			Timestamp: ts,
		})
	}
	if err := s.sink.Send(context.WithoutCancel(ctx), events...); err != nil {
		log.Warn().Err(err).Int("events", len(events)).Msg("forward impressions failed")
	}
}

// filterExcluded 从缓存结果中去掉本次请求排除的物品。
func filterExcluded(result core.RecommendationResult, rctx *core.RecommendContext) core.RecommendationResult {
	if len(rctx.Exclude) == 0 {
		return result
	}
	out := result.Clone()
	out.Items = out.Items[:0]
	for _, rec := range result.Items {
		if !rctx.IsExcluded(rec.ItemID) {
			out.Items = append(out.Items, rec)
		}
	}
	return out
}

// TrackEvent 上报用户行为。带 request_id 的非曝光事件同时记为实验转化（指标名即行为名，值为 1）。
func (s *Service) TrackEvent(ctx context.Context, in TrackEvent) error {
	ev, err := in.toBehavior(s.now())
	if err != nil {
		return err
	}
	metrics.TrackedEvents.WithLabelValues(string(ev.Action)).Inc()

	if s.sink != nil {
		if err := s.sink.Send(ctx, ev); err != nil {
			return core.WrapDomainError(core.ModuleService, core.ErrorCodeUnavailable, err, "forward event")
		}
	}

	if in.RequestID == "" || s.experiments == nil || ev.Action == core.ActionImpression {
		return nil
	}
	for _, expID := range s.experiments.Registry().Active() {
		if _, err := s.experiments.RecordConversion(ctx, ev.UserID, expID, string(ev.Action), 1); err != nil {
			s.log.Warn().Err(err).
				Str("request_id", in.RequestID).
				Str("user_id", ev.UserID).
				Str("experiment_id", expID).
				Msg("record conversion failed")
		}
	}
	return nil
}

// Refresh 使该用户所有页面类型的缓存失效。
func (s *Service) Refresh(ctx context.Context, userID string) error {
	if userID == "" {
		return core.InvalidInput(core.ModuleService, "user_id is required")
	}
	if s.cache == nil {
		return nil
	}
	if err := s.cache.Invalidate(ctx, userID); err != nil {
		return core.WrapDomainError(core.ModuleService, core.ErrorCodeUnavailable, err, "invalidate cache")
	}
	metrics.CacheInvalidations.WithLabelValues("refresh").Inc()
	return nil
}

// UserFeatures 返回聚合后的用户特征（调试用，不经过缓存与排序）。
func (s *Service) UserFeatures(ctx context.Context, userID string) map[string]any {
	return s.features.GetUserFeatures(ctx, userID).ToMap()
}

// ItemFeatures 返回单个物品的特征（调试用）。
func (s *Service) ItemFeatures(ctx context.Context, itemID string) map[string]any {
	return s.features.GetItemFeatures(ctx, []string{itemID})[itemID].ToMap()
}

// Health 执行全部健康检查，返回各项状态以及整体是否健康。
func (s *Service) Health(ctx context.Context) (map[string]string, bool) {
	status := make(map[string]string, len(s.checks))
	healthy := true
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			status[name] = err.Error()
			healthy = false
			continue
		}
		status[name] = "ok"
	}
	return status, healthy
}

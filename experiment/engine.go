package experiment

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/rushteam/recserve/core"
	"github.com/rushteam/recserve/pkg/logging"
	"github.com/rushteam/recserve/pkg/metrics"
)

// Engine 负责分流、曝光/转化记录与结果计算。
//
// 分流是输入的纯函数：同样的 (user, experiment, 权重) 总是得到同样的分组；
// 曝光时把分组写入 CounterStore，转化按曝光时的分组归因，权重调整不影响已曝光用户的归因。
type Engine struct {
	registry *Registry
	counters CounterStore
	log      zerolog.Logger
	ttl      time.Duration
}

// EngineOption 配置 Engine。
type EngineOption func(*Engine)

// WithAssignmentTTL 设置分组记录的保留时长，默认 30 天。
func WithAssignmentTTL(ttl time.Duration) EngineOption {
	return func(e *Engine) { e.ttl = ttl }
}

// WithEngineLogger 设置 logger。
func WithEngineLogger(l zerolog.Logger) EngineOption {
	return func(e *Engine) { e.log = logging.Component(l, "experiment") }
}

func NewEngine(registry *Registry, counters CounterStore, opts ...EngineOption) *Engine {
	e := &Engine{
		registry: registry,
		counters: counters,
		log:      logging.Nop(),
		ttl:      core.AssignmentTTL,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry 返回实验配置。
func (e *Engine) Registry() *Registry { return e.registry }

// AssignVariant 返回用户在实验中的分组；实验不存在或未处于 active 时返回 control。
func (e *Engine) AssignVariant(userID, experimentID string) string {
	exp, ok := e.registry.lookup(experimentID)
	if !ok || exp.Status != StatusActive {
		return core.ControlVariant
	}
	name, ok := Pick(exp.Variants, Bucket(userID, experimentID, exp.TotalWeight()))
	if !ok {
		return core.ControlVariant
	}
	return name
}

// RecordExposure 记录一次曝光并持久化分组，返回分组名。
// 实验不存在或未激活时只返回 control，不写任何计数。
func (e *Engine) RecordExposure(ctx context.Context, userID, experimentID, requestID string) (string, error) {
	variant := e.AssignVariant(userID, experimentID)
	exp, ok := e.registry.lookup(experimentID)
	if !ok || exp.Status != StatusActive {
		return variant, nil
	}
	if err := e.counters.IncrExposure(ctx, experimentID, variant); err != nil {
		return variant, err
	}
	if err := e.counters.SaveAssignment(ctx, userID, experimentID, Assignment{Variant: variant, RequestID: requestID}, e.ttl); err != nil {
		return variant, err
	}
	metrics.ExperimentExposures.WithLabelValues(experimentID, variant).Inc()
	return variant, nil
}

// RecordConversion 按曝光时持久化的分组记录转化。
// 用户未曝光过或实验不存在时丢弃，返回 false。
// 任意指标名都会累加；Results 只汇总实验声明的指标。
func (e *Engine) RecordConversion(ctx context.Context, userID, experimentID, metric string, value float64) (bool, error) {
	if _, ok := e.registry.lookup(experimentID); !ok {
		return false, nil
	}
	a, ok, err := e.counters.GetAssignment(ctx, userID, experimentID)
	if err != nil {
		return false, err
	}
	if !ok {
		e.log.Debug().Str("user_id", userID).Str("experiment_id", experimentID).Msg("conversion without exposure dropped")
		return false, nil
	}
	if err := e.counters.IncrConversion(ctx, experimentID, a.Variant, metric, value); err != nil {
		return false, err
	}
	if err := e.counters.RecordUserConversion(ctx, userID, experimentID, a.Variant, metric, value); err != nil {
		// 审计记录失败不影响计数
		e.log.Warn().Err(err).Str("user_id", userID).Str("experiment_id", experimentID).Msg("record user conversion failed")
	}
	metrics.ExperimentConversions.WithLabelValues(experimentID, a.Variant, metric).Inc()
	return true, nil
}

// Assignment 返回用户在实验中持久化的曝光分组。
func (e *Engine) Assignment(ctx context.Context, userID, experimentID string) (Assignment, bool, error) {
	return e.counters.GetAssignment(ctx, userID, experimentID)
}

// VariantParams 返回分组参数副本；实验或分组不存在时返回 nil。
func (e *Engine) VariantParams(experimentID, variant string) map[string]any {
	exp, ok := e.registry.lookup(experimentID)
	if !ok {
		return nil
	}
	v, ok := exp.Variant(variant)
	if !ok {
		return nil
	}
	return cloneParams(v.Params)
}

// Comparison 是实验组相对对照组的比较。
type Comparison struct {
	Lift          float64 `json:"lift"`
	ZScore        float64 `json:"z_score"`
	PValue        float64 `json:"p_value"`
	IsSignificant bool    `json:"is_significant"`
}

// MetricResult 是一个分组在一个指标上的统计。
// 对照组只有 Value/Total/Count，实验组额外带 Comparison。
type MetricResult struct {
	Value float64 `json:"value"`
	Total float64 `json:"total"`
	Count int64   `json:"count"`
	*Comparison
}

// VariantResult 是一个分组的统计。
type VariantResult struct {
	Variant       string                  `json:"variant"`
	ExposureCount int64                   `json:"exposure_count"`
	Metrics       map[string]MetricResult `json:"metrics"`
}

// Results 是实验的整体结果，Variants 按声明顺序排列。
type Results struct {
	ExperimentID string          `json:"experiment_id"`
	Status       Status          `json:"status"`
	Control      string          `json:"control"`
	Variants     []VariantResult `json:"variants"`
}

// Results 计算实验结果。对每个非对照分组与指标：
// rate = sum / 曝光数，lift 与双样本 z 检验相对对照组计算，p < 0.05 视为显著。
func (e *Engine) Results(ctx context.Context, experimentID string) (*Results, error) {
	exp, ok := e.registry.lookup(experimentID)
	if !ok {
		return nil, NotFound(experimentID)
	}

	type stat struct {
		exposures int64
		sums      map[string]float64
		counts    map[string]int64
	}
	stats := make(map[string]*stat, len(exp.Variants))
	for _, v := range exp.Variants {
		n, err := e.counters.Exposures(ctx, exp.ID, v.Name)
		if err != nil {
			return nil, err
		}
		s := &stat{exposures: n, sums: map[string]float64{}, counts: map[string]int64{}}
		for _, m := range exp.Metrics {
			sum, count, err := e.counters.Conversions(ctx, exp.ID, v.Name, m)
			if err != nil {
				return nil, err
			}
			s.sums[m], s.counts[m] = sum, count
		}
		stats[v.Name] = s
	}

	control := exp.Baseline()
	cs := stats[control]
	out := &Results{ExperimentID: exp.ID, Status: exp.Status, Control: control}
	for _, v := range exp.Variants {
		s := stats[v.Name]
		vr := VariantResult{Variant: v.Name, ExposureCount: s.exposures, Metrics: make(map[string]MetricResult, len(exp.Metrics))}
		for _, m := range exp.Metrics {
			mr := MetricResult{Value: rate(s.sums[m], s.exposures), Total: s.sums[m], Count: s.counts[m]}
			if v.Name != control && cs != nil {
				z, p := ZTest(cs.sums[m], cs.exposures, s.sums[m], s.exposures)
				mr.Comparison = &Comparison{
					Lift:          Lift(rate(cs.sums[m], cs.exposures), mr.Value),
					ZScore:        z,
					PValue:        p,
					IsSignificant: p < SignificanceLevel,
				}
			}
			vr.Metrics[m] = mr
		}
		out.Variants = append(out.Variants, vr)
	}
	return out, nil
}

// Reset 清零实验的曝光与转化计数，已持久化的用户分组保留至过期。
func (e *Engine) Reset(ctx context.Context, experimentID string) error {
	exp, ok := e.registry.lookup(experimentID)
	if !ok {
		return NotFound(experimentID)
	}
	if err := e.counters.Reset(ctx, exp); err != nil {
		return err
	}
	e.log.Info().Str("experiment_id", experimentID).Msg("experiment counters reset")
	return nil
}

func rate(sum float64, exposures int64) float64 {
	if exposures <= 0 {
		return 0
	}
	return sum / float64(exposures)
}

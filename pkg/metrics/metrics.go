// Package metrics 定义服务与摄取链路的 Prometheus 指标。
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// 推荐请求
	RecommendRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recommendation_requests_total",
			Help: "Total recommendation requests",
		},
		[]string{"page_type", "model_version"},
	)

	RecommendLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "recommendation_latency_seconds",
			Help:    "Recommendation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"page_type"},
	)

	RecommendErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recommendation_errors_total",
			Help: "Recommendation requests that ended in a server error",
		},
		[]string{"page_type"},
	)

	// 响应缓存
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "recommendation_cache_hits_total",
			Help: "Total response cache hits",
		},
	)

	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "recommendation_cache_misses_total",
			Help: "Total response cache misses",
		},
	)

	CacheInvalidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recommendation_cache_invalidations_total",
			Help: "Total per-user cache invalidations",
		},
		[]string{"reason"}, // "instant_interest", "refresh"
	)

	// 曝光与行为
	ItemImpressions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "item_impressions_total",
			Help: "Total item impressions",
		},
		[]string{"page_type"},
	)

	TrackedEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracked_events_total",
			Help: "Total tracked behavior events",
		},
		[]string{"action"},
	)

	// 降级
	Fallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recserve_fallback_total",
			Help: "Times a component applied its documented fallback",
		},
		[]string{"component"}, // "user_features", "item_features", "scorer", "recall_<source>"
	)

	// Pipeline 各节点耗时
	NodeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipeline_node_duration_seconds",
			Help:    "Time spent in each pipeline node",
			Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5},
		},
		[]string{"node", "kind"},
	)

	// 召回
	RecallCandidates = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "recall_candidates",
			Help:    "Candidates produced per recall source",
			Buckets: []float64{0, 10, 25, 50, 100, 200, 400},
		},
		[]string{"source"},
	)

	// 实验
	ExperimentExposures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "experiment_exposures_total",
			Help: "Experiment exposures recorded",
		},
		[]string{"experiment", "variant"},
	)

	ExperimentConversions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "experiment_conversions_total",
			Help: "Experiment conversions recorded",
		},
		[]string{"experiment", "variant", "metric"},
	)

	// 摄取
	IngestEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_events_total",
			Help: "Behavior events processed by the ingestion pipeline",
		},
		[]string{"result"}, // "ok", "malformed", "state_error"
	)

	IngestLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ingest_event_duration_seconds",
			Help:    "Time to process one behavior event",
			Buckets: prometheus.DefBuckets,
		},
	)

	InterestSignals = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ingest_instant_interest_total",
			Help: "Instant interest signals detected",
		},
	)
)

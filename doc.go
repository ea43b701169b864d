// Package recserve 是实时电商推荐服务的核心库。
//
// 设计要点：
// - Pipeline-first: 推荐逻辑通过 Node 串联（Recall → Enrich → Rank → ReRank → PostProcess）
// - 实时闭环: 行为事件经 ingest 更新实时状态，检测到即时兴趣后失效缓存并发出刷新信号
// - 可实验: experiment 为用户稳定分桶，变体参数（model、lambda）直接驱动 Pipeline
// - 可降级: 特征、模型、召回通道各自超时与熔断，失败时按约定兜底而不是报错
//
// 进程入口见 cmd/recserve（HTTP 服务）与 cmd/ingester（行为摄取）。
package recserve

import "github.com/rushteam/recserve/pipeline"

// 轻量 facade：便于直接 import "recserve" 使用核心抽象。
type Pipeline = pipeline.Pipeline
type Node = pipeline.Node
type Kind = pipeline.Kind

const (
	KindRecall      = pipeline.KindRecall
	KindFilter      = pipeline.KindFilter
	KindEnrich      = pipeline.KindEnrich
	KindRank        = pipeline.KindRank
	KindReRank      = pipeline.KindReRank
	KindPostProcess = pipeline.KindPostProcess
)

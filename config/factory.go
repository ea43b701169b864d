package config

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	"github.com/rushteam/recserve/core"
	"github.com/rushteam/recserve/feature"
	"github.com/rushteam/recserve/filter"
	"github.com/rushteam/recserve/model"
	"github.com/rushteam/recserve/pipeline"
	"github.com/rushteam/recserve/pkg/conv"
	"github.com/rushteam/recserve/rank"
	"github.com/rushteam/recserve/recall"
	"github.com/rushteam/recserve/rerank"
)

// Deps 是需要外部资源的 Node 构建时依赖的组件，由入口进程装配后传入。
type Deps struct {
	Recall   core.RecallDataStore
	State    core.StateStore
	Features core.FeatureService

	// Scorers 按名字索引，rank.model 的 model 配置项选择默认模型，
	// 其余供实验参数 model 切换
	Scorers       map[string]model.Scorer
	Schema        model.Schema
	ScorerBreaker *gobreaker.CircuitBreaker[[]float64]

	Log zerolog.Logger
}

// DefaultFactory 返回包含全部内置 Node 的工厂：Register 注册的无依赖 Node，
// 加上绑定 deps 的召回、特征注入、排序与推荐理由 Node。
func DefaultFactory(deps Deps) *pipeline.NodeFactory {
	factory := pipeline.NewNodeFactory()
	registerGlobal(factory)

	// Recall Nodes
	factory.Register("recall.fanout", deps.buildFanoutNode)
	factory.Register("recall.similar", deps.sourceNode("similar"))
	factory.Register("recall.popular", deps.sourceNode("popular"))
	factory.Register("recall.category", deps.sourceNode("category"))

	// Feature Nodes
	factory.Register("feature.enrich", deps.buildEnrichNode)

	// Rank Nodes
	factory.Register("rank.model", deps.buildModelNode)

	// PostProcess Nodes
	factory.Register("postprocess.reason", deps.buildReasonNode)

	return factory
}

// BuildPipeline 校验配置后构建 Pipeline。
func BuildPipeline(cfg *pipeline.Config, deps Deps) (*pipeline.Pipeline, error) {
	factory := DefaultFactory(deps)
	if err := ValidatePipelineConfig(cfg, factory); err != nil {
		return nil, err
	}
	return cfg.BuildPipeline(factory)
}

// LoadPipelineConfig 读取 s.PipelineFile，未配置时返回 DefaultPipelineConfig(s)。
func LoadPipelineConfig(s Settings) (*pipeline.Config, error) {
	if s.PipelineFile == "" {
		return DefaultPipelineConfig(s), nil
	}
	return pipeline.LoadFromYAML(s.PipelineFile)
}

// DefaultPipelineConfig 返回线上默认布局：
// 三路召回 -> 特征注入 -> 模型排序 -> MMR 多样性 -> 截断 -> 推荐理由。
func DefaultPipelineConfig(s Settings) *pipeline.Config {
	cfg := &pipeline.Config{}
	cfg.Pipeline.Name = "recommend"
	cfg.Pipeline.Nodes = []pipeline.NodeConfig{
		{
			Type: "recall.fanout",
			Config: map[string]any{
				"timeout":        s.Recall.Timeout.String(),
				"max_concurrent": s.Recall.MaxConcurrent,
				"limit":          s.Recall.Limit,
				"sources": []any{
					map[string]any{"type": "similar", "seed_items": s.Recall.SeedItems, "per_item": s.Recall.PerItem},
					map[string]any{"type": "popular", "limit": s.Recall.Popular},
					map[string]any{"type": "category", "top_categories": s.Recall.TopCategories, "per_category": s.Recall.PerCategory},
				},
			},
		},
		{Type: "feature.enrich"},
		{
			Type: "rank.model",
			Config: map[string]any{
				"model":   s.Model.Default,
				"timeout": s.Model.Timeout.String(),
			},
		},
		{
			Type: "rerank.mmr",
			Config: map[string]any{
				"lambda":       s.Rerank.Lambda,
				"max_selected": s.Rerank.MaxSelected,
			},
		},
		{Type: "rerank.topn"},
		{Type: "postprocess.reason"},
	}
	return cfg
}

func (d Deps) buildFanoutNode(cfg map[string]any) (pipeline.Node, error) {
	sourcesConfig, ok := cfg["sources"].([]any)
	if !ok || len(sourcesConfig) == 0 {
		return nil, fmt.Errorf("sources not found or invalid")
	}
	sources := make([]recall.Source, 0, len(sourcesConfig))
	for _, sc := range sourcesConfig {
		sourceMap, ok := sc.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("source must be a mapping, got %T", sc)
		}
		src, err := d.buildSource(conv.ConfigGet(sourceMap, "type", ""), sourceMap)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}

	fanout := &recall.Fanout{
		Sources:       sources,
		Timeout:       conv.ConfigGetDuration(cfg, "timeout", 100*time.Millisecond),
		MaxConcurrent: conv.ConfigGetInt(cfg, "max_concurrent", 0),
		Limit:         conv.ConfigGetInt(cfg, "limit", core.DefaultCandidateLimit),
		Log:           d.Log,
	}
	// 请求级 exclude_items 总是在截断前生效
	fanout.Filters = append(fanout.Filters, filter.NewExcludeFilter(conv.ToStrings(cfg["exclude_items"])...))
	return fanout, nil
}

// sourceNode 让单个召回通道也能作为独立 Node 出现在配置中。
func (d Deps) sourceNode(typ string) NodeBuilder {
	return func(cfg map[string]any) (pipeline.Node, error) {
		src, err := d.buildSource(typ, cfg)
		if err != nil {
			return nil, err
		}
		node, ok := src.(pipeline.Node)
		if !ok {
			return nil, fmt.Errorf("recall source %s is not a node", src.Name())
		}
		return node, nil
	}
}

func (d Deps) buildSource(typ string, cfg map[string]any) (recall.Source, error) {
	if d.Recall == nil {
		return nil, fmt.Errorf("recall source %q: recall data store not configured", typ)
	}
	switch typ {
	case "similar":
		return &recall.Similar{
			Store:     d.Recall,
			State:     d.State,
			SeedItems: conv.ConfigGetInt(cfg, "seed_items", core.DefaultSimilarSeedItems),
			PerItem:   conv.ConfigGetInt(cfg, "per_item", core.DefaultSimilarPerItem),
		}, nil
	case "popular":
		return &recall.Popular{
			Store: d.Recall,
			Limit: conv.ConfigGetInt(cfg, "limit", core.DefaultPopularLimit),
		}, nil
	case "category":
		return &recall.Category{
			Store:         d.Recall,
			TopCategories: conv.ConfigGetInt(cfg, "top_categories", core.DefaultTopCategories),
			PerCategory:   conv.ConfigGetInt(cfg, "per_category", core.DefaultCategoryLimit),
		}, nil
	default:
		return nil, fmt.Errorf("unknown source type: %q", typ)
	}
}

func (d Deps) buildEnrichNode(map[string]any) (pipeline.Node, error) {
	if d.Features == nil {
		return nil, fmt.Errorf("feature.enrich: feature service not configured")
	}
	return &feature.EnrichNode{FeatureService: d.Features}, nil
}

func (d Deps) buildModelNode(cfg map[string]any) (pipeline.Node, error) {
	node := &rank.ModelNode{
		Scorers: d.Scorers,
		Schema:  d.Schema,
		Timeout: conv.ConfigGetDuration(cfg, "timeout", 100*time.Millisecond),
		Breaker: d.ScorerBreaker,
		Log:     d.Log,
	}
	// model 为空时整批走热度分，用于未部署模型服务的环境
	if name := conv.ConfigGet(cfg, "model", ""); name != "" {
		s, ok := d.Scorers[name]
		if !ok {
			return nil, fmt.Errorf("rank.model: scorer %q not configured", name)
		}
		node.Scorer = s
	}
	return node, nil
}

func (d Deps) buildReasonNode(cfg map[string]any) (pipeline.Node, error) {
	var rules []rerank.ReasonRule
	if raw, ok := cfg["rules"].([]any); ok {
		for _, r := range raw {
			m, ok := r.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("reason rule must be a mapping, got %T", r)
			}
			rules = append(rules, rerank.ReasonRule{
				When:   conv.ConfigGet(m, "when", ""),
				Reason: conv.ConfigGet(m, "reason", ""),
			})
		}
	}
	node, err := rerank.NewReasonNode(rules, conv.ConfigGet(cfg, "fallback", ""), d.Log)
	if err != nil {
		return nil, err
	}
	return node, nil
}

// BuildScorers 按配置创建全部打分模型与特征 Schema。
func BuildScorers(mc ModelConfig) (map[string]model.Scorer, model.Schema, error) {
	schema := model.DefaultSchema()
	if mc.SchemaPath != "" {
		s, err := model.LoadSchema(mc.SchemaPath)
		if err != nil {
			return nil, nil, err
		}
		schema = s
	}
	scorers := make(map[string]model.Scorer, len(mc.Scorers))
	for name, sc := range mc.Scorers {
		switch sc.Type {
		case "rpc":
			scorers[name] = model.NewRPCScorer(name, sc.Endpoint, mc.Timeout)
		case "lr":
			lr, err := model.LoadLRScorer(sc.Path, schema)
			if err != nil {
				return nil, nil, fmt.Errorf("scorer %s: %w", name, err)
			}
			scorers[name] = lr
		default:
			return nil, nil, fmt.Errorf("scorer %s: unknown type %q", name, sc.Type)
		}
	}
	return scorers, schema, nil
}

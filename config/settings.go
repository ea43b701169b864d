package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/rushteam/recserve/core"
	"github.com/rushteam/recserve/feature"
	"github.com/rushteam/recserve/ingest"
	"github.com/rushteam/recserve/pkg/breaker"
	"github.com/rushteam/recserve/pkg/logging"
	"github.com/rushteam/recserve/server"
)

// EnvPrefix 是环境变量前缀。RECSERVE_REDIS__ADDR 对应 redis.addr。
const EnvPrefix = "RECSERVE_"

// Settings 是推荐服务与行为摄取进程共用的配置。
type Settings struct {
	Server     server.Config      `koanf:"server"`
	Redis      RedisConfig        `koanf:"redis"`
	Cache      CacheConfig        `koanf:"cache"`
	Feature    FeatureConfig      `koanf:"feature"`
	Model      ModelConfig        `koanf:"model"`
	Recall     RecallConfig       `koanf:"recall"`
	Rerank     RerankConfig       `koanf:"rerank"`
	Experiment ExperimentConfig   `koanf:"experiment"`
	Kafka      ingest.KafkaConfig `koanf:"kafka"`
	Ingest     IngestConfig       `koanf:"ingest"`
	Archive    ArchiveConfig      `koanf:"archive"`
	Log        logging.Config     `koanf:"log"`

	// PipelineFile 非空时从 YAML 加载 Pipeline 布局，否则使用 DefaultPipelineConfig
	PipelineFile string `koanf:"pipeline_file"`
}

type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
	PoolSize int    `koanf:"pool_size"`
}

type CacheConfig struct {
	// Backend: redis 或 memory
	Backend string        `koanf:"backend"`
	TTL     time.Duration `koanf:"ttl"`
}

// FeatureConfig 是特征聚合配置。Provider 取值 feast、redis 或 none。
type FeatureConfig struct {
	Provider      string              `koanf:"provider"`
	Feast         feature.FeastConfig `koanf:"feast"`
	Timeout       time.Duration       `koanf:"timeout"`
	ItemCacheSize int                 `koanf:"item_cache_size"`
	ItemCacheTTL  time.Duration       `koanf:"item_cache_ttl"`
	Breaker       breaker.Config      `koanf:"breaker"`
}

// ScorerConfig 描述一个可被实验参数 model 选中的打分模型。
//   - Type 为 rpc 时调用 Endpoint 上的 HTTP 模型服务
//   - Type 为 lr 时从 Path 加载本地逻辑回归权重
type ScorerConfig struct {
	Type     string `koanf:"type"`
	Endpoint string `koanf:"endpoint"`
	Path     string `koanf:"path"`
}

type ModelConfig struct {
	// Default 是未被实验覆盖时使用的模型名，须出现在 Scorers 中
	Default    string                  `koanf:"default"`
	Scorers    map[string]ScorerConfig `koanf:"scorers"`
	SchemaPath string                  `koanf:"schema_path"`
	Timeout    time.Duration           `koanf:"timeout"`
	Breaker    breaker.Config          `koanf:"breaker"`
}

type RecallConfig struct {
	Timeout       time.Duration `koanf:"timeout"`
	MaxConcurrent int           `koanf:"max_concurrent"`
	Limit         int           `koanf:"limit"`
	SeedItems     int           `koanf:"seed_items"`
	PerItem       int           `koanf:"per_item"`
	Popular       int           `koanf:"popular"`
	TopCategories int           `koanf:"top_categories"`
	PerCategory   int           `koanf:"per_category"`
}

type RerankConfig struct {
	Lambda      float64 `koanf:"lambda"`
	MaxSelected int     `koanf:"max_selected"`
}

// ExperimentConfig: Backend 为 redis 时配置与计数持久化到 Redis，memory 仅用于单机调试。
type ExperimentConfig struct {
	Backend       string        `koanf:"backend"`
	SeedFile      string        `koanf:"seed_file"`
	AssignmentTTL time.Duration `koanf:"assignment_ttl"`
}

type IngestConfig struct {
	Shards            int           `koanf:"shards"`
	Buffer            int           `koanf:"buffer"`
	Retries           int           `koanf:"retries"`
	Backoff           time.Duration `koanf:"backoff"`
	InterestThreshold int           `koanf:"interest_threshold"`
}

type ArchiveConfig struct {
	// DSN 为空时不归档原始行为
	DSN string `koanf:"dsn"`
}

// DefaultSettings 返回默认配置，数值与 core 中的常量一致。
func DefaultSettings() Settings {
	return Settings{
		Server: server.Config{
			Addr:            ":8000",
			RequestTimeout:  2 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Redis: RedisConfig{Addr: "localhost:6379", PoolSize: 100},
		Cache: CacheConfig{Backend: "redis", TTL: core.DefaultCacheTTL},
		Feature: FeatureConfig{
			Provider:      "feast",
			Feast:         feature.DefaultFeastConfig(),
			Timeout:       100 * time.Millisecond,
			ItemCacheSize: 10000,
			ItemCacheTTL:  time.Minute,
			Breaker:       breaker.DefaultConfig("feature"),
		},
		Model: ModelConfig{
			Default: "baseline",
			Scorers: map[string]ScorerConfig{
				"baseline": {Type: "rpc", Endpoint: "http://localhost:8501/v1/models/ranker:predict"},
			},
			Timeout: 100 * time.Millisecond,
			Breaker: breaker.DefaultConfig("scorer"),
		},
		Recall: RecallConfig{
			Timeout:       100 * time.Millisecond,
			Limit:         core.DefaultCandidateLimit,
			SeedItems:     core.DefaultSimilarSeedItems,
			PerItem:       core.DefaultSimilarPerItem,
			Popular:       core.DefaultPopularLimit,
			TopCategories: core.DefaultTopCategories,
			PerCategory:   core.DefaultCategoryLimit,
		},
		Rerank: RerankConfig{
			Lambda:      core.DefaultMMRLambda,
			MaxSelected: core.DefaultMMRMaxSelected,
		},
		Experiment: ExperimentConfig{
			Backend:       "redis",
			AssignmentTTL: core.AssignmentTTL,
		},
		Kafka: ingest.KafkaConfig{
			Brokers:      []string{"localhost:9092"},
			Topic:        ingest.DefaultBehaviorTopic,
			RefreshTopic: ingest.DefaultRefreshTopic,
			Group:        ingest.DefaultConsumerGroup,
		},
		Ingest: IngestConfig{
			Shards:            4,
			Buffer:            64,
			Retries:           3,
			Backoff:           50 * time.Millisecond,
			InterestThreshold: core.InterestThreshold,
		},
		Log: logging.Config{Level: "info", Format: "json"},
	}
}

// Load 按 默认值 -> YAML 文件 -> 环境变量 的顺序叠加配置，path 为空时跳过文件。
func Load(path string) (*Settings, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(DefaultSettings(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	var s Settings
	if err := k.Unmarshal("", &s); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	s.Feature.Breaker.Name = "feature"
	s.Model.Breaker.Name = "scorer"
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// envKey 把 RECSERVE_KAFKA__REFRESH_TOPIC 转成 kafka.refresh_topic。
func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}

// Validate 检查取值范围，错误信息指出具体字段。
func (s *Settings) Validate() error {
	if s.Rerank.Lambda < 0 || s.Rerank.Lambda > 1 {
		return fmt.Errorf("rerank.lambda must be within [0, 1], got %v", s.Rerank.Lambda)
	}
	switch s.Feature.Provider {
	case "feast", "redis", "none":
	default:
		return fmt.Errorf("feature.provider %q is not one of feast, redis, none", s.Feature.Provider)
	}
	switch s.Cache.Backend {
	case "redis", "memory":
	default:
		return fmt.Errorf("cache.backend %q is not one of redis, memory", s.Cache.Backend)
	}
	switch s.Experiment.Backend {
	case "redis", "memory":
	default:
		return fmt.Errorf("experiment.backend %q is not one of redis, memory", s.Experiment.Backend)
	}
	if s.Model.Default != "" {
		if _, ok := s.Model.Scorers[s.Model.Default]; !ok {
			return fmt.Errorf("model.default %q has no entry in model.scorers", s.Model.Default)
		}
	}
	for name, sc := range s.Model.Scorers {
		switch sc.Type {
		case "rpc":
			if sc.Endpoint == "" {
				return fmt.Errorf("model.scorers.%s: endpoint is required", name)
			}
		case "lr":
			if sc.Path == "" {
				return fmt.Errorf("model.scorers.%s: path is required", name)
			}
		default:
			return fmt.Errorf("model.scorers.%s: unknown type %q", name, sc.Type)
		}
	}
	return nil
}

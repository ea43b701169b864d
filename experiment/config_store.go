package experiment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"

	"github.com/rushteam/recserve/core"
)

// ConfigStore 是实验配置的持久化后端。
//
// 设计原则：
//   - 整体读写：配置量小，Save 总是覆盖全部实验，避免多 key 事务
//   - Load 在后端为空时返回空列表而不是错误
type ConfigStore interface {
	Load(ctx context.Context) ([]*Experiment, error)
	Save(ctx context.Context, exps []*Experiment) error
}

// ConfigKey 是 Redis 中保存实验配置的 key。
const ConfigKey = "ab:experiments"

// MemoryConfigStore 是进程内配置存储，用于测试与单机部署。
type MemoryConfigStore struct {
	mu   sync.RWMutex
	exps []*Experiment
}

func NewMemoryConfigStore(seed ...*Experiment) *MemoryConfigStore {
	s := &MemoryConfigStore{}
	for _, e := range seed {
		s.exps = append(s.exps, e.Clone())
	}
	return s
}

func (s *MemoryConfigStore) Load(ctx context.Context) ([]*Experiment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Experiment, len(s.exps))
	for i, e := range s.exps {
		out[i] = e.Clone()
	}
	return out, nil
}

func (s *MemoryConfigStore) Save(ctx context.Context, exps []*Experiment) error {
	cp := make([]*Experiment, len(exps))
	for i, e := range exps {
		cp[i] = e.Clone()
	}
	s.mu.Lock()
	s.exps = cp
	s.mu.Unlock()
	return nil
}

// RedisConfigStore 将全部实验以 JSON 数组保存在单个 key 中，多个服务实例共享。
type RedisConfigStore struct {
	client redis.UniversalClient
	key    string
}

func NewRedisConfigStore(client redis.UniversalClient) *RedisConfigStore {
	return &RedisConfigStore{client: client, key: ConfigKey}
}

func (s *RedisConfigStore) Load(ctx context.Context) ([]*Experiment, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, core.WrapDomainError(core.ModuleExperiment, core.ErrorCodeUnavailable, err, "load experiments")
	}
	var exps []*Experiment
	if err := json.Unmarshal(data, &exps); err != nil {
		return nil, fmt.Errorf("decode experiments: %w", err)
	}
	return exps, nil
}

func (s *RedisConfigStore) Save(ctx context.Context, exps []*Experiment) error {
	data, err := json.Marshal(exps)
	if err != nil {
		return fmt.Errorf("encode experiments: %w", err)
	}
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return core.WrapDomainError(core.ModuleExperiment, core.ErrorCodeUnavailable, err, "save experiments")
	}
	return nil
}

// LoadExperiments 从 YAML 文件读取实验列表：
//
//	experiments:
//	  - id: ranking_model_v2
//	    status: active
//	    variants: {control: 50, treatment: 50}
//	    metrics: [click, purchase]
func LoadExperiments(path string) ([]*Experiment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read experiments %s: %w", path, err)
	}
	return ParseExperiments(data)
}

// ParseExperiments 解析 YAML 实验配置并逐个校验。
func ParseExperiments(data []byte) ([]*Experiment, error) {
	var doc struct {
		Experiments []*Experiment `yaml:"experiments"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse experiments: %w", err)
	}
	for _, e := range doc.Experiments {
		if e.Status == "" {
			e.Status = StatusDraft
		}
		if err := e.Validate(); err != nil {
			return nil, err
		}
	}
	return doc.Experiments, nil
}

// DefaultExperiments 是配置后端为空时写入的初始实验。
func DefaultExperiments() []*Experiment {
	return []*Experiment{
		{
			ID:          "ranking_model_v2",
			Name:        "Ranking model v2",
			Description: "compare the baseline ranking model with the v2 model",
			Status:      StatusActive,
			Variants: VariantList{
				{Name: core.ControlVariant, Weight: 50, Params: map[string]any{"model": "baseline"}},
				{Name: "treatment", Weight: 50, Params: map[string]any{"model": "v2"}},
			},
			Metrics: []string{"click", "add_to_cart", "purchase"},
		},
		{
			ID:          "diversity_strategy",
			Name:        "Diversity strategy",
			Description: "stronger MMR diversification",
			Status:      StatusActive,
			Variants: VariantList{
				{Name: core.ControlVariant, Weight: 50, Params: map[string]any{"lambda": 0.5}},
				{Name: "high_diversity", Weight: 50, Params: map[string]any{"lambda": 0.3}},
			},
			Metrics: []string{"click", "purchase"},
		},
		{
			ID:          "cold_start_strategy",
			Name:        "Cold start strategy",
			Description: "popularity-heavy recall for new users",
			Status:      StatusDraft,
			Variants: VariantList{
				{Name: core.ControlVariant, Weight: 50},
				{Name: "popular_first", Weight: 50},
			},
			Metrics: []string{"click"},
		},
	}
}

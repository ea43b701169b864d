package model

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/rushteam/recserve/core"
	"github.com/rushteam/recserve/pkg/conv"
)

// Scorer 是排序阶段的打分能力：输入按 Schema 排好序的数值向量，输出一个可比较的分数。
// 具体实现可以是本地模型（LR）或远程模型服务（XGBoost/TF Serving 等）。
//
// 设计原则：
//   - 只接受定长数值向量，特征绑定由 Schema 完成，模型不感知特征名
//   - 批量接口，一次请求对全部候选打分
//   - 返回分数数量必须与输入向量数量一致，否则视为整批失败
type Scorer interface {
	Name() string
	Score(ctx context.Context, vectors [][]float64) ([]float64, error)
}

// Schema 是模型输入的特征名顺序，与训练时导出的 feature_names 一致。
type Schema []string

// LoadSchema 从 JSON 或 YAML 文件读取特征名列表。
func LoadSchema(path string) (Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema %s: %w", path, err)
	}
	var names []string
	if err := yaml.Unmarshal(data, &names); err != nil {
		return nil, fmt.Errorf("parse schema %s: %w", path, err)
	}
	if len(names) == 0 {
		return nil, core.InvalidInput(core.ModuleRank, "schema %s is empty", path)
	}
	return Schema(names), nil
}

// DefaultSchema 返回与离线训练一致的默认特征顺序。
func DefaultSchema() Schema {
	return Schema{
		"total_clicks",
		"total_purchases",
		"avg_dwell_time",
		"click_7d_avg",
		"purchase_30d_total",
		"click_count",
		"add_to_cart_count",
		"purchase_count",
		"ctr",
		"purchase_rate",
		"popularity_score",
	}
}

// Vector 合并用户与物品特征（同名以物品为准），按 Schema 顺序生成向量。
// 缺失或非数值特征取 0。
func (s Schema) Vector(user, item core.FeatureSet) []float64 {
	vec := make([]float64, len(s))
	for i, name := range s {
		if v, ok := item.Get(name); ok {
			vec[i], _ = conv.ToFloat64(v)
			continue
		}
		if v, ok := user.Get(name); ok {
			vec[i], _ = conv.ToFloat64(v)
		}
	}
	return vec
}

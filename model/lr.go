package model

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
)

// LRScorer 实现了逻辑回归 (Logistic Regression) 打分。
// 它是推荐系统中点击率预估 (CTR) 最基础也最经典的算法。
//
// 预测原理：
// 1. 线性加权求和: z = Bias + sum(Weight_i * Feature_i)
// 2. Sigmoid 变换: P = 1 / (1 + exp(-z))
//
// 最终输出值 P 代表概率（如点击概率），范围在 (0, 1) 之间。
type LRScorer struct {
	Version string
	Bias    float64   // 偏置项 (Bias / Intercept)
	Weights []float64 // 按 Schema 顺序排列的权重
}

// NewLRScorer 将按特征名给出的权重对齐到 schema，schema 中没有权重的特征取 0。
func NewLRScorer(version string, bias float64, weights map[string]float64, schema Schema) *LRScorer {
	w := make([]float64, len(schema))
	for i, name := range schema {
		w[i] = weights[name]
	}
	return &LRScorer{Version: version, Bias: bias, Weights: w}
}

// LoadLRScorer 从 JSON 文件加载模型：{"version": "...", "bias": 0.1, "weights": {"ctr": 1.2}}。
func LoadLRScorer(path string, schema Schema) (*LRScorer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw struct {
		Version string             `json:"version"`
		Bias    float64            `json:"bias"`
		Weights map[string]float64 `json:"weights"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse lr model %s: %w", path, err)
	}
	if raw.Version == "" {
		raw.Version = "lr"
	}
	return NewLRScorer(raw.Version, raw.Bias, raw.Weights, schema), nil
}

func (m *LRScorer) Name() string { return m.Version }

func (m *LRScorer) Score(_ context.Context, vectors [][]float64) ([]float64, error) {
	out := make([]float64, len(vectors))
	for i, vec := range vectors {
		if len(vec) != len(m.Weights) {
			return nil, fmt.Errorf("lr: vector %d has %d features, want %d", i, len(vec), len(m.Weights))
		}
		z := m.Bias
		for j, v := range vec {
			z += m.Weights[j] * v
		}
		out[i] = 1 / (1 + math.Exp(-z))
	}
	return out, nil
}

package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// RPCScorer 是通过 HTTP 调用外部模型服务的 Scorer 实现。
// 支持 GBDT、XGBoost、TensorFlow Serving、TorchServe 等。
type RPCScorer struct {
	Version  string
	Endpoint string // 例如 "http://localhost:8080/predict"
	Client   *http.Client
}

// NewRPCScorer 创建远程打分器。超时由调用方通过 ctx 控制，timeout 只作为兜底。
func NewRPCScorer(version, endpoint string, timeout time.Duration) *RPCScorer {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &RPCScorer{
		Version:  version,
		Endpoint: endpoint,
		Client:   &http.Client{Timeout: timeout},
	}
}

func (m *RPCScorer) Name() string {
	return m.Version
}

// Score 调用远程模型服务进行批量预测。
// 请求格式（JSON）：
//
//	{"features_list": [[0.15, 0.08, ...], ...]}
//
// 响应格式（JSON）：
//
//	{"scores": [0.85, 0.72, ...]}
func (m *RPCScorer) Score(ctx context.Context, vectors [][]float64) ([]float64, error) {
	if len(vectors) == 0 {
		return []float64{}, nil
	}
	client := m.Client
	if client == nil {
		client = http.DefaultClient
	}

	jsonData, err := json.Marshal(map[string]any{"features_list": vectors})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.Endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rpc call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("rpc error: status=%d, body=%s", resp.StatusCode, string(body))
	}

	var result struct {
		Scores []float64 `json:"scores"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(result.Scores) != len(vectors) {
		return nil, fmt.Errorf("response scores count mismatch: expected %d, got %d", len(vectors), len(result.Scores))
	}
	return result.Scores, nil
}

package feature

import (
	"context"
	"fmt"
	"strings"

	feastsdk "github.com/feast-dev/feast/sdk/go"
	"github.com/feast-dev/feast/sdk/go/protos/feast/types"
)

// FeastClient 是 Feast 在线特征查询接口，feastsdk.GrpcClient 实现了它。
type FeastClient interface {
	GetOnlineFeatures(ctx context.Context, req *feastsdk.OnlineFeaturesRequest) (*feastsdk.OnlineFeaturesResponse, error)
}

// FeastConfig 是 Feast 特征源配置。
type FeastConfig struct {
	Host    string `koanf:"host"`
	Port    int    `koanf:"port"`
	Project string `koanf:"project"`

	// UserFeatures / ItemFeatures 是特征引用，形如 "user_profile_features:total_clicks"
	UserFeatures []string `koanf:"user_features"`
	ItemFeatures []string `koanf:"item_features"`

	UserEntity string `koanf:"user_entity"` // 默认 user_id
	ItemEntity string `koanf:"item_entity"` // 默认 item_id
}

// DefaultFeastConfig 返回与离线特征仓库一致的默认特征列表。
func DefaultFeastConfig() FeastConfig {
	return FeastConfig{
		Port:    6566,
		Project: "user_behavior",
		UserFeatures: []string{
			"user_profile_features:total_clicks",
			"user_profile_features:total_purchases",
			"user_profile_features:avg_dwell_time",
			"user_profile_features:user_segment",
			"user_profile_features:top_categories",
			"user_statistical_features:click_7d_avg",
			"user_statistical_features:purchase_30d_total",
		},
		ItemFeatures: []string{
			"item_statistical_features:total_clicks",
			"item_statistical_features:total_purchases",
			"item_statistical_features:purchase_rate",
			"item_statistical_features:popularity_score",
			"item_statistical_features:category",
		},
		UserEntity: "user_id",
		ItemEntity: "item_id",
	}
}

// FeastProvider 通过 Feast 在线服务获取画像与物品统计特征。
// 结果中的特征名去掉 feature view 前缀（total_clicks 而非 user_profile_features:total_clicks）。
type FeastProvider struct {
	client FeastClient
	cfg    FeastConfig
}

// NewFeastProvider 连接 Feast gRPC 服务。
func NewFeastProvider(cfg FeastConfig) (*FeastProvider, error) {
	def := DefaultFeastConfig()
	if cfg.Port == 0 {
		cfg.Port = def.Port
	}
	client, err := feastsdk.NewGrpcClient(cfg.Host, cfg.Port)
	if err != nil {
		return nil, fmt.Errorf("create feast grpc client %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	return NewFeastProviderWithClient(client, cfg), nil
}

// NewFeastProviderWithClient 基于已有客户端创建，便于替换实现。
func NewFeastProviderWithClient(client FeastClient, cfg FeastConfig) *FeastProvider {
	def := DefaultFeastConfig()
	if cfg.Project == "" {
		cfg.Project = def.Project
	}
	if len(cfg.UserFeatures) == 0 {
		cfg.UserFeatures = def.UserFeatures
	}
	if len(cfg.ItemFeatures) == 0 {
		cfg.ItemFeatures = def.ItemFeatures
	}
	if cfg.UserEntity == "" {
		cfg.UserEntity = def.UserEntity
	}
	if cfg.ItemEntity == "" {
		cfg.ItemEntity = def.ItemEntity
	}
	return &FeastProvider{client: client, cfg: cfg}
}

func (p *FeastProvider) Name() string { return "feast" }

func (p *FeastProvider) UserFeatures(ctx context.Context, userID string) (map[string]any, error) {
	rows, err := p.fetch(ctx, p.cfg.UserFeatures, p.cfg.UserEntity, []string{userID})
	if err != nil {
		return nil, err
	}
	return rows[0], nil
}

func (p *FeastProvider) ItemFeatures(ctx context.Context, itemIDs []string) (map[string]map[string]any, error) {
	if len(itemIDs) == 0 {
		return map[string]map[string]any{}, nil
	}
	rows, err := p.fetch(ctx, p.cfg.ItemFeatures, p.cfg.ItemEntity, itemIDs)
	if err != nil {
		return nil, err
	}
	out := make(map[string]map[string]any, len(itemIDs))
	for i, id := range itemIDs {
		if len(rows[i]) > 0 {
			out[id] = rows[i]
		}
	}
	return out, nil
}

func (p *FeastProvider) fetch(ctx context.Context, features []string, entity string, ids []string) ([]map[string]any, error) {
	entities := make([]feastsdk.Row, len(ids))
	for i, id := range ids {
		entities[i] = feastsdk.Row{entity: feastsdk.StrVal(id)}
	}
	resp, err := p.client.GetOnlineFeatures(ctx, &feastsdk.OnlineFeaturesRequest{
		Features: features,
		Entities: entities,
		Project:  p.cfg.Project,
	})
	if err != nil {
		return nil, fmt.Errorf("feast get online features: %w", err)
	}
	rows := resp.Rows()
	if len(rows) != len(ids) {
		return nil, fmt.Errorf("feast response row count mismatch: expected %d, got %d", len(ids), len(rows))
	}
	return ConvertRows(rows, features), nil
}

// ConvertRows 将 Feast 返回行转换为特征映射，缺失或空值的特征被跳过。
func ConvertRows(rows []feastsdk.Row, features []string) []map[string]any {
	out := make([]map[string]any, len(rows))
	for i, row := range rows {
		values := make(map[string]any, len(features))
		for _, ref := range features {
			val, ok := row[ref]
			if !ok {
				continue
			}
			if v := fromFeastValue(val); v != nil {
				values[featureName(ref)] = v
			}
		}
		out[i] = values
	}
	return out
}

// featureName 去掉 feature view 前缀。
func featureName(ref string) string {
	if _, name, ok := strings.Cut(ref, ":"); ok {
		return name
	}
	return ref
}

func fromFeastValue(v *types.Value) any {
	if v == nil {
		return nil
	}
	switch val := v.GetVal().(type) {
	case *types.Value_StringVal:
		return val.StringVal
	case *types.Value_Int64Val:
		return float64(val.Int64Val)
	case *types.Value_Int32Val:
		return float64(val.Int32Val)
	case *types.Value_DoubleVal:
		return val.DoubleVal
	case *types.Value_FloatVal:
		return float64(val.FloatVal)
	case *types.Value_BoolVal:
		if val.BoolVal {
			return 1.0
		}
		return 0.0
	case *types.Value_BytesVal:
		return string(val.BytesVal)
	case *types.Value_StringListVal:
		if val.StringListVal == nil {
			return []string{}
		}
		return append([]string(nil), val.StringListVal.Val...)
	case *types.Value_DoubleListVal:
		if val.DoubleListVal == nil {
			return []float64{}
		}
		return append([]float64(nil), val.DoubleListVal.Val...)
	default:
		return nil
	}
}

var _ Provider = (*FeastProvider)(nil)

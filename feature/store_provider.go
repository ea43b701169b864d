package feature

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/rushteam/recserve/core"
	"github.com/rushteam/recserve/store"
)

// StoreProvider 是基于 Hash 存储的特征提供者，采用适配器模式。
// 离线任务把特征写入 feature:user:{id} / feature:item:{id} 两类 Hash，
// 值统一为字符串：数字按十进制解析，JSON 数组解析为字符串列表，其余保持字符串。
type StoreProvider struct {
	store core.HashStore
}

// NewStoreProvider 创建基于 Hash 存储的特征提供者
func NewStoreProvider(s core.HashStore) *StoreProvider {
	return &StoreProvider{store: s}
}

func (p *StoreProvider) Name() string { return "store" }

func (p *StoreProvider) UserFeatures(ctx context.Context, userID string) (map[string]any, error) {
	raw, err := p.store.HGetAll(ctx, store.UserFeatureKey(userID))
	if err != nil {
		if core.IsStoreNotFound(err) {
			return map[string]any{}, nil
		}
		return nil, fmt.Errorf("feature store: user %s: %w", userID, err)
	}
	return DecodeHash(raw), nil
}

func (p *StoreProvider) ItemFeatures(ctx context.Context, itemIDs []string) (map[string]map[string]any, error) {
	out := make(map[string]map[string]any, len(itemIDs))
	for _, id := range itemIDs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		raw, err := p.store.HGetAll(ctx, store.ItemFeatureKey(id))
		if err != nil {
			if core.IsStoreNotFound(err) {
				continue
			}
			return nil, fmt.Errorf("feature store: item %s: %w", id, err)
		}
		out[id] = DecodeHash(raw)
	}
	return out, nil
}

// DecodeHash 将 Hash 字符串值还原为特征值。
func DecodeHash(raw map[string]string) map[string]any {
	out := make(map[string]any, len(raw))
	for k, v := range raw {
		out[k] = decodeValue(v)
	}
	return out
}

func decodeValue(v string) any {
	s := strings.TrimSpace(v)
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if strings.HasPrefix(s, "[") {
		var list []string
		if err := json.Unmarshal([]byte(s), &list); err == nil {
			return list
		}
	}
	return v
}

var _ Provider = (*StoreProvider)(nil)

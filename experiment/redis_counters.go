package experiment

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rushteam/recserve/core"
)

// RedisCounterStore 基于 Redis Hash 的计数实现，key 布局见 keys.go。
type RedisCounterStore struct {
	client redis.UniversalClient
}

func NewRedisCounterStore(client redis.UniversalClient) *RedisCounterStore {
	return &RedisCounterStore{client: client}
}

func unavailable(err error, op string) error {
	return core.WrapDomainError(core.ModuleExperiment, core.ErrorCodeUnavailable, err, "%s", op)
}

func (s *RedisCounterStore) IncrExposure(ctx context.Context, experimentID, variant string) error {
	if err := s.client.HIncrBy(ctx, ExposureKey(experimentID, variant), "count", 1).Err(); err != nil {
		return unavailable(err, "incr exposure")
	}
	return nil
}

func (s *RedisCounterStore) Exposures(ctx context.Context, experimentID, variant string) (int64, error) {
	n, err := s.client.HGet(ctx, ExposureKey(experimentID, variant), "count").Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, unavailable(err, "read exposures")
	}
	return n, nil
}

func (s *RedisCounterStore) SaveAssignment(ctx context.Context, userID, experimentID string, a Assignment, ttl time.Duration) error {
	data, err := json.Marshal(a)
	if err != nil {
		return err
	}
	key := AssignmentKey(userID)
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, experimentID, data)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return unavailable(err, "save assignment")
	}
	return nil
}

func (s *RedisCounterStore) GetAssignment(ctx context.Context, userID, experimentID string) (Assignment, bool, error) {
	data, err := s.client.HGet(ctx, AssignmentKey(userID), experimentID).Bytes()
	if errors.Is(err, redis.Nil) {
		return Assignment{}, false, nil
	}
	if err != nil {
		return Assignment{}, false, unavailable(err, "read assignment")
	}
	var a Assignment
	if err := json.Unmarshal(data, &a); err != nil || a.Variant == "" {
		// 兼容只保存分组名的旧格式
		return Assignment{Variant: string(data)}, true, nil
	}
	return a, true, nil
}

func (s *RedisCounterStore) IncrConversion(ctx context.Context, experimentID, variant, metric string, value float64) error {
	key := ConversionKey(experimentID, variant, metric)
	pipe := s.client.Pipeline()
	pipe.HIncrByFloat(ctx, key, "sum", value)
	pipe.HIncrBy(ctx, key, "count", 1)
	if _, err := pipe.Exec(ctx); err != nil {
		return unavailable(err, "incr conversion")
	}
	return nil
}

func (s *RedisCounterStore) Conversions(ctx context.Context, experimentID, variant, metric string) (float64, int64, error) {
	vals, err := s.client.HGetAll(ctx, ConversionKey(experimentID, variant, metric)).Result()
	if err != nil {
		return 0, 0, unavailable(err, "read conversions")
	}
	sum, _ := strconv.ParseFloat(vals["sum"], 64)
	count, _ := strconv.ParseInt(vals["count"], 10, 64)
	return sum, count, nil
}

func (s *RedisCounterStore) RecordUserConversion(ctx context.Context, userID, experimentID, variant, metric string, value float64) error {
	key := UserConversionKey(userID)
	pipe := s.client.Pipeline()
	pipe.HIncrByFloat(ctx, key, userConversionField(experimentID, variant, metric), value)
	pipe.Expire(ctx, key, core.AssignmentTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return unavailable(err, "record user conversion")
	}
	return nil
}

func (s *RedisCounterStore) Reset(ctx context.Context, exp *Experiment) error {
	metricNames := resetMetrics(exp)
	keys := make([]string, 0, len(exp.Variants)*(1+len(metricNames)))
	for _, v := range exp.Variants {
		keys = append(keys, ExposureKey(exp.ID, v.Name))
		for _, m := range metricNames {
			keys = append(keys, ConversionKey(exp.ID, v.Name, m))
		}
	}
	if len(keys) == 0 {
		return nil
	}
	// 逐个删除，避免集群模式下跨 slot 的多 key 命令
	pipe := s.client.Pipeline()
	for _, k := range keys {
		pipe.Del(ctx, k)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return unavailable(err, "reset counters")
	}
	return nil
}

var (
	_ CounterStore = (*RedisCounterStore)(nil)
	_ CounterStore = (*MemoryCounterStore)(nil)
	_ ConfigStore  = (*RedisConfigStore)(nil)
	_ ConfigStore  = (*MemoryConfigStore)(nil)
)

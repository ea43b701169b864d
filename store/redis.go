package store

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rushteam/recserve/core"
)

// RedisOptions 是 RedisStore 的连接参数。
type RedisOptions struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// NewRedisClient 按生产默认值创建客户端并做一次 Ping。
func NewRedisClient(ctx context.Context, opts RedisOptions) (*redis.Client, error) {
	if opts.PoolSize <= 0 {
		opts.PoolSize = 100
	}
	if opts.MinIdleConns <= 0 {
		opts.MinIdleConns = 10
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 5 * time.Second
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 3 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 3 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     opts.PoolSize,
		MinIdleConns: opts.MinIdleConns,
		DialTimeout:  opts.DialTimeout,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, core.WrapDomainError(core.ModuleStore, core.ErrorCodeUnavailable, err, "store: redis ping %s", opts.Addr)
	}
	return client, nil
}

// RedisStore 是 Redis 实现的实时状态存储与召回数据存储。
// 所有写入都是单 key 原子命令，pipeline 只用于减少往返，不依赖其事务性。
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore 基于已有客户端创建，客户端由调用方管理。
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func (r *RedisStore) Name() string { return "redis" }

// Client 返回底层客户端，供缓存、实验计数等共享连接池。
func (r *RedisStore) Client() redis.UniversalClient { return r.client }

func (r *RedisStore) PushRecentItem(ctx context.Context, userID, itemID string) error {
	key := RecentItemsKey(userID)
	pipe := r.client.Pipeline()
	pipe.LPush(ctx, key, itemID)
	pipe.LTrim(ctx, key, 0, core.RecentItemsCapacity-1)
	pipe.Expire(ctx, key, core.ActionBucketTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisStore) RecentItems(ctx context.Context, userID string, n int) ([]string, error) {
	if n <= 0 || n > core.RecentItemsCapacity {
		n = core.RecentItemsCapacity
	}
	return r.client.LRange(ctx, RecentItemsKey(userID), 0, int64(n-1)).Result()
}

// IncrActionCount 递增计数；TTL 为 -1（首次写入桶，尚无过期）时设置 24h 过期，
// 之后的写入不再刷新过期时间，桶在首次写入 24h 后整体失效。
func (r *RedisStore) IncrActionCount(ctx context.Context, userID, hourBucket string, action core.Action) (int64, error) {
	key := ActionsKey(userID, hourBucket)
	pipe := r.client.Pipeline()
	incr := pipe.HIncrBy(ctx, key, string(action), 1)
	ttl := pipe.TTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	if ttl.Val() < 0 {
		if err := r.client.Expire(ctx, key, core.ActionBucketTTL).Err(); err != nil {
			return incr.Val(), err
		}
	}
	return incr.Val(), nil
}

func (r *RedisStore) ActionCounts(ctx context.Context, userID, hourBucket string) (map[core.Action]int64, error) {
	vals, err := r.client.HGetAll(ctx, ActionsKey(userID, hourBucket)).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[core.Action]int64, len(vals))
	for k, v := range vals {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		out[core.Action(k)] = n
	}
	return out, nil
}

func (r *RedisStore) AppendSequenceEvent(ctx context.Context, userID string, ts int64, itemID string) error {
	key := SequenceKey(userID)
	pipe := r.client.Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(ts), Member: sequenceMember(ts, itemID)})
	pipe.ZRemRangeByRank(ctx, key, 0, -(core.SequenceCapacity + 1))
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisStore) Sequence(ctx context.Context, userID string) ([]core.SequenceEntry, error) {
	members, err := r.client.ZRangeWithScores(ctx, SequenceKey(userID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]core.SequenceEntry, 0, len(members))
	for _, z := range members {
		m, _ := z.Member.(string)
		_, item, ok := strings.Cut(m, ":")
		if !ok {
			continue
		}
		out = append(out, core.SequenceEntry{Timestamp: int64(z.Score), ItemID: item})
	}
	return out, nil
}

func (r *RedisStore) SimilarItems(ctx context.Context, itemID string, n int) ([]string, error) {
	return r.zTop(ctx, SimilarKey(itemID), n)
}

func (r *RedisStore) PopularItems(ctx context.Context, pageType string, n int) ([]string, error) {
	return r.zTop(ctx, PopularKey(pageType), n)
}

func (r *RedisStore) CategoryItems(ctx context.Context, category string, n int) ([]string, error) {
	return r.zTop(ctx, CategoryKey(category), n)
}

func (r *RedisStore) zTop(ctx context.Context, key string, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	return r.client.ZRevRange(ctx, key, 0, int64(n-1)).Result()
}

// HGetAll 读取整个 Hash（用于离线特征）；key 不存在返回 ErrStoreNotFound。
func (r *RedisStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	vals, err := r.client.HGetAll(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, core.ErrStoreNotFound
		}
		return nil, err
	}
	if len(vals) == 0 {
		return nil, core.ErrStoreNotFound
	}
	return vals, nil
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

// 确保 RedisStore 实现了领域接口
var (
	_ core.StateStore      = (*RedisStore)(nil)
	_ core.RecallDataStore = (*RedisStore)(nil)
)

package core

import (
	"context"
	"time"
)

// StateStore 是实时行为状态存储的领域接口。
//
// 设计原则：
//   - 定义在领域层（core），由基础设施层（store）实现
//   - 所有写操作均为单 key 原子操作，不依赖跨 key 事务
//   - 同一用户的并发调用必须安全
//
// 实现：
//   - store.MemoryStore 实现此接口（测试/开发）
//   - store.RedisStore 实现此接口（LPUSH/LTRIM、HINCRBY+EXPIRE、ZADD/ZREMRANGEBYRANK）
type StateStore interface {
	// Name 返回存储后端名称（用于日志/监控）
	Name() string

	// PushRecentItem 头插最近交互物品并截断到容量 RecentItemsCapacity
	PushRecentItem(ctx context.Context, userID, itemID string) error

	// RecentItems 返回最近交互物品，最新在前
	RecentItems(ctx context.Context, userID string, n int) ([]string, error)

	// IncrActionCount 原子递增 (hourBucket, action) 计数；桶首次写入时设置 24h 过期
	IncrActionCount(ctx context.Context, userID, hourBucket string, action Action) (int64, error)

	// ActionCounts 返回某小时桶内各行为的计数
	ActionCounts(ctx context.Context, userID, hourBucket string) (map[Action]int64, error)

	// AppendSequenceEvent 写入有序行为序列并只保留最近 SequenceCapacity 条
	AppendSequenceEvent(ctx context.Context, userID string, ts int64, itemID string) error

	// Sequence 返回行为序列，按时间升序
	Sequence(ctx context.Context, userID string) ([]SequenceEntry, error)

	// Ping 检查后端可用性
	Ping(ctx context.Context) error

	// Close 关闭连接/释放资源
	Close() error
}

// HashStore 是 Hash 读取能力，用于离线特征查询。
// key 不存在时返回 ErrStoreNotFound。
type HashStore interface {
	HGetAll(ctx context.Context, key string) (map[string]string, error)
}

// SequenceEntry 是有序行为序列中的一条记录。
type SequenceEntry struct {
	Timestamp int64
	ItemID    string
}

// HourBucket 返回 t 所在小时桶（UTC，yyyyMMddHH）。
func HourBucket(t time.Time) string {
	return t.UTC().Format("2006010215")
}

// EventTime 返回事件时间；时间戳为 0 时取 now。
func EventTime(ts int64, now time.Time) time.Time {
	if ts <= 0 {
		return now
	}
	return time.Unix(ts, 0)
}

// Store 错误定义（使用统一的 DomainError）
var (
	// ErrStoreNotFound 表示 key 不存在
	ErrStoreNotFound = NewDomainError(ModuleStore, ErrorCodeNotFound, "store: key not found")

	// ErrStoreNotSupported 表示操作不支持
	ErrStoreNotSupported = NewDomainError(ModuleStore, ErrorCodeNotSupported, "store: operation not supported")
)

// IsStoreNotFound 检查错误是否为 key 不存在（使用统一的错误检查）
func IsStoreNotFound(err error) bool {
	domainErr := GetDomainError(err)
	return domainErr != nil && domainErr.Module == ModuleStore && domainErr.Code == ErrorCodeNotFound
}

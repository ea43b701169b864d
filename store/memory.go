package store

import (
	"context"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rushteam/recserve/core"
)

// MemoryStore 是内存实现的状态存储，用于测试/开发/原型。
// 语义与 RedisStore 对齐：列表头插截断、计数桶首次写入设置过期、有序集合按分数截断。
// 进程重启后数据丢失。
type MemoryStore struct {
	mu     sync.RWMutex
	lists  map[string][]string
	hashes map[string]map[string]string
	zsets  map[string]map[string]float64 // zset key -> member -> score
	expiry map[string]time.Time
	now    func() time.Time
	clean  *time.Ticker
	done   chan struct{}
	once   sync.Once
}

func NewMemoryStore() *MemoryStore {
	ms := &MemoryStore{
		lists:  make(map[string][]string),
		hashes: make(map[string]map[string]string),
		zsets:  make(map[string]map[string]float64),
		expiry: make(map[string]time.Time),
		now:    time.Now,
		clean:  time.NewTicker(10 * time.Second),
		done:   make(chan struct{}),
	}
	go ms.cleanup()
	return ms
}

// WithClock 替换时钟，用于测试过期逻辑。
func (m *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
	return m
}

func (m *MemoryStore) Name() string { return "memory" }

func (m *MemoryStore) PushRecentItem(ctx context.Context, userID, itemID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := RecentItemsKey(userID)
	m.expireLocked(key)
	list := append([]string{itemID}, m.lists[key]...)
	if len(list) > core.RecentItemsCapacity {
		list = list[:core.RecentItemsCapacity]
	}
	m.lists[key] = list
	m.expiry[key] = m.now().Add(core.ActionBucketTTL)
	return nil
}

func (m *MemoryStore) RecentItems(ctx context.Context, userID string, n int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := RecentItemsKey(userID)
	m.expireLocked(key)
	list := m.lists[key]
	if n <= 0 || n > len(list) {
		n = len(list)
	}
	return slices.Clone(list[:n]), nil
}

func (m *MemoryStore) IncrActionCount(ctx context.Context, userID, hourBucket string, action core.Action) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := ActionsKey(userID, hourBucket)
	m.expireLocked(key)
	h, ok := m.hashes[key]
	if !ok {
		h = make(map[string]string)
		m.hashes[key] = h
	}
	n, _ := strconv.ParseInt(h[string(action)], 10, 64)
	n++
	h[string(action)] = strconv.FormatInt(n, 10)
	if _, ok := m.expiry[key]; !ok {
		m.expiry[key] = m.now().Add(core.ActionBucketTTL)
	}
	return n, nil
}

func (m *MemoryStore) ActionCounts(ctx context.Context, userID, hourBucket string) (map[core.Action]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := ActionsKey(userID, hourBucket)
	m.expireLocked(key)
	out := make(map[core.Action]int64, len(m.hashes[key]))
	for k, v := range m.hashes[key] {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		out[core.Action(k)] = n
	}
	return out, nil
}

func (m *MemoryStore) AppendSequenceEvent(ctx context.Context, userID string, ts int64, itemID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := SequenceKey(userID)
	m.zaddLocked(key, float64(ts), sequenceMember(ts, itemID))
	pairs := sortedPairs(m.zsets[key], false)
	for len(pairs) > core.SequenceCapacity {
		delete(m.zsets[key], pairs[0].member)
		pairs = pairs[1:]
	}
	return nil
}

func (m *MemoryStore) Sequence(ctx context.Context, userID string) ([]core.SequenceEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	pairs := sortedPairs(m.zsets[SequenceKey(userID)], false)
	out := make([]core.SequenceEntry, 0, len(pairs))
	for _, p := range pairs {
		if _, item, ok := strings.Cut(p.member, ":"); ok {
			out = append(out, core.SequenceEntry{Timestamp: int64(p.score), ItemID: item})
		}
	}
	return out, nil
}

func (m *MemoryStore) SimilarItems(ctx context.Context, itemID string, n int) ([]string, error) {
	return m.ZRevRange(ctx, SimilarKey(itemID), n)
}

func (m *MemoryStore) PopularItems(ctx context.Context, pageType string, n int) ([]string, error) {
	return m.ZRevRange(ctx, PopularKey(pageType), n)
}

func (m *MemoryStore) CategoryItems(ctx context.Context, category string, n int) ([]string, error) {
	return m.ZRevRange(ctx, CategoryKey(category), n)
}

// ZAdd 向有序集合添加成员（用于写入相似列表、热门榜等离线数据）
func (m *MemoryStore) ZAdd(ctx context.Context, key string, score float64, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.zaddLocked(key, score, member)
	return nil
}

// ZRevRange 按分数降序返回前 n 个成员；同分按成员名升序，保证结果稳定。
func (m *MemoryStore) ZRevRange(ctx context.Context, key string, n int) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if n <= 0 {
		return nil, nil
	}
	pairs := sortedPairs(m.zsets[key], true)
	if n > len(pairs) {
		n = len(pairs)
	}
	result := make([]string, 0, n)
	for _, p := range pairs[:n] {
		result = append(result, p.member)
	}
	return result, nil
}

// HSet 写入 Hash 字段（用于写入离线特征）
func (m *MemoryStore) HSet(ctx context.Context, key string, values map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.hashes[key]
	if !ok {
		h = make(map[string]string, len(values))
		m.hashes[key] = h
	}
	for k, v := range values {
		h[k] = v
	}
	return nil
}

func (m *MemoryStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.expireLocked(key)
	h, ok := m.hashes[key]
	if !ok || len(h) == 0 {
		return nil, core.ErrStoreNotFound
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out, nil
}

// TTL 返回 key 的剩余过期时间；无过期返回 -1。
func (m *MemoryStore) TTL(key string) time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	exp, ok := m.expiry[key]
	if !ok {
		return -1
	}
	return exp.Sub(m.now())
}

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

func (m *MemoryStore) Close() error {
	m.once.Do(func() {
		m.clean.Stop()
		close(m.done)
	})
	return nil
}

func (m *MemoryStore) cleanup() {
	for {
		select {
		case <-m.done:
			return
		case <-m.clean.C:
			m.mu.Lock()
			for k := range m.expiry {
				m.expireLocked(k)
			}
			m.mu.Unlock()
		}
	}
}

// expireLocked 惰性删除已过期 key，调用方需持有写锁。
func (m *MemoryStore) expireLocked(key string) {
	exp, ok := m.expiry[key]
	if !ok || m.now().Before(exp) {
		return
	}
	delete(m.lists, key)
	delete(m.hashes, key)
	delete(m.zsets, key)
	delete(m.expiry, key)
}

func (m *MemoryStore) zaddLocked(key string, score float64, member string) {
	if m.zsets[key] == nil {
		m.zsets[key] = make(map[string]float64)
	}
	m.zsets[key][member] = score
}

type pair struct {
	member string
	score  float64
}

func sortedPairs(zset map[string]float64, desc bool) []pair {
	pairs := make([]pair, 0, len(zset))
	for m, s := range zset {
		pairs = append(pairs, pair{member: m, score: s})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].score != pairs[j].score {
			if desc {
				return pairs[i].score > pairs[j].score
			}
			return pairs[i].score < pairs[j].score
		}
		return pairs[i].member < pairs[j].member
	})
	return pairs
}

var (
	_ core.StateStore      = (*MemoryStore)(nil)
	_ core.RecallDataStore = (*MemoryStore)(nil)
	_ core.HashStore       = (*MemoryStore)(nil)
	_ core.HashStore       = (*RedisStore)(nil)
)

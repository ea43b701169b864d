package experiment

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/rushteam/recserve/core"
)

// Assignment 是曝光时持久化的分组结果，转化归因以它为准。
type Assignment struct {
	Variant   string `json:"variant"`
	RequestID string `json:"request_id,omitempty"`
}

// CounterStore 是实验计数的持久化接口。
//
// 设计原则：
//   - 每个写操作只触及一个 key，依赖单 key 原子自增，不需要事务
//   - 计数单调递增，只有 Reset 会清零
//   - 读接口缺失 key 时返回 0，不返回错误
type CounterStore interface {
	IncrExposure(ctx context.Context, experimentID, variant string) error
	Exposures(ctx context.Context, experimentID, variant string) (int64, error)

	SaveAssignment(ctx context.Context, userID, experimentID string, a Assignment, ttl time.Duration) error
	GetAssignment(ctx context.Context, userID, experimentID string) (Assignment, bool, error)

	IncrConversion(ctx context.Context, experimentID, variant, metric string, value float64) error
	Conversions(ctx context.Context, experimentID, variant, metric string) (sum float64, count int64, err error)

	// RecordUserConversion 累加用户维度的转化，用于审计
	RecordUserConversion(ctx context.Context, userID, experimentID, variant, metric string, value float64) error

	Reset(ctx context.Context, exp *Experiment) error
}

// resetMetrics 返回 Reset 需要清理的指标：声明的指标加上行为转化使用的行为名。
func resetMetrics(exp *Experiment) []string {
	out := slices.Clone(exp.Metrics)
	for _, a := range core.CountedActions {
		if !slices.Contains(out, string(a)) {
			out = append(out, string(a))
		}
	}
	return out
}

type conversion struct {
	sum   float64
	count int64
}

type assignmentEntry struct {
	a         Assignment
	expiresAt time.Time
}

// MemoryCounterStore 是进程内计数实现，用于测试与单机部署。
type MemoryCounterStore struct {
	mu          sync.Mutex
	exposures   map[string]int64
	conversions map[string]conversion
	assignments map[string]assignmentEntry
	userConv    map[string]float64
	now         func() time.Time
}

func NewMemoryCounterStore() *MemoryCounterStore {
	return &MemoryCounterStore{
		exposures:   make(map[string]int64),
		conversions: make(map[string]conversion),
		assignments: make(map[string]assignmentEntry),
		userConv:    make(map[string]float64),
		now:         time.Now,
	}
}

// WithClock 替换时钟，用于测试分组记录过期。
func (s *MemoryCounterStore) WithClock(now func() time.Time) *MemoryCounterStore {
	s.now = now
	return s
}

func (s *MemoryCounterStore) IncrExposure(ctx context.Context, experimentID, variant string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exposures[ExposureKey(experimentID, variant)]++
	return nil
}

func (s *MemoryCounterStore) Exposures(ctx context.Context, experimentID, variant string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exposures[ExposureKey(experimentID, variant)], nil
}

func (s *MemoryCounterStore) SaveAssignment(ctx context.Context, userID, experimentID string, a Assignment, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assignments[AssignmentKey(userID)+"|"+experimentID] = assignmentEntry{a: a, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *MemoryCounterStore) GetAssignment(ctx context.Context, userID, experimentID string) (Assignment, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := AssignmentKey(userID) + "|" + experimentID
	e, ok := s.assignments[key]
	if !ok {
		return Assignment{}, false, nil
	}
	if !s.now().Before(e.expiresAt) {
		delete(s.assignments, key)
		return Assignment{}, false, nil
	}
	return e.a, true, nil
}

func (s *MemoryCounterStore) IncrConversion(ctx context.Context, experimentID, variant, metric string, value float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := ConversionKey(experimentID, variant, metric)
	c := s.conversions[key]
	c.sum += value
	c.count++
	s.conversions[key] = c
	return nil
}

func (s *MemoryCounterStore) Conversions(ctx context.Context, experimentID, variant, metric string) (float64, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.conversions[ConversionKey(experimentID, variant, metric)]
	return c.sum, c.count, nil
}

func (s *MemoryCounterStore) RecordUserConversion(ctx context.Context, userID, experimentID, variant, metric string, value float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userConv[UserConversionKey(userID)+"|"+userConversionField(experimentID, variant, metric)] += value
	return nil
}

func (s *MemoryCounterStore) Reset(ctx context.Context, exp *Experiment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range exp.Variants {
		delete(s.exposures, ExposureKey(exp.ID, v.Name))
		for _, m := range resetMetrics(exp) {
			delete(s.conversions, ConversionKey(exp.ID, v.Name, m))
		}
	}
	return nil
}

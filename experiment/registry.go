package experiment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rushteam/recserve/core"
	"github.com/rushteam/recserve/pkg/logging"
)

// Registry 持有实验配置的内存快照，读路径无 I/O。
// 修改操作先写后端再替换快照；多实例部署时通过 Reload 同步其他实例的修改。
type Registry struct {
	store ConfigStore
	log   zerolog.Logger
	now   func() time.Time

	mu   sync.RWMutex
	exps map[string]*Experiment
	// order 记录实验的创建顺序，Save 时保持稳定
	order []string
	// writeMu 串行化修改操作，保证“读快照-写后端-换快照”不交错
	writeMu sync.Mutex
}

// NewRegistry 创建 Registry 并从后端加载；后端为空时写入 seed。
func NewRegistry(ctx context.Context, store ConfigStore, log zerolog.Logger, seed ...*Experiment) (*Registry, error) {
	r := &Registry{
		store: store,
		log:   logging.Component(log, "experiment"),
		now:   time.Now,
		exps:  make(map[string]*Experiment),
	}
	exps, err := store.Load(ctx)
	if err != nil {
		return nil, err
	}
	if len(exps) == 0 && len(seed) > 0 {
		for _, e := range seed {
			if err := e.Validate(); err != nil {
				return nil, err
			}
		}
		if err := store.Save(ctx, seed); err != nil {
			return nil, err
		}
		exps = seed
		r.log.Info().Int("count", len(seed)).Msg("seeded experiments")
	}
	r.replace(exps)
	return r, nil
}

// Reload 从后端重新加载全部配置。
func (r *Registry) Reload(ctx context.Context) error {
	exps, err := r.store.Load(ctx)
	if err != nil {
		return err
	}
	r.replace(exps)
	return nil
}

func (r *Registry) replace(exps []*Experiment) {
	m := make(map[string]*Experiment, len(exps))
	order := make([]string, 0, len(exps))
	for _, e := range exps {
		if e == nil || e.ID == "" {
			continue
		}
		if _, dup := m[e.ID]; !dup {
			order = append(order, e.ID)
		}
		m[e.ID] = e.Clone()
	}
	r.mu.Lock()
	r.exps, r.order = m, order
	r.mu.Unlock()
}

// Get 返回实验副本。
func (r *Registry) Get(id string) (*Experiment, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.exps[id]
	if !ok {
		return nil, false
	}
	return e.Clone(), true
}

// lookup 返回内部快照，只读使用。
func (r *Registry) lookup(id string) (*Experiment, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.exps[id]
	return e, ok
}

// List 按创建顺序返回全部实验。
func (r *Registry) List() []*Experiment {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Experiment, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.exps[id].Clone())
	}
	return out
}

// Active 返回处于 active 状态的实验 id，按字典序。
func (r *Registry) Active() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []string
	for id, e := range r.exps {
		if e.Status == StatusActive {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Create 新建实验。状态为空时为 draft，不允许直接创建 completed 实验。
func (r *Registry) Create(ctx context.Context, exp *Experiment) (*Experiment, error) {
	e := exp.Clone()
	if e.Status == "" {
		e.Status = StatusDraft
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	if e.Status == StatusCompleted {
		return nil, core.NewDomainError(core.ModuleExperiment, core.ErrorCodeInvalidTransition, "cannot create a completed experiment")
	}
	if e.Status == StatusActive && e.StartDate == nil {
		now := r.now().UTC()
		e.StartDate = &now
	}

	err := r.mutate(ctx, func(exps map[string]*Experiment, order []string) ([]string, error) {
		if _, ok := exps[e.ID]; ok {
			return nil, core.InvalidInput(core.ModuleExperiment, "experiment %s already exists", e.ID)
		}
		exps[e.ID] = e
		return append(order, e.ID), nil
	})
	if err != nil {
		return nil, err
	}
	r.log.Info().Str("experiment_id", e.ID).Str("status", string(e.Status)).Msg("experiment created")
	return e.Clone(), nil
}

// Start 将 draft 实验置为 active。
func (r *Registry) Start(ctx context.Context, id string) (*Experiment, error) {
	return r.transition(ctx, id, StatusActive)
}

// Stop 将 active 实验置为 completed。
func (r *Registry) Stop(ctx context.Context, id string) (*Experiment, error) {
	return r.transition(ctx, id, StatusCompleted)
}

func (r *Registry) transition(ctx context.Context, id string, to Status) (*Experiment, error) {
	var updated *Experiment
	err := r.mutate(ctx, func(exps map[string]*Experiment, order []string) ([]string, error) {
		cur, ok := exps[id]
		if !ok {
			return nil, NotFound(id)
		}
		if !cur.Status.CanTransition(to) {
			return nil, core.NewDomainError(core.ModuleExperiment, core.ErrorCodeInvalidTransition,
				"experiment "+id+": cannot transition from "+string(cur.Status)+" to "+string(to))
		}
		next := cur.Clone()
		next.Status = to
		now := r.now().UTC()
		switch to {
		case StatusActive:
			next.StartDate = &now
		case StatusCompleted:
			next.EndDate = &now
		}
		exps[id] = next
		updated = next
		return order, nil
	})
	if err != nil {
		return nil, err
	}
	r.log.Info().Str("experiment_id", id).Str("status", string(to)).Msg("experiment transitioned")
	return updated.Clone(), nil
}

// mutate 在快照副本上执行 fn，写入后端成功后替换快照。
func (r *Registry) mutate(ctx context.Context, fn func(map[string]*Experiment, []string) ([]string, error)) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	r.mu.RLock()
	exps := make(map[string]*Experiment, len(r.exps))
	for k, v := range r.exps {
		exps[k] = v
	}
	order := append([]string(nil), r.order...)
	r.mu.RUnlock()

	order, err := fn(exps, order)
	if err != nil {
		return err
	}
	list := make([]*Experiment, 0, len(order))
	for _, id := range order {
		list = append(list, exps[id])
	}
	if err := r.store.Save(ctx, list); err != nil {
		return err
	}
	r.mu.Lock()
	r.exps, r.order = exps, order
	r.mu.Unlock()
	return nil
}

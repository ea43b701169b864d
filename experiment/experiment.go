// Package experiment 实现 A/B 实验：确定性分流、曝光与转化计数、在线显著性检验。
//
// 实验配置由 Registry 持有，后端为 ConfigStore（内存或 Redis），
// 只能通过 Create/Start/Stop 显式修改，Reload 从后端重新加载。
// 计数由 CounterStore 持久化，所有写入都是单 key 原子操作。
package experiment

import (
	"time"

	"github.com/rushteam/recserve/core"
)

// Status 是实验生命周期状态：draft → active → completed，不可回退。
type Status string

const (
	StatusDraft     Status = "draft"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
)

// Valid 判断状态取值是否合法。
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusActive, StatusCompleted:
		return true
	}
	return false
}

func (s Status) rank() int {
	switch s {
	case StatusDraft:
		return 0
	case StatusActive:
		return 1
	case StatusCompleted:
		return 2
	}
	return -1
}

// CanTransition 判断 s 能否迁移到 to，只允许单步向前。
func (s Status) CanTransition(to Status) bool {
	return to.rank() == s.rank()+1 && s.Valid()
}

// Variant 是实验的一个分组。Params 随分组下发给推荐链路（如 model、lambda）。
type Variant struct {
	Name   string         `json:"name" yaml:"name"`
	Weight int            `json:"weight" yaml:"weight"`
	Params map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

// Experiment 是一个实验的配置。Variants 的顺序即分流时累加权重的顺序。
type Experiment struct {
	ID          string      `json:"id" yaml:"id"`
	Name        string      `json:"name,omitempty" yaml:"name,omitempty"`
	Description string      `json:"description,omitempty" yaml:"description,omitempty"`
	Status      Status      `json:"status" yaml:"status"`
	Variants    VariantList `json:"variants" yaml:"variants"`
	Metrics     []string    `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	StartDate   *time.Time  `json:"start_date,omitempty" yaml:"start_date,omitempty"`
	EndDate     *time.Time  `json:"end_date,omitempty" yaml:"end_date,omitempty"`
}

// Validate 校验配置：id 必填，分组名唯一，权重非负且总和为正。
func (e *Experiment) Validate() error {
	if e.ID == "" {
		return core.InvalidInput(core.ModuleExperiment, "experiment id is required")
	}
	if e.Status != "" && !e.Status.Valid() {
		return core.InvalidInput(core.ModuleExperiment, "experiment %s: unknown status %q", e.ID, e.Status)
	}
	if len(e.Variants) == 0 {
		return core.InvalidInput(core.ModuleExperiment, "experiment %s: no variants", e.ID)
	}
	seen := make(map[string]struct{}, len(e.Variants))
	for _, v := range e.Variants {
		if v.Name == "" {
			return core.InvalidInput(core.ModuleExperiment, "experiment %s: variant name is required", e.ID)
		}
		if _, dup := seen[v.Name]; dup {
			return core.InvalidInput(core.ModuleExperiment, "experiment %s: duplicate variant %q", e.ID, v.Name)
		}
		seen[v.Name] = struct{}{}
		if v.Weight < 0 {
			return core.InvalidInput(core.ModuleExperiment, "experiment %s: negative weight for %q", e.ID, v.Name)
		}
	}
	if e.TotalWeight() <= 0 {
		return core.InvalidInput(core.ModuleExperiment, "experiment %s: variant weights must sum to a positive total", e.ID)
	}
	return nil
}

// TotalWeight 返回分组权重之和。
func (e *Experiment) TotalWeight() int {
	total := 0
	for _, v := range e.Variants {
		total += v.Weight
	}
	return total
}

// Variant 按名称查找分组。
func (e *Experiment) Variant(name string) (Variant, bool) {
	for _, v := range e.Variants {
		if v.Name == name {
			return v, true
		}
	}
	return Variant{}, false
}

// VariantNames 按声明顺序返回分组名。
func (e *Experiment) VariantNames() []string {
	out := make([]string, len(e.Variants))
	for i, v := range e.Variants {
		out[i] = v.Name
	}
	return out
}

// Baseline 返回对照组：名为 control 的分组，没有时取第一个分组。
func (e *Experiment) Baseline() string {
	if _, ok := e.Variant(core.ControlVariant); ok {
		return core.ControlVariant
	}
	if len(e.Variants) > 0 {
		return e.Variants[0].Name
	}
	return core.ControlVariant
}

// Clone 深拷贝，Registry 对外只返回副本。
func (e *Experiment) Clone() *Experiment {
	out := *e
	out.Variants = make(VariantList, len(e.Variants))
	for i, v := range e.Variants {
		out.Variants[i] = Variant{Name: v.Name, Weight: v.Weight, Params: cloneParams(v.Params)}
	}
	out.Metrics = append([]string(nil), e.Metrics...)
	if e.StartDate != nil {
		t := *e.StartDate
		out.StartDate = &t
	}
	if e.EndDate != nil {
		t := *e.EndDate
		out.EndDate = &t
	}
	return &out
}

func cloneParams(p map[string]any) map[string]any {
	if p == nil {
		return nil
	}
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// NotFound 返回实验不存在的错误。
func NotFound(id string) error {
	return core.NewDomainError(core.ModuleExperiment, core.ErrorCodeNotFound, "experiment "+id+" not found")
}

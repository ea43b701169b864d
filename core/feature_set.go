package core

import (
	"maps"

	"github.com/rushteam/recserve/pkg/conv"
)

// FeatureSet 是特征名到标量或列表值的不可变映射。
//
// 每个请求新建一个 FeatureSet，构造后不再修改；读取方只能通过访问器取值，
// 合并操作总是返回新的 FeatureSet。
type FeatureSet struct {
	values map[string]any
}

// NewFeatureSet 拷贝入参构造 FeatureSet。
func NewFeatureSet(values map[string]any) FeatureSet {
	if len(values) == 0 {
		return FeatureSet{}
	}
	return FeatureSet{values: maps.Clone(values)}
}

// Len 返回特征数量。
func (fs FeatureSet) Len() int { return len(fs.values) }

// Get 返回原始值。
func (fs FeatureSet) Get(name string) (any, bool) {
	v, ok := fs.values[name]
	return v, ok
}

// Float64 以数值方式读取特征，非数值返回 false。
func (fs FeatureSet) Float64(name string) (float64, bool) {
	v, ok := fs.values[name]
	if !ok {
		return 0, false
	}
	return conv.ToFloat64(v)
}

// String 读取字符串特征。
func (fs FeatureSet) String(name string) string {
	if s, ok := fs.values[name].(string); ok {
		return s
	}
	return ""
}

// Strings 读取字符串列表特征，返回副本。
func (fs FeatureSet) Strings(name string) []string {
	switch v := fs.values[name].(type) {
	case []string:
		return append(v[:0:0], v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, x := range v {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Merge 返回 fs 与 other 的并集，同名特征以 other 为准。
func (fs FeatureSet) Merge(other FeatureSet) FeatureSet {
	out := make(map[string]any, len(fs.values)+len(other.values))
	maps.Copy(out, fs.values)
	maps.Copy(out, other.values)
	return FeatureSet{values: out}
}

// With 返回新增一个特征后的 FeatureSet。
func (fs FeatureSet) With(name string, value any) FeatureSet {
	out := make(map[string]any, len(fs.values)+1)
	maps.Copy(out, fs.values)
	out[name] = value
	return FeatureSet{values: out}
}

// ToMap 返回值的拷贝，用于序列化与表达式求值。
func (fs FeatureSet) ToMap() map[string]any {
	out := make(map[string]any, len(fs.values))
	maps.Copy(out, fs.values)
	return out
}

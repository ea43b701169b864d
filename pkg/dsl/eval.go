package dsl

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/rushteam/recserve/core"
)

var (
	// celEnv 是全局的 CEL 环境，线程安全，可复用
	celEnv     *cel.Env
	celEnvErr  error
	celEnvOnce sync.Once
)

// initCELEnv 初始化 CEL 环境，定义变量
func initCELEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("item", cel.DynType),
		cel.Variable("label", cel.DynType),
		cel.Variable("user", cel.DynType),
		cel.Variable("rctx", cel.DynType),
	)
}

// getCELEnv 获取或创建 CEL 环境
func getCELEnv() (*cel.Env, error) {
	celEnvOnce.Do(func() {
		celEnv, celEnvErr = initCELEnv()
	})
	return celEnv, celEnvErr
}

// Expr 是编译后的布尔表达式，使用 CEL (Common Expression Language) 实现。
// 编译一次，可在多个 goroutine 中并发求值。
//
// 表达式可访问的变量：
//   - item.id / item.score / item.category / item.features.<name>
//   - label.<key>：物品 Label 的 value
//   - user.<name>：聚合后的用户特征（如 user.recent_items）
//   - rctx.user_id / rctx.page_type / rctx.params
//
// 示例：
//   - `item.id in user.recent_items`
//   - `has(item.features.purchase_rate) && item.features.purchase_rate > 0.1`
//   - `label.recall_source == "popular"`
type Expr struct {
	source string
	prg    cel.Program
}

// Compile 编译表达式，语法错误在此返回；结果类型在求值时检查。
func Compile(expr string) (*Expr, error) {
	env, err := getCELEnv()
	if err != nil {
		return nil, fmt.Errorf("cel env: %w", err)
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile %q: %w", expr, issues.Err())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("program %q: %w", expr, err)
	}
	return &Expr{source: expr, prg: prg}, nil
}

// String 返回原始表达式。
func (e *Expr) String() string { return e.source }

// Evaluate 对物品与上下文求值。
func (e *Expr) Evaluate(item *core.Item, rctx *core.RecommendContext) (bool, error) {
	out, _, err := e.prg.Eval(BuildInput(item, rctx))
	if err != nil {
		return false, fmt.Errorf("eval %q: %w", e.source, err)
	}
	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("eval %q: expression must return boolean, got %T", e.source, out.Value())
	}
	return result, nil
}

// Eval 编译并求值一次，便于临时表达式；热路径应复用 Compile 的结果。
func Eval(expr string, item *core.Item, rctx *core.RecommendContext) (bool, error) {
	if expr == "" {
		return true, nil
	}
	e, err := Compile(expr)
	if err != nil {
		return false, err
	}
	return e.Evaluate(item, rctx)
}

// BuildInput 构建 CEL 表达式的输入数据。
// CEL 只接受 map[string]any / []any 这类通用容器，整数统一为 double 以便与小数字面量比较。
func BuildInput(item *core.Item, rctx *core.RecommendContext) map[string]any {
	labels := make(map[string]any)
	itemMap := map[string]any{}
	if item != nil {
		for k, v := range item.Labels {
			labels[k] = v.Value
		}
		itemMap = map[string]any{
			"id":       item.ID,
			"score":    item.Score,
			"category": item.Category(),
			"features": normalize(item.Features.ToMap()),
		}
	}

	user := map[string]any{}
	rctxMap := map[string]any{}
	if rctx != nil {
		user = normalize(rctx.User.ToMap())
		rctxMap = map[string]any{
			"user_id":   rctx.UserID,
			"page_type": rctx.PageType,
			"params":    normalize(rctx.Params),
		}
	}

	return map[string]any{
		"item":  itemMap,
		"label": labels,
		"user":  user,
		"rctx":  rctxMap,
	}
}

func normalize(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case []string:
		list := make([]any, len(val))
		for i, s := range val {
			list[i] = s
		}
		return list
	case []float64:
		list := make([]any, len(val))
		for i, f := range val {
			list[i] = f
		}
		return list
	case map[string]any:
		return normalize(val)
	case int:
		return float64(val)
	case int64:
		return float64(val)
	case int32:
		return float64(val)
	case float32:
		return float64(val)
	default:
		return v
	}
}

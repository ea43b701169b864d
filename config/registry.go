package config

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rushteam/recserve/pipeline"
)

// 使用配置驱动时，需在 main 或入口处 import _ "github.com/rushteam/recserve/config/builders"
// 以触发无依赖 Node（filter.exclude、rerank.mmr、rerank.topn）的 init 注册。
// 依赖存储或模型的 Node 由 DefaultFactory(deps) 绑定。

// NodeBuilder 与 pipeline.NodeBuilder 一致：根据 config 构建 Node。
type NodeBuilder = pipeline.NodeBuilder

var (
	defaultBuilders   = make(map[string]NodeBuilder)
	defaultBuildersMu sync.RWMutex
)

// Register 注册一种 Node 的构建逻辑，供 DefaultFactory 与配置驱动使用。
// 同名重复注册以后者为准。
func Register(typeName string, builder NodeBuilder) {
	if typeName == "" || builder == nil {
		return
	}
	defaultBuildersMu.Lock()
	defer defaultBuildersMu.Unlock()
	defaultBuilders[typeName] = builder
}

// SupportedTypes 返回当前通过 Register 注册的 Node 类型列表（排序）。
func SupportedTypes() []string {
	defaultBuildersMu.RLock()
	defer defaultBuildersMu.RUnlock()
	types := make([]string, 0, len(defaultBuilders))
	for t := range defaultBuilders {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

func registerGlobal(f *pipeline.NodeFactory) {
	defaultBuildersMu.RLock()
	defer defaultBuildersMu.RUnlock()
	for typeName, builder := range defaultBuilders {
		f.Register(typeName, builder)
	}
}

// ValidatePipelineConfig 校验 pipeline 配置中所有 node 类型都能由 factory 构建；
// 有未支持类型时返回包含已支持列表的错误。
func ValidatePipelineConfig(cfg *pipeline.Config, factory *pipeline.NodeFactory) error {
	if cfg == nil {
		return nil
	}
	supported := factory.Types()
	known := make(map[string]struct{}, len(supported))
	for _, t := range supported {
		known[t] = struct{}{}
	}
	for _, nc := range cfg.Pipeline.Nodes {
		if _, ok := known[nc.Type]; !ok {
			return fmt.Errorf("unsupported node type %q (supported: %v)", nc.Type, supported)
		}
	}
	return nil
}

// Package builders 注册不依赖外部资源的内置 Node，使用配置驱动时以空白导入启用：
//
//	import _ "github.com/rushteam/recserve/config/builders"
package builders

import (
	"github.com/rushteam/recserve/config"
	"github.com/rushteam/recserve/core"
	"github.com/rushteam/recserve/filter"
	"github.com/rushteam/recserve/pipeline"
	"github.com/rushteam/recserve/pkg/conv"
	"github.com/rushteam/recserve/rerank"
)

func init() {
	config.Register("filter.exclude", BuildExcludeNode)
	config.Register("rerank.mmr", BuildMMRNode)
	config.Register("rerank.topn", BuildTopNNode)
}

// BuildExcludeNode 构建排除过滤节点：请求的 exclude_items 加上配置中的固定 item_ids。
func BuildExcludeNode(cfg map[string]any) (pipeline.Node, error) {
	ids := conv.ToStrings(cfg["item_ids"])
	return &filter.FilterNode{Filters: []filter.Filter{filter.NewExcludeFilter(ids...)}}, nil
}

func BuildMMRNode(cfg map[string]any) (pipeline.Node, error) {
	return &rerank.MMR{
		Lambda:      conv.ConfigGetFloat64(cfg, "lambda", core.DefaultMMRLambda),
		MaxSelected: conv.ConfigGetInt(cfg, "max_selected", core.DefaultMMRMaxSelected),
	}, nil
}

// BuildTopNNode 构建截断节点，n 缺省时按请求条数截断。
func BuildTopNNode(cfg map[string]any) (pipeline.Node, error) {
	return &rerank.TopNNode{N: conv.ConfigGetInt(cfg, "n", 0)}, nil
}

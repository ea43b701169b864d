package core

import "github.com/rushteam/recserve/pkg/utils"

// Request 是一次推荐请求的入参。
type Request struct {
	UserID         string         `json:"user_id"`
	SessionID      string         `json:"session_id,omitempty"`
	PageType       string         `json:"page_type"`
	Num            int            `json:"num_recommendations,omitempty"`
	ExcludeItemIDs []string       `json:"exclude_item_ids,omitempty"`
	Context        map[string]any `json:"context,omitempty"`
}

// Normalize 填充默认值并校验必填字段。
func (r *Request) Normalize() error {
	if r.UserID == "" {
		return InvalidInput(ModuleService, "user_id is required")
	}
	if r.PageType == "" {
		r.PageType = DefaultPageType
	}
	if r.Num <= 0 {
		r.Num = DefaultNumRecommendations
	}
	return nil
}

// RecommendContext 承载用户/场景/实时信息，贯穿整个 Pipeline 透传。
type RecommendContext struct {
	RequestID string
	UserID    string
	SessionID string
	PageType  string

	// Num 是最终返回条数
	Num int

	// Exclude 是请求级排除集合
	Exclude map[string]struct{}

	// User 是聚合后的用户特征（实时 + 画像）
	User FeatureSet

	// Labels 是用户级标签，可驱动整个 Pipeline 行为
	Labels map[string]utils.Label

	// Params 请求级参数：客户端 context 以及实验变体参数（如 mmr_lambda、model）
	Params map[string]any
}

// NewRecommendContext 由请求构造上下文，Params 拷贝自请求 context。
func NewRecommendContext(requestID string, req Request) *RecommendContext {
	rctx := &RecommendContext{
		RequestID: requestID,
		UserID:    req.UserID,
		SessionID: req.SessionID,
		PageType:  req.PageType,
		Num:       req.Num,
		Exclude:   make(map[string]struct{}, len(req.ExcludeItemIDs)),
		Params:    make(map[string]any, len(req.Context)),
	}
	for _, id := range req.ExcludeItemIDs {
		rctx.Exclude[id] = struct{}{}
	}
	for k, v := range req.Context {
		rctx.Params[k] = v
	}
	return rctx
}

// IsExcluded 判断物品是否在排除集合中。
func (rctx *RecommendContext) IsExcluded(itemID string) bool {
	_, ok := rctx.Exclude[itemID]
	return ok
}

// Param 读取请求参数。
func (rctx *RecommendContext) Param(key string) (any, bool) {
	if rctx.Params == nil {
		return nil, false
	}
	v, ok := rctx.Params[key]
	return v, ok
}

// PutLabel 写入用户级 Label。
func (rctx *RecommendContext) PutLabel(key string, lbl utils.Label) {
	if rctx.Labels == nil {
		rctx.Labels = make(map[string]utils.Label)
	}
	if old, ok := rctx.Labels[key]; ok {
		rctx.Labels[key] = utils.MergeLabel(old, lbl)
		return
	}
	rctx.Labels[key] = lbl
}

// GetLabel 获取用户级 Label。
func (rctx *RecommendContext) GetLabel(key string) (utils.Label, bool) {
	if rctx.Labels == nil {
		return utils.Label{}, false
	}
	lbl, ok := rctx.Labels[key]
	return lbl, ok
}

package core

import (
	"context"
	"strings"
)

// Action 是用户行为类型。
type Action string

const (
	ActionClick      Action = "click"
	ActionAddToCart  Action = "add_to_cart"
	ActionPurchase   Action = "purchase"
	ActionImpression Action = "impression"
)

// CountedActions 是实时计数器覆盖的行为，顺序固定。
var CountedActions = []Action{ActionClick, ActionAddToCart, ActionPurchase}

// ParseAction 解析行为类型，大小写不敏感。
func ParseAction(s string) (Action, bool) {
	a := Action(strings.ToLower(strings.TrimSpace(s)))
	switch a {
	case ActionClick, ActionAddToCart, ActionPurchase, ActionImpression:
		return a, true
	}
	return "", false
}

// BehaviorEvent 是上游埋点产生的原始行为事件，发出后不可变。
type BehaviorEvent struct {
	UserID    string  `json:"user_id"`
	ItemID    string  `json:"item_id"`
	Action    Action  `json:"action"`
	Timestamp int64   `json:"timestamp"` // 秒级时间戳
	SessionID string  `json:"session_id,omitempty"`
	PageURL   string  `json:"page_url,omitempty"`
	DwellTime float64 `json:"dwell_time,omitempty"` // 停留秒数
}

// Validate 校验必填字段。
func (e BehaviorEvent) Validate() error {
	if e.UserID == "" {
		return InvalidInput(ModuleIngest, "event: user_id is required")
	}
	if e.ItemID == "" {
		return InvalidInput(ModuleIngest, "event: item_id is required")
	}
	if _, ok := ParseAction(string(e.Action)); !ok {
		return InvalidInput(ModuleIngest, "event: unknown action %q", e.Action)
	}
	return nil
}

// EventSink 是行为事件的上报出口（服务端 -> 事件流）。
//
// 设计原则：
//   - Send 只负责投递，不保证同步落库；消费与状态更新在摄取链路完成
//   - 实现需并发安全
//
// 实现：
//   - ingest.KafkaEventSink（生产环境）
//   - ingest.MemoryQueue（单机/测试，直接回流到进程内摄取管道）
type EventSink interface {
	Send(ctx context.Context, events ...BehaviorEvent) error
}

package ingest

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"

	"github.com/rushteam/recserve/core"
)

// wireEvent 是消息体格式。上游埋点的 timestamp 可能带小数秒，这里统一截断到秒。
type wireEvent struct {
	UserID    string      `json:"user_id"`
	ItemID    string      `json:"item_id"`
	Action    string      `json:"action"`
	Timestamp json.Number `json:"timestamp"`
	SessionID string      `json:"session_id"`
	PageURL   string      `json:"page_url"`
	DwellTime float64     `json:"dwell_time"`
}

// DecodeEvent 解析并校验一条行为事件。
func DecodeEvent(data []byte) (core.BehaviorEvent, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var w wireEvent
	if err := dec.Decode(&w); err != nil {
		return core.BehaviorEvent{}, core.WrapDomainError(core.ModuleIngest, core.ErrorCodeInvalidInput, err, "decode event")
	}
	var ts int64
	if w.Timestamp != "" {
		f, err := strconv.ParseFloat(w.Timestamp.String(), 64)
		if err != nil {
			return core.BehaviorEvent{}, core.InvalidInput(core.ModuleIngest, "event: bad timestamp %q", w.Timestamp)
		}
		ts = int64(math.Floor(f))
	}
	action, _ := core.ParseAction(w.Action)
	ev := core.BehaviorEvent{
		UserID:    w.UserID,
		ItemID:    w.ItemID,
		Action:    action,
		Timestamp: ts,
		SessionID: w.SessionID,
		PageURL:   w.PageURL,
		DwellTime: w.DwellTime,
	}
	if action == "" {
		ev.Action = core.Action(w.Action)
	}
	if err := ev.Validate(); err != nil {
		return core.BehaviorEvent{}, err
	}
	return ev, nil
}

// EncodeEvent 序列化事件，与 DecodeEvent 对应。
func EncodeEvent(ev core.BehaviorEvent) ([]byte, error) {
	return json.Marshal(ev)
}

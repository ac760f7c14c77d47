package collab

import (
	"encoding/json"
	"time"
)

// 投到 Kafka 的事件。两类：
// - OP_APPLIED：一条操作拿到版本并完成变换后发出，供审计/下游消费
// - PERSIST_FAILED：落盘批次重试耗尽后的死信，负载是整个批次
type CollabEvent struct {
	EventType string `json:"eventType"`
	RoomName  string `json:"roomName"`
	// OP_APPLIED 专用
	ConnectionID string          `json:"connectionId,omitempty"`
	Version      int             `json:"version,omitempty"`
	Action       json.RawMessage `json:"action,omitempty"`
	// PERSIST_FAILED 专用：丢失的批次原样带走
	Batch      *SaveInfo `json:"batch,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

const (
	EventOpApplied     = "OP_APPLIED"
	EventPersistFailed = "PERSIST_FAILED"
)

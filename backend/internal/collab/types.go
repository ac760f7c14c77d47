package collab

import "encoding/json"

// ActionInfo 是一次编辑操作。Action 负载对同步核心完全不透明，
// 只有注入的 Transformer / DocumentApplier 会解释它。
type ActionInfo struct {
	RoomName     string          `json:"roomName"`
	ConnectionID string          `json:"connectionId"`
	CurrentUser  string          `json:"currentUser"`
	// 由日志在追加时分配；入队前为 0
	Version int             `json:"version"`
	Action  json.RawMessage `json:"action,omitempty"`
	// 是否已经针对并发操作做过变换；变换过的操作不可再改写
	IsTransformed bool `json:"isTransformed"`
}

func decodeActions(raw []string) ([]*ActionInfo, error) {
	actions := make([]*ActionInfo, 0, len(raw))
	for _, v := range raw {
		var a ActionInfo
		if err := json.Unmarshal([]byte(v), &a); err != nil {
			return nil, err
		}
		actions = append(actions, &a)
	}
	return actions, nil
}

// SaveInfo 是一个待落盘批次。由日志 trim 或最后一个成员离开时产生，
// 后台 worker 恰好消费一次，应用成功后销毁。
type SaveInfo struct {
	RoomName string        `json:"roomName"`
	Action   []*ActionInfo `json:"action"`
	// true：成员尚在，trim 产生的部分批次，落盘后只清待落盘缓冲；
	// false：最后一个成员离开，落盘后整个房间状态全部删除
	PartialSave bool `json:"partialSave"`
}

type DocumentContent struct {
	Version int    `json:"version"`
	Content string `json:"content"`
}

type FileInfo struct {
	FileName string `json:"fileName"`
	RoomName string `json:"roomName"`
}

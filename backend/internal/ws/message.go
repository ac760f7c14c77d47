package ws

import (
	"encoding/json"

	"github.com/jeffl8n/syncfusion-collab-example/backend/internal/collab"
)

// 服务端到客户端只有一个事件名 dataReceived，kind 做区分：
// - connectionId: 连接建立时下发连接标识（string）
// - action:       新提交/已变换的操作（ActionInfo）
// - addUser:      成员加入（ActionInfo 或其列表）
// - removeUser:   成员离开（connectionId string）
type ServerMessage struct {
	Event string      `json:"event"`
	Kind  string      `json:"kind"`
	Data  interface{} `json:"data"`
}

const eventDataReceived = "dataReceived"

const (
	kindConnectionID = "connectionId"
	kindAction       = "action"
	kindAddUser      = "addUser"
	kindRemoveUser   = "removeUser"
)

func connectionIDMessage(connectionID string) ServerMessage {
	return ServerMessage{Event: eventDataReceived, Kind: kindConnectionID, Data: connectionID}
}

func actionMessage(a *collab.ActionInfo) ServerMessage {
	return ServerMessage{Event: eventDataReceived, Kind: kindAction, Data: a}
}

func addUserMessage(data interface{}) ServerMessage {
	return ServerMessage{Event: eventDataReceived, Kind: kindAddUser, Data: data}
}

func removeUserMessage(connectionID string) ServerMessage {
	return ServerMessage{Event: eventDataReceived, Kind: kindRemoveUser, Data: connectionID}
}

// 错误提示不在 dataReceived 协议内，单独一类
func errorMessage(content string) ServerMessage {
	return ServerMessage{Event: "error", Data: content}
}

// 客户端到服务端
type ClientMessage struct {
	// JoinGroup | action
	Type        string             `json:"type"`
	RoomName    string             `json:"roomName"`
	CurrentUser string             `json:"currentUser"`
	Action      *collab.ActionInfo `json:"action,omitempty"`
}

func memberList(members map[string]string) ([]*collab.ActionInfo, error) {
	list := make([]*collab.ActionInfo, 0, len(members))
	for _, v := range members {
		var info collab.ActionInfo
		if err := json.Unmarshal([]byte(v), &info); err != nil {
			return nil, err
		}
		list = append(list, &info)
	}
	return list, nil
}

package ws

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jeffl8n/syncfusion-collab-example/backend/internal/collab"
)

type Conn struct {
	ws           *websocket.Conn
	hub          *Hub
	roomName     string
	connectionID string
	currentUser  string
	// 出站消息队列，writeLoop 消费
	send chan ServerMessage
	// closed 置位后 send 不再接收任何消息；通道只能在连接从 hub
	// 摘除之后关闭，否则其他连接的广播会撞上已关闭的通道
	mu     sync.Mutex
	closed bool
	// 协作同步核心
	svc collab.Service
	// 信号量控制
	sem *collab.SemaphoreControl
}

func NewConn(ws *websocket.Conn, hub *Hub, connectionID string, svc collab.Service, sem *collab.SemaphoreControl) *Conn {
	return &Conn{ws: ws, hub: hub, connectionID: connectionID, send: make(chan ServerMessage, 32), svc: svc, sem: sem}
}

func (c *Conn) SendMessage_Enqueue(msg ServerMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	// 连接已经在断开流程里，静默丢弃
	if c.closed {
		return
	}
	select {
	case c.send <- msg:
	default:
		// 如果队列满了，则丢弃消息（慢连接靠重连后整文档重载追平）
	}
}

func (c *Conn) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *Conn) readLoop(ctx context.Context) {
	// send 通道不在这里关：此刻连接还挂在 hub 上，
	// 并发广播仍可能往里写。关闭统一放在 disconnect 末尾。
	for {
		var clientMessage ClientMessage
		if err := c.ws.ReadJSON(&clientMessage); err != nil {
			log.Printf("read json error (conn=%s, room=%s): %v", c.connectionID, c.roomName, err)
			return
		}
		switch clientMessage.Type {
		case "JoinGroup":
			c.handleJoinGroup(ctx, clientMessage)

		case "action":
			c.handleAction(ctx, clientMessage)

		default:
			// 忽略未知类型，回一条提示
			c.SendMessage_Enqueue(errorMessage("Unknown message type"))
		}
	}
}

// JoinGroup：登记成员身份，把已有成员名单发给新人，
// 再把新人通知给其他成员。每个连接必须先 JoinGroup 再提交操作。
func (c *Conn) handleJoinGroup(ctx context.Context, msg ClientMessage) {
	if msg.RoomName == "" {
		c.SendMessage_Enqueue(errorMessage("MISSING_ROOM_NAME"))
		return
	}
	c.roomName = msg.RoomName
	c.currentUser = msg.CurrentUser

	info := &collab.ActionInfo{
		RoomName:     msg.RoomName,
		ConnectionID: c.connectionID,
		CurrentUser:  msg.CurrentUser,
	}

	// 先把已有成员发给新加入的连接
	exists, err := c.hub.registry.RoomExists(ctx, msg.RoomName)
	if err != nil {
		log.Printf("room exists check error (room=%s): %v", msg.RoomName, err)
		c.SendMessage_Enqueue(errorMessage("JOIN_FAILED"))
		return
	}
	if exists {
		members, err := c.hub.registry.Members(ctx, msg.RoomName)
		if err != nil {
			log.Printf("get members error (room=%s): %v", msg.RoomName, err)
			c.SendMessage_Enqueue(errorMessage("JOIN_FAILED"))
			return
		}
		list, err := memberList(members)
		if err != nil {
			log.Printf("decode members error (room=%s): %v", msg.RoomName, err)
		} else {
			c.SendMessage_Enqueue(addUserMessage(list))
		}
	}

	raw, err := json.Marshal(info)
	if err != nil {
		c.SendMessage_Enqueue(errorMessage("JOIN_FAILED"))
		return
	}
	if err := c.hub.registry.AddMember(ctx, msg.RoomName, c.connectionID, string(raw)); err != nil {
		log.Printf("add member error (room=%s): %v", msg.RoomName, err)
		c.SendMessage_Enqueue(errorMessage("JOIN_FAILED"))
		return
	}

	c.hub.Join(msg.RoomName, c)
	// 通知房间里已有的成员（不含新人自己）
	c.hub.BroadcastExcept(msg.RoomName, c, addUserMessage(info))
}

// action：走与 HTTP UpdateAction 相同的提交路径，
// 定稿后广播给整个房间
func (c *Conn) handleAction(ctx context.Context, msg ClientMessage) {
	if msg.Action == nil {
		c.SendMessage_Enqueue(errorMessage("MISSING_ACTION"))
		return
	}
	if c.roomName == "" {
		c.SendMessage_Enqueue(errorMessage("JOIN_GROUP_FIRST"))
		return
	}

	submitCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()

	if err := c.sem.Acquire(submitCtx); err != nil {
		c.SendMessage_Enqueue(errorMessage(err.Error()))
		return
	}
	defer c.sem.Release()

	action := msg.Action
	action.RoomName = c.roomName
	action.ConnectionID = c.connectionID
	if action.CurrentUser == "" {
		action.CurrentUser = c.currentUser
	}

	modified, err := c.svc.SubmitOperation(ctx, action)
	if err != nil {
		c.SendMessage_Enqueue(errorMessage(err.Error()))
		return
	}
	c.hub.Broadcast(c.roomName, actionMessage(modified))
}

// disconnect：成员键无条件清理；最后一个成员离开时触发整仓落盘，
// 否则向剩余成员广播 removeUser。send 在从 hub 摘除之后才关闭，
// writeLoop 随之退出。
func (c *Conn) disconnect(ctx context.Context) {
	defer c.closeSend()

	roomName, remaining, err := c.hub.registry.RemoveMember(ctx, c.connectionID)
	if err != nil {
		log.Printf("remove member error (conn=%s): %v", c.connectionID, err)
	}
	if roomName == "" {
		roomName = c.roomName
	}
	if roomName == "" {
		return
	}

	c.hub.Leave(roomName, c)

	if err == nil && remaining == 0 {
		if err := c.svc.LastLeave(ctx, roomName); err != nil {
			log.Printf("last leave persist error (room=%s): %v", roomName, err)
		}
		return
	}
	c.hub.Broadcast(roomName, removeUserMessage(c.connectionID))
}

func (c *Conn) writeLoop() {
	// 持续消费通道中的 ServerMessage
	for msg := range c.send {
		_ = c.ws.WriteJSON(msg)
	}
}

package ws

import (
	"sync"

	"github.com/jeffl8n/syncfusion-collab-example/backend/internal/cache"
	"github.com/jeffl8n/syncfusion-collab-example/backend/internal/collab"
)

type Hub struct {
	// 成员身份与房间映射落在 Redis（共享状态），本进程只维护
	// roomName -> 本实例连接集合，用于广播
	registry cache.Registry

	// 读写锁保护 rooms：加入/离开/广播并发访问同一个 map
	mu    sync.RWMutex
	rooms map[string]map[*Conn]struct{}
}

func NewHub(registry cache.Registry) *Hub {
	return &Hub{registry: registry, rooms: make(map[string]map[*Conn]struct{})}
}

// Join 将连接加入指定房间
func (h *Hub) Join(roomName string, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[roomName] == nil {
		h.rooms[roomName] = make(map[*Conn]struct{})
	}
	h.rooms[roomName][c] = struct{}{}
}

// Leave 将连接从指定房间移除
func (h *Hub) Leave(roomName string, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.rooms[roomName]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.rooms, roomName)
		}
	}
}

// snapshot 在读锁内复制房间连接集合，迭代不能拿着活 map 出锁，
// 否则与 Join/Leave 的写并发
func (h *Hub) snapshot(roomName string) []*Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	conns := make([]*Conn, 0, len(h.rooms[roomName]))
	for c := range h.rooms[roomName] {
		conns = append(conns, c)
	}
	return conns
}

// Broadcast 发往房间内的所有连接
func (h *Hub) Broadcast(roomName string, msg ServerMessage) {
	for _, c := range h.snapshot(roomName) {
		c.SendMessage_Enqueue(msg)
	}
}

// BroadcastAction 把定稿操作推给操作所在房间的所有连接，
// HTTP 提交路径也经由这里广播
func (h *Hub) BroadcastAction(a *collab.ActionInfo) {
	h.Broadcast(a.RoomName, actionMessage(a))
}

// BroadcastExcept 发往除 except 外的所有连接（新成员加入通知用）
func (h *Hub) BroadcastExcept(roomName string, except *Conn, msg ServerMessage) {
	for _, c := range h.snapshot(roomName) {
		if c == except {
			continue
		}
		c.SendMessage_Enqueue(msg)
	}
}

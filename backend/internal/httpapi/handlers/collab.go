package handlers

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jeffl8n/syncfusion-collab-example/backend/internal/collab"
	"github.com/jeffl8n/syncfusion-collab-example/backend/internal/ws"
)

// 协作编辑 HTTP 接口。失败时一律回空负载而不是结构化错误码，
// 客户端据此回退到整文档重载。
type CollabHandler struct {
	svc collab.Service
	hub *ws.Hub
}

func NewCollabHandler(svc collab.Service, hub *ws.Hub) *CollabHandler {
	return &CollabHandler{svc: svc, hub: hub}
}

// POST /ImportFile：加载源文档并叠加所有尚未落盘的操作
func (h *CollabHandler) ImportFile(c *gin.Context) {
	var param collab.FileInfo
	if err := c.ShouldBindJSON(&param); err != nil || param.RoomName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "roomName is required"})
		return
	}

	content, err := h.svc.ImportFile(c.Request.Context(), param.FileName, param.RoomName)
	if err != nil {
		log.Printf("import file error (room=%s): %v", param.RoomName, err)
		c.JSON(http.StatusOK, nil)
		return
	}
	c.JSON(http.StatusOK, content)
}

// POST /UpdateAction：分配版本入日志，广播给房间，返回定稿操作
func (h *CollabHandler) UpdateAction(c *gin.Context) {
	var param collab.ActionInfo
	if err := c.ShouldBindJSON(&param); err != nil || param.RoomName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "roomName is required"})
		return
	}

	modified, err := h.svc.SubmitOperation(c.Request.Context(), &param)
	if err != nil {
		log.Printf("update action error (room=%s): %v", param.RoomName, err)
		c.JSON(http.StatusOK, nil)
		return
	}
	h.hub.BroadcastAction(modified)
	c.JSON(http.StatusOK, modified)
}

// POST /GetActionsFromServer：返回自客户端版本之后的操作，
// 任何内部失败都回 {}
func (h *CollabHandler) GetActionsFromServer(c *gin.Context) {
	var param collab.ActionInfo
	if err := c.ShouldBindJSON(&param); err != nil || param.RoomName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "roomName is required"})
		return
	}

	actions, needsResync, err := h.svc.ActionsSince(c.Request.Context(), param.RoomName, param.Version)
	if err != nil {
		log.Printf("get actions error (room=%s, v=%d): %v", param.RoomName, param.Version, err)
		c.JSON(http.StatusOK, gin.H{})
		return
	}
	if needsResync {
		// 客户端版本早于最老保留项：空列表让其触发整文档重载
		c.JSON(http.StatusOK, []*collab.ActionInfo{})
		return
	}
	if actions == nil {
		actions = []*collab.ActionInfo{}
	}
	c.JSON(http.StatusOK, actions)
}

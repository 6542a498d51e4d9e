package handler

import (
	"net/http"

	"sewn-rag-go/internal/service"
	"sewn-rag-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// ConversationHandler 负责处理对话历史相关的 API 请求。
type ConversationHandler struct {
	conversationService service.ConversationService
}

// NewConversationHandler 创建一个新的 ConversationHandler 实例。
func NewConversationHandler(conversationService service.ConversationService) *ConversationHandler {
	return &ConversationHandler{conversationService: conversationService}
}

// GetHistory 处理获取指定会话历史的请求。
func (h *ConversationHandler) GetHistory(c *gin.Context) {
	sessionID := c.Param("sessionId")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少会话 ID"})
		return
	}

	history, err := h.conversationService.GetHistory(c.Request.Context(), sessionID)
	if err != nil {
		log.Errorf("GetHistory: failed for session %s: %v", sessionID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "获取对话历史失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id": sessionID,
		"history":    history,
	})
}

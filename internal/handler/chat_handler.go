package handler

import (
	"encoding/json"
	"net/http"

	"sewn-rag-go/internal/service"
	"sewn-rag-go/pkg/log"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

// ChatHandler 负责处理聊天请求，包括 HTTP 聚合响应与 WebSocket 流式响应。
type ChatHandler struct {
	chatService service.ChatService
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(chatService service.ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

// ChatRequest 定义了聊天 API 的请求体结构。
type ChatRequest struct {
	Message   string `json:"message" binding:"required"`
	SessionID string `json:"session_id"`
}

// Chat 处理一次完整的聊天请求，按路径中的模式选择增强策略。
func (h *ChatHandler) Chat(c *gin.Context) {
	mode, ok := parseMode(c.Param("mode"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "未知的聊天模式"})
		return
	}

	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求负载"})
		return
	}
	if req.SessionID == "" {
		req.SessionID = "default"
	}

	answer, err := h.chatService.Chat(c.Request.Context(), req.SessionID, req.Message, mode)
	if err != nil {
		log.Errorf("Chat: failed for session %s: %v", req.SessionID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "AI服务暂时不可用，请稍后重试"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"response":   answer,
		"session_id": req.SessionID,
		"mode":       mode,
	})
}

// streamRequest 是 WebSocket 消息体，mode 缺省为 rag。
type streamRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
	Mode      string `json:"mode"`
}

// HandleStream 处理一个传入的 WebSocket 连接并流式下发回答分块。
func (h *ChatHandler) HandleStream(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()

	log.Info("WebSocket 连接已建立")

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			log.Warnf("从 WebSocket 读取消息失败: %v", err)
			break
		}

		var req streamRequest
		if err := json.Unmarshal(message, &req); err != nil || req.Message == "" {
			writeWSError(conn, "无效的消息格式")
			continue
		}
		if req.SessionID == "" {
			req.SessionID = "default"
		}
		mode, ok := parseMode(req.Mode)
		if !ok {
			mode = service.ModeRAG
		}

		if err := h.chatService.StreamChat(c.Request.Context(), req.SessionID, req.Message, mode, conn); err != nil {
			log.Errorf("处理流式响应失败: %v", err)
			writeWSError(conn, "AI服务暂时不可用，请稍后重试")
		}
	}
}

func parseMode(raw string) (service.ChatMode, bool) {
	switch mode := service.ChatMode(raw); mode {
	case service.ModeRAG, service.ModeLLM, service.ModeBlended:
		return mode, true
	default:
		return "", false
	}
}

func writeWSError(conn *websocket.Conn, msg string) {
	b, _ := json.Marshal(map[string]string{"error": msg})
	_ = conn.WriteMessage(websocket.TextMessage, b)
}

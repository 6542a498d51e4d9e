package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"sewn-rag-go/internal/model"
	"sewn-rag-go/internal/repository"
	"sewn-rag-go/pkg/llm"
	"sewn-rag-go/pkg/log"

	"github.com/gorilla/websocket"
)

// ChatMode 是聊天回答的增强模式。
type ChatMode string

const (
	// ModeRAG 只依据知识库上下文增强回答。
	ModeRAG ChatMode = "rag"
	// ModeLLM 不做任何增强，直接转给模型。
	ModeLLM ChatMode = "llm"
	// ModeBlended 提供上下文但允许模型结合自身知识。
	ModeBlended ChatMode = "blended"
)

// ChatService 定义了聊天操作的接口。
type ChatService interface {
	// Chat 聚合流式响应并返回完整回答。
	Chat(ctx context.Context, sessionID, message string, mode ChatMode) (string, error)
	// StreamChat 通过 WebSocket 连接流式下发分块。
	StreamChat(ctx context.Context, sessionID, message string, mode ChatMode, ws *websocket.Conn) error
}

type chatService struct {
	retriever        RetrieverService
	llmClient        llm.Client
	conversationRepo repository.ConversationRepository
	topK             int
}

// NewChatService 创建一个新的 ChatService 实例。
func NewChatService(
	retriever RetrieverService,
	llmClient llm.Client,
	conversationRepo repository.ConversationRepository,
	topK int,
) ChatService {
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &chatService{
		retriever:        retriever,
		llmClient:        llmClient,
		conversationRepo: conversationRepo,
		topK:             topK,
	}
}

// Chat 执行 RAG 流程并把流式响应聚合成完整回答。
func (s *chatService) Chat(ctx context.Context, sessionID, message string, mode ChatMode) (string, error) {
	messages := s.composeMessages(ctx, sessionID, message, mode)

	answer := &strings.Builder{}
	if err := s.llmClient.StreamChatMessages(ctx, messages, nil, &builderWriter{b: answer}); err != nil {
		return "", err
	}

	s.saveExchange(sessionID, message, answer.String())
	return answer.String(), nil
}

// StreamChat 执行 RAG 流程并把分块实时写入 WebSocket，分块包装为 {"chunk":"..."}。
func (s *chatService) StreamChat(ctx context.Context, sessionID, message string, mode ChatMode, ws *websocket.Conn) error {
	messages := s.composeMessages(ctx, sessionID, message, mode)

	answer := &strings.Builder{}
	interceptor := &wsWriterInterceptor{conn: ws, writer: answer}
	if err := s.llmClient.StreamChatMessages(ctx, messages, nil, interceptor); err != nil {
		return err
	}

	sendCompletion(ws)
	s.saveExchange(sessionID, message, answer.String())
	return nil
}

func (s *chatService) composeMessages(ctx context.Context, sessionID, message string, mode ChatMode) []llm.Message {
	prompt := s.buildPrompt(ctx, message, mode)

	history, err := s.conversationRepo.GetHistory(ctx, sessionID)
	if err != nil {
		log.Errorf("[ChatService] 加载对话历史失败: %v", err)
		history = []model.ChatMessage{}
	}

	messages := make([]llm.Message, 0, len(history)+1)
	for _, m := range history {
		messages = append(messages, llm.Message{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, llm.Message{Role: "user", Content: prompt})
	return messages
}

// buildPrompt 按模式构造发给模型的用户消息。检索失败已在检索器内部
// 退化为空结果，这里不会因远程层故障而报错。
func (s *chatService) buildPrompt(ctx context.Context, message string, mode ChatMode) string {
	if mode == ModeLLM {
		return message
	}

	docs := s.retriever.RetrieveDocuments(ctx, message, s.topK)
	log.Infof("[ChatService] 为查询检索到 %d 篇文档", len(docs))
	contextText := formatContext(docs)

	if mode == ModeBlended {
		return "You are a helpful assistant. Use the following context if relevant, but also use your own knowledge if needed.\n\n" +
			contextText + "User: " + message
	}
	return contextText + "\n\nUser: " + message
}

// formatContext 把检索结果格式化为提示词中的知识库上下文。
func formatContext(docs []model.RetrievedDocument) string {
	var b strings.Builder
	b.WriteString("Relevant information from the knowledge base:\n\n")
	for _, doc := range docs {
		b.WriteString(fmt.Sprintf("From %s:\n%s\n\n", doc.FileName, doc.Content))
	}
	return b.String()
}

func (s *chatService) saveExchange(sessionID, question, answer string) {
	if answer == "" {
		return
	}
	// 使用后台上下文：即使原始请求被取消，也保存成功生成的答案
	if err := s.conversationRepo.AppendExchange(context.Background(), sessionID, question, answer); err != nil {
		// 只记录错误，不返回给客户端，因为响应已经成功
		log.Errorf("[ChatService] 保存对话历史失败: %v", err)
	}
}

// builderWriter 把流式分块聚合进一个 strings.Builder。
type builderWriter struct {
	b *strings.Builder
}

// WriteMessage 满足 llm.MessageWriter 接口。
func (w *builderWriter) WriteMessage(_ int, data []byte) error {
	w.b.Write(data)
	return nil
}

// wsWriterInterceptor 是对 websocket.Conn 的封装，用于捕获写入的消息。
type wsWriterInterceptor struct {
	conn   *websocket.Conn
	writer *strings.Builder
}

// WriteMessage 满足 llm.MessageWriter 接口。
func (w *wsWriterInterceptor) WriteMessage(messageType int, data []byte) error {
	w.writer.Write(data)
	// 将原始分块包装成 {"chunk":"..."}
	payload := map[string]string{"chunk": string(data)}
	b, _ := json.Marshal(payload)
	return w.conn.WriteMessage(messageType, b)
}

// sendCompletion 发送完成通知 JSON
func sendCompletion(ws *websocket.Conn) {
	notif := map[string]interface{}{
		"type":      "completion",
		"status":    "finished",
		"timestamp": time.Now().UnixMilli(),
	}
	b, _ := json.Marshal(notif)
	_ = ws.WriteMessage(websocket.TextMessage, b)
}

package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"sewn-rag-go/internal/model"
	"sewn-rag-go/pkg/llm"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRetriever 返回固定的文档并统计调用次数。
type fakeRetriever struct {
	mu    sync.Mutex
	docs  []model.RetrievedDocument
	calls int
}

func (f *fakeRetriever) Load(context.Context)   {}
func (f *fakeRetriever) Reload(context.Context) {}
func (f *fakeRetriever) State() State           { return StateServing }

func (f *fakeRetriever) RetrieveDocuments(_ context.Context, _ string, _ int) []model.RetrievedDocument {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.docs
}

func (f *fakeRetriever) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeLLM 记录收到的消息并以固定分块流式返回。
type fakeLLM struct {
	mu       sync.Mutex
	chunks   []string
	received [][]llm.Message
	err      error
}

func (f *fakeLLM) StreamChatMessages(_ context.Context, messages []llm.Message, _ *llm.GenerationParams, writer llm.MessageWriter) error {
	f.mu.Lock()
	f.received = append(f.received, messages)
	f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	for _, chunk := range f.chunks {
		if err := writer.WriteMessage(websocket.TextMessage, []byte(chunk)); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeLLM) lastMessages(t *testing.T) []llm.Message {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.received)
	return f.received[len(f.received)-1]
}

// memConversationRepo 是内存实现的对话历史仓库。
type memConversationRepo struct {
	mu       sync.Mutex
	history map[string][]model.ChatMessage
}

func newMemConversationRepo() *memConversationRepo {
	return &memConversationRepo{history: make(map[string][]model.ChatMessage)}
}

func (r *memConversationRepo) GetHistory(_ context.Context, sessionID string) ([]model.ChatMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.ChatMessage{}, r.history[sessionID]...), nil
}

func (r *memConversationRepo) AppendExchange(_ context.Context, sessionID, question, answer string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	r.history[sessionID] = append(r.history[sessionID],
		model.ChatMessage{Role: "user", Content: question, Timestamp: now},
		model.ChatMessage{Role: "assistant", Content: answer, Timestamp: now},
	)
	return nil
}

func kbDocs() []model.RetrievedDocument {
	return []model.RetrievedDocument{
		{Content: "Apples and bananas.", FileName: "alpha.txt", Source: model.SourceLocal},
	}
}

func TestChatRAGModeAugmentsPrompt(t *testing.T) {
	retriever := &fakeRetriever{docs: kbDocs()}
	llmClient := &fakeLLM{chunks: []string{"Hello ", "world"}}
	repo := newMemConversationRepo()
	svc := NewChatService(retriever, llmClient, repo, 3)

	answer, err := svc.Chat(context.Background(), "s1", "What fruits do we have?", ModeRAG)
	require.NoError(t, err)
	assert.Equal(t, "Hello world", answer)
	assert.Equal(t, 1, retriever.callCount())

	messages := llmClient.lastMessages(t)
	require.Len(t, messages, 1)
	assert.Contains(t, messages[0].Content, "Relevant information from the knowledge base:")
	assert.Contains(t, messages[0].Content, "From alpha.txt:")
	assert.Contains(t, messages[0].Content, "User: What fruits do we have?")
}

func TestChatLLMModeSkipsRetrieval(t *testing.T) {
	retriever := &fakeRetriever{docs: kbDocs()}
	llmClient := &fakeLLM{chunks: []string{"ok"}}
	svc := NewChatService(retriever, llmClient, newMemConversationRepo(), 3)

	_, err := svc.Chat(context.Background(), "s1", "raw question", ModeLLM)
	require.NoError(t, err)
	assert.Zero(t, retriever.callCount(), "llm mode must not hit the retriever")

	messages := llmClient.lastMessages(t)
	assert.Equal(t, "raw question", messages[0].Content)
}

func TestChatBlendedModeIncludesPreambleAndContext(t *testing.T) {
	retriever := &fakeRetriever{docs: kbDocs()}
	llmClient := &fakeLLM{chunks: []string{"ok"}}
	svc := NewChatService(retriever, llmClient, newMemConversationRepo(), 3)

	_, err := svc.Chat(context.Background(), "s1", "question", ModeBlended)
	require.NoError(t, err)

	content := llmClient.lastMessages(t)[0].Content
	assert.Contains(t, content, "You are a helpful assistant.")
	assert.Contains(t, content, "From alpha.txt:")
}

func TestChatIncludesHistoryAndSavesExchange(t *testing.T) {
	retriever := &fakeRetriever{}
	llmClient := &fakeLLM{chunks: []string{"the answer"}}
	repo := newMemConversationRepo()
	require.NoError(t, repo.AppendExchange(context.Background(), "s1", "earlier question", "earlier answer"))

	svc := NewChatService(retriever, llmClient, repo, 3)
	_, err := svc.Chat(context.Background(), "s1", "followup", ModeLLM)
	require.NoError(t, err)

	// 历史两条 + 本轮用户消息
	messages := llmClient.lastMessages(t)
	require.Len(t, messages, 3)
	assert.Equal(t, "user", messages[0].Role)
	assert.Equal(t, "assistant", messages[1].Role)

	// 历史中保存的是原始问题，而不是增强后的提示词
	history, err := repo.GetHistory(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, "followup", history[2].Content)
	assert.Equal(t, "the answer", history[3].Content)
}

func TestChatLLMFailureIsNotSaved(t *testing.T) {
	retriever := &fakeRetriever{}
	llmClient := &fakeLLM{err: assert.AnError}
	repo := newMemConversationRepo()
	svc := NewChatService(retriever, llmClient, repo, 3)

	_, err := svc.Chat(context.Background(), "s1", "question", ModeLLM)
	assert.Error(t, err)

	history, _ := repo.GetHistory(context.Background(), "s1")
	assert.Empty(t, history, "failed exchanges must not pollute history")
}

func TestStreamChatWrapsChunksAndSendsCompletion(t *testing.T) {
	retriever := &fakeRetriever{}
	llmClient := &fakeLLM{chunks: []string{"Hello ", "world"}}
	repo := newMemConversationRepo()
	svc := NewChatService(retriever, llmClient, repo, 3)

	upgrader := websocket.Upgrader{}
	done := make(chan error, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		done <- svc.StreamChat(r.Context(), "s1", "hi", ModeLLM, conn)
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer client.Close()

	// 两个分块帧，每个包装为 {"chunk":"..."}
	var streamed strings.Builder
	for i := 0; i < 2; i++ {
		_, data, err := client.ReadMessage()
		require.NoError(t, err)
		var frame map[string]string
		require.NoError(t, json.Unmarshal(data, &frame))
		streamed.WriteString(frame["chunk"])
	}
	assert.Equal(t, "Hello world", streamed.String())

	// 最后是完成通知帧
	_, data, err := client.ReadMessage()
	require.NoError(t, err)
	var notif map[string]any
	require.NoError(t, json.Unmarshal(data, &notif))
	assert.Equal(t, "completion", notif["type"])
	assert.Equal(t, "finished", notif["status"])

	require.NoError(t, <-done)

	history, _ := repo.GetHistory(context.Background(), "s1")
	require.Len(t, history, 2)
	assert.Equal(t, "Hello world", history[1].Content)
}

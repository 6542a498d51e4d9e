// Package walrus 提供了访问远程 Walrus 块存储服务的 HTTP 客户端。
package walrus

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"sewn-rag-go/internal/config"
	"sewn-rag-go/internal/model"
	"sewn-rag-go/pkg/log"
)

// 远程层错误。调用方必须将其视为"远程不可用"并回退本地，而不是请求校验错误。
var (
	// ErrUnavailable 表示存储或列举请求因网络错误或非成功状态码而失败。
	ErrUnavailable = errors.New("walrus remote unavailable")
	// ErrRetrieve 表示读取请求失败或返回了无法解析的载荷。
	ErrRetrieve = errors.New("walrus retrieve failed")
	// ErrNotFound 表示 blob 在远程存储中不存在。
	ErrNotFound = errors.New("walrus blob not found")
)

// Client 定义了 Walrus 块存储的操作接口。
// 客户端内部不做任何重试；上层统一采用"远程失败即回退本地"的策略。
type Client interface {
	// Store 存储一段字节内容，返回远程分配的 blob_id。
	Store(ctx context.Context, content []byte, metadata map[string]any) (string, error)
	// Retrieve 按 blob_id 取回字节内容。
	Retrieve(ctx context.Context, blobID string) ([]byte, error)
	// List 返回远程存储中所有 blob 的描述，用于健康探测与映射核对。
	List(ctx context.Context) ([]model.BlobDescriptor, error)
	// Info 查询单个 blob 的信息：优先从 list 中解析权威元数据；
	// 查不到时退而用 retrieve 确认存在性并返回降级描述。
	Info(ctx context.Context, blobID string) (*model.BlobDescriptor, error)
}

type httpClient struct {
	cfg    config.WalrusConfig
	client *http.Client
}

// NewClient 创建一个新的 Walrus 客户端，带有限定的单请求超时。
func NewClient(cfg config.WalrusConfig) Client {
	return &httpClient{
		cfg: cfg,
		client: &http.Client{
			Timeout: time.Duration(cfg.Timeout()) * time.Second,
		},
	}
}

type storeRequest struct {
	Data     string         `json:"data"`
	Metadata map[string]any `json:"metadata"`
}

type storeResponse struct {
	BlobID string `json:"blob_id"`
}

type retrieveResponse struct {
	Data string `json:"data"`
}

type listResponse struct {
	Blobs []listEntry `json:"blobs"`
}

type listEntry struct {
	ID        string         `json:"id"`
	Metadata  map[string]any `json:"metadata"`
	Timestamp string         `json:"timestamp"`
	Size      int64          `json:"size"`
}

// Store 调用 POST /api/v1/store，内容以 base64 编码传输。
func (c *httpClient) Store(ctx context.Context, content []byte, metadata map[string]any) (string, error) {
	if metadata == nil {
		metadata = map[string]any{}
	}
	reqBody := storeRequest{
		Data:     base64.StdEncoding.EncodeToString(content),
		Metadata: metadata,
	}
	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal store request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.APIURL+"/api/v1/store", bytes.NewReader(reqBytes))
	if err != nil {
		return "", fmt.Errorf("failed to create store request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("%w: store returned %s, body: %s", ErrUnavailable, resp.Status, string(body))
	}

	var storeResp storeResponse
	if err := json.NewDecoder(resp.Body).Decode(&storeResp); err != nil {
		return "", fmt.Errorf("%w: failed to decode store response: %v", ErrUnavailable, err)
	}
	if storeResp.BlobID == "" {
		return "", fmt.Errorf("%w: store response missing blob_id", ErrUnavailable)
	}
	return storeResp.BlobID, nil
}

// Retrieve 调用 GET /api/v1/retrieve/{blob_id} 并解码 base64 载荷。
func (c *httpClient) Retrieve(ctx context.Context, blobID string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.cfg.APIURL+"/api/v1/retrieve/"+blobID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create retrieve request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRetrieve, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: retrieve returned %s, body: %s", ErrRetrieve, resp.Status, string(body))
	}

	var retrieveResp retrieveResponse
	if err := json.NewDecoder(resp.Body).Decode(&retrieveResp); err != nil {
		return nil, fmt.Errorf("%w: failed to decode retrieve response: %v", ErrRetrieve, err)
	}
	content, err := base64.StdEncoding.DecodeString(retrieveResp.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed base64 payload: %v", ErrRetrieve, err)
	}
	return content, nil
}

// List 调用 GET /api/v1/list 返回所有 blob 的描述。
func (c *httpClient) List(ctx context.Context) ([]model.BlobDescriptor, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.cfg.APIURL+"/api/v1/list", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create list request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: list returned %s, body: %s", ErrUnavailable, resp.Status, string(body))
	}

	var listResp listResponse
	if err := json.NewDecoder(resp.Body).Decode(&listResp); err != nil {
		return nil, fmt.Errorf("%w: failed to decode list response: %v", ErrUnavailable, err)
	}

	descriptors := make([]model.BlobDescriptor, 0, len(listResp.Blobs))
	for _, b := range listResp.Blobs {
		descriptors = append(descriptors, model.BlobDescriptor{
			BlobID:    b.ID,
			Metadata:  b.Metadata,
			Timestamp: b.Timestamp,
			Size:      b.Size,
			Exists:    true,
		})
	}
	return descriptors, nil
}

// Info 查询单个 blob 的信息。远程 API 的 list 接口不保证对刚写入的
// blob 可见，因此查不到时退而用 retrieve 确认存在性。
func (c *httpClient) Info(ctx context.Context, blobID string) (*model.BlobDescriptor, error) {
	blobs, err := c.List(ctx)
	if err != nil {
		log.Warnf("[Walrus] 获取 blob 列表失败: %v", err)
	} else {
		for _, b := range blobs {
			if b.BlobID == blobID {
				desc := b
				return &desc, nil
			}
		}
	}

	// list 中没有，尝试 retrieve 以确认其存在，返回降级描述。
	if _, err := c.Retrieve(ctx, blobID); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, blobID)
	}
	return &model.BlobDescriptor{
		BlobID:  blobID,
		Exists:  true,
		Message: "blob exists but detailed metadata is not available",
	}, nil
}

func (c *httpClient) setHeaders(req *http.Request) {
	req.Header.Set("X-API-Key", c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
}

package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"sewn-rag-go/internal/config"
	"sewn-rag-go/internal/model"
	"sewn-rag-go/internal/repository"
	"sewn-rag-go/pkg/log"
	"sewn-rag-go/pkg/walrus"
)

// ErrFileNotFound 表示文件在远程和本地都不存在。
var ErrFileNotFound = errors.New("file does not exist in walrus or locally")

// FileListing 是合并两层后的文件清单。
type FileListing struct {
	Files       []string `json:"files"`
	WalrusCount int      `json:"walrus_count"`
	LocalCount  int      `json:"local_count"`
}

// UploadResult 是一次上传的结果。远程失败时 Storage 为 local，
// WalrusError 记录失败原因，但请求本身成功。
type UploadResult struct {
	Filename    string `json:"filename"`
	BlobID      string `json:"blob_id,omitempty"`
	Storage     string `json:"storage"`
	WalrusError string `json:"walrus_error,omitempty"`
}

// AppendResult 是一次追加的结果。
type AppendResult struct {
	Filename    string `json:"filename"`
	BlobID      string `json:"blob_id,omitempty"`
	Storage     string `json:"storage"`
	WalrusError string `json:"walrus_error,omitempty"`
}

// HealthStatus 描述服务与远程存储层的健康状况。
type HealthStatus struct {
	Status       string `json:"status"`
	WalrusStatus string `json:"walrus_status"`
	StorageType  string `json:"storage_type"`
}

// DocumentService 定义了文档上传、追加与清单的业务操作。
type DocumentService interface {
	// ListFiles 合并文档映射与本地目录中的文件名并去重。
	ListFiles() FileListing
	// Upload 存储一份新文档：远程优先，本地副本总是写入，随后触发重新摄取。
	Upload(ctx context.Context, filename string, content []byte) (*UploadResult, error)
	// Append 读取既有文档的全部内容、拼接后作为全新 blob 重新存储。
	// 没有增量更新路径：旧映射被整体取代。
	Append(ctx context.Context, filename, content string) (*AppendResult, error)
	// BlobInfo 查询单个 blob 的远程描述。
	BlobInfo(ctx context.Context, blobID string) (*model.BlobDescriptor, error)
	// Health 探测远程存储可达性。
	Health(ctx context.Context) HealthStatus
}

type documentService struct {
	walrusClient walrus.Client
	docMap       repository.DocumentMap
	trigger      IngestTrigger
	cfg          config.DocumentsConfig
	useWalrus    bool
}

// NewDocumentService 创建一个新的 DocumentService 实例。
func NewDocumentService(
	walrusClient walrus.Client,
	docMap repository.DocumentMap,
	trigger IngestTrigger,
	cfg config.DocumentsConfig,
	useWalrus bool,
) DocumentService {
	return &documentService{
		walrusClient: walrusClient,
		docMap:       docMap,
		trigger:      trigger,
		cfg:          cfg,
		useWalrus:    useWalrus,
	}
}

func (s *documentService) ListFiles() FileListing {
	walrusFiles := s.docMap.List()

	var localFiles []string
	entries, err := os.ReadDir(s.cfg.DataDir)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warnf("[DocumentService] 读取本地文档目录失败: %v", err)
		}
	} else {
		for _, e := range entries {
			if !e.IsDir() && strings.HasSuffix(e.Name(), ".txt") {
				localFiles = append(localFiles, e.Name())
			}
		}
	}

	// 合并去重
	seen := make(map[string]struct{}, len(walrusFiles)+len(localFiles))
	merged := make([]string, 0, len(walrusFiles)+len(localFiles))
	for _, name := range append(append([]string{}, walrusFiles...), localFiles...) {
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		merged = append(merged, name)
	}

	return FileListing{
		Files:       merged,
		WalrusCount: len(walrusFiles),
		LocalCount:  len(localFiles),
	}
}

func (s *documentService) Upload(ctx context.Context, filename string, content []byte) (*UploadResult, error) {
	result := &UploadResult{Filename: filename, Storage: model.SourceLocal}
	metadata := map[string]any{
		"filename":     filename,
		"content_type": "text/plain",
		"timestamp":    time.Now().Format(time.RFC3339),
		"source":       "web_upload",
	}

	if s.useWalrus {
		blobID, err := s.walrusClient.Store(ctx, content, metadata)
		if err != nil {
			// 远程不可用不是请求错误：落回仅本地模式并在响应中说明
			log.Warnf("[DocumentService] 存储 %s 到 Walrus 失败, 回退本地: %v", filename, err)
			result.WalrusError = err.Error()
		} else {
			if mapErr := s.docMap.Add(filename, blobID, metadata); mapErr != nil {
				log.Warnf("[DocumentService] 更新文档映射失败: %v", mapErr)
			}
			result.BlobID = blobID
			result.Storage = model.SourceWalrus
			log.Infof("[DocumentService] %s 已存入 Walrus, blob_id: %s", filename, blobID)
		}
	}

	if err := s.writeLocal(filename, content); err != nil {
		if result.Storage != model.SourceWalrus {
			// 两层都没写成功，这次上传是真失败
			return nil, fmt.Errorf("failed to save file locally: %w", err)
		}
		// 远程已成功时本地副本尽力而为
		log.Warnf("[DocumentService] 写入本地副本 %s 失败: %v", filename, err)
	}

	s.triggerIngest(ctx, "upload:"+filename)
	return result, nil
}

func (s *documentService) Append(ctx context.Context, filename, content string) (*AppendResult, error) {
	result := &AppendResult{Filename: filename, Storage: model.SourceLocal}
	localPath := filepath.Join(s.cfg.DataDir, filename)

	// 读出既有全文：远程优先，失败回退本地
	var existing string
	haveExisting := false
	if s.useWalrus {
		if blobID, ok := s.docMap.BlobIDFor(filename); ok {
			old, err := s.walrusClient.Retrieve(ctx, blobID)
			if err != nil {
				log.Warnf("[DocumentService] 从 Walrus 读取 %s 失败, 回退本地: %v", filename, err)
				result.WalrusError = err.Error()
			} else {
				existing = string(old)
				haveExisting = true
			}
		}
	}
	if !haveExisting {
		old, err := os.ReadFile(localPath)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, ErrFileNotFound
			}
			return nil, fmt.Errorf("failed to read local file: %w", err)
		}
		existing = string(old)
	}

	newContent := existing + "\n" + content

	if s.useWalrus {
		metadata := map[string]any{
			"filename":     filename,
			"content_type": "text/plain",
			"timestamp":    time.Now().Format(time.RFC3339),
			"updated":      true,
			"source":       "web_append",
		}
		// 追加即重写：新 blob 整体取代旧映射，不保留历史
		blobID, err := s.walrusClient.Store(ctx, []byte(newContent), metadata)
		if err != nil {
			log.Warnf("[DocumentService] 重新存储 %s 到 Walrus 失败, 回退本地: %v", filename, err)
			result.WalrusError = err.Error()
		} else {
			if mapErr := s.docMap.Add(filename, blobID, metadata); mapErr != nil {
				log.Warnf("[DocumentService] 更新文档映射失败: %v", mapErr)
			}
			result.BlobID = blobID
			result.Storage = model.SourceWalrus
			log.Infof("[DocumentService] %s 已更新到 Walrus, 新 blob_id: %s", filename, blobID)
		}
	}

	if err := s.writeLocal(filename, []byte(newContent)); err != nil {
		if result.Storage != model.SourceWalrus {
			return nil, fmt.Errorf("failed to append to local file: %w", err)
		}
		log.Warnf("[DocumentService] 更新本地副本 %s 失败: %v", filename, err)
	}

	s.triggerIngest(ctx, "append:"+filename)
	return result, nil
}

func (s *documentService) BlobInfo(ctx context.Context, blobID string) (*model.BlobDescriptor, error) {
	return s.walrusClient.Info(ctx, blobID)
}

func (s *documentService) Health(ctx context.Context) HealthStatus {
	status := HealthStatus{Status: "ok", WalrusStatus: "disabled", StorageType: model.SourceLocal}
	if !s.useWalrus {
		return status
	}
	if _, err := s.walrusClient.List(ctx); err != nil {
		status.WalrusStatus = "error: " + err.Error()
		return status
	}
	status.WalrusStatus = "ok"
	status.StorageType = model.SourceWalrus
	return status
}

func (s *documentService) writeLocal(filename string, content []byte) error {
	if err := os.MkdirAll(s.cfg.DataDir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.cfg.DataDir, filename), content, 0o644)
}

func (s *documentService) triggerIngest(ctx context.Context, reason string) {
	if err := s.trigger.Trigger(ctx, reason); err != nil {
		// 摄取失败不影响上传/追加本身，旧一代索引继续服务
		log.Errorf("[DocumentService] 触发摄取失败 (%s): %v", reason, err)
	}
}

// Package repository 提供了数据访问层的实现。
package repository

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"sewn-rag-go/internal/model"
	"sewn-rag-go/pkg/log"
)

// DocumentMap 定义了文件名到远程 blob 位置的持久化映射。
// 缺失的文件名不是错误，表示"仅本地或不存在"。
type DocumentMap interface {
	// Add 插入或覆盖一条记录并立即持久化整个映射，总是刷新时间戳。
	Add(filename, blobID string, metadata map[string]any) error
	// BlobIDFor 返回映射的 blob_id；第二个返回值为 false 表示无记录。
	BlobIDFor(filename string) (string, bool)
	// List 返回所有已知的文件名，顺序不作保证。
	List() []string
	// Exists 报告某个文件名是否在映射中。
	Exists(filename string) bool
	// Remove 删除记录（若存在）并持久化；返回是否发生了删除。幂等。
	Remove(filename string) (bool, error)
}

type fileDocumentMap struct {
	mu      sync.Mutex
	path    string
	records map[string]model.DocumentRecord
}

// NewDocumentMap 创建一个以 JSON 文件为后备存储的 DocumentMap。
// 文件缺失或损坏时从空映射开始，不视为错误。
func NewDocumentMap(path string) DocumentMap {
	m := &fileDocumentMap{
		path:    path,
		records: make(map[string]model.DocumentRecord),
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warnf("[DocumentMap] 读取映射文件失败, 将从空映射开始: %v", err)
		}
		return m
	}
	if err := json.Unmarshal(data, &m.records); err != nil {
		log.Warnf("[DocumentMap] 映射文件损坏, 将从空映射开始: %v", err)
		m.records = make(map[string]model.DocumentRecord)
	}
	return m
}

func (m *fileDocumentMap) Add(filename, blobID string, metadata map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if metadata == nil {
		metadata = map[string]any{}
	}
	m.records[filename] = model.DocumentRecord{
		BlobID:    blobID,
		Timestamp: time.Now(),
		Metadata:  metadata,
	}
	return m.persistLocked()
}

func (m *fileDocumentMap) BlobIDFor(filename string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[filename]
	if !ok {
		return "", false
	}
	return rec.BlobID, true
}

func (m *fileDocumentMap) List() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.records))
	for name := range m.records {
		names = append(names, name)
	}
	// 排序只是为了日志与测试的可读性，调用方不依赖顺序。
	sort.Strings(names)
	return names
}

func (m *fileDocumentMap) Exists(filename string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.records[filename]
	return ok
}

func (m *fileDocumentMap) Remove(filename string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[filename]; !ok {
		return false, nil
	}
	delete(m.records, filename)
	if err := m.persistLocked(); err != nil {
		return true, err
	}
	return true, nil
}

// persistLocked 将整个映射写入磁盘。先写临时文件再原子重命名，
// 避免崩溃在写入中途时损坏后备文件。
func (m *fileDocumentMap) persistLocked() error {
	data, err := json.MarshalIndent(m.records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal document map: %w", err)
	}
	return atomicWriteFile(m.path, data)
}

// atomicWriteFile 通过临时文件加重命名的方式原子地写入文件。
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

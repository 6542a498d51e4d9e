package artifact

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"sewn-rag-go/pkg/log"
)

// SideTable 记录三个工件在远程存储中的 blob_id（工件名 → blob_id），
// 持久化在本地 JSON 文件中。它是定位远程工件副本的唯一途径，
// 丢失时只能整体重建索引。
type SideTable struct {
	mu   sync.Mutex
	path string
	ids  map[string]string
}

// LoadSideTable 从磁盘加载侧表。文件缺失或损坏时从空表开始。
func LoadSideTable(path string) *SideTable {
	t := &SideTable{path: path, ids: make(map[string]string)}
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warnf("[SideTable] 读取侧表文件失败, 将从空表开始: %v", err)
		}
		return t
	}
	if err := json.Unmarshal(data, &t.ids); err != nil {
		log.Warnf("[SideTable] 侧表文件损坏, 将从空表开始: %v", err)
		t.ids = make(map[string]string)
	}
	return t
}

// Complete 报告侧表是否包含全部三个工件的 blob_id。
// 只有完整时才允许尝试远程加载，避免拼出跨层的混合工件集。
func (t *SideTable) Complete() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, name := range Names {
		if t.ids[name] == "" {
			return false
		}
	}
	return true
}

// Get 返回某个工件的 blob_id。
func (t *SideTable) Get(name string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id, ok := t.ids[name]
	return id, ok && id != ""
}

// Replace 整体替换侧表内容并原子持久化到磁盘。
func (t *SideTable) Replace(ids map[string]string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	next := make(map[string]string, len(ids))
	for k, v := range ids {
		next[k] = v
	}
	data, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal side table: %w", err)
	}
	if err := atomicWrite(t.path, data); err != nil {
		return fmt.Errorf("failed to persist side table: %w", err)
	}
	t.ids = next
	return nil
}

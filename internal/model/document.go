// Package model 包含了应用的数据模型定义。
package model

import "time"

// 文档内容的来源层：远程 Walrus 块存储或本地文件系统。
const (
	SourceWalrus = "walrus"
	SourceLocal  = "local"
)

// DocumentRecord 是文档映射文件中的一条记录，描述某个逻辑文件名
// 当前对应的远程 blob 位置。一个文件名最多映射一个活跃的 blob_id，
// 新的存储操作整体取代旧映射，不保留历史。
type DocumentRecord struct {
	BlobID    string         `json:"blob_id"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata"`
}

// DocumentMeta 是向量工件元数据列表中的一项。列表按位置与索引中的
// 向量一一对应：Metadata[i] 描述向量 i 所来自的文档。
type DocumentMeta struct {
	FilePath string `json:"file_path"`
	FileName string `json:"file_name"`
	BlobID   string `json:"blob_id,omitempty"`
	Source   string `json:"source"`
}

// RetrievedDocument 是一次检索命中的文档内容及其出处。
type RetrievedDocument struct {
	Content  string `json:"content"`
	FileName string `json:"file_name"`
	FilePath string `json:"file_path"`
	// Source 标记内容实际取自哪一层（walrus 或 local），用于观测。
	Source string `json:"source"`
}

// BlobDescriptor 描述远程存储中的一个 blob。当 list 接口查不到
// 而 retrieve 能确认存在时，返回降级的描述（Exists 为 true 但无元数据）。
type BlobDescriptor struct {
	BlobID    string         `json:"blob_id"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp string         `json:"timestamp,omitempty"`
	Size      int64          `json:"size,omitempty"`
	Exists    bool           `json:"exists,omitempty"`
	Message   string         `json:"message,omitempty"`
}

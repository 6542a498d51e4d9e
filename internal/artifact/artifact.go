// Package artifact 负责三个检索工件（索引、向量器、文档元数据）的
// 序列化、本地持久化以及远程 blob_id 侧表。三个工件必须作为一个
// 整体保存和加载：缺少任何一个或任何一个损坏时整套视为不存在。
package artifact

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"sewn-rag-go/internal/embedding"
	"sewn-rag-go/internal/index"
	"sewn-rag-go/internal/model"
)

// 工件名称，同时用作远程侧表的键与本地文件名的前缀。
const (
	NameIndex      = "index"
	NameVectorizer = "vectorizer"
	NameMetadata   = "metadata"
)

// Names 按固定顺序列出三个工件名。
var Names = []string{NameIndex, NameVectorizer, NameMetadata}

var (
	// ErrNotFound 表示某一层中没有完整的工件集。
	ErrNotFound = errors.New("artifact set not found")
	// ErrCorrupt 表示工件反序列化失败；调用方应视整套工件为不存在。
	ErrCorrupt = errors.New("artifact corrupt")
	// ErrAlignment 表示元数据列表长度与索引大小不一致。
	// 该不变量绝不应被违反，摄取过程中出现时视为致命错误。
	ErrAlignment = errors.New("artifact metadata/index alignment violation")
)

// Set 是一次摄取产出的完整工件集。Metadata[i] 与索引中的向量 i 按
// 位置一一对应；缺失匹配的向量器或元数据的索引是不可用的。
type Set struct {
	Index      *index.Flat
	Vectorizer *embedding.Vectorizer
	Metadata   []model.DocumentMeta
}

// Validate 校验位置对齐不变量。
func (s *Set) Validate() error {
	if s.Index == nil || s.Vectorizer == nil {
		return ErrNotFound
	}
	if len(s.Metadata) != s.Index.Size() {
		return fmt.Errorf("%w: metadata has %d entries, index has %d vectors",
			ErrAlignment, len(s.Metadata), s.Index.Size())
	}
	return nil
}

// Encode 把三个工件各自独立序列化为字节，便于分别存储到任一层。
func (s *Set) Encode() (map[string][]byte, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	blobs := make(map[string][]byte, len(Names))

	var err error
	if blobs[NameIndex], err = gobEncode(s.Index); err != nil {
		return nil, fmt.Errorf("failed to encode index: %w", err)
	}
	if blobs[NameVectorizer], err = gobEncode(s.Vectorizer); err != nil {
		return nil, fmt.Errorf("failed to encode vectorizer: %w", err)
	}
	if blobs[NameMetadata], err = gobEncode(s.Metadata); err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}
	return blobs, nil
}

// Decode 从三段字节重建工件集。任何一段缺失或损坏都返回错误，
// 反序列化失败统一包装为 ErrCorrupt。
func Decode(blobs map[string][]byte) (*Set, error) {
	for _, name := range Names {
		if len(blobs[name]) == 0 {
			return nil, fmt.Errorf("%w: missing artifact %q", ErrNotFound, name)
		}
	}

	set := &Set{
		Index:      &index.Flat{},
		Vectorizer: embedding.NewVectorizer(),
	}
	if err := gobDecode(blobs[NameIndex], set.Index); err != nil {
		return nil, fmt.Errorf("%w: index: %v", ErrCorrupt, err)
	}
	if err := gobDecode(blobs[NameVectorizer], set.Vectorizer); err != nil {
		return nil, fmt.Errorf("%w: vectorizer: %v", ErrCorrupt, err)
	}
	if err := gobDecode(blobs[NameMetadata], &set.Metadata); err != nil {
		return nil, fmt.Errorf("%w: metadata: %v", ErrCorrupt, err)
	}
	if err := set.Validate(); err != nil {
		return nil, err
	}
	return set, nil
}

// SaveLocal 把三个工件写入本地向量存储目录，每个文件原子写入。
func SaveLocal(dir string, blobs map[string][]byte) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create vector store dir: %w", err)
	}
	for _, name := range Names {
		if err := atomicWrite(localPath(dir, name), blobs[name]); err != nil {
			return fmt.Errorf("failed to save artifact %q: %w", name, err)
		}
	}
	return nil
}

// LoadLocal 从本地向量存储目录读出三个工件的字节。
// 任一文件缺失时返回 ErrNotFound。
func LoadLocal(dir string) (map[string][]byte, error) {
	blobs := make(map[string][]byte, len(Names))
	for _, name := range Names {
		data, err := os.ReadFile(localPath(dir, name))
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("%w: local artifact %q missing", ErrNotFound, name)
			}
			return nil, fmt.Errorf("failed to read local artifact %q: %w", name, err)
		}
		blobs[name] = data
	}
	return blobs, nil
}

func localPath(dir, name string) string {
	return filepath.Join(dir, name+".gob")
}

func gobEncode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gobDecode(data []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"sewn-rag-go/internal/artifact"
	"sewn-rag-go/internal/config"
	"sewn-rag-go/internal/model"
	"sewn-rag-go/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeWalrus 是内存实现的 walrus.Client，可配置在第 N 次 Store 后开始失败。
type fakeWalrus struct {
	mu          sync.Mutex
	blobs       map[string][]byte
	nextID      int
	storeQuota int // 负数表示不限制
}

func newFakeWalrus() *fakeWalrus {
	return &fakeWalrus{blobs: make(map[string][]byte), storeQuota: -1}
}

func (f *fakeWalrus) Store(_ context.Context, content []byte, _ map[string]any) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.storeQuota == 0 {
		return "", errors.New("walrus remote unavailable")
	}
	if f.storeQuota > 0 {
		f.storeQuota--
	}
	f.nextID++
	id := fmt.Sprintf("blob-%d", f.nextID)
	f.blobs[id] = append([]byte(nil), content...)
	return id, nil
}

func (f *fakeWalrus) Retrieve(_ context.Context, blobID string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	content, ok := f.blobs[blobID]
	if !ok {
		return nil, errors.New("walrus blob not found")
	}
	return content, nil
}

func (f *fakeWalrus) List(_ context.Context) ([]model.BlobDescriptor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	descriptors := make([]model.BlobDescriptor, 0, len(f.blobs))
	for id := range f.blobs {
		descriptors = append(descriptors, model.BlobDescriptor{BlobID: id, Exists: true})
	}
	return descriptors, nil
}

func (f *fakeWalrus) Info(ctx context.Context, blobID string) (*model.BlobDescriptor, error) {
	if _, err := f.Retrieve(ctx, blobID); err != nil {
		return nil, err
	}
	return &model.BlobDescriptor{BlobID: blobID, Exists: true}, nil
}

func testDocumentsConfig(t *testing.T) config.DocumentsConfig {
	t.Helper()
	base := t.TempDir()
	return config.DocumentsConfig{
		DataDir:        filepath.Join(base, "documents"),
		VectorStoreDir: filepath.Join(base, "vector_store"),
		MapFile:        filepath.Join(base, "document_map.json"),
		SideTableFile:  filepath.Join(base, "vector_store_blob_ids.json"),
		LockFile:       filepath.Join(base, "ingest.lock"),
		Extensions:     []string{".txt"},
	}
}

func writeDoc(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestIngesterLocalOnly(t *testing.T) {
	cfg := testDocumentsConfig(t)
	writeDoc(t, cfg.DataDir, "alpha.txt", "apples and bananas are tasty")
	writeDoc(t, cfg.DataDir, "beta.txt", "cars and engines are loud")

	docMap := repository.NewDocumentMap(cfg.MapFile)
	sideTable := artifact.LoadSideTable(cfg.SideTableFile)
	ing := NewIngester(newFakeWalrus(), docMap, sideTable, cfg, false)

	summary, err := ing.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Documents)
	assert.Greater(t, summary.Dimension, 0)

	// 本地工件可以整套加载并通过对齐校验
	blobs, err := artifact.LoadLocal(cfg.VectorStoreDir)
	require.NoError(t, err)
	set, err := artifact.Decode(blobs)
	require.NoError(t, err)
	require.NoError(t, set.Validate())
	require.Len(t, set.Metadata, 2)
	assert.Equal(t, "alpha.txt", set.Metadata[0].FileName)
	assert.Equal(t, "beta.txt", set.Metadata[1].FileName)
	assert.Equal(t, model.SourceLocal, set.Metadata[0].Source)

	// 仅本地模式不触碰侧表
	assert.False(t, sideTable.Complete())
}

func TestIngesterUploadsLocalFilesToWalrus(t *testing.T) {
	cfg := testDocumentsConfig(t)
	writeDoc(t, cfg.DataDir, "alpha.txt", "apples and bananas are tasty")
	writeDoc(t, cfg.DataDir, "beta.txt", "cars and engines are loud")

	fake := newFakeWalrus()
	docMap := repository.NewDocumentMap(cfg.MapFile)
	sideTable := artifact.LoadSideTable(cfg.SideTableFile)
	ing := NewIngester(fake, docMap, sideTable, cfg, true)

	summary, err := ing.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Documents)

	// 本地文件被顺带迁移到远程并登记进文档映射
	blobID, ok := docMap.BlobIDFor("alpha.txt")
	assert.True(t, ok)
	content, err := fake.Retrieve(context.Background(), blobID)
	require.NoError(t, err)
	assert.Equal(t, "apples and bananas are tasty", string(content))

	// 三个工件全部存储成功后侧表才算完整
	assert.True(t, sideTable.Complete())
}

func TestIngesterPrefersWalrusCopies(t *testing.T) {
	cfg := testDocumentsConfig(t)
	fake := newFakeWalrus()
	docMap := repository.NewDocumentMap(cfg.MapFile)
	sideTable := artifact.LoadSideTable(cfg.SideTableFile)

	// 远程已有 alpha.txt 的副本；本地目录只有 beta.txt
	blobID, err := fake.Store(context.Background(), []byte("apples and bananas are tasty"), nil)
	require.NoError(t, err)
	require.NoError(t, docMap.Add("alpha.txt", blobID, nil))
	writeDoc(t, cfg.DataDir, "beta.txt", "cars and engines are loud")

	ing := NewIngester(fake, docMap, sideTable, cfg, true)
	summary, err := ing.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Documents)

	blobs, err := artifact.LoadLocal(cfg.VectorStoreDir)
	require.NoError(t, err)
	set, err := artifact.Decode(blobs)
	require.NoError(t, err)
	// 远程副本排在本地补充的文件之前
	assert.Equal(t, "alpha.txt", set.Metadata[0].FileName)
	assert.Equal(t, model.SourceWalrus, set.Metadata[0].Source)
	assert.Equal(t, "beta.txt", set.Metadata[1].FileName)
}

func TestIngesterRemoteFailureKeepsLocalArtifacts(t *testing.T) {
	cfg := testDocumentsConfig(t)
	writeDoc(t, cfg.DataDir, "alpha.txt", "apples and bananas are tasty")
	writeDoc(t, cfg.DataDir, "beta.txt", "cars and engines are loud")

	fake := newFakeWalrus()
	fake.storeQuota = 0 // 所有 Store 都失败
	docMap := repository.NewDocumentMap(cfg.MapFile)
	sideTable := artifact.LoadSideTable(cfg.SideTableFile)
	ing := NewIngester(fake, docMap, sideTable, cfg, true)

	summary, err := ing.Run(context.Background())
	require.NoError(t, err, "remote failures must not abort ingestion")
	assert.Equal(t, 2, summary.Documents)

	_, err = artifact.LoadLocal(cfg.VectorStoreDir)
	require.NoError(t, err, "local artifacts must be written regardless of remote failures")
	assert.False(t, sideTable.Complete())
}

func TestIngesterPartialArtifactStoreKeepsSideTableIncomplete(t *testing.T) {
	cfg := testDocumentsConfig(t)
	writeDoc(t, cfg.DataDir, "alpha.txt", "apples and bananas are tasty")
	writeDoc(t, cfg.DataDir, "beta.txt", "cars and engines are loud")

	fake := newFakeWalrus()
	// 2 次文档上传 + 1 个工件存储成功，其余失败
	fake.storeQuota = 3
	docMap := repository.NewDocumentMap(cfg.MapFile)
	sideTable := artifact.LoadSideTable(cfg.SideTableFile)
	ing := NewIngester(fake, docMap, sideTable, cfg, true)

	_, err := ing.Run(context.Background())
	require.NoError(t, err)
	// 三个工件必须全部成功才替换侧表
	assert.False(t, sideTable.Complete())
}

func TestIngesterSkipsDisallowedExtensions(t *testing.T) {
	cfg := testDocumentsConfig(t)
	writeDoc(t, cfg.DataDir, "alpha.txt", "apples and bananas are tasty")
	writeDoc(t, cfg.DataDir, "notes.md", "this must be ignored")

	docMap := repository.NewDocumentMap(cfg.MapFile)
	sideTable := artifact.LoadSideTable(cfg.SideTableFile)
	ing := NewIngester(newFakeWalrus(), docMap, sideTable, cfg, false)

	summary, err := ing.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Documents)
}

func TestIngesterEmptyCorpus(t *testing.T) {
	cfg := testDocumentsConfig(t)

	docMap := repository.NewDocumentMap(cfg.MapFile)
	sideTable := artifact.LoadSideTable(cfg.SideTableFile)
	ing := NewIngester(newFakeWalrus(), docMap, sideTable, cfg, false)

	_, err := ing.Run(context.Background())
	assert.Error(t, err)
}

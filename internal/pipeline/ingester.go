// Package pipeline 定义了文档摄取的核心流程：收集语料、拟合向量器、
// 构建平坦索引，并把三个工件持久化到远程与本地两层。
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"sewn-rag-go/internal/artifact"
	"sewn-rag-go/internal/config"
	"sewn-rag-go/internal/embedding"
	"sewn-rag-go/internal/index"
	"sewn-rag-go/internal/model"
	"sewn-rag-go/internal/repository"
	"sewn-rag-go/pkg/log"
	"sewn-rag-go/pkg/walrus"

	"github.com/gofrs/flock"
)

// Ingester 封装了摄取流程的所有依赖。每次运行整体重建工件集，
// 不存在增量更新路径。
type Ingester struct {
	walrusClient walrus.Client
	docMap       repository.DocumentMap
	sideTable    *artifact.SideTable
	cfg          config.DocumentsConfig
	useWalrus    bool
}

// Summary 是一次摄取的结果统计。
type Summary struct {
	Documents int `json:"documents"`
	Dimension int `json:"dimension"`
}

// NewIngester 创建一个新的 Ingester。useWalrus 为 false 时完全跳过远程层。
func NewIngester(
	walrusClient walrus.Client,
	docMap repository.DocumentMap,
	sideTable *artifact.SideTable,
	cfg config.DocumentsConfig,
	useWalrus bool,
) *Ingester {
	return &Ingester{
		walrusClient: walrusClient,
		docMap:       docMap,
		sideTable:    sideTable,
		cfg:          cfg,
		useWalrus:    useWalrus,
	}
}

// Run 执行一次完整的摄取。通过文件锁串行化：同一时间最多一次摄取在运行。
func (ing *Ingester) Run(ctx context.Context) (*Summary, error) {
	lockPath := ing.lockPath()
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create lock dir: %w", err)
	}
	lock := flock.New(lockPath)
	if err := lock.Lock(); err != nil {
		return nil, fmt.Errorf("failed to acquire ingest lock: %w", err)
	}
	defer lock.Unlock()

	log.Info("[Ingester] 开始摄取")
	start := time.Now()

	// 1. 收集语料：优先远程已迁移的副本，再补本地目录，按文件名去重
	documents, metadata, err := ing.collectDocuments(ctx)
	if err != nil {
		return nil, err
	}
	if len(documents) == 0 {
		return nil, fmt.Errorf("no documents found in %s or document map", ing.cfg.DataDir)
	}
	log.Infof("[Ingester] 步骤1: 语料收集完成, 共 %d 篇文档", len(documents))

	// 2. 在全量语料上拟合 TF-IDF 向量器
	vectorizer := embedding.NewVectorizer()
	matrix, err := vectorizer.FitTransform(documents)
	if err != nil {
		return nil, fmt.Errorf("failed to fit vectorizer: %w", err)
	}
	log.Infof("[Ingester] 步骤2: 向量化完成, 维度: %d", vectorizer.Dimension())

	// 3. 构建平坦欧氏索引；向量与元数据按相同顺序追加，保证位置对齐
	flat := index.NewFlat(vectorizer.Dimension())
	if err := flat.Add(matrix); err != nil {
		return nil, fmt.Errorf("failed to build index: %w", err)
	}

	set := &artifact.Set{Index: flat, Vectorizer: vectorizer, Metadata: metadata}
	if err := set.Validate(); err != nil {
		// 对齐不变量被破坏属于致命错误，而不是可恢复的运行时条件
		return nil, err
	}

	// 4. 持久化：本地无条件写入；远程尽力而为，失败绝不中止本地写入
	blobs, err := set.Encode()
	if err != nil {
		return nil, err
	}
	if err := artifact.SaveLocal(ing.cfg.VectorStoreDir, blobs); err != nil {
		return nil, err
	}
	log.Infof("[Ingester] 步骤4: 工件已写入本地 %s", ing.cfg.VectorStoreDir)

	if ing.useWalrus {
		ing.saveArtifactsToWalrus(ctx, blobs)
	}

	log.Infof("[Ingester] 摄取完成, 文档数: %d, 耗时: %s", len(documents), time.Since(start))
	return &Summary{Documents: len(documents), Dimension: vectorizer.Dimension()}, nil
}

// collectDocuments 收集语料并生成与之严格对齐的元数据列表。
// 文档映射中已有远程副本的文件优先从远程取回，避免重复读取本地磁盘；
// 之后遍历本地目录，补齐尚未收集的文件。
func (ing *Ingester) collectDocuments(ctx context.Context) ([]string, []model.DocumentMeta, error) {
	var documents []string
	var metadata []model.DocumentMeta
	processed := make(map[string]struct{})

	if ing.useWalrus {
		log.Info("[Ingester] 检查 Walrus 存储中的文档...")
		for _, filename := range ing.docMap.List() {
			if !ing.allowedExtension(filename) {
				continue
			}
			blobID, ok := ing.docMap.BlobIDFor(filename)
			if !ok {
				continue
			}
			content, err := ing.walrusClient.Retrieve(ctx, blobID)
			if err != nil {
				log.Warnf("[Ingester] 从 Walrus 加载 %s 失败: %v", filename, err)
				continue
			}
			documents = append(documents, string(content))
			metadata = append(metadata, model.DocumentMeta{
				FilePath: filepath.Join(ing.cfg.DataDir, filename),
				FileName: filename,
				BlobID:   blobID,
				Source:   model.SourceWalrus,
			})
			processed[filename] = struct{}{}
			log.Infof("[Ingester] 已从 Walrus 加载 %s", filename)
		}
	}

	log.Info("[Ingester] 加载本地文档目录...")
	walkErr := filepath.Walk(ing.cfg.DataDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		name := info.Name()
		if _, ok := processed[name]; ok {
			return nil
		}
		if !ing.allowedExtension(name) {
			return nil
		}
		content, err := os.ReadFile(path)
		if err != nil {
			log.Warnf("[Ingester] 读取本地文件 %s 失败: %v", path, err)
			return nil
		}
		meta := model.DocumentMeta{
			FilePath: path,
			FileName: name,
			Source:   model.SourceLocal,
		}
		// 尚未迁移到远程的本地文件顺带上传（尽力而为）
		if ing.useWalrus {
			blobMeta := map[string]any{
				"filename":     name,
				"content_type": "text/plain",
				"source":       "ingest",
			}
			blobID, storeErr := ing.walrusClient.Store(ctx, content, blobMeta)
			if storeErr != nil {
				log.Warnf("[Ingester] 上传 %s 到 Walrus 失败: %v", name, storeErr)
			} else if mapErr := ing.docMap.Add(name, blobID, blobMeta); mapErr != nil {
				log.Warnf("[Ingester] 更新文档映射 %s 失败: %v", name, mapErr)
			} else {
				meta.BlobID = blobID
				log.Infof("[Ingester] 已上传 %s 到 Walrus, blob_id: %s", name, blobID)
			}
		}
		documents = append(documents, string(content))
		metadata = append(metadata, meta)
		processed[name] = struct{}{}
		return nil
	})
	if walkErr != nil && !os.IsNotExist(walkErr) {
		return nil, nil, fmt.Errorf("failed to walk data dir: %w", walkErr)
	}

	return documents, metadata, nil
}

// saveArtifactsToWalrus 把三个工件分别存入远程，全部成功后才替换侧表。
// 部分成功会留下指向旧代工件的侧表，比记录混合代次更安全。
func (ing *Ingester) saveArtifactsToWalrus(ctx context.Context, blobs map[string][]byte) {
	ids := make(map[string]string, len(artifact.Names))
	for _, name := range artifact.Names {
		blobID, err := ing.walrusClient.Store(ctx, blobs[name], map[string]any{
			"content_type": "application/octet-stream",
			"type":         name,
		})
		if err != nil {
			log.Warnf("[Ingester] 存储工件 %q 到 Walrus 失败, 保持本地模式: %v", name, err)
			return
		}
		ids[name] = blobID
		log.Infof("[Ingester] 工件 %q 已存入 Walrus, blob_id: %s", name, blobID)
	}
	if err := ing.sideTable.Replace(ids); err != nil {
		log.Warnf("[Ingester] 持久化工件侧表失败: %v", err)
		return
	}
	log.Info("[Ingester] 工件侧表已更新")
}

func (ing *Ingester) allowedExtension(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, allowed := range ing.cfg.Extensions {
		if ext == strings.ToLower(allowed) {
			return true
		}
	}
	return false
}

func (ing *Ingester) lockPath() string {
	if ing.cfg.LockFile != "" {
		return ing.cfg.LockFile
	}
	return filepath.Join(ing.cfg.VectorStoreDir, "ingest.lock")
}

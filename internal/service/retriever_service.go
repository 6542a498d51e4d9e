// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"os"
	"sync"
	"sync/atomic"

	"sewn-rag-go/internal/artifact"
	"sewn-rag-go/internal/config"
	"sewn-rag-go/internal/model"
	"sewn-rag-go/internal/repository"
	"sewn-rag-go/pkg/log"
	"sewn-rag-go/pkg/walrus"
)

// State 描述检索器的生命周期状态。
type State string

const (
	// StateUninitialized 表示尚未尝试加载工件。
	StateUninitialized State = "uninitialized"
	// StateServing 表示工件已加载，可以服务查询。
	StateServing State = "serving"
	// StateDegraded 表示两层加载均失败；检索返回空结果而不报错，
	// 让上层的聊天链路平滑退化为无增强回答。
	StateDegraded State = "degraded"
)

// DefaultTopK 是检索返回的最近邻数量默认值。
const DefaultTopK = 3

// RetrieverService 定义了向量检索的操作接口。
type RetrieverService interface {
	// Load 按"远程优先、本地兜底"加载工件集并原子切换快照。
	Load(ctx context.Context)
	// Reload 在摄取完成后重新加载工件集，等价于再次 Load。
	Reload(ctx context.Context)
	// RetrieveDocuments 返回与查询最相关的 k 篇文档（k<=0 时取默认值）。
	// 未处于服务状态时返回空切片，绝不把远程层故障暴露给调用方。
	RetrieveDocuments(ctx context.Context, query string, k int) []model.RetrievedDocument
	// State 返回当前状态。
	State() State
}

type retrieverService struct {
	walrusClient walrus.Client
	docMap       repository.DocumentMap
	sideTable    *artifact.SideTable
	cfg          config.DocumentsConfig
	useWalrus    bool

	// snapshot 持有不可变的当前工件集；Load/Reload 整体替换指针，
	// 进行中的查询要么看到完整的旧集，要么看到完整的新集。
	snapshot atomic.Pointer[artifact.Set]

	stateMu sync.Mutex
	state   State
}

// NewRetrieverService 创建一个新的 RetrieverService。调用方应随后执行 Load。
func NewRetrieverService(
	walrusClient walrus.Client,
	docMap repository.DocumentMap,
	sideTable *artifact.SideTable,
	cfg config.DocumentsConfig,
	useWalrus bool,
) RetrieverService {
	return &retrieverService{
		walrusClient: walrusClient,
		docMap:       docMap,
		sideTable:    sideTable,
		cfg:          cfg,
		useWalrus:    useWalrus,
		state:        StateUninitialized,
	}
}

// Load 加载工件集。仅当侧表包含全部三个工件时才尝试远程；任何一个
// 工件远程加载失败都放弃整次远程尝试并整体回退本地，绝不跨层拼接。
func (s *retrieverService) Load(ctx context.Context) {
	if set := s.loadFromWalrus(ctx); set != nil {
		s.swap(set)
		return
	}

	set, err := s.loadFromLocal()
	if err != nil {
		log.Warnf("[Retriever] 本地工件加载失败, 进入降级状态: %v", err)
		s.snapshot.Store(nil)
		s.setState(StateDegraded)
		return
	}
	log.Infof("[Retriever] 已从本地加载工件, 文档数: %d", set.Index.Size())
	s.swap(set)
}

// Reload 在摄取完成后调用，重新加载并原子切换工件集。
func (s *retrieverService) Reload(ctx context.Context) {
	s.Load(ctx)
}

func (s *retrieverService) loadFromWalrus(ctx context.Context) *artifact.Set {
	if !s.useWalrus || !s.sideTable.Complete() {
		return nil
	}
	log.Info("[Retriever] 尝试从 Walrus 加载工件...")
	blobs := make(map[string][]byte, len(artifact.Names))
	for _, name := range artifact.Names {
		blobID, _ := s.sideTable.Get(name)
		data, err := s.walrusClient.Retrieve(ctx, blobID)
		if err != nil {
			log.Warnf("[Retriever] 从 Walrus 加载工件 %q 失败, 整体回退本地: %v", name, err)
			return nil
		}
		blobs[name] = data
	}
	set, err := artifact.Decode(blobs)
	if err != nil {
		log.Warnf("[Retriever] 远程工件解码失败, 整体回退本地: %v", err)
		return nil
	}
	log.Infof("[Retriever] 已从 Walrus 加载工件, 文档数: %d", set.Index.Size())
	return set
}

func (s *retrieverService) loadFromLocal() (*artifact.Set, error) {
	blobs, err := artifact.LoadLocal(s.cfg.VectorStoreDir)
	if err != nil {
		return nil, err
	}
	return artifact.Decode(blobs)
}

func (s *retrieverService) swap(set *artifact.Set) {
	s.snapshot.Store(set)
	s.setState(StateServing)
}

func (s *retrieverService) setState(state State) {
	s.stateMu.Lock()
	s.state = state
	s.stateMu.Unlock()
}

// State 返回当前状态。
func (s *retrieverService) State() State {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

// RetrieveDocuments 执行最近邻查询并解析命中文档的内容。
func (s *retrieverService) RetrieveDocuments(ctx context.Context, query string, k int) []model.RetrievedDocument {
	set := s.snapshot.Load()
	if set == nil {
		log.Warn("[Retriever] 工件未加载, 返回空结果")
		return []model.RetrievedDocument{}
	}
	if k <= 0 {
		k = DefaultTopK
	}

	queryVec, err := set.Vectorizer.Transform(query)
	if err != nil {
		log.Errorf("[Retriever] 查询向量化失败: %v", err)
		return []model.RetrievedDocument{}
	}
	hits, err := set.Index.Search(queryVec, k)
	if err != nil {
		log.Errorf("[Retriever] 最近邻查询失败: %v", err)
		return []model.RetrievedDocument{}
	}

	results := make([]model.RetrievedDocument, 0, len(hits))
	for _, hit := range hits {
		if hit.Ordinal >= len(set.Metadata) {
			continue
		}
		meta := set.Metadata[hit.Ordinal]
		doc, ok := s.resolveContent(ctx, meta)
		if !ok {
			// 两层都取不到内容时静默跳过；返回不足 k 条是合法的
			log.Warnf("[Retriever] 无法解析文档 %s 的内容, 跳过", meta.FileName)
			continue
		}
		results = append(results, doc)
	}
	return results
}

// resolveContent 解析命中文档的内容：优先远程（按文档映射中的 blob_id），
// 任何失败都回退到元数据记录的本地路径。
func (s *retrieverService) resolveContent(ctx context.Context, meta model.DocumentMeta) (model.RetrievedDocument, bool) {
	if s.useWalrus {
		if blobID, ok := s.docMap.BlobIDFor(meta.FileName); ok {
			content, err := s.walrusClient.Retrieve(ctx, blobID)
			if err == nil {
				return model.RetrievedDocument{
					Content:  string(content),
					FileName: meta.FileName,
					FilePath: meta.FilePath,
					Source:   model.SourceWalrus,
				}, true
			}
			log.Warnf("[Retriever] 从 Walrus 取回 %s 失败, 回退本地: %v", meta.FileName, err)
		}
	}

	content, err := os.ReadFile(meta.FilePath)
	if err != nil {
		return model.RetrievedDocument{}, false
	}
	return model.RetrievedDocument{
		Content:  string(content),
		FileName: meta.FileName,
		FilePath: meta.FilePath,
		Source:   model.SourceLocal,
	}, true
}

package handler

import (
	"net/http"
	"strconv"

	"sewn-rag-go/internal/service"

	"github.com/gin-gonic/gin"
)

// SearchHandler 负责处理向量检索相关的 API 请求。
type SearchHandler struct {
	retriever service.RetrieverService
}

// NewSearchHandler 创建一个新的 SearchHandler 实例。
func NewSearchHandler(retriever service.RetrieverService) *SearchHandler {
	return &SearchHandler{retriever: retriever}
}

// Search 处理最近邻检索请求。检索器未就绪时返回空结果而不是错误。
func (h *SearchHandler) Search(c *gin.Context) {
	query := c.Query("query")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少查询参数 query"})
		return
	}

	topK := 0
	if v := c.Query("topK"); v != "" {
		k, err := strconv.Atoi(v)
		if err != nil || k < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "无效的 topK 参数"})
			return
		}
		topK = k
	}

	docs := h.retriever.RetrieveDocuments(c.Request.Context(), query, topK)
	c.JSON(http.StatusOK, gin.H{
		"query":   query,
		"results": docs,
		"state":   h.retriever.State(),
	})
}

// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"sewn-rag-go/internal/service"
	"sewn-rag-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// DocumentHandler 负责处理所有与文档管理相关的 API 请求。
type DocumentHandler struct {
	docService service.DocumentService
}

// NewDocumentHandler 创建一个新的 DocumentHandler 实例。
func NewDocumentHandler(docService service.DocumentService) *DocumentHandler {
	return &DocumentHandler{docService: docService}
}

// ListFiles 处理获取知识库文件清单的请求。
func (h *DocumentHandler) ListFiles(c *gin.Context) {
	listing := h.docService.ListFiles()
	c.JSON(http.StatusOK, listing)
}

// Upload 处理上传新文档的请求，只接受 .txt 文本文件。
func (h *DocumentHandler) Upload(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "未能获取上传的文件"})
		return
	}
	defer file.Close()

	filename := filepath.Base(header.Filename)
	if filename == "" || filename == "." {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少文件名"})
		return
	}
	if !strings.HasSuffix(strings.ToLower(filename), ".txt") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "只支持 .txt 文本文件"})
		return
	}

	content, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "读取上传内容失败"})
		return
	}

	result, err := h.docService.Upload(c.Request.Context(), filename, content)
	if err != nil {
		log.Error("Upload: failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "文件上传失败: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

// AppendRequest 定义了追加内容 API 的请求体结构。
type AppendRequest struct {
	Filename string `json:"filename" binding:"required"`
	Content  string `json:"content" binding:"required"`
}

// Append 处理向既有文档追加内容的请求。
func (h *DocumentHandler) Append(c *gin.Context) {
	var req AppendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求负载"})
		return
	}

	filename := filepath.Base(req.Filename)
	if !strings.HasSuffix(strings.ToLower(filename), ".txt") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "只支持 .txt 文本文件"})
		return
	}

	result, err := h.docService.Append(c.Request.Context(), filename, req.Content)
	if err != nil {
		if errors.Is(err, service.ErrFileNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "文件不存在"})
			return
		}
		log.Error("Append: failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "追加内容失败: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

// BlobInfo 处理查询单个 blob 远程描述的请求。
func (h *DocumentHandler) BlobInfo(c *gin.Context) {
	blobID := c.Param("blobId")
	if blobID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少 blob ID"})
		return
	}

	info, err := h.docService.BlobInfo(c.Request.Context(), blobID)
	if err != nil {
		log.Warnf("BlobInfo: failed for %s: %v", blobID, err)
		c.JSON(http.StatusNotFound, gin.H{"error": "blob 不存在或远程存储不可用"})
		return
	}
	c.JSON(http.StatusOK, info)
}

// Health 处理健康检查请求。
func (h *DocumentHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, h.docService.Health(c.Request.Context()))
}

// Package main 是应用程序的入口点。
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sewn-rag-go/internal/artifact"
	"sewn-rag-go/internal/config"
	"sewn-rag-go/internal/handler"
	"sewn-rag-go/internal/middleware"
	"sewn-rag-go/internal/pipeline"
	"sewn-rag-go/internal/repository"
	"sewn-rag-go/internal/service"
	"sewn-rag-go/pkg/database"
	"sewn-rag-go/pkg/kafka"
	"sewn-rag-go/pkg/llm"
	"sewn-rag-go/pkg/log"
	"sewn-rag-go/pkg/walrus"

	"github.com/gin-gonic/gin"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	// 3. 初始化 Redis（对话历史与 Kafka 重试计数）
	database.InitRedis(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)

	// 4. 初始化 Walrus 客户端并探测可达性。探测失败只降级为仅本地模式，
	// 服务照常启动。
	walrusClient := walrus.NewClient(cfg.Walrus)
	useWalrus := cfg.Walrus.Enabled
	if useWalrus {
		probeCtx, cancelProbe := context.WithTimeout(context.Background(), time.Duration(cfg.Walrus.Timeout())*time.Second)
		if _, err := walrusClient.List(probeCtx); err != nil {
			log.Warnf("Walrus 不可达, 本次启动使用仅本地模式: %v", err)
			useWalrus = false
		} else {
			log.Info("Walrus 连接正常")
		}
		cancelProbe()
	}

	// 5. 初始化 Repository 与持久化状态
	docMap := repository.NewDocumentMap(cfg.Documents.MapFile)
	sideTable := artifact.LoadSideTable(cfg.Documents.SideTableFile)
	conversationRepo := repository.NewConversationRepository(database.RDB)

	// 6. 初始化 Service (依赖注入)
	llmClient := llm.NewClient(cfg.LLM)
	ingester := pipeline.NewIngester(walrusClient, docMap, sideTable, cfg.Documents, useWalrus)
	retriever := service.NewRetrieverService(walrusClient, docMap, sideTable, cfg.Documents, useWalrus)
	syncTrigger := service.NewSyncIngestTrigger(ingester, retriever)

	// 摄取触发器：启用 Kafka 时由后台消费者异步执行，否则进程内同步执行
	var trigger service.IngestTrigger = syncTrigger
	if cfg.Kafka.Enabled {
		kafka.InitProducer(cfg.Kafka)
		go kafka.StartConsumer(cfg.Kafka, syncTrigger)
		trigger = service.NewKafkaIngestTrigger()
	}

	documentService := service.NewDocumentService(walrusClient, docMap, trigger, cfg.Documents, useWalrus)
	conversationService := service.NewConversationService(conversationRepo)
	chatService := service.NewChatService(retriever, llmClient, conversationRepo, cfg.Retrieval.TopK)

	// 7. 加载向量工件。两层都没有工件时（例如首次启动），尝试一次
	// 全量摄取来初始化索引；语料目录为空时保持降级状态。
	retriever.Load(context.Background())
	if retriever.State() == service.StateDegraded {
		log.Info("未找到向量工件, 尝试初始摄取...")
		if err := syncTrigger.Trigger(context.Background(), "startup"); err != nil {
			log.Warnf("初始摄取失败, 检索保持降级状态: %v", err)
		}
	}

	// 8. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	r.Use(middleware.RequestLogger(), middleware.CORS(cfg.Server.AllowedOrigins), gin.Recovery())

	// 9. 注册路由
	documentHandler := handler.NewDocumentHandler(documentService)
	searchHandler := handler.NewSearchHandler(retriever)
	chatHandler := handler.NewChatHandler(chatService)
	conversationHandler := handler.NewConversationHandler(conversationService)

	r.GET("/health", documentHandler.Health)

	apiV1 := r.Group("/api/v1")
	{
		files := apiV1.Group("/files")
		{
			files.GET("", documentHandler.ListFiles)
			files.POST("/upload", documentHandler.Upload)
			files.POST("/append", documentHandler.Append)
		}

		apiV1.GET("/blob/info/:blobId", documentHandler.BlobInfo)
		apiV1.GET("/search", searchHandler.Search)
		apiV1.POST("/chat/:mode", chatHandler.Chat)
		apiV1.GET("/conversation/:sessionId", conversationHandler.GetHistory)
	}

	// Chat 路由 (WebSocket)
	r.GET("/ws/chat", chatHandler.HandleStream)

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	// 设置一个5秒的超时上下文
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// 关闭 HTTP 服务器
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}
	log.Info("服务已优雅关闭")
}

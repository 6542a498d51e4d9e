// Package main 是独立的批量摄取任务入口，可在服务进程之外手工重建索引。
package main

import (
	"context"
	"flag"
	"time"

	"sewn-rag-go/internal/artifact"
	"sewn-rag-go/internal/config"
	"sewn-rag-go/internal/pipeline"
	"sewn-rag-go/internal/repository"
	"sewn-rag-go/pkg/log"
	"sewn-rag-go/pkg/walrus"
)

func main() {
	configPath := flag.String("config", "./configs/config.yaml", "配置文件路径")
	localOnly := flag.Bool("local-only", false, "跳过 Walrus, 只使用本地文档目录")
	flag.Parse()

	config.Init(*configPath)
	cfg := config.Conf

	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()

	walrusClient := walrus.NewClient(cfg.Walrus)
	useWalrus := cfg.Walrus.Enabled && !*localOnly
	if useWalrus {
		probeCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Walrus.Timeout())*time.Second)
		if _, err := walrusClient.List(probeCtx); err != nil {
			log.Warnf("Walrus 不可达, 本次摄取使用仅本地模式: %v", err)
			useWalrus = false
		}
		cancel()
	}

	docMap := repository.NewDocumentMap(cfg.Documents.MapFile)
	sideTable := artifact.LoadSideTable(cfg.Documents.SideTableFile)
	ingester := pipeline.NewIngester(walrusClient, docMap, sideTable, cfg.Documents, useWalrus)

	summary, err := ingester.Run(context.Background())
	if err != nil {
		log.Fatalf("摄取失败: %v", err)
	}
	log.Infof("摄取完成, 文档数: %d, 维度: %d", summary.Documents, summary.Dimension)
}

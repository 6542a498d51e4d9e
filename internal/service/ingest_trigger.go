package service

import (
	"context"
	"fmt"
	"time"

	"sewn-rag-go/internal/pipeline"
	"sewn-rag-go/pkg/kafka"
	"sewn-rag-go/pkg/log"
	"sewn-rag-go/pkg/tasks"
)

// IngestTrigger 触发一次全量重新摄取。上传与追加操作在落盘后调用它；
// 摄取完成后检索器会被刷新到新一代工件。
type IngestTrigger interface {
	Trigger(ctx context.Context, reason string) error
}

// syncIngestTrigger 在进程内同步执行摄取并刷新检索器。
// 它同时实现 kafka.TaskProcessor，作为异步消费端的实际执行者。
type syncIngestTrigger struct {
	ingester  *pipeline.Ingester
	retriever RetrieverService
}

// NewSyncIngestTrigger 创建进程内同步摄取触发器。
func NewSyncIngestTrigger(ingester *pipeline.Ingester, retriever RetrieverService) *syncIngestTrigger {
	return &syncIngestTrigger{ingester: ingester, retriever: retriever}
}

// Trigger 同步执行一次摄取并刷新检索器快照。
func (t *syncIngestTrigger) Trigger(ctx context.Context, reason string) error {
	summary, err := t.ingester.Run(ctx)
	if err != nil {
		return fmt.Errorf("ingest run failed: %w", err)
	}
	t.retriever.Reload(ctx)
	log.Infof("[IngestTrigger] 摄取完成 (%s), 文档数: %d, 维度: %d", reason, summary.Documents, summary.Dimension)
	return nil
}

// Process 实现 kafka.TaskProcessor，由后台消费者调用。
func (t *syncIngestTrigger) Process(ctx context.Context, task tasks.IngestTask) error {
	return t.Trigger(ctx, task.Reason)
}

// kafkaIngestTrigger 把摄取请求发布到 Kafka，由后台消费者执行。
type kafkaIngestTrigger struct{}

// NewKafkaIngestTrigger 创建基于 Kafka 的异步摄取触发器。
func NewKafkaIngestTrigger() IngestTrigger {
	return &kafkaIngestTrigger{}
}

func (t *kafkaIngestTrigger) Trigger(_ context.Context, reason string) error {
	return kafka.ProduceIngestTask(tasks.IngestTask{
		Reason:      reason,
		RequestedAt: time.Now(),
	})
}

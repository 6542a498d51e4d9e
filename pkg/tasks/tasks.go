// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

import "time"

// IngestTask represents a request to run a full re-ingestion pass.
// 摄取总是整体重建，因此任务只携带触发原因用于日志与重试计数。
type IngestTask struct {
	Reason      string    `json:"reason"`
	RequestedAt time.Time `json:"requested_at"`
}

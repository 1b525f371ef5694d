package renders

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// Task types
const (
	TypeRenderExport = "render:export"
)

// Queue names. Priority tiers render on critical.
const (
	QueueCritical = "critical"
	QueueDefault  = "default"
)

// QueueFor picks the render queue for a tier's queue priority flag
func QueueFor(priority bool) string {
	if priority {
		return QueueCritical
	}
	return QueueDefault
}

// RenderExportPayload contains render task data. Every setting is already
// clamped to the account's entitlements.
type RenderExportPayload struct {
	JobID           string  `json:"jobId"`
	AccountID       string  `json:"accountId"`
	ProjectID       string  `json:"projectId"`
	Tier            string  `json:"tier"`
	Quality         string  `json:"quality"`
	Height          int     `json:"height"`
	Preset          string  `json:"preset,omitempty"`
	AutoZoom        float64 `json:"autoZoom"`
	AdvancedEffects bool    `json:"advancedEffects"`
	Watermark       bool    `json:"watermark"`
	DurationSeconds float64 `json:"durationSeconds"`
}

// QueueClient handles render queue operations
type QueueClient struct {
	client *asynq.Client
	logger *zap.Logger
}

// NewQueueClient creates a new queue client
func NewQueueClient(redisOpt asynq.RedisConnOpt, logger *zap.Logger) *QueueClient {
	client := asynq.NewClient(redisOpt)
	return &QueueClient{
		client: client,
		logger: logger,
	}
}

// Close closes the queue client
func (q *QueueClient) Close() error {
	return q.client.Close()
}

// EnqueueRenderExport queues a render export task on the given queue
func (q *QueueClient) EnqueueRenderExport(ctx context.Context, payload RenderExportPayload, queue string) (*asynq.TaskInfo, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	task := asynq.NewTask(TypeRenderExport, data)

	opts := []asynq.Option{
		asynq.MaxRetry(3),
		asynq.Timeout(2 * time.Hour),
		asynq.TaskID(payload.JobID),
		asynq.Queue(queue),
	}

	info, err := q.client.EnqueueContext(ctx, task, opts...)
	if err != nil {
		q.logger.Error("Failed to enqueue render export task",
			zap.String("job_id", payload.JobID),
			zap.Error(err),
		)
		return nil, err
	}

	q.logger.Info("Render export task enqueued",
		zap.String("task_id", info.ID),
		zap.String("job_id", payload.JobID),
		zap.String("queue", info.Queue),
	)

	return info, nil
}

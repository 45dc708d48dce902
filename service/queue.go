package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ScriptSuite-server/logger"

	"github.com/hibiken/asynq"
)

const (
	TypeAnalysisTask = "analysis:run"
)

type TaskPayload struct {
	TaskID string `json:"task_id"`
}

// Queue hands analysis tasks to the processor.
type Queue interface {
	EnqueueAnalysis(ctx context.Context, taskID string) error
}

// AsynqQueue is the Redis-backed Queue.
type AsynqQueue struct {
	client *asynq.Client
	log    *logger.Logger
}

func RedisOpt(addr, password string) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: addr, Password: password}
}

func NewQueue(redis asynq.RedisClientOpt, log *logger.Logger) *AsynqQueue {
	return &AsynqQueue{
		client: asynq.NewClient(redis),
		log:    log.With("component", "AnalysisQueue"),
	}
}

// NewAnalysisTask builds the queue message for one analysis task.
func NewAnalysisTask(taskID string) (*asynq.Task, error) {
	payload, err := json.Marshal(TaskPayload{TaskID: taskID})
	if err != nil {
		return nil, fmt.Errorf("marshal payload failed: %w", err)
	}
	return asynq.NewTask(TypeAnalysisTask, payload,
		asynq.MaxRetry(3),
		asynq.Timeout(45*time.Minute),
		asynq.Retention(24*time.Hour),
	), nil
}

func (q *AsynqQueue) EnqueueAnalysis(ctx context.Context, taskID string) error {
	task, err := NewAnalysisTask(taskID)
	if err != nil {
		return err
	}
	info, err := q.client.EnqueueContext(ctx, task)
	if err != nil {
		return fmt.Errorf("enqueue failed: %w", err)
	}
	q.log.Debug("Task enqueued", "task_id", taskID, "queue_id", info.ID)
	return nil
}

func (q *AsynqQueue) Close() error {
	return q.client.Close()
}

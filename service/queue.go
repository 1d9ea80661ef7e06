package service

import (
	"encoding/json"
	"fmt"
	"time"

	"ShortsComposer-server/config"

	"github.com/hibiken/asynq"
)

const (
	TypeComposeTask = "task:compose"
)

type TaskPayload struct {
	TaskID string `json:"task_id"`
}

var QueueClient *asynq.Client

func redisOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     config.AppConfig.Redis.Addr,
		Password: config.AppConfig.Redis.Password,
	}
}

// InitQueue 初始化
func InitQueue() {
	QueueClient = asynq.NewClient(redisOpt())
}

// NewComposeTask 构造合成任务；合成失败都是确定性的，不做自动重试
func NewComposeTask(taskID string) (*asynq.Task, error) {
	payload, err := json.Marshal(TaskPayload{TaskID: taskID})
	if err != nil {
		return nil, fmt.Errorf("marshal payload failed: %w", err)
	}
	return asynq.NewTask(TypeComposeTask, payload,
		asynq.MaxRetry(0),
		asynq.Timeout(30*time.Minute),
		asynq.Retention(24*time.Hour), // 任务结果在 Redis 保留时间
	), nil
}

// EnqueueTask 合成任务入队
func EnqueueTask(taskID string) error {
	task, err := NewComposeTask(taskID)
	if err != nil {
		return err
	}
	info, err := QueueClient.Enqueue(task)
	if err != nil {
		return fmt.Errorf("enqueue failed: %w", err)
	}
	logHelper().Infof("[Queue] Task Enqueued: ID=%s, TaskID=%s", taskID, info.ID)
	return nil
}

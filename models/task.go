package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// 任务状态（在系统中统一使用这些状态）
const (
	// pending: 任务已入队，等待执行器取走执行
	TaskStatusPending = "pending"
	// processing: 合成进行中
	TaskStatusProcessing = "processing"
	TaskStatusSuccess    = "finished"
	TaskStatusFailed     = "failed"
	// cancelled: 任务被用户/系统取消
	TaskStatusCancelled = "cancelled"

	TaskTypeCompose = "compose_video" // 图片 + 旁白 -> 成片
)

type Task struct {
	ID                string         `gorm:"primaryKey;type:varchar(64)" json:"id"`
	ProjectId         string         `gorm:"type:varchar(64);index" json:"projectId"`
	ContentId         string         `gorm:"type:varchar(128);index" json:"contentId"`
	Type              string         `json:"type"`
	Status            string         `json:"status"`
	Progress          int            `json:"progress"`
	Message           string         `json:"message"`
	Parameters        TaskParameters `gorm:"type:json" json:"parameters"`
	Result            TaskResult     `gorm:"type:json" json:"result"`
	Error             string         `json:"error"`
	EstimatedDuration int            `json:"estimatedDuration"`
	StartedAt         *time.Time     `json:"startedAt"`
	FinishedAt        *time.Time     `json:"finishedAt"`
	CreatedAt         time.Time      `json:"createdAt"`
	UpdatedAt         time.Time      `json:"updatedAt"`
}

type TaskParameters struct {
	Compose *ComposeParams `json:"compose,omitempty"`
}

// ComposeParams 合成请求，由上游（脚本/图像/配音）产出的记录组成。
// TextOverlay 为空时使用部署配置中的默认值。
type ComposeParams struct {
	ContentId   string             `json:"content_id"`
	Script      []ScriptSegment    `json:"script"`
	Assets      []GeneratedAsset   `json:"assets"`
	Voiceover   VoiceoverResult    `json:"voiceover"`
	TextOverlay *TextOverlayConfig `json:"text_overlay,omitempty"`
}

// TaskResult 仅保留最小资源定位信息
type TaskResult struct {
	ResourceType string `json:"resource_type"` // e.g., "video"
	ResourceId   string `json:"resource_id"`
	ResourceUrl  string `json:"resource_url"`
}

// 实现 driver.Valuer 接口: Go Struct -> JSON String (存入数据库)
func (p TaskParameters) Value() (driver.Value, error) {
	return json.Marshal(p)
}

// 实现 sql.Scanner 接口: JSON String -> Go Struct (从数据库读取)
func (p *TaskParameters) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New(fmt.Sprint("Failed to unmarshal JSON value:", value))
	}
	return json.Unmarshal(bytes, p)
}

func (r TaskResult) Value() (driver.Value, error) {
	return json.Marshal(r)
}

func (r *TaskResult) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New(fmt.Sprint("Failed to unmarshal JSON value:", value))
	}
	return json.Unmarshal(bytes, r)
}

// statusUpdates 状态变更需要同时写入的列
func statusUpdates(status string, result *TaskResult, errMsg string) (map[string]interface{}, error) {
	now := time.Now()
	updates := map[string]interface{}{
		"status":     status,
		"updated_at": now,
	}
	if result != nil {
		jsonBytes, err := json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("序列化任务结果失败: %w", err)
		}
		updates["result"] = jsonBytes
	}
	switch status {
	case TaskStatusProcessing:
		updates["started_at"] = now
	case TaskStatusSuccess, TaskStatusFailed, TaskStatusCancelled:
		updates["finished_at"] = now
	}
	if status == TaskStatusSuccess {
		updates["progress"] = 100
	}
	if errMsg != "" {
		updates["error"] = errMsg
	}
	return updates, nil
}

func (t *Task) UpdateStatus(db *gorm.DB, status string, result *TaskResult, errMsg string) error {
	updates, err := statusUpdates(status, result, errMsg)
	if err != nil {
		return err
	}
	return db.Model(t).Updates(updates).Error
}

// Start pending -> processing；任务已被取消时返回 false
func (t *Task) Start(db *gorm.DB) (bool, error) {
	return t.transition(db, TaskStatusProcessing, nil, "", TaskStatusPending)
}

// Finish 写入终态，只对尚未结束的任务生效。
// 已被 DELETE /tasks/:id 标记为 cancelled 的任务保持 cancelled，返回 false。
func (t *Task) Finish(db *gorm.DB, status string, result *TaskResult, errMsg string) (bool, error) {
	return t.transition(db, status, result, errMsg, TaskStatusPending, TaskStatusProcessing)
}

func (t *Task) transition(db *gorm.DB, status string, result *TaskResult, errMsg string, from ...string) (bool, error) {
	updates, err := statusUpdates(status, result, errMsg)
	if err != nil {
		return false, err
	}
	res := db.Model(t).Where("status IN ?", from).Updates(updates)
	return res.RowsAffected > 0, res.Error
}

// UpdateProgress 只更新进度与提示信息
func (t *Task) UpdateProgress(db *gorm.DB, progress int, message string) error {
	return db.Model(t).Updates(map[string]interface{}{
		"progress":   progress,
		"message":    message,
		"updated_at": time.Now(),
	}).Error
}

func GetTaskByIDGorm(db *gorm.DB, taskID string) (*Task, error) {
	var task Task
	if err := db.First(&task, "id = ?", taskID).Error; err != nil {
		return nil, err
	}
	return &task, nil
}

func CreateTask(db *gorm.DB, t *Task) error {
	now := time.Now()
	t.CreatedAt = now
	t.UpdatedAt = now
	return db.Create(t).Error
}

func (Task) TableName() string {
	return "task"
}

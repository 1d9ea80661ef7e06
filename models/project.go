package models

import "time"

// 项目状态常量
const (
	ProjectStatusCreated   = "created"   // 项目已创建，尚未合成
	ProjectStatusComposing = "composing" // 合成任务执行中
	ProjectStatusComposed  = "composed"  // 本地成片已生成，发布失败或未配置发布
	ProjectStatusPublished = "published" // 成片已上传并拿到 URL
	ProjectStatusFailed    = "failed"    // 合成出错
)

type Project struct {
	ID           string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	Status       string    `json:"status"`
	CoverImage   string    `json:"coverImage"`
	Duration     float64   `json:"duration"`
	VideoUrl     string    `json:"videoUrl"`
	SegmentCount int       `json:"segmentCount"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func (Project) TableName() string {
	return "project"
}

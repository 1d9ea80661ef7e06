package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Composition 一次合成的持久化记录（FinalVideo + 时间清单）
type Composition struct {
	ID          string             `gorm:"primaryKey;type:varchar(64)" json:"id"`
	ProjectId   string             `gorm:"type:varchar(64);index" json:"projectId"`
	TaskId      string             `gorm:"type:varchar(64)" json:"taskId"`
	ContentId   string             `gorm:"type:varchar(128)" json:"contentId"`
	LocalPath   string             `json:"localPath"`
	RemoteUrl   string             `gorm:"type:text" json:"remoteUrl"`
	Duration    float64            `json:"duration"`
	Resolution  string             `json:"resolution"`
	AspectRatio string             `json:"aspectRatio"`
	ByteSize    int64              `json:"byteSize"`
	Details     CompositionDetails `gorm:"type:json" json:"details"`
	PublishErr  string             `gorm:"type:text" json:"publishError,omitempty"`
	CompletedAt time.Time          `json:"completedAt"`
	CreatedAt   time.Time          `json:"createdAt"`
}

func NewComposition(projectID, taskID, contentID string, video *FinalVideo, details *CompositionDetails) *Composition {
	c := &Composition{
		ID:          uuid.NewString(),
		ProjectId:   projectID,
		TaskId:      taskID,
		ContentId:   contentID,
		LocalPath:   video.LocalPath,
		RemoteUrl:   video.RemoteURL,
		Duration:    video.Duration,
		Resolution:  video.Resolution,
		AspectRatio: video.AspectRatio,
		ByteSize:    video.ByteSize,
		CompletedAt: video.CompletedAt,
		CreatedAt:   time.Now(),
	}
	if details != nil {
		c.Details = *details
	}
	return c
}

func CreateComposition(db *gorm.DB, c *Composition) error {
	return db.Create(c).Error
}

func ListCompositionsByProject(db *gorm.DB, projectID string) ([]Composition, error) {
	var res []Composition
	err := db.Where("project_id = ?", projectID).Order("created_at DESC").Find(&res).Error
	return res, err
}

// LatestComposition 没有记录时返回 (nil, nil)
func LatestComposition(db *gorm.DB, projectID string) (*Composition, error) {
	var c Composition
	err := db.Where("project_id = ?", projectID).Order("created_at DESC").Limit(1).Find(&c).Error
	if err != nil {
		return nil, err
	}
	if c.ID == "" {
		return nil, nil
	}
	return &c, nil
}

func (Composition) TableName() string {
	return "composition"
}

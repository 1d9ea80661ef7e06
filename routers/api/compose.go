package api

import (
	"database/sql"
	"errors"
	"net/http"

	"ShortsComposer-server/composer"
	"ShortsComposer-server/models"
	"ShortsComposer-server/service"

	"github.com/gin-gonic/gin"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
)

var apiLogger log.Logger = log.DefaultLogger

// SetLogger 设置 api 包使用的 logger
func SetLogger(l log.Logger) {
	if l != nil {
		apiLogger = l
	}
}

func logger() *log.Helper {
	return log.NewHelper(log.With(apiLogger, "module", "routers/api"))
}

// ComposeRequest 合成请求体，content_id 为空时自动生成
type ComposeRequest struct {
	ContentId   string                    `json:"content_id"`
	Script      []models.ScriptSegment    `json:"script" binding:"required"`
	Assets      []models.GeneratedAsset   `json:"assets" binding:"required"`
	Voiceover   models.VoiceoverResult    `json:"voiceover"`
	TextOverlay *models.TextOverlayConfig `json:"text_overlay,omitempty"`
}

// Params 转为任务参数，并做与文件系统无关的前置校验
func (r *ComposeRequest) Params() (*models.ComposeParams, error) {
	if r.ContentId == "" {
		r.ContentId = uuid.NewString()
	}
	if !composer.ValidContentID(r.ContentId) {
		return nil, errors.New("invalid content_id")
	}
	timings, err := composer.BuildSegmentTimings(r.Script, r.Voiceover)
	if err != nil {
		return nil, err
	}
	if _, err := composer.ResolveVisualTimings(r.Script, r.Assets, timings, false); err != nil {
		return nil, err
	}
	if r.Voiceover.AudioPath == "" || r.Voiceover.Duration <= 0 {
		return nil, errors.New("voiceover audio_path and a positive duration are required")
	}
	return &models.ComposeParams{
		ContentId:   r.ContentId,
		Script:      r.Script,
		Assets:      r.Assets,
		Voiceover:   r.Voiceover,
		TextOverlay: r.TextOverlay,
	}, nil
}

// 发起合成：POST /v1/api/projects/:project_id/compose
func ComposeProject(c *gin.Context) {
	projectID := c.Param("project_id")
	if _, err := models.GetProjectByID(projectID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "项目未找到"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询项目失败: " + err.Error()})
		return
	}

	var req ComposeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	params, err := req.Params()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": composer.KindOf(err)})
		return
	}

	active, err := models.HasActiveContentTask(params.ContentId)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询合成任务失败: " + err.Error()})
		return
	}
	if active {
		c.JSON(http.StatusConflict, gin.H{"error": "该 content_id 已有进行中的合成任务", "content_id": params.ContentId})
		return
	}

	task := models.Task{
		ID:                uuid.NewString(),
		ProjectId:         projectID,
		ContentId:         params.ContentId,
		Type:              models.TaskTypeCompose,
		Status:            models.TaskStatusPending,
		Message:           "合成任务已创建，等待执行",
		Parameters:        models.TaskParameters{Compose: params},
		EstimatedDuration: estimateSeconds(params),
	}
	if err := models.CreateTask(models.GormDB, &task); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "创建合成任务失败: " + err.Error()})
		return
	}
	if err := service.EnqueueTask(task.ID); err != nil {
		logger().Errorf("合成任务入队失败: %v", err)
		_ = task.UpdateStatus(models.GormDB, models.TaskStatusFailed, nil, "enqueue failed: "+err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{"error": "合成任务入队失败: " + err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"project_id": projectID,
		"task_id":    task.ID,
		"content_id": params.ContentId,
	})
}

// estimateSeconds 粗略估计：每秒成片约 2 秒编码
func estimateSeconds(p *models.ComposeParams) int {
	return int(p.Voiceover.Duration*2) + 10
}

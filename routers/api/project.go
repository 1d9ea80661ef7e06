package api

import (
	"database/sql"
	"errors"
	"net/http"
	"time"

	"ShortsComposer-server/models"
	"ShortsComposer-server/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// 创建项目：POST /v1/api/projects
func CreateProject(c *gin.Context) {
	var req struct {
		Title       string `form:"Title" json:"title" binding:"required"`
		Description string `form:"Description" json:"description"`
	}
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	project := models.Project{
		ID:          uuid.NewString(),
		Title:       req.Title,
		Description: req.Description,
		Status:      models.ProjectStatusCreated,
	}
	if err := models.CreateProject(&project); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "创建项目失败: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"project_id": project.ID,
		"project":    project,
	})
}

// 获取项目详情：GET /v1/api/projects/:project_id
func GetProject(c *gin.Context) {
	projectID := c.Param("project_id")

	project, err := models.GetProjectByID(projectID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "项目未找到"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询项目失败: " + err.Error()})
		return
	}

	latest, err := models.LatestComposition(models.GormDB, projectID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询合成记录失败: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"project_detail":     project,
		"latest_composition": latest,
	})
}

// 合成历史：GET /v1/api/projects/:project_id/compositions
func ListCompositions(c *gin.Context) {
	projectID := c.Param("project_id")
	list, err := models.ListCompositionsByProject(models.GormDB, projectID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询合成记录失败: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"project_id":   projectID,
		"compositions": list,
	})
}

// 删除项目：DELETE /v1/api/projects/:project_id
func DeleteProject(c *gin.Context) {
	projectID := c.Param("project_id")

	// 在删除前取消未结束的合成任务
	ids, err := models.ListActiveTaskIDs(projectID)
	if err != nil {
		logger().Warnf("查询未结束任务失败: %v", err)
	}
	for _, tid := range ids {
		if service.CancelRun(tid) {
			logger().Infof("Cancelled composition for task %s before project delete", tid)
		}
		if _, err := models.MarkTaskCancelled(tid, "cancelled due to project delete"); err != nil {
			logger().Warnf("标记任务取消失败 %s: %v", tid, err)
		}
	}

	if err := models.DeleteProjectByID(projectID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "删除项目失败: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"deleteAt":  time.Now(),
		"cancelled": len(ids),
		"message":   "项目已删除",
	})
}

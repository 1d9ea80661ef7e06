package api

import (
	"net/http"
	"time"

	"ShortsComposer-server/models"
	"ShortsComposer-server/service"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func taskDone(status string) bool {
	switch status {
	case models.TaskStatusSuccess, models.TaskStatusFailed, models.TaskStatusCancelled:
		return true
	}
	return false
}

// 任务进度 WebSocket 推送：以数据库为来源，先推送当前状态，再轮询 DB 推送变化
func TaskProgressWebSocket(c *gin.Context) {
	taskID := c.Param("task_id")
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "WebSocket升级失败"})
		return
	}
	defer conn.Close()

	t, err := models.GetTaskByID(taskID)
	if err != nil {
		_ = conn.WriteJSON(map[string]interface{}{"error": "task not found: " + err.Error()})
		return
	}
	if err := conn.WriteJSON(t); err != nil || taskDone(t.Status) {
		return
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	prevStatus := t.Status
	prevProgress := t.Progress

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-ticker.C:
		}
		cur, err := models.GetTaskByID(taskID)
		if err != nil {
			continue
		}
		if cur.Status != prevStatus || cur.Progress != prevProgress {
			if err := conn.WriteJSON(cur); err != nil {
				return
			}
			prevStatus = cur.Status
			prevProgress = cur.Progress
		}
		if taskDone(cur.Status) {
			return
		}
	}
}

// 查询任务状态：GET /v1/api/tasks/:task_id
func GetTaskStatus(c *gin.Context) {
	taskID := c.Param("task_id")
	t, err := models.GetTaskByID(taskID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"task": t})
}

// 取消任务：DELETE /v1/api/tasks/:task_id
// 运行中的合成会被中断，子进程终止、临时目录删除；未开始的任务直接标记为 cancelled。
func CancelTask(c *gin.Context) {
	taskID := c.Param("task_id")
	t, err := models.GetTaskByID(taskID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found: " + err.Error()})
		return
	}
	if taskDone(t.Status) {
		c.JSON(http.StatusConflict, gin.H{"error": "task already " + t.Status, "task_id": taskID})
		return
	}

	running := service.CancelRun(taskID)
	updated, err := models.MarkTaskCancelled(taskID, "cancelled by user")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "取消任务失败: " + err.Error()})
		return
	}
	logger().Infof("Task %s cancel requested: running=%v updated=%v", taskID, running, updated)
	c.JSON(http.StatusOK, gin.H{
		"task_id":   taskID,
		"running":   running,
		"cancelled": running || updated,
	})
}

package routers

import (
	"ShortsComposer-server/config"
	"ShortsComposer-server/routers/api"

	"github.com/gin-gonic/gin"
)

func InitRouter() *gin.Engine {
	r := gin.Default()
	r.Static("/output", config.AppConfig.Composer.OutputDir)
	v1 := r.Group("/v1/api")
	{
		v1.POST("/projects", api.CreateProject)
		v1.GET("/projects/:project_id", api.GetProject)
		v1.DELETE("/projects/:project_id", api.DeleteProject)
		v1.POST("/projects/:project_id/compose", api.ComposeProject)
		v1.GET("/projects/:project_id/compositions", api.ListCompositions)
		v1.GET("/tasks/:task_id", api.GetTaskStatus)
		v1.DELETE("/tasks/:task_id", api.CancelTask)
	}
	r.GET("/tasks/:task_id/wss", api.TaskProgressWebSocket)
	return r
}

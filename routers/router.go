package routers

import (
	"strings"
	"time"

	"ScriptSuite-server/logger"
	"ScriptSuite-server/routers/api"

	"github.com/gin-gonic/gin"
)

func InitRouter(h *api.Handler, log *logger.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(log))
	// Only the form fields stay in memory; larger parts spill to temp files.
	r.MaxMultipartMemory = 8 << 20

	v1 := r.Group("/v1/api")
	{
		v1.POST("/projects", h.CreateProject)
		v1.GET("/projects/:project_id", h.GetProject)
		v1.PATCH("/projects/:project_id", h.UpdateProject)
		v1.DELETE("/projects/:project_id", h.DeleteProject)

		v1.POST("/projects/:project_id/analysis/:feature", h.TriggerAnalysis)
		v1.GET("/projects/:project_id/analysis", h.GetAnalysis)

		v1.GET("/tasks/:task_id", h.GetTaskStatus)
		v1.GET("/tasks/:task_id/ws", h.TaskProgressWebSocket)
	}
	r.GET("/healthcheck", func(c *gin.Context) {
		api.RespondOK(c, gin.H{"status": "ok"})
	})
	return r
}

func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	log = log.With("component", "HTTP")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		fields := []interface{}{
			"method", strings.ToUpper(c.Request.Method),
			"path", path,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
		}
		switch {
		case status >= 500:
			log.Error("HTTP request", fields...)
		case status >= 400:
			log.Warn("HTTP request", fields...)
		default:
			log.Info("HTTP request", fields...)
		}
	}
}

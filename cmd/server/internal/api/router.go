package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deps 路由注册所需的依赖
type Deps struct {
	Jobs        JobService
	Counter     JobCounter
	Engine      EngineStatus
	Duet        DuetChecker
	UploadDir   string
	Environment gin.HandlerFunc
}

// RegisterRoutes 注册全部 HTTP / WebSocket 路由
func RegisterRoutes(r *gin.Engine, d Deps) {
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	g := r.Group("/api")
	g.GET("/health", HandleHealth(d.Engine, d.Counter))
	if d.Environment != nil {
		g.GET("/environment/status", d.Environment)
	}

	g.POST("/upload", HandleUpload(d.UploadDir))
	g.POST("/duet/check", HandleDuetCheck(d.Duet))

	jobs := g.Group("/jobs")
	jobs.POST("", HandleCreateJob(d.Jobs, d.UploadDir))
	jobs.GET("", HandleListJobs(d.Jobs))
	jobs.GET("/:id", HandleGetJob(d.Jobs))
	jobs.DELETE("/:id", HandleDeleteJob(d.Jobs))
	jobs.POST("/:id/cancel", HandleCancelJob(d.Jobs))
	jobs.POST("/:id/retry", HandleRetryJob(d.Jobs))
	jobs.GET("/:id/download", HandleDownload(d.Jobs))
	jobs.GET("/:id/export", HandleExport(d.Jobs))
	jobs.GET("/:id/download-zip", HandleDownloadZip(d.Jobs))

	g.GET("/ws/:id", HandleJobSocket(d.Jobs))
}

package api

import (
	"github.com/gin-gonic/gin"

	"github.com/houzhh15/singstudio/cmd/server/internal/orchestrator"
	"github.com/houzhh15/singstudio/cmd/server/internal/orchestrator/health"
)

// EngineStatus 谱面引擎状态来源，degradation.Controller 实现该接口
type EngineStatus interface {
	Name() string
	IsDegraded() bool
	Status() health.ServiceStatus
}

// JobCounter 各状态作业数量
type JobCounter interface {
	Counts() map[orchestrator.Status]int
}

// HandleHealth GET /api/health
// 引擎降级不影响服务本身的健康状态，只在 engines 中体现
func HandleHealth(engine EngineStatus, jobs JobCounter) gin.HandlerFunc {
	return func(c *gin.Context) {
		resp := gin.H{"status": "healthy"}

		if engine != nil {
			resp["engines"] = gin.H{
				"transcriber": gin.H{
					"active":   engine.Name(),
					"degraded": engine.IsDegraded(),
					"primary":  engine.Status(),
				},
			}
		}
		if jobs != nil {
			resp["jobs"] = jobs.Counts()
		}
		successResponse(c, resp)
	}
}

package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/houzhh15/singstudio/cmd/server/internal/orchestrator"
)

// statusTTL 缓存的环境检查结果有效期
const statusTTL = 5 * time.Minute

// EnvironmentHandler 处理环境检查相关的 HTTP 请求
type EnvironmentHandler struct {
	cfg   orchestrator.EnvironmentConfig
	check func(context.Context, orchestrator.EnvironmentConfig) *orchestrator.EnvironmentStatus

	cachedStatus *orchestrator.EnvironmentStatus
	mutex        sync.Mutex
}

// NewEnvironmentHandler 创建新的环境检查处理器
func NewEnvironmentHandler(cfg orchestrator.EnvironmentConfig) *EnvironmentHandler {
	return &EnvironmentHandler{
		cfg:   cfg,
		check: orchestrator.CheckEnvironment,
	}
}

// GetStatus 处理 GET /api/environment/status 请求
// 支持 force=true 查询参数强制重新检查
func (h *EnvironmentHandler) GetStatus(c *gin.Context) {
	force := c.Query("force") == "true"

	h.mutex.Lock()
	if force || h.cachedStatus == nil || time.Since(h.cachedStatus.CheckedAt) > statusTTL {
		h.cachedStatus = h.check(c.Request.Context(), h.cfg)
	}
	status := h.cachedStatus
	h.mutex.Unlock()

	c.JSON(http.StatusOK, status)
}

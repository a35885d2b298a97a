package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/houzhh15/singstudio/cmd/server/internal/orchestrator"
	"github.com/houzhh15/singstudio/pkg/logger"
)

// errorResponse 返回错误响应
func errorResponse(c *gin.Context, code int, message string) {
	c.JSON(code, gin.H{
		"error": message,
	})
}

// successResponse 返回成功响应
func successResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, data)
}

// notFoundResponse 返回 404 响应
func notFoundResponse(c *gin.Context, resource string) {
	c.JSON(http.StatusNotFound, gin.H{
		"error": resource + " not found",
	})
}

// badRequestResponse 返回 400 响应
func badRequestResponse(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error": message,
	})
}

// internalErrorResponse 返回 500 响应
func internalErrorResponse(c *gin.Context, err error) {
	logger.L().Error("request failed", "path", c.Request.URL.Path, "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":  "internal server error",
		"detail": err.Error(),
	})
}

// orchErrorResponse 将编排错误映射为 HTTP 状态码
//
//	VALIDATION_ERROR / NOT_CANCELLABLE / NOT_RETRYABLE -> 400
//	NOT_FOUND -> 404
//	其他 -> 500
func orchErrorResponse(c *gin.Context, err error) {
	var oe *orchestrator.OrchError
	if !errors.As(err, &oe) {
		internalErrorResponse(c, err)
		return
	}
	switch {
	case errors.Is(err, orchestrator.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": oe.Message, "code": oe.Code})
	case errors.Is(err, orchestrator.ErrInvalidSpec),
		errors.Is(err, orchestrator.ErrNotCancellable),
		errors.Is(err, orchestrator.ErrNotRetryable):
		c.JSON(http.StatusBadRequest, gin.H{"error": oe.Message, "code": oe.Code})
	default:
		internalErrorResponse(c, err)
	}
}

// queryInt 读取非负整数查询参数，缺省时返回 def
func queryInt(c *gin.Context, key string, def int) (int, bool) {
	raw := c.Query(key)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

package middleware

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/houzhh15/singstudio/pkg/logger"
)

// RequestIDHeader 请求 ID 响应头，客户端传入时沿用
const RequestIDHeader = "X-Request-ID"

// RequestLogger 写入结构化请求日志并注入 request_id
// skipPaths 中的路径（如 /metrics）不记录日志
func RequestLogger(skipPaths ...string) gin.HandlerFunc {
	skip := make(map[string]bool, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = true
	}

	return func(c *gin.Context) {
		start := time.Now()
		reqID := c.GetHeader(RequestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Set("request_id", reqID)
		c.Writer.Header().Set(RequestIDHeader, reqID)

		c.Next()

		if skip[c.Request.URL.Path] {
			return
		}

		status := c.Writer.Status()
		level := slog.LevelInfo
		switch {
		case status >= 500:
			level = slog.LevelError
		case status >= 400:
			level = slog.LevelWarn
		}

		attrs := []any{
			"rid", reqID,
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"latency_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		}
		if id := c.Param("id"); id != "" {
			attrs = append(attrs, "job_id", id)
		}
		logger.L().Log(c.Request.Context(), level, "http_request", attrs...)
	}
}

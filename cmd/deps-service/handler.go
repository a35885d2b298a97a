package main

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const Version = "1.0.0"

// Handler serves the execute and health endpoints.
type Handler struct {
	validator   *Validator
	executor    *Executor
	auditLogger *AuditLogger
	limiter     *ConcurrencyLimiter
	commands    []string
}

// NewHandler wires the components into a gin engine.
func NewHandler(config *Config, validator *Validator, executor *Executor, auditLogger *AuditLogger, limiter *ConcurrencyLimiter) http.Handler {
	h := &Handler{
		validator:   validator,
		executor:    executor,
		auditLogger: auditLogger,
		limiter:     limiter,
		commands:    config.CommandNames(),
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.HandleMethodNotAllowed = true

	r.POST("/api/v1/execute", h.HandleExecute)
	r.GET("/api/v1/health", h.HandleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}

// HandleExecute validates, waits for a slot, runs the command and audits
// the outcome. A non-zero exit answers 500 with the full CommandResponse.
func (h *Handler) HandleExecute(c *gin.Context) {
	var req CommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", "Failed to decode JSON: "+err.Error())
		return
	}

	if err := h.validator.ValidateRequest(req); err != nil {
		h.auditLogger.LogRejection(req, err.Error(), c.ClientIP())
		respondError(c, http.StatusBadRequest, "invalid_arguments", err.Error())
		return
	}

	if err := h.limiter.Acquire(c.Request.Context(), req.Command); err != nil {
		h.auditLogger.LogRejection(req, err.Error(), c.ClientIP())
		respondError(c, http.StatusServiceUnavailable, "service_busy", "Max concurrent executions reached")
		return
	}
	defer h.limiter.Release(req.Command)

	resp, err := h.executor.ExecuteCommand(c.Request.Context(), req)
	h.auditLogger.LogExecution(req, resp, err, c.ClientIP())

	if err != nil {
		body := errorResponse{CommandResponse: resp, Error: "command_failed", Details: []string{err.Error()}}
		if body.Stderr == "" {
			body.Stderr = err.Error()
		}
		body.Success = false
		c.JSON(http.StatusInternalServerError, body)
		return
	}
	if resp.ExitCode != 0 {
		resp.Success = false
		c.JSON(http.StatusInternalServerError, resp)
		return
	}
	resp.Success = true
	c.JSON(http.StatusOK, resp)
}

// HandleHealth reports liveness and the whitelisted commands.
func (h *Handler) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"service":  "deps-service",
		"version":  Version,
		"commands": h.commands,
	})
}

// respondError writes an error body that still decodes as a CommandResponse.
func respondError(c *gin.Context, statusCode int, errorType string, details ...string) {
	c.JSON(statusCode, errorResponse{
		CommandResponse: CommandResponse{ExitCode: -1, Stderr: strings.Join(details, "; ")},
		Error:           errorType,
		Details:         details,
	})
}

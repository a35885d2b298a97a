package api

import (
	"errors"
	"fmt"
	"os"

	"github.com/gin-gonic/gin"

	"github.com/houzhh15/singstudio/cmd/server/internal/orchestrator"
	"github.com/houzhh15/singstudio/pkg/duet"
	"github.com/houzhh15/singstudio/pkg/logger"
)

// DuetChecker 合唱能力检测所需配置
type DuetChecker struct {
	Diarizer    orchestrator.Diarizer
	UploadDir   string
	MinSpeakers int
	MaxSpeakers int
}

// HandleDuetCheck POST /api/duet/check
// 对已上传音频执行说话人识别，判断是否适合合唱模式
func HandleDuetCheck(dc DuetChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			File string `json:"file" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequestResponse(c, "invalid request body: "+err.Error())
			return
		}

		audio, err := resolveUpload(dc.UploadDir, req.File)
		if errors.Is(err, os.ErrNotExist) {
			notFoundResponse(c, "uploaded file")
			return
		}
		if err != nil {
			badRequestResponse(c, err.Error())
			return
		}

		if dc.Diarizer == nil {
			successResponse(c, duet.Assess(nil))
			return
		}

		work, err := os.MkdirTemp(dc.UploadDir, "duet-check-")
		if err != nil {
			internalErrorResponse(c, fmt.Errorf("create work dir: %w", err))
			return
		}
		defer os.RemoveAll(work)

		segs, err := dc.Diarizer.Diarize(c.Request.Context(), audio, work, dc.MinSpeakers, dc.MaxSpeakers)
		if err != nil {
			logger.L().Warn("duet check diarization failed", "file", audio, "error", err)
			successResponse(c, duet.Assessment{Message: "Speaker detection failed: " + err.Error()})
			return
		}
		successResponse(c, duet.Assess(segs))
	}
}

package api

import (
	"context"
	"errors"
	"os"

	"github.com/gin-gonic/gin"

	"github.com/houzhh15/singstudio/cmd/server/internal/orchestrator"
)

const defaultPageSize = 50

// JobService 作业接口层依赖的编排能力，*orchestrator.Orchestrator 实现该接口
type JobService interface {
	Submit(ctx context.Context, spec orchestrator.JobSpec) (string, error)
	Get(id string) (orchestrator.Job, error)
	Page(limit, offset int) ([]orchestrator.Job, int)
	QueuePosition(id string) int
	Cancel(id string) error
	Delete(id string) error
	Retry(ctx context.Context, id string) (string, error)
	Subscribe(id string) (*orchestrator.Subscription, error)
}

var _ JobService = (*orchestrator.Orchestrator)(nil)

// JobView 对外返回的作业视图，附带排队位置
type JobView struct {
	orchestrator.Job
	QueuePosition int `json:"queue_position,omitempty"`
}

func newJobView(jobs JobService, j orchestrator.Job) JobView {
	v := JobView{Job: j}
	if j.Status == orchestrator.StatusQueued {
		v.QueuePosition = jobs.QueuePosition(j.ID)
	}
	return v
}

// HandleCreateJob POST /api/jobs
// 提交新作业；本地上传来源只能引用上传目录内的文件
func HandleCreateJob(jobs JobService, uploadDir string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var spec orchestrator.JobSpec
		if err := c.ShouldBindJSON(&spec); err != nil {
			badRequestResponse(c, "invalid request body: "+err.Error())
			return
		}

		if spec.Source == orchestrator.SourceUpload && spec.UploadedFile != "" {
			path, err := resolveUpload(uploadDir, spec.UploadedFile)
			if errors.Is(err, os.ErrNotExist) {
				notFoundResponse(c, "uploaded file")
				return
			}
			if err != nil {
				badRequestResponse(c, err.Error())
				return
			}
			spec.UploadedFile = path
		}

		id, err := jobs.Submit(c.Request.Context(), spec)
		if err != nil {
			orchErrorResponse(c, err)
			return
		}

		successResponse(c, gin.H{
			"job_id":  id,
			"status":  orchestrator.StatusQueued,
			"message": "Job created successfully",
		})
	}
}

// HandleListJobs GET /api/jobs?limit=50&offset=0
// 按创建时间倒序分页列出作业
func HandleListJobs(jobs JobService) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, ok := queryInt(c, "limit", defaultPageSize)
		if !ok {
			badRequestResponse(c, "limit must be a non-negative integer")
			return
		}
		offset, ok := queryInt(c, "offset", 0)
		if !ok {
			badRequestResponse(c, "offset must be a non-negative integer")
			return
		}

		page, total := jobs.Page(limit, offset)
		views := make([]JobView, 0, len(page))
		for _, j := range page {
			views = append(views, newJobView(jobs, j))
		}
		successResponse(c, gin.H{
			"jobs":  views,
			"total": total,
		})
	}
}

// HandleGetJob GET /api/jobs/:id
func HandleGetJob(jobs JobService) gin.HandlerFunc {
	return func(c *gin.Context) {
		j, err := jobs.Get(c.Param("id"))
		if err != nil {
			orchErrorResponse(c, err)
			return
		}
		successResponse(c, newJobView(jobs, j))
	}
}

// HandleDeleteJob DELETE /api/jobs/:id
// 删除作业及其输出目录，运行中的作业会先被取消
func HandleDeleteJob(jobs JobService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := jobs.Delete(c.Param("id")); err != nil {
			orchErrorResponse(c, err)
			return
		}
		successResponse(c, gin.H{"message": "Job deleted"})
	}
}

// HandleCancelJob POST /api/jobs/:id/cancel
func HandleCancelJob(jobs JobService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if err := jobs.Cancel(id); err != nil {
			orchErrorResponse(c, err)
			return
		}
		successResponse(c, gin.H{
			"job_id":  id,
			"status":  orchestrator.StatusCancelled,
			"message": "Job cancelled",
		})
	}
}

// HandleRetryJob POST /api/jobs/:id/retry
// 以原参数重新提交失败或已取消的作业，返回新作业 ID
func HandleRetryJob(jobs JobService) gin.HandlerFunc {
	return func(c *gin.Context) {
		newID, err := jobs.Retry(c.Request.Context(), c.Param("id"))
		if err != nil {
			orchErrorResponse(c, err)
			return
		}
		successResponse(c, gin.H{
			"job_id":  newID,
			"status":  orchestrator.StatusQueued,
			"message": "Job resubmitted",
		})
	}
}

package api

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/houzhh15/singstudio/cmd/server/internal/orchestrator"
	"github.com/houzhh15/singstudio/pkg/export"
	"github.com/houzhh15/singstudio/pkg/ultrastar"
)

// allowedAudioExts 上传允许的音视频扩展名
var allowedAudioExts = map[string]bool{
	".mp3":  true,
	".wav":  true,
	".flac": true,
	".m4a":  true,
	".ogg":  true,
	".webm": true,
	".mp4":  true,
}

// completedJob 获取作业并要求其已完成；失败时已写出响应
func completedJob(c *gin.Context, jobs JobService) (orchestrator.Job, bool) {
	j, err := jobs.Get(c.Param("id"))
	if err != nil {
		orchErrorResponse(c, err)
		return orchestrator.Job{}, false
	}
	if j.Status != orchestrator.StatusCompleted {
		badRequestResponse(c, fmt.Sprintf("Job is not completed (status: %s)", j.Status))
		return orchestrator.Job{}, false
	}
	return j, true
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// HandleDownload GET /api/jobs/:id/download?file_type=main|duet|solo1|solo2
func HandleDownload(jobs JobService) gin.HandlerFunc {
	return func(c *gin.Context) {
		j, ok := completedJob(c, jobs)
		if !ok {
			return
		}

		var path string
		switch fileType := c.DefaultQuery("file_type", "main"); fileType {
		case "main":
			path = j.ResultFile
		case "duet":
			path = j.DuetFile
		case "solo1":
			path = j.Solo1File
		case "solo2":
			path = j.Solo2File
		default:
			badRequestResponse(c, "invalid file_type: "+fileType)
			return
		}

		if !fileExists(path) {
			notFoundResponse(c, "result file")
			return
		}
		c.FileAttachment(path, filepath.Base(path))
	}
}

// HandleExport GET /api/jobs/:id/export?format=srt|lrc|json|txt
// 将主结果谱面转换为字幕/歌词格式
func HandleExport(jobs JobService) gin.HandlerFunc {
	return func(c *gin.Context) {
		format, err := export.ParseFormat(c.DefaultQuery("format", string(export.FormatSRT)))
		if err != nil {
			badRequestResponse(c, err.Error())
			return
		}
		j, ok := completedJob(c, jobs)
		if !ok {
			return
		}
		if !fileExists(j.ResultFile) {
			notFoundResponse(c, "result file")
			return
		}

		chart, err := ultrastar.ParseFile(j.ResultFile)
		if err != nil {
			internalErrorResponse(c, fmt.Errorf("read chart: %w", err))
			return
		}
		out, err := export.Convert(format, chart)
		if err != nil {
			internalErrorResponse(c, fmt.Errorf("convert chart: %w", err))
			return
		}

		name := export.SafeFileName(j.DisplayTitle()) + format.Extension()
		c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, name))
		c.Data(http.StatusOK, format.ContentType(), []byte(out))
	}
}

// HandleDownloadZip GET /api/jobs/:id/download-zip
// 打包合唱谱与两个独唱谱，仅合唱作业可用
func HandleDownloadZip(jobs JobService) gin.HandlerFunc {
	return func(c *gin.Context) {
		j, ok := completedJob(c, jobs)
		if !ok {
			return
		}
		if !j.IsDuet {
			badRequestResponse(c, "Zip download is only available for duet jobs")
			return
		}

		// 两个独唱谱通常同名，重名时加前缀区分
		var files []export.BundleFile
		seen := map[string]bool{}
		for _, f := range []struct{ label, path string }{
			{"duet", j.DuetFile},
			{"solo1", j.Solo1File},
			{"solo2", j.Solo2File},
		} {
			if !fileExists(f.path) {
				continue
			}
			name := filepath.Base(f.path)
			if seen[name] {
				name = f.label + "_" + name
			}
			seen[name] = true
			files = append(files, export.BundleFile{Name: name, Path: f.path})
		}
		if len(files) == 0 {
			notFoundResponse(c, "result files")
			return
		}

		var buf bytes.Buffer
		if err := export.WriteBundle(&buf, files); err != nil {
			internalErrorResponse(c, err)
			return
		}
		c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, export.BundleName(j.DisplayTitle())))
		c.Data(http.StatusOK, "application/zip", buf.Bytes())
	}
}

// HandleUpload POST /api/upload
// 保存上传的音频文件为 {uuid}{ext}，返回可用于提交作业的路径
func HandleUpload(uploadDir string) gin.HandlerFunc {
	return func(c *gin.Context) {
		fh, err := c.FormFile("file")
		if err != nil {
			badRequestResponse(c, "file is required")
			return
		}

		ext := strings.ToLower(filepath.Ext(fh.Filename))
		if !allowedAudioExts[ext] {
			badRequestResponse(c, fmt.Sprintf("unsupported file type %q", ext))
			return
		}

		if err := os.MkdirAll(uploadDir, 0o755); err != nil {
			internalErrorResponse(c, fmt.Errorf("create upload dir: %w", err))
			return
		}
		fileID := uuid.NewString()
		dst := filepath.Join(uploadDir, fileID+ext)
		if err := c.SaveUploadedFile(fh, dst); err != nil {
			internalErrorResponse(c, fmt.Errorf("save upload: %w", err))
			return
		}

		successResponse(c, gin.H{
			"file_id":  fileID,
			"filename": fh.Filename,
			"path":     dst,
		})
	}
}

// resolveUpload 只允许引用上传目录内的文件
func resolveUpload(uploadDir, path string) (string, error) {
	root, err := filepath.Abs(uploadDir)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", errors.New("file must be inside the upload directory")
	}
	if !fileExists(abs) {
		return "", os.ErrNotExist
	}
	return abs, nil
}

package orchestrator

import (
	"net/url"
	"strings"
	"time"

	"github.com/houzhh15/singstudio/pkg/duet"
)

// Status 作业生命周期状态
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// IsTerminal 终态不可再迁移
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// validTransition 允许的状态迁移表
func validTransition(from, to Status) bool {
	switch from {
	case StatusQueued:
		return to == StatusProcessing || to == StatusCancelled
	case StatusProcessing:
		return to == StatusCompleted || to == StatusFailed || to == StatusCancelled
	}
	return false
}

// Stage 流水线阶段
type Stage string

const (
	StageAcquiring    Stage = "acquiring"
	StageSeparating   Stage = "separating"
	StageTranscribing Stage = "transcribing"
	StageGenerating   Stage = "generating"
	StageFinalizing   Stage = "finalizing"
)

// SourceKind 输入来源
type SourceKind string

const (
	SourceRemote SourceKind = "remote-fetch"
	SourceUpload SourceKind = "local-upload"
)

// Quality 转写质量档位
type Quality string

const (
	QualityFast     Quality = "fast"
	QualityBalanced Quality = "balanced"
	QualityAccurate Quality = "accurate"
)

// ModelTier 单个质量档位对应的模型组合
type ModelTier struct {
	Whisper string `json:"whisper"`
	Crepe   string `json:"crepe"`
}

// QualityModels 质量档位到模型的固定映射，穷举三档
var QualityModels = map[Quality]ModelTier{
	QualityFast:     {Whisper: "tiny", Crepe: "tiny"},
	QualityBalanced: {Whisper: "small", Crepe: "medium"},
	QualityAccurate: {Whisper: "medium", Crepe: "full"},
}

// ModelsFor 返回档位对应模型，未知档位视为配置错误
func ModelsFor(q Quality) (ModelTier, error) {
	m, ok := QualityModels[q]
	if !ok {
		return ModelTier{}, NewValidationError("unknown quality tier: " + string(q))
	}
	return m, nil
}

// JobSpec 作业提交参数
type JobSpec struct {
	Source       SourceKind `json:"source"`
	Language     string     `json:"language"`
	Quality      Quality    `json:"quality"`
	RemoteURL    string     `json:"remote_url,omitempty"`
	UploadedFile string     `json:"uploaded_file,omitempty"`
	DisplayName  string     `json:"display_name,omitempty"`
	DuetEnabled  bool       `json:"duet_enabled,omitempty"`
	Singer1Name  string     `json:"singer_1_name,omitempty"`
	Singer2Name  string     `json:"singer_2_name,omitempty"`
}

// Validate 仅做结构校验，语义校验（URL 可达、文件格式）交给协作者
func (s JobSpec) Validate() error {
	switch s.Source {
	case SourceRemote:
		if strings.TrimSpace(s.RemoteURL) == "" {
			return NewValidationError("remote_url is required for source " + string(SourceRemote))
		}
		u, err := url.Parse(s.RemoteURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return NewValidationError("remote_url must be an absolute URL")
		}
	case SourceUpload:
		if strings.TrimSpace(s.UploadedFile) == "" {
			return NewValidationError("uploaded_file is required for source " + string(SourceUpload))
		}
	default:
		return NewValidationError("unknown source: " + string(s.Source))
	}
	if _, err := ModelsFor(s.Quality); err != nil {
		return err
	}
	if strings.TrimSpace(s.Language) == "" {
		return NewValidationError("language is required")
	}
	return nil
}

// withDefaults 填充默认歌手名
func (s JobSpec) withDefaults() JobSpec {
	names := duet.Names{P1: s.Singer1Name, P2: s.Singer2Name}.WithDefaults()
	s.Singer1Name, s.Singer2Name = names.P1, names.P2
	return s
}

// Progress 当前阶段进度
type Progress struct {
	Stage          Stage   `json:"stage,omitempty"`
	Percentage     float64 `json:"percentage"`
	Message        string  `json:"message"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
}

// Job 作业记录。只允许所属 runner 通过 JobStore.Update 修改
type Job struct {
	ID   string  `json:"job_id"`
	Spec JobSpec `json:"spec"`

	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	StartedAt time.Time `json:"started_at,omitempty"`
	// Version 每次提交递增，持久化层据此丢弃过期快照
	Version int64 `json:"version"`

	OutputDir string `json:"output_dir"`
	InputFile string `json:"input_file,omitempty"`
	Title     string `json:"title,omitempty"`
	Artist    string `json:"artist,omitempty"`

	Progress     Progress `json:"progress"`
	ErrorMessage string   `json:"error_message,omitempty"`
	Warning      string   `json:"warning,omitempty"`

	// ResultFile 当且仅当 Status == completed 时非空
	ResultFile string `json:"result_file,omitempty"`

	IsDuet    bool   `json:"is_duet"`
	DuetFile  string `json:"duet_file,omitempty"`
	Solo1File string `json:"solo1_file,omitempty"`
	Solo2File string `json:"solo2_file,omitempty"`
}

// DisplayTitle 优先使用下载得到的标题
func (j Job) DisplayTitle() string {
	if j.Title != "" {
		return j.Title
	}
	if j.Spec.DisplayName != "" {
		return j.Spec.DisplayName
	}
	return j.ID
}

// ProgressEvent 推送给订阅者的单次进度事件
type ProgressEvent struct {
	JobID          string  `json:"job_id"`
	Status         Status  `json:"status"`
	Stage          *Stage  `json:"stage"`
	Percentage     float64 `json:"percentage"`
	Message        string  `json:"message"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
}

// EventFromJob 用作业快照构造事件
func EventFromJob(j Job) ProgressEvent {
	ev := ProgressEvent{
		JobID:          j.ID,
		Status:         j.Status,
		Percentage:     j.Progress.Percentage,
		Message:        j.Progress.Message,
		ElapsedSeconds: j.Progress.ElapsedSeconds,
	}
	if j.Progress.Stage != "" {
		stage := j.Progress.Stage
		ev.Stage = &stage
	}
	return ev
}

package orchestrator

import (
	"context"

	"github.com/houzhh15/singstudio/cmd/server/internal/orchestrator/dependency"
	"github.com/houzhh15/singstudio/cmd/server/internal/orchestrator/transcriber"
	"github.com/houzhh15/singstudio/pkg/duet"
)

// Acquirer 下载远程音频到作业目录，report 的 fraction 取值 0..1
type Acquirer interface {
	Acquire(ctx context.Context, url, dir string, report func(float64, string)) (dependency.Media, error)
}

// Diarizer 说话人识别。返回 nil, nil 表示引擎不可用（触发独唱降级），
// 返回 error 表示协作者失败。
type Diarizer interface {
	Diarize(ctx context.Context, audio, dir string, minSpeakers, maxSpeakers int) (duet.Segments, error)
}

// Splitter 按片段把单个说话人的人声拼接成独立音轨
type Splitter interface {
	Split(ctx context.Context, audio string, segs []duet.SpeakerSegment, out string) error
}

// Transcriber 生成 UltraStar 谱面文件，返回谱面路径
type Transcriber interface {
	Transcribe(ctx context.Context, req transcriber.Request, report func(float64, string)) (string, error)
}

// Collaborators 流水线依赖的外部协作者，由调用方注入
type Collaborators struct {
	Acquirer    Acquirer
	Diarizer    Diarizer
	Splitter    Splitter
	Transcriber Transcriber
}

func (c Collaborators) validate() error {
	switch {
	case c.Acquirer == nil:
		return NewValidationError("collaborators: acquirer is required")
	case c.Transcriber == nil:
		return NewValidationError("collaborators: transcriber is required")
	case c.Diarizer != nil && c.Splitter == nil:
		return NewValidationError("collaborators: splitter is required when a diarizer is set")
	}
	return nil
}

// Persister 作业历史持久化。错误只记录日志，不影响作业本身。
type Persister interface {
	Save(ctx context.Context, j Job) error
	Delete(ctx context.Context, id string) error
	LoadAll(ctx context.Context) ([]Job, error)
}

type nopPersister struct{}

func (nopPersister) Save(context.Context, Job) error        { return nil }
func (nopPersister) Delete(context.Context, string) error   { return nil }
func (nopPersister) LoadAll(context.Context) ([]Job, error) { return nil, nil }

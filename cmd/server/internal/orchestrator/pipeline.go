package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/houzhh15/singstudio/cmd/server/internal/metrics"
	"github.com/houzhh15/singstudio/cmd/server/internal/orchestrator/dependency"
	"github.com/houzhh15/singstudio/cmd/server/internal/orchestrator/transcriber"
	"github.com/houzhh15/singstudio/pkg/duet"
	"github.com/houzhh15/singstudio/pkg/export"
	"github.com/houzhh15/singstudio/pkg/logger"
	"github.com/houzhh15/singstudio/pkg/ultrastar"
)

// result 流水线产物
type result struct {
	chart    string
	isDuet   bool
	duetFile string
	solo1    string
	solo2    string
}

func (r result) message() string {
	if r.isDuet {
		return "Duet processing completed successfully!"
	}
	return "Processing completed successfully!"
}

// pipeline 单个作业的一次执行。进度只增不减，所有写入经由 JobStore.Update。
type pipeline struct {
	ctx     context.Context
	o       *Orchestrator
	id      string
	spec    JobSpec
	dir     string
	started time.Time
	log     *slog.Logger

	mu   sync.Mutex
	last float64
}

func newPipeline(ctx context.Context, o *Orchestrator, job Job) *pipeline {
	return &pipeline{
		ctx:     ctx,
		o:       o,
		id:      job.ID,
		spec:    job.Spec,
		dir:     job.OutputDir,
		started: job.StartedAt,
		log:     o.log.With("job_id", job.ID),
	}
}

// safeRun 捕获 panic，保证单个作业失败不影响其他作业
func (p *pipeline) safeRun() (res result, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("pipeline panic", "panic", r)
			err = fmt.Errorf("internal error: %v", r)
		}
	}()
	return p.run()
}

func (p *pipeline) run() (result, error) {
	var audio string
	err := p.stage(StageAcquiring, func() error {
		var err error
		audio, err = p.acquire()
		return err
	})
	if err != nil {
		return result{}, err
	}
	if err := p.checkpoint(StageAcquiring); err != nil {
		return result{}, err
	}

	if p.spec.DuetEnabled {
		res, fellBack, err := p.runDuet(audio)
		if err != nil || !fellBack {
			return res, err
		}
	}
	return p.runSolo(audio)
}

// acquire 获取输入音频，返回本地文件路径
func (p *pipeline) acquire() (string, error) {
	if p.spec.Source == SourceUpload {
		file := p.spec.UploadedFile
		if _, err := os.Stat(file); err != nil {
			return "", NewCollaboratorError(StageAcquiring, err)
		}
		title := p.spec.DisplayName
		if title == "" {
			title = strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
		}
		p.update(func(j *Job) {
			j.InputFile = file
			j.Title = title
		})
		p.emit(StageAcquiring, bandAcquire.to, "Using uploaded file")
		return file, nil
	}

	p.emit(StageAcquiring, bandAcquire.from, "Downloading from YouTube...")
	media, err := p.o.collab.Acquirer.Acquire(p.ctx, p.spec.RemoteURL, p.dir, func(f float64, msg string) {
		p.emit(StageAcquiring, bandAcquire.scale(f), msg)
	})
	if err != nil {
		return "", p.collabErr(StageAcquiring, err)
	}
	title := media.Title
	if title == "" {
		title = p.spec.DisplayName
	}
	p.update(func(j *Job) {
		j.InputFile = media.AudioFile
		j.Title = title
		j.Artist = media.Artist
	})
	p.emit(StageAcquiring, bandAcquire.to, "Download complete")
	return media.AudioFile, nil
}

func (p *pipeline) runSolo(audio string) (result, error) {
	var chart string
	err := p.stage(StageTranscribing, func() error {
		p.emit(StageTranscribing, bandSolo.from, "Starting UltraSinger processing...")
		var err error
		chart, err = p.transcribe(audio, p.dir, bandSolo, "")
		return err
	})
	if err != nil {
		return result{}, err
	}
	return result{chart: chart}, nil
}

// runDuet 合唱路径。fellBack 为 true 时调用方继续走独唱路径。
func (p *pipeline) runDuet(audio string) (res result, fellBack bool, err error) {
	var (
		segs duet.Segments
		pair duet.Pair
		ok   bool
	)
	err = p.stage(StageSeparating, func() error {
		p.emit(StageSeparating, pctDiarize, "Detecting speakers in audio...")
		var err error
		if segs, err = p.diarize(audio); err != nil {
			return err
		}
		if pair, ok = duet.SelectPair(segs); !ok {
			return nil
		}
		p.emit(StageSeparating, pctAnalysed, fmt.Sprintf("Detected %d speakers", segs.SpeakerCount()))
		if w := pair.Warning(); w != "" {
			p.log.Info("weak second speaker", "ratio", pair.Ratio)
			p.update(func(j *Job) { j.Warning = w })
		}
		if err := p.checkpoint(StageSeparating); err != nil {
			return err
		}

		p.emit(StageSeparating, pctSplitting, "Separating vocal tracks by speaker...")
		if err := p.split(audio, segs, pair); err != nil {
			return err
		}
		p.emit(StageSeparating, pctSplit, "Vocal tracks separated")
		return nil
	})
	if err != nil {
		return result{}, false, err
	}
	if !ok {
		p.fallback(segs)
		return result{}, true, nil
	}
	p.update(func(j *Job) { j.IsDuet = true })

	names := duet.Names{P1: p.spec.Singer1Name, P2: p.spec.Singer2Name}.WithDefaults()
	var charts [2]string
	err = p.stage(StageTranscribing, func() error {
		for i, b := range []band{bandSpeaker1, bandSpeaker2} {
			if err := p.checkpoint(StageTranscribing); err != nil {
				return err
			}
			n := i + 1
			name := names.P1
			if n == 2 {
				name = names.P2
			}
			p.emit(StageTranscribing, b.from, fmt.Sprintf("Processing %s vocals...", name))
			chart, err := p.transcribe(dependency.SpeakerAudioPath(p.dir, n), dependency.SpeakerDir(p.dir, n), b, name+": ")
			if err != nil {
				return err
			}
			charts[i] = chart
		}
		return nil
	})
	if err != nil {
		return result{}, false, err
	}
	if err := p.checkpoint(StageGenerating); err != nil {
		return result{}, false, err
	}

	err = p.stage(StageGenerating, func() error {
		p.emit(StageGenerating, pctMerging, "Creating duet file with P1/P2 markers...")
		out := filepath.Join(p.dir, export.SafeFileName(p.title())+"_duet.txt")
		if _, err := duet.MergeFiles(charts[0], charts[1], out, names, segs); err != nil {
			return NewMergeError(err)
		}
		res = result{chart: out, isDuet: true, duetFile: out, solo1: charts[0], solo2: charts[1]}
		return nil
	})
	if err != nil {
		return result{}, false, err
	}
	p.emit(StageFinalizing, pctFinalizing, "Finalizing duet files...")
	return res, false, nil
}

// diarize 未配置 Diarizer 时视为结果缺失
func (p *pipeline) diarize(audio string) (duet.Segments, error) {
	if p.o.collab.Diarizer == nil {
		return nil, nil
	}
	segs, err := p.o.collab.Diarizer.Diarize(p.ctx, audio, p.dir, p.o.cfg.MinSpeakers, p.o.cfg.MaxSpeakers)
	if err != nil {
		return nil, p.collabErr(StageSeparating, err)
	}
	return segs, nil
}

// split 并行切出两名歌手的人声
func (p *pipeline) split(audio string, segs duet.Segments, pair duet.Pair) error {
	g, ctx := errgroup.WithContext(p.ctx)
	for i, speaker := range []string{pair.Primary.SpeakerID, pair.Secondary.SpeakerID} {
		n := i + 1
		speaker := speaker
		g.Go(func() error {
			out := dependency.SpeakerAudioPath(p.dir, n)
			if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
				return err
			}
			if err := p.o.collab.Splitter.Split(ctx, audio, segs.Sorted(speaker), out); err != nil {
				return fmt.Errorf("speaker %d (%s): %w", n, speaker, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return p.collabErr(StageSeparating, err)
	}
	return nil
}

func (p *pipeline) fallback(segs duet.Segments) {
	p.log.Warn("duet fallback to solo", "speakers", segs.SpeakerCount(), "diarized", segs != nil)
	logger.LogPipelineStage(p.o.log, p.id, string(StageSeparating), "fallback", 0, "")
	metrics.RecordDuetFallback()
	p.update(func(j *Job) {
		j.Warning = FallbackWarning
		j.IsDuet = false
	})
}

// transcribe 调用引擎并校验产出的谱面
func (p *pipeline) transcribe(audio, outDir string, b band, prefix string) (string, error) {
	models, err := ModelsFor(p.spec.Quality)
	if err != nil {
		return "", err
	}
	req := transcriber.Request{
		AudioFile:    audio,
		OutputDir:    outDir,
		Language:     p.spec.Language,
		WhisperModel: models.Whisper,
		CrepeModel:   models.Crepe,
		ForceCPU:     p.o.cfg.ForceCPU,
	}
	chart, err := p.o.collab.Transcriber.Transcribe(p.ctx, req, func(f float64, msg string) {
		p.emit(StageTranscribing, b.scale(f), prefix+msg)
	})
	if err != nil {
		return "", p.collabErr(StageTranscribing, err)
	}
	if err := validateChart(chart); err != nil {
		return "", NewCollaboratorError(StageTranscribing, err)
	}
	return chart, nil
}

func validateChart(path string) error {
	if path == "" {
		return errors.New("engine returned no chart file")
	}
	c, err := ultrastar.ParseFile(path)
	if err != nil {
		return err
	}
	if c.PitchedCount() == 0 {
		return fmt.Errorf("chart %s contains no notes", filepath.Base(path))
	}
	return nil
}

func (p *pipeline) title() string {
	if j, ok := p.o.store.Get(p.id); ok && j.Title != "" {
		return j.Title
	}
	return "song"
}

// stage 记录阶段日志与耗时指标
func (p *pipeline) stage(stage Stage, fn func() error) error {
	start := time.Now()
	logger.LogPipelineStage(p.o.log, p.id, string(stage), "start", 0, "")
	err := fn()
	elapsed := time.Since(start)
	metrics.RecordStageDuration(string(stage), elapsed.Seconds())

	action, code := "success", ""
	if err != nil {
		action, code = "error", string(errorCodeOf(err))
		if code == "" {
			code = "INTERNAL"
		}
	}
	logger.LogPipelineStage(p.o.log, p.id, string(stage), action, elapsed.Milliseconds(), code)
	return err
}

// emit 写入进度并广播。百分比取 max(上次, 本次)，保证单调。
func (p *pipeline) emit(stage Stage, pct float64, msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pct = math.Round(pct*10) / 10
	if pct < p.last {
		pct = p.last
	}
	p.last = pct
	if msg == "" {
		msg = string(stage)
	}

	job, err := p.o.store.Update(p.id, func(j *Job) error {
		j.Progress = Progress{
			Stage:          stage,
			Percentage:     pct,
			Message:        msg,
			ElapsedSeconds: p.o.now().Sub(p.started).Seconds(),
		}
		return nil
	})
	if err != nil {
		return
	}
	p.o.hub.publish(EventFromJob(job))
}

// update 修改作业字段（标题、警告等）并持久化
func (p *pipeline) update(fn func(j *Job)) {
	job, err := p.o.store.Update(p.id, func(j *Job) error {
		fn(j)
		return nil
	})
	if err != nil {
		return
	}
	p.o.persist(p.ctx, job)
}

// checkpoint 阶段之间检查取消信号
func (p *pipeline) checkpoint(stage Stage) error {
	if p.ctx.Err() != nil {
		return NewCancelledError(stage)
	}
	return nil
}

// collabErr 取消导致的失败归为 CANCELLED，其余归为 COLLABORATOR_FAILURE
func (p *pipeline) collabErr(stage Stage, err error) error {
	if p.ctx.Err() != nil {
		return NewCancelledError(stage)
	}
	var oe *OrchError
	if errors.As(err, &oe) {
		return err
	}
	return NewCollaboratorError(stage, err)
}

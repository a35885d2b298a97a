package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/houzhh15/singstudio/cmd/server/internal/metrics"
	"github.com/houzhh15/singstudio/cmd/server/internal/orchestrator/dependency"
)

const (
	// FallbackWarning 合唱降级为独唱时写入作业的提示
	FallbackWarning = "Only 1 speaker detected. Processing as solo."

	msgQueued    = "Job queued"
	msgStarted   = "Processing started"
	msgCancelled = "Job was cancelled"
	msgRestarted = "Interrupted by server restart"
	msgShutdown  = "Interrupted by server shutdown"

	defaultPageLimit = 50
	persistTimeout   = 5 * time.Second
)

var errShutdown = errors.New("orchestrator is shutting down")

// Config 作业编排配置
type Config struct {
	OutputDir         string
	MaxConcurrentJobs int
	RetentionPeriod   time.Duration
	CleanupInterval   time.Duration
	ForceCPU          bool
	MinSpeakers       int
	MaxSpeakers       int
	SubscriberBuffer  int
	// DeleteWait 删除运行中作业时等待 runner 退出的上限
	DeleteWait time.Duration
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		OutputDir:         "./data/output",
		MaxConcurrentJobs: 2,
		RetentionPeriod:   24 * time.Hour,
		CleanupInterval:   time.Hour,
		MinSpeakers:       2,
		MaxSpeakers:       2,
		SubscriberBuffer:  defaultSubsBuf,
		DeleteWait:        30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.OutputDir == "" {
		c.OutputDir = def.OutputDir
	}
	if c.MaxConcurrentJobs <= 0 {
		c.MaxConcurrentJobs = def.MaxConcurrentJobs
	}
	if c.RetentionPeriod <= 0 {
		c.RetentionPeriod = def.RetentionPeriod
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = def.CleanupInterval
	}
	if c.MinSpeakers <= 0 {
		c.MinSpeakers = def.MinSpeakers
	}
	if c.MaxSpeakers < c.MinSpeakers {
		c.MaxSpeakers = c.MinSpeakers
	}
	if c.SubscriberBuffer <= 0 {
		c.SubscriberBuffer = def.SubscriberBuffer
	}
	if c.DeleteWait <= 0 {
		c.DeleteWait = def.DeleteWait
	}
	return c
}

// Option 可选依赖注入
type Option func(*Orchestrator)

// WithPersister 设置作业持久化实现
func WithPersister(p Persister) Option {
	return func(o *Orchestrator) {
		if p != nil {
			o.persister = p
		}
	}
}

// WithLogger 设置日志实例
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.log = l
		}
	}
}

// WithClock 替换时间源（测试用）
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
			o.store.now = now
		}
	}
}

// run 单个作业 runner 的控制句柄
type run struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Orchestrator 异步作业编排器：接收提交、限制并发、驱动流水线并广播进度。
//
// 每个作业由独立 goroutine 执行；作业记录只通过 JobStore.Update 修改。
type Orchestrator struct {
	cfg       Config
	collab    Collaborators
	store     *JobStore
	hub       *progressHub
	slots     *semaphore.Weighted
	persister Persister
	paths     *dependency.PathManager
	log       *slog.Logger
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	runs   map[string]*run
	closed bool
	wg     sync.WaitGroup
}

// New 创建编排器。Acquirer 与 Transcriber 必须提供；Diarizer 为空时合唱作业一律降级为独唱。
func New(cfg Config, collab Collaborators, opts ...Option) (*Orchestrator, error) {
	if err := collab.validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		cfg:       cfg,
		collab:    collab,
		store:     NewJobStore(),
		hub:       newProgressHub(cfg.SubscriberBuffer),
		slots:     semaphore.NewWeighted(int64(cfg.MaxConcurrentJobs)),
		persister: nopPersister{},
		paths:     dependency.NewPathManager(cfg.OutputDir),
		log:       slog.Default(),
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
		runs:      make(map[string]*run),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.log = o.log.With("component", "orchestrator")
	return o, nil
}

// Config 返回生效配置
func (o *Orchestrator) Config() Config { return o.cfg }

// Submit 校验并创建作业，立即返回作业 ID，处理在后台进行
func (o *Orchestrator) Submit(ctx context.Context, spec JobSpec) (string, error) {
	if err := spec.Validate(); err != nil {
		return "", err
	}
	spec = spec.withDefaults()

	id := uuid.NewString()
	dir, err := o.paths.EnsureJobDir(id)
	if err != nil {
		return "", err
	}
	now := o.now()
	job := Job{
		ID:        id,
		Spec:      spec,
		Status:    StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
		Version:   1,
		OutputDir: dir,
		Progress:  Progress{Message: msgQueued},
	}
	if spec.Source == SourceUpload {
		job.InputFile = spec.UploadedFile
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		_ = os.RemoveAll(dir)
		return "", errShutdown
	}
	runCtx, cancel := context.WithCancel(o.ctx)
	r := &run{cancel: cancel, done: make(chan struct{})}
	o.runs[id] = r
	o.store.Insert(job)
	o.wg.Add(1)
	o.mu.Unlock()

	o.persist(ctx, job)
	metrics.RecordSubmitted(string(spec.Source), spec.DuetEnabled)
	o.log.Info("job submitted", "job_id", id, "source", spec.Source, "quality", spec.Quality, "duet", spec.DuetEnabled)

	go o.execute(runCtx, job, r)
	return id, nil
}

// Get 返回作业快照
func (o *Orchestrator) Get(id string) (Job, error) {
	j, ok := o.store.Get(id)
	if !ok {
		return Job{}, NewNotFoundError(id)
	}
	return j, nil
}

// List 按创建时间倒序返回全部作业
func (o *Orchestrator) List() []Job {
	return o.store.List()
}

// Page 分页列出作业，limit <= 0 时取默认 50
func (o *Orchestrator) Page(limit, offset int) ([]Job, int) {
	all := o.store.List()
	total := len(all)
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return []Job{}, total
	}
	end := min(offset+limit, total)
	return all[offset:end], total
}

// QueuePosition 排队名次，非排队作业返回 0
func (o *Orchestrator) QueuePosition(id string) int {
	return o.store.QueuePosition(id)
}

// Cancel 取消排队或处理中的作业。终态或不存在的作业返回 NOT_CANCELLABLE。
func (o *Orchestrator) Cancel(id string) error {
	job, err := o.store.Update(id, func(j *Job) error {
		j.Status = StatusCancelled
		j.ErrorMessage = msgCancelled
		j.Progress.Message = msgCancelled
		return nil
	})
	switch {
	case errors.Is(err, ErrNotFound):
		return NewOrchError(NOT_CANCELLABLE, fmt.Sprintf("job %s not found", id), nil)
	case errors.Is(err, errJobTerminal):
		return NewNotCancellableError(id, job.Status)
	case err != nil:
		return err
	}

	o.stopRun(id)
	o.hub.publish(EventFromJob(job))
	o.persist(context.Background(), job)
	metrics.RecordFinished(string(job.Status))
	o.log.Info("job cancelled", "job_id", id)
	return nil
}

// Delete 删除作业：取消运行中的 runner 并等待其退出，然后删除记录与输出目录
func (o *Orchestrator) Delete(id string) error {
	if _, ok := o.store.Get(id); !ok {
		return NewNotFoundError(id)
	}

	o.mu.Lock()
	r := o.runs[id]
	o.mu.Unlock()
	if r != nil {
		_ = o.Cancel(id)
		r.cancel()
		select {
		case <-r.done:
		case <-time.After(o.cfg.DeleteWait):
			// runner 退出时发现记录已删除，会自行清理目录
			o.log.Warn("runner did not exit in time, deleting anyway", "job_id", id, "wait", o.cfg.DeleteWait)
		}
	}

	job, ok := o.store.Remove(id)
	if !ok {
		return NewNotFoundError(id)
	}
	o.hub.drop(id)
	if err := o.persister.Delete(context.Background(), id); err != nil {
		o.log.Warn("failed to delete persisted job", "job_id", id, "error", err)
	}
	o.removeDir(job.OutputDir)
	o.log.Info("job deleted", "job_id", id)
	return nil
}

// Retry 以原参数重新提交 FAILED / CANCELLED 作业，返回新作业 ID
func (o *Orchestrator) Retry(ctx context.Context, id string) (string, error) {
	job, ok := o.store.Get(id)
	if !ok {
		return "", NewNotFoundError(id)
	}
	if job.Status != StatusFailed && job.Status != StatusCancelled {
		return "", NewNotRetryableError(id, job.Status)
	}
	newID, err := o.Submit(ctx, job.Spec)
	if err != nil {
		return "", err
	}
	o.log.Info("job resubmitted", "job_id", id, "new_job_id", newID)
	return newID, nil
}

// Subscribe 订阅作业进度。首个事件为当前快照；终态事件之后通道关闭。
func (o *Orchestrator) Subscribe(id string) (*Subscription, error) {
	sub, ok := o.hub.subscribe(id, func() (ProgressEvent, bool) {
		j, ok := o.store.Get(id)
		if !ok {
			return ProgressEvent{}, false
		}
		return EventFromJob(j), true
	})
	if !ok {
		return nil, NewNotFoundError(id)
	}
	return sub, nil
}

// Counts 各状态作业数量
func (o *Orchestrator) Counts() map[Status]int {
	counts := make(map[Status]int)
	for _, j := range o.store.List() {
		counts[j.Status]++
	}
	return counts
}

// Restore 从持久化层加载历史作业。未结束的作业标记为 FAILED，可通过 Retry 重跑。
func (o *Orchestrator) Restore(ctx context.Context) (int, error) {
	jobs, err := o.persister.LoadAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load jobs: %w", err)
	}
	interrupted := 0
	for _, j := range jobs {
		if _, exists := o.store.Get(j.ID); exists {
			continue
		}
		if !j.Status.IsTerminal() {
			j.Status = StatusFailed
			j.ErrorMessage = msgRestarted
			j.Progress.Message = msgRestarted
			j.ResultFile = ""
			j.UpdatedAt = o.now()
			j.Version++
			o.persist(ctx, j)
			interrupted++
		}
		o.store.Insert(j)
	}
	o.log.Info("jobs restored", "total", len(jobs), "interrupted", interrupted)
	return len(jobs), nil
}

// Shutdown 停止接收新作业，取消所有 runner 并等待退出
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.cancel()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		o.log.Info("orchestrator stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// execute runner 主体：等待槽位，执行流水线，写入终态
func (o *Orchestrator) execute(ctx context.Context, job Job, r *run) {
	defer o.wg.Done()
	defer close(r.done)
	defer o.forget(job.ID, job.OutputDir)

	if err := o.slots.Acquire(ctx, 1); err != nil {
		o.finish(job.ID, result{}, NewCancelledError(StageAcquiring))
		return
	}
	defer o.slots.Release(1)
	// 取消与槽位释放同时发生时 Acquire 也可能成功
	if ctx.Err() != nil {
		o.finish(job.ID, result{}, NewCancelledError(StageAcquiring))
		return
	}

	started := o.now()
	job, err := o.store.Update(job.ID, func(j *Job) error {
		j.Status = StatusProcessing
		j.StartedAt = started
		j.Progress = Progress{Stage: StageAcquiring, Message: msgStarted}
		return nil
	})
	if err != nil {
		// 排队期间已被取消或删除
		return
	}
	metrics.JobsProcessing.Inc()
	defer metrics.JobsProcessing.Dec()
	o.hub.publish(EventFromJob(job))
	o.persist(ctx, job)

	p := newPipeline(ctx, o, job)
	res, err := p.safeRun()
	o.finish(job.ID, res, err)
}

// finish 写入终态。作业已被取消或删除时 Update 失败，直接忽略。
func (o *Orchestrator) finish(id string, res result, runErr error) {
	job, err := o.store.Update(id, func(j *Job) error {
		if !j.StartedAt.IsZero() {
			j.Progress.ElapsedSeconds = o.now().Sub(j.StartedAt).Seconds()
		}
		switch {
		case runErr == nil:
			j.Status = StatusCompleted
			j.ResultFile = res.chart
			j.IsDuet = res.isDuet
			if res.isDuet {
				j.DuetFile, j.Solo1File, j.Solo2File = res.duetFile, res.solo1, res.solo2
			}
			j.Progress.Stage = StageFinalizing
			j.Progress.Percentage = pctComplete
			j.Progress.Message = res.message()
		case errors.Is(runErr, ErrCancelled) && o.ctx.Err() != nil:
			// 仍在排队的作业只能迁移到 CANCELLED，两种终态均可重试
			if j.Status == StatusQueued {
				j.Status = StatusCancelled
			} else {
				j.Status = StatusFailed
			}
			j.ErrorMessage = msgShutdown
			j.Progress.Message = msgShutdown
		case errors.Is(runErr, ErrCancelled):
			j.Status = StatusCancelled
			j.ErrorMessage = msgCancelled
			j.Progress.Message = msgCancelled
		default:
			j.Status = StatusFailed
			j.ErrorMessage = runErr.Error()
			j.Progress.Message = "Processing failed"
		}
		return nil
	})
	if err != nil {
		return
	}

	o.hub.publish(EventFromJob(job))
	o.persist(context.Background(), job)
	metrics.RecordFinished(string(job.Status))
	if runErr != nil {
		o.log.Warn("job finished with error", "job_id", id, "status", job.Status, "error", runErr)
	} else {
		o.log.Info("job completed", "job_id", id, "duet", job.IsDuet, "result", job.ResultFile, "elapsed_s", job.Progress.ElapsedSeconds)
	}
}

func (o *Orchestrator) stopRun(id string) {
	o.mu.Lock()
	r := o.runs[id]
	o.mu.Unlock()
	if r != nil {
		r.cancel()
	}
}

// forget runner 退出时调用；若记录已被删除，补删输出目录
func (o *Orchestrator) forget(id, dir string) {
	o.mu.Lock()
	if r := o.runs[id]; r != nil {
		r.cancel()
		delete(o.runs, id)
	}
	o.mu.Unlock()
	if _, ok := o.store.Get(id); !ok {
		o.removeDir(dir)
	}
}

func (o *Orchestrator) removeDir(dir string) {
	if dir == "" {
		return
	}
	if err := o.paths.ValidatePath(dir); err != nil {
		o.log.Warn("refusing to remove job directory", "dir", dir, "error", err)
		return
	}
	if err := os.RemoveAll(dir); err != nil {
		o.log.Warn("failed to remove job directory", "dir", dir, "error", err)
	}
}

// persist 持久化失败只记录日志
func (o *Orchestrator) persist(ctx context.Context, j Job) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := o.persister.Save(ctx, j); err != nil {
		o.log.Warn("failed to persist job", "job_id", j.ID, "version", j.Version, "error", err)
	}
}

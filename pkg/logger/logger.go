package logger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config 定义日志初始化配置
// Level 支持 debug/info/warn/error，Environment 为 prod/production 时输出 JSON
// FilePath 非空时额外写入滚动日志文件（lumberjack）
type Config struct {
	Level       string
	Environment string
	WithSource  bool

	FilePath   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

var (
	global *slog.Logger
	once   sync.Once
)

func levelFromString(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, errors.New("invalid log level: " + level)
	}
}

func isProd(env string) bool {
	switch strings.ToLower(env) {
	case "prod", "production":
		return true
	}
	return false
}

// rotatingWriter 返回 lumberjack 滚动文件，未设置的参数取默认值
func rotatingWriter(cfg Config) *lumberjack.Logger {
	lj := &lumberjack.Logger{
		Filename:   cfg.FilePath,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	if lj.MaxSize <= 0 {
		lj.MaxSize = 100
	}
	if lj.MaxBackups <= 0 {
		lj.MaxBackups = 10
	}
	if lj.MaxAge <= 0 {
		lj.MaxAge = 30
	}
	return lj
}

// NewWithWriter 使用指定输出创建 logger（测试与自定义输出使用）
func NewWithWriter(cfg Config, w io.Writer) (*slog.Logger, error) {
	lvl, err := levelFromString(cfg.Level)
	if err != nil {
		return nil, err
	}

	handlerOpts := &slog.HandlerOptions{Level: lvl, AddSource: cfg.WithSource}
	var handler slog.Handler
	if isProd(cfg.Environment) {
		handler = slog.NewJSONHandler(w, handlerOpts)
	} else {
		handler = slog.NewTextHandler(w, handlerOpts)
	}
	return slog.New(handler), nil
}

// New 根据配置创建新的 slog.Logger，不设置全局实例
func New(cfg Config) (*slog.Logger, error) {
	var w io.Writer = os.Stdout
	if cfg.FilePath != "" {
		w = io.MultiWriter(os.Stdout, rotatingWriter(cfg))
	}
	return NewWithWriter(cfg, w)
}

// Init 初始化全局日志实例，重复调用将返回首次创建的 logger
func Init(cfg Config) (*slog.Logger, error) {
	var initErr error
	once.Do(func() {
		global, initErr = New(cfg)
		if initErr == nil {
			slog.SetDefault(global)
		}
	})
	return global, initErr
}

// L 返回已初始化的全局 logger，未初始化时 panic
func L() *slog.Logger {
	if global == nil {
		panic("logger.Init must be called before logger.L")
	}
	return global
}

// LogPipelineStage 记录流水线阶段事件的结构化日志
// stage: acquiring/separating/transcribing/generating
// action: start/success/error/fallback
// errorCode: 错误代码（可选）
func LogPipelineStage(logger *slog.Logger, jobID, stage, action string, durationMs int64, errorCode string) {
	attrs := []slog.Attr{
		slog.String("job_id", jobID),
		slog.String("stage", stage),
		slog.String("action", action),
		slog.Int64("duration_ms", durationMs),
	}

	if errorCode != "" {
		attrs = append(attrs, slog.String("error_code", errorCode))
		logger.LogAttrs(context.Background(), slog.LevelError, "Pipeline stage error", attrs...)
	} else {
		logger.LogAttrs(context.Background(), slog.LevelInfo, "Pipeline stage event", attrs...)
	}
}

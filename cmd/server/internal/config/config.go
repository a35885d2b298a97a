package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/houzhh15/singstudio/cmd/server/internal/orchestrator"
	"github.com/houzhh15/singstudio/cmd/server/internal/orchestrator/dependency"
	"github.com/houzhh15/singstudio/pkg/logger"
)

// Config 统一配置结构
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Data       DataConfig       `yaml:"data"`
	Log        LogConfig        `yaml:"log"`
	Jobs       JobsConfig       `yaml:"jobs"`
	Dependency DependencyConfig `yaml:"dependency"`
	Engine     EngineConfig     `yaml:"engine"`
	Security   SecurityConfig   `yaml:"security"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Env  string `yaml:"env"` // development, staging, production
	Port string `yaml:"port"`
}

// DataConfig 数据目录配置
type DataConfig struct {
	OutputDir string `yaml:"output_dir"`
	UploadDir string `yaml:"upload_dir"`
	DBPath    string `yaml:"db_path"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
	File  string `yaml:"file"`  // 非空时额外写入滚动日志
}

// JobsConfig 作业调度配置
type JobsConfig struct {
	MaxConcurrent   int           `yaml:"max_concurrent"`
	RetentionHours  int           `yaml:"retention_hours"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	ForceCPU        bool          `yaml:"force_cpu"`
	MinSpeakers     int           `yaml:"min_speakers"`
	MaxSpeakers     int           `yaml:"max_speakers"`
}

// DependencyConfig 外部命令执行配置
type DependencyConfig struct {
	Mode              string        `yaml:"mode"` // local, remote, fallback
	ServiceURL        string        `yaml:"service_url"`
	Timeout           time.Duration `yaml:"timeout"`
	YTDLPPath         string        `yaml:"ytdlp_path"`
	FFmpegPath        string        `yaml:"ffmpeg_path"`
	PythonPath        string        `yaml:"python_path"`
	DiarizationScript string        `yaml:"diarization_script"`
	HFToken           string        `yaml:"hf_token"`
	Device            string        `yaml:"device"`
}

// EngineConfig 谱面引擎配置：优先使用远程服务，本地脚本作为备选
type EngineConfig struct {
	UltraSingerPath     string        `yaml:"ultrasinger_path"`
	UltraSingerURL      string        `yaml:"ultrasinger_url"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`
	FailThreshold       int           `yaml:"fail_threshold"`
}

// SecurityConfig 安全配置
type SecurityConfig struct {
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
}

// GlobalConfig 全局配置实例
var GlobalConfig *Config

// Default 返回默认配置
func Default() *Config {
	return &Config{
		Server: ServerConfig{Env: "development", Port: "8000"},
		Data: DataConfig{
			OutputDir: "./data/output",
			UploadDir: "./data/uploads",
			DBPath:    "./data/jobs.db",
		},
		Log: LogConfig{Level: "info"},
		Jobs: JobsConfig{
			MaxConcurrent:   2,
			RetentionHours:  24,
			CleanupInterval: time.Hour,
			MinSpeakers:     2,
			MaxSpeakers:     2,
		},
		Dependency: DependencyConfig{
			Mode:    string(dependency.ModeLocal),
			Timeout: 30 * time.Minute,
			Device:  "cpu",
		},
		Engine: EngineConfig{
			HealthCheckInterval: 5 * time.Minute,
			FailThreshold:       3,
		},
		Security: SecurityConfig{
			CORSAllowedOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
	}
}

// LoadConfig 按 默认值 < CONFIG_FILE(YAML) < 环境变量 的顺序加载配置
func LoadConfig() (*Config, error) {
	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	GlobalConfig = cfg
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	var errs []error

	c.Server.Env = getEnv("ENV", c.Server.Env)
	c.Server.Port = getEnv("PORT", c.Server.Port)

	c.Data.OutputDir = getEnv("OUTPUT_DIR", c.Data.OutputDir)
	c.Data.UploadDir = getEnv("UPLOAD_DIR", c.Data.UploadDir)
	c.Data.DBPath = getEnv("DB_PATH", c.Data.DBPath)

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.File = getEnv("LOG_FILE", c.Log.File)

	c.Jobs.MaxConcurrent = getEnvInt("MAX_CONCURRENT_JOBS", c.Jobs.MaxConcurrent, &errs)
	c.Jobs.RetentionHours = getEnvInt("JOB_RETENTION_HOURS", c.Jobs.RetentionHours, &errs)
	c.Jobs.CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", c.Jobs.CleanupInterval, &errs)
	c.Jobs.ForceCPU = getEnvBool("FORCE_CPU", c.Jobs.ForceCPU, &errs)

	c.Dependency.Mode = getEnv("DEPENDENCY_MODE", c.Dependency.Mode)
	c.Dependency.ServiceURL = getEnv("DEPS_SERVICE_URL", c.Dependency.ServiceURL)
	c.Dependency.Timeout = getEnvDuration("DEPENDENCY_TIMEOUT", c.Dependency.Timeout, &errs)
	c.Dependency.YTDLPPath = getEnv("YTDLP_PATH", c.Dependency.YTDLPPath)
	c.Dependency.FFmpegPath = getEnv("FFMPEG_PATH", c.Dependency.FFmpegPath)
	c.Dependency.PythonPath = getEnv("PYTHON_PATH", c.Dependency.PythonPath)
	c.Dependency.DiarizationScript = getEnv("DIARIZATION_SCRIPT", c.Dependency.DiarizationScript)
	c.Dependency.HFToken = getEnv("HF_TOKEN", c.Dependency.HFToken)
	c.Dependency.Device = getEnv("TORCH_DEVICE", c.Dependency.Device)

	c.Engine.UltraSingerPath = getEnv("ULTRASINGER_PATH", c.Engine.UltraSingerPath)
	c.Engine.UltraSingerURL = getEnv("ULTRASINGER_URL", c.Engine.UltraSingerURL)

	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		c.Security.CORSAllowedOrigins = parseStringList(v)
	}
	return errors.Join(errs...)
}

// ValidateConfig 验证配置的有效性，一次性返回全部问题
func ValidateConfig(cfg *Config) error {
	var errs []string

	// 1. 端口
	if port, err := strconv.Atoi(cfg.Server.Port); err != nil || port < 1 || port > 65535 {
		errs = append(errs, fmt.Sprintf("invalid PORT value: %s (must be 1-65535)", cfg.Server.Port))
	}

	// 2. 日志级别
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(cfg.Log.Level)] {
		errs = append(errs, fmt.Sprintf("invalid LOG_LEVEL: %s (must be: debug, info, warn, error)", cfg.Log.Level))
	}

	// 3. 环境
	validEnvs := map[string]bool{"dev": true, "development": true, "staging": true, "production": true}
	if !validEnvs[cfg.Server.Env] {
		errs = append(errs, fmt.Sprintf("invalid ENV: %s (must be: dev, development, staging, production)", cfg.Server.Env))
	}

	// 4. 数据目录
	if cfg.Data.OutputDir == "" {
		errs = append(errs, "OUTPUT_DIR is required")
	}
	if cfg.Data.UploadDir == "" {
		errs = append(errs, "UPLOAD_DIR is required")
	}

	// 5. 作业调度
	if cfg.Jobs.MaxConcurrent < 1 {
		errs = append(errs, fmt.Sprintf("MAX_CONCURRENT_JOBS must be >= 1, got %d", cfg.Jobs.MaxConcurrent))
	}
	if cfg.Jobs.RetentionHours < 1 {
		errs = append(errs, fmt.Sprintf("JOB_RETENTION_HOURS must be >= 1, got %d", cfg.Jobs.RetentionHours))
	}
	if cfg.Jobs.CleanupInterval <= 0 {
		errs = append(errs, "CLEANUP_INTERVAL must be positive")
	}
	if cfg.Jobs.MinSpeakers < 1 || cfg.Jobs.MaxSpeakers < cfg.Jobs.MinSpeakers {
		errs = append(errs, fmt.Sprintf("invalid speaker range %d-%d", cfg.Jobs.MinSpeakers, cfg.Jobs.MaxSpeakers))
	}

	// 6. 依赖执行模式
	switch dependency.ExecutionMode(cfg.Dependency.Mode) {
	case dependency.ModeLocal:
	case dependency.ModeRemote, dependency.ModeFallback:
		if cfg.Dependency.ServiceURL == "" {
			errs = append(errs, fmt.Sprintf("DEPS_SERVICE_URL is required when DEPENDENCY_MODE=%s", cfg.Dependency.Mode))
		}
	default:
		errs = append(errs, fmt.Sprintf("invalid DEPENDENCY_MODE: %s (must be: local, remote, fallback)", cfg.Dependency.Mode))
	}

	// 7. 谱面引擎至少配置一个
	if cfg.Engine.UltraSingerPath == "" && cfg.Engine.UltraSingerURL == "" {
		errs = append(errs, "one of ULTRASINGER_PATH or ULTRASINGER_URL is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// IsProduction 判断是否为生产环境
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// IsDevelopment 判断是否为开发环境
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "dev" || c.Server.Env == "development"
}

// GetServerAddr 获取服务器监听地址
func (c *Config) GetServerAddr() string {
	return ":" + c.Server.Port
}

// LoggerConfig 转换为日志初始化配置
func (c *Config) LoggerConfig() logger.Config {
	return logger.Config{
		Level:       c.Log.Level,
		Environment: c.Server.Env,
		FilePath:    c.Log.File,
		MaxSizeMB:   100,
		MaxBackups:  10,
		MaxAgeDays:  30,
		Compress:    true,
	}
}

// OrchestratorConfig 转换为作业编排配置
func (c *Config) OrchestratorConfig() orchestrator.Config {
	return orchestrator.Config{
		OutputDir:         c.Data.OutputDir,
		MaxConcurrentJobs: c.Jobs.MaxConcurrent,
		RetentionPeriod:   time.Duration(c.Jobs.RetentionHours) * time.Hour,
		CleanupInterval:   c.Jobs.CleanupInterval,
		ForceCPU:          c.Jobs.ForceCPU,
		MinSpeakers:       c.Jobs.MinSpeakers,
		MaxSpeakers:       c.Jobs.MaxSpeakers,
	}
}

// ExecutorConfig 转换为外部命令执行配置
func (c *Config) ExecutorConfig() dependency.ExecutorConfig {
	paths := map[string]string{}
	for alias, path := range map[string]string{
		dependency.CmdYTDLP:  c.Dependency.YTDLPPath,
		dependency.CmdFFmpeg: c.Dependency.FFmpegPath,
		dependency.CmdPython: c.Dependency.PythonPath,
	} {
		if path != "" {
			paths[alias] = path
		}
	}
	return dependency.ExecutorConfig{
		Mode:              dependency.ExecutionMode(c.Dependency.Mode),
		ServiceURL:        c.Dependency.ServiceURL,
		DataDir:           c.Data.OutputDir,
		LocalBinaryPaths:  paths,
		DefaultTimeout:    c.Dependency.Timeout,
		AllowedCommands:   []string{dependency.CmdYTDLP, dependency.CmdFFmpeg, dependency.CmdPython},
		DiarizationScript: c.Dependency.DiarizationScript,
		HFToken:           c.Dependency.HFToken,
		Device:            c.Dependency.Device,
	}
}

// EnvironmentConfig 转换为环境检查配置
func (c *Config) EnvironmentConfig() orchestrator.EnvironmentConfig {
	return orchestrator.EnvironmentConfig{
		HFToken:           c.Dependency.HFToken,
		DiarizationScript: c.Dependency.DiarizationScript,
		UltraSingerPath:   c.Engine.UltraSingerPath,
		UltraSingerURL:    c.Engine.UltraSingerURL,
		FFmpegPath:        c.Dependency.FFmpegPath,
		YTDLPPath:         c.Dependency.YTDLPPath,
	}
}

// PrintConfig 打印配置（脱敏）
func (c *Config) PrintConfig() string {
	return fmt.Sprintf(`Configuration Loaded:
  Environment: %s
  Server Port: %s
  Data:
    - Output: %s
    - Uploads: %s
    - Database: %s
  Logging:
    - Level: %s
    - File: %s
  Jobs:
    - Max Concurrent: %d
    - Retention: %dh (sweep every %s)
    - Force CPU: %t
  Dependency:
    - Mode: %s
    - Service URL: %s
    - Diarization Script: %s
    - HF Token: %s
  Engine:
    - UltraSinger Path: %s
    - UltraSinger URL: %s
  Security:
    - CORS Origins: %v`,
		c.Server.Env,
		c.Server.Port,
		c.Data.OutputDir,
		c.Data.UploadDir,
		c.Data.DBPath,
		c.Log.Level,
		orNotSet(c.Log.File),
		c.Jobs.MaxConcurrent,
		c.Jobs.RetentionHours,
		c.Jobs.CleanupInterval,
		c.Jobs.ForceCPU,
		c.Dependency.Mode,
		orNotSet(c.Dependency.ServiceURL),
		orNotSet(c.Dependency.DiarizationScript),
		maskSecret(c.Dependency.HFToken),
		orNotSet(c.Engine.UltraSingerPath),
		orNotSet(c.Engine.UltraSingerURL),
		c.Security.CORSAllowedOrigins,
	)
}

// 辅助函数

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int, errs *[]error) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s: %q is not an integer", key, value))
		return defaultValue
	}
	return n
}

func getEnvBool(key string, defaultValue bool, errs *[]error) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s: %q is not a boolean", key, value))
		return defaultValue
	}
	return b
}

func getEnvDuration(key string, defaultValue time.Duration, errs *[]error) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s: %q is not a duration", key, value))
		return defaultValue
	}
	return d
}

// parseStringList 解析逗号分隔的字符串列表
func parseStringList(value string) []string {
	if value == "" {
		return []string{}
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func orNotSet(v string) string {
	if v == "" {
		return "<not set>"
	}
	return v
}

// maskSecret 对敏感信息进行脱敏
func maskSecret(secret string) string {
	if secret == "" {
		return "<not set>"
	}
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:4] + "***" + secret[len(secret)-4:]
}

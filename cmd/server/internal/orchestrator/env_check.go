package orchestrator

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"time"
)

// EnvironmentConfig 环境检查所需的路径与地址
type EnvironmentConfig struct {
	HFToken           string
	DiarizationScript string
	UltraSingerPath   string
	UltraSingerURL    string
	FFmpegPath        string
	YTDLPPath         string
}

// EnvironmentStatus 表示整体环境状态
type EnvironmentStatus struct {
	Ready     bool               `json:"ready"`
	DuetReady bool               `json:"duet_ready"`
	Issues    []string           `json:"issues"`
	Warnings  []string           `json:"warnings"`
	Details   EnvironmentDetails `json:"details"`
	CheckedAt time.Time          `json:"checked_at"`
}

// EnvironmentDetails 包含各组件的详细状态
type EnvironmentDetails struct {
	HuggingFaceToken  TokenStatus   `json:"huggingface_token"`
	DiarizationScript FileStatus    `json:"diarization_script"`
	UltraSinger       FileStatus    `json:"ultrasinger_script"`
	UltraSingerAPI    ServiceStatus `json:"ultrasinger_service"`
	FFmpeg            ToolStatus    `json:"ffmpeg"`
	YTDLP             ToolStatus    `json:"yt_dlp"`
}

// TokenStatus 表示 HuggingFace Token 配置状态
type TokenStatus struct {
	Configured bool   `json:"configured"`
	Masked     string `json:"masked,omitempty"`
}

// FileStatus 表示脚本文件状态
type FileStatus struct {
	Configured bool   `json:"configured"`
	Exists     bool   `json:"exists"`
	Path       string `json:"path,omitempty"`
}

// ServiceStatus 表示外部服务状态
type ServiceStatus struct {
	Configured bool   `json:"configured"`
	Reachable  bool   `json:"reachable"`
	URL        string `json:"url,omitempty"`
	Latency    string `json:"latency,omitempty"`
	Error      string `json:"error,omitempty"`
}

// ToolStatus 表示命令行工具状态
type ToolStatus struct {
	Available bool   `json:"available"`
	Version   string `json:"version,omitempty"`
	Error     string `json:"error,omitempty"`
}

// CheckEnvironment 执行完整的环境检查。
// Ready 表示独唱流程可用（下载、转码、谱面引擎），DuetReady 额外要求说话人识别可用。
func CheckEnvironment(ctx context.Context, cfg EnvironmentConfig) *EnvironmentStatus {
	status := &EnvironmentStatus{
		Ready:     true,
		DuetReady: true,
		Issues:    []string{},
		Warnings:  []string{},
		CheckedAt: time.Now(),
	}

	// 1. 谱面引擎：本地脚本或远程服务至少一个可用
	status.Details.UltraSinger = checkFile(cfg.UltraSingerPath)
	status.Details.UltraSingerAPI = checkServiceHealth(ctx, cfg.UltraSingerURL)
	if !status.Details.UltraSinger.Exists && !status.Details.UltraSingerAPI.Reachable {
		status.Ready = false
		status.Issues = append(status.Issues, "UltraSinger 不可用：未找到本地脚本且远程服务不可达")
	}

	// 2. FFmpeg
	status.Details.FFmpeg = checkTool(ctx, orDefault(cfg.FFmpegPath, "ffmpeg"), "-version")
	if !status.Details.FFmpeg.Available {
		status.Ready = false
		status.Issues = append(status.Issues, fmt.Sprintf("FFmpeg 不可用: %s", status.Details.FFmpeg.Error))
	}

	// 3. yt-dlp（仅影响远程下载）
	status.Details.YTDLP = checkTool(ctx, orDefault(cfg.YTDLPPath, "yt-dlp"), "--version")
	if !status.Details.YTDLP.Available {
		status.Warnings = append(status.Warnings, "yt-dlp 不可用，仅支持上传文件")
	}

	// 4. 说话人识别
	status.Details.DiarizationScript = checkFile(cfg.DiarizationScript)
	if !status.Details.DiarizationScript.Exists {
		status.DuetReady = false
		status.Warnings = append(status.Warnings, "说话人识别脚本未配置，合唱作业将降级为独唱")
	}
	if cfg.HFToken == "" {
		status.DuetReady = false
		status.Details.HuggingFaceToken = TokenStatus{Configured: false}
		status.Warnings = append(status.Warnings, "HF_TOKEN 未配置，pyannote 模型可能无法加载")
	} else {
		status.Details.HuggingFaceToken = TokenStatus{Configured: true, Masked: maskToken(cfg.HFToken)}
	}
	if !status.Ready {
		status.DuetReady = false
	}
	return status
}

// maskToken 遮蔽 Token 的中间部分
func maskToken(token string) string {
	if len(token) <= 8 {
		return "***"
	}
	return token[:4] + "..." + token[len(token)-4:]
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func checkFile(path string) FileStatus {
	if path == "" {
		return FileStatus{}
	}
	fi, err := os.Stat(path)
	return FileStatus{Configured: true, Exists: err == nil && !fi.IsDir(), Path: path}
}

// checkServiceHealth 检查 {baseURL}/health
func checkServiceHealth(ctx context.Context, baseURL string) ServiceStatus {
	if baseURL == "" {
		return ServiceStatus{}
	}
	st := ServiceStatus{Configured: true, URL: baseURL}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSuffix(baseURL, "/")+"/health", nil)
	if err != nil {
		st.Error = err.Error()
		return st
	}
	start := time.Now()
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		st.Error = err.Error()
		return st
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		st.Error = fmt.Sprintf("HTTP %d", resp.StatusCode)
		return st
	}
	st.Reachable = true
	st.Latency = fmt.Sprintf("%dms", time.Since(start).Milliseconds())
	return st
}

// checkTool 执行 `bin versionFlag` 并取首行作为版本
func checkTool(ctx context.Context, bin, versionFlag string) ToolStatus {
	if _, err := exec.LookPath(bin); err != nil {
		return ToolStatus{Error: err.Error()}
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	output, err := exec.CommandContext(ctx, bin, versionFlag).CombinedOutput()
	if err != nil {
		return ToolStatus{Error: err.Error()}
	}
	version := "unknown"
	first, _, _ := strings.Cut(string(output), "\n")
	if parts := strings.Fields(first); len(parts) >= 3 && parts[1] == "version" {
		version = parts[2]
	} else if len(parts) > 0 {
		version = parts[0]
	}
	return ToolStatus{Available: true, Version: version}
}

// Package dependency runs the external engines a chart job needs (yt-dlp,
// ffmpeg, the pyannote diarization script) either on the local host or through
// a remote command service, with automatic fallback between the two.
package dependency

import "time"

// ExecutionMode specifies how commands should be executed.
type ExecutionMode string

const (
	// ModeLocal executes commands directly on the local system.
	ModeLocal ExecutionMode = "local"

	// ModeRemote executes commands by calling a remote dependency service via HTTP.
	ModeRemote ExecutionMode = "remote"

	// ModeFallback tries remote execution first, then falls back to local on failure.
	ModeFallback ExecutionMode = "fallback"
)

// Command aliases understood by both executors. LocalBinaryPaths maps them to
// concrete binaries.
const (
	CmdYTDLP       = "yt-dlp"
	CmdFFmpeg      = "ffmpeg"
	CmdPython      = "python"
	CmdUltraSinger = "ultrasinger"
)

// CommandRequest encapsulates all information needed to execute a command.
type CommandRequest struct {
	// Command is the binary name or alias (e.g., "ffmpeg", "yt-dlp").
	Command string `json:"command" yaml:"command"`

	// Args are the command-line arguments.
	Args []string `json:"args" yaml:"args"`

	// Env contains extra environment variables for the process.
	Env map[string]string `json:"env,omitempty" yaml:"env,omitempty"`

	// WorkingDir is the directory to execute the command in (default: current dir).
	WorkingDir string `json:"working_dir,omitempty" yaml:"working_dir,omitempty"`

	// Timeout is the maximum execution duration (0 means the executor default).
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// OnLine receives stdout/stderr lines as they are produced. Only the local
	// executor streams; the remote executor returns output in one piece.
	OnLine func(line string) `json:"-" yaml:"-"`
}

// CommandResponse contains the result of a command execution.
type CommandResponse struct {
	Success  bool          `json:"success" yaml:"success"`
	ExitCode int           `json:"exit_code" yaml:"exit_code"`
	Stdout   string        `json:"stdout" yaml:"stdout"`
	Stderr   string        `json:"stderr" yaml:"stderr"`
	Duration time.Duration `json:"-" yaml:"-"`

	// DurationMs is the execution time as reported over the wire.
	DurationMs int64 `json:"duration_ms,omitempty" yaml:"duration_ms,omitempty"`

	// OutputFiles lists the paths of generated files, when the service reports them.
	OutputFiles []string `json:"output_files,omitempty" yaml:"output_files,omitempty"`
}

// ExecutorConfig defines the configuration for dependency execution.
type ExecutorConfig struct {
	// Mode specifies the execution strategy: "local", "remote", or "fallback".
	Mode ExecutionMode `json:"mode" yaml:"mode"`

	// ServiceURL is the HTTP endpoint of the remote dependency service.
	// Required for "remote" and "fallback" modes.
	ServiceURL string `json:"service_url" yaml:"service_url"`

	// DataDir is the root every job directory lives under. Working directories
	// outside it are rejected.
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// LocalBinaryPaths maps command aliases to local binary paths
	// (e.g., {"ffmpeg": "/usr/local/bin/ffmpeg"}).
	LocalBinaryPaths map[string]string `json:"local_binary_paths" yaml:"local_binary_paths"`

	// DefaultTimeout is the default execution timeout for all commands.
	DefaultTimeout time.Duration `json:"default_timeout" yaml:"default_timeout"`

	// AllowedCommands is a whitelist of command aliases. Empty means allow all.
	AllowedCommands []string `json:"allowed_commands" yaml:"allowed_commands"`

	// DiarizationScript is the pyannote wrapper script run with the python alias.
	DiarizationScript string `json:"diarization_script" yaml:"diarization_script"`

	// HFToken is passed to the diarization script as HUGGINGFACE_TOKEN.
	HFToken string `json:"-" yaml:"hf_token"`

	// Device is the torch device for diarization ("cpu" or "cuda").
	Device string `json:"device" yaml:"device"`
}

// Media is an acquired audio file with the metadata the source reported.
type Media struct {
	AudioFile string `json:"audio_file"`
	Title     string `json:"title"`
	Artist    string `json:"artist"`
}

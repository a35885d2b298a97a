package main

import (
	"regexp"
	"time"
)

// Config is the command whitelist the service executes from.
type Config struct {
	Commands []CommandConfig `yaml:"commands"`
	Security SecurityConfig  `yaml:"security"`
}

// CommandConfig describes one whitelisted engine binary.
type CommandConfig struct {
	Name                string   `yaml:"name"`
	BinaryPath          string   `yaml:"binary_path"`
	AllowedArgsPatterns []string `yaml:"allowed_args_patterns"`
	EnvWhitelist        []string `yaml:"env_whitelist"`
	Timeout             string   `yaml:"timeout"`
	MaxConcurrent       int      `yaml:"max_concurrent"`

	patterns []*regexp.Regexp
	timeout  time.Duration
}

// SecurityConfig bounds what paths and how much input a request may carry.
type SecurityConfig struct {
	// SharedVolumePath is the data directory shared with the chart server.
	SharedVolumePath string `yaml:"shared_volume_path"`
	// AllowedPrefixes are extra read-only locations such as the script dir.
	AllowedPrefixes  []string `yaml:"allowed_prefixes"`
	ForbiddenPaths   []string `yaml:"forbidden_paths"`
	MaxCommandLength int      `yaml:"max_command_length"`
	AuditLogPath     string   `yaml:"audit_log_path"`
	EnableAuditLog   bool     `yaml:"enable_audit_log"`
}

// CommandRequest is the body of POST /api/v1/execute.
type CommandRequest struct {
	Command    string            `json:"command"`
	Args       []string          `json:"args"`
	Env        map[string]string `json:"env,omitempty"`
	WorkingDir string            `json:"working_dir,omitempty"`
	// Timeout in nanoseconds; zero means the command's configured timeout.
	Timeout time.Duration `json:"timeout"`
}

// CommandResponse is returned for every executed command, successful or not.
type CommandResponse struct {
	Success     bool     `json:"success"`
	ExitCode    int      `json:"exit_code"`
	Stdout      string   `json:"stdout"`
	Stderr      string   `json:"stderr"`
	DurationMs  int64    `json:"duration_ms"`
	OutputFiles []string `json:"output_files,omitempty"`
}

// errorResponse keeps the CommandResponse shape so callers can always read
// stderr, and adds a machine readable error kind.
type errorResponse struct {
	CommandResponse
	Error   string   `json:"error"`
	Details []string `json:"details"`
}

package main

import (
	"fmt"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
)

// Validator checks execute requests against the whitelist before anything
// is started.
type Validator struct {
	config *Config
}

// NewValidator expects a config that went through LoadConfig.
func NewValidator(config *Config) *Validator {
	return &Validator{config: config}
}

// ValidateRequest runs the checks in order: whitelist, length, argument
// patterns, argument paths, working directory and environment.
func (v *Validator) ValidateRequest(req CommandRequest) error {
	cmdConfig, err := v.config.GetCommandConfig(req.Command)
	if err != nil {
		return fmt.Errorf("command %s is not in whitelist", req.Command)
	}

	cmdLength := len(req.Command) + len(strings.Join(req.Args, " "))
	if cmdLength > v.config.Security.MaxCommandLength {
		return fmt.Errorf("command length (%d) exceeds maximum allowed (%d)", cmdLength, v.config.Security.MaxCommandLength)
	}

	if err := v.validateArgs(req.Args, cmdConfig); err != nil {
		return err
	}
	if err := v.validatePaths(req.Args); err != nil {
		return err
	}

	if req.WorkingDir != "" {
		if err := v.validatePath(req.WorkingDir); err != nil {
			return fmt.Errorf("invalid working directory: %w", err)
		}
	}

	return v.validateEnv(req.Env, cmdConfig.EnvWhitelist)
}

// validateArgs requires every argument to match at least one pattern.
func (v *Validator) validateArgs(args []string, cmd *CommandConfig) error {
	for _, arg := range args {
		matched := slices.ContainsFunc(cmd.patterns, func(re *regexp.Regexp) bool {
			return re.MatchString(arg)
		})
		if !matched {
			return fmt.Errorf("argument '%s' does not match any allowed pattern", arg)
		}
	}
	return nil
}

// validatePaths checks path-like arguments. URLs are passed through since
// yt-dlp takes them and query strings may contain "..".
func (v *Validator) validatePaths(args []string) error {
	for _, arg := range args {
		if isURL(arg) {
			continue
		}
		if strings.HasPrefix(arg, "/") || strings.Contains(arg, "..") {
			if err := v.validatePath(arg); err != nil {
				return err
			}
		}
	}
	return nil
}

// validatePath rejects traversal and forbidden dirs, then requires the path
// to live under the shared volume or one of the allowed prefixes.
func (v *Validator) validatePath(path string) error {
	if strings.Contains(path, "..") {
		return fmt.Errorf("path contains dangerous characters '..' (path traversal attempt): %s", path)
	}

	for _, forbidden := range v.config.Security.ForbiddenPaths {
		if within(path, forbidden) {
			return fmt.Errorf("path attempts to access forbidden directory %s: %s", forbidden, path)
		}
	}

	roots := append([]string{v.config.Security.SharedVolumePath}, v.config.Security.AllowedPrefixes...)
	for _, root := range roots {
		if within(path, root) {
			return nil
		}
	}
	return fmt.Errorf("path must be within allowed directories (%s): %s", strings.Join(roots, ", "), path)
}

// validateEnv allows only whitelisted variable names. An empty whitelist
// forbids any extra environment.
func (v *Validator) validateEnv(env map[string]string, whitelist []string) error {
	for key := range env {
		if !slices.Contains(whitelist, key) {
			return fmt.Errorf("environment variable '%s' is not in whitelist", key)
		}
	}
	return nil
}

// within reports whether path is root or lies below it.
func within(path, root string) bool {
	if root == "" {
		return false
	}
	p := filepath.Clean(path)
	r := filepath.Clean(root)
	return p == r || strings.HasPrefix(p, strings.TrimSuffix(r, "/")+"/")
}

func isURL(arg string) bool {
	return strings.HasPrefix(arg, "http://") || strings.HasPrefix(arg, "https://")
}

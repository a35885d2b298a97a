package dependency

import (
	"fmt"
	"slices"
	"strings"
)

// forbiddenPrefixes are system directories no engine argument may point into.
var forbiddenPrefixes = []string{"/etc", "/sys", "/proc", "/dev"}

// ValidateCommandRequest performs security checks before command execution:
//  1. Command whitelist (if configured)
//  2. Argument safety (no path traversal, no system directory access)
//  3. Working directory must be inside the data dir
//
// Client methods call it after building a request and before handing it to
// the executor. Remote URLs are exempt from the traversal check because query
// strings legitimately contain "..".
func ValidateCommandRequest(req CommandRequest, config ExecutorConfig) error {
	if len(config.AllowedCommands) > 0 && !slices.Contains(config.AllowedCommands, req.Command) {
		return fmt.Errorf("command %s is not in whitelist (allowed: %v)", req.Command, config.AllowedCommands)
	}

	for _, arg := range req.Args {
		if isURL(arg) {
			continue
		}
		if strings.Contains(arg, "..") {
			return fmt.Errorf("argument contains dangerous characters '..' (path traversal attempt): %s", arg)
		}
		for _, prefix := range forbiddenPrefixes {
			if strings.HasPrefix(arg, prefix) {
				return fmt.Errorf("argument attempts to access forbidden system directory %s: %s", prefix, arg)
			}
		}
	}

	if req.WorkingDir != "" {
		pm := NewPathManager(config.DataDir)
		if err := pm.ValidatePath(req.WorkingDir); err != nil {
			return fmt.Errorf("invalid working directory: %w", err)
		}
	}
	return nil
}

func isURL(arg string) bool {
	return strings.HasPrefix(arg, "http://") || strings.HasPrefix(arg, "https://")
}

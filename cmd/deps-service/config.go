package main

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadConfig reads the YAML whitelist at path and validates it.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &config, nil
}

// GetCommandConfig returns the whitelist entry for name.
func (c *Config) GetCommandConfig(name string) (*CommandConfig, error) {
	for i := range c.Commands {
		if c.Commands[i].Name == name {
			return &c.Commands[i], nil
		}
	}
	return nil, fmt.Errorf("command %s not found in whitelist", name)
}

// CommandNames lists the whitelisted command names in config order.
func (c *Config) CommandNames() []string {
	names := make([]string, 0, len(c.Commands))
	for _, cmd := range c.Commands {
		names = append(names, cmd.Name)
	}
	return names
}

// validateConfig checks every entry, compiles argument patterns and parses
// timeouts. All problems are reported together.
func validateConfig(config *Config) error {
	if len(config.Commands) == 0 {
		return errors.New("commands array cannot be empty")
	}

	var errs []error
	seen := map[string]bool{}
	for i := range config.Commands {
		cmd := &config.Commands[i]
		if cmd.Name == "" {
			errs = append(errs, fmt.Errorf("command[%d]: name cannot be empty", i))
			continue
		}
		if seen[cmd.Name] {
			errs = append(errs, fmt.Errorf("command[%d] (%s): duplicate name", i, cmd.Name))
		}
		seen[cmd.Name] = true

		if cmd.BinaryPath == "" {
			errs = append(errs, fmt.Errorf("command[%d] (%s): binary_path cannot be empty", i, cmd.Name))
		}
		if len(cmd.AllowedArgsPatterns) == 0 {
			errs = append(errs, fmt.Errorf("command[%d] (%s): allowed_args_patterns cannot be empty", i, cmd.Name))
		}
		cmd.patterns = cmd.patterns[:0]
		for _, p := range cmd.AllowedArgsPatterns {
			re, err := regexp.Compile(p)
			if err != nil {
				errs = append(errs, fmt.Errorf("command[%d] (%s): invalid pattern %q: %w", i, cmd.Name, p, err))
				continue
			}
			cmd.patterns = append(cmd.patterns, re)
		}

		if cmd.Timeout == "" {
			errs = append(errs, fmt.Errorf("command[%d] (%s): timeout cannot be empty", i, cmd.Name))
		} else if d, err := time.ParseDuration(cmd.Timeout); err != nil {
			errs = append(errs, fmt.Errorf("command[%d] (%s): invalid timeout format: %w", i, cmd.Name, err))
		} else {
			cmd.timeout = d
		}

		if cmd.MaxConcurrent <= 0 {
			errs = append(errs, fmt.Errorf("command[%d] (%s): max_concurrent must be greater than 0", i, cmd.Name))
		}
	}

	if config.Security.SharedVolumePath == "" {
		errs = append(errs, errors.New("security.shared_volume_path cannot be empty"))
	}
	if len(config.Security.ForbiddenPaths) == 0 {
		errs = append(errs, errors.New("security.forbidden_paths cannot be empty"))
	}
	if config.Security.MaxCommandLength <= 0 {
		errs = append(errs, errors.New("security.max_command_length must be greater than 0"))
	}
	if config.Security.EnableAuditLog && config.Security.AuditLogPath == "" {
		errs = append(errs, errors.New("security.audit_log_path is required when enable_audit_log is set"))
	}

	return errors.Join(errs...)
}

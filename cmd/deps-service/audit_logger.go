package main

import (
	"io"
	"log/slog"

	"gopkg.in/natefinch/lumberjack.v2"
)

// AuditLogger writes one JSON line per execute attempt.
type AuditLogger struct {
	logger *slog.Logger
	closer io.Closer
}

// NewAuditLogger writes to a rotating file at logPath.
func NewAuditLogger(logPath string) *AuditLogger {
	writer := &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    100, // MB
		MaxBackups: 10,
		MaxAge:     30, // days
		Compress:   true,
	}
	a := newAuditLogger(writer)
	a.closer = writer
	return a
}

// NopAuditLogger drops every record; used when auditing is disabled.
func NopAuditLogger() *AuditLogger {
	return newAuditLogger(io.Discard)
}

func newAuditLogger(w io.Writer) *AuditLogger {
	return &AuditLogger{logger: slog.New(slog.NewJSONHandler(w, nil))}
}

// LogExecution records a command that was started.
func (a *AuditLogger) LogExecution(req CommandRequest, resp CommandResponse, err error, sourceIP string) {
	result := "success"
	attrs := []any{
		"command", req.Command,
		"args", req.Args,
		"exit_code", resp.ExitCode,
		"duration_ms", resp.DurationMs,
		"source_ip", sourceIP,
	}
	if err != nil || resp.ExitCode != 0 {
		result = "failed"
		if err != nil {
			attrs = append(attrs, "error_message", err.Error())
		}
	}
	a.logger.Info("execution", append(attrs, "result", result)...)
}

// LogRejection records a request refused by validation or the limiter.
func (a *AuditLogger) LogRejection(req CommandRequest, reason string, sourceIP string) {
	a.logger.Info("rejection",
		"command", req.Command,
		"args", req.Args,
		"result", "rejected",
		"rejection_reason", reason,
		"source_ip", sourceIP,
	)
}

// Close flushes and closes the underlying file, if any.
func (a *AuditLogger) Close() error {
	if a.closer == nil {
		return nil
	}
	return a.closer.Close()
}

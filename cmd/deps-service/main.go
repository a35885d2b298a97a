// deps-service executes whitelisted engine commands (yt-dlp, ffmpeg, the
// diarization and UltraSinger scripts) for chart servers running with
// DEPENDENCY_MODE=remote or fallback. Both sides mount the same data volume.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/houzhh15/singstudio/pkg/logger"
)

func main() {
	configPath := flag.String("config", "/app/config/commands.yaml", "Path to config file")
	port := flag.Int("port", 8080, "HTTP server port")
	logLevel := flag.String("log-level", "info", "Log level (debug/info/warn/error)")
	showVersion := flag.Bool("version", false, "Show version")
	flag.Parse()

	if *showVersion {
		fmt.Printf("deps-service v%s\n", Version)
		os.Exit(0)
	}

	log, err := logger.Init(logger.Config{Level: *logLevel, Environment: "production"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	gin.SetMode(gin.ReleaseMode)

	config, err := LoadConfig(*configPath)
	if err != nil {
		log.Error("failed to load config", "path", *configPath, "error", err)
		os.Exit(1)
	}

	audit := NopAuditLogger()
	if config.Security.EnableAuditLog {
		audit = NewAuditLogger(config.Security.AuditLogPath)
	}
	defer audit.Close()

	handler := NewHandler(config,
		NewValidator(config),
		NewExecutor(config),
		audit,
		NewConcurrencyLimiter(config),
	)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", *port),
		Handler: handler,
	}

	stopChan := make(chan os.Signal, 1)
	signal.Notify(stopChan, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		log.Info("deps-service starting", "port", *port, "commands", config.CommandNames())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-stopChan
	log.Info("shutting down gracefully")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("server shutdown error", "error", err)
	}
	log.Info("server stopped")
}

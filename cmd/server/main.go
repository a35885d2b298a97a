package main

import (
	// Standard library
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	// External dependencies
	"github.com/gin-gonic/gin"

	// Internal packages
	"github.com/houzhh15/singstudio/cmd/server/internal/api"
	"github.com/houzhh15/singstudio/cmd/server/internal/config"
	"github.com/houzhh15/singstudio/cmd/server/internal/handlers"
	"github.com/houzhh15/singstudio/cmd/server/internal/middleware"
	"github.com/houzhh15/singstudio/cmd/server/internal/orchestrator"
	"github.com/houzhh15/singstudio/cmd/server/internal/orchestrator/degradation"
	"github.com/houzhh15/singstudio/cmd/server/internal/orchestrator/dependency"
	"github.com/houzhh15/singstudio/cmd/server/internal/orchestrator/health"
	"github.com/houzhh15/singstudio/cmd/server/internal/orchestrator/transcriber"
	"github.com/houzhh15/singstudio/cmd/server/internal/persistence"
	"github.com/houzhh15/singstudio/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logCfg := cfg.LoggerConfig()
	logCfg.WithSource = !cfg.IsProduction()
	logInstance, err := logger.Init(logCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	appLogger := logInstance.With("component", "web-server")

	// Validate configuration
	if err := config.ValidateConfig(cfg); err != nil {
		appLogger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	appLogger.Info("configuration loaded", "env", cfg.Server.Env, "port", cfg.Server.Port)
	if cfg.IsDevelopment() {
		fmt.Println(cfg.PrintConfig())
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	rootCtx, stop := context.WithCancel(context.Background())
	defer stop()

	// Initialize dependency client (yt-dlp / ffmpeg / diarization)
	depClient, err := dependency.NewClient(cfg.ExecutorConfig())
	if err != nil {
		appLogger.Error("dependency client init failed", "error", err)
		os.Exit(1)
	}
	appLogger.Info("dependency client ready", "mode", depClient.Mode())

	// Initialize chart engines with health-based degradation
	primary, fallback := buildEngines(cfg, depClient)
	checker := health.NewHealthChecker(primary, cfg.Engine.HealthCheckInterval, cfg.Engine.FailThreshold)
	go checker.Start(rootCtx)
	engine := degradation.NewController(primary, fallback, checker)
	appLogger.Info("chart engine ready", "primary", primary.Name(), "fallback", fallback.Name())

	// Initialize job history store
	store, err := persistence.NewSQLiteStore(cfg.Data.DBPath)
	if err != nil {
		appLogger.Error("job store init failed", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	collab := orchestrator.Collaborators{
		Acquirer:    depClient,
		Transcriber: engine,
	}
	if cfg.Dependency.DiarizationScript != "" {
		collab.Diarizer = depClient
		collab.Splitter = depClient
	} else {
		appLogger.Warn("diarization script not configured, duet jobs will fall back to solo")
	}

	orch, err := orchestrator.New(cfg.OrchestratorConfig(), collab,
		orchestrator.WithPersister(store),
		orchestrator.WithLogger(logInstance),
	)
	if err != nil {
		appLogger.Error("orchestrator init failed", "error", err)
		os.Exit(1)
	}
	restored, err := orch.Restore(rootCtx)
	if err != nil {
		appLogger.Warn("failed to restore job history", "error", err)
	}
	appLogger.Info("orchestrator ready", "restored_jobs", restored, "max_concurrent", cfg.Jobs.MaxConcurrent)
	go orch.RunRetentionSweep(rootCtx)

	// Initialize environment handler
	envHandler := handlers.NewEnvironmentHandler(cfg.EnvironmentConfig())

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger("/metrics", "/api/health"))
	r.Use(middleware.CORS(cfg.Security.CORSAllowedOrigins))

	api.RegisterRoutes(r, api.Deps{
		Jobs:      orch,
		Counter:   orch,
		Engine:    engine,
		UploadDir: cfg.Data.UploadDir,
		Duet: api.DuetChecker{
			Diarizer:    collab.Diarizer,
			UploadDir:   cfg.Data.UploadDir,
			MinSpeakers: cfg.Jobs.MinSpeakers,
			MaxSpeakers: cfg.Jobs.MaxSpeakers,
		},
		Environment: envHandler.GetStatus,
	})

	// Create HTTP server with graceful shutdown
	serverAddr := cfg.GetServerAddr()
	srv := &http.Server{
		Addr:    serverAddr,
		Handler: r,
	}

	// Start server in a goroutine
	go func() {
		appLogger.Info("server starting", "addr", serverAddr, "env", cfg.Server.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	<-quit
	appLogger.Info("shutdown signal received, shutting down server...")

	// Create shutdown context with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	shutdown(ctx, appLogger, srv, orch, checker)
	stop()
	appLogger.Info("server shutdown complete")
}

// buildEngines 远程服务优先；两种都配置时互为备选，否则降级到 mock 引擎
func buildEngines(cfg *config.Config, runner transcriber.CommandRunner) (primary, fallback transcriber.Engine) {
	var cli, remote transcriber.Engine
	if cfg.Engine.UltraSingerPath != "" {
		cli = transcriber.NewCLITranscriber(runner, cfg.Engine.UltraSingerPath)
	}
	if cfg.Engine.UltraSingerURL != "" {
		remote = transcriber.NewHTTPTranscriber(cfg.Engine.UltraSingerURL)
	}

	switch {
	case remote != nil && cli != nil:
		return remote, cli
	case remote != nil:
		return remote, transcriber.NewMockTranscriber()
	default:
		return cli, transcriber.NewMockTranscriber()
	}
}

func shutdown(ctx context.Context, log *slog.Logger, srv *http.Server, orch *orchestrator.Orchestrator, checker *health.HealthChecker) {
	// 先停止接收请求，再中断运行中的作业
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("server forced to shutdown", "error", err)
	}
	if err := orch.Shutdown(ctx); err != nil {
		log.Error("orchestrator shutdown incomplete", "error", err)
	}
	checker.Stop()
}

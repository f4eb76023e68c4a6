package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/postpilot/postpilot/internal/api"
	"github.com/postpilot/postpilot/internal/app"
	"github.com/postpilot/postpilot/internal/ingest"
	"github.com/postpilot/postpilot/internal/runner"
	"github.com/postpilot/postpilot/pkg/config"
	"github.com/postpilot/postpilot/pkg/logging"
	"github.com/postpilot/postpilot/pkg/telemetry"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	if err := logging.InitLogger(&cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logging.Sync()

	logger := logging.GetLogger()
	logger.Info("Starting postpilot server")

	// Initialize telemetry
	telemetryShutdown, err := telemetry.Init(&cfg.Telemetry)
	if err != nil {
		logger.Fatal("Failed to initialize telemetry", zap.Error(err))
	}
	defer telemetryShutdown()

	a, err := app.New(cfg)
	if err != nil {
		logger.Fatal("Failed to initialize application", zap.Error(err))
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a.Dispatcher.Start(ctx)

	// Create Gin router
	if cfg.Logging.Level == "DEBUG" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	var health api.HealthChecker
	if a.DB != nil {
		health = a.DB
	}
	api.NewRouter(a.Store, health, a.Cache).SetupRoutes(router)
	ingest.NewWebhook(&cfg.Platform, a.Ring, a.Dispatcher).Register(router)

	// Create HTTP server
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("Server starting", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	jobsDone := make(chan struct{})
	if cfg.Scheduler.Embedded {
		jobs := runner.New(a.Jobs()...)
		logger.Info("Running jobs in-process", zap.Strings("jobs", jobs.Jobs()))
		go func() {
			defer close(jobsDone)
			_ = jobs.Run(ctx)
		}()
	} else {
		close(jobsDone)
	}

	// Wait for interrupt signal
	<-ctx.Done()

	logger.Info("Shutting down server...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	<-jobsDone

	logger.Info("Server exited")
}

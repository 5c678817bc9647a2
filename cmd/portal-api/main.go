package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"carbon-scribe/mrv-registry/internal/app"
	"carbon-scribe/mrv-registry/internal/config"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.json"
	}

	// Load configuration
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fallback, _ := zap.NewDevelopment()
		fallback.Fatal("Failed to load configuration", zap.Error(err))
	}

	// Initialize logger
	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		fallback, _ := zap.NewDevelopment()
		fallback.Fatal("Failed to build logger", zap.Error(err))
	}
	defer logger.Sync()

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize registry", zap.Error(err))
	}

	// Workers run on their own context so shutdown can drain them after
	// the signal cancels ctx.
	if err := registry.Start(context.Background()); err != nil {
		logger.Fatal("Failed to start background workers", zap.Error(err))
	}

	srv := &http.Server{
		Addr:         cfg.Server.GetServerAddr(),
		Handler:      registry.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	logger.Info("Server started",
		zap.String("addr", srv.Addr),
		zap.String("database", cfg.Database.Driver),
		zap.Int("anchor_workers", cfg.Anchor.Workers))

	// Graceful Shutdown
	<-ctx.Done()
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := registry.Shutdown(shutdownCtx); err != nil {
		logger.Error("Registry shutdown incomplete", zap.Error(err))
	}

	logger.Info("Server exiting")
}

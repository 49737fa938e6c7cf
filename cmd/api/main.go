package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/immigration-rag/backend/internal/api"
	"github.com/immigration-rag/backend/internal/app"
	"github.com/immigration-rag/backend/internal/metrics"
	"github.com/immigration-rag/backend/pkg/config"
	appLogger "github.com/immigration-rag/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting immigration RAG API server")

	metrics.Init()

	ctx := context.Background()
	a, err := app.New(ctx, cfg)
	if err != nil {
		appLogger.Fatal("Failed to initialize application", zap.Error(err))
	}
	defer a.Close()

	server := api.NewServer(cfg.Server, a.Service)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := server.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	if err := server.Shutdown(); err != nil {
		appLogger.Error("Shutdown failed", zap.Error(err))
	}
	appLogger.Info("Server stopped")
}

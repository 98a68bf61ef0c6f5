//go:build !with_auth

package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/passbi/passbi_optimizer/internal/api"
	"github.com/passbi/passbi_optimizer/internal/config"
	"github.com/passbi/passbi_optimizer/internal/logging"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting PassBi optimizer API server")

	handler, store, err := buildHandler(cfg, logger, nil)
	if err != nil {
		logger.Fatal("failed to initialize services", zap.Error(err))
	}
	defer closeStore(store)

	app := api.NewApp(handler, api.AppConfig{AccessLog: true}, logger)

	addr := fmt.Sprintf(":%s", cfg.Server.Port)

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down gracefully")
		if err := app.Shutdown(); err != nil {
			logger.Error("error during shutdown", zap.Error(err))
		}
	}()

	logger.Info("server listening",
		zap.String("addr", addr),
		zap.String("optimize", fmt.Sprintf("http://localhost%s/api/routes/optimize", addr)),
		zap.String("health", fmt.Sprintf("http://localhost%s/health", addr)),
	)

	if err := app.Listen(addr); err != nil {
		logger.Fatal("failed to start server", zap.Error(err))
	}
}

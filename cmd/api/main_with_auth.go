//go:build with_auth

package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/passbi/passbi_optimizer/internal/api"
	"github.com/passbi/passbi_optimizer/internal/cache"
	"github.com/passbi/passbi_optimizer/internal/config"
	"github.com/passbi/passbi_optimizer/internal/db"
	"github.com/passbi/passbi_optimizer/internal/logging"
	"github.com/passbi/passbi_optimizer/internal/middleware"
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

	logger.Info("starting PassBi optimizer API server with partner authentication")

	pool, err := db.GetDB()
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	if err := db.EnsureSchema(context.Background(), pool); err != nil {
		logger.Fatal("failed to prepare database schema", zap.Error(err))
	}
	logger.Info("database connection established")

	rdb, err := cache.GetClient()
	if err != nil {
		logger.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer cache.Close()
	logger.Info("redis connection established")

	enableAuth := getEnvBool("ENABLE_AUTH", true)
	enableRateLimit := getEnvBool("ENABLE_RATE_LIMIT", true)
	enableAnalytics := getEnvBool("ENABLE_ANALYTICS", true)

	logger.Info("partner features",
		zap.Bool("auth", enableAuth),
		zap.Bool("rate_limit", enableRateLimit),
		zap.Bool("analytics", enableAnalytics),
	)

	handler, _, err := buildHandler(cfg, logger, map[string]func(context.Context) error{
		"database": db.HealthCheck,
	})
	if err != nil {
		logger.Fatal("failed to initialize services", zap.Error(err))
	}

	keys := middleware.NewPGKeyStore(pool)
	usage := middleware.NewPGUsageStore(pool)
	limiter := middleware.NewRateLimiter(middleware.NewRedisCounter(rdb), middleware.DefaultLimits, logger.Named("ratelimit"))

	appCfg := api.AppConfig{AccessLog: true}
	if enableAuth {
		auth := middleware.Auth(keys, logger.Named("auth"))
		appCfg.APIMiddleware = append(appCfg.APIMiddleware, auth)

		// Rate limits and usage are per partner and need an authenticated caller
		if enableRateLimit {
			appCfg.APIMiddleware = append(appCfg.APIMiddleware, limiter.Handler())
		}
		if enableAnalytics {
			appCfg.APIMiddleware = append(appCfg.APIMiddleware, middleware.Analytics(usage, logger.Named("analytics")))
		}

		dashboard := api.NewDashboard(usage, limiter, logger.Named("dashboard"))
		appCfg.Extra = func(app *fiber.App) {
			dashboard.Register(app.Group("/dashboard", auth, middleware.RequireScope("dashboard:read")))
		}
	}

	app := api.NewApp(handler, appCfg, logger)

	addr := fmt.Sprintf(":%s", cfg.Server.Port)

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		logger.Info("received shutdown signal")
		if err := app.ShutdownWithTimeout(30 * time.Second); err != nil {
			logger.Error("error during shutdown", zap.Error(err))
		}
		logger.Info("server shut down gracefully")
	}()

	logger.Info("server listening", zap.String("addr", addr), zap.Bool("auth", enableAuth))

	if err := app.Listen(addr); err != nil {
		logger.Fatal("failed to start server", zap.Error(err))
	}
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

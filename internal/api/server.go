package api

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AppConfig configures the Fiber application
type AppConfig struct {
	Name         string
	WriteTimeout time.Duration
	// AccessLog enables the request log line; tests turn it off
	AccessLog bool
	// APIMiddleware runs in front of every /api route
	APIMiddleware []fiber.Handler
	// Extra registers additional routes before the 404 fallback
	Extra func(app *fiber.App)
}

// NewApp builds the Fiber application with the shared middleware stack and
// every route of h mounted
func NewApp(h *Handler, cfg AppConfig, log *zap.Logger) *fiber.App {
	if cfg.Name == "" {
		cfg.Name = ServiceName
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = h.requestTimeout + 5*time.Second
	}

	app := fiber.New(fiber.Config{
		AppName:      cfg.Name,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
		ErrorHandler: ErrorHandler(log),
	})

	app.Use(recover.New())
	app.Use(requestid.New(requestid.Config{
		Generator: uuid.NewString,
	}))
	if cfg.AccessLog {
		app.Use(logger.New(logger.Config{
			Format:     "${time} | ${status} | ${latency} | ${method} ${path} | ${locals:requestid}\n",
			TimeFormat: "15:04:05",
			TimeZone:   "Local",
		}))
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
	}))

	app.Get("/", h.Index)
	app.Get("/health", h.Health)

	apiGroup := app.Group("/api")
	for _, mw := range cfg.APIMiddleware {
		apiGroup.Use(mw)
	}
	h.Register(apiGroup)

	if cfg.Extra != nil {
		cfg.Extra(app)
	}

	app.Use(NotFound)
	return app
}

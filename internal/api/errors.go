package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/passbi/passbi_optimizer/internal/apperr"
	"go.uber.org/zap"
)

// ErrorHandler maps errors returned by handlers to JSON responses:
// validation and argument errors are 422, provider failures are 500 with
// the provider diagnostic attached.
func ErrorHandler(logger *zap.Logger) fiber.ErrorHandler {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c *fiber.Ctx, err error) error {
		var (
			verr *apperr.ValidationError
			uerr *apperr.UpstreamError
			ferr *fiber.Error
		)

		switch {
		case errors.As(err, &verr):
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
				"error":  "validation_failed",
				"fields": verr.Fields,
			})

		case errors.Is(err, apperr.ErrInvalidArgument):
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
				"error":   "invalid_argument",
				"message": err.Error(),
			})

		case errors.As(err, &uerr):
			logger.Warn("upstream failure",
				zap.String("path", c.Path()),
				zap.String("operation", uerr.Operation),
				zap.Int("provider_status", uerr.StatusCode),
				zap.Error(err),
			)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error":             "upstream_error",
				"message":           err.Error(),
				"provider_status":   uerr.StatusCode,
				"provider_response": uerr.Body,
			})

		case errors.As(err, &ferr):
			return c.Status(ferr.Code).JSON(fiber.Map{
				"error": ferr.Message,
			})
		}

		logger.Error("request failed", zap.String("path", c.Path()), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   "internal_error",
			"message": err.Error(),
		})
	}
}

// NotFound answers requests that matched no route
func NotFound(c *fiber.Ctx) error {
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
		"error": "endpoint not found",
		"path":  c.Path(),
	})
}

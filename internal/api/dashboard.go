package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/passbi/passbi_optimizer/internal/apperr"
	"github.com/passbi/passbi_optimizer/internal/middleware"
	"go.uber.org/zap"
)

// UsageReader returns recorded partner traffic
type UsageReader interface {
	DailyUsage(ctx context.Context, partnerID string, days int) ([]middleware.UsageStat, error)
}

// QuotaReader returns the live rate limit windows of a partner
type QuotaReader interface {
	Status(ctx context.Context, partner *middleware.Partner) (map[string]middleware.WindowStatus, error)
}

// Dashboard serves the partner self-service endpoints of the authenticated build
type Dashboard struct {
	usage  UsageReader
	quota  QuotaReader
	logger *zap.Logger
}

// NewDashboard creates the dashboard handlers
func NewDashboard(usage UsageReader, quota QuotaReader, logger *zap.Logger) *Dashboard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dashboard{usage: usage, quota: quota, logger: logger}
}

// Register mounts the dashboard endpoints on router. The router must run
// the auth middleware first.
func (d *Dashboard) Register(router fiber.Router) {
	router.Get("/me", d.Me)
	router.Get("/usage", d.Usage)
	router.Get("/quota", d.Quota)
}

func currentPartner(c *fiber.Ctx) (*middleware.Partner, error) {
	partner, ok := middleware.PartnerFrom(c)
	if !ok {
		return nil, fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}
	return partner, nil
}

// Me handles GET /dashboard/me
func (d *Dashboard) Me(c *fiber.Ctx) error {
	partner, err := currentPartner(c)
	if err != nil {
		return err
	}
	return c.JSON(partner)
}

// Usage handles GET /dashboard/usage?days=N
func (d *Dashboard) Usage(c *fiber.Ctx) error {
	partner, err := currentPartner(c)
	if err != nil {
		return err
	}

	errs := &apperr.ValidationError{}
	days := queryInt(c, "days", 30, 1, 90, errs)
	if len(errs.Fields) > 0 {
		return errs
	}

	stats, err := d.usage.DailyUsage(c.UserContext(), partner.PartnerID, days)
	if err != nil {
		d.logger.Error("failed to load usage", zap.String("partner_id", partner.PartnerID), zap.Error(err))
		return err
	}

	now := time.Now()
	return c.JSON(fiber.Map{
		"stats": stats,
		"period": fiber.Map{
			"days": days,
			"from": now.AddDate(0, 0, -days).Format("2006-01-02"),
			"to":   now.Format("2006-01-02"),
		},
	})
}

// Quota handles GET /dashboard/quota
func (d *Dashboard) Quota(c *fiber.Ctx) error {
	partner, err := currentPartner(c)
	if err != nil {
		return err
	}

	status, err := d.quota.Status(c.UserContext(), partner)
	if err != nil {
		d.logger.Error("failed to load quota", zap.String("partner_id", partner.PartnerID), zap.Error(err))
		return err
	}

	return c.JSON(fiber.Map{
		"tier":        partner.Tier,
		"rate_limits": status,
	})
}

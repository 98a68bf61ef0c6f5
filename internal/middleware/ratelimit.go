package middleware

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultLimits apply to partners without configured quotas
var DefaultLimits = Limits{PerSecond: 10, PerDay: 10000, PerMonth: 300000}

// Counter is a shared expiring counter
type Counter interface {
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Get(ctx context.Context, key string) (int64, error)
}

// RedisCounter implements Counter with INCR and EXPIRE
type RedisCounter struct {
	rdb *redis.Client
}

// NewRedisCounter creates a counter on rdb
func NewRedisCounter(rdb *redis.Client) *RedisCounter {
	return &RedisCounter{rdb: rdb}
}

// Incr increments key and refreshes its expiry
func (r *RedisCounter) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	pipe := r.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// Get returns the current value of key, zero when absent
func (r *RedisCounter) Get(ctx context.Context, key string) (int64, error) {
	n, err := r.rdb.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

type window struct {
	name    string
	header  string
	errCode string
	message string
	ttl     time.Duration
	limit   func(Limits) int
	bucket  func(time.Time) string
	reset   func(time.Time) time.Time
}

var windows = []window{
	{
		name:    "second",
		header:  "Second",
		errCode: "rate_limit_exceeded",
		message: "Too many requests per second",
		ttl:     2 * time.Second,
		limit:   func(l Limits) int { return l.PerSecond },
		bucket:  func(t time.Time) string { return strconv.FormatInt(t.Unix(), 10) },
		reset:   func(t time.Time) time.Time { return time.Unix(t.Unix()+1, 0).In(t.Location()) },
	},
	{
		name:    "day",
		header:  "Day",
		errCode: "daily_quota_exceeded",
		message: "Daily quota exceeded",
		ttl:     25 * time.Hour,
		limit:   func(l Limits) int { return l.PerDay },
		bucket:  func(t time.Time) string { return t.Format("2006-01-02") },
		reset: func(t time.Time) time.Time {
			return time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, t.Location())
		},
	},
	{
		name:    "month",
		header:  "Month",
		errCode: "monthly_quota_exceeded",
		message: "Monthly quota exceeded",
		ttl:     32 * 24 * time.Hour,
		limit:   func(l Limits) int { return l.PerMonth },
		bucket:  func(t time.Time) string { return t.Format("2006-01") },
		reset: func(t time.Time) time.Time {
			return time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, t.Location())
		},
	},
}

// WindowStatus is the usage of one rate limit window
type WindowStatus struct {
	Limit     int       `json:"limit"`
	Used      int64     `json:"used"`
	Remaining int64     `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

// RateLimiter enforces per-partner quotas over second, day and month windows
type RateLimiter struct {
	counter  Counter
	defaults Limits
	now      func() time.Time
	logger   *zap.Logger
}

// NewRateLimiter creates a rate limiter. Partners whose limits are all zero
// get defaults.
func NewRateLimiter(counter Counter, defaults Limits, logger *zap.Logger) *RateLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateLimiter{
		counter:  counter,
		defaults: defaults,
		now:      time.Now,
		logger:   logger,
	}
}

func (r *RateLimiter) limitsFor(p *Partner) Limits {
	if p.Limits == (Limits{}) {
		return r.defaults
	}
	return p.Limits
}

func windowKey(partnerID string, w window, t time.Time) string {
	return fmt.Sprintf("rl:partner:%s:%s:%s", partnerID, w.name, w.bucket(t))
}

// Handler counts the request against every window and answers 429 once a
// window is exhausted. Counter failures let the request through.
func (r *RateLimiter) Handler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		partner, ok := PartnerFrom(c)
		if !ok {
			return c.Next()
		}

		limits := r.limitsFor(partner)
		now := r.now()

		for _, w := range windows {
			limit := w.limit(limits)
			if limit <= 0 {
				continue
			}

			count, err := r.counter.Incr(c.UserContext(), windowKey(partner.PartnerID, w, now), w.ttl)
			if err != nil {
				r.logger.Warn("rate limit counter unavailable",
					zap.String("partner_id", partner.PartnerID),
					zap.String("window", w.name),
					zap.Error(err),
				)
				continue
			}

			c.Set("X-RateLimit-Limit-"+w.header, strconv.Itoa(limit))
			if count > int64(limit) {
				reset := w.reset(now)
				retryAfter := int64(reset.Sub(now).Seconds())
				if retryAfter < 1 {
					retryAfter = 1
				}

				c.Set("X-RateLimit-Remaining-"+w.header, "0")
				c.Set("X-RateLimit-Reset-"+w.header, strconv.FormatInt(reset.Unix(), 10))
				c.Set(fiber.HeaderRetryAfter, strconv.FormatInt(retryAfter, 10))

				return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
					"error":       w.errCode,
					"message":     w.message,
					"limit_type":  "per_" + w.name,
					"limit":       limit,
					"used":        count,
					"retry_after": retryAfter,
					"reset_at":    reset.Format(time.RFC3339),
				})
			}
			c.Set("X-RateLimit-Remaining-"+w.header, strconv.FormatInt(int64(limit)-count, 10))
		}

		return c.Next()
	}
}

// Status reports the current usage of every window for partner
func (r *RateLimiter) Status(ctx context.Context, partner *Partner) (map[string]WindowStatus, error) {
	limits := r.limitsFor(partner)
	now := r.now()

	status := make(map[string]WindowStatus, len(windows))
	for _, w := range windows {
		used, err := r.counter.Get(ctx, windowKey(partner.PartnerID, w, now))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s counter: %w", w.name, err)
		}
		limit := w.limit(limits)
		remaining := int64(limit) - used
		if remaining < 0 {
			remaining = 0
		}
		status[w.name] = WindowStatus{
			Limit:     limit,
			Used:      used,
			Remaining: remaining,
			ResetAt:   w.reset(now),
		}
	}
	return status, nil
}

package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/passbi/passbi_optimizer/internal/models"
	"go.uber.org/zap"
)

// UsageRecord is one API request attributed to a partner
type UsageRecord struct {
	PartnerID      string
	APIKeyID       string
	Endpoint       string
	Method         string
	ResponseTimeMs int
	ResponseStatus int
	Location       *models.GeoPoint
	IPAddress      string
	UserAgent      string
	Timestamp      time.Time
}

// Success reports whether the request got a 2xx answer
func (r UsageRecord) Success() bool {
	return r.ResponseStatus >= 200 && r.ResponseStatus < 300
}

// UsageRecorder persists usage records
type UsageRecorder interface {
	Record(ctx context.Context, rec UsageRecord) error
}

// Analytics records every authenticated request after it has been answered.
// Records are written in the background and failures are only logged.
func Analytics(recorder UsageRecorder, logger *zap.Logger) fiber.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		start := time.Now()

		if chainErr := c.Next(); chainErr != nil {
			if err := c.App().ErrorHandler(c, chainErr); err != nil {
				_ = c.SendStatus(fiber.StatusInternalServerError)
			}
		}

		elapsed := time.Since(start)
		c.Set("X-Response-Time", elapsed.String())

		partner, ok := PartnerFrom(c)
		if !ok {
			return nil
		}

		// Fiber strings alias the request buffer, which is reused once the
		// handler returns.
		rec := UsageRecord{
			PartnerID:      partner.PartnerID,
			APIKeyID:       partner.APIKeyID,
			Endpoint:       utils.CopyString(c.Path()),
			Method:         utils.CopyString(c.Method()),
			ResponseTimeMs: int(elapsed.Milliseconds()),
			ResponseStatus: c.Response().StatusCode(),
			Location:       requestLocation(c),
			IPAddress:      utils.CopyString(c.IP()),
			UserAgent:      utils.CopyString(c.Get(fiber.HeaderUserAgent)),
			Timestamp:      start.UTC(),
		}

		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := recorder.Record(ctx, rec); err != nil {
				logger.Warn("failed to record usage",
					zap.String("partner_id", rec.PartnerID),
					zap.String("endpoint", rec.Endpoint),
					zap.Error(err),
				)
			}
		}()

		return nil
	}
}

type bodyPoint struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

func (p *bodyPoint) point() *models.GeoPoint {
	if p == nil || p.Latitude == nil || p.Longitude == nil {
		return nil
	}
	return &models.GeoPoint{Lat: *p.Latitude, Lng: *p.Longitude}
}

// requestLocation extracts the primary coordinate of a request: the origin
// of a trip, the center of an area or the point of a station search
func requestLocation(c *fiber.Ctx) *models.GeoPoint {
	for _, names := range [][2]string{{"origin_lat", "origin_lng"}, {"lat", "lng"}} {
		lat, errLat := strconv.ParseFloat(c.Query(names[0]), 64)
		lng, errLng := strconv.ParseFloat(c.Query(names[1]), 64)
		if errLat == nil && errLng == nil {
			return &models.GeoPoint{Lat: lat, Lng: lng}
		}
	}

	if c.Method() != fiber.MethodPost || len(c.Body()) == 0 {
		return nil
	}
	var body struct {
		Origin     *bodyPoint `json:"origin"`
		Center     *bodyPoint `json:"center"`
		AreaBounds *struct {
			Southwest *bodyPoint `json:"southwest"`
		} `json:"area_bounds"`
	}
	if err := json.Unmarshal(c.Body(), &body); err != nil {
		return nil
	}
	if p := body.Origin.point(); p != nil {
		return p
	}
	if p := body.Center.point(); p != nil {
		return p
	}
	if body.AreaBounds != nil {
		return body.AreaBounds.Southwest.point()
	}
	return nil
}

// UsageStat is one day of a partner's traffic
type UsageStat struct {
	Date            string  `json:"date"`
	TotalRequests   int64   `json:"total_requests"`
	Successful      int64   `json:"successful"`
	Failed          int64   `json:"failed"`
	AvgResponseTime float64 `json:"avg_response_time_ms"`
	MaxResponseTime int     `json:"max_response_time_ms"`
}

// PGUsageStore writes usage records and quota counters to PostgreSQL
type PGUsageStore struct {
	pool *pgxpool.Pool
}

// NewPGUsageStore creates a usage store on pool
func NewPGUsageStore(pool *pgxpool.Pool) *PGUsageStore {
	return &PGUsageStore{pool: pool}
}

// Record inserts rec into usage_log and bumps the daily and monthly counters
func (s *PGUsageStore) Record(ctx context.Context, rec UsageRecord) error {
	var lat, lng *float64
	if rec.Location != nil {
		lat, lng = &rec.Location.Lat, &rec.Location.Lng
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO usage_log (
			partner_id, api_key_id, endpoint, method,
			response_time_ms, response_status,
			origin_lat, origin_lng,
			ip_address, user_agent, timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		rec.PartnerID, rec.APIKeyID, rec.Endpoint, rec.Method,
		rec.ResponseTimeMs, rec.ResponseStatus,
		lat, lng,
		rec.IPAddress, rec.UserAgent, rec.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert usage log: %w", err)
	}

	successful, failed := 0, 1
	if rec.Success() {
		successful, failed = 1, 0
	}

	day := rec.Timestamp.Format("2006-01-02")
	monthStart := time.Date(rec.Timestamp.Year(), rec.Timestamp.Month(), 1, 0, 0, 0, 0, time.UTC)
	monthEnd := monthStart.AddDate(0, 1, -1)

	periods := []struct {
		kind, start, end string
	}{
		{"daily", day, day},
		{"monthly", monthStart.Format("2006-01-02"), monthEnd.Format("2006-01-02")},
	}
	for _, p := range periods {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO quota_usage (
				partner_id, period_type, period_start, period_end,
				requests_count, successful_requests, failed_requests
			)
			VALUES ($1, $2, $3, $4, 1, $5, $6)
			ON CONFLICT (partner_id, period_type, period_start)
			DO UPDATE SET
				requests_count = quota_usage.requests_count + 1,
				successful_requests = quota_usage.successful_requests + $5,
				failed_requests = quota_usage.failed_requests + $6,
				updated_at = NOW()
		`, rec.PartnerID, p.kind, p.start, p.end, successful, failed)
		if err != nil {
			return fmt.Errorf("failed to update %s quota: %w", p.kind, err)
		}
	}
	return nil
}

// DailyUsage returns per-day statistics for the last days days, newest first
func (s *PGUsageStore) DailyUsage(ctx context.Context, partnerID string, days int) ([]UsageStat, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT
			DATE(timestamp) AS date,
			COUNT(*) AS total_requests,
			COUNT(*) FILTER (WHERE response_status >= 200 AND response_status < 300) AS successful,
			COUNT(*) FILTER (WHERE response_status >= 400) AS failed,
			AVG(response_time_ms) AS avg_response_time,
			MAX(response_time_ms) AS max_response_time
		FROM usage_log
		WHERE partner_id = $1
			AND timestamp >= NOW() - INTERVAL '1 day' * $2
		GROUP BY DATE(timestamp)
		ORDER BY date DESC
	`, partnerID, days)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage: %w", err)
	}
	defer rows.Close()

	stats := []UsageStat{}
	for rows.Next() {
		var (
			st   UsageStat
			date time.Time
		)
		if err := rows.Scan(&date, &st.TotalRequests, &st.Successful, &st.Failed, &st.AvgResponseTime, &st.MaxResponseTime); err != nil {
			return nil, fmt.Errorf("failed to scan usage row: %w", err)
		}
		st.Date = date.Format("2006-01-02")
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

package middleware

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// ErrKeyNotFound is returned by a KeyStore for unknown, revoked or expired keys
var ErrKeyNotFound = errors.New("api key not found")

const partnerLocal = "partner"

// Limits are the request quotas of a partner. Zero disables a window.
type Limits struct {
	PerSecond int `json:"per_second"`
	PerDay    int `json:"per_day"`
	PerMonth  int `json:"per_month"`
}

// Partner is the authenticated caller attached to the request
type Partner struct {
	PartnerID   string   `json:"partner_id"`
	APIKeyID    string   `json:"api_key_id"`
	Tier        string   `json:"tier"`
	Scopes      []string `json:"scopes"`
	AllowedIPs  []string `json:"-"`
	Email       string   `json:"email"`
	CompanyName string   `json:"company"`
	Limits      Limits   `json:"limits"`
}

// HasScope reports whether the partner holds scope or the wildcard
func (p *Partner) HasScope(scope string) bool {
	for _, s := range p.Scopes {
		if s == scope || s == "*" {
			return true
		}
	}
	return false
}

// KeyStore resolves hashed API keys to partners
type KeyStore interface {
	LookupKey(ctx context.Context, keyHash string) (*Partner, error)
	Touch(ctx context.Context, apiKeyID string) error
}

// PartnerFrom returns the partner set by Auth, if any
func PartnerFrom(c *fiber.Ctx) (*Partner, bool) {
	p, ok := c.Locals(partnerLocal).(*Partner)
	return p, ok && p != nil
}

// HashKey returns the storage hash of an API key
func HashKey(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:])
}

// GenerateAPIKey creates a key of the form pk_<env>_<hex>_<checksum> along
// with its storage hash and display prefix
func GenerateAPIKey(env string) (key, hash, prefix string, err error) {
	if env != "test" && env != "live" {
		return "", "", "", fmt.Errorf("env must be test or live, got %q", env)
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	body := hex.EncodeToString(raw)
	checksum := sha256.Sum256([]byte(body))

	key = fmt.Sprintf("pk_%s_%s_%s", env, body, hex.EncodeToString(checksum[:2]))
	return key, HashKey(key), fmt.Sprintf("pk_%s_%s...", env, body[:8]), nil
}

// Auth validates the bearer API key and attaches the partner to the request
func Auth(store KeyStore, logger *zap.Logger) fiber.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		authHeader := c.Get(fiber.HeaderAuthorization)
		if authHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error":   "missing_api_key",
				"message": "API key is required. Use Authorization: Bearer YOUR_API_KEY",
			})
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error":   "invalid_auth_format",
				"message": "Authorization header must be in format: Bearer YOUR_API_KEY",
			})
		}

		apiKey := strings.TrimSpace(parts[1])
		if !strings.HasPrefix(apiKey, "pk_") {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error":   "invalid_api_key_format",
				"message": "API key must start with pk_",
			})
		}

		partner, err := store.LookupKey(c.UserContext(), HashKey(apiKey))
		if err != nil {
			if !errors.Is(err, ErrKeyNotFound) {
				logger.Error("api key lookup failed", zap.Error(err))
			}
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error":   "invalid_api_key",
				"message": "The provided API key is invalid, expired, or has been revoked",
			})
		}

		if len(partner.AllowedIPs) > 0 && !contains(partner.AllowedIPs, c.IP()) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error":   "ip_not_allowed",
				"message": "Your IP address is not authorized to use this API key",
				"ip":      c.IP(),
			})
		}

		go func(id string) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := store.Touch(ctx, id); err != nil {
				logger.Warn("failed to update key usage", zap.String("api_key_id", id), zap.Error(err))
			}
		}(partner.APIKeyID)

		c.Locals(partnerLocal, partner)
		return c.Next()
	}
}

// RequireScope rejects partners without scope
func RequireScope(scope string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		partner, ok := PartnerFrom(c)
		if !ok {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error":   "unauthorized",
				"message": "Authentication required",
			})
		}
		if !partner.HasScope(scope) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error":          "insufficient_permissions",
				"message":        "Your API key does not have the required permissions",
				"required_scope": scope,
			})
		}
		return c.Next()
	}
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// PGKeyStore reads API keys and partners from PostgreSQL
type PGKeyStore struct {
	pool *pgxpool.Pool
}

// NewPGKeyStore creates a key store on pool
func NewPGKeyStore(pool *pgxpool.Pool) *PGKeyStore {
	return &PGKeyStore{pool: pool}
}

// LookupKey returns the active partner owning keyHash
func (s *PGKeyStore) LookupKey(ctx context.Context, keyHash string) (*Partner, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	query := `
		SELECT
			ak.id,
			ak.partner_id,
			ak.scopes,
			ak.allowed_ips,
			p.tier,
			p.email,
			COALESCE(p.company, ''),
			p.rate_limit_per_second,
			p.rate_limit_per_day,
			p.rate_limit_per_month
		FROM api_key ak
		JOIN partner p ON p.id = ak.partner_id
		WHERE ak.key_hash = $1
			AND ak.is_active = true
			AND p.status = 'active'
			AND (ak.expires_at IS NULL OR ak.expires_at > NOW())
	`

	var p Partner
	err := s.pool.QueryRow(ctx, query, keyHash).Scan(
		&p.APIKeyID,
		&p.PartnerID,
		&p.Scopes,
		&p.AllowedIPs,
		&p.Tier,
		&p.Email,
		&p.CompanyName,
		&p.Limits.PerSecond,
		&p.Limits.PerDay,
		&p.Limits.PerMonth,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up api key: %w", err)
	}
	return &p, nil
}

// Touch records that a key and its partner were just used
func (s *PGKeyStore) Touch(ctx context.Context, apiKeyID string) error {
	if _, err := s.pool.Exec(ctx, `UPDATE api_key SET last_used_at = NOW() WHERE id = $1`, apiKeyID); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE partner
		SET last_active_at = NOW()
		WHERE id = (SELECT partner_id FROM api_key WHERE id = $1)
	`, apiKeyID)
	return err
}

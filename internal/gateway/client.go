package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/passbi/passbi_optimizer/internal/apperr"
	"github.com/passbi/passbi_optimizer/internal/config"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// maxDiagnosticBytes caps the provider body kept on an UpstreamError
const maxDiagnosticBytes = 4096

// Client talks to the external mapping provider (Routes API v2 for
// directions and traffic, Places nearby search for stations and POIs).
// It is safe for concurrent use. At most MaxConcurrency provider requests
// are in flight per Client, across all callers.
type Client struct {
	cfg        config.ProviderConfig
	httpClient *http.Client
	slots      *semaphore.Weighted
	logger     *zap.Logger
}

// NewClient creates a provider client
func NewClient(cfg config.ProviderConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxConcurrency < 1 {
		cfg.MaxConcurrency = 1
	}
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		slots:  semaphore.NewWeighted(int64(cfg.MaxConcurrency)),
		logger: logger,
	}
}

// HasCredentials reports whether an API key is configured
func (c *Client) HasCredentials() bool {
	return c.cfg.APIKey != ""
}

// MaxConcurrency is the fan-out limit applied by the batch operations
func (c *Client) MaxConcurrency() int {
	return c.cfg.MaxConcurrency
}

// postJSON sends a Routes API request and decodes the response into out
func (c *Client) postJSON(ctx context.Context, op, fieldMask string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", op, err)
	}

	if err := c.acquire(ctx, op); err != nil {
		return err
	}
	defer c.slots.Release(1)

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.RoutesURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Goog-Api-Key", c.cfg.APIKey)
	req.Header.Set("X-Goog-FieldMask", fieldMask)

	return c.do(req, op, out)
}

// getJSON sends a Places request and decodes the response into out
func (c *Client) getJSON(ctx context.Context, op, rawURL string, out interface{}) error {
	if err := c.acquire(ctx, op); err != nil {
		return err
	}
	defer c.slots.Release(1)

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", op, err)
	}

	return c.do(req, op, out)
}

// acquire waits for a provider request slot. The wait is bounded by ctx,
// not by the provider timeout.
func (c *Client) acquire(ctx context.Context, op string) error {
	if err := c.slots.Acquire(ctx, 1); err != nil {
		return &apperr.UpstreamError{Operation: op, Err: err}
	}
	return nil
}

func (c *Client) do(req *http.Request, op string, out interface{}) error {
	start := time.Now()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("provider request failed", zap.String("operation", op), zap.Error(err))
		return &apperr.UpstreamError{Operation: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &apperr.UpstreamError{Operation: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn("provider returned non-success status",
			zap.String("operation", op),
			zap.Int("status", resp.StatusCode),
		)
		return &apperr.UpstreamError{
			Operation:  op,
			StatusCode: resp.StatusCode,
			Body:       truncate(data),
			Err:        errors.New("non-success status"),
		}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return &apperr.UpstreamError{
			Operation:  op,
			StatusCode: resp.StatusCode,
			Body:       truncate(data),
			Err:        fmt.Errorf("malformed payload: %w", err),
		}
	}

	c.logger.Debug("provider request completed",
		zap.String("operation", op),
		zap.Duration("latency", time.Since(start)),
	)
	return nil
}

func truncate(data []byte) string {
	if len(data) > maxDiagnosticBytes {
		return string(data[:maxDiagnosticBytes])
	}
	return string(data)
}

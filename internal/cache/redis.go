package cache

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	client     *redis.Client
	clientOnce sync.Once
	clientErr  error
)

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host       string
	Port       int
	Password   string
	DB         int
	TLSEnabled bool
	MutexTTL   time.Duration
}

// LoadRedisConfigFromEnv loads Redis settings from REDIS_* variables
func LoadRedisConfigFromEnv() *RedisConfig {
	port, _ := strconv.Atoi(getEnv("REDIS_PORT", "6379"))
	db, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	mutexTTL, _ := time.ParseDuration(getEnv("CACHE_MUTEX_TTL", "5s"))

	return &RedisConfig{
		Host:       getEnv("REDIS_HOST", "localhost"),
		Port:       port,
		Password:   getEnv("REDIS_PASSWORD", ""),
		DB:         db,
		TLSEnabled: getEnv("REDIS_TLS_ENABLED", "false") == "true",
		MutexTTL:   mutexTTL,
	}
}

// GetClient returns the shared Redis client, connecting on first use
func GetClient() (*redis.Client, error) {
	clientOnce.Do(func() {
		cfg := LoadRedisConfigFromEnv()

		opts := &redis.Options{
			Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Password:     cfg.Password,
			DB:           cfg.DB,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
			PoolSize:     10,
			MinIdleConns: 2,
		}

		// Managed Redis (Upstash and friends) requires TLS
		if cfg.TLSEnabled {
			opts.TLSConfig = &tls.Config{
				MinVersion: tls.VersionTLS12,
			}
		}

		client = redis.NewClient(opts)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := client.Ping(ctx).Err(); err != nil {
			clientErr = fmt.Errorf("failed to connect to Redis: %w", err)
			return
		}
	})

	return client, clientErr
}

// Close closes the shared Redis client
func Close() {
	if client != nil {
		client.Close()
	}
}

// RedisStore keeps JSON-encoded provider responses in Redis and offers a
// SetNX lock so concurrent misses on one key hit the provider only once.
type RedisStore struct {
	rdb      *redis.Client
	mutexTTL time.Duration
}

// NewRedisStore wraps a connected client
func NewRedisStore(rdb *redis.Client, mutexTTL time.Duration) *RedisStore {
	if mutexTTL <= 0 {
		mutexTTL = 5 * time.Second
	}
	return &RedisStore{rdb: rdb, mutexTTL: mutexTTL}
}

// Name implements Store
func (s *RedisStore) Name() string { return "redis" }

// Get implements Store
func (s *RedisStore) Get(ctx context.Context, key string, out interface{}) (bool, error) {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("failed to unmarshal cached value: %w", err)
	}
	return true, nil
}

// Set implements Store
func (s *RedisStore) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	return s.rdb.Set(ctx, key, data, ttl).Err()
}

// HealthCheck implements Store
func (s *RedisStore) HealthCheck(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("Redis ping failed: %w", err)
	}
	return nil
}

// AcquireLock tries to take the fill lock for key.
// Returns false if another caller already holds it.
func (s *RedisStore) AcquireLock(ctx context.Context, key string) (bool, error) {
	return s.rdb.SetNX(ctx, LockKey(key), "1", s.mutexTTL).Result()
}

// ReleaseLock drops the fill lock for key
func (s *RedisStore) ReleaseLock(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, LockKey(key)).Err()
}

// WaitForFill polls until the lock holder for key releases it, then reads
// the value it stored. It returns false when the wait times out or the
// holder stored nothing.
func (s *RedisStore) WaitForFill(ctx context.Context, key string, out interface{}) (bool, error) {
	lockKey := LockKey(key)
	deadline := time.Now().Add(s.mutexTTL)

	for time.Now().Before(deadline) {
		exists, err := s.rdb.Exists(ctx, lockKey).Result()
		if err != nil {
			return false, err
		}
		if exists == 0 {
			return s.Get(ctx, key, out)
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}

	return false, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

package cache

import (
	"context"
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/passbi/passbi_optimizer/internal/config"
	"github.com/passbi/passbi_optimizer/internal/models"
)

// Store is a JSON value cache. Get reports false on a miss.
type Store interface {
	Name() string
	Get(ctx context.Context, key string, out interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	HealthCheck(ctx context.Context) error
}

// Locker is implemented by stores shared between processes. It lets one
// caller fill a missing key while the others wait for the result.
type Locker interface {
	AcquireLock(ctx context.Context, key string) (bool, error)
	ReleaseLock(ctx context.Context, key string) error
	WaitForFill(ctx context.Context, key string, out interface{}) (bool, error)
}

// NewStore builds the backend selected by cfg.Backend. It returns nil for
// "none".
func NewStore(cfg config.CacheConfig) (Store, error) {
	switch cfg.Backend {
	case "", "none":
		return nil, nil
	case "memory":
		return NewMemoryStore(cfg.Size), nil
	case "redis":
		rdb, err := GetClient()
		if err != nil {
			return nil, err
		}
		return NewRedisStore(rdb, LoadRedisConfigFromEnv().MutexTTL), nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}

// POIKey generates a cache key for a POI count query
func POIKey(location models.GeoPoint, radius int, category string) string {
	return queryKey("poi", location, radius, category)
}

// StationsKey generates a cache key for a station search
func StationsKey(location models.GeoPoint, radius int, stationType string) string {
	return queryKey("stations", location, radius, stationType)
}

// LockKey generates the fill lock key for a cache key
func LockKey(key string) string {
	return fmt.Sprintf("lock:%s", key)
}

func queryKey(prefix string, location models.GeoPoint, radius int, placeType string) string {
	data := fmt.Sprintf("%.6f,%.6f,%d", location.Lat, location.Lng, radius)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%s:%x:%s", prefix, hash[:8], placeType)
}

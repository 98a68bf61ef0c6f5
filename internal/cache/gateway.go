package cache

import (
	"context"
	"time"

	"github.com/passbi/passbi_optimizer/internal/gateway"
	"github.com/passbi/passbi_optimizer/internal/models"
	"go.uber.org/zap"
)

// Upstream is the part of the provider client whose answers are cacheable.
// Traffic and transit routes are time dependent and always go to the provider.
type Upstream interface {
	GetNearbyPOIs(ctx context.Context, location models.GeoPoint, radius int, category string) (int, error)
	GetNearbyStations(ctx context.Context, location models.GeoPoint, radius int, stationType string) ([]models.Station, error)
	MaxConcurrency() int
}

// CachedGateway serves place searches from a Store and falls through to
// the provider on a miss. Cache failures are logged and never fail a call.
type CachedGateway struct {
	upstream Upstream
	store    Store
	ttl      time.Duration
	logger   *zap.Logger
}

// NewCachedGateway wraps upstream with store
func NewCachedGateway(upstream Upstream, store Store, ttl time.Duration, logger *zap.Logger) *CachedGateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedGateway{
		upstream: upstream,
		store:    store,
		ttl:      ttl,
		logger:   logger,
	}
}

// GetNearbyPOIs returns a cached POI count or asks the provider
func (g *CachedGateway) GetNearbyPOIs(ctx context.Context, location models.GeoPoint, radius int, category string) (int, error) {
	var count int
	err := g.fetch(ctx, POIKey(location, radius, category), &count, func() (interface{}, error) {
		n, err := g.upstream.GetNearbyPOIs(ctx, location, radius, category)
		count = n
		return n, err
	})
	return count, err
}

// GetNearbyStations returns cached stations or asks the provider
func (g *CachedGateway) GetNearbyStations(ctx context.Context, location models.GeoPoint, radius int, stationType string) ([]models.Station, error) {
	var stations []models.Station
	err := g.fetch(ctx, StationsKey(location, radius, stationType), &stations, func() (interface{}, error) {
		s, err := g.upstream.GetNearbyStations(ctx, location, radius, stationType)
		stations = s
		return s, err
	})
	return stations, err
}

// BatchCount runs POI count queries with the upstream concurrency limit
func (g *CachedGateway) BatchCount(ctx context.Context, queries []gateway.POIQuery) ([]int, error) {
	counts := make([]int, len(queries))
	err := gateway.ForEach(ctx, g.upstream.MaxConcurrency(), len(queries), func(ctx context.Context, i int) error {
		q := queries[i]
		n, err := g.GetNearbyPOIs(ctx, q.Location, q.Radius, q.Category)
		if err != nil {
			return err
		}
		counts[i] = n
		return nil
	})
	if err != nil {
		return nil, err
	}
	return counts, nil
}

// BatchStations runs station queries with the upstream concurrency limit
func (g *CachedGateway) BatchStations(ctx context.Context, queries []gateway.StationQuery) ([][]models.Station, error) {
	out := make([][]models.Station, len(queries))
	err := gateway.ForEach(ctx, g.upstream.MaxConcurrency(), len(queries), func(ctx context.Context, i int) error {
		q := queries[i]
		stations, err := g.GetNearbyStations(ctx, q.Location, q.Radius, q.Type)
		if err != nil {
			return err
		}
		out[i] = stations
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// fetch reads key into out. On a miss it calls load, which must also fill
// out, and stores the result. With a Locker store only one caller per key
// runs load; the rest wait for its result and fall back to load themselves
// if the wait comes back empty.
func (g *CachedGateway) fetch(ctx context.Context, key string, out interface{}, load func() (interface{}, error)) error {
	if hit, err := g.store.Get(ctx, key, out); err != nil {
		g.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
	} else if hit {
		return nil
	}

	if locker, ok := g.store.(Locker); ok {
		acquired, err := locker.AcquireLock(ctx, key)
		if err != nil {
			g.logger.Warn("cache lock failed", zap.String("key", key), zap.Error(err))
		} else if acquired {
			defer func() {
				if err := locker.ReleaseLock(context.Background(), key); err != nil {
					g.logger.Warn("cache unlock failed", zap.String("key", key), zap.Error(err))
				}
			}()
		} else {
			hit, err := locker.WaitForFill(ctx, key, out)
			if err == nil && hit {
				return nil
			}
		}
	}

	value, err := load()
	if err != nil {
		return err
	}

	if err := g.store.Set(ctx, key, value, g.ttl); err != nil {
		g.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
	return nil
}

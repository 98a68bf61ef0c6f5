package main

import (
	"context"
	"fmt"

	"github.com/passbi/passbi_optimizer/internal/api"
	"github.com/passbi/passbi_optimizer/internal/cache"
	"github.com/passbi/passbi_optimizer/internal/config"
	"github.com/passbi/passbi_optimizer/internal/density"
	"github.com/passbi/passbi_optimizer/internal/gateway"
	"github.com/passbi/passbi_optimizer/internal/models"
	"github.com/passbi/passbi_optimizer/internal/routing"
	"go.uber.org/zap"
)

// cachedStations sends station searches of the HTTP layer through the cache
type cachedStations struct {
	*gateway.Client
	cached *cache.CachedGateway
}

func (g cachedStations) GetNearbyStations(ctx context.Context, location models.GeoPoint, radius int, stationType string) ([]models.Station, error) {
	return g.cached.GetNearbyStations(ctx, location, radius, stationType)
}

// buildHandler constructs the provider client, the scoring components and
// the HTTP handler. The returned store is nil when caching is disabled.
func buildHandler(cfg *config.Config, logger *zap.Logger, checks map[string]func(context.Context) error) (*api.Handler, cache.Store, error) {
	client := gateway.NewClient(cfg.Provider, logger.Named("gateway"))

	store, err := cache.NewStore(cfg.Cache)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize cache: %w", err)
	}

	var (
		places density.Gateway = client
		direct api.Gateway     = client
	)
	if store != nil {
		cached := cache.NewCachedGateway(client, store, cfg.Cache.TTL, logger.Named("cache"))
		places = cached
		direct = cachedStations{Client: client, cached: cached}
		logger.Info("provider cache enabled",
			zap.String("backend", store.Name()),
			zap.Duration("ttl", cfg.Cache.TTL),
		)
	}

	analyzer := density.NewAnalyzer(places, logger.Named("density"))
	optimizer, err := routing.NewOptimizer(client, analyzer, cfg.Scoring, logger.Named("routing"))
	if err != nil {
		return nil, nil, err
	}
	weights := optimizer.Profile().Weights
	logger.Info("scoring profile loaded",
		zap.Float64("time", weights.Time),
		zap.Float64("traffic", weights.Traffic),
		zap.Float64("density", weights.Density),
		zap.Float64("connectivity", weights.Connectivity),
	)

	handler := api.NewHandler(api.Options{
		Gateway:        direct,
		Scorer:         analyzer,
		Ranker:         optimizer,
		Store:          store,
		Checks:         checks,
		Logger:         logger.Named("api"),
		RequestTimeout: cfg.Server.RequestTimeout,
	})
	return handler, store, nil
}

// closeStore releases the shared Redis client when it backs the cache
func closeStore(store cache.Store) {
	if store != nil && store.Name() == "redis" {
		cache.Close()
	}
}

package gateway

import (
	"context"

	"github.com/passbi/passbi_optimizer/internal/apperr"
	"github.com/passbi/passbi_optimizer/internal/models"
	"golang.org/x/sync/errgroup"
)

// POIQuery is one category count request
type POIQuery struct {
	Location models.GeoPoint
	Radius   int
	Category string
}

// StationQuery is one station search request
type StationQuery struct {
	Location models.GeoPoint
	Radius   int
	Type     string
}

// ForEach runs fn for every index in [0, n) with at most limit calls in
// flight. The first error cancels the context passed to the remaining calls
// and is returned. Callers write results by index, so output order matches
// input order regardless of completion order.
func ForEach(ctx context.Context, limit, n int, fn func(ctx context.Context, i int) error) error {
	if n == 0 {
		return nil
	}
	if limit < 1 {
		limit = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return &apperr.UpstreamError{Operation: "batch fetch", Err: err}
			}
			return fn(gctx, i)
		})
	}

	return g.Wait()
}

// BatchCount runs POI count queries with bounded concurrency
func (c *Client) BatchCount(ctx context.Context, queries []POIQuery) ([]int, error) {
	counts := make([]int, len(queries))
	err := ForEach(ctx, c.cfg.MaxConcurrency, len(queries), func(ctx context.Context, i int) error {
		q := queries[i]
		n, err := c.GetNearbyPOIs(ctx, q.Location, q.Radius, q.Category)
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

// BatchStations runs station queries with bounded concurrency
func (c *Client) BatchStations(ctx context.Context, queries []StationQuery) ([][]models.Station, error) {
	out := make([][]models.Station, len(queries))
	err := ForEach(ctx, c.cfg.MaxConcurrency, len(queries), func(ctx context.Context, i int) error {
		q := queries[i]
		stations, err := c.GetNearbyStations(ctx, q.Location, q.Radius, q.Type)
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

package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/passbi/passbi_optimizer/internal/apperr"
	"github.com/passbi/passbi_optimizer/internal/config"
	"github.com/passbi/passbi_optimizer/internal/gateway"
	"github.com/passbi/passbi_optimizer/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingUpstream struct {
	mu       sync.Mutex
	poiCalls int
	stnCalls int
	fail     bool
}

func (u *countingUpstream) GetNearbyPOIs(_ context.Context, _ models.GeoPoint, radius int, category string) (int, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.poiCalls++
	if u.fail {
		return 0, &apperr.UpstreamError{Operation: "nearby POIs", StatusCode: 503, Err: errors.New("non-success status")}
	}
	return len(category) + radius/100, nil
}

func (u *countingUpstream) GetNearbyStations(_ context.Context, loc models.GeoPoint, _ int, stationType string) ([]models.Station, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.stnCalls++
	return []models.Station{{Name: stationType, Location: loc, Types: []string{stationType}}}, nil
}

func (u *countingUpstream) MaxConcurrency() int { return 2 }

var center = models.GeoPoint{Lat: 14.6928, Lng: -17.4467}

func TestCachedGatewayServesRepeatsFromStore(t *testing.T) {
	up := &countingUpstream{}
	g := NewCachedGateway(up, NewMemoryStore(100), time.Minute, nil)
	ctx := context.Background()

	first, err := g.GetNearbyPOIs(ctx, center, 1000, "cafe")
	require.NoError(t, err)
	second, err := g.GetNearbyPOIs(ctx, center, 1000, "cafe")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 14, first)
	assert.Equal(t, 1, up.poiCalls)

	// A different radius is a different key
	_, err = g.GetNearbyPOIs(ctx, center, 500, "cafe")
	require.NoError(t, err)
	assert.Equal(t, 2, up.poiCalls)
}

func TestCachedGatewayStations(t *testing.T) {
	up := &countingUpstream{}
	g := NewCachedGateway(up, NewMemoryStore(100), time.Minute, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		stations, err := g.GetNearbyStations(ctx, center, 800, "bus_station")
		require.NoError(t, err)
		require.Len(t, stations, 1)
		assert.Equal(t, "bus_station", stations[0].Name)
		assert.Equal(t, center, stations[0].Location)
	}
	assert.Equal(t, 1, up.stnCalls)
}

func TestCachedGatewayDoesNotCacheErrors(t *testing.T) {
	up := &countingUpstream{fail: true}
	g := NewCachedGateway(up, NewMemoryStore(100), time.Minute, nil)
	ctx := context.Background()

	_, err := g.GetNearbyPOIs(ctx, center, 1000, "bank")
	assert.True(t, apperr.IsUpstream(err))

	up.fail = false
	n, err := g.GetNearbyPOIs(ctx, center, 1000, "bank")
	require.NoError(t, err)
	assert.Equal(t, 14, n)
	assert.Equal(t, 2, up.poiCalls)
}

func TestCachedGatewayBatchKeepsOrder(t *testing.T) {
	up := &countingUpstream{}
	g := NewCachedGateway(up, NewMemoryStore(100), time.Minute, nil)

	queries := []gateway.POIQuery{
		{Location: center, Radius: 1000, Category: "gym"},
		{Location: center, Radius: 1000, Category: "school"},
		{Location: center, Radius: 1000, Category: "gym"},
		{Location: center, Radius: 1000, Category: "hospital"},
	}

	counts, err := g.BatchCount(context.Background(), queries)
	require.NoError(t, err)
	assert.Equal(t, []int{13, 16, 13, 18}, counts)

	stations, err := g.BatchStations(context.Background(), []gateway.StationQuery{
		{Location: center, Radius: 800, Type: "bus_station"},
		{Location: center, Radius: 800, Type: "subway_station"},
	})
	require.NoError(t, err)
	require.Len(t, stations, 2)
	assert.Equal(t, "bus_station", stations[0][0].Name)
	assert.Equal(t, "subway_station", stations[1][0].Name)
}

func TestMemoryStoreExpiry(t *testing.T) {
	s := NewMemoryStore(10)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", 42, 20*time.Millisecond))

	var v int
	hit, err := s.Get(ctx, "k", &v)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, 42, v)

	time.Sleep(40 * time.Millisecond)
	hit, err = s.Get(ctx, "k", &v)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestMemoryStoreEvictsLeastRecentlyUsed(t *testing.T) {
	s := NewMemoryStore(2)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "a", 1, 0))
	require.NoError(t, s.Set(ctx, "b", 2, 0))

	var v int
	_, _ = s.Get(ctx, "a", &v)
	require.NoError(t, s.Set(ctx, "c", 3, 0))

	hit, _ := s.Get(ctx, "b", &v)
	assert.False(t, hit)
	hit, _ = s.Get(ctx, "a", &v)
	assert.True(t, hit)
	assert.Equal(t, 2, s.Len())
}

func TestKeys(t *testing.T) {
	assert.Equal(t, POIKey(center, 1000, "cafe"), POIKey(center, 1000, "cafe"))
	assert.NotEqual(t, POIKey(center, 1000, "cafe"), StationsKey(center, 1000, "cafe"))
	assert.NotEqual(t, POIKey(center, 1000, "cafe"), POIKey(center, 1001, "cafe"))
	assert.Equal(t, "lock:x", LockKey("x"))
}

func TestNewStore(t *testing.T) {
	s, err := NewStore(config.CacheConfig{Backend: "none"})
	require.NoError(t, err)
	assert.Nil(t, s)

	s, err = NewStore(config.CacheConfig{Backend: "memory", Size: 10})
	require.NoError(t, err)
	assert.Equal(t, "memory", s.Name())

	_, err = NewStore(config.CacheConfig{Backend: "memcached"})
	assert.Error(t, err)
}

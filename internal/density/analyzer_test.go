package density

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/passbi/passbi_optimizer/internal/apperr"
	"github.com/passbi/passbi_optimizer/internal/gateway"
	"github.com/passbi/passbi_optimizer/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGateway answers queries from plain functions
type fakeGateway struct {
	count    func(q gateway.POIQuery) int
	stations func(q gateway.StationQuery) []models.Station
	err      error
	queries  int
}

func (f *fakeGateway) BatchCount(_ context.Context, queries []gateway.POIQuery) ([]int, error) {
	f.queries += len(queries)
	if f.err != nil {
		return nil, f.err
	}
	out := make([]int, len(queries))
	for i, q := range queries {
		out[i] = f.count(q)
	}
	return out, nil
}

func (f *fakeGateway) BatchStations(_ context.Context, queries []gateway.StationQuery) ([][]models.Station, error) {
	f.queries += len(queries)
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]models.Station, len(queries))
	for i, q := range queries {
		out[i] = f.stations(q)
	}
	return out, nil
}

// perCategory returns n POIs for every category
func perCategory(n int) func(gateway.POIQuery) int {
	return func(gateway.POIQuery) int { return n }
}

// schoolsOnly puts the whole total into the school category
func schoolsOnly(total func(models.GeoPoint) int) func(gateway.POIQuery) int {
	return func(q gateway.POIQuery) int {
		if q.Category != "school" {
			return 0
		}
		return total(q.Location)
	}
}

func cellKey(p models.GeoPoint) string {
	return fmt.Sprintf("%.3f,%.3f", p.Lat, p.Lng)
}

var dakar = models.GeoPoint{Lat: 14.6928, Lng: -17.4467}

func TestCalculateAreaDensity(t *testing.T) {
	t.Run("Scores total POIs per radius", func(t *testing.T) {
		gw := &fakeGateway{count: perCategory(1)}
		a := NewAnalyzer(gw, nil)

		result, err := a.CalculateAreaDensity(context.Background(), dakar, 1000)
		require.NoError(t, err)
		assert.Equal(t, 9, result.TotalPOIs)
		assert.Equal(t, 90.0, result.Score)
		assert.Equal(t, models.DensityVeryHigh, result.Level)
		assert.Len(t, result.Breakdown, len(Categories))
		for _, c := range Categories {
			assert.Equal(t, 1, result.Breakdown[c], c)
		}
		assert.Equal(t, len(Categories), gw.queries)
	})

	t.Run("Rounds to two decimals", func(t *testing.T) {
		a := NewAnalyzer(&fakeGateway{count: schoolsOnly(func(models.GeoPoint) int { return 1 })}, nil)

		result, err := a.CalculateAreaDensity(context.Background(), dakar, 3000)
		require.NoError(t, err)
		assert.Equal(t, 3.33, result.Score)
		assert.Equal(t, models.DensityVeryLow, result.Level)
	})

	t.Run("Clamps at 100", func(t *testing.T) {
		a := NewAnalyzer(&fakeGateway{count: perCategory(20)}, nil)

		result, err := a.CalculateAreaDensity(context.Background(), dakar, 500)
		require.NoError(t, err)
		assert.Equal(t, 100.0, result.Score)
		assert.Equal(t, 180, result.TotalPOIs)
	})

	t.Run("Score grows with POI count", func(t *testing.T) {
		prev := -1.0
		for n := 0; n <= 10; n++ {
			a := NewAnalyzer(&fakeGateway{count: schoolsOnly(func(models.GeoPoint) int { return n })}, nil)
			result, err := a.CalculateAreaDensity(context.Background(), dakar, 1000)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, result.Score, prev)
			assert.GreaterOrEqual(t, result.Score, 0.0)
			assert.LessOrEqual(t, result.Score, 100.0)
			prev = result.Score
		}
	})

	t.Run("Zero POIs is zero density", func(t *testing.T) {
		a := NewAnalyzer(&fakeGateway{count: perCategory(0)}, nil)

		result, err := a.CalculateAreaDensity(context.Background(), dakar, 1000)
		require.NoError(t, err)
		assert.Equal(t, 0.0, result.Score)
		assert.Equal(t, models.DensityVeryLow, result.Level)
	})

	t.Run("Rejects non-positive radius", func(t *testing.T) {
		gw := &fakeGateway{count: perCategory(1)}
		a := NewAnalyzer(gw, nil)

		_, err := a.CalculateAreaDensity(context.Background(), dakar, 0)
		assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
		assert.Zero(t, gw.queries)
	})

	t.Run("Propagates provider errors", func(t *testing.T) {
		upstream := &apperr.UpstreamError{Operation: "nearby POIs", StatusCode: 500, Err: errors.New("non-success status")}
		a := NewAnalyzer(&fakeGateway{err: upstream}, nil)

		_, err := a.CalculateAreaDensity(context.Background(), dakar, 1000)
		assert.True(t, apperr.IsUpstream(err))
	})
}

func TestAnalyzeRouteCorridor(t *testing.T) {
	waypoints := []models.GeoPoint{
		{Lat: 14.70, Lng: -17.45},
		{Lat: 14.71, Lng: -17.44},
		{Lat: 14.72, Lng: -17.43},
	}
	totals := map[string]int{
		cellKey(waypoints[0]): 1,
		cellKey(waypoints[1]): 2,
		cellKey(waypoints[2]): 3,
	}

	t.Run("Aggregates samples in waypoint order", func(t *testing.T) {
		a := NewAnalyzer(&fakeGateway{count: schoolsOnly(func(p models.GeoPoint) int { return totals[cellKey(p)] })}, nil)

		result, err := a.AnalyzeRouteCorridor(context.Background(), waypoints, 500)
		require.NoError(t, err)
		assert.Equal(t, []float64{20, 40, 60}, result.Samples)
		assert.Equal(t, 40.0, result.Average)
		assert.Equal(t, 60.0, result.Max)
		assert.Equal(t, 20.0, result.Min)
		assert.Equal(t, 266.67, result.Variance)
		assert.Equal(t, models.Variable, result.Uniformity)
	})

	t.Run("Equal samples are uniform", func(t *testing.T) {
		a := NewAnalyzer(&fakeGateway{count: perCategory(1)}, nil)

		result, err := a.AnalyzeRouteCorridor(context.Background(), waypoints, 500)
		require.NoError(t, err)
		assert.Equal(t, 0.0, result.Variance)
		assert.Equal(t, models.Uniform, result.Uniformity)
		assert.Equal(t, result.Average, result.Max)
		assert.Equal(t, result.Average, result.Min)
	})

	t.Run("Single waypoint", func(t *testing.T) {
		a := NewAnalyzer(&fakeGateway{count: perCategory(1)}, nil)

		result, err := a.AnalyzeRouteCorridor(context.Background(), waypoints[:1], 1000)
		require.NoError(t, err)
		assert.Len(t, result.Samples, 1)
		assert.Equal(t, 90.0, result.Average)
	})

	t.Run("Rejects empty waypoints", func(t *testing.T) {
		a := NewAnalyzer(&fakeGateway{count: perCategory(1)}, nil)

		_, err := a.AnalyzeRouteCorridor(context.Background(), nil, 500)
		assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
	})
}

func TestIdentifyHighDemandZones(t *testing.T) {
	bounds := models.Bounds{
		Southwest: models.GeoPoint{Lat: 0, Lng: 0},
		Northeast: models.GeoPoint{Lat: 0.02, Lng: 0.02},
	}
	// Cell centres for a 2x2 grid; radius is int(0.01*111000/2) = 555 m
	totals := map[string]int{
		"0.005,0.005": 9, // 100 after clamping
		"0.005,0.015": 4, // 72.07
		"0.015,0.005": 3, // 54.05, below threshold
		"0.015,0.015": 9, // 100, ties with the first cell
	}

	t.Run("Keeps high cells sorted by density", func(t *testing.T) {
		var radii []int
		gw := &fakeGateway{count: func(q gateway.POIQuery) int {
			radii = append(radii, q.Radius)
			return schoolsOnly(func(p models.GeoPoint) int { return totals[cellKey(p)] })(q)
		}}
		a := NewAnalyzer(gw, nil)

		zones, err := a.IdentifyHighDemandZones(context.Background(), bounds, 2)
		require.NoError(t, err)
		require.Len(t, zones, 3)

		assert.Equal(t, 0, zones[0].GridRow)
		assert.Equal(t, 0, zones[0].GridCol)
		assert.Equal(t, 100.0, zones[0].DensityScore)

		assert.Equal(t, 1, zones[1].GridRow)
		assert.Equal(t, 1, zones[1].GridCol)
		assert.Equal(t, 100.0, zones[1].DensityScore)

		assert.Equal(t, 0, zones[2].GridRow)
		assert.Equal(t, 1, zones[2].GridCol)
		assert.Equal(t, 72.07, zones[2].DensityScore)
		assert.InDelta(t, 0.005, zones[2].Center.Lat, 1e-9)
		assert.InDelta(t, 0.015, zones[2].Center.Lng, 1e-9)

		assert.Equal(t, 4*len(Categories), gw.queries)
		for _, r := range radii {
			assert.Equal(t, 555, r)
		}
	})

	t.Run("No dense cells yields an empty list", func(t *testing.T) {
		a := NewAnalyzer(&fakeGateway{count: perCategory(0)}, nil)

		zones, err := a.IdentifyHighDemandZones(context.Background(), bounds, 3)
		require.NoError(t, err)
		assert.NotNil(t, zones)
		assert.Empty(t, zones)
	})

	t.Run("Rejects bad grids", func(t *testing.T) {
		a := NewAnalyzer(&fakeGateway{count: perCategory(0)}, nil)

		_, err := a.IdentifyHighDemandZones(context.Background(), bounds, 0)
		assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

		point := models.Bounds{Southwest: dakar, Northeast: dakar}
		_, err = a.IdentifyHighDemandZones(context.Background(), point, 10)
		assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
	})
}

func stationsOf(n int, prefix string) []models.Station {
	out := make([]models.Station, n)
	for i := range out {
		out[i] = models.Station{Name: fmt.Sprintf("%s-%d", prefix, i), Types: []string{prefix}}
	}
	return out
}

func TestCalculateConnectivityScore(t *testing.T) {
	t.Run("Sums stations across types", func(t *testing.T) {
		counts := map[string]int{"bus_station": 4, "subway_station": 0, "light_rail_station": 3}
		gw := &fakeGateway{stations: func(q gateway.StationQuery) []models.Station {
			assert.Equal(t, ConnectivityRadius, q.Radius)
			return stationsOf(counts[q.Type], q.Type)
		}}
		a := NewAnalyzer(gw, nil)

		result, err := a.CalculateConnectivityScore(context.Background(), dakar, nil)
		require.NoError(t, err)
		assert.Equal(t, 7, result.TotalStations)
		assert.Equal(t, 70.0, result.Score)
		assert.Equal(t, models.ConnectivityGood, result.Level)
		require.Len(t, result.Stations, 5)
		assert.Equal(t, "bus_station-0", result.Stations[0].Name)
		assert.Equal(t, "light_rail_station-0", result.Stations[4].Name)
		assert.Equal(t, 3, gw.queries)
	})

	t.Run("Clamps at 100", func(t *testing.T) {
		for _, n := range []int{10, 15} {
			gw := &fakeGateway{stations: func(q gateway.StationQuery) []models.Station {
				return stationsOf(n, q.Type)
			}}
			a := NewAnalyzer(gw, nil)

			result, err := a.CalculateConnectivityScore(context.Background(), dakar, []string{"bus_station"})
			require.NoError(t, err)
			assert.Equal(t, 100.0, result.Score)
			assert.Equal(t, n, result.TotalStations)
			assert.Equal(t, models.ConnectivityExcellent, result.Level)
		}
	})

	t.Run("No stations is poor", func(t *testing.T) {
		gw := &fakeGateway{stations: func(gateway.StationQuery) []models.Station { return []models.Station{} }}
		a := NewAnalyzer(gw, nil)

		result, err := a.CalculateConnectivityScore(context.Background(), dakar, nil)
		require.NoError(t, err)
		assert.Equal(t, 0.0, result.Score)
		assert.Equal(t, models.ConnectivityPoor, result.Level)
		assert.Empty(t, result.Stations)
	})
}

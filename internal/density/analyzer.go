package density

import (
	"context"
	"math"
	"sort"

	"github.com/passbi/passbi_optimizer/internal/apperr"
	"github.com/passbi/passbi_optimizer/internal/gateway"
	"github.com/passbi/passbi_optimizer/internal/models"
	"go.uber.org/zap"
)

const (
	// DefaultRadius is the area density radius in meters
	DefaultRadius = 1000
	// DefaultCorridorWidth is the sampling radius around each corridor waypoint
	DefaultCorridorWidth = 500
	// DefaultGridSize is the number of divisions per axis in a zone scan
	DefaultGridSize = 10
	// ConnectivityRadius is an acceptable walking distance to a station
	ConnectivityRadius = 800
	// HighDemandThreshold is the density a zone must exceed to be reported
	HighDemandThreshold = 60.0

	// uniformVariance is the corridor variance below which density is uniform
	uniformVariance = 100.0
	// metersPerDegree converts grid steps to a search radius
	metersPerDegree = 111000.0
	maxSampleStations = 5
)

// Categories are the POI types counted for density, in reporting order
var Categories = []string{
	"school", "hospital", "shopping_mall",
	"restaurant", "cafe", "store",
	"university", "bank", "gym",
}

// DefaultTransitTypes are the station types counted for connectivity
var DefaultTransitTypes = []string{"bus_station", "subway_station", "light_rail_station"}

// Gateway is the provider capability the analyzer needs. It is satisfied by
// *gateway.Client and by *cache.CachedGateway.
type Gateway interface {
	BatchCount(ctx context.Context, queries []gateway.POIQuery) ([]int, error)
	BatchStations(ctx context.Context, queries []gateway.StationQuery) ([][]models.Station, error)
}

// Analyzer scores urban areas by POI density and transit connectivity
type Analyzer struct {
	gw     Gateway
	logger *zap.Logger
}

// NewAnalyzer creates an analyzer backed by gw
func NewAnalyzer(gw Gateway, logger *zap.Logger) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyzer{gw: gw, logger: logger}
}

// CalculateAreaDensity counts POIs of every category within radius meters
// of center. score = min(100, total/radius*10000).
func (a *Analyzer) CalculateAreaDensity(ctx context.Context, center models.GeoPoint, radius int) (models.DensityResult, error) {
	if radius <= 0 {
		return models.DensityResult{}, apperr.InvalidArgument("radius must be positive, got %d", radius)
	}

	results, err := a.densities(ctx, []models.GeoPoint{center}, radius)
	if err != nil {
		return models.DensityResult{}, err
	}
	return results[0], nil
}

// AnalyzeRouteCorridor samples density at every waypoint, using
// corridorWidth as the sampling radius, and aggregates the samples.
func (a *Analyzer) AnalyzeRouteCorridor(ctx context.Context, waypoints []models.GeoPoint, corridorWidth int) (models.CorridorResult, error) {
	if len(waypoints) == 0 {
		return models.CorridorResult{}, apperr.InvalidArgument("corridor needs at least one waypoint")
	}
	if corridorWidth <= 0 {
		return models.CorridorResult{}, apperr.InvalidArgument("corridor width must be positive, got %d", corridorWidth)
	}

	results, err := a.densities(ctx, waypoints, corridorWidth)
	if err != nil {
		return models.CorridorResult{}, err
	}

	samples := make([]float64, len(results))
	for i, r := range results {
		samples[i] = r.Score
	}

	return summarize(samples), nil
}

// IdentifyHighDemandZones divides bounds into a gridSize x gridSize grid of
// equal-angle cells, scores each cell centre and returns the cells scoring
// above HighDemandThreshold, highest first. Equal scores keep grid order.
func (a *Analyzer) IdentifyHighDemandZones(ctx context.Context, bounds models.Bounds, gridSize int) ([]models.Zone, error) {
	if gridSize <= 0 {
		return nil, apperr.InvalidArgument("grid size must be positive, got %d", gridSize)
	}

	latMin, lngMin := bounds.Southwest.Lat, bounds.Southwest.Lng
	latStep := (bounds.Northeast.Lat - latMin) / float64(gridSize)
	lngStep := (bounds.Northeast.Lng - lngMin) / float64(gridSize)

	radius := int(math.Max(latStep, lngStep) * metersPerDegree / 2)
	if radius <= 0 {
		return nil, apperr.InvalidArgument("area too small for a %dx%d grid", gridSize, gridSize)
	}

	centers := make([]models.GeoPoint, 0, gridSize*gridSize)
	for i := 0; i < gridSize; i++ {
		for j := 0; j < gridSize; j++ {
			centers = append(centers, models.GeoPoint{
				Lat: latMin + (float64(i)+0.5)*latStep,
				Lng: lngMin + (float64(j)+0.5)*lngStep,
			})
		}
	}

	a.logger.Debug("scanning zone grid",
		zap.Int("grid_size", gridSize),
		zap.Int("radius_m", radius),
		zap.Int("provider_queries", len(centers)*len(Categories)),
	)

	results, err := a.densities(ctx, centers, radius)
	if err != nil {
		return nil, err
	}

	zones := []models.Zone{}
	for idx, r := range results {
		if r.Score > HighDemandThreshold {
			zones = append(zones, models.Zone{
				Center:       centers[idx],
				DensityScore: r.Score,
				GridRow:      idx / gridSize,
				GridCol:      idx % gridSize,
			})
		}
	}

	sort.SliceStable(zones, func(i, j int) bool {
		return zones[i].DensityScore > zones[j].DensityScore
	})

	return zones, nil
}

// CalculateConnectivityScore counts stations of each transit type within
// walking distance. score = min(100, stations*10). Up to five stations are
// kept as samples, in query order.
func (a *Analyzer) CalculateConnectivityScore(ctx context.Context, location models.GeoPoint, transitTypes []string) (models.ConnectivityResult, error) {
	if len(transitTypes) == 0 {
		transitTypes = DefaultTransitTypes
	}

	queries := make([]gateway.StationQuery, len(transitTypes))
	for i, t := range transitTypes {
		queries[i] = gateway.StationQuery{Location: location, Radius: ConnectivityRadius, Type: t}
	}

	lists, err := a.gw.BatchStations(ctx, queries)
	if err != nil {
		return models.ConnectivityResult{}, err
	}

	total := 0
	samples := []models.Station{}
	for _, stations := range lists {
		total += len(stations)
		for _, s := range stations {
			if len(samples) < maxSampleStations {
				samples = append(samples, s)
			}
		}
	}

	score := math.Min(100, float64(total)*10)
	return models.ConnectivityResult{
		Score:         score,
		TotalStations: total,
		Stations:      samples,
		Level:         models.ClassifyConnectivity(score),
	}, nil
}

// densities scores every center with the same radius through a single
// batch of len(centers)*len(Categories) POI queries
func (a *Analyzer) densities(ctx context.Context, centers []models.GeoPoint, radius int) ([]models.DensityResult, error) {
	queries := make([]gateway.POIQuery, 0, len(centers)*len(Categories))
	for _, c := range centers {
		for _, category := range Categories {
			queries = append(queries, gateway.POIQuery{Location: c, Radius: radius, Category: category})
		}
	}

	counts, err := a.gw.BatchCount(ctx, queries)
	if err != nil {
		return nil, err
	}

	results := make([]models.DensityResult, len(centers))
	for i := range centers {
		breakdown := make(map[string]int, len(Categories))
		total := 0
		for k, category := range Categories {
			n := counts[i*len(Categories)+k]
			breakdown[category] = n
			total += n
		}

		score := DensityScore(total, radius)
		results[i] = models.DensityResult{
			Score:     round2(score),
			TotalPOIs: total,
			Breakdown: breakdown,
			Level:     models.ClassifyDensity(score),
		}
	}
	return results, nil
}

// DensityScore is min(100, total/radius*10000)
func DensityScore(total, radius int) float64 {
	return math.Min(100, float64(total)/float64(radius)*10000)
}

func summarize(samples []float64) models.CorridorResult {
	sum, hi, lo := 0.0, samples[0], samples[0]
	for _, s := range samples {
		sum += s
		hi = math.Max(hi, s)
		lo = math.Min(lo, s)
	}
	mean := sum / float64(len(samples))

	variance := 0.0
	for _, s := range samples {
		variance += (s - mean) * (s - mean)
	}
	variance /= float64(len(samples))

	uniformity := models.Uniform
	if variance >= uniformVariance {
		uniformity = models.Variable
	}

	return models.CorridorResult{
		Average:    round2(mean),
		Max:        round2(hi),
		Min:        round2(lo),
		Variance:   round2(variance),
		Samples:    samples,
		Uniformity: uniformity,
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

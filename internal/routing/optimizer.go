package routing

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/passbi/passbi_optimizer/internal/apperr"
	"github.com/passbi/passbi_optimizer/internal/config"
	"github.com/passbi/passbi_optimizer/internal/models"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	// SuggestionGridSize is the zone scan resolution used for suggestions
	SuggestionGridSize = 8
	maxSuggestedStops  = 5
	// highPriorityZones is the zone count above which a suggestion is high priority
	highPriorityZones = 10
)

// ErrNoRoutes is returned when there is nothing to compare
var ErrNoRoutes = errors.New("no routes to compare")

// Gateway is the provider access the optimizer needs
type Gateway interface {
	GetTransitRoutes(ctx context.Context, origin, destination models.GeoPoint, departure time.Time, modes []string) ([]models.TransitRoute, error)
	GetTrafficConditions(ctx context.Context, origin, destination models.GeoPoint) (*models.TrafficReport, error)
}

// Analyzer is the area scoring the optimizer builds on
type Analyzer interface {
	AnalyzeRouteCorridor(ctx context.Context, waypoints []models.GeoPoint, corridorWidth int) (models.CorridorResult, error)
	CalculateConnectivityScore(ctx context.Context, location models.GeoPoint, transitTypes []string) (models.ConnectivityResult, error)
	IdentifyHighDemandZones(ctx context.Context, bounds models.Bounds, gridSize int) ([]models.Zone, error)
}

// Optimizer ranks transit routes and proposes new lines
type Optimizer struct {
	gw       Gateway
	analyzer Analyzer
	profile  config.ScoringProfile
	logger   *zap.Logger
}

// NewOptimizer validates profile and creates an optimizer
func NewOptimizer(gw Gateway, analyzer Analyzer, profile config.ScoringProfile, logger *zap.Logger) (*Optimizer, error) {
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Optimizer{
		gw:       gw,
		analyzer: analyzer,
		profile:  profile,
		logger:   logger,
	}, nil
}

// Profile returns the scoring profile in use
func (o *Optimizer) Profile() config.ScoringProfile {
	return o.profile
}

// endpointContext holds the per-request inputs shared by every route
type endpointContext struct {
	traffic      *models.TrafficReport
	connectivity float64
}

// FindOptimalRoutes fetches transit alternatives between origin and
// destination, scores each one and returns them best first. No routes is an
// empty result, not an error. A zero departure means now and empty modes
// means bus, subway and tram.
func (o *Optimizer) FindOptimalRoutes(ctx context.Context, origin, destination models.GeoPoint, departure time.Time, modes []string) ([]models.ScoredRoute, error) {
	if departure.IsZero() {
		departure = time.Now()
	}

	routes, err := o.gw.GetTransitRoutes(ctx, origin, destination, departure, modes)
	if err != nil {
		return nil, err
	}
	if len(routes) == 0 {
		return []models.ScoredRoute{}, nil
	}

	// Traffic and endpoint connectivity depend only on the endpoints
	shared, err := o.fetchEndpointContext(ctx, origin, destination)
	if err != nil {
		return nil, err
	}

	scored := make([]models.ScoredRoute, 0, len(routes))
	for i, r := range routes {
		score, err := o.scoreRoute(ctx, r, shared)
		if err != nil {
			return nil, fmt.Errorf("failed to score route %d: %w", i, err)
		}
		scored = append(scored, models.ScoredRoute{
			TransitRoute:   r,
			Score:          score,
			Recommendation: Recommendation(score),
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score.Total > scored[j].Score.Total
	})

	o.logger.Debug("routes ranked",
		zap.Int("routes", len(scored)),
		zap.Float64("best_score", scored[0].Score.Total),
	)

	return scored, nil
}

func (o *Optimizer) fetchEndpointContext(ctx context.Context, origin, destination models.GeoPoint) (endpointContext, error) {
	var shared endpointContext
	var originConn, destConn models.ConnectivityResult

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		report, err := o.gw.GetTrafficConditions(gctx, origin, destination)
		shared.traffic = report
		return err
	})
	g.Go(func() error {
		var err error
		originConn, err = o.analyzer.CalculateConnectivityScore(gctx, origin, nil)
		return err
	})
	g.Go(func() error {
		var err error
		destConn, err = o.analyzer.CalculateConnectivityScore(gctx, destination, nil)
		return err
	})
	if err := g.Wait(); err != nil {
		return endpointContext{}, err
	}

	shared.connectivity = (originConn.Score + destConn.Score) / 2
	return shared, nil
}

func (o *Optimizer) scoreRoute(ctx context.Context, route models.TransitRoute, shared endpointContext) (models.OptimizationScore, error) {
	timeScore := TimeScore(route.TotalDurationSeconds)

	level := models.TrafficUnknown
	if shared.traffic != nil {
		level = shared.traffic.TrafficLevel
	}
	trafficScore := TrafficScore(level)

	waypoints, err := ExtractWaypoints(route, o.profile.MaxWaypoints)
	if err != nil {
		return models.OptimizationScore{}, &apperr.UpstreamError{Operation: "route geometry", Body: route.Polyline, Err: err}
	}

	densityScore := 0.0
	uniformity := models.UniformityUnknown
	if len(waypoints) > 0 {
		corridor, err := o.analyzer.AnalyzeRouteCorridor(ctx, waypoints, o.profile.CorridorWidth)
		if err != nil {
			return models.OptimizationScore{}, err
		}
		densityScore = corridor.Average
		uniformity = corridor.Uniformity
	}

	total := WeightedTotal(o.profile.Weights, timeScore, trafficScore, densityScore, shared.connectivity)

	return models.OptimizationScore{
		Total:        round2(total),
		Time:         round2(timeScore),
		Traffic:      round2(trafficScore),
		Density:      round2(densityScore),
		Connectivity: round2(shared.connectivity),
		Breakdown: models.ScoreBreakdown{
			DurationMinutes:        round2(float64(route.TotalDurationSeconds) / 60),
			TrafficLevel:           level,
			AverageCorridorDensity: densityScore,
			RouteUniformity:        uniformity,
			WaypointsSampled:       len(waypoints),
		},
	}, nil
}

// SuggestNewRoute scans bounds for high-demand zones and proposes a line
// through the densest five. Fewer than two zones is insufficient data.
func (o *Optimizer) SuggestNewRoute(ctx context.Context, bounds models.Bounds, vehicleType string) (models.Suggestion, error) {
	if vehicleType == "" {
		vehicleType = "bus"
	}

	zones, err := o.analyzer.IdentifyHighDemandZones(ctx, bounds, SuggestionGridSize)
	if err != nil {
		return models.Suggestion{}, err
	}

	if len(zones) < 2 {
		return models.Suggestion{
			Status:     models.SuggestionInsufficientData,
			Message:    "Not enough high-demand zones identified",
			ZonesFound: len(zones),
		}, nil
	}

	top := zones
	if len(top) > maxSuggestedStops {
		top = top[:maxSuggestedStops]
	}

	sum := 0.0
	for _, z := range top {
		sum += z.DensityScore
	}

	priority := "medium"
	if len(zones) > highPriorityZones {
		priority = "high"
	}

	return models.Suggestion{
		Status:           models.SuggestionSuccess,
		VehicleType:      vehicleType,
		SuggestedStops:   top,
		Rationale:        fmt.Sprintf("Proposed %s line serving %d high-density zones", vehicleType, len(top)),
		ExpectedCoverage: round2(sum / float64(len(top))),
		Priority:         priority,
		ZonesFound:       len(zones),
	}, nil
}

// CompareRoutes summarizes a ranked route list. The first route is taken as
// the best one. Advantage is its lead over the mean of the others.
func CompareRoutes(routes []models.ScoredRoute) (models.Comparison, error) {
	if len(routes) == 0 {
		return models.Comparison{}, ErrNoRoutes
	}

	best := routes[0]
	lo, hi, sum := best.Score.Total, best.Score.Total, 0.0
	for _, r := range routes {
		s := r.Score.Total
		sum += s
		if s < lo {
			lo = s
		}
		if s > hi {
			hi = s
		}
	}

	advantage := 0.0
	if len(routes) > 1 {
		rest := (sum - best.Score.Total) / float64(len(routes)-1)
		advantage = best.Score.Total - rest
	}

	return models.Comparison{
		BestRouteIndex:   0,
		BestRouteSummary: best.Summary,
		ScoreRange: models.ScoreRange{
			Min:     lo,
			Max:     hi,
			Average: round2(sum / float64(len(routes))),
		},
		Advantage: round2(advantage),
		Recommendation: fmt.Sprintf("The best route (%s) beats the alternatives by %.1f points.",
			best.Summary, advantage),
	}, nil
}

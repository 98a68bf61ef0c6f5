package models

import (
	"github.com/passbi/passbi_optimizer/internal/apperr"
)

// GeoPoint is an immutable WGS84 coordinate
type GeoPoint struct {
	Lat float64 `json:"latitude"`
	Lng float64 `json:"longitude"`
}

// NewGeoPoint validates the coordinate ranges
func NewGeoPoint(lat, lng float64) (GeoPoint, error) {
	if lat < -90 || lat > 90 {
		return GeoPoint{}, apperr.InvalidArgument("latitude %.6f out of range [-90, 90]", lat)
	}
	if lng < -180 || lng > 180 {
		return GeoPoint{}, apperr.InvalidArgument("longitude %.6f out of range [-180, 180]", lng)
	}
	return GeoPoint{Lat: lat, Lng: lng}, nil
}

// Bounds is a lat/lng aligned rectangle
type Bounds struct {
	Southwest GeoPoint `json:"southwest"`
	Northeast GeoPoint `json:"northeast"`
}

// NewBounds validates that southwest lies strictly south-west of northeast
func NewBounds(sw, ne GeoPoint) (Bounds, error) {
	if sw.Lat >= ne.Lat || sw.Lng >= ne.Lng {
		return Bounds{}, apperr.InvalidArgument("southwest (%.6f,%.6f) must be south-west of northeast (%.6f,%.6f)",
			sw.Lat, sw.Lng, ne.Lat, ne.Lng)
	}
	return Bounds{Southwest: sw, Northeast: ne}, nil
}

// TrafficLevel classifies congestion from the traffic ratio
type TrafficLevel string

const (
	TrafficLow      TrafficLevel = "low"
	TrafficModerate TrafficLevel = "moderate"
	TrafficHeavy    TrafficLevel = "heavy"
	TrafficSevere   TrafficLevel = "severe"
	TrafficUnknown  TrafficLevel = "unknown"
)

// ClassifyTraffic maps a traffic ratio to a level (half-open at 1.1/1.3/1.6)
func ClassifyTraffic(ratio float64) TrafficLevel {
	switch {
	case ratio < 1.1:
		return TrafficLow
	case ratio < 1.3:
		return TrafficModerate
	case ratio < 1.6:
		return TrafficHeavy
	default:
		return TrafficSevere
	}
}

// TrafficReport is the normalized result of a traffic-aware directions query
type TrafficReport struct {
	DistanceMeters           int          `json:"distance_meters"`
	DurationSeconds          int          `json:"duration_seconds"`
	DurationInTrafficSeconds int          `json:"duration_with_traffic_seconds"`
	TrafficRatio             float64      `json:"traffic_factor"`
	TrafficLevel             TrafficLevel `json:"traffic_level"`
}

// NewTrafficReport derives ratio and level from the base and adjusted durations
func NewTrafficReport(distance, base, adjusted int) TrafficReport {
	ratio := 1.0
	if base > 0 {
		ratio = float64(adjusted) / float64(base)
	}
	return TrafficReport{
		DistanceMeters:           distance,
		DurationSeconds:          base,
		DurationInTrafficSeconds: adjusted,
		TrafficRatio:             ratio,
		TrafficLevel:             ClassifyTraffic(ratio),
	}
}

// Step represents one segment of a provider transit route
type Step struct {
	TravelMode      string `json:"travel_mode"`
	DurationSeconds int    `json:"duration_seconds"`
	DistanceMeters  int    `json:"distance_meters"`
	Instructions    string `json:"instructions"`
	Polyline        string `json:"-"`
}

// TransitRoute is a candidate route as returned by the provider
type TransitRoute struct {
	Summary              string `json:"summary"`
	TotalDurationSeconds int    `json:"total_duration_seconds"`
	TotalDistanceMeters  int    `json:"total_distance_meters"`
	DepartureTime        string `json:"departure_time"`
	ArrivalTime          string `json:"arrival_time"`
	Steps                []Step `json:"steps"`
	Polyline             string `json:"-"`
}

// Station is a normalized nearby-search result
type Station struct {
	Name     string   `json:"name"`
	Location GeoPoint `json:"location"`
	Address  string   `json:"address"`
	Rating   float64  `json:"rating"`
	Types    []string `json:"types"`
}

// DensityLevel classifies a density score
type DensityLevel string

const (
	DensityVeryLow  DensityLevel = "very_low"
	DensityLow      DensityLevel = "low"
	DensityModerate DensityLevel = "moderate"
	DensityHigh     DensityLevel = "high"
	DensityVeryHigh DensityLevel = "very_high"
)

// ClassifyDensity maps a score to a level (half-open at 20/40/60/80)
func ClassifyDensity(score float64) DensityLevel {
	switch {
	case score < 20:
		return DensityVeryLow
	case score < 40:
		return DensityLow
	case score < 60:
		return DensityModerate
	case score < 80:
		return DensityHigh
	default:
		return DensityVeryHigh
	}
}

// DensityResult is the POI density of a circular area
type DensityResult struct {
	Score     float64        `json:"density_score"`
	TotalPOIs int            `json:"total_pois"`
	Breakdown map[string]int `json:"poi_breakdown"`
	Level     DensityLevel   `json:"density_level"`
}

// Uniformity tags the spread of corridor density samples
type Uniformity string

const (
	Uniform  Uniformity = "uniform"
	Variable Uniformity = "variable"
	// UniformityUnknown is used when a route carries no geometry to sample
	UniformityUnknown Uniformity = "unknown"
)

// CorridorResult summarizes density sampled along a list of waypoints
type CorridorResult struct {
	Average    float64    `json:"average_density"`
	Max        float64    `json:"max_density"`
	Min        float64    `json:"min_density"`
	Variance   float64    `json:"density_variance"`
	Samples    []float64  `json:"density_samples"`
	Uniformity Uniformity `json:"uniformity"`
}

// Zone is a grid cell whose density exceeded the high-demand threshold
type Zone struct {
	Center       GeoPoint `json:"center"`
	DensityScore float64  `json:"density_score"`
	GridRow      int      `json:"grid_row"`
	GridCol      int      `json:"grid_col"`
}

// ConnectivityLevel classifies a connectivity score
type ConnectivityLevel string

const (
	ConnectivityPoor      ConnectivityLevel = "poor"
	ConnectivityFair      ConnectivityLevel = "fair"
	ConnectivityGood      ConnectivityLevel = "good"
	ConnectivityExcellent ConnectivityLevel = "excellent"
)

// ClassifyConnectivity maps a score to a level (half-open at 30/60/80)
func ClassifyConnectivity(score float64) ConnectivityLevel {
	switch {
	case score < 30:
		return ConnectivityPoor
	case score < 60:
		return ConnectivityFair
	case score < 80:
		return ConnectivityGood
	default:
		return ConnectivityExcellent
	}
}

// ConnectivityResult describes transit access around a point
type ConnectivityResult struct {
	Score         float64           `json:"connectivity_score"`
	TotalStations int               `json:"total_stations"`
	Stations      []Station         `json:"stations"`
	Level         ConnectivityLevel `json:"connectivity_level"`
}

// ScoreBreakdown carries the human-readable inputs behind a score
type ScoreBreakdown struct {
	DurationMinutes        float64      `json:"duration_minutes"`
	TrafficLevel           TrafficLevel `json:"traffic_level"`
	AverageCorridorDensity float64      `json:"average_corridor_density"`
	RouteUniformity        Uniformity   `json:"route_uniformity"`
	WaypointsSampled       int          `json:"waypoints_sampled"`
}

// OptimizationScore is the weighted score of a route and its sub-scores
type OptimizationScore struct {
	Total        float64        `json:"total_score"`
	Time         float64        `json:"time_score"`
	Traffic      float64        `json:"traffic_score"`
	Density      float64        `json:"density_score"`
	Connectivity float64        `json:"connectivity_score"`
	Breakdown    ScoreBreakdown `json:"breakdown"`
}

// ScoredRoute is a provider route annotated with its score
type ScoredRoute struct {
	TransitRoute
	Score          OptimizationScore `json:"optimization_score"`
	Recommendation string            `json:"recommendation"`
}

// SuggestionStatus is the outcome of a route suggestion
type SuggestionStatus string

const (
	SuggestionSuccess          SuggestionStatus = "success"
	SuggestionInsufficientData SuggestionStatus = "insufficient_data"
)

// Suggestion proposes stops for a new line through high-demand zones
type Suggestion struct {
	Status           SuggestionStatus `json:"status"`
	Message          string           `json:"message,omitempty"`
	VehicleType      string           `json:"vehicle_type,omitempty"`
	SuggestedStops   []Zone           `json:"suggested_stops,omitempty"`
	Rationale        string           `json:"rationale,omitempty"`
	ExpectedCoverage float64          `json:"expected_coverage,omitempty"`
	Priority         string           `json:"priority,omitempty"`
	ZonesFound       int              `json:"zones_found"`
}

// ScoreRange aggregates total scores across compared routes
type ScoreRange struct {
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Average float64 `json:"average"`
}

// Comparison summarizes a ranked route list
type Comparison struct {
	BestRouteIndex   int        `json:"best_route_index"`
	BestRouteSummary string     `json:"best_route_summary"`
	ScoreRange       ScoreRange `json:"score_range"`
	Advantage        float64    `json:"advantage"`
	Recommendation   string     `json:"recommendation"`
}

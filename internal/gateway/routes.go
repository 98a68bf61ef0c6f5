package gateway

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/passbi/passbi_optimizer/internal/apperr"
	"github.com/passbi/passbi_optimizer/internal/models"
)

const (
	trafficFieldMask = "routes.legs.distanceMeters,routes.legs.duration,routes.legs.staticDuration"
	transitFieldMask = "routes.description,routes.distanceMeters,routes.duration,routes.polyline.encodedPolyline," +
		"routes.legs.distanceMeters,routes.legs.duration,routes.legs.steps"
)

// DefaultTransitModes is used when a caller does not restrict modes
var DefaultTransitModes = []string{"bus", "subway", "tram"}

// transitModeNames maps user-facing mode names to Routes API transit modes
var transitModeNames = map[string]string{
	"bus":        "BUS",
	"subway":     "SUBWAY",
	"metro":      "SUBWAY",
	"train":      "TRAIN",
	"rail":       "RAIL",
	"tram":       "LIGHT_RAIL",
	"light_rail": "LIGHT_RAIL",
}

// Routes API v2 wire types

type latLng struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type waypoint struct {
	Location struct {
		LatLng latLng `json:"latLng"`
	} `json:"location"`
}

type transitPreferences struct {
	AllowedTravelModes []string `json:"allowedTravelModes,omitempty"`
}

type computeRoutesRequest struct {
	Origin                   waypoint            `json:"origin"`
	Destination              waypoint            `json:"destination"`
	TravelMode               string              `json:"travelMode"`
	RoutingPreference        string              `json:"routingPreference,omitempty"`
	ComputeAlternativeRoutes bool                `json:"computeAlternativeRoutes"`
	DepartureTime            string              `json:"departureTime,omitempty"`
	TransitPreferences       *transitPreferences `json:"transitPreferences,omitempty"`
}

type encodedPolyline struct {
	EncodedPolyline string `json:"encodedPolyline"`
}

type localizedTime struct {
	Time struct {
		Text string `json:"text"`
	} `json:"time"`
}

type routeStep struct {
	DistanceMeters        int             `json:"distanceMeters"`
	StaticDuration        string          `json:"staticDuration"`
	Polyline              encodedPolyline `json:"polyline"`
	TravelMode            string          `json:"travelMode"`
	NavigationInstruction struct {
		Instructions string `json:"instructions"`
	} `json:"navigationInstruction"`
	TransitDetails *struct {
		LocalizedValues struct {
			ArrivalTime   localizedTime `json:"arrivalTime"`
			DepartureTime localizedTime `json:"departureTime"`
		} `json:"localizedValues"`
	} `json:"transitDetails,omitempty"`
}

type routeLeg struct {
	DistanceMeters int         `json:"distanceMeters"`
	Duration       string      `json:"duration"`
	StaticDuration string      `json:"staticDuration"`
	Steps          []routeStep `json:"steps"`
}

type route struct {
	Description    string          `json:"description"`
	DistanceMeters int             `json:"distanceMeters"`
	Duration       string          `json:"duration"`
	Polyline       encodedPolyline `json:"polyline"`
	Legs           []routeLeg      `json:"legs"`
}

type computeRoutesResponse struct {
	Routes []route `json:"routes"`
}

func toWaypoint(p models.GeoPoint) waypoint {
	var w waypoint
	w.Location.LatLng = latLng{Latitude: p.Lat, Longitude: p.Lng}
	return w
}

// GetTrafficConditions fetches a traffic-aware driving route and derives
// the traffic ratio and level for it
func (c *Client) GetTrafficConditions(ctx context.Context, origin, destination models.GeoPoint) (*models.TrafficReport, error) {
	const op = "traffic conditions"

	body := computeRoutesRequest{
		Origin:                   toWaypoint(origin),
		Destination:              toWaypoint(destination),
		TravelMode:               "DRIVE",
		RoutingPreference:        "TRAFFIC_AWARE",
		ComputeAlternativeRoutes: false,
	}

	var resp computeRoutesResponse
	if err := c.postJSON(ctx, op, trafficFieldMask, body, &resp); err != nil {
		return nil, err
	}

	if len(resp.Routes) == 0 || len(resp.Routes[0].Legs) == 0 {
		return nil, &apperr.UpstreamError{Operation: op, Err: errors.New("provider returned no route")}
	}

	leg := resp.Routes[0].Legs[0]
	adjusted, err := parseDuration(leg.Duration)
	if err != nil {
		return nil, &apperr.UpstreamError{Operation: op, Body: leg.Duration, Err: err}
	}
	base, err := parseDuration(leg.StaticDuration)
	if err != nil {
		return nil, &apperr.UpstreamError{Operation: op, Body: leg.StaticDuration, Err: err}
	}
	if leg.StaticDuration == "" {
		base = adjusted
	}
	if leg.Duration == "" {
		adjusted = base
	}

	report := models.NewTrafficReport(leg.DistanceMeters, base, adjusted)
	return &report, nil
}

// GetTransitRoutes requests alternative transit routes. An empty provider
// answer yields an empty slice, not an error.
func (c *Client) GetTransitRoutes(ctx context.Context, origin, destination models.GeoPoint, departure time.Time, modes []string) ([]models.TransitRoute, error) {
	const op = "transit routes"

	if len(modes) == 0 {
		modes = DefaultTransitModes
	}
	if departure.IsZero() {
		departure = time.Now()
	}

	body := computeRoutesRequest{
		Origin:                   toWaypoint(origin),
		Destination:              toWaypoint(destination),
		TravelMode:               "TRANSIT",
		ComputeAlternativeRoutes: true,
		DepartureTime:            departure.UTC().Format(time.RFC3339),
		TransitPreferences:       &transitPreferences{AllowedTravelModes: TransitModeNames(modes)},
	}

	var resp computeRoutesResponse
	if err := c.postJSON(ctx, op, transitFieldMask, body, &resp); err != nil {
		return nil, err
	}

	routes := make([]models.TransitRoute, 0, len(resp.Routes))
	for i, r := range resp.Routes {
		tr, err := normalizeRoute(r)
		if err != nil {
			return nil, &apperr.UpstreamError{Operation: op, Err: fmt.Errorf("route %d: %w", i, err)}
		}
		routes = append(routes, tr)
	}
	return routes, nil
}

func normalizeRoute(r route) (models.TransitRoute, error) {
	tr := models.TransitRoute{
		Summary:             r.Description,
		TotalDistanceMeters: r.DistanceMeters,
		Polyline:            r.Polyline.EncodedPolyline,
		Steps:               []models.Step{},
	}

	total, err := parseDuration(r.Duration)
	if err != nil {
		return tr, err
	}

	if len(r.Legs) > 0 {
		leg := r.Legs[0]
		if leg.Duration != "" {
			if total, err = parseDuration(leg.Duration); err != nil {
				return tr, err
			}
		}
		if leg.DistanceMeters > 0 {
			tr.TotalDistanceMeters = leg.DistanceMeters
		}

		for _, s := range leg.Steps {
			d, err := parseDuration(s.StaticDuration)
			if err != nil {
				return tr, err
			}
			tr.Steps = append(tr.Steps, models.Step{
				TravelMode:      s.TravelMode,
				DurationSeconds: d,
				DistanceMeters:  s.DistanceMeters,
				Instructions:    s.NavigationInstruction.Instructions,
				Polyline:        s.Polyline.EncodedPolyline,
			})

			if s.TransitDetails != nil {
				if tr.DepartureTime == "" {
					tr.DepartureTime = s.TransitDetails.LocalizedValues.DepartureTime.Time.Text
				}
				tr.ArrivalTime = s.TransitDetails.LocalizedValues.ArrivalTime.Time.Text
			}
		}
	}

	tr.TotalDurationSeconds = total
	return tr, nil
}

// TransitModeNames converts user-facing mode names into provider mode names.
// Unknown names are upper-cased and passed through.
func TransitModeNames(modes []string) []string {
	out := make([]string, 0, len(modes))
	seen := make(map[string]bool, len(modes))
	for _, m := range modes {
		key := strings.ToLower(strings.TrimSpace(m))
		name, ok := transitModeNames[key]
		if !ok {
			name = strings.ToUpper(key)
		}
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

// parseDuration parses a protobuf JSON duration such as "754s" into whole
// seconds. An empty string is zero.
func parseDuration(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", s)
	}
	return int(math.Round(d.Seconds())), nil
}

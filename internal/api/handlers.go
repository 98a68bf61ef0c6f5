package api

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/passbi/passbi_optimizer/internal/apperr"
	"github.com/passbi/passbi_optimizer/internal/cache"
	"github.com/passbi/passbi_optimizer/internal/density"
	"github.com/passbi/passbi_optimizer/internal/gateway"
	"github.com/passbi/passbi_optimizer/internal/models"
	"github.com/passbi/passbi_optimizer/internal/routing"
	"go.uber.org/zap"
)

const (
	// ServiceName is reported by the index endpoint
	ServiceName = "PassBi Transit Optimizer API"
	// Version is reported by the index endpoint
	Version = "1.0.0"

	defaultStationRadius = 500
	defaultStationType   = "bus_station"
)

// Gateway is the direct provider access used by the HTTP layer
type Gateway interface {
	GetTrafficConditions(ctx context.Context, origin, destination models.GeoPoint) (*models.TrafficReport, error)
	GetNearbyStations(ctx context.Context, location models.GeoPoint, radius int, stationType string) ([]models.Station, error)
	HasCredentials() bool
}

// AreaScorer is the area scoring used by the density endpoint
type AreaScorer interface {
	CalculateAreaDensity(ctx context.Context, center models.GeoPoint, radius int) (models.DensityResult, error)
	CalculateConnectivityScore(ctx context.Context, location models.GeoPoint, transitTypes []string) (models.ConnectivityResult, error)
}

// RouteRanker is the route ranking used by the route endpoints
type RouteRanker interface {
	FindOptimalRoutes(ctx context.Context, origin, destination models.GeoPoint, departure time.Time, modes []string) ([]models.ScoredRoute, error)
	SuggestNewRoute(ctx context.Context, bounds models.Bounds, vehicleType string) (models.Suggestion, error)
}

// Handler serves the HTTP API. Every collaborator is built once at startup
// and shared by all requests.
type Handler struct {
	gw             Gateway
	scorer         AreaScorer
	ranker         RouteRanker
	store          cache.Store
	checks         map[string]func(context.Context) error
	validate       *validator.Validate
	logger         *zap.Logger
	requestTimeout time.Duration
}

// Options are the dependencies of a Handler. Store may be nil when caching
// is disabled. Checks are extra dependencies reported by /health.
type Options struct {
	Gateway        Gateway
	Scorer         AreaScorer
	Ranker         RouteRanker
	Store          cache.Store
	Checks         map[string]func(context.Context) error
	Logger         *zap.Logger
	RequestTimeout time.Duration
}

// NewHandler creates the HTTP handler
func NewHandler(opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Handler{
		gw:             opts.Gateway,
		scorer:         opts.Scorer,
		ranker:         opts.Ranker,
		store:          opts.Store,
		checks:         opts.Checks,
		validate:       newValidator(),
		logger:         logger,
		requestTimeout: timeout,
	}
}

// Register mounts the domain endpoints on router
func (h *Handler) Register(router fiber.Router) {
	router.Post("/routes/optimize", h.OptimizeRoutes)
	router.Post("/routes/suggest", h.SuggestRoute)
	router.Post("/density/analyze", h.AnalyzeDensity)
	router.Get("/traffic/conditions", h.TrafficConditions)
	router.Get("/stations/nearby", h.NearbyStations)
}

func (h *Handler) requestContext(c *fiber.Ctx) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.UserContext(), h.requestTimeout)
}

// Index handles the / endpoint
func (h *Handler) Index(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"name":    ServiceName,
		"version": Version,
		"endpoints": fiber.Map{
			"routes":   "/api/routes/optimize",
			"density":  "/api/density/analyze",
			"traffic":  "/api/traffic/conditions",
			"suggest":  "/api/routes/suggest",
			"stations": "/api/stations/nearby",
			"health":   "/health",
		},
	})
}

// Health handles the /health endpoint
func (h *Handler) Health(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()

	mapsStatus := "not_configured"
	if h.gw.HasCredentials() {
		mapsStatus = "configured"
	}

	status := "healthy"
	httpStatus := fiber.StatusOK

	cacheStatus := "disabled"
	if h.store != nil {
		cacheStatus = h.store.Name() + ": ok"
		if err := h.store.HealthCheck(ctx); err != nil {
			cacheStatus = h.store.Name() + ": " + err.Error()
			status = "degraded"
		}
	}

	services := fiber.Map{
		"google_maps": mapsStatus,
		"cache":       cacheStatus,
	}
	for name, check := range h.checks {
		services[name] = "ok"
		if err := check(ctx); err != nil {
			services[name] = err.Error()
			status = "degraded"
		}
	}

	if mapsStatus != "configured" {
		status = "unhealthy"
		httpStatus = fiber.StatusServiceUnavailable
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"services":  services,
	})
}

// OptimizeRoutes handles POST /api/routes/optimize
func (h *Handler) OptimizeRoutes(c *fiber.Ctx) error {
	var req OptimizeRequest
	if err := h.parseBody(c, &req); err != nil {
		return err
	}

	modes := req.TransitModes
	if len(modes) == 0 {
		modes = gateway.DefaultTransitModes
	}
	var departure time.Time
	if req.DepartureTime != nil {
		departure = *req.DepartureTime
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	routes, err := h.ranker.FindOptimalRoutes(ctx, req.Origin.Point(), req.Destination.Point(), departure, modes)
	if err != nil {
		return err
	}
	if len(routes) == 0 {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "no routes found for this request",
		})
	}

	comparison, err := routing.CompareRoutes(routes)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"status": "success",
		"query": fiber.Map{
			"origin":         req.Origin.Point(),
			"destination":    req.Destination.Point(),
			"departure_time": req.DepartureTime,
			"transit_modes":  modes,
		},
		"routes_found": len(routes),
		"routes":       routes,
		"comparison":   comparison,
	})
}

// AnalyzeDensity handles POST /api/density/analyze
func (h *Handler) AnalyzeDensity(c *fiber.Ctx) error {
	var req DensityRequest
	if err := h.parseBody(c, &req); err != nil {
		return err
	}

	radius := density.DefaultRadius
	if req.Radius != nil {
		radius = *req.Radius
	}
	center := req.Center.Point()

	ctx, cancel := h.requestContext(c)
	defer cancel()

	area, err := h.scorer.CalculateAreaDensity(ctx, center, radius)
	if err != nil {
		return err
	}
	connectivity, err := h.scorer.CalculateConnectivityScore(ctx, center, nil)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"status":        "success",
		"location":      center,
		"radius_meters": radius,
		"density":       area,
		"connectivity":  connectivity,
	})
}

// TrafficConditions handles GET /api/traffic/conditions
func (h *Handler) TrafficConditions(c *fiber.Ctx) error {
	errs := &apperr.ValidationError{}
	origin := models.GeoPoint{
		Lat: queryFloat(c, "origin_lat", -90, 90, errs),
		Lng: queryFloat(c, "origin_lng", -180, 180, errs),
	}
	destination := models.GeoPoint{
		Lat: queryFloat(c, "dest_lat", -90, 90, errs),
		Lng: queryFloat(c, "dest_lng", -180, 180, errs),
	}
	if len(errs.Fields) > 0 {
		return errs
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	report, err := h.gw.GetTrafficConditions(ctx, origin, destination)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"status":      "success",
		"origin":      origin,
		"destination": destination,
		"traffic":     report,
	})
}

// SuggestRoute handles POST /api/routes/suggest
func (h *Handler) SuggestRoute(c *fiber.Ctx) error {
	var req SuggestRequest
	if err := h.parseBody(c, &req); err != nil {
		return err
	}

	bounds, err := models.NewBounds(req.AreaBounds.Southwest.Point(), req.AreaBounds.Northeast.Point())
	if err != nil {
		return apperr.NewValidationError("area_bounds", "bounds", err.Error())
	}

	vehicleType := req.VehicleType
	if vehicleType == "" {
		vehicleType = "bus"
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	suggestion, err := h.ranker.SuggestNewRoute(ctx, bounds, vehicleType)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"status": "success",
		"area_analyzed": fiber.Map{
			"southwest": bounds.Southwest,
			"northeast": bounds.Northeast,
		},
		"suggestion": suggestion,
	})
}

// NearbyStations handles GET /api/stations/nearby
func (h *Handler) NearbyStations(c *fiber.Ctx) error {
	errs := &apperr.ValidationError{}
	location := models.GeoPoint{
		Lat: queryFloat(c, "lat", -90, 90, errs),
		Lng: queryFloat(c, "lng", -180, 180, errs),
	}
	radius := queryInt(c, "radius", defaultStationRadius, 100, 2000, errs)
	if len(errs.Fields) > 0 {
		return errs
	}
	stationType := c.Query("station_type", defaultStationType)

	ctx, cancel := h.requestContext(c)
	defer cancel()

	stations, err := h.gw.GetNearbyStations(ctx, location, radius, stationType)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"status":         "success",
		"location":       location,
		"radius_meters":  radius,
		"stations_found": len(stations),
		"stations":       stations,
	})
}

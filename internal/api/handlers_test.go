package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/passbi/passbi_optimizer/internal/apperr"
	"github.com/passbi/passbi_optimizer/internal/cache"
	"github.com/passbi/passbi_optimizer/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGateway struct {
	traffic       *models.TrafficReport
	stations      []models.Station
	err           error
	gotRadius     int
	gotType       string
	gotOrigin     models.GeoPoint
	hasCredential bool
}

func (f *fakeGateway) GetTrafficConditions(_ context.Context, origin, _ models.GeoPoint) (*models.TrafficReport, error) {
	f.gotOrigin = origin
	return f.traffic, f.err
}

func (f *fakeGateway) GetNearbyStations(_ context.Context, _ models.GeoPoint, radius int, stationType string) ([]models.Station, error) {
	f.gotRadius = radius
	f.gotType = stationType
	return f.stations, f.err
}

func (f *fakeGateway) HasCredentials() bool { return f.hasCredential }

type fakeScorer struct {
	err       error
	gotRadius int
}

func (f *fakeScorer) CalculateAreaDensity(_ context.Context, _ models.GeoPoint, radius int) (models.DensityResult, error) {
	f.gotRadius = radius
	if f.err != nil {
		return models.DensityResult{}, f.err
	}
	return models.DensityResult{Score: 45, TotalPOIs: 45, Breakdown: map[string]int{"cafe": 45}, Level: models.DensityModerate}, nil
}

func (f *fakeScorer) CalculateConnectivityScore(context.Context, models.GeoPoint, []string) (models.ConnectivityResult, error) {
	return models.ConnectivityResult{Score: 30, TotalStations: 3, Stations: []models.Station{}, Level: models.ConnectivityFair}, nil
}

type fakeRanker struct {
	routes     []models.ScoredRoute
	suggestion models.Suggestion
	err        error
	gotModes   []string
	gotVehicle string
}

func (f *fakeRanker) FindOptimalRoutes(_ context.Context, _, _ models.GeoPoint, _ time.Time, modes []string) ([]models.ScoredRoute, error) {
	f.gotModes = modes
	return f.routes, f.err
}

func (f *fakeRanker) SuggestNewRoute(_ context.Context, _ models.Bounds, vehicleType string) (models.Suggestion, error) {
	f.gotVehicle = vehicleType
	return f.suggestion, f.err
}

type testServer struct {
	app    *fiber.App
	gw     *fakeGateway
	scorer *fakeScorer
	ranker *fakeRanker
}

func newTestServer(t *testing.T, store cache.Store) *testServer {
	t.Helper()
	s := &testServer{
		gw:     &fakeGateway{hasCredential: true},
		scorer: &fakeScorer{},
		ranker: &fakeRanker{},
	}
	h := NewHandler(Options{
		Gateway:        s.gw,
		Scorer:         s.scorer,
		Ranker:         s.ranker,
		Store:          store,
		RequestTimeout: 5 * time.Second,
	})
	s.app = NewApp(h, AppConfig{}, nil)
	return s
}

func (s *testServer) do(t *testing.T, method, target, body string) (int, map[string]interface{}) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	return s.send(t, req)
}

func (s *testServer) send(t *testing.T, req *http.Request) (int, map[string]interface{}) {
	t.Helper()

	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func fieldNames(out map[string]interface{}) []string {
	var names []string
	fields, _ := out["fields"].([]interface{})
	for _, f := range fields {
		names = append(names, f.(map[string]interface{})["field"].(string))
	}
	return names
}

func TestIndexAndHealth(t *testing.T) {
	s := newTestServer(t, nil)

	status, out := s.do(t, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, ServiceName, out["name"])
	assert.Contains(t, out["endpoints"], "routes")

	status, out = s.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "healthy", out["status"])
	services := out["services"].(map[string]interface{})
	assert.Equal(t, "configured", services["google_maps"])
	assert.Equal(t, "disabled", services["cache"])
}

func TestHealthReportsCache(t *testing.T) {
	s := newTestServer(t, cache.NewMemoryStore(10))

	status, out := s.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "memory: ok", out["services"].(map[string]interface{})["cache"])
}

func TestHealthReportsExtraChecks(t *testing.T) {
	s := newTestServer(t, nil)
	h := NewHandler(Options{
		Gateway: s.gw,
		Scorer:  s.scorer,
		Ranker:  s.ranker,
		Checks: map[string]func(context.Context) error{
			"database": func(context.Context) error { return errors.New("database ping failed") },
		},
	})
	s.app = NewApp(h, AppConfig{}, nil)

	status, out := s.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "degraded", out["status"])
	assert.Equal(t, "database ping failed", out["services"].(map[string]interface{})["database"])
}

func TestUnknownEndpoint(t *testing.T) {
	s := newTestServer(t, nil)

	status, out := s.do(t, http.MethodGet, "/api/nope", "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "endpoint not found", out["error"])
}

const optimizeBody = `{
  "origin": {"latitude": 14.6928, "longitude": -17.4467},
  "destination": {"latitude": 14.7167, "longitude": -17.4677}
}`

func TestOptimizeRoutes(t *testing.T) {
	t.Run("Returns ranked routes with comparison", func(t *testing.T) {
		s := newTestServer(t, nil)
		s.ranker.routes = []models.ScoredRoute{
			{TransitRoute: models.TransitRoute{Summary: "Line 7", Steps: []models.Step{}}, Score: models.OptimizationScore{Total: 72}},
			{TransitRoute: models.TransitRoute{Summary: "Line 3", Steps: []models.Step{}}, Score: models.OptimizationScore{Total: 52}},
		}

		status, out := s.do(t, http.MethodPost, "/api/routes/optimize", optimizeBody)
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, "success", out["status"])
		assert.Equal(t, 2.0, out["routes_found"])
		assert.Equal(t, []string{"bus", "subway", "tram"}, s.ranker.gotModes)

		comparison := out["comparison"].(map[string]interface{})
		assert.Equal(t, "Line 7", comparison["best_route_summary"])
		assert.Equal(t, 20.0, comparison["advantage"])

		routes := out["routes"].([]interface{})
		first := routes[0].(map[string]interface{})
		assert.Equal(t, "Line 7", first["summary"])
		assert.Contains(t, first, "optimization_score")
	})

	t.Run("Passes requested modes", func(t *testing.T) {
		s := newTestServer(t, nil)
		s.ranker.routes = []models.ScoredRoute{{TransitRoute: models.TransitRoute{Summary: "A"}}}

		body := `{"origin":{"latitude":1,"longitude":2},"destination":{"latitude":1.1,"longitude":2.1},"transit_modes":["tram"],"departure_time":"2026-03-02T08:00:00Z"}`
		status, _ := s.do(t, http.MethodPost, "/api/routes/optimize", body)
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, []string{"tram"}, s.ranker.gotModes)
	})

	t.Run("No routes is not found", func(t *testing.T) {
		s := newTestServer(t, nil)
		s.ranker.routes = []models.ScoredRoute{}

		status, out := s.do(t, http.MethodPost, "/api/routes/optimize", optimizeBody)
		assert.Equal(t, http.StatusNotFound, status)
		assert.Contains(t, out["error"], "no routes")
	})

	t.Run("Missing destination", func(t *testing.T) {
		s := newTestServer(t, nil)

		status, out := s.do(t, http.MethodPost, "/api/routes/optimize", `{"origin":{"latitude":1,"longitude":2}}`)
		assert.Equal(t, http.StatusUnprocessableEntity, status)
		assert.Equal(t, "validation_failed", out["error"])
		assert.Equal(t, []string{"destination"}, fieldNames(out))
	})

	t.Run("Latitude out of range", func(t *testing.T) {
		s := newTestServer(t, nil)

		body := `{"origin":{"latitude":95,"longitude":2},"destination":{"latitude":1,"longitude":2}}`
		status, out := s.do(t, http.MethodPost, "/api/routes/optimize", body)
		assert.Equal(t, http.StatusUnprocessableEntity, status)
		assert.Equal(t, []string{"origin.latitude"}, fieldNames(out))
	})

	t.Run("Malformed JSON", func(t *testing.T) {
		s := newTestServer(t, nil)

		status, out := s.do(t, http.MethodPost, "/api/routes/optimize", `{"origin":`)
		assert.Equal(t, http.StatusUnprocessableEntity, status)
		assert.Equal(t, []string{"body"}, fieldNames(out))
	})

	t.Run("Provider failure carries diagnostic", func(t *testing.T) {
		s := newTestServer(t, nil)
		s.ranker.err = &apperr.UpstreamError{
			Operation:  "transit routes",
			StatusCode: 403,
			Body:       `{"error":{"status":"PERMISSION_DENIED"}}`,
			Err:        errors.New("non-success status"),
		}

		status, out := s.do(t, http.MethodPost, "/api/routes/optimize", optimizeBody)
		assert.Equal(t, http.StatusInternalServerError, status)
		assert.Equal(t, "upstream_error", out["error"])
		assert.Equal(t, 403.0, out["provider_status"])
		assert.Contains(t, out["provider_response"], "PERMISSION_DENIED")
	})
}

func TestAnalyzeDensity(t *testing.T) {
	t.Run("Defaults radius", func(t *testing.T) {
		s := newTestServer(t, nil)

		status, out := s.do(t, http.MethodPost, "/api/density/analyze", `{"center":{"latitude":14.69,"longitude":-17.44}}`)
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, 1000, s.scorer.gotRadius)
		assert.Equal(t, 1000.0, out["radius_meters"])
		assert.Equal(t, 45.0, out["density"].(map[string]interface{})["density_score"])
		assert.Equal(t, "fair", out["connectivity"].(map[string]interface{})["connectivity_level"])
		assert.Equal(t, 14.69, out["location"].(map[string]interface{})["latitude"])
	})

	t.Run("Radius out of range", func(t *testing.T) {
		s := newTestServer(t, nil)

		status, out := s.do(t, http.MethodPost, "/api/density/analyze", `{"center":{"latitude":14.69,"longitude":-17.44},"radius":50}`)
		assert.Equal(t, http.StatusUnprocessableEntity, status)
		assert.Equal(t, []string{"radius"}, fieldNames(out))
	})

	t.Run("Invalid argument from the core", func(t *testing.T) {
		s := newTestServer(t, nil)
		s.scorer.err = apperr.InvalidArgument("radius must be positive, got 0")

		status, out := s.do(t, http.MethodPost, "/api/density/analyze", `{"center":{"latitude":14.69,"longitude":-17.44}}`)
		assert.Equal(t, http.StatusUnprocessableEntity, status)
		assert.Equal(t, "invalid_argument", out["error"])
	})
}

func TestTrafficConditions(t *testing.T) {
	t.Run("Returns the report", func(t *testing.T) {
		s := newTestServer(t, nil)
		report := models.NewTrafficReport(12000, 900, 1260)
		s.gw.traffic = &report

		status, out := s.do(t, http.MethodGet, "/api/traffic/conditions?origin_lat=14.69&origin_lng=-17.44&dest_lat=14.75&dest_lng=-17.39", "")
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, models.GeoPoint{Lat: 14.69, Lng: -17.44}, s.gw.gotOrigin)

		traffic := out["traffic"].(map[string]interface{})
		assert.Equal(t, "heavy", traffic["traffic_level"])
		assert.Equal(t, 1.4, traffic["traffic_factor"])
	})

	t.Run("All parameters are required", func(t *testing.T) {
		s := newTestServer(t, nil)

		status, out := s.do(t, http.MethodGet, "/api/traffic/conditions?origin_lat=abc", "")
		assert.Equal(t, http.StatusUnprocessableEntity, status)
		assert.Equal(t, []string{"origin_lat", "origin_lng", "dest_lat", "dest_lng"}, fieldNames(out))
	})
}

func TestSuggestRoute(t *testing.T) {
	t.Run("Returns the suggestion", func(t *testing.T) {
		s := newTestServer(t, nil)
		s.ranker.suggestion = models.Suggestion{Status: models.SuggestionInsufficientData, Message: "Not enough high-demand zones identified"}

		body := `{"area_bounds":{"southwest":{"latitude":14.6,"longitude":-17.5},"northeast":{"latitude":14.8,"longitude":-17.3}}}`
		status, out := s.do(t, http.MethodPost, "/api/routes/suggest", body)
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, "bus", s.ranker.gotVehicle)
		assert.Equal(t, "insufficient_data", out["suggestion"].(map[string]interface{})["status"])
		assert.Contains(t, out["area_analyzed"], "southwest")
	})

	t.Run("Inverted bounds", func(t *testing.T) {
		s := newTestServer(t, nil)

		body := `{"area_bounds":{"southwest":{"latitude":14.8,"longitude":-17.3},"northeast":{"latitude":14.6,"longitude":-17.5}},"vehicle_type":"tram"}`
		status, out := s.do(t, http.MethodPost, "/api/routes/suggest", body)
		assert.Equal(t, http.StatusUnprocessableEntity, status)
		assert.Equal(t, []string{"area_bounds"}, fieldNames(out))
	})
}

func TestNearbyStations(t *testing.T) {
	t.Run("Applies defaults", func(t *testing.T) {
		s := newTestServer(t, nil)
		s.gw.stations = []models.Station{{Name: "Colobane", Types: []string{"bus_station"}}}

		status, out := s.do(t, http.MethodGet, "/api/stations/nearby?lat=14.69&lng=-17.44", "")
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, 500, s.gw.gotRadius)
		assert.Equal(t, "bus_station", s.gw.gotType)
		assert.Equal(t, 1.0, out["stations_found"])
	})

	t.Run("Radius out of range", func(t *testing.T) {
		s := newTestServer(t, nil)

		status, out := s.do(t, http.MethodGet, "/api/stations/nearby?lat=14.69&lng=-17.44&radius=3000", "")
		assert.Equal(t, http.StatusUnprocessableEntity, status)
		assert.Equal(t, []string{"radius"}, fieldNames(out))
	})
}

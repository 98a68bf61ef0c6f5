package routing

import (
	"fmt"
	"math"

	"github.com/passbi/passbi_optimizer/internal/models"
	"github.com/twpayne/go-polyline"
)

// minSeparation is the distance in meters under which two consecutive
// points count as the same place
const minSeparation = 1.0

// ExtractWaypoints samples up to limit points along a route for corridor
// analysis. The geometry is the encoded overview polyline, or the step
// polylines joined in order when the overview is missing. Samples are spread
// evenly by index and always include the first and last point. A route
// without geometry yields no waypoints.
func ExtractWaypoints(route models.TransitRoute, limit int) ([]models.GeoPoint, error) {
	points, err := routeGeometry(route)
	if err != nil {
		return nil, err
	}
	return samplePoints(dedupe(points), limit), nil
}

func routeGeometry(route models.TransitRoute) ([]models.GeoPoint, error) {
	if route.Polyline != "" {
		return decodePolyline(route.Polyline)
	}

	var points []models.GeoPoint
	for i, step := range route.Steps {
		if step.Polyline == "" {
			continue
		}
		decoded, err := decodePolyline(step.Polyline)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		points = append(points, decoded...)
	}
	return points, nil
}

func decodePolyline(encoded string) ([]models.GeoPoint, error) {
	coords, rest, err := polyline.DecodeCoords([]byte(encoded))
	if err != nil {
		return nil, fmt.Errorf("invalid polyline: %w", err)
	}
	if len(rest) > 0 {
		return nil, fmt.Errorf("invalid polyline: %d trailing bytes", len(rest))
	}

	points := make([]models.GeoPoint, len(coords))
	for i, c := range coords {
		points[i] = models.GeoPoint{Lat: c[0], Lng: c[1]}
	}
	return points, nil
}

// dedupe drops points that repeat the previous one, which happens where
// step polylines meet
func dedupe(points []models.GeoPoint) []models.GeoPoint {
	if len(points) == 0 {
		return points
	}
	out := []models.GeoPoint{points[0]}
	for _, p := range points[1:] {
		last := out[len(out)-1]
		if haversineDistance(last.Lat, last.Lng, p.Lat, p.Lng) < minSeparation {
			continue
		}
		out = append(out, p)
	}
	return out
}

// samplePoints picks limit points evenly spaced by index, endpoints included
func samplePoints(points []models.GeoPoint, limit int) []models.GeoPoint {
	if limit < 2 {
		limit = 2
	}
	if len(points) <= limit {
		return points
	}

	out := make([]models.GeoPoint, limit)
	last := len(points) - 1
	for i := 0; i < limit; i++ {
		idx := int(math.Round(float64(i) * float64(last) / float64(limit-1)))
		out[i] = points[idx]
	}
	return out
}

// haversineDistance calculates distance between two coordinates in meters
func haversineDistance(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadius = 6371000 // meters

	lat1Rad := lat1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	deltaLat := (lat2 - lat1) * math.Pi / 180
	deltaLon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(deltaLon/2)*math.Sin(deltaLon/2)

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadius * c
}

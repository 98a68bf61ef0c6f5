package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/passbi/passbi_optimizer/internal/apperr"
	"github.com/passbi/passbi_optimizer/internal/models"
)

type placeResult struct {
	Name     string `json:"name"`
	Geometry struct {
		Location struct {
			Lat float64 `json:"lat"`
			Lng float64 `json:"lng"`
		} `json:"location"`
	} `json:"geometry"`
	Vicinity string   `json:"vicinity"`
	Rating   float64  `json:"rating"`
	Types    []string `json:"types"`
}

type nearbySearchResponse struct {
	Results      *[]placeResult `json:"results"`
	Status       string         `json:"status"`
	ErrorMessage string         `json:"error_message,omitempty"`
}

// nearbySearch runs one nearby-search query for a single place type
func (c *Client) nearbySearch(ctx context.Context, op string, location models.GeoPoint, radius int, placeType string) ([]placeResult, error) {
	params := url.Values{}
	params.Set("location", fmt.Sprintf("%.6f,%.6f", location.Lat, location.Lng))
	params.Set("radius", strconv.Itoa(radius))
	params.Set("type", placeType)
	params.Set("key", c.cfg.APIKey)

	var resp nearbySearchResponse
	if err := c.getJSON(ctx, op, c.cfg.PlacesURL+"?"+params.Encode(), &resp); err != nil {
		return nil, err
	}

	// The provider signals quota and key problems with HTTP 200 and a status field
	if resp.Status != "" && resp.Status != "OK" && resp.Status != "ZERO_RESULTS" {
		return nil, &apperr.UpstreamError{
			Operation: op,
			Body:      fmt.Sprintf("status=%s error_message=%s", resp.Status, resp.ErrorMessage),
			Err:       fmt.Errorf("provider status %s", resp.Status),
		}
	}
	if resp.Results == nil {
		return nil, &apperr.UpstreamError{Operation: op, Body: resp.ErrorMessage, Err: errors.New("response has no results field")}
	}

	return *resp.Results, nil
}

// GetNearbyStations lists stations of one type around a location
func (c *Client) GetNearbyStations(ctx context.Context, location models.GeoPoint, radius int, stationType string) ([]models.Station, error) {
	results, err := c.nearbySearch(ctx, "nearby stations", location, radius, stationType)
	if err != nil {
		return nil, err
	}

	stations := make([]models.Station, 0, len(results))
	for _, p := range results {
		types := p.Types
		if types == nil {
			types = []string{}
		}
		stations = append(stations, models.Station{
			Name:     p.Name,
			Location: models.GeoPoint{Lat: p.Geometry.Location.Lat, Lng: p.Geometry.Location.Lng},
			Address:  p.Vicinity,
			Rating:   p.Rating,
			Types:    types,
		})
	}
	return stations, nil
}

// GetNearbyPOIs counts points of interest of one category around a location
func (c *Client) GetNearbyPOIs(ctx context.Context, location models.GeoPoint, radius int, category string) (int, error) {
	results, err := c.nearbySearch(ctx, "nearby POIs", location, radius, category)
	if err != nil {
		return 0, err
	}
	return len(results), nil
}

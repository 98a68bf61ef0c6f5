package api

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/passbi/passbi_optimizer/internal/apperr"
	"github.com/passbi/passbi_optimizer/internal/models"
)

// Location is a coordinate in request bodies. Pointers distinguish a
// missing field from zero.
type Location struct {
	Latitude  *float64 `json:"latitude" validate:"required,gte=-90,lte=90"`
	Longitude *float64 `json:"longitude" validate:"required,gte=-180,lte=180"`
}

// Point converts a validated Location
func (l *Location) Point() models.GeoPoint {
	return models.GeoPoint{Lat: *l.Latitude, Lng: *l.Longitude}
}

// OptimizeRequest is the body of POST /api/routes/optimize
type OptimizeRequest struct {
	Origin        *Location  `json:"origin" validate:"required"`
	Destination   *Location  `json:"destination" validate:"required"`
	DepartureTime *time.Time `json:"departure_time"`
	TransitModes  []string   `json:"transit_modes" validate:"omitempty,max=8,dive,required,max=32"`
}

// DensityRequest is the body of POST /api/density/analyze
type DensityRequest struct {
	Center *Location `json:"center" validate:"required"`
	Radius *int      `json:"radius" validate:"omitempty,gte=100,lte=5000"`
}

// AreaBounds is a bounding box in request bodies
type AreaBounds struct {
	Southwest *Location `json:"southwest" validate:"required"`
	Northeast *Location `json:"northeast" validate:"required"`
}

// SuggestRequest is the body of POST /api/routes/suggest
type SuggestRequest struct {
	AreaBounds  *AreaBounds `json:"area_bounds" validate:"required"`
	VehicleType string      `json:"vehicle_type" validate:"omitempty,max=32"`
}

// newValidator reports fields by their JSON names
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// parseBody decodes and validates a JSON body into req
func (h *Handler) parseBody(c *fiber.Ctx, req interface{}) error {
	if err := c.BodyParser(req); err != nil {
		return apperr.NewValidationError("body", "json", "request body must be valid JSON: "+err.Error())
	}
	if err := h.validate.Struct(req); err != nil {
		return apperr.FromValidator(err)
	}
	return nil
}

// queryFloat reads a required float query parameter within [lo, hi]
func queryFloat(c *fiber.Ctx, name string, lo, hi float64, errs *apperr.ValidationError) float64 {
	raw := c.Query(name)
	if raw == "" {
		errs.Fields = append(errs.Fields, apperr.FieldError{Field: name, Tag: "required", Message: "field is required"})
		return 0
	}

	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		errs.Fields = append(errs.Fields, apperr.FieldError{Field: name, Tag: "number", Message: "must be a number"})
		return 0
	}
	if v < lo || v > hi {
		errs.Fields = append(errs.Fields, apperr.FieldError{
			Field:   name,
			Tag:     "range",
			Message: fmt.Sprintf("must be between %g and %g", lo, hi),
		})
	}
	return v
}

// queryInt reads an optional integer query parameter within [lo, hi]
func queryInt(c *fiber.Ctx, name string, def, lo, hi int, errs *apperr.ValidationError) int {
	raw := c.Query(name)
	if raw == "" {
		return def
	}

	v, err := strconv.Atoi(raw)
	if err != nil {
		errs.Fields = append(errs.Fields, apperr.FieldError{Field: name, Tag: "number", Message: "must be an integer"})
		return def
	}
	if v < lo || v > hi {
		errs.Fields = append(errs.Fields, apperr.FieldError{
			Field:   name,
			Tag:     "range",
			Message: fmt.Sprintf("must be between %d and %d", lo, hi),
		})
	}
	return v
}

package handler

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/DukeRupert/tmportal/internal/domain"
	"github.com/DukeRupert/tmportal/internal/geo"
)

// Geocoder turns coordinates into a place description.
type Geocoder interface {
	Reverse(ctx context.Context, lat, lon float64) (string, error)
}

// GeoHandler backs the registration form's location detection.
type GeoHandler struct {
	geocoder Geocoder
	logger   *slog.Logger
}

// NewGeoHandler creates a new GeoHandler. A nil geocoder disables lookups.
func NewGeoHandler(geocoder Geocoder, logger *slog.Logger) *GeoHandler {
	return &GeoHandler{geocoder: geocoder, logger: logger}
}

// GeocodeResponse is the JSON body of a successful lookup.
type GeocodeResponse struct {
	Location string `json:"location"`
}

// Reverse handles GET /api/geocode?lat=..&lon=..
func (h *GeoHandler) Reverse(w http.ResponseWriter, r *http.Request) {
	const op = "GeoHandler.Reverse"

	if h.geocoder == nil {
		ErrorResponse(w, r, h.logger, domain.Unavailable(nil, op, "Location detection is disabled"))
		return
	}

	lat, latErr := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	lon, lonErr := strconv.ParseFloat(r.URL.Query().Get("lon"), 64)
	if latErr != nil || lonErr != nil || !finite(lat) || !finite(lon) {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "lat and lon must be numbers"))
		return
	}

	location, err := h.geocoder.Reverse(r.Context(), lat, lon)
	if err != nil {
		if errors.Is(err, geo.ErrInvalidCoordinates) {
			ErrorResponse(w, r, h.logger, domain.Invalid(op, "Coordinates are out of range"))
			return
		}
		ErrorResponse(w, r, h.logger, domain.Unavailable(err, op, "Location detection failed"))
		return
	}

	writeJSON(w, http.StatusOK, GeocodeResponse{Location: location})
}

// RegisterRoutes registers the geocoding API.
func (h *GeoHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/geocode", h.Reverse)
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

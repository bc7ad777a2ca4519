package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DukeRupert/tmportal/internal/geo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type geocoderFunc func(ctx context.Context, lat, lon float64) (string, error)

func (f geocoderFunc) Reverse(ctx context.Context, lat, lon float64) (string, error) {
	return f(ctx, lat, lon)
}

func TestGeoHandler_Reverse(t *testing.T) {
	tests := []struct {
		name       string
		geocoder   Geocoder
		query      string
		wantStatus int
		wantBody   string
		wantCode   string
	}{
		{
			name: "success",
			geocoder: geocoderFunc(func(_ context.Context, lat, lon float64) (string, error) {
				assert.Equal(t, 19.07, lat)
				assert.Equal(t, 72.87, lon)
				return "Mumbai, Maharashtra, India", nil
			}),
			query:      "?lat=19.07&lon=72.87",
			wantStatus: http.StatusOK,
			wantBody:   "Mumbai, Maharashtra, India",
		},
		{
			name:       "not numbers",
			geocoder:   geocoderFunc(func(context.Context, float64, float64) (string, error) { return "", nil }),
			query:      "?lat=north&lon=1",
			wantStatus: http.StatusBadRequest,
			wantCode:   "invalid",
		},
		{
			name: "NaN",
			geocoder: geocoderFunc(func(context.Context, float64, float64) (string, error) {
				t.Error("geocoder called with NaN")
				return "", nil
			}),
			query:      "?lat=NaN&lon=1",
			wantStatus: http.StatusBadRequest,
			wantCode:   "invalid",
		},
		{
			name: "infinite",
			geocoder: geocoderFunc(func(context.Context, float64, float64) (string, error) {
				t.Error("geocoder called with Inf")
				return "", nil
			}),
			query:      "?lat=1&lon=-Inf",
			wantStatus: http.StatusBadRequest,
			wantCode:   "invalid",
		},
		{
			name: "out of range",
			geocoder: geocoderFunc(func(context.Context, float64, float64) (string, error) {
				return "", geo.ErrInvalidCoordinates
			}),
			query:      "?lat=91&lon=0",
			wantStatus: http.StatusBadRequest,
			wantCode:   "invalid",
		},
		{
			name: "upstream failure",
			geocoder: geocoderFunc(func(context.Context, float64, float64) (string, error) {
				return "", errors.New("connection refused")
			}),
			query:      "?lat=1&lon=1",
			wantStatus: http.StatusServiceUnavailable,
			wantCode:   "unavailable",
		},
		{
			name:       "disabled",
			query:      "?lat=1&lon=1",
			wantStatus: http.StatusServiceUnavailable,
			wantCode:   "unavailable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewGeoHandler(tt.geocoder, discardLogger())
			mux := http.NewServeMux()
			h.RegisterRoutes(mux)

			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/geocode"+tt.query, nil))

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			if tt.wantCode != "" {
				var body JSONError
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
				assert.Equal(t, tt.wantCode, body.Error.Code)
				return
			}
			var body GeocodeResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantBody, body.Location)
		})
	}
}

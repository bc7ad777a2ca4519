// Package geo converts browser coordinates into a printable place name using
// a Nominatim-compatible reverse geocoder.
package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the public OpenStreetMap Nominatim instance.
	DefaultBaseURL = "https://nominatim.openstreetmap.org"

	// DefaultUserAgent identifies the portal to the geocoder. Nominatim
	// rejects requests without one.
	DefaultUserAgent = "tmportal/1.0"

	// DefaultTimeout bounds a single lookup.
	DefaultTimeout = 5 * time.Second

	// maxResponseSize caps how much of a response body is read.
	maxResponseSize = 1 << 20
)

var (
	// ErrInvalidCoordinates is returned for latitudes outside [-90, 90],
	// longitudes outside [-180, 180], and NaN or infinite values.
	ErrInvalidCoordinates = errors.New("geo: invalid coordinates")

	// ErrUpstream is returned when the geocoder answers with a non-200 status.
	ErrUpstream = errors.New("geo: upstream error")
)

// Config contains configuration for the Nominatim client.
type Config struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration

	// Rate bounds outbound requests. Nominatim's usage policy allows one
	// request per second.
	Rate  rate.Limit
	Burst int
}

// Client is a reverse geocoder.
type Client struct {
	baseURL   string
	userAgent string
	http      *http.Client
	limiter   *rate.Limiter
	logger    *slog.Logger
}

// New creates a Nominatim client. Zero config fields take their defaults.
func New(cfg Config, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Rate <= 0 {
		cfg.Rate = rate.Every(time.Second)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}

	return &Client{
		baseURL:   cfg.BaseURL,
		userAgent: cfg.UserAgent,
		http:      &http.Client{Timeout: cfg.Timeout},
		limiter:   rate.NewLimiter(cfg.Rate, cfg.Burst),
		logger:    logger,
	}
}

type reverseResponse struct {
	DisplayName string `json:"display_name"`
	Error       string `json:"error"`
}

// Reverse returns the display name for the given coordinates. When the
// geocoder knows no name for the spot, the coordinates themselves are
// returned as "lat, lon".
//
// Callers queue behind the rate limiter until ctx is done.
func (c *Client) Reverse(ctx context.Context, lat, lon float64) (string, error) {
	if !validCoordinates(lat, lon) {
		return "", ErrInvalidCoordinates
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("geo: wait for rate limiter: %w", err)
	}

	q := url.Values{}
	q.Set("format", "json")
	q.Set("lat", formatCoord(lat))
	q.Set("lon", formatCoord(lon))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/reverse?"+q.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("geo: create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("geo: execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseSize))
		return "", fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
	}

	var body reverseResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&body); err != nil {
		return "", fmt.Errorf("geo: decode response: %w", err)
	}

	if body.DisplayName == "" {
		if body.Error != "" {
			c.logger.Debug("geocoder returned no place", "error", body.Error)
		}
		return formatCoord(lat) + ", " + formatCoord(lon), nil
	}

	return body.DisplayName, nil
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// validCoordinates rejects NaN explicitly; it fails every range comparison.
func validCoordinates(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

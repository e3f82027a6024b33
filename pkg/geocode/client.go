// Package geocode resolves free-text addresses to coordinates and
// coordinates back to addresses using a Nominatim-compatible service.
package geocode

import (
	"context"
	"errors"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the public OpenStreetMap Nominatim endpoint.
	DefaultBaseURL = "https://nominatim.openstreetmap.org"
	// DefaultUserAgent identifies the application to the geocoding service.
	DefaultUserAgent = "incinerator-map/1.0"

	defaultSharedTimeout = 30 * time.Second
)

// ErrNotFound is returned when the service has no match for the query.
var ErrNotFound = errors.New("geocode: address not found")

// Client geocodes addresses and reverse-geocodes coordinates.
type Client interface {
	// GeocodeAddress returns the best match for free-text input.
	GeocodeAddress(ctx context.Context, text string) (*Result, error)

	// ReverseGeocode returns a human-readable address for a coordinate.
	ReverseGeocode(ctx context.Context, lat, lng float64) (string, error)
}

// Result is a forward geocoding match.
type Result struct {
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
	DisplayName string  `json:"display_name"`
}

// Option configures the geocoder.
type Option func(*geocoder)

// WithBaseURL points the client at a different Nominatim instance.
func WithBaseURL(u string) Option {
	return func(g *geocoder) {
		if u != "" {
			g.baseURL = u
		}
	}
}

// WithUserAgent sets the User-Agent sent on every request.
func WithUserAgent(ua string) Option {
	return func(g *geocoder) {
		if ua != "" {
			g.userAgent = ua
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(g *geocoder) {
		g.httpClient = hc
	}
}

// WithRateLimit sets the requests-per-second limit shared by all lookups.
func WithRateLimit(rps float64) Option {
	return func(g *geocoder) {
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithCache enables caching of successful forward lookups.
func WithCache(c Cache) Option {
	return func(g *geocoder) {
		g.cache = c
	}
}

type geocoder struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
	limiter    *rate.Limiter
	cache      Cache
	group      singleflight.Group

	// sharedTimeout bounds a coalesced lookup, including its limiter wait.
	sharedTimeout time.Duration
}

// NewClient creates a new geocoding Client with the given options.
func NewClient(opts ...Option) Client {
	g := &geocoder{
		baseURL:    DefaultBaseURL,
		userAgent:  DefaultUserAgent,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		limiter:    rate.NewLimiter(1, 1), // Nominatim usage policy: 1 req/s

		sharedTimeout: defaultSharedTimeout,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

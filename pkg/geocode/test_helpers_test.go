package geocode

import (
	"golang.org/x/time/rate"
)

// newTestClient returns a geocoder pointed at baseURL with no rate limiting.
func newTestClient(baseURL string, opts ...Option) *geocoder {
	g := NewClient(append([]Option{WithBaseURL(baseURL)}, opts...)...).(*geocoder)
	g.limiter = rate.NewLimiter(rate.Inf, 1)
	return g
}

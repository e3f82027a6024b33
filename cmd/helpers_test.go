package main

import (
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/incinerator-map/internal/config"
)

var fixedNow = func() time.Time { return time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC) }

// testConfig mirrors the loaded defaults with a fast geocode limiter.
func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Port: 8080, AllowedOrigins: []string{"*"}},
		Log:    config.LogConfig{Level: "info", Format: "console"},
		Facilities: config.FacilitiesConfig{
			Driver:      "bundled",
			TimeoutSecs: 5,
		},
		Geocode: config.GeocodeConfig{
			BaseURL:     "http://127.0.0.1:1",
			UserAgent:   "incinerator-map-test/1.0",
			RateLimit:   100,
			TimeoutSecs: 5,
			SearchZoom:  12,
			Cache:       config.CacheConfig{Driver: "memory", TTLMinutes: 10, MaxEntries: 10},
		},
		Map: config.MapConfig{DefaultRegion: "us"},
	}
}

// nominatim fakes the two geocoding endpoints.
func nominatim(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("q") == "nowhere" {
			_, _ = w.Write([]byte(`[]`))
			return
		}
		_, _ = w.Write([]byte(`[{"lat":"40.6892","lon":"-74.1181","display_name":"Newark, New Jersey"}]`))
	})
	mux.HandleFunc("/reverse", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("lat") == "0" {
			_, _ = w.Write([]byte(`{"error":"Unable to geocode"}`))
			return
		}
		_, _ = w.Write([]byte(`{"display_name":"Chicago, Illinois"}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// getFreePort returns a free TCP port on localhost.
func getFreePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

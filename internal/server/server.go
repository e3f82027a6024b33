// Package server exposes the facility API, geocoding proxy and live map
// sessions over HTTP and websockets.
package server

import (
	"context"
	"embed"
	"io/fs"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"

	"github.com/sells-group/incinerator-map/internal/facility"
	"github.com/sells-group/incinerator-map/internal/geo"
	"github.com/sells-group/incinerator-map/internal/locate"
	"github.com/sells-group/incinerator-map/internal/metrics"
	"github.com/sells-group/incinerator-map/internal/provider"
	"github.com/sells-group/incinerator-map/internal/registry"
	"github.com/sells-group/incinerator-map/pkg/geocode"
)

//go:embed static
var staticFiles embed.FS

// Options wires the server to its collaborators. Store, Geocoder and Maps
// are required.
type Options struct {
	Store          facility.Store
	Remote         provider.Source // nil disables the remote source
	UseRemote      bool            // initial source for new sessions
	Geocoder       geocode.Client
	GeocodeCache   geocode.Cache // reported on /health when it tracks stats
	Maps           *registry.Registry
	Regions        *geo.Catalog
	Locator        locate.Locator
	DefaultRegion  string
	SearchZoom     int
	AllowedOrigins []string
	Now            func() time.Time
}

// Server handles HTTP and websocket traffic.
type Server struct {
	store         facility.Store
	local         provider.Source
	remote        provider.Source
	useRemote     bool
	geocoder      geocode.Client
	geocodeCache  geocode.Cache
	maps          *registry.Registry
	regions       *geo.Catalog
	locator       locate.Locator
	defaultRegion string
	searchZoom    int
	origins       []string
	now           func() time.Time
	upgrader      websocket.Upgrader

	sessionsCtx   context.Context
	closeSessions context.CancelFunc
}

// New creates a Server from opts, filling in defaults for optional fields.
func New(opts Options) *Server {
	s := &Server{
		store:         opts.Store,
		local:         provider.NewStoreSource("local", opts.Store),
		remote:        opts.Remote,
		useRemote:     opts.UseRemote && opts.Remote != nil,
		geocoder:      opts.Geocoder,
		geocodeCache:  opts.GeocodeCache,
		maps:          opts.Maps,
		regions:       opts.Regions,
		locator:       opts.Locator,
		defaultRegion: opts.DefaultRegion,
		searchZoom:    opts.SearchZoom,
		origins:       opts.AllowedOrigins,
		now:           opts.Now,
	}
	if s.maps == nil {
		s.maps = registry.New()
	}
	if s.regions == nil {
		s.regions = geo.DefaultRegions()
	}
	if s.locator == nil {
		s.locator = locate.Nop{}
	}
	if s.searchZoom <= 0 {
		s.searchZoom = 12
	}
	if len(s.origins) == 0 {
		s.origins = []string{"*"}
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.sessionsCtx, s.closeSessions = context.WithCancel(context.Background())
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Handler builds the routing tree.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(instrument)
	r.Use(middleware.Recoverer)

	static, _ := fs.Sub(staticFiles, "static")
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFileFS(w, r, static, "index.html")
	})
	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Get("/ws", s.handleSession)

	r.Route("/api", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.origins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
		r.Get("/incinerators", s.handleListIncinerators)
		r.Get("/incinerators.geojson", s.handleBoundaries)
		r.Get("/incinerators/{id}", s.handleGetIncinerator)
		r.Get("/geocode/search", s.handleGeocodeSearch)
		r.Get("/geocode/reverse", s.handleGeocodeReverse)
		r.Get("/regions", s.handleRegions)
		r.Get("/maps", s.handleListMaps)
		r.Post("/maps/fly", s.handleFlyMaps)
	})
	return r
}

// Close ends every open map session. http.Server.Shutdown does not reach
// hijacked websocket connections.
func (s *Server) Close() {
	s.closeSessions()
}

// checkOrigin applies the same allow-list as the API's CORS policy.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range s.origins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

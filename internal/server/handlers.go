package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/incinerator-map/internal/display"
	"github.com/sells-group/incinerator-map/internal/facility"
	"github.com/sells-group/incinerator-map/internal/geo"
	"github.com/sells-group/incinerator-map/internal/registry"
	"github.com/sells-group/incinerator-map/pkg/geocode"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("server: write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{
		"status": "ok",
		"maps":   s.maps.Count(),
	}
	if sr, ok := s.geocodeCache.(geocode.StatsReporter); ok {
		body["geocode_cache"] = sr.Stats()
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleListMaps(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"maps": s.maps.Keys()})
}

// parseBBox reads north/south/east/west query parameters. All four or none
// must be present; ok is false when none are.
func parseBBox(r *http.Request) (bbox geo.BBox, ok bool, err error) {
	q := r.URL.Query()
	names := []string{"north", "south", "east", "west"}
	vals := make([]float64, len(names))
	present := 0
	for i, name := range names {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		present++
		v, perr := strconv.ParseFloat(raw, 64)
		if perr != nil {
			return geo.BBox{}, false, errors.New("invalid " + name)
		}
		vals[i] = v
	}
	switch present {
	case 0:
		return geo.BBox{}, false, nil
	case len(names):
	default:
		return geo.BBox{}, false, errors.New("north, south, east and west must be given together")
	}

	bbox = geo.BBox{North: vals[0], South: vals[1], East: vals[2], West: vals[3]}
	if err := bbox.Validate(); err != nil {
		return geo.BBox{}, false, err
	}
	if z := q.Get("zoom"); z != "" {
		zoom, zerr := strconv.Atoi(z)
		if zerr != nil || zoom < geo.MinZoom || zoom > geo.MaxZoom {
			return geo.BBox{}, false, errors.New("invalid zoom")
		}
	}
	return bbox, true, nil
}

func (s *Server) handleListIncinerators(w http.ResponseWriter, r *http.Request) {
	bbox, scoped, err := parseBBox(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	filter, err := display.ParseFilter(r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var scope *geo.BBox
	if scoped {
		scope = &bbox
	}
	fs, err := s.store.List(r.Context(), scope)
	if err != nil {
		zap.L().Error("server: list facilities", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load facilities")
		return
	}

	now := s.now()
	out := make([]facility.Facility, 0, len(fs))
	for _, f := range fs {
		if filter.Allows(facility.DeriveStatus(f, now)) {
			out = append(out, f)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetIncinerator(w http.ResponseWriter, r *http.Request) {
	f, err := s.store.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, facility.ErrNotFound) {
		writeError(w, http.StatusNotFound, "facility not found")
		return
	}
	if err != nil {
		zap.L().Error("server: get facility", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load facility")
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (s *Server) handleBoundaries(w http.ResponseWriter, r *http.Request) {
	fs, err := s.store.List(r.Context(), nil)
	if err != nil {
		zap.L().Error("server: list facilities", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load facilities")
		return
	}
	body, err := display.Boundaries(fs)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to encode boundaries")
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	_, _ = w.Write(body)
}

func (s *Server) handleGeocodeSearch(w http.ResponseWriter, r *http.Request) {
	res, err := s.geocoder.GeocodeAddress(r.Context(), r.URL.Query().Get("q"))
	if errors.Is(err, geocode.ErrNotFound) {
		writeError(w, http.StatusNotFound, "address not found")
		return
	}
	if err != nil {
		zap.L().Warn("server: geocode search", zap.Error(err))
		writeError(w, http.StatusBadGateway, "geocoding service unavailable")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGeocodeReverse(w http.ResponseWriter, r *http.Request) {
	lat, latErr := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	lng, lngErr := strconv.ParseFloat(r.URL.Query().Get("lng"), 64)
	if latErr != nil || lngErr != nil || !geo.ValidPoint(lat, lng) {
		writeError(w, http.StatusBadRequest, "lat and lng must be valid coordinates")
		return
	}

	addr, err := s.geocoder.ReverseGeocode(r.Context(), lat, lng)
	if errors.Is(err, geocode.ErrNotFound) {
		writeError(w, http.StatusNotFound, "address not found")
		return
	}
	if err != nil {
		zap.L().Warn("server: reverse geocode", zap.Error(err))
		writeError(w, http.StatusBadGateway, "geocoding service unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"display_address": addr})
}

func (s *Server) handleRegions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.regions.All())
}

type flyRequest struct {
	Region string    `json:"region"`
	Bounds *geo.BBox `json:"bounds"`
	Zoom   int       `json:"zoom"`
}

// handleFlyMaps moves every connected map to a region or explicit view.
func (s *Server) handleFlyMaps(w http.ResponseWriter, r *http.Request) {
	var req flyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var vp geo.Viewport
	switch {
	case req.Region != "":
		reg, ok := s.regions.Lookup(req.Region)
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown region")
			return
		}
		vp = geo.Viewport{Bounds: reg.Bounds, Zoom: reg.Zoom}
	case req.Bounds != nil:
		vp = geo.Viewport{Bounds: *req.Bounds, Zoom: req.Zoom}
	default:
		writeError(w, http.StatusBadRequest, "region or bounds is required")
		return
	}
	if err := vp.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	delivered := 0
	s.maps.ForEach(func(key string, h registry.Handle) {
		if err := h.FlyTo(r.Context(), vp.Bounds, vp.Zoom); err != nil {
			zap.L().Warn("server: fly-to failed", zap.String("map", key), zap.Error(err))
			return
		}
		delivered++
	})
	writeJSON(w, http.StatusOK, map[string]int{"delivered": delivered})
}

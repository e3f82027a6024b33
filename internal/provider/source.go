package provider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/incinerator-map/internal/facility"
	"github.com/sells-group/incinerator-map/internal/geo"
	"github.com/sells-group/incinerator-map/internal/resilience"
)

// Source yields facility records, optionally scoped to a viewport.
type Source interface {
	Name() string
	Fetch(ctx context.Context, vp *geo.Viewport) ([]facility.Facility, error)
}

// StoreSource adapts a facility.Store.
type StoreSource struct {
	name  string
	store facility.Store
}

// NewStoreSource wraps store under the given source name.
func NewStoreSource(name string, store facility.Store) *StoreSource {
	return &StoreSource{name: name, store: store}
}

// Name implements Source.
func (s *StoreSource) Name() string { return s.name }

// Fetch implements Source.
func (s *StoreSource) Fetch(ctx context.Context, vp *geo.Viewport) ([]facility.Facility, error) {
	var bbox *geo.BBox
	if vp != nil {
		b := vp.Bounds
		bbox = &b
	}
	return s.store.List(ctx, bbox)
}

// RemoteSource fetches from an HTTP service exposing GET /incinerators.
type RemoteSource struct {
	baseURL    string
	httpClient *http.Client
}

// NewRemoteSource creates a RemoteSource. A nil client gets a 15s timeout.
func NewRemoteSource(baseURL string, hc *http.Client) *RemoteSource {
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	return &RemoteSource{baseURL: strings.TrimRight(baseURL, "/"), httpClient: hc}
}

// Name implements Source.
func (s *RemoteSource) Name() string { return "remote" }

// Fetch implements Source. Requests always bypass HTTP caches.
func (s *RemoteSource) Fetch(ctx context.Context, vp *geo.Viewport) ([]facility.Facility, error) {
	reqURL := s.baseURL + "/incinerators"
	if vp != nil {
		params := url.Values{}
		params.Set("north", formatDeg(vp.Bounds.North))
		params.Set("south", formatDeg(vp.Bounds.South))
		params.Set("east", formatDeg(vp.Bounds.East))
		params.Set("west", formatDeg(vp.Bounds.West))
		params.Set("zoom", strconv.Itoa(vp.Zoom))
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "provider: create remote request")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "provider: remote request")
		}
		return nil, resilience.NewTransientError(eris.Wrap(err, "provider: remote request"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	if err := resilience.CheckResponse("provider: remote", resp); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "provider: read remote response")
	}
	var out []facility.Facility
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, eris.Wrap(err, "provider: parse remote response")
	}
	return out, nil
}

func formatDeg(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

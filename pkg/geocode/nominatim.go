package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/sells-group/incinerator-map/internal/geo"
	"github.com/sells-group/incinerator-map/internal/metrics"
	"github.com/sells-group/incinerator-map/internal/resilience"
)

type searchPlace struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

type reversePlace struct {
	DisplayName string `json:"display_name"`
	Error       string `json:"error"`
}

// GeocodeAddress looks up text and returns the first match. Identical
// concurrent lookups share one upstream request.
func (g *geocoder) GeocodeAddress(ctx context.Context, text string) (*Result, error) {
	q := strings.TrimSpace(text)
	if q == "" {
		metrics.GeocodeRequestsTotal.WithLabelValues("search", metrics.OutcomeNotFound).Inc()
		return nil, ErrNotFound
	}

	key := cacheKey(q)
	if g.cache != nil {
		if r, ok := g.cache.Get(ctx, key); ok {
			metrics.GeocodeCacheTotal.WithLabelValues("hit").Inc()
			metrics.GeocodeRequestsTotal.WithLabelValues("search", metrics.OutcomeOK).Inc()
			return r, nil
		}
		metrics.GeocodeCacheTotal.WithLabelValues("miss").Inc()
	}

	// The shared lookup outlives any one caller; each caller waits on its
	// own ctx.
	if err := ctx.Err(); err != nil {
		recordOutcome("search", err)
		return nil, eris.Wrap(err, "geocode: search canceled")
	}
	ch := g.group.DoChan(key, func() (any, error) {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.sharedTimeout)
		defer cancel()
		return g.search(sctx, q)
	})
	var sr singleflight.Result
	select {
	case <-ctx.Done():
		recordOutcome("search", ctx.Err())
		return nil, eris.Wrap(ctx.Err(), "geocode: search canceled")
	case sr = <-ch:
	}
	if sr.Err != nil {
		recordOutcome("search", sr.Err)
		return nil, sr.Err
	}
	res := sr.Val.(*Result)
	metrics.GeocodeRequestsTotal.WithLabelValues("search", metrics.OutcomeOK).Inc()

	if g.cache != nil {
		g.cache.Set(ctx, key, res)
	}
	out := *res
	return &out, nil
}

func (g *geocoder) search(ctx context.Context, q string) (*Result, error) {
	params := url.Values{}
	params.Set("q", q)
	params.Set("format", "json")
	params.Set("limit", "1")

	var places []searchPlace
	if err := g.get(ctx, "search", params, &places); err != nil {
		return nil, err
	}
	if len(places) == 0 {
		return nil, ErrNotFound
	}

	p := places[0]
	lat, err := strconv.ParseFloat(p.Lat, 64)
	if err != nil {
		return nil, eris.Wrapf(err, "geocode: parse lat %q", p.Lat)
	}
	lng, err := strconv.ParseFloat(p.Lon, 64)
	if err != nil {
		return nil, eris.Wrapf(err, "geocode: parse lon %q", p.Lon)
	}
	if !geo.ValidPoint(lat, lng) {
		return nil, eris.Errorf("geocode: match out of range (%f, %f)", lat, lng)
	}

	zap.L().Debug("geocode: match",
		zap.String("query", q),
		zap.Float64("lat", lat),
		zap.Float64("lng", lng),
	)
	return &Result{Lat: lat, Lng: lng, DisplayName: p.DisplayName}, nil
}

// ReverseGeocode returns the display name of the place at lat/lng.
func (g *geocoder) ReverseGeocode(ctx context.Context, lat, lng float64) (string, error) {
	if !geo.ValidPoint(lat, lng) {
		return "", eris.Errorf("geocode: invalid coordinate (%f, %f)", lat, lng)
	}

	params := url.Values{}
	params.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	params.Set("lon", strconv.FormatFloat(lng, 'f', -1, 64))
	params.Set("format", "json")

	var place reversePlace
	if err := g.get(ctx, "reverse", params, &place); err != nil {
		recordOutcome("reverse", err)
		return "", err
	}
	name := strings.TrimSpace(place.DisplayName)
	if name == "" {
		recordOutcome("reverse", ErrNotFound)
		return "", ErrNotFound
	}
	metrics.GeocodeRequestsTotal.WithLabelValues("reverse", metrics.OutcomeOK).Inc()
	return name, nil
}

// get waits for the limiter, issues GET <base>/<endpoint>?params and decodes
// the JSON body into out.
func (g *geocoder) get(ctx context.Context, endpoint string, params url.Values, out any) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return eris.Wrap(err, "geocode: rate limit wait")
	}

	reqURL := strings.TrimRight(g.baseURL, "/") + "/" + endpoint + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return eris.Wrapf(err, "geocode: create %s request", endpoint)
	}
	req.Header.Set("User-Agent", g.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return eris.Wrapf(err, "geocode: %s request", endpoint)
	}
	defer resp.Body.Close() //nolint:errcheck

	if err := resilience.CheckResponse("geocode: "+endpoint, resp); err != nil {
		return err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrapf(err, "geocode: read %s response", endpoint)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return eris.Wrapf(err, "geocode: parse %s response", endpoint)
	}
	return nil
}

func recordOutcome(kind string, err error) {
	outcome := metrics.OutcomeError
	if errors.Is(err, ErrNotFound) {
		outcome = metrics.OutcomeNotFound
	}
	metrics.GeocodeRequestsTotal.WithLabelValues(kind, outcome).Inc()
}

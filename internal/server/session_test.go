package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/incinerator-map/internal/geo"
	"github.com/sells-group/incinerator-map/internal/provider"
	"github.com/sells-group/incinerator-map/internal/registry"
	"github.com/sells-group/incinerator-map/pkg/geocode"
)

func TestSession_InitialState(t *testing.T) {
	_, ts := newTestServer(t, Options{})
	conn := dial(t, ts)

	msg := readUntil(t, conn, loaded(10))
	assert.Empty(t, msg.Error)
	assert.False(t, msg.UsingRemote)
	assert.Len(t, msg.Markers, 9)
	assert.Equal(t, 6, msg.Summary.Operational)
	assert.Equal(t, 2, msg.Summary.Planned)
	assert.Equal(t, 1, msg.Summary.Unplaced)
}

func TestSession_RegistersAndUnregisters(t *testing.T) {
	maps := registry.New()
	_, ts := newTestServer(t, Options{Maps: maps})
	conn := dial(t, ts)
	readUntil(t, conn, loaded(10))

	assert.Equal(t, 1, maps.Count())
	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	var health struct {
		Maps int `json:"maps"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	resp.Body.Close() //nolint:errcheck
	assert.Equal(t, 1, health.Maps)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return maps.Count() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestSession_Viewport(t *testing.T) {
	_, ts := newTestServer(t, Options{})
	conn := dial(t, ts)
	readUntil(t, conn, loaded(10))

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":   "viewport",
		"bounds": geo.BBox{North: 41, South: 40, East: -74, West: -75},
		"zoom":   9,
	}))
	msg := readUntil(t, conn, loaded(1))
	require.Len(t, msg.Markers, 1)
	assert.Equal(t, "inc-001", msg.Markers[0].ID)
}

func TestSession_WorldViewportShowsEverything(t *testing.T) {
	_, ts := newTestServer(t, Options{})
	conn := dial(t, ts)
	readUntil(t, conn, loaded(10))

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":   "viewport",
		"bounds": geo.BBox{North: 41, South: 40, East: -74, West: -75},
		"zoom":   9,
	}))
	readUntil(t, conn, loaded(1))

	// Zoomed all the way out the map reports longitudes beyond +/-180.
	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":   "viewport",
		"bounds": geo.BBox{North: 85, South: -85, East: 270, West: -270},
		"zoom":   1,
	}))
	msg := readUntil(t, conn, func(m serverMessage) bool {
		return m.Type == msgNotice || (m.Type == msgState && !m.Loading && m.Total == 9)
	})
	require.Equal(t, msgState, msg.Type, "world view must not be rejected: %q", msg.Message)
	assert.Len(t, msg.Markers, 9)
	assert.Equal(t, 10, msg.Loaded)
}

func TestSession_Filter(t *testing.T) {
	_, ts := newTestServer(t, Options{})
	conn := dial(t, ts)
	readUntil(t, conn, loaded(10))

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "filter", "statuses": []string{"planned"}}))
	msg := readUntil(t, conn, func(m serverMessage) bool {
		return m.Type == msgState && len(m.Markers) == 2
	})
	assert.Equal(t, "inc-005", msg.Markers[0].ID)
	assert.Equal(t, "inc-010", msg.Markers[1].ID)
	// The summary still counts everything loaded.
	assert.Equal(t, 10, msg.Summary.Total)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "filter", "statuses": []string{"closed"}}))
	notice := readUntil(t, conn, ofType(msgNotice))
	assert.Equal(t, "unknown status filter", notice.Message)
}

func TestSession_Search(t *testing.T) {
	gc := &fakeGeocoder{search: func(q string) (*geocode.Result, error) {
		if q == "Newark" {
			return &geocode.Result{Lat: 40.7, Lng: -74.2, DisplayName: "Newark"}, nil
		}
		return nil, geocode.ErrNotFound
	}}
	_, ts := newTestServer(t, Options{Geocoder: gc, SearchZoom: 13})
	conn := dial(t, ts)
	readUntil(t, conn, loaded(10))

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "search", "query": "Newark"}))
	fly := readUntil(t, conn, ofType(msgFlyTo))
	assert.Equal(t, 13, fly.Zoom)
	assert.InDelta(t, 40.75, fly.Bounds.North, 1e-9)
	assert.InDelta(t, 40.65, fly.Bounds.South, 1e-9)
	assert.InDelta(t, -74.15, fly.Bounds.East, 1e-9)
	assert.InDelta(t, -74.25, fly.Bounds.West, 1e-9)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "search", "query": "Atlantis"}))
	notice := readUntil(t, conn, ofType(msgNotice))
	assert.Equal(t, "address not found", notice.Message)
}

func TestSession_Region(t *testing.T) {
	_, ts := newTestServer(t, Options{})
	conn := dial(t, ts)
	readUntil(t, conn, loaded(10))

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "region", "name": "southwest"}))
	fly := readUntil(t, conn, ofType(msgFlyTo))
	sw, _ := geo.DefaultRegions().Lookup("southwest")
	assert.Equal(t, sw.Bounds, fly.Bounds)
	assert.Equal(t, sw.Zoom, fly.Zoom)

	state := readUntil(t, conn, func(m serverMessage) bool { return m.Type == msgState && m.Region != "" })
	assert.Equal(t, "Southwest", state.Region)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "region", "name": "atlantis"}))
	notice := readUntil(t, conn, ofType(msgNotice))
	assert.Equal(t, "unknown region", notice.Message)
}

func TestSession_BadMessages(t *testing.T) {
	_, ts := newTestServer(t, Options{})
	conn := dial(t, ts)
	readUntil(t, conn, loaded(10))

	cases := []struct {
		send any
		want string
	}{
		{map[string]any{"type": "dance"}, "unknown message type"},
		{map[string]any{"type": "viewport"}, "viewport requires bounds"},
		{map[string]any{"type": "viewport", "bounds": geo.BBox{North: 1, South: 2, East: 1, West: 0}}, "invalid viewport"},
		{map[string]any{"type": "source", "remote": true}, "remote source not configured"},
	}
	for _, c := range cases {
		require.NoError(t, conn.WriteJSON(c.send))
		notice := readUntil(t, conn, ofType(msgNotice))
		assert.Equal(t, c.want, notice.Message)
	}

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	notice := readUntil(t, conn, ofType(msgNotice))
	assert.Equal(t, "malformed message", notice.Message)
}

func TestSession_RemoteSource(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("north") != "" {
			_, _ = w.Write([]byte(`[{"id":"r1","name":"Remote One","latitude":40.5,"longitude":-74.5,"operational":true}]`))
			return
		}
		_, _ = w.Write([]byte(`[
			{"id":"r1","name":"Remote One","latitude":40.5,"longitude":-74.5,"operational":true},
			{"id":"r2","name":"Remote Two","latitude":35.0,"longitude":-100.0,"operational":false,"year_established":2030}
		]`))
	}))
	defer upstream.Close()

	_, ts := newTestServer(t, Options{
		Remote:    provider.NewRemoteSource(upstream.URL, upstream.Client()),
		UseRemote: true,
	})
	conn := dial(t, ts)

	msg := readUntil(t, conn, loaded(2))
	assert.True(t, msg.UsingRemote)
	assert.Equal(t, 1, msg.Summary.Planned)

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":   "viewport",
		"bounds": geo.BBox{North: 41, South: 40, East: -74, West: -75},
		"zoom":   9,
	}))
	msg = readUntil(t, conn, loaded(1))
	assert.Equal(t, "r1", msg.Markers[0].ID)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "source", "remote": false}))
	msg = readUntil(t, conn, func(m serverMessage) bool {
		return m.Type == msgState && !m.Loading && !m.UsingRemote
	})
	assert.Equal(t, 1, msg.Total) // bundled list, still scoped to the viewport
}

func TestSession_RemoteFailureKeepsData(t *testing.T) {
	fail := make(chan struct{})
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		select {
		case <-fail:
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			_, _ = w.Write([]byte(`[{"id":"r1","name":"Remote One","latitude":40.5,"longitude":-74.5,"operational":true}]`))
		}
	}))
	defer upstream.Close()

	_, ts := newTestServer(t, Options{
		Remote:    provider.NewRemoteSource(upstream.URL, upstream.Client()),
		UseRemote: true,
	})
	conn := dial(t, ts)
	readUntil(t, conn, loaded(1))

	close(fail)
	require.NoError(t, conn.WriteJSON(map[string]any{"type": "refetch"}))
	msg := readUntil(t, conn, func(m serverMessage) bool { return m.Type == msgState && m.Error != "" })
	assert.Equal(t, "facility service temporarily unavailable", msg.Error)
	assert.False(t, msg.Loading)
	assert.Len(t, msg.Markers, 1)
}

func TestSession_LocatorOpensNearVisitor(t *testing.T) {
	_, ts := newTestServer(t, Options{Locator: fixedLocator{p: geo.Point{Lat: 40, Lng: -75}}})
	conn := dial(t, ts)

	fly := readUntil(t, conn, ofType(msgFlyTo))
	assert.Equal(t, geo.Around(geo.Point{Lat: 40, Lng: -75}, visitorPad), fly.Bounds)
	assert.Equal(t, visitorZoom, fly.Zoom)
}

func TestSession_DefaultRegion(t *testing.T) {
	_, ts := newTestServer(t, Options{DefaultRegion: "west"})
	conn := dial(t, ts)

	fly := readUntil(t, conn, ofType(msgFlyTo))
	west, _ := geo.DefaultRegions().Lookup("west")
	assert.Equal(t, west.Bounds, fly.Bounds)

	state := readUntil(t, conn, func(m serverMessage) bool { return m.Type == msgState && m.Region != "" })
	assert.Equal(t, "West", state.Region)
}

func TestSession_FlyMapsBroadcast(t *testing.T) {
	_, ts := newTestServer(t, Options{})
	conn := dial(t, ts)
	readUntil(t, conn, loaded(10))

	resp, err := http.Post(ts.URL+"/api/maps/fly", "application/json",
		jsonBody(t, map[string]string{"region": "midwest"}))
	require.NoError(t, err)
	var out struct {
		Delivered int `json:"delivered"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	resp.Body.Close() //nolint:errcheck
	assert.Equal(t, 1, out.Delivered)

	fly := readUntil(t, conn, ofType(msgFlyTo))
	mw, _ := geo.DefaultRegions().Lookup("midwest")
	assert.Equal(t, mw.Bounds, fly.Bounds)
}

func TestServerClose_EndsSessions(t *testing.T) {
	maps := registry.New()
	s, ts := newTestServer(t, Options{Maps: maps})
	conn := dial(t, ts)
	readUntil(t, conn, loaded(10))

	s.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	require.Eventually(t, func() bool { return maps.Count() == 0 }, 5*time.Second, 10*time.Millisecond)
}

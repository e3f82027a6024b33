package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/incinerator-map/internal/display"
	"github.com/sells-group/incinerator-map/internal/facility"
	"github.com/sells-group/incinerator-map/internal/geo"
	"github.com/sells-group/incinerator-map/pkg/geocode"
)

var testNow = time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return testNow }

type fakeGeocoder struct {
	search  func(q string) (*geocode.Result, error)
	reverse func(lat, lng float64) (string, error)
}

func (f *fakeGeocoder) GeocodeAddress(_ context.Context, q string) (*geocode.Result, error) {
	if f.search == nil {
		return nil, geocode.ErrNotFound
	}
	return f.search(q)
}

func (f *fakeGeocoder) ReverseGeocode(_ context.Context, lat, lng float64) (string, error) {
	if f.reverse == nil {
		return "", geocode.ErrNotFound
	}
	return f.reverse(lat, lng)
}

type fixedLocator struct{ p geo.Point }

func (l fixedLocator) Locate(net.IP) (geo.Point, bool) { return l.p, true }

type failingStore struct{}

func (failingStore) List(context.Context, *geo.BBox) ([]facility.Facility, error) {
	return nil, context.DeadlineExceeded
}

func (failingStore) Get(context.Context, string) (*facility.Facility, error) {
	return nil, context.DeadlineExceeded
}

type mockHandle struct {
	mock.Mock
}

func (m *mockHandle) FlyTo(ctx context.Context, bounds geo.BBox, zoom int) error {
	return m.Called(ctx, bounds, zoom).Error(0)
}

// newTestServer starts s over httptest with bundled data and a fake
// geocoder unless opts overrides them.
func newTestServer(t *testing.T, opts Options) (*Server, *httptest.Server) {
	t.Helper()
	if opts.Store == nil {
		opts.Store = facility.Bundled()
	}
	if opts.Geocoder == nil {
		opts.Geocoder = &fakeGeocoder{}
	}
	if opts.Now == nil {
		opts.Now = clock
	}
	s := New(opts)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.Close()
		ts.Close()
	})
	return s, ts
}

// serverMessage decodes every message type the server sends.
type serverMessage struct {
	Type        string           `json:"type"`
	Loading     bool             `json:"loading"`
	Error       string           `json:"error"`
	Total       int              `json:"total"`
	Loaded      int              `json:"loaded"`
	UsingRemote bool             `json:"using_remote"`
	Region      string           `json:"region"`
	Markers     []display.Marker `json:"markers"`
	Summary     display.Summary  `json:"summary"`
	Bounds      geo.BBox         `json:"bounds"`
	Zoom        int              `json:"zoom"`
	Message     string           `json:"message"`
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() }) //nolint:errcheck
	return conn
}

// readUntil reads messages until match returns true or the deadline passes.
func readUntil(t *testing.T, conn *websocket.Conn, match func(serverMessage) bool) serverMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var msg serverMessage
		require.NoError(t, conn.ReadJSON(&msg))
		if match(msg) {
			return msg
		}
	}
}

func loaded(total int) func(serverMessage) bool {
	return func(m serverMessage) bool {
		return m.Type == msgState && !m.Loading && m.Total == total
	}
}

func ofType(typ string) func(serverMessage) bool {
	return func(m serverMessage) bool { return m.Type == typ }
}

func jsonBody(t *testing.T, v any) *bytes.Reader {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(b)
}

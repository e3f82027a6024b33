package provider

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/incinerator-map/internal/facility"
	"github.com/sells-group/incinerator-map/internal/geo"
)

var testNow = time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return testNow }

func fac(id string, lat, lng float64) facility.Facility {
	return facility.Facility{
		ID:          id,
		Name:        "Facility " + id,
		Latitude:    facility.Float(lat),
		Longitude:   facility.Float(lng),
		Operational: true,
	}
}

func ids(fs []facility.Facility) []string {
	out := make([]string, len(fs))
	for i, f := range fs {
		out[i] = f.ID
	}
	return out
}

// funcSource answers every fetch with fn.
type funcSource struct {
	name string
	fn   func(vp *geo.Viewport) ([]facility.Facility, error)
}

func (s *funcSource) Name() string { return s.name }

func (s *funcSource) Fetch(_ context.Context, vp *geo.Viewport) ([]facility.Facility, error) {
	return s.fn(vp)
}

type gatedResult struct {
	fs  []facility.Facility
	err error
}

// gatedSource blocks each fetch until the test releases it by key. The key
// is the viewport key, or "all" for unscoped fetches.
type gatedSource struct {
	mu      sync.Mutex
	gates   map[string]chan gatedResult
	started chan string
}

func newGatedSource() *gatedSource {
	return &gatedSource{
		gates:   make(map[string]chan gatedResult),
		started: make(chan string, 16),
	}
}

func (s *gatedSource) Name() string { return "remote" }

func (s *gatedSource) Fetch(ctx context.Context, vp *geo.Viewport) ([]facility.Facility, error) {
	key := "all"
	if vp != nil {
		key = vp.Key()
	}
	ch := make(chan gatedResult, 1)
	s.mu.Lock()
	s.gates[key] = ch
	s.mu.Unlock()
	s.started <- key

	select {
	case r := <-ch:
		return r.fs, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *gatedSource) release(key string, fs []facility.Facility, err error) {
	s.mu.Lock()
	ch := s.gates[key]
	delete(s.gates, key)
	s.mu.Unlock()
	ch <- gatedResult{fs: fs, err: err}
}

func (s *gatedSource) waitStarted(t *testing.T, want string) {
	t.Helper()
	select {
	case got := <-s.started:
		if got != want {
			t.Fatalf("started fetch %q, want %q", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("fetch %q never started", want)
	}
}

type mockHandle struct {
	mock.Mock
}

func (m *mockHandle) FlyTo(ctx context.Context, bounds geo.BBox, zoom int) error {
	args := m.Called(ctx, bounds, zoom)
	return args.Error(0)
}

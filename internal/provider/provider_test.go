package provider

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/incinerator-map/internal/facility"
	"github.com/sells-group/incinerator-map/internal/geo"
	"github.com/sells-group/incinerator-map/internal/metrics"
	"github.com/sells-group/incinerator-map/internal/registry"
	"github.com/sells-group/incinerator-map/internal/resilience"
)

var (
	vpA = geo.Viewport{Bounds: geo.BBox{North: 42, South: 40, East: -72, West: -76}, Zoom: 8}
	vpB = geo.Viewport{Bounds: geo.BBox{North: 46, South: 44, East: -92, West: -95}, Zoom: 9}
)

func TestNew_InitialState(t *testing.T) {
	p := New(nil, nil, nil)
	s := p.State()
	assert.True(t, s.Loading)
	assert.Empty(t, s.Facilities)
	assert.Empty(t, s.Error)
}

func TestLoad_Local(t *testing.T) {
	local := NewStoreSource("local", facility.Bundled())
	p := New(local, nil, nil, WithClock(clock))

	require.NoError(t, p.Load(context.Background(), false))
	s := p.State()
	assert.False(t, s.Loading)
	assert.Empty(t, s.Error)
	assert.False(t, s.UsingRemote)
	assert.Equal(t, 10, s.Total)
	assert.Len(t, s.Facilities, 10)
	assert.Equal(t, testNow, s.UpdatedAt)
}

func TestLoad_RemoteNotConfigured(t *testing.T) {
	p := New(NewStoreSource("local", facility.Bundled()), nil, nil)
	err := p.Load(context.Background(), true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no remote source")
}

func TestLoad_FailureKeepsPreviousList(t *testing.T) {
	fail := false
	src := &funcSource{name: "local", fn: func(*geo.Viewport) ([]facility.Facility, error) {
		if fail {
			return nil, errors.New("disk on fire")
		}
		return []facility.Facility{fac("a", 1, 1), fac("b", 2, 2)}, nil
	}}
	p := New(src, nil, nil)

	require.NoError(t, p.Load(context.Background(), false))
	fail = true
	err := p.Load(context.Background(), false)
	require.Error(t, err)

	s := p.State()
	assert.False(t, s.Loading)
	assert.Equal(t, "failed to load facilities: disk on fire", s.Error)
	assert.Equal(t, []string{"a", "b"}, ids(s.Facilities))

	fail = false
	require.NoError(t, p.Refetch(context.Background()))
	assert.Empty(t, p.State().Error)
}

func TestLoad_TransientFailureMessage(t *testing.T) {
	remote := &funcSource{name: "remote", fn: func(*geo.Viewport) ([]facility.Facility, error) {
		return nil, resilience.NewTransientError(errors.New("upstream returned status 503"), 503)
	}}
	p := New(nil, remote, nil)

	require.Error(t, p.Load(context.Background(), true))
	s := p.State()
	assert.Equal(t, "facility service temporarily unavailable", s.Error)
	assert.True(t, s.UsingRemote)
}

func TestSwitchSources(t *testing.T) {
	local := &funcSource{name: "local", fn: func(*geo.Viewport) ([]facility.Facility, error) {
		return []facility.Facility{fac("local-1", 1, 1)}, nil
	}}
	remote := &funcSource{name: "remote", fn: func(*geo.Viewport) ([]facility.Facility, error) {
		return []facility.Facility{fac("remote-1", 1, 1), fac("remote-2", 2, 2)}, nil
	}}
	p := New(local, remote, nil)
	ctx := context.Background()

	require.NoError(t, p.SwitchToRemoteAPI(ctx))
	s := p.State()
	assert.True(t, s.UsingRemote)
	assert.Equal(t, []string{"remote-1", "remote-2"}, ids(s.Facilities))

	require.NoError(t, p.SwitchToLocalAPI(ctx))
	s = p.State()
	assert.False(t, s.UsingRemote)
	assert.Equal(t, []string{"local-1"}, ids(s.Facilities))

	require.NoError(t, p.Refetch(ctx))
	assert.False(t, p.State().UsingRemote)
}

func TestUpdateViewport_LocalFiltersWithoutFetch(t *testing.T) {
	calls := 0
	local := &funcSource{name: "local", fn: func(vp *geo.Viewport) ([]facility.Facility, error) {
		calls++
		assert.Nil(t, vp)
		return []facility.Facility{fac("in", 41, -74), fac("out", 30, -100)}, nil
	}}
	p := New(local, nil, nil)
	ctx := context.Background()
	require.NoError(t, p.Load(ctx, false))

	require.NoError(t, p.UpdateViewport(ctx, vpA))
	assert.Equal(t, 1, calls)
	s := p.State()
	assert.Equal(t, []string{"in"}, ids(s.Facilities))
	assert.Equal(t, 1, s.Total)
	assert.Equal(t, 2, s.Loaded, "loaded counts the unscoped list")

	// A reload keeps the viewport filter.
	require.NoError(t, p.Refetch(ctx))
	assert.Equal(t, []string{"in"}, ids(p.State().Facilities))
}

func TestUpdateViewport_Invalid(t *testing.T) {
	p := New(NewStoreSource("local", facility.Bundled()), nil, nil)
	require.NoError(t, p.Load(context.Background(), false))
	before := p.State()

	err := p.UpdateViewport(context.Background(), geo.Viewport{
		Bounds: geo.BBox{North: 10, South: 20, East: 5, West: 0}, Zoom: 3,
	})
	require.Error(t, err)
	assert.Equal(t, before, p.State())
}

func TestUpdateViewport_RemoteScopesRequest(t *testing.T) {
	var got *geo.Viewport
	remote := &funcSource{name: "remote", fn: func(vp *geo.Viewport) ([]facility.Facility, error) {
		got = vp
		if vp == nil {
			return []facility.Facility{fac("a", 41, -74), fac("b", 45, -93)}, nil
		}
		return []facility.Facility{fac("a", 41, -74)}, nil
	}}
	p := New(nil, remote, nil)
	ctx := context.Background()

	require.NoError(t, p.Load(ctx, true))
	assert.Nil(t, got)
	require.NoError(t, p.UpdateViewport(ctx, vpA))
	require.NotNil(t, got)
	assert.Equal(t, vpA, *got)
	assert.Equal(t, []string{"a"}, ids(p.State().Facilities))
}

func TestUpdateViewport_LastIssuedRequestWins(t *testing.T) {
	remote := newGatedSource()
	p := New(nil, remote, nil)
	ctx := context.Background()

	loadDone := make(chan error, 1)
	go func() { loadDone <- p.Load(ctx, true) }()
	remote.waitStarted(t, "all")
	remote.release("all", []facility.Facility{fac("seed", 0, 0)}, nil)
	require.NoError(t, <-loadDone)

	staleBefore := testutil.ToFloat64(metrics.StaleResponsesTotal)

	doneA := make(chan error, 1)
	go func() { doneA <- p.UpdateViewport(ctx, vpA) }()
	remote.waitStarted(t, vpA.Key())

	doneB := make(chan error, 1)
	go func() { doneB <- p.UpdateViewport(ctx, vpB) }()
	remote.waitStarted(t, vpB.Key())
	assert.True(t, p.State().Loading)

	// B resolves first.
	remote.release(vpB.Key(), []facility.Facility{fac("b", 45, -93)}, nil)
	require.NoError(t, <-doneB)
	assert.Equal(t, []string{"b"}, ids(p.State().Facilities))

	// A arrives late and is discarded.
	remote.release(vpA.Key(), []facility.Facility{fac("a", 41, -74)}, nil)
	require.NoError(t, <-doneA)

	s := p.State()
	assert.Equal(t, []string{"b"}, ids(s.Facilities))
	assert.False(t, s.Loading)
	assert.Equal(t, staleBefore+1, testutil.ToFloat64(metrics.StaleResponsesTotal))
}

func TestUpdateViewport_StaleErrorDiscarded(t *testing.T) {
	remote := newGatedSource()
	p := New(nil, remote, nil)
	ctx := context.Background()

	go func() { _ = p.Load(ctx, true) }()
	remote.waitStarted(t, "all")
	remote.release("all", nil, nil)

	doneA := make(chan error, 1)
	go func() { doneA <- p.UpdateViewport(ctx, vpA) }()
	remote.waitStarted(t, vpA.Key())
	doneB := make(chan error, 1)
	go func() { doneB <- p.UpdateViewport(ctx, vpB) }()
	remote.waitStarted(t, vpB.Key())

	remote.release(vpB.Key(), []facility.Facility{fac("b", 45, -93)}, nil)
	require.NoError(t, <-doneB)
	remote.release(vpA.Key(), nil, errors.New("boom"))
	require.NoError(t, <-doneA)

	assert.Empty(t, p.State().Error)
}

func TestUpdateViewport_DeduplicatesInFlight(t *testing.T) {
	remote := newGatedSource()
	p := New(nil, remote, nil)
	ctx := context.Background()

	go func() { _ = p.Load(ctx, true) }()
	remote.waitStarted(t, "all")
	remote.release("all", nil, nil)

	doneA := make(chan error, 1)
	go func() { doneA <- p.UpdateViewport(ctx, vpA) }()
	remote.waitStarted(t, vpA.Key())

	// Identical request returns without fetching.
	require.NoError(t, p.UpdateViewport(ctx, vpA))
	select {
	case key := <-remote.started:
		t.Fatalf("unexpected fetch %q", key)
	default:
	}

	remote.release(vpA.Key(), []facility.Facility{fac("a", 41, -74)}, nil)
	require.NoError(t, <-doneA)
	assert.Equal(t, []string{"a"}, ids(p.State().Facilities))

	// Once settled, the same viewport fetches again.
	doneAgain := make(chan error, 1)
	go func() { doneAgain <- p.UpdateViewport(ctx, vpA) }()
	remote.waitStarted(t, vpA.Key())
	remote.release(vpA.Key(), nil, nil)
	require.NoError(t, <-doneAgain)
}

func TestFlyToRegion_NoMapRegistered(t *testing.T) {
	p := New(NewStoreSource("local", facility.Bundled()), nil, registry.New())
	require.NoError(t, p.Load(context.Background(), false))
	before := p.State()

	assert.NotPanics(t, func() {
		p.FlyToRegion(context.Background(), vpA.Bounds, vpA.Zoom)
	})
	assert.Equal(t, before, p.State())

	// A nil registry behaves the same.
	assert.NotPanics(t, func() {
		New(nil, nil, nil).FlyToRegion(context.Background(), vpA.Bounds, vpA.Zoom)
	})
}

func TestFlyToRegion_UsesFirstMap(t *testing.T) {
	maps := registry.New()
	first := new(mockHandle)
	second := new(mockHandle)
	maps.Register("a", first)
	maps.Register("b", second)

	first.On("FlyTo", mock.Anything, vpA.Bounds, vpA.Zoom).Return(nil).Once()

	p := New(nil, nil, maps)
	p.FlyToRegion(context.Background(), vpA.Bounds, vpA.Zoom)

	first.AssertExpectations(t)
	second.AssertNotCalled(t, "FlyTo", mock.Anything, mock.Anything, mock.Anything)
}

func TestFlyToRegion_MapKey(t *testing.T) {
	maps := registry.New()
	first := new(mockHandle)
	target := new(mockHandle)
	maps.Register("a", first)
	maps.Register("z", target)

	target.On("FlyTo", mock.Anything, vpB.Bounds, vpB.Zoom).Return(nil).Once()

	p := New(nil, nil, maps, WithMapKey("z"))
	p.FlyToRegion(context.Background(), vpB.Bounds, vpB.Zoom)

	target.AssertExpectations(t)
	first.AssertNotCalled(t, "FlyTo", mock.Anything, mock.Anything, mock.Anything)
}

func TestFlyToRegion_HandleErrorNotSurfaced(t *testing.T) {
	maps := registry.New()
	h := new(mockHandle)
	maps.Register("a", h)
	h.On("FlyTo", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("socket closed"))

	p := New(nil, nil, maps)
	assert.NotPanics(t, func() { p.FlyToRegion(context.Background(), vpA.Bounds, vpA.Zoom) })
	h.AssertNumberOfCalls(t, "FlyTo", 1)
}

func TestFlyToRegion_InvalidTargetIgnored(t *testing.T) {
	maps := registry.New()
	h := new(mockHandle)
	maps.Register("a", h)

	p := New(nil, nil, maps)
	p.FlyToRegion(context.Background(), geo.BBox{North: 1, South: 2, East: 1, West: 0}, 5)
	h.AssertNotCalled(t, "FlyTo", mock.Anything, mock.Anything, mock.Anything)
}

func TestFlyToNamedRegion(t *testing.T) {
	maps := registry.New()
	h := new(mockHandle)
	maps.Register("a", h)
	ne, ok := geo.DefaultRegions().Lookup("northeast")
	require.True(t, ok)
	h.On("FlyTo", mock.Anything, ne.Bounds, ne.Zoom).Return(nil).Once()

	p := New(nil, nil, maps)
	require.NoError(t, p.FlyToNamedRegion(context.Background(), "NorthEast"))
	assert.Equal(t, "Northeast", p.State().Region)
	h.AssertExpectations(t)

	err := p.FlyToNamedRegion(context.Background(), "atlantis")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown region")
}

func TestFlyToNamedRegion_NoMapLeavesRegion(t *testing.T) {
	p := New(nil, nil, registry.New())
	require.NoError(t, p.FlyToNamedRegion(context.Background(), "west"))
	assert.Empty(t, p.State().Region)
}

func TestSubscribe(t *testing.T) {
	p := New(NewStoreSource("local", facility.Bundled()), nil, nil)

	var mu sync.Mutex
	var seen []State
	cancel := p.Subscribe(func(s State) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})

	require.NoError(t, p.Load(context.Background(), false))
	mu.Lock()
	require.Len(t, seen, 2)
	assert.True(t, seen[0].Loading)
	assert.False(t, seen[1].Loading)
	assert.Equal(t, 10, seen[1].Total)
	mu.Unlock()

	cancel()
	cancel()
	require.NoError(t, p.Load(context.Background(), false))
	mu.Lock()
	assert.Len(t, seen, 2)
	mu.Unlock()
}

func TestState_ReturnsCopy(t *testing.T) {
	p := New(NewStoreSource("local", facility.Bundled()), nil, nil)
	require.NoError(t, p.Load(context.Background(), false))

	s := p.State()
	s.Facilities[0].Name = "mutated"
	assert.NotEqual(t, "mutated", p.State().Facilities[0].Name)
}

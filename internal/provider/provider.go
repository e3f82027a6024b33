// Package provider owns the facility list shown on a map: it loads from the
// bundled or remote source, tracks loading and error state, refreshes on
// viewport changes and relays camera commands to the registered map.
package provider

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/incinerator-map/internal/facility"
	"github.com/sells-group/incinerator-map/internal/geo"
	"github.com/sells-group/incinerator-map/internal/metrics"
	"github.com/sells-group/incinerator-map/internal/registry"
	"github.com/sells-group/incinerator-map/internal/resilience"
)

// State is a snapshot of what the map should display. Total counts the
// facilities in view; Loaded counts the last full, unscoped load.
type State struct {
	Facilities  []facility.Facility `json:"facilities"`
	Loading     bool                `json:"loading"`
	Error       string              `json:"error,omitempty"`
	Total       int                 `json:"total"`
	Loaded      int                 `json:"loaded"`
	UsingRemote bool                `json:"using_remote"`
	Region      string              `json:"region,omitempty"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

// Option configures a Provider.
type Option func(*Provider)

// WithMapKey targets camera commands at the map registered under key
// instead of the first registered map.
func WithMapKey(key string) Option {
	return func(p *Provider) { p.mapKey = key }
}

// WithRegions sets the catalog used by FlyToNamedRegion.
func WithRegions(c *geo.Catalog) Option {
	return func(p *Provider) { p.regions = c }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) { p.now = now }
}

// Provider is safe for concurrent use. Its methods block until their fetch
// completes; when several fetches overlap only the most recently issued one
// may update State.
type Provider struct {
	local   Source
	remote  Source
	maps    *registry.Registry
	mapKey  string
	regions *geo.Catalog
	now     func() time.Time

	mu         sync.Mutex
	state      State
	all        []facility.Facility // last unscoped list
	viewport   *geo.Viewport
	useRemote  bool
	seq        uint64
	pendingKey string // viewport key of the latest in-flight remote request

	notifyMu sync.Mutex
	subs     map[int]func(State)
	nextSub  int
}

// New creates a Provider. remote may be nil when only the bundled data is
// available; maps may be nil when no map can receive camera commands.
func New(local, remote Source, maps *registry.Registry, opts ...Option) *Provider {
	p := &Provider{
		local:   local,
		remote:  remote,
		maps:    maps,
		regions: geo.DefaultRegions(),
		now:     time.Now,
		subs:    make(map[int]func(State)),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.state.Loading = true
	return p
}

// State returns a copy of the current state.
func (p *Provider) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshot()
}

// Subscribe registers fn to receive every state change. The returned
// function removes the subscription.
func (p *Provider) Subscribe(fn func(State)) (cancel func()) {
	p.notifyMu.Lock()
	id := p.nextSub
	p.nextSub++
	p.subs[id] = fn
	p.notifyMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.notifyMu.Lock()
			delete(p.subs, id)
			p.notifyMu.Unlock()
		})
	}
}

// Load fetches the full list from the remote source when useRemote is set,
// otherwise from the bundled source. On failure the previous list is kept
// and State.Error describes the problem.
func (p *Provider) Load(ctx context.Context, useRemote bool) error {
	src, err := p.source(useRemote)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.useRemote = useRemote
	p.state.UsingRemote = useRemote
	p.state.Loading = true
	p.seq++
	seq := p.seq
	p.pendingKey = ""
	p.mu.Unlock()
	p.publish()

	fs, fetchErr := src.Fetch(ctx, nil)
	return p.apply(seq, src.Name(), nil, fs, fetchErr)
}

// UpdateViewport records the visible area. Against the remote source it
// re-requests facilities inside vp unless the same request is already in
// flight; against the bundled source it filters the last full list.
func (p *Provider) UpdateViewport(ctx context.Context, vp geo.Viewport) error {
	if err := vp.Validate(); err != nil {
		return eris.Wrap(err, "provider: update viewport")
	}

	p.mu.Lock()
	v := vp
	p.viewport = &v
	if !p.useRemote || p.remote == nil {
		p.state.Facilities = facility.FilterBBox(p.all, vp.Bounds)
		p.state.Total = len(p.state.Facilities)
		p.mu.Unlock()
		p.publish()
		return nil
	}

	key := vp.Key()
	if p.pendingKey == key {
		p.mu.Unlock()
		zap.L().Debug("provider: viewport request already in flight", zap.String("viewport", key))
		return nil
	}
	p.seq++
	seq := p.seq
	p.pendingKey = key
	p.state.Loading = true
	p.mu.Unlock()
	p.publish()

	fs, fetchErr := p.remote.Fetch(ctx, &v)
	return p.apply(seq, p.remote.Name(), &v, fs, fetchErr)
}

// Refetch repeats the last load with the current source selection.
func (p *Provider) Refetch(ctx context.Context) error {
	p.mu.Lock()
	useRemote := p.useRemote
	p.mu.Unlock()
	return p.Load(ctx, useRemote)
}

// SwitchToRemoteAPI selects the remote source and reloads.
func (p *Provider) SwitchToRemoteAPI(ctx context.Context) error {
	return p.Load(ctx, true)
}

// SwitchToLocalAPI selects the bundled source and reloads.
func (p *Provider) SwitchToLocalAPI(ctx context.Context) error {
	return p.Load(ctx, false)
}

// FlyToRegion asks the active map to animate to bounds. Without a
// registered map the request is logged and dropped.
func (p *Provider) FlyToRegion(ctx context.Context, bounds geo.BBox, zoom int) {
	p.flyTo(ctx, bounds, zoom)
}

// FlyToNamedRegion resolves name in the region catalog and flies there.
func (p *Provider) FlyToNamedRegion(ctx context.Context, name string) error {
	r, ok := p.regions.Lookup(name)
	if !ok {
		return eris.Errorf("provider: unknown region %q", name)
	}
	if !p.flyTo(ctx, r.Bounds, r.Zoom) {
		return nil
	}
	p.mu.Lock()
	p.state.Region = r.Label
	p.mu.Unlock()
	p.publish()
	return nil
}

func (p *Provider) flyTo(ctx context.Context, bounds geo.BBox, zoom int) bool {
	if err := (geo.Viewport{Bounds: bounds, Zoom: zoom}).Validate(); err != nil {
		zap.L().Warn("provider: ignoring invalid fly-to target", zap.Error(err))
		return false
	}

	h, ok := p.handle()
	if !ok {
		zap.L().Warn("provider: no map registered, fly-to dropped",
			zap.String("map_key", p.mapKey),
			zap.Stringer("bounds", bounds),
		)
		return false
	}
	if err := h.FlyTo(ctx, bounds, zoom); err != nil {
		zap.L().Warn("provider: fly-to failed", zap.Error(err))
		return false
	}
	return true
}

func (p *Provider) handle() (registry.Handle, bool) {
	if p.maps == nil {
		return nil, false
	}
	if p.mapKey != "" {
		return p.maps.Get(p.mapKey)
	}
	return p.maps.GetFirst()
}

func (p *Provider) source(useRemote bool) (Source, error) {
	if useRemote {
		if p.remote == nil {
			return nil, eris.New("provider: no remote source configured")
		}
		return p.remote, nil
	}
	if p.local == nil {
		return nil, eris.New("provider: no local source configured")
	}
	return p.local, nil
}

// apply installs the result of request seq if no newer request has been
// issued since. vp is nil for unscoped loads.
func (p *Provider) apply(seq uint64, source string, vp *geo.Viewport, fs []facility.Facility, fetchErr error) error {
	p.mu.Lock()
	if seq != p.seq {
		p.mu.Unlock()
		metrics.StaleResponsesTotal.Inc()
		zap.L().Debug("provider: discarding stale response",
			zap.String("source", source),
			zap.Uint64("seq", seq),
		)
		return nil
	}

	p.pendingKey = ""
	p.state.Loading = false
	if fetchErr != nil {
		p.state.Error = describe(fetchErr)
		p.mu.Unlock()
		p.publish()

		metrics.FacilityFetchTotal.WithLabelValues(source, metrics.OutcomeError).Inc()
		zap.L().Warn("provider: fetch failed",
			zap.String("source", source),
			zap.Error(fetchErr),
		)
		return eris.Wrapf(fetchErr, "provider: fetch %s", source)
	}

	visible := fs
	if vp == nil {
		p.all = fs
		p.state.Loaded = len(fs)
		if !p.useRemote && p.viewport != nil {
			visible = facility.FilterBBox(fs, p.viewport.Bounds)
		}
	}
	p.state.Facilities = visible
	p.state.Total = len(visible)
	p.state.Error = ""
	p.state.UpdatedAt = p.now()
	p.mu.Unlock()
	p.publish()

	metrics.FacilityFetchTotal.WithLabelValues(source, metrics.OutcomeOK).Inc()
	zap.L().Debug("provider: facilities loaded",
		zap.String("source", source),
		zap.Int("count", len(visible)),
	)
	return nil
}

// describe turns a fetch failure into the message shown to users.
func describe(err error) string {
	if resilience.IsTransient(err) {
		return "facility service temporarily unavailable"
	}
	return "failed to load facilities: " + err.Error()
}

// snapshot must be called with mu held.
func (p *Provider) snapshot() State {
	s := p.state
	s.Facilities = append([]facility.Facility(nil), p.state.Facilities...)
	return s
}

// publish sends the current state to subscribers. Holding notifyMu while
// reading the state keeps deliveries in order.
func (p *Provider) publish() {
	p.notifyMu.Lock()
	defer p.notifyMu.Unlock()
	if len(p.subs) == 0 {
		return
	}
	p.mu.Lock()
	s := p.snapshot()
	p.mu.Unlock()
	for _, fn := range p.subs {
		fn(s)
	}
}

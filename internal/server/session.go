package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/incinerator-map/internal/display"
	"github.com/sells-group/incinerator-map/internal/geo"
	"github.com/sells-group/incinerator-map/internal/locate"
	"github.com/sells-group/incinerator-map/internal/metrics"
	"github.com/sells-group/incinerator-map/internal/provider"
	"github.com/sells-group/incinerator-map/pkg/geocode"
)

const (
	// Time allowed to write a message to the client.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the client.
	pongWait = 60 * time.Second

	// Send pings to client with this period. Must be less than pongWait.
	pingPeriod = 15 * time.Second

	// Maximum message size allowed from client.
	maxMessageSize = 4096

	// Outbound fly-to and notice messages buffered per session.
	sendBuffer = 16

	// Half-width in degrees of the view opened around a search match.
	searchPad = 0.05

	// Half-width in degrees and zoom of the view opened around a visitor.
	visitorPad  = 1.5
	visitorZoom = 7
)

var errSessionClosed = errors.New("server: session closed")

// session is one connected map. It implements registry.Handle so camera
// commands reach the browser.
type session struct {
	id       string
	srv      *Server
	conn     *websocket.Conn
	provider *provider.Provider

	ctx    context.Context
	cancel context.CancelFunc
	ops    sync.WaitGroup

	send  chan []byte   // flyTo and notice messages
	dirty chan struct{} // state changed since last write

	mu     sync.Mutex
	filter display.Filter
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		zap.L().Warn("server: websocket upgrade failed", zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(s.sessionsCtx)
	sess := &session{
		id:     uuid.NewString(),
		srv:    s,
		conn:   conn,
		ctx:    ctx,
		cancel: cancel,
		send:   make(chan []byte, sendBuffer),
		dirty:  make(chan struct{}, 1),
	}
	sess.provider = provider.New(s.local, s.remote, s.maps,
		provider.WithMapKey(sess.id),
		provider.WithRegions(s.regions),
		provider.WithClock(s.now),
	)
	sess.run(locate.ParseRemoteAddr(r.RemoteAddr))
}

func (sess *session) run(visitor net.IP) {
	s := sess.srv
	s.maps.Register(sess.id, sess)
	metrics.MapSessions.Inc()
	unsubscribe := sess.provider.Subscribe(func(provider.State) { sess.markDirty() })
	zap.L().Info("server: map session opened", zap.String("session", sess.id))

	defer func() {
		s.maps.Unregister(sess.id)
		unsubscribe()
		sess.cancel()
		sess.ops.Wait()
		metrics.MapSessions.Dec()
		zap.L().Info("server: map session closed", zap.String("session", sess.id))
	}()

	sess.markDirty()
	sess.goDo(func(ctx context.Context) error {
		return sess.provider.Load(ctx, s.useRemote)
	})
	sess.openInitialView(visitor)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		sess.writeLoop()
	}()
	go func() {
		defer wg.Done()
		sess.readLoop()
	}()
	wg.Wait()
}

// openInitialView centers the map near the visitor when their IP can be
// located, otherwise on the configured default region.
func (sess *session) openInitialView(ip net.IP) {
	if p, ok := sess.srv.locator.Locate(ip); ok {
		_ = sess.FlyTo(sess.ctx, geo.Around(p, visitorPad), visitorZoom)
		return
	}
	if sess.srv.defaultRegion == "" {
		return
	}
	if err := sess.provider.FlyToNamedRegion(sess.ctx, sess.srv.defaultRegion); err != nil {
		zap.L().Warn("server: default region", zap.Error(err))
	}
}

// FlyTo implements registry.Handle.
func (sess *session) FlyTo(_ context.Context, bounds geo.BBox, zoom int) error {
	return sess.enqueue(flyToMessage{Type: msgFlyTo, Bounds: bounds, Zoom: zoom})
}

func (sess *session) notice(msg string) {
	if err := sess.enqueue(noticeMessage{Type: msgNotice, Message: msg}); err != nil {
		zap.L().Debug("server: notice dropped", zap.String("session", sess.id), zap.Error(err))
	}
}

func (sess *session) enqueue(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return eris.Wrap(err, "server: encode message")
	}
	if sess.ctx.Err() != nil {
		return errSessionClosed
	}
	select {
	case sess.send <- b:
		return nil
	default:
		return eris.New("server: session send buffer full")
	}
}

func (sess *session) markDirty() {
	select {
	case sess.dirty <- struct{}{}:
	default:
	}
}

// goDo runs a provider call without blocking the read loop. Fetch failures
// already surface through State.Error, so they are only logged.
func (sess *session) goDo(fn func(ctx context.Context) error) {
	sess.ops.Add(1)
	go func() {
		defer sess.ops.Done()
		if err := fn(sess.ctx); err != nil && sess.ctx.Err() == nil {
			zap.L().Debug("server: session operation", zap.String("session", sess.id), zap.Error(err))
		}
	}()
}

func (sess *session) readLoop() {
	defer sess.cancel()

	sess.conn.SetReadLimit(maxMessageSize)
	_ = sess.conn.SetReadDeadline(time.Now().Add(pongWait))
	sess.conn.SetPongHandler(func(string) error {
		return sess.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := sess.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				zap.L().Debug("server: websocket read", zap.String("session", sess.id), zap.Error(err))
			}
			return
		}
		var msg clientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			sess.notice("malformed message")
			continue
		}
		sess.dispatch(msg)
	}
}

func (sess *session) dispatch(msg clientMessage) {
	p := sess.provider
	switch msg.Type {
	case msgViewport:
		if msg.Bounds == nil {
			sess.notice("viewport requires bounds")
			return
		}
		vp := geo.Viewport{Bounds: msg.Bounds.Clamp(), Zoom: msg.Zoom}
		if err := vp.Validate(); err != nil {
			sess.notice("invalid viewport")
			return
		}
		sess.goDo(func(ctx context.Context) error { return p.UpdateViewport(ctx, vp) })

	case msgFilter:
		f, err := display.ParseFilter(strings.Join(msg.Statuses, ","))
		if err != nil {
			sess.notice("unknown status filter")
			return
		}
		sess.mu.Lock()
		sess.filter = f
		sess.mu.Unlock()
		sess.markDirty()

	case msgSource:
		if msg.Remote && sess.srv.remote == nil {
			sess.notice("remote source not configured")
			return
		}
		if msg.Remote {
			sess.goDo(p.SwitchToRemoteAPI)
		} else {
			sess.goDo(p.SwitchToLocalAPI)
		}

	case msgRefetch:
		sess.goDo(p.Refetch)

	case msgSearch:
		query := msg.Query
		sess.goDo(func(ctx context.Context) error { return sess.search(ctx, query) })

	case msgRegion:
		name := msg.Name
		sess.goDo(func(ctx context.Context) error {
			if err := p.FlyToNamedRegion(ctx, name); err != nil {
				sess.notice("unknown region")
				return err
			}
			return nil
		})

	default:
		sess.notice("unknown message type")
	}
}

func (sess *session) search(ctx context.Context, query string) error {
	res, err := sess.srv.geocoder.GeocodeAddress(ctx, query)
	if errors.Is(err, geocode.ErrNotFound) {
		sess.notice("address not found")
		return nil
	}
	if err != nil {
		sess.notice("geocoding service unavailable")
		return err
	}
	sess.provider.FlyToRegion(ctx, geo.Around(geo.Point{Lat: res.Lat, Lng: res.Lng}, searchPad), sess.srv.searchZoom)
	return nil
}

func (sess *session) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		sess.conn.Close() //nolint:errcheck
		sess.cancel()
	}()

	for {
		select {
		case <-sess.ctx.Done():
			_ = sess.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = sess.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case <-ticker.C:
			_ = sess.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sess.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case b := <-sess.send:
			if err := sess.write(b); err != nil {
				return
			}
		case <-sess.dirty:
			// Messages queued before the state change go out first.
			if err := sess.flushSend(); err != nil {
				return
			}
			b, err := json.Marshal(sess.stateMessage())
			if err != nil {
				zap.L().Error("server: encode state", zap.Error(err))
				continue
			}
			if err := sess.write(b); err != nil {
				return
			}
		}
	}
}

func (sess *session) flushSend() error {
	for {
		select {
		case b := <-sess.send:
			if err := sess.write(b); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

func (sess *session) write(b []byte) error {
	_ = sess.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return sess.conn.WriteMessage(websocket.TextMessage, b)
}

func (sess *session) stateMessage() stateMessage {
	st := sess.provider.State()
	sess.mu.Lock()
	filter := sess.filter
	sess.mu.Unlock()

	now := sess.srv.now()
	return stateMessage{
		Type:        msgState,
		Loading:     st.Loading,
		Error:       st.Error,
		Total:       st.Total,
		Loaded:      st.Loaded,
		UsingRemote: st.UsingRemote,
		Region:      st.Region,
		Filter:      filter.Statuses(),
		Markers:     display.Render(st.Facilities, filter, now),
		Summary:     display.Summarize(st.Facilities, now),
	}
}

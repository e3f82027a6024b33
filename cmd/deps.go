package main

import (
	"context"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/incinerator-map/internal/config"
	"github.com/sells-group/incinerator-map/internal/db"
	"github.com/sells-group/incinerator-map/internal/facility"
	"github.com/sells-group/incinerator-map/internal/locate"
	"github.com/sells-group/incinerator-map/internal/provider"
	"github.com/sells-group/incinerator-map/pkg/geocode"
)

// importer is a store that can be seeded from a record file.
type importer interface {
	facility.Store
	Migrate(ctx context.Context) error
	Import(ctx context.Context, fs []facility.Facility) (int, error)
}

// openStore opens the facility store selected by c.Driver. The returned
// close func is always non-nil.
func openStore(ctx context.Context, c config.FacilitiesConfig) (facility.Store, func(), error) {
	switch c.Driver {
	case "", "bundled":
		return facility.Bundled(), func() {}, nil
	case "sqlite":
		s, err := facility.NewSQLite(c.DatabaseURL)
		if err != nil {
			return nil, func() {}, err
		}
		if err := s.Migrate(ctx); err != nil {
			s.Close() //nolint:errcheck
			return nil, func() {}, err
		}
		return s, func() { _ = s.Close() }, nil
	case "postgres":
		pool, err := db.NewPool(ctx, c.DatabaseURL)
		if err != nil {
			return nil, func() {}, err
		}
		return facility.NewPostgresStore(pool), pool.Close, nil
	default:
		return nil, func() {}, eris.Errorf("unknown facilities driver %q", c.Driver)
	}
}

// newRemote returns the remote facility source, or nil when none is configured.
func newRemote(c config.FacilitiesConfig) provider.Source {
	if c.RemoteBaseURL == "" {
		return nil
	}
	return provider.NewRemoteSource(c.RemoteBaseURL, &http.Client{
		Timeout: time.Duration(c.TimeoutSecs) * time.Second,
	})
}

// newGeocoder builds the geocoding client with the configured cache.
func newGeocoder(c config.GeocodeConfig) (geocode.Client, func(), error) {
	cache, closeFn, err := newGeocodeCache(c.Cache)
	if err != nil {
		return nil, closeFn, err
	}
	return geocodeClient(c, cache), closeFn, nil
}

func geocodeClient(c config.GeocodeConfig, cache geocode.Cache) geocode.Client {
	opts := []geocode.Option{
		geocode.WithBaseURL(c.BaseURL),
		geocode.WithUserAgent(c.UserAgent),
		geocode.WithRateLimit(c.RateLimit),
		geocode.WithHTTPClient(&http.Client{Timeout: time.Duration(c.TimeoutSecs) * time.Second}),
	}
	if cache != nil {
		opts = append(opts, geocode.WithCache(cache))
	}
	return geocode.NewClient(opts...)
}

// newGeocodeCache returns the forward-lookup cache, or nil for driver none.
func newGeocodeCache(c config.CacheConfig) (geocode.Cache, func(), error) {
	ttl := time.Duration(c.TTLMinutes) * time.Minute
	switch c.Driver {
	case "", "none":
		return nil, func() {}, nil
	case "memory":
		return geocode.NewMemoryCache(c.MaxEntries, ttl), func() {}, nil
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     c.RedisAddr,
			Password: c.RedisPassword,
			DB:       c.RedisDB,
		})
		return geocode.NewRedisCache(rdb, ttl), func() { _ = rdb.Close() }, nil
	default:
		return nil, func() {}, eris.Errorf("unknown geocode cache driver %q", c.Driver)
	}
}

// newLocator opens the GeoIP database when one is configured.
func newLocator(c config.GeoIPConfig) (locate.Locator, func(), error) {
	if c.DatabasePath == "" {
		return locate.Nop{}, func() {}, nil
	}
	l, err := locate.OpenGeoIP(c.DatabasePath)
	if err != nil {
		return nil, func() {}, err
	}
	zap.L().Info("geoip locator enabled", zap.String("path", c.DatabasePath))
	return l, func() { _ = l.Close() }, nil
}

// deps holds everything serve needs, opened from config.
type deps struct {
	store    facility.Store
	remote   provider.Source
	geocoder geocode.Client
	cache    geocode.Cache
	locator  locate.Locator
	closers  []func()
}

func openDeps(ctx context.Context, c *config.Config) (*deps, error) {
	d := &deps{remote: newRemote(c.Facilities)}

	store, closeStore, err := openStore(ctx, c.Facilities)
	if err != nil {
		return nil, eris.Wrap(err, "open facility store")
	}
	d.store = store
	d.closers = append(d.closers, closeStore)

	cache, closeCache, err := newGeocodeCache(c.Geocode.Cache)
	if err != nil {
		d.Close()
		return nil, err
	}
	d.cache = cache
	d.geocoder = geocodeClient(c.Geocode, cache)
	d.closers = append(d.closers, closeCache)

	loc, closeLocator, err := newLocator(c.GeoIP)
	if err != nil {
		d.Close()
		return nil, eris.Wrap(err, "open geoip database")
	}
	d.locator = loc
	d.closers = append(d.closers, closeLocator)

	return d, nil
}

// Close releases resources in reverse order of acquisition.
func (d *deps) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
}

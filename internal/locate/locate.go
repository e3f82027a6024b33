// Package locate estimates a visitor's position from their IP address so a
// new map can open near them.
package locate

import (
	"net"

	"github.com/oschwald/geoip2-golang"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/incinerator-map/internal/geo"
)

// Locator resolves an IP address to an approximate point.
type Locator interface {
	Locate(ip net.IP) (geo.Point, bool)
}

// Nop never finds a location.
type Nop struct{}

// Locate implements Locator.
func (Nop) Locate(net.IP) (geo.Point, bool) { return geo.Point{}, false }

type cityReader interface {
	City(ip net.IP) (*geoip2.City, error)
	Close() error
}

// GeoIPLocator reads a MaxMind GeoIP2/GeoLite2 City database.
type GeoIPLocator struct {
	db cityReader
}

// OpenGeoIP opens the database at path.
func OpenGeoIP(path string) (*GeoIPLocator, error) {
	db, err := geoip2.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "locate: open geoip database %s", path)
	}
	return &GeoIPLocator{db: db}, nil
}

// Locate implements Locator. Private and unknown addresses are not found.
func (l *GeoIPLocator) Locate(ip net.IP) (geo.Point, bool) {
	if ip == nil || ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() {
		return geo.Point{}, false
	}
	rec, err := l.db.City(ip)
	if err != nil {
		zap.L().Debug("locate: lookup failed", zap.Stringer("ip", ip), zap.Error(err))
		return geo.Point{}, false
	}
	lat, lng := rec.Location.Latitude, rec.Location.Longitude
	if (lat == 0 && lng == 0) || !geo.ValidPoint(lat, lng) {
		return geo.Point{}, false
	}
	return geo.Point{Lat: lat, Lng: lng}, true
}

// Close releases the database.
func (l *GeoIPLocator) Close() error {
	return l.db.Close()
}

// ParseRemoteAddr extracts the IP from an http.Request RemoteAddr, which may
// or may not carry a port.
func ParseRemoteAddr(addr string) net.IP {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	return net.ParseIP(addr)
}

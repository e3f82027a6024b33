// Package facility defines the incinerator facility record, its derived
// operational status, and the stores that serve facility lists.
package facility

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/incinerator-map/internal/geo"
)

// Status is the rendered operational status of a facility.
type Status string

// Rendered statuses.
const (
	StatusOperational    Status = "operational"
	StatusPlanned        Status = "planned"
	StatusNonOperational Status = "non-operational"
)

// Statuses lists every status in display order.
var Statuses = []Status{StatusOperational, StatusPlanned, StatusNonOperational}

// ParseStatus accepts a status name, case-insensitively.
func ParseStatus(s string) (Status, error) {
	switch Status(strings.ToLower(strings.TrimSpace(s))) {
	case StatusOperational:
		return StatusOperational, nil
	case StatusPlanned:
		return StatusPlanned, nil
	case StatusNonOperational:
		return StatusNonOperational, nil
	default:
		return "", eris.Errorf("facility: unknown status %q", s)
	}
}

// Facility is one incinerator record as served by /incinerators.
type Facility struct {
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	Latitude        *float64          `json:"latitude,omitempty"`
	Longitude       *float64          `json:"longitude,omitempty"`
	Address         string            `json:"address,omitempty"`
	Description     string            `json:"description,omitempty"`
	Capacity        *float64          `json:"capacity,omitempty"` // tons/year
	Operational     bool              `json:"operational"`
	YearEstablished *int              `json:"year_established,omitempty"`
	Boundary        json.RawMessage   `json:"boundary,omitempty"`  // GeoJSON Polygon/MultiPolygon
	Buildings       []json.RawMessage `json:"buildings,omitempty"` // GeoJSON geometries
}

// HasValidPoint reports whether the record carries a renderable coordinate.
func (f Facility) HasValidPoint() bool {
	if f.Latitude == nil || f.Longitude == nil {
		return false
	}
	return geo.ValidPoint(*f.Latitude, *f.Longitude)
}

// Point returns the facility coordinate. ok is false when the record has no
// valid point.
func (f Facility) Point() (geo.Point, bool) {
	if !f.HasValidPoint() {
		return geo.Point{}, false
	}
	return geo.Point{Lat: *f.Latitude, Lng: *f.Longitude}, true
}

// DeriveStatus maps the operational flag and establishment year to a status:
// operational wins regardless of year, a future year means planned, anything
// else is non-operational.
func DeriveStatus(f Facility, now time.Time) Status {
	if f.Operational {
		return StatusOperational
	}
	if f.YearEstablished != nil && *f.YearEstablished > now.Year() {
		return StatusPlanned
	}
	return StatusNonOperational
}

// Validate checks identity and, when present, coordinates and geometry.
// A record without coordinates is valid; it is simply not rendered.
func (f Facility) Validate() error {
	if strings.TrimSpace(f.ID) == "" {
		return eris.New("facility: missing id")
	}
	if strings.TrimSpace(f.Name) == "" {
		return eris.Errorf("facility %s: missing name", f.ID)
	}
	if (f.Latitude == nil) != (f.Longitude == nil) {
		return eris.Errorf("facility %s: latitude and longitude must be set together", f.ID)
	}
	if f.Latitude != nil && !f.HasValidPoint() {
		return eris.Errorf("facility %s: coordinate out of range (%f, %f)", f.ID, *f.Latitude, *f.Longitude)
	}
	if f.Capacity != nil && *f.Capacity < 0 {
		return eris.Errorf("facility %s: negative capacity", f.ID)
	}
	if _, err := f.BoundaryGeometry(); err != nil {
		return eris.Wrapf(err, "facility %s", f.ID)
	}
	if _, err := f.BuildingGeometries(); err != nil {
		return eris.Wrapf(err, "facility %s", f.ID)
	}
	return nil
}

// InBBox reports whether the facility has a valid point inside b.
func (f Facility) InBBox(b geo.BBox) bool {
	p, ok := f.Point()
	return ok && b.Contains(p.Lat, p.Lng)
}

// FilterBBox returns the facilities whose point falls inside b, keeping order.
func FilterBBox(fs []Facility, b geo.BBox) []Facility {
	out := make([]Facility, 0, len(fs))
	for _, f := range fs {
		if f.InBBox(b) {
			out = append(out, f)
		}
	}
	return out
}

// Float is a helper for building optional numeric fields.
func Float(v float64) *float64 { return &v }

// Int is a helper for building optional integer fields.
func Int(v int) *int { return &v }

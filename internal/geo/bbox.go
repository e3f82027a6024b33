// Package geo provides the geographic primitives shared by the facility
// stores, the data provider and the map display: points, bounding boxes,
// viewports and the named-region catalog.
package geo

import (
	"fmt"
	"math"

	"github.com/rotisserie/eris"
)

// Zoom limits accepted for a viewport.
const (
	MinZoom = 0
	MaxZoom = 22
)

// Point is a WGS84 coordinate in decimal degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// ValidPoint reports whether lat/lng are finite and inside the WGS84 range.
func ValidPoint(lat, lng float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lng) || math.IsInf(lat, 0) || math.IsInf(lng, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}

// BBox is a rectangular region. No anti-meridian handling: East must be
// greater than West.
type BBox struct {
	North float64 `json:"north"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	West  float64 `json:"west"`
}

// Validate checks ordering and range of the box edges.
func (b BBox) Validate() error {
	if !ValidPoint(b.North, b.East) || !ValidPoint(b.South, b.West) {
		return eris.Errorf("geo: bbox out of range %s", b)
	}
	if b.North <= b.South {
		return eris.Errorf("geo: bbox north %.6f must be greater than south %.6f", b.North, b.South)
	}
	if b.East <= b.West {
		return eris.Errorf("geo: bbox east %.6f must be greater than west %.6f", b.East, b.West)
	}
	return nil
}

// Contains reports whether the point lies inside the box, edges included.
func (b BBox) Contains(lat, lng float64) bool {
	return lat <= b.North && lat >= b.South && lng <= b.East && lng >= b.West
}

// Center returns the midpoint of the box.
func (b BBox) Center() Point {
	return Point{Lat: (b.North + b.South) / 2, Lng: (b.East + b.West) / 2}
}

// String formats the box as n,s,e,w.
func (b BBox) String() string {
	return fmt.Sprintf("%.6f,%.6f,%.6f,%.6f", b.North, b.South, b.East, b.West)
}

// Clamp limits the edges to the valid coordinate range. A zoomed-out web map
// reports longitudes past the antimeridian.
func (b BBox) Clamp() BBox {
	return BBox{
		North: math.Max(math.Min(b.North, 90), -90),
		South: math.Max(math.Min(b.South, 90), -90),
		East:  math.Max(math.Min(b.East, 180), -180),
		West:  math.Max(math.Min(b.West, 180), -180),
	}
}

// Around returns a box of +/- pad degrees centered on p, clamped to the
// valid coordinate range.
func Around(p Point, pad float64) BBox {
	return BBox{
		North: math.Min(p.Lat+pad, 90),
		South: math.Max(p.Lat-pad, -90),
		East:  math.Min(p.Lng+pad, 180),
		West:  math.Max(p.Lng-pad, -180),
	}
}

// Viewport is the visible map region plus the zoom level.
type Viewport struct {
	Bounds BBox `json:"bounds"`
	Zoom   int  `json:"zoom"`
}

// Validate checks the bounds and zoom range.
func (v Viewport) Validate() error {
	if err := v.Bounds.Validate(); err != nil {
		return err
	}
	if v.Zoom < MinZoom || v.Zoom > MaxZoom {
		return eris.Errorf("geo: zoom %d outside [%d,%d]", v.Zoom, MinZoom, MaxZoom)
	}
	return nil
}

// Key identifies a viewport request for de-duplication. Bounds are rounded
// to six decimals (~0.1m) so float noise from the client does not defeat it.
func (v Viewport) Key() string {
	return fmt.Sprintf("%s@%d", v.Bounds, v.Zoom)
}

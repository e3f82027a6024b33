package facility

import (
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
)

// BoundaryGeometry decodes the boundary polygon. It returns nil, nil when the
// record has no boundary.
func (f Facility) BoundaryGeometry() (geom.T, error) {
	if len(f.Boundary) == 0 || string(f.Boundary) == "null" {
		return nil, nil
	}
	var g geom.T
	if err := geojson.Unmarshal(f.Boundary, &g); err != nil {
		return nil, eris.Wrap(err, "facility: decode boundary")
	}
	switch g.(type) {
	case *geom.Polygon, *geom.MultiPolygon:
		return g, nil
	default:
		return nil, eris.Errorf("facility: boundary must be Polygon or MultiPolygon, got %T", g)
	}
}

// BuildingGeometries decodes the sub-building shapes.
func (f Facility) BuildingGeometries() ([]geom.T, error) {
	if len(f.Buildings) == 0 {
		return nil, nil
	}
	out := make([]geom.T, 0, len(f.Buildings))
	for i, raw := range f.Buildings {
		var g geom.T
		if err := geojson.Unmarshal(raw, &g); err != nil {
			return nil, eris.Wrapf(err, "facility: decode building %d", i)
		}
		out = append(out, g)
	}
	return out, nil
}

// Extent returns the bounds covering the point, boundary and buildings.
// ok is false when the record has no spatial data at all.
func (f Facility) Extent() (*geom.Bounds, bool) {
	b := geom.NewBounds(geom.XY)
	if p, ok := f.Point(); ok {
		b.Extend(geom.NewPointFlat(geom.XY, []float64{p.Lng, p.Lat}))
	}
	if g, err := f.BoundaryGeometry(); err == nil && g != nil {
		b.Extend(g)
	}
	if gs, err := f.BuildingGeometries(); err == nil {
		for _, g := range gs {
			b.Extend(g)
		}
	}
	if b.IsEmpty() {
		return nil, false
	}
	return b, true
}

package display

import (
	"encoding/json"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"

	"github.com/sells-group/incinerator-map/internal/facility"
)

// Boundaries encodes every facility boundary and building as a GeoJSON
// FeatureCollection. Records with undecodable shapes are skipped.
func Boundaries(fs []facility.Facility) ([]byte, error) {
	fc := geojson.FeatureCollection{Features: []*geojson.Feature{}}
	for _, f := range fs {
		boundary, err := f.BoundaryGeometry()
		if err != nil {
			zap.L().Warn("display: skipping boundary", zap.String("facility_id", f.ID), zap.Error(err))
			continue
		}
		buildings, err := f.BuildingGeometries()
		if err != nil {
			zap.L().Warn("display: skipping buildings", zap.String("facility_id", f.ID), zap.Error(err))
			buildings = nil
		}

		if boundary != nil {
			fc.Features = append(fc.Features, feature(f, f.ID+"/boundary", "boundary", boundary))
		}
		for i, b := range buildings {
			id := f.ID + "/building/" + strconv.Itoa(i)
			fc.Features = append(fc.Features, feature(f, id, "building", b))
		}
	}

	out, err := json.Marshal(&fc)
	if err != nil {
		return nil, eris.Wrap(err, "display: encode boundaries")
	}
	return out, nil
}

func feature(f facility.Facility, id, kind string, g geom.T) *geojson.Feature {
	return &geojson.Feature{
		ID:       id,
		Geometry: g,
		Properties: map[string]interface{}{
			"facility_id": f.ID,
			"name":        f.Name,
			"kind":        kind,
		},
	}
}

package facility

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/rotisserie/eris"

	"github.com/sells-group/incinerator-map/internal/geo"
)

// ErrNotFound is returned by Get when no facility has the requested id.
var ErrNotFound = errors.New("facility: not found")

// Store serves facility lists, optionally filtered to a bounding box.
type Store interface {
	// List returns all facilities, or only those inside bbox when it is non-nil.
	List(ctx context.Context, bbox *geo.BBox) ([]Facility, error)

	// Get returns one facility by id or ErrNotFound.
	Get(ctx context.Context, id string) (*Facility, error)
}

// LoadJSON decodes and validates a JSON array of facility records.
func LoadJSON(r io.Reader) ([]Facility, error) {
	var fs []Facility
	if err := json.NewDecoder(r).Decode(&fs); err != nil {
		return nil, eris.Wrap(err, "facility: decode json")
	}
	seen := make(map[string]bool, len(fs))
	for _, f := range fs {
		if err := f.Validate(); err != nil {
			return nil, err
		}
		if seen[f.ID] {
			return nil, eris.Errorf("facility: duplicate id %q", f.ID)
		}
		seen[f.ID] = true
	}
	return fs, nil
}

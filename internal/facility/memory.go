package facility

import (
	"bytes"
	"context"
	_ "embed"

	"github.com/sells-group/incinerator-map/internal/geo"
)

//go:embed incinerators.json
var bundledFacilities []byte

// MemoryStore serves a fixed facility list held in memory.
type MemoryStore struct {
	facilities []Facility
	byID       map[string]int
}

// NewMemoryStore builds a store over fs. The slice is copied.
func NewMemoryStore(fs []Facility) *MemoryStore {
	s := &MemoryStore{
		facilities: append([]Facility(nil), fs...),
		byID:       make(map[string]int, len(fs)),
	}
	for i, f := range s.facilities {
		s.byID[f.ID] = i
	}
	return s
}

// Bundled returns the store over the facility list compiled into the binary.
func Bundled() *MemoryStore {
	fs, err := LoadJSON(bytes.NewReader(bundledFacilities))
	if err != nil {
		panic(err) // bundled file is covered by tests
	}
	return NewMemoryStore(fs)
}

// List implements Store.
func (s *MemoryStore) List(_ context.Context, bbox *geo.BBox) ([]Facility, error) {
	if bbox == nil {
		return append([]Facility(nil), s.facilities...), nil
	}
	return FilterBBox(s.facilities, *bbox), nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, id string) (*Facility, error) {
	i, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	f := s.facilities[i]
	return &f, nil
}

// Len returns the number of facilities held.
func (s *MemoryStore) Len() int { return len(s.facilities) }

package geo

import (
	"bytes"
	_ "embed"
	"io"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

//go:embed regions.yaml
var bundledRegions []byte

// Region is a named area the map can be sent to.
type Region struct {
	Name   string `yaml:"name" json:"name"`
	Label  string `yaml:"label" json:"label"`
	Bounds BBox   `yaml:"bounds" json:"bounds"`
	Zoom   int    `yaml:"zoom" json:"zoom"`
}

// Catalog is a lookup of regions by case-insensitive name.
type Catalog struct {
	byName map[string]Region
}

type regionFile struct {
	Regions []Region `yaml:"regions"`
}

// LoadRegions decodes a YAML region list and validates every entry.
func LoadRegions(r io.Reader) (*Catalog, error) {
	var f regionFile
	if err := yaml.NewDecoder(r).Decode(&f); err != nil {
		return nil, eris.Wrap(err, "geo: decode regions")
	}

	c := &Catalog{byName: make(map[string]Region, len(f.Regions))}
	for _, reg := range f.Regions {
		key := strings.ToLower(strings.TrimSpace(reg.Name))
		if key == "" {
			return nil, eris.New("geo: region with empty name")
		}
		if _, dup := c.byName[key]; dup {
			return nil, eris.Errorf("geo: duplicate region %q", reg.Name)
		}
		if err := (Viewport{Bounds: reg.Bounds, Zoom: reg.Zoom}).Validate(); err != nil {
			return nil, eris.Wrapf(err, "geo: region %q", reg.Name)
		}
		if reg.Label == "" {
			reg.Label = reg.Name
		}
		c.byName[key] = reg
	}
	return c, nil
}

// DefaultRegions returns the catalog bundled with the binary.
func DefaultRegions() *Catalog {
	c, err := LoadRegions(bytes.NewReader(bundledRegions))
	if err != nil {
		panic(err) // bundled file is covered by tests
	}
	return c
}

// Lookup finds a region by name.
func (c *Catalog) Lookup(name string) (Region, bool) {
	if c == nil {
		return Region{}, false
	}
	r, ok := c.byName[strings.ToLower(strings.TrimSpace(name))]
	return r, ok
}

// All returns the regions sorted by name.
func (c *Catalog) All() []Region {
	if c == nil {
		return nil
	}
	out := make([]Region, 0, len(c.byName))
	for _, r := range c.byName {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

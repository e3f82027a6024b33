package display

import (
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/incinerator-map/internal/facility"
)

// Filter selects facilities by status. The zero Filter accepts everything.
type Filter struct {
	statuses map[facility.Status]struct{}
}

// NewFilter accepts only the given statuses.
func NewFilter(statuses ...facility.Status) Filter {
	if len(statuses) == 0 {
		return Filter{}
	}
	f := Filter{statuses: make(map[facility.Status]struct{}, len(statuses))}
	for _, s := range statuses {
		f.statuses[s] = struct{}{}
	}
	return f
}

// ParseFilter parses a comma-separated status list such as
// "operational,planned". Blank input yields the accept-all filter.
func ParseFilter(s string) (Filter, error) {
	var statuses []facility.Status
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		st, err := facility.ParseStatus(part)
		if err != nil {
			return Filter{}, eris.Wrap(err, "display: parse filter")
		}
		statuses = append(statuses, st)
	}
	return NewFilter(statuses...), nil
}

// Allows reports whether s passes the filter.
func (f Filter) Allows(s facility.Status) bool {
	if len(f.statuses) == 0 {
		return true
	}
	_, ok := f.statuses[s]
	return ok
}

// Statuses returns the accepted statuses in display order, or nil for the
// accept-all filter.
func (f Filter) Statuses() []facility.Status {
	if len(f.statuses) == 0 {
		return nil
	}
	var out []facility.Status
	for _, s := range facility.Statuses {
		if _, ok := f.statuses[s]; ok {
			out = append(out, s)
		}
	}
	return out
}

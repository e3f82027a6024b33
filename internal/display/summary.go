package display

import (
	"time"

	"github.com/sells-group/incinerator-map/internal/facility"
)

// Summary counts facilities per status.
type Summary struct {
	Total          int `json:"total"`
	Operational    int `json:"operational"`
	Planned        int `json:"planned"`
	NonOperational int `json:"non_operational"`
	Unplaced       int `json:"unplaced"` // no valid coordinate
}

// Summarize counts fs by derived status.
func Summarize(fs []facility.Facility, now time.Time) Summary {
	s := Summary{Total: len(fs)}
	for _, f := range fs {
		switch facility.DeriveStatus(f, now) {
		case facility.StatusOperational:
			s.Operational++
		case facility.StatusPlanned:
			s.Planned++
		default:
			s.NonOperational++
		}
		if !f.HasValidPoint() {
			s.Unplaced++
		}
	}
	return s
}

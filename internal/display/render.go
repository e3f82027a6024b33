// Package display turns facility records into what a map draws: markers with
// popups, boundary shapes and per-status counts.
package display

import (
	"strconv"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/sells-group/incinerator-map/internal/facility"
)

// Marker is one pin on the map.
type Marker struct {
	ID     string          `json:"id"`
	Lat    float64         `json:"lat"`
	Lng    float64         `json:"lng"`
	Status facility.Status `json:"status"`
	Popup  Popup           `json:"popup"`
}

// Popup is the detail card shown when a marker is clicked. Empty fields are
// left out of the card.
type Popup struct {
	Name        string          `json:"name"`
	Address     string          `json:"address,omitempty"`
	Description string          `json:"description,omitempty"`
	Capacity    string          `json:"capacity,omitempty"`
	Year        string          `json:"year,omitempty"`
	Status      facility.Status `json:"status"`
}

var numberPrinter = message.NewPrinter(language.English)

// Render builds a marker for every facility with a valid coordinate that
// passes filter, preserving input order.
func Render(fs []facility.Facility, filter Filter, now time.Time) []Marker {
	markers := make([]Marker, 0, len(fs))
	for _, f := range fs {
		p, ok := f.Point()
		if !ok {
			continue
		}
		status := facility.DeriveStatus(f, now)
		if !filter.Allows(status) {
			continue
		}
		markers = append(markers, Marker{
			ID:     f.ID,
			Lat:    p.Lat,
			Lng:    p.Lng,
			Status: status,
			Popup:  popupFor(f, status),
		})
	}
	return markers
}

func popupFor(f facility.Facility, status facility.Status) Popup {
	pop := Popup{
		Name:        f.Name,
		Address:     f.Address,
		Description: f.Description,
		Status:      status,
	}
	if f.Capacity != nil {
		pop.Capacity = FormatCapacity(*f.Capacity)
	}
	if f.YearEstablished != nil {
		pop.Year = strconv.Itoa(*f.YearEstablished)
	}
	return pop
}

// FormatCapacity renders an annual capacity such as "985,000 tons/year".
func FormatCapacity(tons float64) string {
	return numberPrinter.Sprintf("%.0f tons/year", tons)
}

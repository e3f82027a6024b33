package server

import (
	"github.com/sells-group/incinerator-map/internal/display"
	"github.com/sells-group/incinerator-map/internal/facility"
	"github.com/sells-group/incinerator-map/internal/geo"
)

// Websocket message types.
const (
	msgViewport = "viewport"
	msgFilter   = "filter"
	msgSource   = "source"
	msgRefetch  = "refetch"
	msgSearch   = "search"
	msgRegion   = "region"

	msgState  = "state"
	msgFlyTo  = "flyTo"
	msgNotice = "notice"
)

// clientMessage is any message a browser sends; Type selects which fields
// are read.
type clientMessage struct {
	Type     string    `json:"type"`
	Bounds   *geo.BBox `json:"bounds,omitempty"`
	Zoom     int       `json:"zoom,omitempty"`
	Statuses []string  `json:"statuses,omitempty"`
	Remote   bool      `json:"remote,omitempty"`
	Query    string    `json:"query,omitempty"`
	Name     string    `json:"name,omitempty"`
}

type stateMessage struct {
	Type        string            `json:"type"`
	Loading     bool              `json:"loading"`
	Error       string            `json:"error,omitempty"`
	Total       int               `json:"total"`
	Loaded      int               `json:"loaded"`
	UsingRemote bool              `json:"using_remote"`
	Region      string            `json:"region,omitempty"`
	Filter      []facility.Status `json:"filter,omitempty"`
	Markers     []display.Marker  `json:"markers"`
	Summary     display.Summary   `json:"summary"`
}

type flyToMessage struct {
	Type   string   `json:"type"`
	Bounds geo.BBox `json:"bounds"`
	Zoom   int      `json:"zoom"`
}

type noticeMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

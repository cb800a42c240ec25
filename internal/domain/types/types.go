// Package types contains the JSON wire types shared by the HTTP API, the
// fixture loader and the load-test client.
package types

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/okian/geoheat/internal/domain/model"
)

// ErrInvalidPayload marks a request body that cannot be turned into events.
var ErrInvalidPayload = errors.New("invalid event payload")

// Event is the wire form of model.Event.
type Event struct {
	EventID   string            `json:"event_id"`
	EventType string            `json:"event_type"`
	Timestamp string            `json:"timestamp"`
	Latitude  *float64          `json:"latitude"`
	Longitude *float64          `json:"longitude"`
	CityID    string            `json:"city_id"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// EventsRequest is the body of POST /events.
type EventsRequest struct {
	Events []Event `json:"events"`
}

// ToModel parses the wire event. Missing coordinates are rejected here
// because the zero value would be a valid location.
func (e *Event) ToModel() (model.Event, error) {
	if e.Latitude == nil || e.Longitude == nil {
		return model.Event{}, fmt.Errorf("%w: latitude and longitude are required", ErrInvalidPayload)
	}
	ts, err := model.ParseTimestamp(e.Timestamp)
	if err != nil {
		return model.Event{}, fmt.Errorf("%w: timestamp %q: %w", ErrInvalidPayload, e.Timestamp, err)
	}
	return model.Event{
		EventID:   e.EventID,
		EventType: e.EventType,
		Timestamp: ts,
		Latitude:  *e.Latitude,
		Longitude: *e.Longitude,
		CityID:    e.CityID,
		Metadata:  e.Metadata,
	}, nil
}

// FromModel renders a model event on the wire.
func FromModel(e model.Event) Event { //nolint:gocritic // hugeParam: value in, value out
	lat, lon := e.Latitude, e.Longitude
	return Event{
		EventID:   e.EventID,
		EventType: e.EventType,
		Timestamp: model.FormatTimestamp(e.Timestamp),
		Latitude:  &lat,
		Longitude: &lon,
		CityID:    e.CityID,
		Metadata:  e.Metadata,
	}
}

// DecodeEvents accepts either {"events":[...]} or a bare JSON array and
// converts every element. The first bad element fails the whole batch.
func DecodeEvents(data []byte) ([]model.Event, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrInvalidPayload)
	}

	var wire []Event
	if data[0] == '[' {
		if err := json.Unmarshal(data, &wire); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
		}
	} else {
		var req EventsRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
		}
		wire = req.Events
	}
	if len(wire) == 0 {
		return nil, fmt.Errorf("%w: request must include a non-empty events list", ErrInvalidPayload)
	}

	events := make([]model.Event, 0, len(wire))
	for i := range wire {
		e, err := wire[i].ToModel()
		if err != nil {
			return nil, fmt.Errorf("events[%d]: %w", i, err)
		}
		events = append(events, e)
	}
	return events, nil
}

// IngestResponse is the body returned by POST /events.
type IngestResponse struct {
	Processed      model.Counts      `json:"processed"`
	UpdatedWindows map[string]string `json:"updated_windows"`
}

// NewIngestResponse renders counts and touched windows.
func NewIngestResponse(counts model.Counts, windows map[model.WindowKey]time.Time) IngestResponse {
	return IngestResponse{Processed: counts, UpdatedWindows: WindowMap(windows)}
}

// Tile is the wire form of model.Tile.
type Tile struct {
	Layer             string           `json:"layer"`
	Zoom              int              `json:"zoom"`
	WindowSizeSeconds int              `json:"window_size_seconds"`
	WindowStart       string           `json:"window_start"`
	GeneratedAt       string           `json:"generated_at"`
	Cells             []model.TileCell `json:"cells"`
}

// FromTile renders a tile on the wire. Cells is never null.
func FromTile(t *model.Tile) Tile {
	cells := t.Cells
	if cells == nil {
		cells = []model.TileCell{}
	}
	return Tile{
		Layer:             string(t.Layer),
		Zoom:              t.Zoom,
		WindowSizeSeconds: t.WindowSizeSeconds,
		WindowStart:       model.FormatTimestamp(t.WindowStart),
		GeneratedAt:       model.FormatTimestamp(t.GeneratedAt),
		Cells:             cells,
	}
}

// BackgroundIngestion describes the synthetic ingestion loop.
type BackgroundIngestion struct {
	IntervalSeconds float64 `json:"interval_seconds"`
	BatchSize       int     `json:"batch_size"`
	Active          bool    `json:"active"`
}

// Status is the body of GET /status.
type Status struct {
	Metrics             model.Counts         `json:"metrics"`
	LatestWindows       map[string]string    `json:"latest_windows"`
	LastIngestAt        *string              `json:"last_ingest_at"`
	BackgroundIngestion *BackgroundIngestion `json:"background_ingestion"`
}

// Error is the body of every non-2xx response.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WindowMap renders window keys as "layer:zoom:size" -> naive ISO start.
func WindowMap(windows map[model.WindowKey]time.Time) map[string]string {
	out := make(map[string]string, len(windows))
	for k, v := range windows {
		out[k.String()] = model.FormatTimestamp(v)
	}
	return out
}

// SortedWindowKeys returns the keys of m in lexical order.
func SortedWindowKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

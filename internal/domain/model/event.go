// Package model contains domain models passed between layers.
package model

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// Layer names a category of spatial signal.
type Layer string

// Known layers.
const (
	LayerDemand Layer = "demand"
	LayerSupply Layer = "supply"
)

// EventTypeRideRequest is the only event type classified as demand.
const EventTypeRideRequest = "ride_request"

// ErrInvalidEvent marks events rejected by Validate.
var ErrInvalidEvent = errors.New("invalid event")

// Event is a raw geo-tagged event emitted by upstream publishers.
type Event struct {
	EventID   string            // unique id for deduplication
	EventType string            // e.g. "ride_request", "driver_ping"
	Timestamp time.Time         // UTC, no zone semantics after parsing
	Latitude  float64           // degrees
	Longitude float64           // degrees
	CityID    string            // city identifier
	Metadata  map[string]string // free-form publisher metadata
}

// Validate reports whether the event carries every required field.
func (e *Event) Validate() error {
	switch {
	case strings.TrimSpace(e.EventID) == "":
		return fmt.Errorf("%w: missing event_id", ErrInvalidEvent)
	case strings.TrimSpace(e.EventType) == "":
		return fmt.Errorf("%w: missing event_type", ErrInvalidEvent)
	case strings.TrimSpace(e.CityID) == "":
		return fmt.Errorf("%w: missing city_id", ErrInvalidEvent)
	case e.Timestamp.IsZero():
		return fmt.Errorf("%w: missing timestamp", ErrInvalidEvent)
	case !isFinite(e.Latitude) || !isFinite(e.Longitude):
		return fmt.Errorf("%w: coordinates must be finite", ErrInvalidEvent)
	}
	return nil
}

// NormalizedEvent is an Event projected onto a single zoom level.
type NormalizedEvent struct {
	EventID   string
	EventType string
	Timestamp time.Time
	CityID    string
	CellID    string
	ZoomLevel int
	Layer     Layer
}

// ClassifyLayer derives the layer from an event type.
func ClassifyLayer(eventType string) Layer {
	if eventType == EventTypeRideRequest {
		return LayerDemand
	}
	return LayerSupply
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

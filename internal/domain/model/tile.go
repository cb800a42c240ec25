package model

import (
	"errors"
	"strings"
	"time"
)

// TimestampLayout is the naive ISO-8601 layout used on the wire.
const TimestampLayout = "2006-01-02T15:04:05"

// ErrInvalidTimestamp is returned when a timestamp cannot be parsed.
var ErrInvalidTimestamp = errors.New("invalid timestamp")

// naiveLayouts are tried after RFC3339 fails.
var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
}

// TileCell is one populated cell of a tile.
type TileCell struct {
	CellID string `json:"cell_id"`
	Count  int    `json:"count"`
}

// Tile is the materialized view of every cell for one TileKey.
type Tile struct {
	Layer             Layer
	Zoom              int
	WindowSizeSeconds int
	WindowStart       time.Time
	GeneratedAt       time.Time
	Cells             []TileCell
}

// Key returns the cache key of the tile.
func (t *Tile) Key() TileKey {
	return TileKey{Layer: t.Layer, Zoom: t.Zoom, WindowSize: t.WindowSizeSeconds, WindowStart: t.WindowStart}
}

// ParseTimestamp accepts RFC3339 (converted to UTC) or a naive ISO-8601
// value read as UTC. The result carries no zone beyond UTC.
func ParseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, ErrInvalidTimestamp
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts.UTC(), nil
	}
	for _, layout := range naiveLayouts {
		if ts, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, ErrInvalidTimestamp
}

// FormatTimestamp renders ts as naive ISO-8601 in UTC.
func FormatTimestamp(ts time.Time) string {
	return ts.UTC().Format(TimestampLayout)
}

package model

import (
	"strconv"
	"time"
)

// AggregateDelta carries the current cumulative count for one cell/window key.
type AggregateDelta struct {
	Layer       Layer
	ZoomLevel   int
	CellID      string
	WindowSize  int // seconds
	WindowStart time.Time
	Count       int
}

// CellKey identifies a single counter.
type CellKey struct {
	Layer       Layer
	Zoom        int
	CellID      string
	WindowSize  int
	WindowStart time.Time
}

// TileKey identifies every cell contributing to one tile.
type TileKey struct {
	Layer       Layer
	Zoom        int
	WindowSize  int
	WindowStart time.Time
}

// WindowKey identifies a stream of windows for one layer, zoom and size.
type WindowKey struct {
	Layer      Layer
	Zoom       int
	WindowSize int
}

// String renders the key as "<layer>:<zoom>:<window_size>".
func (k WindowKey) String() string {
	return string(k.Layer) + ":" + strconv.Itoa(k.Zoom) + ":" + strconv.Itoa(k.WindowSize)
}

// Key returns the counter key of the delta.
func (d AggregateDelta) Key() CellKey {
	return CellKey{
		Layer:       d.Layer,
		Zoom:        d.ZoomLevel,
		CellID:      d.CellID,
		WindowSize:  d.WindowSize,
		WindowStart: d.WindowStart,
	}
}

// TileKey returns the key of the tile the delta contributes to.
func (d AggregateDelta) TileKey() TileKey {
	return TileKey{
		Layer:       d.Layer,
		Zoom:        d.ZoomLevel,
		WindowSize:  d.WindowSize,
		WindowStart: d.WindowStart,
	}
}

// WindowKey returns the window stream the delta belongs to.
func (d AggregateDelta) WindowKey() WindowKey {
	return WindowKey{Layer: d.Layer, Zoom: d.ZoomLevel, WindowSize: d.WindowSize}
}

// WindowStart floors ts to the start of its tumbling window of size seconds.
// Times are handled in UTC; size must be positive.
func WindowStart(ts time.Time, size int) time.Time {
	epoch := ts.Unix()
	s := int64(size)
	q := epoch / s
	if epoch%s != 0 && epoch < 0 {
		q--
	}
	return time.Unix(q*s, 0).UTC()
}

// Counts tracks how many items passed through each processing step.
type Counts struct {
	Raw        int `json:"raw"`
	Normalized int `json:"normalized"`
	Deltas     int `json:"deltas"`
	Persisted  int `json:"persisted"`
}

// Add accumulates other into c.
func (c *Counts) Add(other Counts) {
	c.Raw += other.Raw
	c.Normalized += other.Normalized
	c.Deltas += other.Deltas
	c.Persisted += other.Persisted
}

// IsZero reports whether nothing was counted.
func (c Counts) IsZero() bool {
	return c == Counts{}
}

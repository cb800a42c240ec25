// Package grid maps coordinates onto a deterministic multi-resolution grid.
//
// The grid is a plain lat/lon quantization. Resolution is constant up to
// zoom 8 and doubles with every zoom level above it, up to MaxZoom.
package grid

import (
	"math"
	"strconv"
)

// Default grid configuration constants.
const (
	defaultBaseCellSize = 0.05 // degrees at zoom <= baseZoom
	baseZoom            = 8
)

// MaxZoom is the finest supported zoom level. Deeper zooms reuse its cell size.
const MaxZoom = 30

// Indexer computes cell ids. It holds no mutable state and is safe for
// concurrent use.
type Indexer struct {
	baseCellSize float64
}

// New creates an Indexer with configuration options.
func New(opts ...Option) *Indexer {
	ix := &Indexer{baseCellSize: defaultBaseCellSize}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// CellSize returns the edge length in degrees of a cell at zoom.
func (ix *Indexer) CellSize(zoom int) float64 {
	shift := min(zoom, MaxZoom) - baseZoom
	if shift < 0 {
		shift = 0
	}
	return ix.baseCellSize / math.Exp2(float64(shift))
}

// CellFor returns the id of the cell containing (lat, lon) at zoom.
// Out of range coordinates are clamped; NaN is treated as 0.
func (ix *Indexer) CellFor(lat, lon float64, zoom int) string {
	lat = clamp(lat, -90, 90)
	lon = clamp(lon, -180, 180)

	size := ix.CellSize(zoom)

	b := make([]byte, 0, 32)
	b = append(b, "cell_z"...)
	b = strconv.AppendInt(b, int64(zoom), 10)
	b = append(b, '_')
	b = appendBucket(b, lat/size)
	b = append(b, '_')
	b = appendBucket(b, lon/size)
	return string(b)
}

// appendBucket writes floor(v) as an integer without going through int64,
// so tiny custom cell sizes cannot saturate the bucket.
func appendBucket(b []byte, v float64) []byte {
	v = math.Floor(v)
	if v == 0 {
		v = 0 // drop the sign of -0
	}
	return strconv.AppendFloat(b, v, 'f', 0, 64)
}

func clamp(v, lo, hi float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v < lo:
		return lo
	case v > hi:
		return hi
	}
	return v
}

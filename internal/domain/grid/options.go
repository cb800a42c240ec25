package grid

import "math"

// Option applies a configuration option to the Indexer.
type Option func(*Indexer)

// WithBaseCellSize sets the cell edge in degrees used at zoom 8 and below.
func WithBaseCellSize(degrees float64) Option {
	return func(ix *Indexer) {
		if degrees > 0 && !math.IsInf(degrees, 0) {
			ix.baseCellSize = degrees
		}
	}
}

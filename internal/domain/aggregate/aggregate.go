// Package aggregate maintains tumbling-window counters per grid cell.
package aggregate

import (
	"context"
	"time"

	"github.com/okian/geoheat/internal/domain/model"
	"github.com/okian/geoheat/pkg/metrics"
)

// Aggregator counts normalized events per (layer, zoom, cell, window).
//
// Counters are cumulative within their window key. With the default KeepAll
// policy they are never removed, so memory grows with every distinct window
// seen; configure MaxAge for long-running processes.
//
// An Aggregator is not safe for concurrent use; callers serialize access.
type Aggregator struct {
	windowSizes []int
	counters    map[model.CellKey]int
	retention   RetentionPolicy
}

// New creates an Aggregator maintaining every window size in parallel.
// Non-positive sizes are ignored.
func New(windowSizes []int, opts ...Option) *Aggregator {
	sizes := make([]int, 0, len(windowSizes))
	for _, s := range windowSizes {
		if s > 0 {
			sizes = append(sizes, s)
		}
	}
	a := &Aggregator{
		windowSizes: sizes,
		counters:    make(map[model.CellKey]int),
		retention:   KeepAll{},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// WindowSizes returns a copy of the configured window sizes in seconds.
func (a *Aggregator) WindowSizes() []int {
	return append([]int(nil), a.windowSizes...)
}

// Process increments the counter of every window size for e and returns one
// delta per size carrying the post-increment count.
func (a *Aggregator) Process(_ context.Context, e model.NormalizedEvent) []model.AggregateDelta { //nolint:gocritic // hugeParam: value semantics match the pipeline
	deltas := make([]model.AggregateDelta, 0, len(a.windowSizes))
	for _, size := range a.windowSizes {
		key := model.CellKey{
			Layer:       e.Layer,
			Zoom:        e.ZoomLevel,
			CellID:      e.CellID,
			WindowSize:  size,
			WindowStart: model.WindowStart(e.Timestamp, size),
		}
		a.counters[key]++
		deltas = append(deltas, model.AggregateDelta{
			Layer:       key.Layer,
			ZoomLevel:   key.Zoom,
			CellID:      key.CellID,
			WindowSize:  size,
			WindowStart: key.WindowStart,
			Count:       a.counters[key],
		})
	}
	metrics.RecordDeltasEmitted(len(deltas))
	metrics.UpdateAggregatorCounters(len(a.counters))
	return deltas
}

// Count returns the current counter for key.
func (a *Aggregator) Count(key model.CellKey) int {
	return a.counters[key]
}

// Len returns the number of live counters.
func (a *Aggregator) Len() int {
	return len(a.counters)
}

// Retention returns the configured retention policy.
func (a *Aggregator) Retention() RetentionPolicy {
	return a.retention
}

// Prune drops counters the retention policy considers expired at watermark
// and returns how many were removed.
func (a *Aggregator) Prune(watermark time.Time) int {
	removed := 0
	for key := range a.counters {
		if a.retention.Expired(key.WindowStart, key.WindowSize, watermark) {
			delete(a.counters, key)
			removed++
		}
	}
	if removed > 0 {
		metrics.UpdateAggregatorCounters(len(a.counters))
	}
	return removed
}

// Package normalize turns raw events into per-zoom normalized events.
package normalize

import (
	"context"

	"github.com/okian/geoheat/internal/domain/dedupe"
	"github.com/okian/geoheat/internal/domain/model"
	"github.com/okian/geoheat/pkg/metrics"
)

// CellIndexer maps a coordinate to a cell id at a zoom level.
type CellIndexer interface {
	CellFor(lat, lon float64, zoom int) string
}

// Normalizer dedupes raw events and fans them out over the configured zoom levels.
type Normalizer struct {
	indexer      CellIndexer
	deduper      dedupe.Deduper
	zoomLevels   []int
	layers       map[string]model.Layer
	defaultLayer model.Layer
}

// New creates a Normalizer with configuration options.
func New(indexer CellIndexer, deduper dedupe.Deduper, zoomLevels []int, opts ...Option) *Normalizer {
	n := &Normalizer{
		indexer:    indexer,
		deduper:    deduper,
		zoomLevels: append([]int(nil), zoomLevels...),
		layers: map[string]model.Layer{
			model.EventTypeRideRequest: model.LayerDemand,
		},
		defaultLayer: model.LayerSupply,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// ZoomLevels returns a copy of the configured zoom levels.
func (n *Normalizer) ZoomLevels() []int {
	return append([]int(nil), n.zoomLevels...)
}

// Normalize returns one NormalizedEvent per zoom level, or nothing when the
// event is a duplicate. Coordinates are never rejected; the indexer clamps them.
func (n *Normalizer) Normalize(ctx context.Context, e model.Event) []model.NormalizedEvent {
	if n.deduper.IsDuplicate(ctx, e.EventID, e.Timestamp) {
		metrics.RecordEventDuplicate()
		return nil
	}

	layer := n.classify(e.EventType)
	out := make([]model.NormalizedEvent, 0, len(n.zoomLevels))
	for _, zoom := range n.zoomLevels {
		out = append(out, model.NormalizedEvent{
			EventID:   e.EventID,
			EventType: e.EventType,
			Timestamp: e.Timestamp,
			CityID:    e.CityID,
			CellID:    n.indexer.CellFor(e.Latitude, e.Longitude, zoom),
			ZoomLevel: zoom,
			Layer:     layer,
		})
	}
	metrics.RecordEventsNormalized(len(out))
	return out
}

func (n *Normalizer) classify(eventType string) model.Layer {
	if layer, ok := n.layers[eventType]; ok {
		return layer
	}
	return n.defaultLayer
}

// Package tiles materializes heatmap tiles from the aggregate store.
package tiles

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/okian/geoheat/internal/domain/model"
	"github.com/okian/geoheat/pkg/metrics"
)

// Scanner reads every persisted delta of a tile.
type Scanner interface {
	ScanTile(ctx context.Context, key model.TileKey) []model.AggregateDelta
}

// Builder builds tiles on demand and caches them until invalidated.
// It is safe for concurrent use.
type Builder struct {
	mu    sync.Mutex
	store Scanner
	clock clockwork.Clock
	cache map[model.TileKey]*model.Tile
}

// NewBuilder creates a Builder reading from store.
func NewBuilder(store Scanner, opts ...Option) *Builder {
	b := &Builder{
		store: store,
		clock: clockwork.NewRealClock(),
		cache: make(map[model.TileKey]*model.Tile),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build returns the cached tile for key or builds and caches a new one.
// A cache hit returns the same pointer as the previous call. Tiles without
// cells are returned but never cached, so arbitrary window starts cannot
// grow the cache.
func (b *Builder) Build(ctx context.Context, key model.TileKey) (*model.Tile, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buildLocked(ctx, key)
}

// Invalidate drops the cached tile for key. Unknown keys are ignored.
func (b *Builder) Invalidate(key model.TileKey) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.invalidateLocked(key)
}

// Refresh drops any cached tile for key and rebuilds it in one step.
func (b *Builder) Refresh(ctx context.Context, key model.TileKey) (*model.Tile, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.invalidateLocked(key)
	return b.buildLocked(ctx, key)
}

// CacheSize returns the number of cached tiles.
func (b *Builder) CacheSize() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.cache)
}

func (b *Builder) buildLocked(ctx context.Context, key model.TileKey) (*model.Tile, error) {
	if t, ok := b.cache[key]; ok {
		metrics.RecordTileCacheHit()
		return t, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	metrics.RecordTileCacheMiss()

	start := time.Now()
	deltas := b.store.ScanTile(ctx, key)
	cells := make([]model.TileCell, 0, len(deltas))
	for _, d := range deltas {
		cells = append(cells, model.TileCell{CellID: d.CellID, Count: d.Count})
	}
	sort.Slice(cells, func(i, j int) bool { return cells[i].CellID < cells[j].CellID })

	t := &model.Tile{
		Layer:             key.Layer,
		Zoom:              key.Zoom,
		WindowSizeSeconds: key.WindowSize,
		WindowStart:       key.WindowStart,
		GeneratedAt:       b.clock.Now().UTC(),
		Cells:             cells,
	}
	metrics.RecordTileBuildLatency(float64(time.Since(start).Microseconds()) / 1000)
	if len(cells) == 0 {
		return t, nil
	}
	b.cache[key] = t
	metrics.UpdateTileCacheSize(len(b.cache))
	return t, nil
}

func (b *Builder) invalidateLocked(key model.TileKey) {
	if _, ok := b.cache[key]; !ok {
		return
	}
	delete(b.cache, key)
	metrics.RecordTileCacheInvalidations(1)
	metrics.UpdateTileCacheSize(len(b.cache))
}

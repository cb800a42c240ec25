package repository

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/okian/geoheat/internal/domain/model"
	"github.com/okian/geoheat/pkg/metrics"
)

// MemoryStore is an in-memory Store indexed by tile key so a tile scan only
// touches the cells of that tile.
type MemoryStore struct {
	mu    sync.RWMutex
	tiles map[model.TileKey]map[string]model.AggregateDelta
	count int
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	s := &MemoryStore{
		tiles: make(map[model.TileKey]map[string]model.AggregateDelta),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Upsert stores the delta, last write wins.
func (s *MemoryStore) Upsert(_ context.Context, delta model.AggregateDelta) error {
	start := time.Now()
	defer func() {
		metrics.RecordRepositoryUpdateLatency(float64(time.Since(start).Microseconds()) / 1000)
	}()

	if strings.TrimSpace(delta.CellID) == "" || delta.WindowSize <= 0 {
		metrics.RecordErrorByComponent("repository", "invalid_delta")
		return fmt.Errorf("%w: cell %q window %d", ErrInvalidDelta, delta.CellID, delta.WindowSize)
	}

	tk := delta.TileKey()

	s.mu.Lock()
	cells, ok := s.tiles[tk]
	if !ok {
		cells = make(map[string]model.AggregateDelta)
		s.tiles[tk] = cells
	}
	if _, exists := cells[delta.CellID]; !exists {
		s.count++
	}
	cells[delta.CellID] = delta
	records, tiles := s.count, len(s.tiles)
	s.mu.Unlock()

	metrics.UpdateRepositoryRecordsTotal(records)
	metrics.UpdateRepositoryTilesTotal(tiles)
	return nil
}

// Get returns the delta stored for key.
func (s *MemoryStore) Get(_ context.Context, key model.CellKey) (model.AggregateDelta, error) {
	start := time.Now()
	defer func() {
		metrics.RecordRepositoryQueryLatency(float64(time.Since(start).Microseconds()) / 1000)
	}()

	tk := model.TileKey{Layer: key.Layer, Zoom: key.Zoom, WindowSize: key.WindowSize, WindowStart: key.WindowStart}

	s.mu.RLock()
	d, ok := s.tiles[tk][key.CellID]
	s.mu.RUnlock()

	if !ok {
		metrics.RecordErrorByComponent("repository", "not_found")
		return model.AggregateDelta{}, ErrNotFound
	}
	return d, nil
}

// ScanTile returns a copy of every delta belonging to key.
func (s *MemoryStore) ScanTile(_ context.Context, key model.TileKey) []model.AggregateDelta {
	start := time.Now()
	defer func() {
		metrics.RecordRepositoryQueryLatency(float64(time.Since(start).Microseconds()) / 1000)
	}()

	s.mu.RLock()
	defer s.mu.RUnlock()

	cells := s.tiles[key]
	out := make([]model.AggregateDelta, 0, len(cells))
	for _, d := range cells {
		out = append(out, d)
	}
	return out
}

// Count returns the number of stored records.
func (s *MemoryStore) Count(_ context.Context) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

// Prune drops every tile rejected by keep.
func (s *MemoryStore) Prune(_ context.Context, keep func(model.TileKey) bool) []model.TileKey {
	s.mu.Lock()
	var removed []model.TileKey
	pruned := 0
	for tk, cells := range s.tiles {
		if keep(tk) {
			continue
		}
		pruned += len(cells)
		s.count -= len(cells)
		delete(s.tiles, tk)
		removed = append(removed, tk)
	}
	records, tiles := s.count, len(s.tiles)
	s.mu.Unlock()

	if pruned > 0 {
		metrics.RecordRepositoryPruned(pruned)
		metrics.UpdateRepositoryRecordsTotal(records)
		metrics.UpdateRepositoryTilesTotal(tiles)
	}
	return removed
}

var _ Store = (*MemoryStore)(nil)

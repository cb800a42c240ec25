package repository

import "github.com/okian/geoheat/internal/domain/model"

// Option applies a configuration option to the MemoryStore.
type Option func(*MemoryStore)

// WithInitialTiles presizes the tile index.
func WithInitialTiles(n int) Option {
	return func(s *MemoryStore) {
		if n > 0 {
			s.tiles = make(map[model.TileKey]map[string]model.AggregateDelta, n)
		}
	}
}

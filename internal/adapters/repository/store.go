// Package repository defines the aggregate store interface and errors.
package repository

import (
	"context"

	"github.com/okian/geoheat/internal/domain/model"
)

// Store provides read/write access to persisted window counters.
type Store interface {
	// Upsert writes the delta's count for its key, replacing any previous value.
	Upsert(ctx context.Context, delta model.AggregateDelta) error

	// Get returns the stored delta for key.
	// Returns ErrNotFound if the key was never written.
	Get(ctx context.Context, key model.CellKey) (model.AggregateDelta, error)

	// ScanTile returns every delta whose key matches the tile key, in no
	// particular order.
	ScanTile(ctx context.Context, key model.TileKey) []model.AggregateDelta

	// Count returns the number of stored records.
	Count(ctx context.Context) int

	// Prune removes every tile for which keep returns false and reports
	// the removed tile keys.
	Prune(ctx context.Context, keep func(model.TileKey) bool) []model.TileKey
}

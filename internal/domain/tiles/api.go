package tiles

import (
	"context"

	"github.com/okian/geoheat/internal/domain/model"
)

// API is the read facade over the builder.
type API struct {
	builder *Builder
}

// NewAPI wraps builder.
func NewAPI(builder *Builder) *API {
	return &API{builder: builder}
}

// GetTile returns the tile for key.
func (a *API) GetTile(ctx context.Context, key model.TileKey) (*model.Tile, error) {
	return a.builder.Build(ctx, key)
}

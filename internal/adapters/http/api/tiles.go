package api

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	service "github.com/okian/geoheat/internal/app"
	"github.com/okian/geoheat/internal/domain/model"
	"github.com/okian/geoheat/internal/domain/types"
)

// Tile query defaults applied when zoom or window_size is omitted.
const (
	defaultTileZoom       = 12
	defaultTileWindowSize = 60
)

// TilesHandler serves materialized tiles.
type TilesHandler struct {
	deps TileDependencies
}

// NewTilesHandler creates a new tiles handler.
func NewTilesHandler(deps TileDependencies) *TilesHandler {
	return &TilesHandler{deps: deps}
}

// HandleGetTile handles GET /tiles?layer=[&zoom=12][&window_size=60][&window_start=][&refresh=].
func (h *TilesHandler) HandleGetTile(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_tile"
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}

	q, err := parseTileQuery(r)
	if err != nil {
		writeKindError(w, WrapKind(op, ErrBadRequest, err))
		return
	}

	tile, err := h.deps.GetTile(r.Context(), q)
	if err != nil {
		writeKindError(w, classify(op, err))
		return
	}
	writeJSON(w, http.StatusOK, types.FromTile(tile))
}

func parseTileQuery(r *http.Request) (service.TileQuery, error) {
	values := r.URL.Query()

	layer := strings.TrimSpace(values.Get("layer"))
	if layer == "" {
		return service.TileQuery{}, errors.New("missing layer")
	}
	zoom, err := intParam(values, "zoom", defaultTileZoom)
	if err != nil {
		return service.TileQuery{}, err
	}
	size, err := intParam(values, "window_size", defaultTileWindowSize)
	if err != nil {
		return service.TileQuery{}, err
	}

	q := service.TileQuery{
		Layer:      model.Layer(layer),
		Zoom:       zoom,
		WindowSize: size,
		Refresh:    parseRefresh(values.Get("refresh")),
	}
	if raw := values.Get("window_start"); raw != "" {
		start, err := model.ParseTimestamp(raw)
		if err != nil {
			return service.TileQuery{}, errors.New("window_start must be ISO-8601")
		}
		q.WindowStart = &start
	}
	return q, nil
}

// intParam returns def when key is absent. A present but empty or
// non-numeric value is an error.
func intParam(values url.Values, key string, def int) (int, error) {
	if !values.Has(key) {
		return def, nil
	}
	n, err := strconv.Atoi(values.Get(key))
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", key)
	}
	return n, nil
}

// parseRefresh treats anything but an empty, "0" or "false" value as true.
func parseRefresh(v string) bool {
	switch v {
	case "", "0", "false", "False":
		return false
	default:
		return true
	}
}

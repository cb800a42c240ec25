package testevents

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/okian/geoheat/internal/domain/types"
	"github.com/okian/geoheat/pkg/logger"
)

// verifyResults fetches the tile of every updated window and the status
// snapshot and checks them against what was submitted.
func verifyResults(ctx context.Context, config *Config, windows map[string]string, stats *Stats) error {
	log := logger.Get().Named("verify")
	client := newHTTPClient(config.Timeout)

	if len(windows) == 0 {
		return fmt.Errorf("no updated windows to verify")
	}

	for _, key := range types.SortedWindowKeys(windows) {
		tile, err := fetchTile(ctx, client, config.BaseURL, key, windows[key])
		if err != nil {
			return err
		}
		if err := verifyTile(key, windows[key], tile); err != nil {
			return err
		}
		stats.TilesVerified++
		stats.TileCells += len(tile.Cells)
		log.Debug(ctx, "tile verified", logger.String("window", key), logger.Int("cells", len(tile.Cells)))
	}

	var status types.Status
	if err := client.getJSON(ctx, config.BaseURL+"/status", &status); err != nil {
		return fmt.Errorf("status: %w", err)
	}
	if status.Metrics.Raw < stats.EventsRaw {
		return fmt.Errorf("status reports %d raw events, submitted %d", status.Metrics.Raw, stats.EventsRaw)
	}
	if status.Metrics.Persisted != status.Metrics.Deltas {
		return fmt.Errorf("status persisted %d != deltas %d", status.Metrics.Persisted, status.Metrics.Deltas)
	}

	log.Info(ctx, "result verification completed",
		logger.Int("tiles", stats.TilesVerified),
		logger.Int("cells", stats.TileCells),
	)
	return nil
}

// fetchTile requests the tile for a "layer:zoom:size" key at start.
func fetchTile(ctx context.Context, client *HTTPClient, baseURL, key, start string) (*types.Tile, error) {
	parts := strings.Split(key, ":")
	if len(parts) != 3 {
		return nil, fmt.Errorf("malformed window key %q", key)
	}
	q := url.Values{}
	q.Set("layer", parts[0])
	q.Set("zoom", parts[1])
	q.Set("window_size", parts[2])
	q.Set("window_start", start)

	var tile types.Tile
	if err := client.getJSON(ctx, baseURL+"/tiles?"+q.Encode(), &tile); err != nil {
		return nil, fmt.Errorf("tile %s: %w", key, err)
	}
	return &tile, nil
}

// verifyTile checks the tile matches its key, has populated cells sorted by
// id and only positive counts.
func verifyTile(key, start string, tile *types.Tile) error {
	parts := strings.Split(key, ":")
	zoom, _ := strconv.Atoi(parts[1])
	size, _ := strconv.Atoi(parts[2])
	switch {
	case tile.Layer != parts[0] || tile.Zoom != zoom || tile.WindowSizeSeconds != size:
		return fmt.Errorf("tile %s: key mismatch (%s:%d:%d)", key, tile.Layer, tile.Zoom, tile.WindowSizeSeconds)
	case tile.WindowStart != start:
		return fmt.Errorf("tile %s: window_start %s, want %s", key, tile.WindowStart, start)
	case len(tile.Cells) == 0:
		return fmt.Errorf("tile %s: updated window has no cells", key)
	}
	for i, c := range tile.Cells {
		if c.Count <= 0 {
			return fmt.Errorf("tile %s: cell %s has count %d", key, c.CellID, c.Count)
		}
		if i > 0 && tile.Cells[i-1].CellID >= c.CellID {
			return fmt.Errorf("tile %s: cells not sorted at %d", key, i)
		}
	}
	return nil
}

// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"net/http"
	"time"

	service "github.com/okian/geoheat/internal/app"
	"github.com/okian/geoheat/internal/domain/model"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to the service implementation.
type Dependencies interface {
	EventDependencies
	TileDependencies
	StatusProvider
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler *HealthHandler
	statsHandler  *StatsHandler
	eventsHandler *EventsHandler
	tilesHandler  *TilesHandler
	statusHandler *StatusHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider, opts ...Option) *Server {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Server{
		healthHandler: NewHealthHandler(),
		statsHandler:  NewStatsHandler(statsProvider),
		eventsHandler: NewEventsHandler(deps, cfg.maxBodyBytes),
		tilesHandler:  NewTilesHandler(deps),
		statusHandler: NewStatusHandler(deps),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("/status", MetricsMiddleware(s.statusHandler.HandleStatus, "status"))
	mux.HandleFunc("/events", MetricsMiddleware(s.eventsHandler.HandlePostEvents, "events"))
	mux.HandleFunc("/tiles", TileMetricsMiddleware(s.tilesHandler.HandleGetTile))
}

// EventDependencies ingests validated batches.
type EventDependencies interface {
	ProcessEvents(ctx context.Context, events []model.Event) (model.Counts, map[model.WindowKey]time.Time, error)
}

// TileDependencies resolves tile queries.
type TileDependencies interface {
	GetTile(ctx context.Context, q service.TileQuery) (*model.Tile, error)
}

// StatusProvider returns a snapshot of the pipeline state.
type StatusProvider interface {
	Status() service.Status
}

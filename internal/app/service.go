// Package service wires the heatmap pipeline together and exposes the
// operations required by the HTTP API.
package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/okian/geoheat/internal/adapters/repository"
	"github.com/okian/geoheat/internal/domain/aggregate"
	"github.com/okian/geoheat/internal/domain/dedupe"
	"github.com/okian/geoheat/internal/domain/grid"
	"github.com/okian/geoheat/internal/domain/model"
	"github.com/okian/geoheat/internal/domain/normalize"
	"github.com/okian/geoheat/internal/domain/tiles"
	"github.com/okian/geoheat/internal/pipeline"
	"github.com/okian/geoheat/internal/testevents"
	"github.com/okian/geoheat/pkg/logger"
	"github.com/okian/geoheat/pkg/metrics"
)

// Default service configuration constants.
const (
	defaultDedupeRetention = 15 * time.Minute
	defaultQueueSize       = 1024
	defaultBaseCellSize    = 0.05
)

// EventSource produces synthetic batches for background ingestion.
type EventSource interface {
	Generate(now time.Time, count int) []model.Event
}

// DeltaSink receives every persisted delta of a batch, outside the state lock.
type DeltaSink interface {
	PublishDeltas(ctx context.Context, deltas []model.AggregateDelta) error
	Close() error
}

// TileQuery selects one tile. A nil WindowStart means the latest window seen
// for (Layer, Zoom, WindowSize).
type TileQuery struct {
	Layer       model.Layer
	Zoom        int
	WindowSize  int
	WindowStart *time.Time
	Refresh     bool
}

// Service owns the pipeline state. Writes are serialized by mu; tile reads
// share it.
type Service struct {
	mu sync.RWMutex

	// Core components
	normalizer *normalize.Normalizer
	aggregator *aggregate.Aggregator
	deduper    dedupe.Deduper
	store      repository.Store
	builder    *tiles.Builder
	api        *tiles.API
	runner     *pipeline.Runner

	// State
	latestWindows map[model.WindowKey]time.Time
	counts        model.Counts
	lastIngestAt  time.Time
	watermark     time.Time
	started       bool

	// Configuration
	zoomLevels      []int
	windowSizes     []int
	baseCellSize    float64
	dedupeRetention time.Duration
	dedupeSize      int
	queueSize       int
	retention       aggregate.RetentionPolicy

	// Collaborators
	clock  clockwork.Clock
	source EventSource
	sink   DeltaSink
	bg     background

	// Logging
	logger logger.Logger
}

// New constructs a Service. Components are ready to use immediately.
func New(opts ...Option) *Service {
	s := &Service{
		latestWindows:   make(map[model.WindowKey]time.Time),
		zoomLevels:      []int{10, 12},
		windowSizes:     []int{60, 300},
		baseCellSize:    defaultBaseCellSize,
		dedupeRetention: defaultDedupeRetention,
		queueSize:       defaultQueueSize,
		retention:       aggregate.KeepAll{},
		clock:           clockwork.NewRealClock(),
		bg:              background{stopTimeout: defaultBackgroundStopTimeout},
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	if s.source == nil {
		s.source = testevents.NewGenerator()
	}

	dedupeOpts := []dedupe.Option{dedupe.WithRetention(s.dedupeRetention)}
	if s.dedupeSize > 0 {
		dedupeOpts = append(dedupeOpts, dedupe.WithMaxSize(s.dedupeSize))
	}
	s.deduper = dedupe.NewInMemoryDeduper(dedupeOpts...)
	s.normalizer = normalize.New(grid.New(grid.WithBaseCellSize(s.baseCellSize)), s.deduper, s.zoomLevels)
	s.aggregator = aggregate.New(s.windowSizes, aggregate.WithRetention(s.retention))
	s.store = repository.NewMemoryStore()
	s.builder = tiles.NewBuilder(s.store, tiles.WithClock(s.clock))
	s.api = tiles.NewAPI(s.builder)
	s.runner = pipeline.New(s.normalizer, s.aggregator, s.store, s.builder,
		pipeline.WithQueueCapacity(s.queueSize),
		pipeline.WithLogger(s.logger.Named("pipeline")),
	)

	return s
}

// Start marks the service as running.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	s.started = true
	s.logger.Info(ctx, "heatmap service started",
		logger.Any("zoomLevels", s.zoomLevels),
		logger.Any("windowSizes", s.windowSizes),
		logger.Duration("dedupeRetention", s.dedupeRetention),
		logger.Bool("pruning", s.pruning()),
	)
	return nil
}

// Stop halts background ingestion and closes the delta sink.
func (s *Service) Stop() {
	s.StopBackgroundIngestion()

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	if s.sink != nil {
		if err := s.sink.Close(); err != nil {
			s.logger.Error(context.Background(), "error closing delta sink", logger.Error(err))
		}
	}
	s.started = false
	s.logger.Info(context.Background(), "heatmap service stopped")
}

// ProcessEvents validates the whole batch, then normalizes, aggregates and
// persists it. Every upsert is paired with the invalidation of its tile.
// It returns this batch's counts and the latest start of every window it touched.
func (s *Service) ProcessEvents(ctx context.Context, events []model.Event) (model.Counts, map[model.WindowKey]time.Time, error) {
	if err := validateBatch(events); err != nil {
		metrics.RecordEventRejected()
		metrics.RecordErrorByComponent("service", "invalid_input")
		return model.Counts{}, nil, err
	}

	start := time.Now()
	var (
		counts    model.Counts
		touched   = make(map[model.WindowKey]struct{})
		published []model.AggregateDelta
	)

	s.mu.Lock()
	for i := range events {
		counts.Raw++
		for _, ne := range s.normalizer.Normalize(ctx, events[i]) {
			counts.Normalized++
			for _, d := range s.aggregator.Process(ctx, ne) {
				counts.Deltas++
				if err := s.store.Upsert(ctx, d); err != nil {
					s.counts.Add(counts)
					s.mu.Unlock()
					return counts, nil, fmt.Errorf("persist delta: %w", err)
				}
				s.builder.Invalidate(d.TileKey())
				counts.Persisted++
				s.advanceWindow(d)
				touched[d.WindowKey()] = struct{}{}
				if s.sink != nil {
					published = append(published, d)
				}
			}
		}
		if events[i].Timestamp.After(s.watermark) {
			s.watermark = events[i].Timestamp
		}
	}
	s.counts.Add(counts)
	s.lastIngestAt = s.clock.Now().UTC()
	s.pruneLocked(ctx)

	updated := make(map[model.WindowKey]time.Time, len(touched))
	for k := range touched {
		updated[k] = s.latestWindows[k]
	}
	s.mu.Unlock()

	metrics.RecordEventsIngested(counts.Raw)
	metrics.RecordDeltasPersisted(counts.Persisted)
	metrics.UpdateDedupeEntries(s.deduper.Size())
	metrics.RecordBatchLatency(float64(time.Since(start).Microseconds()) / 1000)

	s.publish(ctx, published)

	s.logger.Debug(ctx, "processed batch",
		logger.Int("raw", counts.Raw),
		logger.Int("normalized", counts.Normalized),
		logger.Int("deltas", counts.Deltas),
		logger.Int("persisted", counts.Persisted),
	)
	return counts, updated, nil
}

// Bootstrap seeds state through the staged pipeline. Invalid events are
// skipped with a warning rather than failing the whole seed.
func (s *Service) Bootstrap(ctx context.Context, events []model.Event) (model.Counts, error) {
	valid := make([]model.Event, 0, len(events))
	for i := range events {
		if err := events[i].Validate(); err != nil {
			metrics.RecordEventRejected()
			s.logger.Warn(ctx, "skipping invalid bootstrap event", logger.Int("index", i), logger.Error(err))
			continue
		}
		valid = append(valid, events[i])
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.runner.Run(ctx, valid)
	s.counts.Add(res.Counts)
	for k, v := range res.LatestWindows {
		if cur, ok := s.latestWindows[k]; !ok || v.After(cur) {
			s.latestWindows[k] = v
		}
	}
	for i := range valid {
		if valid[i].Timestamp.After(s.watermark) {
			s.watermark = valid[i].Timestamp
		}
	}
	if !res.Counts.IsZero() {
		s.lastIngestAt = s.clock.Now().UTC()
	}
	if err != nil {
		return res.Counts, fmt.Errorf("bootstrap: %w", err)
	}
	s.pruneLocked(ctx)

	s.logger.Info(ctx, "bootstrap complete",
		logger.Int("raw", res.Counts.Raw),
		logger.Int("normalized", res.Counts.Normalized),
		logger.Int("deltas", res.Counts.Deltas),
		logger.Int("skipped", len(events)-len(valid)),
	)
	return res.Counts, nil
}

// GetTile returns the tile selected by q.
func (s *Service) GetTile(ctx context.Context, q TileQuery) (*model.Tile, error) {
	if strings.TrimSpace(string(q.Layer)) == "" {
		return nil, fmt.Errorf("%w: layer is required", ErrInvalidInput)
	}
	if q.Zoom < 0 || q.Zoom > grid.MaxZoom {
		return nil, fmt.Errorf("%w: zoom must be within [0, %d]", ErrInvalidInput, grid.MaxZoom)
	}
	if q.WindowSize <= 0 {
		return nil, fmt.Errorf("%w: window_size must be positive", ErrInvalidInput)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	wk := model.WindowKey{Layer: q.Layer, Zoom: q.Zoom, WindowSize: q.WindowSize}
	var start time.Time
	if q.WindowStart != nil {
		start = q.WindowStart.UTC()
	} else {
		latest, ok := s.latestWindows[wk]
		if !ok {
			metrics.RecordErrorByComponent("service", "no_data")
			return nil, fmt.Errorf("%w: %s", ErrNoData, wk)
		}
		start = latest
	}

	key := model.TileKey{Layer: q.Layer, Zoom: q.Zoom, WindowSize: q.WindowSize, WindowStart: start}
	if q.Refresh {
		return s.builder.Refresh(ctx, key)
	}
	return s.api.GetTile(ctx, key)
}

// LatestWindows returns a copy of the latest window start per window key.
func (s *Service) LatestWindows() map[model.WindowKey]time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[model.WindowKey]time.Time, len(s.latestWindows))
	for k, v := range s.latestWindows {
		out[k] = v
	}
	return out
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := context.Background()
	records := s.store.Count(ctx)
	cached := s.builder.CacheSize()
	dedupeEntries := s.deduper.Size()

	metrics.UpdateRepositoryRecordsTotal(records)
	metrics.UpdateTileCacheSize(cached)
	metrics.UpdateDedupeEntries(dedupeEntries)
	metrics.UpdateAggregatorCounters(s.aggregator.Len())

	return map[string]interface{}{
		"started":            s.started,
		"zoomLevels":         append([]int(nil), s.zoomLevels...),
		"windowSizes":        append([]int(nil), s.windowSizes...),
		"storeRecords":       records,
		"aggregatorCounters": s.aggregator.Len(),
		"cachedTiles":        cached,
		"dedupeEntries":      dedupeEntries,
		"latestWindows":      len(s.latestWindows),
		"processed":          s.counts,
		"backgroundActive":   s.bg.isActive(),
	}
}

func (s *Service) advanceWindow(d model.AggregateDelta) {
	wk := d.WindowKey()
	if cur, ok := s.latestWindows[wk]; !ok || d.WindowStart.After(cur) {
		s.latestWindows[wk] = d.WindowStart
	}
}

func (s *Service) pruning() bool {
	_, keepAll := s.retention.(aggregate.KeepAll)
	return !keepAll
}

// pruneLocked applies the retention policy to the aggregator and the store
// and drops the cached tiles of removed windows.
func (s *Service) pruneLocked(ctx context.Context) {
	if !s.pruning() || s.watermark.IsZero() {
		return
	}
	counters := s.aggregator.Prune(s.watermark)
	removed := s.store.Prune(ctx, func(k model.TileKey) bool {
		return !s.retention.Expired(k.WindowStart, k.WindowSize, s.watermark)
	})
	for _, k := range removed {
		s.builder.Invalidate(k)
	}
	if counters > 0 || len(removed) > 0 {
		s.logger.Debug(ctx, "pruned expired windows",
			logger.Int("counters", counters),
			logger.Int("tiles", len(removed)),
			logger.Time("watermark", s.watermark),
		)
	}
}

func (s *Service) publish(ctx context.Context, deltas []model.AggregateDelta) {
	if s.sink == nil || len(deltas) == 0 {
		return
	}
	if err := s.sink.PublishDeltas(ctx, deltas); err != nil {
		metrics.RecordErrorByComponent("service", "sink_failed")
		s.logger.Warn(ctx, "delta sink publish failed", logger.Int("deltas", len(deltas)), logger.Error(err))
	}
}

func validateBatch(events []model.Event) error {
	if len(events) == 0 {
		return fmt.Errorf("%w: request must include a non-empty events list", ErrInvalidInput)
	}
	for i := range events {
		if err := events[i].Validate(); err != nil {
			return fmt.Errorf("%w: events[%d]: %w", ErrInvalidInput, i, err)
		}
	}
	return nil
}

// Package pipeline runs a batch of events through the
// produce -> normalize -> aggregate -> persist stages.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/geoheat/internal/adapters/mq/queue"
	"github.com/okian/geoheat/internal/adapters/mq/worker"
	"github.com/okian/geoheat/internal/domain/model"
	"github.com/okian/geoheat/pkg/logger"
	"github.com/okian/geoheat/pkg/metrics"
)

// Stage names used for queue and worker metrics.
const (
	StageRaw        = "raw"
	StageNormalized = "normalized"
	StageDeltas     = "deltas"
)

// Normalizer fans a raw event out over zoom levels.
type Normalizer interface {
	Normalize(ctx context.Context, e model.Event) []model.NormalizedEvent
}

// Aggregator turns a normalized event into window deltas.
type Aggregator interface {
	Process(ctx context.Context, e model.NormalizedEvent) []model.AggregateDelta
}

// Store persists deltas.
type Store interface {
	Upsert(ctx context.Context, delta model.AggregateDelta) error
}

// Invalidator drops cached tiles made stale by a write.
type Invalidator interface {
	Invalidate(key model.TileKey)
}

// Result is the outcome of one run.
type Result struct {
	Counts        model.Counts
	LatestWindows map[model.WindowKey]time.Time
}

// Runner wires the stages together. A Runner may be reused but runs must
// not overlap because the aggregator is not safe for concurrent use.
type Runner struct {
	normalizer    Normalizer
	aggregator    Aggregator
	store         Store
	invalidator   Invalidator
	queueCapacity int
	logger        logger.Logger
}

// New creates a Runner.
func New(normalizer Normalizer, aggregator Aggregator, store Store, invalidator Invalidator, opts ...Option) *Runner {
	r := &Runner{
		normalizer:    normalizer,
		aggregator:    aggregator,
		store:         store,
		invalidator:   invalidator,
		queueCapacity: defaultQueueCapacity,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = logger.Get().Named("pipeline")
	}
	return r
}

// Run pushes events through every stage and waits until the persist stage
// has drained. On error the partial counts are still returned.
func (r *Runner) Run(ctx context.Context, events []model.Event) (Result, error) {
	start := time.Now()

	raw := queue.NewInMemoryQueue[model.Event](queue.WithCapacity(r.queueCapacity), queue.WithName(StageRaw))
	normalized := queue.NewInMemoryQueue[model.NormalizedEvent](queue.WithCapacity(r.queueCapacity), queue.WithName(StageNormalized))
	deltas := queue.NewInMemoryQueue[model.AggregateDelta](queue.WithCapacity(r.queueCapacity), queue.WithName(StageDeltas))

	var (
		mu        sync.Mutex
		persisted int
		latest    = make(map[model.WindowKey]time.Time)
	)

	normalize := worker.NewStage[model.Event, model.NormalizedEvent](raw, normalized,
		func(ctx context.Context, e model.Event) ([]model.NormalizedEvent, error) {
			return r.normalizer.Normalize(ctx, e), nil
		},
		worker.WithName("normalize"), worker.WithLogger(r.logger.Named("normalize")))

	aggregate := worker.NewStage[model.NormalizedEvent, model.AggregateDelta](normalized, deltas,
		func(ctx context.Context, e model.NormalizedEvent) ([]model.AggregateDelta, error) {
			return r.aggregator.Process(ctx, e), nil
		},
		worker.WithName("aggregate"), worker.WithLogger(r.logger.Named("aggregate")))

	persist := worker.NewStage[model.AggregateDelta, struct{}](deltas, worker.Discard[struct{}]{},
		func(ctx context.Context, d model.AggregateDelta) ([]struct{}, error) {
			if err := r.store.Upsert(ctx, d); err != nil {
				return nil, err
			}
			r.invalidator.Invalidate(d.TileKey())

			mu.Lock()
			persisted++
			wk := d.WindowKey()
			if cur, ok := latest[wk]; !ok || d.WindowStart.After(cur) {
				latest[wk] = d.WindowStart
			}
			mu.Unlock()
			return nil, nil
		},
		worker.WithName("persist"), worker.WithLogger(r.logger.Named("persist")))

	g, gctx := errgroup.WithContext(ctx)
	produced := 0
	g.Go(func() error {
		defer func() { _ = raw.Close() }()
		for _, e := range events {
			if err := raw.Put(gctx, e); err != nil {
				return fmt.Errorf("produce: %w", err)
			}
			produced++
		}
		return nil
	})
	g.Go(func() error { return normalize.Run(gctx) })
	g.Go(func() error { return aggregate.Run(gctx) })
	g.Go(func() error { return persist.Run(gctx) })

	err := g.Wait()

	res := Result{
		Counts: model.Counts{
			Raw:        produced,
			Normalized: int(normalize.Stats().Emitted),
			Deltas:     int(aggregate.Stats().Emitted),
			Persisted:  persisted,
		},
		LatestWindows: latest,
	}

	metrics.RecordEventsIngested(res.Counts.Raw)
	metrics.RecordDeltasPersisted(res.Counts.Persisted)
	metrics.RecordBatchLatency(float64(time.Since(start).Microseconds()) / 1000)

	if err != nil {
		metrics.RecordErrorByComponent("pipeline", "run_failed")
		r.logger.Error(ctx, "pipeline run failed", logger.Error(err), logger.Any("counts", res.Counts))
		return res, err
	}

	r.logger.Debug(ctx, "pipeline run complete",
		logger.Int("raw", res.Counts.Raw),
		logger.Int("normalized", res.Counts.Normalized),
		logger.Int("deltas", res.Counts.Deltas),
		logger.Int("persisted", res.Counts.Persisted),
		logger.Duration("took", time.Since(start)),
	)
	return res, nil
}

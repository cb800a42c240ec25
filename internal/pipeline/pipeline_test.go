package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okian/geoheat/internal/adapters/repository"
	"github.com/okian/geoheat/internal/domain/aggregate"
	"github.com/okian/geoheat/internal/domain/dedupe"
	"github.com/okian/geoheat/internal/domain/grid"
	"github.com/okian/geoheat/internal/domain/model"
	"github.com/okian/geoheat/internal/domain/normalize"
	"github.com/okian/geoheat/internal/domain/tiles"
	"github.com/okian/geoheat/internal/pipeline"
	"github.com/okian/geoheat/pkg/logger"
)

func init() {
	_ = logger.Init()
}

var base = time.Date(2025, 10, 17, 21, 30, 5, 0, time.UTC)

type fixture struct {
	store   *repository.MemoryStore
	builder *tiles.Builder
	runner  *pipeline.Runner
}

func newFixture(zooms, windows []int, opts ...pipeline.Option) fixture {
	store := repository.NewMemoryStore()
	builder := tiles.NewBuilder(store)
	n := normalize.New(grid.New(), dedupe.NewInMemoryDeduper(), zooms)
	a := aggregate.New(windows)
	return fixture{
		store:   store,
		builder: builder,
		runner:  pipeline.New(n, a, store, builder, opts...),
	}
}

func sfEvent(id string, ts time.Time, eventType string) model.Event {
	return model.Event{
		EventID:   id,
		EventType: eventType,
		Timestamp: ts,
		Latitude:  37.7749,
		Longitude: -122.4194,
		CityID:    "san_francisco",
	}
}

func TestRunner_SingleEvent(t *testing.T) {
	f := newFixture([]int{12, 15}, []int{60, 300})

	res, err := f.runner.Run(context.Background(), []model.Event{sfEvent("evt-1", base, model.EventTypeRideRequest)})
	require.NoError(t, err)

	assert.Equal(t, model.Counts{Raw: 1, Normalized: 2, Deltas: 4, Persisted: 4}, res.Counts)
	assert.Equal(t, 4, f.store.Count(context.Background()))

	key := model.WindowKey{Layer: model.LayerDemand, Zoom: 12, WindowSize: 60}
	require.Contains(t, res.LatestWindows, key)
	assert.Equal(t, time.Date(2025, 10, 17, 21, 30, 0, 0, time.UTC), res.LatestWindows[key])
	assert.Len(t, res.LatestWindows, 4)
}

func TestRunner_Conservation(t *testing.T) {
	zooms := []int{10, 12, 15}
	windows := []int{60, 300}
	f := newFixture(zooms, windows, pipeline.WithQueueCapacity(4))

	var events []model.Event
	for i := 0; i < 200; i++ {
		typ := model.EventTypeRideRequest
		if i%3 == 0 {
			typ = "driver_ping"
		}
		events = append(events, sfEvent(fmt.Sprintf("evt-%d", i), base.Add(time.Duration(i)*time.Second), typ))
	}
	// Duplicates are dropped by the normalizer.
	events = append(events, events[0], events[10])

	res, err := f.runner.Run(context.Background(), events)
	require.NoError(t, err)

	c := res.Counts
	assert.Equal(t, len(events), c.Raw)
	assert.Equal(t, 200*len(zooms), c.Normalized)
	assert.LessOrEqual(t, c.Normalized, c.Raw*len(zooms))
	assert.Equal(t, c.Normalized*len(windows), c.Deltas)
	assert.Equal(t, c.Deltas, c.Persisted)
}

func TestRunner_LatestWindowAdvances(t *testing.T) {
	f := newFixture([]int{12}, []int{60})

	events := []model.Event{
		sfEvent("late", base.Add(5*time.Minute), model.EventTypeRideRequest),
		sfEvent("early", base, model.EventTypeRideRequest),
	}
	res, err := f.runner.Run(context.Background(), events)
	require.NoError(t, err)

	key := model.WindowKey{Layer: model.LayerDemand, Zoom: 12, WindowSize: 60}
	assert.Equal(t, model.WindowStart(base.Add(5*time.Minute), 60), res.LatestWindows[key])
}

func TestRunner_InvalidatesCachedTiles(t *testing.T) {
	ctx := context.Background()
	f := newFixture([]int{12}, []int{60})

	_, err := f.runner.Run(ctx, []model.Event{sfEvent("a", base, model.EventTypeRideRequest)})
	require.NoError(t, err)

	key := model.TileKey{Layer: model.LayerDemand, Zoom: 12, WindowSize: 60, WindowStart: model.WindowStart(base, 60)}
	first, err := f.builder.Build(ctx, key)
	require.NoError(t, err)
	require.Len(t, first.Cells, 1)
	assert.Equal(t, 1, first.Cells[0].Count)

	_, err = f.runner.Run(ctx, []model.Event{sfEvent("b", base.Add(time.Second), model.EventTypeRideRequest)})
	require.NoError(t, err)

	second, err := f.builder.Build(ctx, key)
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, 2, second.Cells[0].Count)
}

func TestRunner_EmptyBatch(t *testing.T) {
	f := newFixture([]int{12}, []int{60})

	res, err := f.runner.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, res.Counts.IsZero())
	assert.Empty(t, res.LatestWindows)
}

type failingStore struct{ after int }

func (s *failingStore) Upsert(context.Context, model.AggregateDelta) error {
	if s.after <= 0 {
		return errors.New("disk full")
	}
	s.after--
	return nil
}

type noopInvalidator struct{}

func (noopInvalidator) Invalidate(model.TileKey) {}

func TestRunner_StoreFailureStopsAllStages(t *testing.T) {
	n := normalize.New(grid.New(), dedupe.NewInMemoryDeduper(), []int{12})
	a := aggregate.New([]int{60})
	runner := pipeline.New(n, a, &failingStore{after: 3}, noopInvalidator{}, pipeline.WithQueueCapacity(1))

	var events []model.Event
	for i := 0; i < 50; i++ {
		events = append(events, sfEvent(fmt.Sprintf("evt-%d", i), base, model.EventTypeRideRequest))
	}

	done := make(chan struct{})
	var (
		res pipeline.Result
		err error
	)
	go func() {
		defer close(done)
		res, err = runner.Run(context.Background(), events)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline did not terminate after a store failure")
	}
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, 3, res.Counts.Persisted)
}

func TestRunner_Cancelled(t *testing.T) {
	f := newFixture([]int{12}, []int{60})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.runner.Run(ctx, []model.Event{sfEvent("a", base, model.EventTypeRideRequest)})
	require.ErrorIs(t, err, context.Canceled)
}

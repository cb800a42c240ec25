package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	. "github.com/smartystreets/goconvey/convey"

	service "github.com/okian/geoheat/internal/app"
	"github.com/okian/geoheat/internal/domain/aggregate"
	"github.com/okian/geoheat/internal/domain/grid"
	"github.com/okian/geoheat/internal/domain/model"
	"github.com/okian/geoheat/pkg/logger"
)

func init() {
	logger.Init()
}

var (
	t0       = time.Date(2025, 10, 17, 21, 30, 5, 0, time.UTC)
	window60 = time.Date(2025, 10, 17, 21, 30, 0, 0, time.UTC)
)

func rideRequest(id string, ts time.Time) model.Event {
	return model.Event{
		EventID:   id,
		EventType: model.EventTypeRideRequest,
		Timestamp: ts,
		Latitude:  37.7749,
		Longitude: -122.4194,
		CityID:    "san_francisco",
	}
}

type recordingSink struct {
	mu     sync.Mutex
	deltas []model.AggregateDelta
	closed bool
	err    error
}

func (r *recordingSink) PublishDeltas(_ context.Context, deltas []model.AggregateDelta) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deltas = append(r.deltas, deltas...)
	return r.err
}

func (r *recordingSink) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *recordingSink) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.deltas)
}

type sequenceSource struct {
	mu sync.Mutex
	n  int
}

func (s *sequenceSource) Generate(now time.Time, count int) []model.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Event, 0, count)
	for i := 0; i < count; i++ {
		s.n++
		out = append(out, rideRequest(fmt.Sprintf("bg-%d", s.n), now))
	}
	return out
}

func TestProcessEvents(t *testing.T) {
	Convey("Given a service with default zooms and windows", t, func() {
		ctx := context.Background()
		sink := &recordingSink{}
		svc := service.New(
			service.WithClock(clockwork.NewFakeClockAt(t0.Add(time.Minute))),
			service.WithDeltaSink(sink),
		)
		So(svc.Start(ctx), ShouldBeNil)
		Reset(svc.Stop)

		Convey("When a single ride request is ingested", func() {
			counts, updated, err := svc.ProcessEvents(ctx, []model.Event{rideRequest("evt-1", t0)})

			Convey("Then it fans out to two zooms and two windows", func() {
				So(err, ShouldBeNil)
				So(counts, ShouldResemble, model.Counts{Raw: 1, Normalized: 2, Deltas: 4, Persisted: 4})
				So(updated, ShouldHaveLength, 4)
				So(updated[model.WindowKey{Layer: model.LayerDemand, Zoom: 12, WindowSize: 60}], ShouldEqual, window60)
				So(sink.len(), ShouldEqual, 4)
			})

			Convey("Then the latest demand tile has one cell with count 1", func() {
				tile, err := svc.GetTile(ctx, service.TileQuery{Layer: model.LayerDemand, Zoom: 12, WindowSize: 60})
				So(err, ShouldBeNil)
				So(tile.WindowStart, ShouldEqual, window60)
				So(tile.Cells, ShouldHaveLength, 1)
				So(tile.Cells[0].Count, ShouldEqual, 1)
				So(tile.GeneratedAt, ShouldEqual, t0.Add(time.Minute))
			})

			Convey("Then a second event in the same cell is visible in the next tile read", func() {
				q := service.TileQuery{Layer: model.LayerDemand, Zoom: 12, WindowSize: 60}
				_, err := svc.GetTile(ctx, q)
				So(err, ShouldBeNil)

				_, _, err = svc.ProcessEvents(ctx, []model.Event{rideRequest("evt-2", t0.Add(10*time.Second))})
				So(err, ShouldBeNil)

				tile, err := svc.GetTile(ctx, q)
				So(err, ShouldBeNil)
				So(tile.Cells[0].Count, ShouldEqual, 2)

				q.Refresh = true
				refreshed, err := svc.GetTile(ctx, q)
				So(err, ShouldBeNil)
				So(refreshed.Cells[0].Count, ShouldEqual, 2)
			})

			Convey("Then a replayed event id is dropped", func() {
				counts, updated, err := svc.ProcessEvents(ctx, []model.Event{rideRequest("evt-1", t0)})
				So(err, ShouldBeNil)
				So(counts, ShouldResemble, model.Counts{Raw: 1})
				So(updated, ShouldBeEmpty)
			})

			Convey("Then the status reports totals and the last ingest time", func() {
				st := svc.Status()
				So(st.Counts, ShouldResemble, model.Counts{Raw: 1, Normalized: 2, Deltas: 4, Persisted: 4})
				So(st.LatestWindows, ShouldHaveLength, 4)
				So(st.LastIngestAt, ShouldNotBeNil)
				So(st.Background, ShouldBeNil)
			})
		})

		Convey("When the batch is empty", func() {
			_, _, err := svc.ProcessEvents(ctx, nil)

			Convey("Then it is rejected as invalid input", func() {
				So(errors.Is(err, service.ErrInvalidInput), ShouldBeTrue)
			})
		})

		Convey("When one event in the batch is invalid", func() {
			bad := rideRequest("", t0)
			_, _, err := svc.ProcessEvents(ctx, []model.Event{rideRequest("ok", t0), bad})

			Convey("Then nothing from the batch is applied", func() {
				So(errors.Is(err, service.ErrInvalidInput), ShouldBeTrue)
				So(err.Error(), ShouldContainSubstring, "events[1]")
				So(svc.Status().Counts.IsZero(), ShouldBeTrue)
				So(svc.Status().LastIngestAt, ShouldBeNil)
			})
		})

		Convey("When the sink fails", func() {
			sink.err = errors.New("broker down")
			counts, _, err := svc.ProcessEvents(ctx, []model.Event{rideRequest("evt-3", t0)})

			Convey("Then the batch still succeeds", func() {
				So(err, ShouldBeNil)
				So(counts.Persisted, ShouldEqual, 4)
			})
		})

		Convey("When the service stops", func() {
			svc.Stop()

			Convey("Then the sink is closed", func() {
				So(sink.closed, ShouldBeTrue)
			})
		})
	})
}

func TestGetTile(t *testing.T) {
	Convey("Given an empty service", t, func() {
		ctx := context.Background()
		svc := service.New()

		Convey("When no window has been seen", func() {
			_, err := svc.GetTile(ctx, service.TileQuery{Layer: model.LayerDemand, Zoom: 12, WindowSize: 60})

			Convey("Then ErrNoData is returned", func() {
				So(errors.Is(err, service.ErrNoData), ShouldBeTrue)
			})
		})

		Convey("When an explicit window start has no data", func() {
			start := window60
			tile, err := svc.GetTile(ctx, service.TileQuery{Layer: model.LayerSupply, Zoom: 10, WindowSize: 300, WindowStart: &start})

			Convey("Then an empty tile is returned", func() {
				So(err, ShouldBeNil)
				So(tile.Cells, ShouldBeEmpty)
				So(tile.WindowStart, ShouldEqual, window60)
			})
		})

		Convey("When many explicit window starts without data are queried", func() {
			for i := 0; i < 500; i++ {
				start := window60.Add(time.Duration(i) * time.Second)
				_, err := svc.GetTile(ctx, service.TileQuery{Layer: model.LayerDemand, Zoom: 12, WindowSize: 60, WindowStart: &start})
				So(err, ShouldBeNil)
			}

			Convey("Then none of them stay cached", func() {
				So(svc.GetStats()["cachedTiles"], ShouldEqual, 0)
			})
		})

		Convey("When the query is malformed", func() {
			cases := []service.TileQuery{
				{Layer: "", Zoom: 12, WindowSize: 60},
				{Layer: model.LayerDemand, Zoom: -1, WindowSize: 60},
				{Layer: model.LayerDemand, Zoom: grid.MaxZoom + 1, WindowSize: 60},
				{Layer: model.LayerDemand, Zoom: 12, WindowSize: 0},
			}

			Convey("Then each is rejected as invalid input", func() {
				for _, q := range cases {
					_, err := svc.GetTile(ctx, q)
					So(errors.Is(err, service.ErrInvalidInput), ShouldBeTrue)
				}
			})
		})
	})
}

func TestConcurrentIngestAndQuery(t *testing.T) {
	Convey("Given a service with one window already populated", t, func() {
		ctx := context.Background()
		svc := service.New()
		So(svc.Start(ctx), ShouldBeNil)
		Reset(svc.Stop)

		_, _, err := svc.ProcessEvents(ctx, []model.Event{rideRequest("seed", t0)})
		So(err, ShouldBeNil)

		Convey("When writers and readers run at the same time", func() {
			const (
				writers         = 8
				eventsPerWriter = 100
				readers         = 8
			)
			q := service.TileQuery{Layer: model.LayerDemand, Zoom: 12, WindowSize: 60}

			var (
				writeWG, readWG sync.WaitGroup
				mu              sync.Mutex
				errs            []error
				regressions     int
			)
			record := func(err error) {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			done := make(chan struct{})

			for w := 0; w < writers; w++ {
				writeWG.Add(1)
				go func(w int) {
					defer writeWG.Done()
					for i := 0; i < eventsPerWriter; i++ {
						e := rideRequest(fmt.Sprintf("w%d-%d", w, i), t0)
						if _, _, err := svc.ProcessEvents(ctx, []model.Event{e}); err != nil {
							record(err)
						}
					}
				}(w)
			}
			for r := 0; r < readers; r++ {
				readWG.Add(1)
				go func(r int) {
					defer readWG.Done()
					last := 0
					for i := 0; ; i++ {
						select {
						case <-done:
							return
						default:
						}
						rq := q
						rq.Refresh = (r+i)%2 == 0
						tile, err := svc.GetTile(ctx, rq)
						if err != nil {
							record(err)
							return
						}
						if len(tile.Cells) != 1 {
							record(fmt.Errorf("tile has %d cells", len(tile.Cells)))
							return
						}
						if tile.Cells[0].Count < last {
							mu.Lock()
							regressions++
							mu.Unlock()
						}
						last = tile.Cells[0].Count
					}
				}(r)
			}
			writeWG.Wait()
			close(done)
			readWG.Wait()

			Convey("Then every write lands and no reader sees a count go backwards", func() {
				So(errs, ShouldBeEmpty)
				So(regressions, ShouldEqual, 0)

				tile, err := svc.GetTile(ctx, q)
				So(err, ShouldBeNil)
				So(tile.Cells, ShouldHaveLength, 1)
				So(tile.Cells[0].Count, ShouldEqual, 1+writers*eventsPerWriter)
				So(svc.Status().Counts.Raw, ShouldEqual, 1+writers*eventsPerWriter)
			})
		})
	})
}

func TestBootstrap(t *testing.T) {
	Convey("Given a service seeded through the pipeline", t, func() {
		ctx := context.Background()
		svc := service.New(service.WithQueueSize(2))
		events := []model.Event{
			rideRequest("a", t0),
			rideRequest("", t0),
			rideRequest("b", t0.Add(time.Second)),
		}

		counts, err := svc.Bootstrap(ctx, events)

		Convey("Then invalid events are skipped and the rest aggregated", func() {
			So(err, ShouldBeNil)
			So(counts, ShouldResemble, model.Counts{Raw: 2, Normalized: 4, Deltas: 8, Persisted: 8})

			tile, err := svc.GetTile(ctx, service.TileQuery{Layer: model.LayerDemand, Zoom: 12, WindowSize: 60})
			So(err, ShouldBeNil)
			So(tile.Cells, ShouldHaveLength, 1)
			So(tile.Cells[0].Count, ShouldEqual, 2)
			So(svc.Status().LastIngestAt, ShouldNotBeNil)
		})
	})
}

func TestRetention(t *testing.T) {
	Convey("Given a service that keeps one minute of history", t, func() {
		ctx := context.Background()
		svc := service.New(
			service.WithWindowSizes(60),
			service.WithZoomLevels(12),
			service.WithRetention(aggregate.MaxAge{Age: time.Minute}),
		)

		_, _, err := svc.ProcessEvents(ctx, []model.Event{rideRequest("old", t0)})
		So(err, ShouldBeNil)

		Convey("When a much later event arrives", func() {
			_, _, err := svc.ProcessEvents(ctx, []model.Event{rideRequest("new", t0.Add(10*time.Minute))})
			So(err, ShouldBeNil)

			Convey("Then the expired window is pruned", func() {
				start := window60
				tile, err := svc.GetTile(ctx, service.TileQuery{Layer: model.LayerDemand, Zoom: 12, WindowSize: 60, WindowStart: &start})
				So(err, ShouldBeNil)
				So(tile.Cells, ShouldBeEmpty)

				latest, err := svc.GetTile(ctx, service.TileQuery{Layer: model.LayerDemand, Zoom: 12, WindowSize: 60})
				So(err, ShouldBeNil)
				So(latest.WindowStart, ShouldEqual, window60.Add(10*time.Minute))
				So(latest.Cells, ShouldHaveLength, 1)
			})
		})
	})
}

func TestBackgroundIngestion(t *testing.T) {
	Convey("Given a service on a fake clock", t, func() {
		clock := clockwork.NewFakeClockAt(t0)
		svc := service.New(
			service.WithClock(clock),
			service.WithEventSource(&sequenceSource{}),
		)
		Reset(svc.Stop)

		Convey("When invalid parameters are given", func() {
			Convey("Then start is rejected", func() {
				So(errors.Is(svc.StartBackgroundIngestion(0, 5), service.ErrInvalidInput), ShouldBeTrue)
				So(errors.Is(svc.StartBackgroundIngestion(time.Second, 0), service.ErrInvalidInput), ShouldBeTrue)
			})
		})

		Convey("When ingestion starts", func() {
			So(svc.StartBackgroundIngestion(time.Second, 3), ShouldBeNil)

			Convey("Then nothing is ingested before the first interval", func() {
				So(svc.Status().Counts.Raw, ShouldEqual, 0)
				st := svc.Status()
				So(st.Background, ShouldNotBeNil)
				So(st.Background.Active, ShouldBeTrue)
				So(st.Background.BatchSize, ShouldEqual, 3)
				So(st.Background.Interval, ShouldEqual, time.Second)
			})

			Convey("Then a second start is a no-op", func() {
				So(svc.StartBackgroundIngestion(time.Minute, 10), ShouldBeNil)
				So(svc.Status().Background.BatchSize, ShouldEqual, 3)
			})

			Convey("Then each tick ingests one batch", func() {
				clock.Advance(time.Second)
				So(waitFor(func() bool { return svc.Status().Counts.Raw == 3 }), ShouldBeTrue)
			})

			Convey("Then stopping clears the configuration", func() {
				svc.StopBackgroundIngestion()
				So(svc.Status().Background, ShouldBeNil)
			})
		})
	})
}

// blockingSource parks Generate until release is closed.
type blockingSource struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingSource) Generate(now time.Time, count int) []model.Event {
	b.once.Do(func() { close(b.entered) })
	<-b.release
	return []model.Event{rideRequest("blocked-"+now.String(), now)}
}

func TestBackgroundStopTimeout(t *testing.T) {
	Convey("Given a background loop stuck in its batch", t, func() {
		clock := clockwork.NewFakeClockAt(t0)
		src := &blockingSource{entered: make(chan struct{}), release: make(chan struct{})}
		svc := service.New(
			service.WithClock(clock),
			service.WithEventSource(src),
			service.WithBackgroundStopTimeout(20*time.Millisecond),
		)
		So(svc.StartBackgroundIngestion(time.Second, 1), ShouldBeNil)
		clock.Advance(time.Second)
		<-src.entered

		Convey("When stop gives up waiting", func() {
			svc.StopBackgroundIngestion()

			Convey("Then a new start is refused until the old loop exits", func() {
				So(svc.Status().Background, ShouldBeNil)
				So(errors.Is(svc.StartBackgroundIngestion(time.Second, 1), service.ErrBackgroundStopping), ShouldBeTrue)
				So(svc.GetStats()["backgroundActive"], ShouldBeFalse)

				close(src.release)
				So(waitFor(func() bool { return svc.StartBackgroundIngestion(time.Second, 1) == nil }), ShouldBeTrue)
				So(svc.Status().Background.Active, ShouldBeTrue)
				svc.StopBackgroundIngestion()
			})
		})
	})
}

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

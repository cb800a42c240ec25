package tiles_test

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/geoheat/internal/adapters/repository"
	"github.com/okian/geoheat/internal/domain/model"
	"github.com/okian/geoheat/internal/domain/tiles"
)

var start = time.Date(2025, 10, 17, 21, 30, 0, 0, time.UTC)

func key() model.TileKey {
	return model.TileKey{Layer: model.LayerDemand, Zoom: 12, WindowSize: 60, WindowStart: start}
}

func upsert(ctx context.Context, store repository.Store, cell string, count int) {
	err := store.Upsert(ctx, model.AggregateDelta{
		Layer:       model.LayerDemand,
		ZoomLevel:   12,
		CellID:      cell,
		WindowSize:  60,
		WindowStart: start,
		Count:       count,
	})
	So(err, ShouldBeNil)
}

func TestBuilder(t *testing.T) {
	Convey("Given a builder over an in-memory store", t, func() {
		ctx := context.Background()
		store := repository.NewMemoryStore()
		clock := clockwork.NewFakeClockAt(time.Date(2025, 10, 17, 21, 31, 0, 0, time.UTC))
		builder := tiles.NewBuilder(store, tiles.WithClock(clock))

		upsert(ctx, store, "cell_z12_b", 2)
		upsert(ctx, store, "cell_z12_a", 5)

		Convey("When a tile is built", func() {
			tile, err := builder.Build(ctx, key())

			Convey("Then it should hold every cell sorted by id", func() {
				So(err, ShouldBeNil)
				So(tile.Layer, ShouldEqual, model.LayerDemand)
				So(tile.Zoom, ShouldEqual, 12)
				So(tile.WindowSizeSeconds, ShouldEqual, 60)
				So(tile.WindowStart, ShouldEqual, start)
				So(tile.GeneratedAt, ShouldEqual, clock.Now().UTC())
				So(tile.Cells, ShouldResemble, []model.TileCell{
					{CellID: "cell_z12_a", Count: 5},
					{CellID: "cell_z12_b", Count: 2},
				})
				So(builder.CacheSize(), ShouldEqual, 1)
			})

			Convey("And a second build should return the cached pointer", func() {
				clock.Advance(time.Minute)
				upsert(ctx, store, "cell_z12_a", 6)
				again, err := builder.Build(ctx, key())
				So(err, ShouldBeNil)
				So(again, ShouldPointTo, tile)
				So(again.Cells[0].Count, ShouldEqual, 5)
			})

			Convey("And invalidation should force a fresh build", func() {
				clock.Advance(time.Minute)
				upsert(ctx, store, "cell_z12_a", 6)
				builder.Invalidate(key())
				So(builder.CacheSize(), ShouldEqual, 0)

				fresh, err := builder.Build(ctx, key())
				So(err, ShouldBeNil)
				So(fresh, ShouldNotPointTo, tile)
				So(fresh.Cells[0].Count, ShouldEqual, 6)
				So(fresh.GeneratedAt, ShouldEqual, clock.Now().UTC())
			})

			Convey("And refresh should rebuild in one step", func() {
				upsert(ctx, store, "cell_z12_c", 1)
				fresh, err := builder.Refresh(ctx, key())
				So(err, ShouldBeNil)
				So(fresh, ShouldNotPointTo, tile)
				So(fresh.Cells, ShouldHaveLength, 3)
			})
		})

		Convey("When invalidating a key that was never built", func() {
			Convey("Then nothing should happen", func() {
				So(func() { builder.Invalidate(key()) }, ShouldNotPanic)
				So(builder.CacheSize(), ShouldEqual, 0)
			})
		})

		Convey("When building a tile without data", func() {
			empty := key()
			empty.Zoom = 5
			tile, err := builder.Build(ctx, empty)

			Convey("Then an empty tile should be returned without being cached", func() {
				So(err, ShouldBeNil)
				So(tile.Cells, ShouldBeEmpty)
				So(tile.Key(), ShouldResemble, empty)
				So(builder.CacheSize(), ShouldEqual, 0)
			})

			Convey("And many distinct empty keys should not grow the cache", func() {
				for i := 0; i < 1000; i++ {
					k := empty
					k.WindowStart = k.WindowStart.Add(time.Duration(i) * time.Second)
					_, err := builder.Build(ctx, k)
					So(err, ShouldBeNil)
				}
				So(builder.CacheSize(), ShouldEqual, 0)
			})

			Convey("And the tile should be cached once data lands", func() {
				d := model.AggregateDelta{Layer: empty.Layer, ZoomLevel: empty.Zoom, CellID: "cell_z5_1_1",
					WindowSize: empty.WindowSize, WindowStart: empty.WindowStart, Count: 1}
				So(store.Upsert(ctx, d), ShouldBeNil)
				filled, err := builder.Build(ctx, empty)
				So(err, ShouldBeNil)
				So(filled.Cells, ShouldHaveLength, 1)
				So(builder.CacheSize(), ShouldEqual, 1)
			})
		})

		Convey("When the context is already cancelled on a miss", func() {
			cctx, cancel := context.WithCancel(ctx)
			cancel()
			_, err := builder.Build(cctx, key())

			Convey("Then the build should fail without caching", func() {
				So(err, ShouldEqual, context.Canceled)
				So(builder.CacheSize(), ShouldEqual, 0)
			})
		})
	})
}

func TestAPI(t *testing.T) {
	Convey("Given the heatmap API", t, func() {
		ctx := context.Background()
		store := repository.NewMemoryStore()
		builder := tiles.NewBuilder(store)
		api := tiles.NewAPI(builder)
		upsert(ctx, store, "cell_z12_a", 1)

		Convey("Then GetTile should delegate to the builder cache", func() {
			first, err := api.GetTile(ctx, key())
			So(err, ShouldBeNil)
			direct, _ := builder.Build(ctx, key())
			So(direct, ShouldPointTo, first)
		})
	})
}

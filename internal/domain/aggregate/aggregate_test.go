package aggregate_test

import (
	"context"
	"testing"
	"time"

	"github.com/okian/geoheat/internal/domain/aggregate"
	"github.com/okian/geoheat/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func normalized(cell string, ts time.Time) model.NormalizedEvent {
	return model.NormalizedEvent{
		EventID:   "evt",
		EventType: "ride_request",
		Timestamp: ts,
		CityID:    "san_francisco",
		CellID:    cell,
		ZoomLevel: 12,
		Layer:     model.LayerDemand,
	}
}

func TestAggregator(t *testing.T) {
	Convey("Given an aggregator with 60s and 300s windows", t, func() {
		ctx := context.Background()
		a := aggregate.New([]int{60, 300})
		ts := time.Date(2025, 10, 17, 21, 30, 5, 0, time.UTC)

		Convey("When one event is processed", func() {
			deltas := a.Process(ctx, normalized("cell_a", ts))

			Convey("Then one delta per window size should be emitted with count 1", func() {
				So(deltas, ShouldHaveLength, 2)
				So(deltas[0].WindowSize, ShouldEqual, 60)
				So(deltas[0].WindowStart, ShouldEqual, time.Date(2025, 10, 17, 21, 30, 0, 0, time.UTC))
				So(deltas[1].WindowSize, ShouldEqual, 300)
				So(deltas[1].WindowStart, ShouldEqual, time.Date(2025, 10, 17, 21, 25, 0, 0, time.UTC))
				for _, d := range deltas {
					So(d.Count, ShouldEqual, 1)
					So(d.CellID, ShouldEqual, "cell_a")
					So(d.Layer, ShouldEqual, model.LayerDemand)
					So(d.ZoomLevel, ShouldEqual, 12)
				}
			})
		})

		Convey("When three events hit the same key", func() {
			var counts []int
			for i := 0; i < 3; i++ {
				deltas := a.Process(ctx, normalized("cell_a", ts.Add(time.Duration(i)*time.Second)))
				counts = append(counts, deltas[0].Count)
			}

			Convey("Then counts should increase 1, 2, 3 in submission order", func() {
				So(counts, ShouldResemble, []int{1, 2, 3})
			})
		})

		Convey("When events fall into different cells or windows", func() {
			a.Process(ctx, normalized("cell_a", ts))
			other := a.Process(ctx, normalized("cell_b", ts))
			later := a.Process(ctx, normalized("cell_a", ts.Add(time.Minute)))

			Convey("Then each key should be counted independently", func() {
				So(other[0].Count, ShouldEqual, 1)
				So(later[0].Count, ShouldEqual, 1) // next 60s window
				So(later[1].Count, ShouldEqual, 2) // same 300s window
				So(a.Len(), ShouldEqual, 5)
			})
		})

		Convey("When pruning with the default policy", func() {
			a.Process(ctx, normalized("cell_a", ts))

			Convey("Then nothing should be removed", func() {
				So(a.Prune(ts.Add(24*time.Hour)), ShouldEqual, 0)
				So(a.Len(), ShouldEqual, 2)
			})
		})
	})

	Convey("Given an aggregator with a MaxAge retention", t, func() {
		ctx := context.Background()
		a := aggregate.New([]int{60}, aggregate.WithRetention(aggregate.MaxAge{Age: 10 * time.Minute}))
		ts := time.Date(2025, 10, 17, 21, 30, 5, 0, time.UTC)
		a.Process(ctx, normalized("cell_a", ts))
		a.Process(ctx, normalized("cell_a", ts.Add(20*time.Minute)))

		Convey("When pruning at the latest event time", func() {
			removed := a.Prune(ts.Add(20 * time.Minute))

			Convey("Then only the stale window should be removed", func() {
				So(removed, ShouldEqual, 1)
				So(a.Len(), ShouldEqual, 1)
			})

			Convey("And a late event for the pruned window should start over", func() {
				deltas := a.Process(ctx, normalized("cell_a", ts))
				So(deltas[0].Count, ShouldEqual, 1)
			})
		})
	})

	Convey("Given invalid window sizes", t, func() {
		a := aggregate.New([]int{0, -5, 60})

		Convey("Then they should be ignored", func() {
			So(a.WindowSizes(), ShouldResemble, []int{60})
			So(a.Retention(), ShouldHaveSameTypeAs, aggregate.KeepAll{})
		})
	})
}

package testevents_test

import (
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/geoheat/internal/domain/model"
	"github.com/okian/geoheat/internal/testevents"
)

func TestGenerateSampleEvents(t *testing.T) {
	Convey("Given a synthetic generator", t, func() {
		now := time.Date(2025, 10, 17, 21, 30, 0, 0, time.UTC)

		Convey("When a batch is generated", func() {
			events := testevents.GenerateSampleEvents(now, "oakland", 200)

			Convey("Then every event is valid and within the lookback", func() {
				So(events, ShouldHaveLength, 200)
				for i := range events {
					e := events[i]
					So(e.Validate(), ShouldBeNil)
					So(e.CityID, ShouldEqual, "oakland")
					So(e.EventID, ShouldStartWith, "evt_")
					So(e.Timestamp.After(now), ShouldBeFalse)
					So(e.Timestamp.Before(now.Add(-120*time.Second)), ShouldBeFalse)
					So(e.Latitude, ShouldAlmostEqual, testevents.DefaultLatitude, 0.02)
					So(e.Longitude, ShouldAlmostEqual, testevents.DefaultLongitude, 0.02)
					So(e.EventType, ShouldBeIn, model.EventTypeRideRequest, "driver_ping")
					So(e.Metadata["source"], ShouldEqual, "simulation")
				}
			})

			Convey("Then events are sorted by timestamp", func() {
				for i := 1; i < len(events); i++ {
					So(events[i].Timestamp.Before(events[i-1].Timestamp), ShouldBeFalse)
				}
			})
		})

		Convey("When two batches are generated", func() {
			gen := testevents.NewGenerator(testevents.WithSeed(7))
			a := gen.Generate(now, 10)
			b := gen.Generate(now, 10)

			Convey("Then ids never repeat", func() {
				seen := make(map[string]bool)
				for _, e := range append(a, b...) {
					So(seen[e.EventID], ShouldBeFalse)
					seen[e.EventID] = true
				}
			})
		})

		Convey("When the count is not positive", func() {
			Convey("Then nothing is generated", func() {
				So(testevents.NewGenerator().Generate(now, 0), ShouldBeEmpty)
			})
		})
	})
}

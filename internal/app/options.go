package service

import (
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/okian/geoheat/internal/domain/aggregate"
	"github.com/okian/geoheat/internal/domain/grid"
	"github.com/okian/geoheat/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithZoomLevels sets the zoom levels every event is projected onto.
func WithZoomLevels(levels ...int) Option {
	return func(s *Service) {
		valid := make([]int, 0, len(levels))
		for _, z := range levels {
			if z >= 0 && z <= grid.MaxZoom {
				valid = append(valid, z)
			}
		}
		if len(valid) > 0 {
			s.zoomLevels = valid
		}
	}
}

// WithWindowSizes sets the tumbling window sizes in seconds.
func WithWindowSizes(sizes ...int) Option {
	return func(s *Service) {
		valid := make([]int, 0, len(sizes))
		for _, w := range sizes {
			if w > 0 {
				valid = append(valid, w)
			}
		}
		if len(valid) > 0 {
			s.windowSizes = valid
		}
	}
}

// WithBaseCellSize sets the grid cell size in degrees at zoom <= 8.
func WithBaseCellSize(deg float64) Option {
	return func(s *Service) {
		if deg > 0 {
			s.baseCellSize = deg
		}
	}
}

// WithDedupeRetention sets how long event ids are remembered.
func WithDedupeRetention(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.dedupeRetention = d
		}
	}
}

// WithDedupeSize bounds the number of remembered event ids.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithRetention sets the aggregate retention policy. Anything other than
// aggregate.KeepAll enables pruning after every batch.
func WithRetention(policy aggregate.RetentionPolicy) Option {
	return func(s *Service) {
		if policy != nil {
			s.retention = policy
		}
	}
}

// WithQueueSize bounds each pipeline queue used by Bootstrap.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithClock sets the clock used for tile stamps, ingest times and the
// background ticker.
func WithClock(clock clockwork.Clock) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithEventSource sets where background batches come from.
func WithEventSource(src EventSource) Option {
	return func(s *Service) {
		if src != nil {
			s.source = src
		}
	}
}

// WithBackgroundStopTimeout bounds how long StopBackgroundIngestion waits for
// the in-flight batch.
func WithBackgroundStopTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.bg.stopTimeout = d
		}
	}
}

// WithDeltaSink publishes every persisted delta after each batch.
func WithDeltaSink(sink DeltaSink) Option {
	return func(s *Service) {
		if sink != nil {
			s.sink = sink
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(logger logger.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

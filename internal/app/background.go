package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/geoheat/internal/domain/model"
	"github.com/okian/geoheat/pkg/logger"
	"github.com/okian/geoheat/pkg/metrics"
)

const defaultBackgroundStopTimeout = 5 * time.Second

// background holds the state of the periodic synthetic ingestion loop.
// done outlives cancel when a stop times out, until the loop really exits.
type background struct {
	mu          sync.Mutex
	cancel      context.CancelFunc
	done        chan struct{}
	interval    time.Duration
	batchSize   int
	configured  bool
	stopTimeout time.Duration
}

// stillRunning reports whether a previously stopped loop has not exited yet.
// Must be called with b.mu held.
func (b *background) stillRunning() bool {
	if b.done == nil {
		return false
	}
	select {
	case <-b.done:
		b.done = nil
		return false
	default:
		return true
	}
}

func (b *background) isActive() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cancel != nil
}

// BackgroundStatus describes the background ingestion loop.
type BackgroundStatus struct {
	Interval  time.Duration
	BatchSize int
	Active    bool
}

// Status is a snapshot of the service state.
type Status struct {
	Counts        model.Counts
	LatestWindows map[model.WindowKey]time.Time
	LastIngestAt  *time.Time
	Background    *BackgroundStatus
}

// StartBackgroundIngestion generates a batch of batchSize synthetic events
// every interval. The first batch is produced one interval after the call.
// Calling it while a loop is running is a no-op. If a stopped loop has not
// exited yet it returns ErrBackgroundStopping instead of starting a second one.
func (s *Service) StartBackgroundIngestion(interval time.Duration, batchSize int) error {
	if interval <= 0 {
		return fmt.Errorf("%w: interval must be positive", ErrInvalidInput)
	}
	if batchSize <= 0 {
		return fmt.Errorf("%w: batch size must be positive", ErrInvalidInput)
	}

	s.bg.mu.Lock()
	defer s.bg.mu.Unlock()

	if s.bg.cancel != nil {
		return nil
	}
	if s.bg.stillRunning() {
		return ErrBackgroundStopping
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.bg.cancel = cancel
	s.bg.done = done
	s.bg.interval = interval
	s.bg.batchSize = batchSize
	s.bg.configured = true

	ticker := s.clock.NewTicker(interval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		s.backgroundLoop(ctx, ticker.Chan(), batchSize)
	}()

	s.logger.Info(ctx, "background ingestion started",
		logger.Duration("interval", interval),
		logger.Int("batchSize", batchSize),
	)
	return nil
}

// StopBackgroundIngestion stops the loop and waits for the in-flight batch.
// The configuration is forgotten, so Status reports no background ingestion.
func (s *Service) StopBackgroundIngestion() {
	s.bg.mu.Lock()
	cancel, done, timeout := s.bg.cancel, s.bg.done, s.bg.stopTimeout
	s.bg.cancel = nil
	s.bg.configured = false
	s.bg.interval = 0
	s.bg.batchSize = 0
	s.bg.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	select {
	case <-done:
		s.bg.mu.Lock()
		if s.bg.done == done {
			s.bg.done = nil
		}
		s.bg.mu.Unlock()
		s.logger.Info(context.Background(), "background ingestion stopped")
	case <-time.After(timeout):
		s.logger.Warn(context.Background(), "background ingestion did not stop in time",
			logger.Duration("timeout", timeout))
	}
}

func (s *Service) backgroundLoop(ctx context.Context, ticks <-chan time.Time, batchSize int) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticks:
		}

		batchID := uuid.NewString()
		events := s.source.Generate(s.clock.Now().UTC(), batchSize)
		if len(events) == 0 {
			continue
		}
		counts, _, err := s.ProcessEvents(ctx, events)
		if err != nil {
			metrics.RecordErrorByComponent("background", "batch_failed")
			s.logger.Error(ctx, "background batch failed", logger.String("batchID", batchID), logger.Error(err))
			continue
		}
		metrics.RecordBackgroundBatch()
		s.logger.Debug(ctx, "background batch ingested",
			logger.String("batchID", batchID),
			logger.Int("raw", counts.Raw),
			logger.Int("deltas", counts.Deltas),
		)
	}
}

// Status returns counts, latest windows, the last ingest time and the
// background ingestion state (nil when not configured).
func (s *Service) Status() Status {
	s.mu.RLock()
	st := Status{
		Counts:        s.counts,
		LatestWindows: make(map[model.WindowKey]time.Time, len(s.latestWindows)),
	}
	for k, v := range s.latestWindows {
		st.LatestWindows[k] = v
	}
	if !s.lastIngestAt.IsZero() {
		ts := s.lastIngestAt
		st.LastIngestAt = &ts
	}
	s.mu.RUnlock()

	s.bg.mu.Lock()
	if s.bg.configured {
		st.Background = &BackgroundStatus{
			Interval:  s.bg.interval,
			BatchSize: s.bg.batchSize,
			Active:    s.bg.cancel != nil,
		}
	}
	s.bg.mu.Unlock()
	return st
}

// Package worker runs pipeline stages that move items between queues.
package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/geoheat/pkg/logger"
	"github.com/okian/geoheat/pkg/metrics"
)

// Source defines how a stage receives items.
type Source[T any] interface {
	Dequeue(ctx context.Context) <-chan T
}

// Sink defines how a stage hands items downstream.
type Sink[T any] interface {
	Put(ctx context.Context, item T) error
	Close() error
}

// Func transforms one input into zero or more outputs.
type Func[In, Out any] func(ctx context.Context, in In) ([]Out, error)

// Stats summarizes what a stage has done so far.
type Stats struct {
	Name     string
	Received int64
	Emitted  int64
}

// Stage drains its source through fn into its sink. When the source is
// exhausted, fn fails or ctx is cancelled, the sink is closed exactly once.
type Stage[In, Out any] struct {
	cfg  config
	in   Source[In]
	out  Sink[Out]
	fn   Func[In, Out]
	once sync.Once

	received atomic.Int64
	emitted  atomic.Int64
}

// NewStage creates a stage reading from in and writing to out.
func NewStage[In, Out any](in Source[In], out Sink[Out], fn Func[In, Out], opts ...Option) *Stage[In, Out] {
	cfg := config{name: "stage"}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = logger.Get().Named(cfg.name)
	}
	return &Stage[In, Out]{cfg: cfg, in: in, out: out, fn: fn}
}

// Name returns the stage name.
func (s *Stage[In, Out]) Name() string {
	return s.cfg.name
}

// Stats returns how many items were received and emitted.
func (s *Stage[In, Out]) Stats() Stats {
	return Stats{Name: s.cfg.name, Received: s.received.Load(), Emitted: s.emitted.Load()}
}

// Run processes items until the source closes. It blocks the caller.
func (s *Stage[In, Out]) Run(ctx context.Context) error {
	metrics.UpdateStageActive(s.cfg.name, true)
	defer func() {
		s.closeOutput(ctx)
		metrics.UpdateStageActive(s.cfg.name, false)
	}()

	items := s.in.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case item, ok := <-items:
			if !ok {
				if err := ctx.Err(); err != nil {
					return err
				}
				s.cfg.logger.Debug(ctx, "stage drained",
					logger.Int64("received", s.received.Load()),
					logger.Int64("emitted", s.emitted.Load()),
				)
				return nil
			}
			if err := s.process(ctx, item); err != nil {
				return err
			}
		}
	}
}

func (s *Stage[In, Out]) process(ctx context.Context, item In) error {
	start := time.Now()
	defer func() {
		metrics.RecordStageProcessingLatency(s.cfg.name, float64(time.Since(start).Microseconds())/1000)
	}()

	s.received.Add(1)
	outs, err := s.fn(ctx, item)
	if err != nil {
		metrics.RecordStageError(s.cfg.name)
		metrics.RecordErrorByComponent("worker", "stage_error")
		s.cfg.logger.Error(ctx, "stage failed", logger.Error(err))
		return fmt.Errorf("stage %s: %w", s.cfg.name, err)
	}
	for _, o := range outs {
		if err := s.out.Put(ctx, o); err != nil {
			return fmt.Errorf("stage %s: %w", s.cfg.name, err)
		}
		s.emitted.Add(1)
	}
	return nil
}

func (s *Stage[In, Out]) closeOutput(ctx context.Context) {
	s.once.Do(func() {
		if err := s.out.Close(); err != nil {
			s.cfg.logger.Error(ctx, "error closing output", logger.Error(err))
		}
	})
}

// Discard is a Sink that drops every item; use it for terminal stages.
type Discard[T any] struct{}

// Put drops item.
func (Discard[T]) Put(context.Context, T) error { return nil }

// Close is a no-op.
func (Discard[T]) Close() error { return nil }

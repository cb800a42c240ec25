package pipeline

import "github.com/okian/geoheat/pkg/logger"

const defaultQueueCapacity = 1024

// Option applies a configuration option to the Runner.
type Option func(*Runner)

// WithQueueCapacity bounds each inter-stage queue.
func WithQueueCapacity(capacity int) Option {
	return func(r *Runner) {
		if capacity > 0 {
			r.queueCapacity = capacity
		}
	}
}

// WithLogger sets a custom logger for the runner.
func WithLogger(l logger.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

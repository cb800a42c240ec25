package worker

import (
	"github.com/okian/geoheat/pkg/logger"
)

// config holds the type-independent settings of a stage.
type config struct {
	name   string
	logger logger.Logger
}

// Option applies a configuration option to a Stage.
type Option func(*config)

// WithName sets the stage name used for metrics and logging.
func WithName(name string) Option {
	return func(c *config) {
		if name != "" {
			c.name = name
		}
	}
}

// WithLogger sets a custom logger for the stage.
func WithLogger(logger logger.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

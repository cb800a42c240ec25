package tiles

import "github.com/jonboulle/clockwork"

// Option applies a configuration option to the Builder.
type Option func(*Builder)

// WithClock sets the clock used to stamp GeneratedAt.
func WithClock(clock clockwork.Clock) Option {
	return func(b *Builder) {
		if clock != nil {
			b.clock = clock
		}
	}
}

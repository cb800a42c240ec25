package dedupe

import "time"

// Option applies a configuration option to the InMemoryDeduper.
type Option func(*inMemoryDeduper)

// WithRetention sets how long an id is remembered, measured on event time.
func WithRetention(retention time.Duration) Option {
	return func(d *inMemoryDeduper) {
		if retention > 0 {
			d.retention = retention
		}
	}
}

// WithMaxSize sets a hard bound on retained ids.
// If maxSize > 0: the oldest id is evicted when the bound is reached.
// If maxSize <= 0: only the retention limits memory.
func WithMaxSize(maxSize int) Option {
	return func(d *inMemoryDeduper) {
		d.maxSize = maxSize
	}
}

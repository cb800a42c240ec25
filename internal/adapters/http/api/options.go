package api

// defaultMaxBodyBytes bounds POST /events bodies.
const defaultMaxBodyBytes = 8 << 20

type config struct {
	maxBodyBytes int64
}

func defaultConfig() config {
	return config{maxBodyBytes: defaultMaxBodyBytes}
}

// Option applies a configuration option to the Server.
type Option func(*config)

// WithMaxBodyBytes bounds the size of ingested request bodies.
func WithMaxBodyBytes(n int64) Option {
	return func(c *config) {
		if n > 0 {
			c.maxBodyBytes = n
		}
	}
}

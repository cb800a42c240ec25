// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New() to build a Config with defaults.
// - Load layers an optional YAML file and HEATMAP_* environment variables on top.
// - Validation failures wrap ErrInvalidConfig.
package config

import (
	"fmt"
	"time"

	"github.com/okian/geoheat/internal/domain/grid"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects the handler: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// ZoomLevels are the zoom levels every event is projected onto.
	ZoomLevels []int `koanf:"zoom_levels"`

	// WindowSizes are the tumbling window sizes in seconds.
	WindowSizes []int `koanf:"window_sizes"`

	// BaseCellSize is the grid cell size in degrees at zoom <= 8.
	BaseCellSize float64 `koanf:"base_cell_size"`

	// DedupeRetention is how long event ids are remembered, on event time.
	DedupeRetention time.Duration `koanf:"dedupe_retention"`

	// DedupeSize bounds remembered ids; 0 means retention only.
	DedupeSize int `koanf:"dedupe_size"`

	// QueueSize bounds each bootstrap pipeline queue.
	QueueSize int `koanf:"queue_size"`

	// RetentionMaxAge prunes windows older than this behind the newest
	// event. Zero keeps every window.
	RetentionMaxAge time.Duration `koanf:"retention_max_age"`

	// UseFixtures seeds from FixtureDir when it exists, otherwise
	// BootstrapEvents synthetic events are generated.
	UseFixtures     bool   `koanf:"use_fixtures"`
	FixtureDir      string `koanf:"fixture_dir"`
	BootstrapEvents int    `koanf:"bootstrap_events"`

	// AutoIngest enables background synthetic ingestion.
	AutoIngest      bool          `koanf:"auto_ingest"`
	IngestInterval  time.Duration `koanf:"ingest_interval"`
	IngestBatchSize int           `koanf:"ingest_batch_size"`

	// KafkaBrokers enables the delta export sink when non-empty.
	KafkaBrokers []string `koanf:"kafka_brokers"`
	KafkaTopic   string   `koanf:"kafka_topic"`

	// ShutdownTimeout bounds graceful HTTP shutdown.
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	// MetricsInterval is how often the system and service gauges are refreshed.
	MetricsInterval time.Duration `koanf:"metrics_interval"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:        "info",
		LogFormat:       "text",
		Addr:            ":8080",
		ZoomLevels:      []int{10, 12},
		WindowSizes:     []int{60, 300},
		BaseCellSize:    0.05,
		DedupeRetention: 15 * time.Minute,
		DedupeSize:      500_000,
		QueueSize:       1024,
		UseFixtures:     true,
		FixtureDir:      "data",
		BootstrapEvents: 200,
		IngestInterval:  5 * time.Second,
		IngestBatchSize: 25,
		KafkaTopic:      "heatmap.deltas",
		ShutdownTimeout: 10 * time.Second,
		MetricsInterval: 10 * time.Second,
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case len(c.ZoomLevels) == 0:
		return fmt.Errorf("%w: zoom_levels must not be empty", ErrInvalidConfig)
	case len(c.WindowSizes) == 0:
		return fmt.Errorf("%w: window_sizes must not be empty", ErrInvalidConfig)
	case c.BaseCellSize <= 0:
		return fmt.Errorf("%w: base_cell_size must be positive", ErrInvalidConfig)
	case c.DedupeRetention <= 0:
		return fmt.Errorf("%w: dedupe_retention must be positive", ErrInvalidConfig)
	case c.QueueSize <= 0:
		return fmt.Errorf("%w: queue_size must be positive", ErrInvalidConfig)
	case c.RetentionMaxAge < 0:
		return fmt.Errorf("%w: retention_max_age must not be negative", ErrInvalidConfig)
	case c.BootstrapEvents < 0:
		return fmt.Errorf("%w: bootstrap_events must not be negative", ErrInvalidConfig)
	case c.AutoIngest && c.IngestInterval <= 0:
		return fmt.Errorf("%w: ingest_interval must be positive", ErrInvalidConfig)
	case c.AutoIngest && c.IngestBatchSize <= 0:
		return fmt.Errorf("%w: ingest_batch_size must be positive", ErrInvalidConfig)
	case c.MetricsInterval <= 0:
		return fmt.Errorf("%w: metrics_interval must be positive", ErrInvalidConfig)
	case len(c.KafkaBrokers) > 0 && c.KafkaTopic == "":
		return fmt.Errorf("%w: kafka_topic is required with kafka_brokers", ErrInvalidConfig)
	}
	for _, z := range c.ZoomLevels {
		if z < 0 || z > grid.MaxZoom {
			return fmt.Errorf("%w: zoom level %d outside [0, %d]", ErrInvalidConfig, z, grid.MaxZoom)
		}
	}
	for _, w := range c.WindowSizes {
		if w <= 0 {
			return fmt.Errorf("%w: window size %d must be positive", ErrInvalidConfig, w)
		}
	}
	return nil
}

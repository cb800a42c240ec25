package testevents

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/okian/geoheat/internal/domain/model"
	"github.com/okian/geoheat/internal/domain/types"
	"github.com/okian/geoheat/pkg/logger"
)

// File permission constants.
const (
	directoryPermission = 0750
	filePermission      = 0600
)

// Run executes the complete load test.
func Run(ctx context.Context, config *Config) (*Stats, error) {
	stats := &Stats{
		StartTime: time.Now(),
	}

	logger.Get().Info(ctx, "starting heatmap event test",
		logger.String("baseURL", config.BaseURL),
		logger.Int("batches", config.Batches),
		logger.Int("batchSize", config.BatchSize),
		logger.Int("workers", config.Workers),
		logger.Duration("timeout", config.Timeout),
		logger.Bool("verbose", config.Verbose))

	// Step 1: Check service health
	if err := checkServiceHealth(ctx, config); err != nil {
		return stats, fmt.Errorf("service health check failed: %w", err)
	}

	// Step 2: Generate batches
	batches := generateBatches(config, time.Now().UTC(), stats)

	// Step 3: Submit batches concurrently
	windows, err := submitBatches(ctx, config, batches, stats)
	if err != nil {
		return stats, fmt.Errorf("batch submission failed: %w", err)
	}

	// Step 4: Verify tiles and status
	if err := verifyResults(ctx, config, windows, stats); err != nil {
		return stats, fmt.Errorf("result verification failed: %w", err)
	}

	// Step 5: Save events to file
	if config.OutputFile != "" {
		if err := saveEventsToFile(ctx, config.OutputFile, batches); err != nil {
			logger.Get().Warn(ctx, "failed to save events to file", logger.Error(err))
		}
	}

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)

	displayFinalStats(stats)

	logger.Get().Info(ctx, "test completed successfully")
	return stats, nil
}

// generateBatches fabricates config.Batches batches around the configured city.
func generateBatches(config *Config, now time.Time, stats *Stats) [][]model.Event {
	cityID := config.CityID
	if cityID == "" {
		cityID = DefaultCityID
	}
	gen := NewGenerator(WithCity(cityID, DefaultLatitude, DefaultLongitude))

	batches := make([][]model.Event, 0, config.Batches)
	for i := 0; i < config.Batches; i++ {
		batch := gen.Generate(now, config.BatchSize)
		stats.EventsGenerated += len(batch)
		batches = append(batches, batch)
	}
	return batches
}

// checkServiceHealth verifies the service is running.
func checkServiceHealth(ctx context.Context, config *Config) error {
	logger.Get().Info(ctx, "checking service health")

	client := newHTTPClient(config.Timeout)
	resp, err := client.Get(ctx, config.BaseURL+"/healthz")
	if err != nil {
		return fmt.Errorf("failed to connect to service: %w", err)
	}
	if _, err := readResponseBody(resp); err != nil {
		return fmt.Errorf("failed to read health response: %w", err)
	}

	// Accept any 200 response as healthy (the service returns Prometheus metrics)
	if resp.StatusCode != StatusOK {
		return fmt.Errorf("service health check failed with status: %d", resp.StatusCode)
	}

	logger.Get().Info(ctx, "service is healthy")
	return nil
}

// saveEventsToFile writes every generated event as one JSON array, in the
// fixture format accepted by LoadEventsFromFile.
func saveEventsToFile(ctx context.Context, filename string, batches [][]model.Event) error {
	var wire []types.Event
	for _, batch := range batches {
		for i := range batch {
			wire = append(wire, types.FromModel(batch[i]))
		}
	}
	if len(wire) == 0 {
		return fmt.Errorf("no events to save")
	}

	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, directoryPermission); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	data, err := json.MarshalIndent(wire, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal events: %w", err)
	}
	if err := os.WriteFile(filename, data, filePermission); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}

	logger.Get().Info(ctx, "events saved to file", logger.String("filename", filename), logger.Int("events", len(wire)))
	return nil
}

// displayFinalStats logs the final test statistics.
func displayFinalStats(stats *Stats) {
	var successRate, eventsPerSecond float64

	if stats.BatchesSubmitted > 0 {
		successRate = float64(stats.BatchesAccepted) / float64(stats.BatchesSubmitted) * PercentageMultiplier
	}

	if stats.Duration > 0 {
		eventsPerSecond = float64(stats.EventsRaw) / stats.Duration.Seconds()
	}

	logger.Get().Info(context.Background(), "final statistics",
		logger.Int("eventsGenerated", stats.EventsGenerated),
		logger.Int("batchesSubmitted", stats.BatchesSubmitted),
		logger.Int("batchesAccepted", stats.BatchesAccepted),
		logger.Int("batchesFailed", stats.BatchesFailed),
		logger.Int("eventsRaw", stats.EventsRaw),
		logger.Int("eventsNormalized", stats.EventsNormalized),
		logger.Int("deltasPersisted", stats.DeltasPersisted),
		logger.Int("tilesVerified", stats.TilesVerified),
		logger.Int("tileCells", stats.TileCells),
		logger.Duration("duration", stats.Duration),
		logger.Float64("successRate", successRate),
		logger.Float64("eventsPerSecond", eventsPerSecond))
}

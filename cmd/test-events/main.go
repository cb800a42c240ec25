package main

import (
	"context"
	"flag"
	"os"
	"runtime"
	"time"

	"github.com/joho/godotenv"

	"github.com/okian/geoheat/internal/testevents"
)

// Default configuration constants.
const (
	defaultBatches     = 100
	defaultBatchSize   = 50
	defaultWorkers     = 2 // multiplier for runtime.NumCPU()
	defaultTimeout     = 30 * time.Second
	defaultTestTimeout = 10 * time.Minute
)

func main() {
	_ = godotenv.Load(".env")

	var (
		baseURL    = flag.String("url", envOr("HEATMAP_URL", "http://localhost:8080"), "Base URL of the service")
		batches    = flag.Int("batches", defaultBatches, "Number of batches to submit")
		batchSize  = flag.Int("batch-size", defaultBatchSize, "Events per batch")
		workers    = flag.Int("workers", runtime.NumCPU()*defaultWorkers, "Number of concurrent workers")
		cityID     = flag.String("city", testevents.DefaultCityID, "City id stamped on generated events")
		timeout    = flag.Duration("timeout", defaultTimeout, "HTTP request timeout")
		outputFile = flag.String("output", "", "Output file for generated events")
		logFile    = flag.String("log", "", "Log file for test output (default: test_log_TIMESTAMP.log)")
		verbose    = flag.Bool("verbose", false, "Enable verbose logging")
		help       = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		testevents.ShowHelp()
		return
	}

	if err := testevents.SetupLogging(*logFile, *verbose); err != nil {
		os.Stderr.WriteString("Failed to setup logging: " + err.Error() + "\n")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultTestTimeout)
	defer cancel()

	config := &testevents.Config{
		BaseURL:    *baseURL,
		Batches:    *batches,
		BatchSize:  *batchSize,
		Workers:    *workers,
		Timeout:    *timeout,
		CityID:     *cityID,
		OutputFile: *outputFile,
		LogFile:    *logFile,
		Verbose:    *verbose,
	}

	if _, err := testevents.Run(ctx, config); err != nil {
		os.Stderr.WriteString("Test failed: " + err.Error() + "\n")
		cancel()
		os.Exit(1) //nolint:gocritic // exitAfterDefer: cancel is called explicitly
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

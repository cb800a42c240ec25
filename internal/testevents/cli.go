package testevents

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/okian/geoheat/pkg/logger"
)

// File permission constants.
const (
	logFilePermission = 0600
)

// SetupLogging configures logging to both console and file.
// If logFile is empty, a timestamped filename is generated.
func SetupLogging(logFile string, verbose bool) error {
	if logFile == "" {
		timestamp := time.Now().Format("20060102_150405")
		logFile = "test_log_" + timestamp + ".log"
	}

	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePermission)
	if err != nil {
		return fmt.Errorf("failed to create log file: %w", err)
	}

	level := "info"
	if verbose {
		level = "debug"
	}
	if err := logger.InitWithOptions(logger.Options{Level: level, Output: io.MultiWriter(os.Stdout, file)}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.Get().Info(context.Background(), "logging to file", logger.String("logFile", logFile))
	return nil
}

// ShowHelp prints usage information for the load-test tool.
func ShowHelp() {
	os.Stdout.WriteString(`Heatmap Event Test Tool
=======================

Posts synthetic event batches to a running heatmap service and verifies the
tiles of every window the batches updated.

Usage:
  go run cmd/test-events/main.go [options]

Options:
  -url string
        Base URL of the service (default "http://localhost:8080")
  -batches int
        Number of batches to submit (default 100)
  -batch-size int
        Events per batch (default 50)
  -workers int
        Number of concurrent workers (default CPU cores * 2)
  -city string
        City id stamped on generated events (default "san_francisco")
  -timeout duration
        HTTP request timeout (default 30s)
  -output string
        Output file for generated events (default: none)
  -log string
        Log file for test output (default: test_log_TIMESTAMP.log)
  -verbose
        Enable verbose logging
  -help
        Show this help message

Examples:
  # Test with default settings
  go run cmd/test-events/main.go

  # Larger run against another port
  go run cmd/test-events/main.go -batches 1000 -batch-size 200 -url http://localhost:9090
`)
}

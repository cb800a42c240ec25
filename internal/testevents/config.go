package testevents

import "time"

// Config holds configuration for the load test.
type Config struct {
	BaseURL    string        // Base URL of the service
	Batches    int           // Number of batches to submit
	BatchSize  int           // Events per batch
	Workers    int           // Number of concurrent workers
	Timeout    time.Duration // HTTP request timeout
	CityID     string        // City stamped on generated events
	OutputFile string        // Output file for events; empty disables saving
	LogFile    string        // Log file for test output
	Verbose    bool          // Enable verbose logging
}

// Stats holds test statistics.
type Stats struct {
	EventsGenerated  int
	BatchesSubmitted int
	BatchesAccepted  int
	BatchesFailed    int
	EventsRaw        int
	EventsNormalized int
	DeltasPersisted  int
	TilesVerified    int
	TileCells        int
	StartTime        time.Time
	EndTime          time.Time
	Duration         time.Duration
}

package service

import "errors"

// Sentinel kinds for service errors.
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNoData       = errors.New("no data for window")

	// ErrBackgroundStopping is returned by StartBackgroundIngestion while a
	// stopped loop that outlived its stop timeout is still running.
	ErrBackgroundStopping = errors.New("background ingestion still stopping")
)

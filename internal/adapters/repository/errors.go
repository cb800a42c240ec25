package repository

import "errors"

// Sentinel kinds for store errors.
var (
	ErrNotFound     = errors.New("aggregate not found")
	ErrInvalidDelta = errors.New("invalid aggregate delta")
)

package aggregate

import "time"

// RetentionPolicy decides when a window key may be forgotten.
type RetentionPolicy interface {
	// Expired reports whether the window [start, start+size) is too old
	// relative to watermark.
	Expired(start time.Time, size int, watermark time.Time) bool
}

// KeepAll never expires anything.
type KeepAll struct{}

// Expired always returns false.
func (KeepAll) Expired(time.Time, int, time.Time) bool { return false }

// MaxAge expires windows that ended more than Age before the watermark.
type MaxAge struct {
	Age time.Duration
}

// Expired reports whether the window end is older than watermark-Age.
func (p MaxAge) Expired(start time.Time, size int, watermark time.Time) bool {
	end := start.Add(time.Duration(size) * time.Second)
	return end.Before(watermark.Add(-p.Age))
}

// Package dedupe tracks recently seen event ids.
//
// The horizon follows the event stream's own clock: every call evicts ids
// whose seen-at timestamp is at least the retention older than the event
// being checked. Out-of-order streams therefore see a moving horizon; an
// event far in the future evicts everything recorded before it, and an
// event far in the past evicts nothing.
package dedupe

import (
	"container/heap"
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Default deduper configuration constants.
const (
	defaultRetention = 15 * time.Minute
	defaultMaxSize   = 0 // unbounded; the retention keeps memory in check
)

// Deduper records seen event IDs to drop duplicates inside the horizon.
type Deduper interface {
	// IsDuplicate reports whether id was seen within the retention of ts and
	// records it when it was not.
	IsDuplicate(ctx context.Context, id string, ts time.Time) bool

	// Size returns the number of ids currently retained.
	Size() int64
}

// entry is a heap element ordered by seen-at time.
type entry struct {
	id     string
	seenAt time.Time
	index  int
}

// byAge is a min-heap of entries, oldest first.
type byAge []*entry

func (h byAge) Len() int           { return len(h) }
func (h byAge) Less(i, j int) bool { return h[i].seenAt.Before(h[j].seenAt) }
func (h byAge) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *byAge) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *byAge) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// inMemoryDeduper implements Deduper with a map plus an age-ordered heap.
type inMemoryDeduper struct {
	mu        sync.Mutex
	seen      map[string]*entry
	ages      byAge
	retention time.Duration
	maxSize   int // 0 or negative = no hard bound
	size      atomic.Int64
}

// NewInMemoryDeduper creates a new in-memory deduper with configuration options.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &inMemoryDeduper{
		retention: defaultRetention,
		maxSize:   defaultMaxSize,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.seen = make(map[string]*entry)
	return d
}

// IsDuplicate reports whether id was already recorded. A new id is recorded at
// ts, then every entry older than the horizon ending at ts is evicted.
// Duplicates leave the state untouched, so the horizon only advances on new ids.
func (d *inMemoryDeduper) IsDuplicate(_ context.Context, id string, ts time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.seen[id]; exists {
		return true
	}

	if d.maxSize > 0 && len(d.seen) >= d.maxSize {
		d.evictOldest()
	}

	e := &entry{id: id, seenAt: ts}
	heap.Push(&d.ages, e)
	d.seen[id] = e
	d.evictBefore(ts.Add(-d.retention))
	d.size.Store(int64(len(d.seen)))
	return false
}

// evictBefore drops every entry seen at or before threshold.
// Must be called with d.mu held.
func (d *inMemoryDeduper) evictBefore(threshold time.Time) {
	for len(d.ages) > 0 && !d.ages[0].seenAt.After(threshold) {
		d.evictOldest()
	}
}

// evictOldest drops the entry with the oldest seen-at time.
// Must be called with d.mu held.
func (d *inMemoryDeduper) evictOldest() {
	if len(d.ages) == 0 {
		return
	}
	e := heap.Pop(&d.ages).(*entry)
	delete(d.seen, e.id)
	d.size.Store(int64(len(d.seen)))
}

// Size returns the current number of entries in the deduper.
func (d *inMemoryDeduper) Size() int64 {
	return d.size.Load()
}

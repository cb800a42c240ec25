package testevents

import (
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/geoheat/internal/domain/model"
)

// Synthetic event defaults, centred on San Francisco.
const (
	DefaultCityID    = "san_francisco"
	DefaultLatitude  = 37.7749
	DefaultLongitude = -122.4194
	defaultJitterDeg = 0.02
	defaultLookback  = 120 * time.Second
)

// eventTypes are picked uniformly for synthetic events.
var eventTypes = []string{model.EventTypeRideRequest, "driver_ping"} //nolint:gochecknoglobals // fixed choice set

// Generator fabricates events around a city centre.
type Generator struct {
	mu       sync.Mutex
	rng      *rand.Rand
	cityID   string
	lat, lon float64
	jitter   float64
	lookback time.Duration
}

// GeneratorOption applies a configuration option to the Generator.
type GeneratorOption func(*Generator)

// WithCity sets the city id and centre coordinates.
func WithCity(cityID string, lat, lon float64) GeneratorOption {
	return func(g *Generator) {
		if cityID != "" {
			g.cityID = cityID
			g.lat, g.lon = lat, lon
		}
	}
}

// WithSeed makes the generator deterministic.
func WithSeed(seed uint64) GeneratorOption {
	return func(g *Generator) {
		g.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
}

// NewGenerator creates a Generator.
func NewGenerator(opts ...GeneratorOption) *Generator {
	g := &Generator{
		rng:      rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		cityID:   DefaultCityID,
		lat:      DefaultLatitude,
		lon:      DefaultLongitude,
		jitter:   defaultJitterDeg,
		lookback: defaultLookback,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate returns count events with timestamps in [now-120s, now], sorted
// by time. Every call uses fresh ids so repeated batches are never deduped.
func (g *Generator) Generate(now time.Time, count int) []model.Event {
	if count <= 0 {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	now = now.UTC().Truncate(time.Second)
	lookbackSec := int64(g.lookback / time.Second)
	events := make([]model.Event, 0, count)
	for i := 0; i < count; i++ {
		events = append(events, model.Event{
			EventID:   "evt_" + uuid.NewString(),
			EventType: eventTypes[g.rng.IntN(len(eventTypes))],
			Timestamp: now.Add(-time.Duration(g.rng.Int64N(lookbackSec+1)) * time.Second),
			Latitude:  g.lat + (g.rng.Float64()*2-1)*g.jitter,
			Longitude: g.lon + (g.rng.Float64()*2-1)*g.jitter,
			CityID:    g.cityID,
			Metadata:  map[string]string{"source": "simulation"},
		})
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].Timestamp.Before(events[j].Timestamp) })
	return events
}

// GenerateSampleEvents fabricates count events for cityID around San Francisco.
func GenerateSampleEvents(now time.Time, cityID string, count int) []model.Event {
	return NewGenerator(WithCity(cityID, DefaultLatitude, DefaultLongitude)).Generate(now, count)
}

package testevents

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/okian/geoheat/internal/domain/model"
	"github.com/okian/geoheat/internal/domain/types"
)

// LoadEventsFromFile reads a JSON fixture holding an array of events (or an
// {"events": [...]} object).
func LoadEventsFromFile(path string) ([]model.Event, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	events, err := types.DecodeEvents(data)
	if err != nil {
		return nil, fmt.Errorf("decode fixture %s: %w", path, err)
	}
	return events, nil
}

// LoadEventsFromDirectory concatenates every *.json fixture in dir in file
// name order.
func LoadEventsFromDirectory(dir string) ([]model.Event, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("list fixtures in %s: %w", dir, err)
	}
	sort.Strings(paths)

	var events []model.Event
	for _, p := range paths {
		batch, err := LoadEventsFromFile(p)
		if err != nil {
			return nil, err
		}
		events = append(events, batch...)
	}
	return events, nil
}

package testevents

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/okian/geoheat/internal/domain/model"
	"github.com/okian/geoheat/internal/domain/types"
	"github.com/okian/geoheat/pkg/logger"
)

// HTTPClient wraps http.Client with timeout.
type HTTPClient struct {
	client *http.Client
}

// newHTTPClient creates a new HTTP client with timeout.
func newHTTPClient(timeout time.Duration) *HTTPClient {
	return &HTTPClient{client: &http.Client{Timeout: timeout}}
}

// Get performs a GET request.
func (c *HTTPClient) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return c.client.Do(req)
}

// Post performs a POST request with JSON body.
func (c *HTTPClient) Post(ctx context.Context, url string, body interface{}) (*http.Response, error) {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	return c.client.Do(req)
}

// getJSON fetches url and decodes a 200 response into v.
func (c *HTTPClient) getJSON(ctx context.Context, url string, v interface{}) error {
	resp, err := c.Get(ctx, url)
	if err != nil {
		return err
	}
	body, err := readResponseBody(resp)
	if err != nil {
		return err
	}
	if resp.StatusCode != StatusOK {
		return fmt.Errorf("GET %s: status %d: %s", url, resp.StatusCode, bytes.TrimSpace(body))
	}
	return json.Unmarshal(body, v)
}

// readResponseBody reads and closes the response body.
func readResponseBody(resp *http.Response) ([]byte, error) {
	defer func() { _ = resp.Body.Close() }()
	return io.ReadAll(resp.Body)
}

// submission accumulates the outcome of every batch.
type submission struct {
	mu      sync.Mutex
	counts  model.Counts
	windows map[string]string
	ok      int
	failed  int
}

func (s *submission) record(resp *types.IngestResponse, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.failed++
		return
	}
	s.ok++
	s.counts.Add(resp.Processed)
	for k, v := range resp.UpdatedWindows {
		// naive ISO timestamps compare lexically
		if cur, ok := s.windows[k]; !ok || v > cur {
			s.windows[k] = v
		}
	}
}

// submitBatches posts batches concurrently using a worker pool and returns
// the latest start of every window the service reported as updated.
func submitBatches(ctx context.Context, config *Config, batches [][]model.Event, stats *Stats) (map[string]string, error) {
	log := logger.Get().Named("submit")
	log.Info(ctx, "submitting batches", logger.Int("batches", len(batches)), logger.Int("workers", config.Workers))

	client := newHTTPClient(config.Timeout)
	url := config.BaseURL + "/events"
	result := &submission{windows: make(map[string]string)}

	batchChan := make(chan []model.Event, config.Workers*WorkerChannelMultiplier)
	var wg sync.WaitGroup

	for i := 0; i < config.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for batch := range batchChan {
				if ctx.Err() != nil {
					result.record(nil, ctx.Err())
					continue
				}
				resp, err := submitBatch(ctx, client, url, batch)
				if err != nil {
					log.Debug(ctx, "batch failed", logger.Error(err))
				}
				result.record(resp, err)
			}
		}()
	}

	go func() {
		defer close(batchChan)
		for _, batch := range batches {
			select {
			case <-ctx.Done():
				return
			case batchChan <- batch:
			}
		}
	}()

	wg.Wait()

	stats.BatchesSubmitted = result.ok + result.failed
	stats.BatchesAccepted = result.ok
	stats.BatchesFailed = result.failed
	stats.EventsRaw = result.counts.Raw
	stats.EventsNormalized = result.counts.Normalized
	stats.DeltasPersisted = result.counts.Persisted

	log.Info(ctx, "batch submission completed",
		logger.Int("accepted", result.ok),
		logger.Int("failed", result.failed),
		logger.Int("raw", result.counts.Raw),
		logger.Int("deltas", result.counts.Deltas),
	)
	if result.ok == 0 && result.failed > 0 {
		return nil, fmt.Errorf("all %d batches failed", result.failed)
	}
	return result.windows, nil
}

// submitBatch posts one batch and decodes the 202 acknowledgement.
func submitBatch(ctx context.Context, client *HTTPClient, url string, batch []model.Event) (*types.IngestResponse, error) {
	req := types.EventsRequest{Events: make([]types.Event, 0, len(batch))}
	for i := range batch {
		req.Events = append(req.Events, types.FromModel(batch[i]))
	}

	resp, err := client.Post(ctx, url, req)
	if err != nil {
		return nil, err
	}
	body, err := readResponseBody(resp)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != StatusAccepted {
		return nil, fmt.Errorf("POST %s: status %d: %s", url, resp.StatusCode, bytes.TrimSpace(body))
	}

	var ack types.IngestResponse
	if err := json.Unmarshal(body, &ack); err != nil {
		return nil, fmt.Errorf("decode ack: %w", err)
	}
	return &ack, nil
}

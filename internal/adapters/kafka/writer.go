// Package kafka publishes aggregate deltas to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/okian/geoheat/internal/domain/model"
	"github.com/okian/geoheat/pkg/metrics"
)

// messageWriter is the subset of *kafkago.Writer used here.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Writer produces one message per aggregate delta.
type Writer struct {
	writer messageWriter
}

// NewWriter creates a Kafka producer for topic.
func NewWriter(brokers []string, topic string) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w}
}

// PublishDeltas serializes and publishes deltas in a single WriteMessages call.
func (w *Writer) PublishDeltas(ctx context.Context, deltas []model.AggregateDelta) error {
	if len(deltas) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(deltas))
	for i := range deltas {
		msg, err := serializeToMessage(deltas[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
		metrics.RecordErrorByComponent("kafka", "write_failed")
		return fmt.Errorf("publish deltas: %w", err)
	}
	return nil
}

// Close flushes and closes the producer.
func (w *Writer) Close() error {
	return w.writer.Close()
}

// deltaMessage is the JSON payload of a published delta.
type deltaMessage struct {
	Layer       string `json:"layer"`
	Zoom        int    `json:"zoom"`
	CellID      string `json:"cell_id"`
	WindowSize  int    `json:"window_size"`
	WindowStart string `json:"window_start"`
	Count       int    `json:"count"`
}

// serializeToMessage marshals a delta into a Kafka message keyed by its cell key,
// so every update of one counter lands on the same partition.
func serializeToMessage(d model.AggregateDelta) (kafkago.Message, error) {
	start := model.FormatTimestamp(d.WindowStart)
	data, err := json.Marshal(deltaMessage{
		Layer:       string(d.Layer),
		Zoom:        d.ZoomLevel,
		CellID:      d.CellID,
		WindowSize:  d.WindowSize,
		WindowStart: start,
		Count:       d.Count,
	})
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize aggregate delta: %w", err)
	}
	key := d.WindowKey().String() + ":" + strconv.FormatInt(d.WindowStart.Unix(), 10) + ":" + d.CellID
	return kafkago.Message{
		Key:   []byte(key),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "layer", Value: []byte(d.Layer)},
			{Key: "window_start", Value: []byte(start)},
		},
	}, nil
}

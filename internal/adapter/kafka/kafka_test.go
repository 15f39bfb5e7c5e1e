package kafka

import (
	"log/slog"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/ensemble-etl/internal/config"
	"github.com/couchcryptid/ensemble-etl/internal/domain"
)

func TestMapMessageToRawEvent(t *testing.T) {
	now := time.Now()
	msg := kafkago.Message{
		Key:       []byte("key-1"),
		Value:     []byte{0x81, 0xa3, 'f', 'o', 'o', 0x01},
		Topic:     "ensemble-member-fields",
		Partition: 2,
		Offset:    42,
		Time:      now,
		Headers: []kafkago.Header{
			{Key: "source", Value: []byte("gefs")},
		},
	}

	raw := mapMessageToRawEvent(msg)

	assert.Equal(t, []byte("key-1"), raw.Key)
	assert.Equal(t, msg.Value, raw.Value)
	assert.Equal(t, "ensemble-member-fields", raw.Topic)
	assert.Equal(t, 2, raw.Partition)
	assert.Equal(t, int64(42), raw.Offset)
	assert.Equal(t, now, raw.Timestamp)
	assert.Equal(t, "gefs", raw.Headers["source"])
	assert.Nil(t, raw.Commit)
}

func TestSerializeToMessage(t *testing.T) {
	event := domain.OutputEvent{
		Key:   []byte("6f1c0c2e-product"),
		Value: []byte{0x80},
		Headers: map[string]string{
			"run_id":        "2024042600",
			"processed_at":  "2024-04-26T06:00:00Z",
			"product":       "qpf_06h_lpmm",
			"forecast_hour": "12",
		},
	}

	msg := serializeToMessage(event)

	assert.Equal(t, event.Key, msg.Key)
	assert.Equal(t, event.Value, msg.Value)
	require.Len(t, msg.Headers, 4)
	want := []kafkago.Header{
		{Key: "forecast_hour", Value: []byte("12")},
		{Key: "processed_at", Value: []byte("2024-04-26T06:00:00Z")},
		{Key: "product", Value: []byte("qpf_06h_lpmm")},
		{Key: "run_id", Value: []byte("2024042600")},
	}
	assert.Equal(t, want, msg.Headers)
}

func TestNewWriter_Config(t *testing.T) {
	cfg := &config.Config{KafkaBrokers: []string{"b1:9092"}, KafkaSinkTopic: "ensemble-products"}
	w := NewWriter(cfg, slog.Default())
	t.Cleanup(func() { _ = w.Close() })

	assert.Equal(t, "ensemble-products", w.writer.Topic)
	assert.Equal(t, kafkago.RequireAll, w.writer.RequiredAcks)
	assert.Equal(t, kafkago.Zstd, w.writer.Compression)
	require.NoError(t, w.LoadBatch(t.Context(), nil))
}

package domain

import (
	"context"
	"time"
)

// RawEvent represents an unprocessed message from the source topic.
type RawEvent struct {
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Commit    func(ctx context.Context) error
}

// FieldMessage is one member's plane of one quantity at one forecast hour, as
// published by the upstream decoder.
type FieldMessage struct {
	RunID         string    `msgpack:"run_id"`
	RunTime       time.Time `msgpack:"run_time"`
	Quantity      string    `msgpack:"quantity"`
	Member        string    `msgpack:"member"`
	ForecastHour  int       `msgpack:"forecast_hour"`
	IntervalStart int       `msgpack:"interval_start"` // bucket quantities only
	IntervalEnd   int       `msgpack:"interval_end"`
	Units         string    `msgpack:"units"`
	NY            int       `msgpack:"ny"`
	NX            int       `msgpack:"nx"`
	Values        []float64 `msgpack:"values"`
}

// ProductMessage is one summary plane destined for the contouring consumer.
type ProductMessage struct {
	ID           string    `msgpack:"id"`
	RunID        string    `msgpack:"run_id"`
	RunTime      time.Time `msgpack:"run_time"`
	Quantity     string    `msgpack:"quantity"`
	Product      string    `msgpack:"product"`
	Window       string    `msgpack:"window,omitempty"`
	Statistic    string    `msgpack:"statistic"`
	Threshold    float64   `msgpack:"threshold,omitempty"`
	ForecastHour int       `msgpack:"forecast_hour"`
	Step         int       `msgpack:"step"`
	Available    bool      `msgpack:"available"`
	Units        string    `msgpack:"units"`
	NY           int       `msgpack:"ny"`
	NX           int       `msgpack:"nx"`
	Levels       []float64 `msgpack:"levels,omitempty"`
	Values       []float64 `msgpack:"values"`
	ProcessedAt  time.Time `msgpack:"processed_at"`
}

// OutputEvent is the serialized form destined for the sink topic.
type OutputEvent struct {
	Key     []byte
	Value   []byte
	Headers map[string]string
}

// RunStatus describes an open run assembly for the status endpoint.
type RunStatus struct {
	RunID         string    `json:"run_id"`
	RunTime       time.Time `json:"run_time"`
	Quantity      string    `json:"quantity"`
	NextStep      int       `json:"next_step"`
	Steps         int       `json:"steps"`
	PendingPlanes int       `json:"pending_planes"`
}

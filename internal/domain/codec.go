package domain

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/couchcryptid/ensemble-etl/internal/ensemble"
)

// productNamespace scopes product ids so they never collide with other
// UUIDv5 producers.
var productNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:ensemble-etl:product"))

// ParseFieldMessage decodes and validates the msgpack payload of raw.
func ParseFieldMessage(raw RawEvent) (FieldMessage, error) {
	var msg FieldMessage
	if err := msgpack.Unmarshal(raw.Value, &msg); err != nil {
		return FieldMessage{}, fmt.Errorf("unmarshal field message: %w", err)
	}
	if err := msg.Validate(); err != nil {
		return FieldMessage{}, err
	}
	return msg, nil
}

// Validate checks the identity fields and that the plane matches its grid.
func (m FieldMessage) Validate() error {
	switch {
	case m.RunID == "":
		return errors.New("field message has no run_id")
	case m.Quantity == "":
		return errors.New("field message has no quantity")
	case m.Member == "":
		return errors.New("field message has no member")
	case m.ForecastHour < 0:
		return fmt.Errorf("field message has negative forecast_hour %d", m.ForecastHour)
	case m.NY <= 0 || m.NX <= 0:
		return fmt.Errorf("%w: field message grid %dx%d", ensemble.ErrInvalidShape, m.NY, m.NX)
	case len(m.Values) != m.NY*m.NX:
		return fmt.Errorf("%w: field message has %d values for grid %dx%d",
			ensemble.ErrInvalidShape, len(m.Values), m.NY, m.NX)
	}
	return nil
}

// Interval returns the bucket reporting interval of the message.
func (m FieldMessage) Interval() ensemble.Interval {
	return ensemble.Interval{Start: m.IntervalStart, End: m.IntervalEnd}
}

// EncodeFieldMessage is the inverse of ParseFieldMessage, used by producers
// and tests.
func EncodeFieldMessage(m FieldMessage) ([]byte, error) {
	data, err := msgpack.Marshal(&m)
	if err != nil {
		return nil, fmt.Errorf("marshal field message: %w", err)
	}
	return data, nil
}

// ProductID derives the deterministic product id so replays upsert rather
// than duplicate downstream.
func ProductID(runID, product string, forecastHour int) string {
	name := runID + "|" + product + "|" + strconv.Itoa(forecastHour)
	return uuid.NewSHA1(productNamespace, []byte(name)).String()
}

// SerializeProduct stamps processed_at and the id, then marshals the product
// into an OutputEvent keyed by its id.
func SerializeProduct(p ProductMessage) (OutputEvent, error) {
	if p.ID == "" {
		p.ID = ProductID(p.RunID, p.Product, p.ForecastHour)
	}
	p.ProcessedAt = now()

	data, err := msgpack.Marshal(&p)
	if err != nil {
		return OutputEvent{}, fmt.Errorf("serialize product %s: %w", p.Product, err)
	}
	return OutputEvent{
		Key:   []byte(p.ID),
		Value: data,
		Headers: map[string]string{
			"forecast_hour": strconv.Itoa(p.ForecastHour),
			"processed_at":  p.ProcessedAt.Format(time.RFC3339),
			"product":       p.Product,
			"run_id":        p.RunID,
		},
	}, nil
}

// DecodeProduct unmarshals a ProductMessage payload.
func DecodeProduct(data []byte) (ProductMessage, error) {
	var p ProductMessage
	if err := msgpack.Unmarshal(data, &p); err != nil {
		return ProductMessage{}, fmt.Errorf("unmarshal product message: %w", err)
	}
	return p, nil
}

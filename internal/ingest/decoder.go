package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lucasrpinho/distributed-sensor-ingestion/internal/domain/sensor"
	"github.com/lucasrpinho/distributed-sensor-ingestion/internal/domain/stream"
)

// DecodeError reports a payload that can never become an Event.
// Such messages are dropped: resolved, not retried, not dead-lettered.
type DecodeError struct {
	Partition int
	Offset    int64
	Reason    string
	Err       error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode message partition=%d offset=%d: %s: %v", e.Partition, e.Offset, e.Reason, e.Err)
	}
	return fmt.Sprintf("decode message partition=%d offset=%d: %s", e.Partition, e.Offset, e.Reason)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// wireEvent keeps every field raw so presence and JSON type can be checked
// before conversion.
type wireEvent struct {
	SensorID  json.RawMessage `json:"sensor_id"`
	EventID   json.RawMessage `json:"event_id"`
	Timestamp json.RawMessage `json:"timestamp"`
	Value     json.RawMessage `json:"value"`
}

var (
	errMissing  = errors.New("missing")
	errEmpty    = errors.New("empty")
	errNotText  = errors.New("not a string")
	errNotFloat = errors.New("not a number")
)

// Decode parses one message payload into an Event.
func Decode(msg stream.Message) (sensor.Event, error) {
	fail := func(reason string, err error) (sensor.Event, error) {
		return sensor.Event{}, &DecodeError{Partition: msg.Partition, Offset: msg.Offset, Reason: reason, Err: err}
	}

	if len(bytes.TrimSpace(msg.Value)) == 0 {
		return fail("empty payload", nil)
	}

	var w wireEvent
	if err := json.Unmarshal(msg.Value, &w); err != nil {
		return fail("invalid event structure", err)
	}

	sensorID, err := requiredString(w.SensorID)
	if err != nil {
		return fail("sensor_id", err)
	}
	eventID, err := requiredString(w.EventID)
	if err != nil {
		return fail("event_id", err)
	}
	rawTS, err := requiredString(w.Timestamp)
	if err != nil {
		return fail("timestamp", err)
	}
	ts, err := time.Parse(time.RFC3339, rawTS)
	if err != nil {
		return fail("timestamp", err)
	}

	if absent(w.Value) {
		return fail("value", errMissing)
	}
	var value float64
	if err := json.Unmarshal(w.Value, &value); err != nil {
		return fail("value", fmt.Errorf("%w: %s", errNotFloat, w.Value))
	}

	return sensor.Event{
		SensorID:  sensorID,
		EventID:   eventID,
		Timestamp: ts,
		Value:     value,
	}, nil
}

type outboundEvent struct {
	SensorID  string  `json:"sensor_id"`
	EventID   string  `json:"event_id"`
	Timestamp string  `json:"timestamp"`
	Value     float64 `json:"value"`
}

// Encode renders an Event in the wire format Decode accepts.
func Encode(ev sensor.Event) ([]byte, error) {
	return json.Marshal(outboundEvent{
		SensorID:  ev.SensorID,
		EventID:   ev.EventID,
		Timestamp: ev.Timestamp.UTC().Format(time.RFC3339Nano),
		Value:     ev.Value,
	})
}

func requiredString(raw json.RawMessage) (string, error) {
	if absent(raw) {
		return "", errMissing
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", errNotText
	}
	if s == "" {
		return "", errEmpty
	}
	return s, nil
}

func absent(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

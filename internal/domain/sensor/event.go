package sensor

import "time"

// Event is a single sensor reading as published by a producer.
// EventID is the logical identity used for deduplication.
type Event struct {
	SensorID  string    `json:"sensor_id"`
	EventID   string    `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

package metric

import "time"

type Record struct {
	SensorID  string    `json:"sensor_id"`
	EventID   string    `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
	CreatedAt time.Time `json:"created_at"`
}

// Filter narrows metric reads. Nil bounds and an empty SensorID match everything.
type Filter struct {
	From     *time.Time
	To       *time.Time
	SensorID string
}

type Page struct {
	Limit  int
	Offset int
}

// Summary aggregates the rows matched by a Filter.
type Summary struct {
	TotalEvents int64      `json:"total_events"`
	From        *time.Time `json:"from"`
	To          *time.Time `json:"to"`
	LagSeconds  *float64   `json:"lag_seconds"`
}

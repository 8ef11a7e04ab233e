package ledger

import "time"

// Entry is the deduplication witness stored once per event_id.
// It records where the first copy of the event was seen; it does not
// drive the stream's committed position.
type Entry struct {
	EventID     string    `json:"event_id"`
	SensorID    string    `json:"sensor_id"`
	Partition   int32     `json:"partition"`
	Offset      string    `json:"offset"`
	ProcessedAt time.Time `json:"processed_at,omitempty"`
}

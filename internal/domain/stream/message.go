package stream

import "time"

// Message is one record read from a topic partition.
// Value is the raw payload as produced; decoding is up to the consumer.
type Message struct {
	Topic     string    `json:"topic"`
	Partition int       `json:"partition"`
	Offset    int64     `json:"offset"`
	Key       []byte    `json:"key"`
	Value     []byte    `json:"value"`
	Time      time.Time `json:"time"`
}

package producerconfig

import "time"

// Config holds the tuning parameters the sensor simulator runs with.
type Config struct {
	SensorCount    int       `json:"sensorCount"`
	EventsPerSec   int       `json:"eventsPerSec"`
	RunDurationSec int       `json:"runDurationSec"`
	KafkaBrokers   string    `json:"kafkaBrokers"`
	KafkaTopic     string    `json:"kafkaTopic"`
	UpdatedAt      time.Time `json:"updatedAt,omitempty"`
}

func Defaults() Config {
	return Config{
		SensorCount:    1000,
		EventsPerSec:   5000,
		RunDurationSec: 0,
		KafkaBrokers:   "localhost:9092",
		KafkaTopic:     "sensor_metrics",
	}
}

// Merge fills zero or empty fields of c from Defaults.
func (c Config) Merge() Config {
	d := Defaults()
	if c.SensorCount <= 0 {
		c.SensorCount = d.SensorCount
	}
	if c.EventsPerSec <= 0 {
		c.EventsPerSec = d.EventsPerSec
	}
	if c.RunDurationSec < 0 {
		c.RunDurationSec = d.RunDurationSec
	}
	if c.KafkaBrokers == "" {
		c.KafkaBrokers = d.KafkaBrokers
	}
	if c.KafkaTopic == "" {
		c.KafkaTopic = d.KafkaTopic
	}
	return c
}

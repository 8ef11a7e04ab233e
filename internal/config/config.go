package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	App      App      `yaml:"app"`
	HTTP     HTTP     `yaml:"http"`
	Log      Log      `yaml:"log"`
	Postgres Postgres `yaml:"postgres"`
	Redis    Redis    `yaml:"redis"`
	Kafka    Kafka    `yaml:"kafka"`
	Consumer Consumer `yaml:"consumer"`
	Producer Producer `yaml:"producer"`
}

type App struct {
	Name    string `yaml:"name" env:"APP_NAME" env-default:"sensor-ingestion"`
	Version string `yaml:"version" env:"APP_VERSION" env-default:"1.0.0"`
}

type HTTP struct {
	Port string `yaml:"port" env:"HTTP_PORT" env-default:"3001"`
}

type Log struct {
	Level string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
}

// SlogLevel maps the configured level name, falling back to info.
func (l Log) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(l.Level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type Postgres struct {
	Host           string        `yaml:"host" env:"POSTGRES_HOST" env-default:"localhost"`
	Port           string        `yaml:"port" env:"POSTGRES_PORT" env-default:"5432"`
	User           string        `yaml:"user" env:"POSTGRES_USER" env-default:"metrics"`
	Password       string        `yaml:"password" env:"POSTGRES_PASSWORD" env-default:"metrics"`
	DBName         string        `yaml:"dbname" env:"POSTGRES_DB" env-default:"metrics"`
	MaxConns       int32         `yaml:"max_conns" env:"POSTGRES_MAX_CONNS" env-default:"50"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" env:"POSTGRES_CONNECT_TIMEOUT" env-default:"2s"`
}

type Redis struct {
	Addr string `yaml:"addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
}

type Kafka struct {
	Brokers              []string      `yaml:"brokers" env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	Topic                string        `yaml:"topic" env:"KAFKA_TOPIC" env-default:"sensor_metrics"`
	GroupID              string        `yaml:"group_id" env:"KAFKA_GROUP_ID" env-default:"sensor-metrics-consumer"`
	SessionTimeout       time.Duration `yaml:"session_timeout" env:"KAFKA_SESSION_TIMEOUT" env-default:"30s"`
	HeartbeatInterval    time.Duration `yaml:"heartbeat_interval" env:"KAFKA_HEARTBEAT_INTERVAL" env-default:"3s"`
	MaxBytesPerPartition int           `yaml:"max_bytes_per_partition" env:"KAFKA_MAX_BYTES_PER_PARTITION" env-default:"2097152"`
	MinBytes             int           `yaml:"min_bytes" env:"KAFKA_MIN_BYTES" env-default:"1024"`
	MaxBytes             int           `yaml:"max_bytes" env:"KAFKA_MAX_BYTES" env-default:"20971520"`
	MaxWait              time.Duration `yaml:"max_wait" env:"KAFKA_MAX_WAIT" env-default:"100ms"`
	// StartOffset applies only when the group has no committed offset yet.
	// Supported: "earliest", "latest".
	StartOffset string `yaml:"start_offset" env:"KAFKA_START_OFFSET" env-default:"latest"`
}

type Consumer struct {
	CommitInterval  time.Duration `yaml:"commit_interval" env:"CONSUMER_COMMIT_INTERVAL" env-default:"2500ms"`
	RetryBackoff    time.Duration `yaml:"retry_backoff" env:"CONSUMER_RETRY_BACKOFF" env-default:"1s"`
	MaxRetryBackoff time.Duration `yaml:"max_retry_backoff" env:"CONSUMER_MAX_RETRY_BACKOFF" env-default:"30s"`
	// AtomicLedger writes the dedup ledger and the metrics in one transaction.
	AtomicLedger bool   `yaml:"atomic_ledger" env:"CONSUMER_ATOMIC_LEDGER" env-default:"false"`
	MetricsPort  string `yaml:"metrics_port" env:"CONSUMER_METRICS_PORT" env-default:"9091"`
}

type Producer struct {
	SensorCount    int    `yaml:"sensor_count" env:"SENSOR_COUNT" env-default:"1000"`
	EventsPerSec   int    `yaml:"events_per_sec" env:"EVENTS_PER_SEC" env-default:"5000"`
	RunDurationSec int    `yaml:"run_duration_sec" env:"RUN_DURATION_SEC" env-default:"0"`
	MetricsPort    string `yaml:"metrics_port" env:"PRODUCER_METRICS_PORT" env-default:"9093"`
}

func New() (*Config, error) {
	return Load("config.yaml")
}

// Load reads path if it exists and lets environment variables override it.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if err := cleanenv.ReadConfig(path, cfg); err != nil {
		// fallback to env vars if file not found
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("config error: %w", err)
		}
	} else {
		// Allow env vars to override config file
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("config env override: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	brokers := c.Kafka.Brokers[:0]
	for _, b := range c.Kafka.Brokers {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	c.Kafka.Brokers = brokers

	if len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("kafka brokers must be specified"))
	}
	if strings.TrimSpace(c.Kafka.Topic) == "" {
		errs = append(errs, errors.New("kafka topic must be specified"))
	}
	if strings.TrimSpace(c.Kafka.GroupID) == "" {
		errs = append(errs, errors.New("kafka group id must be specified"))
	}
	switch strings.ToLower(strings.TrimSpace(c.Kafka.StartOffset)) {
	case "earliest", "latest":
	default:
		errs = append(errs, fmt.Errorf("kafka start offset %q: want earliest or latest", c.Kafka.StartOffset))
	}
	if c.Kafka.MinBytes <= 0 || c.Kafka.MaxBytes <= 0 || c.Kafka.MaxBytesPerPartition <= 0 {
		errs = append(errs, errors.New("kafka byte bounds must be positive"))
	} else if c.Kafka.MinBytes > c.Kafka.MaxBytes {
		errs = append(errs, fmt.Errorf("kafka min bytes %d exceeds max bytes %d", c.Kafka.MinBytes, c.Kafka.MaxBytes))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

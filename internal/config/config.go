package config

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Service    Service    `envconfig:"SERVICE"`
	ClickHouse ClickHouse `envconfig:"CLICKHOUSE"`
	SQS        SQS        `envconfig:"SQS"`
	Consumer   Consumer   `envconfig:"CONSUMER"`
	Database   Database   `envconfig:"DATABASE"`
	Kafka      Kafka      `envconfig:"KAFKA"`
	Valkey     Valkey     `envconfig:"VALKEY"`
	Sweeper    Sweeper    `envconfig:"SWEEPER"`
	Worker     Worker     `envconfig:"WORKER"`
	SES        SES        `envconfig:"SES"`
	Secrets    Secrets    `envconfig:"SECRETS"`
}

type Service struct {
	Environment string `envconfig:"ENVIRONMENT" required:"true"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	APIPort     string `envconfig:"API_PORT" default:"8080"`
}

type ClickHouse struct {
	Host            string `envconfig:"HOST" required:"true"`
	Port            string `envconfig:"PORT" required:"true"`
	Database        string `envconfig:"DB" required:"true"`
	User            string `envconfig:"USER" default:""`
	Password        string `envconfig:"PASSWORD" default:""`
	UseTLS          bool   `envconfig:"USE_TLS" default:"false"`
	MaxOpenConns    int    `envconfig:"MAX_OPEN_CONNS" default:"5"`
	MaxIdleConns    int    `envconfig:"MAX_IDLE_CONNS" default:"2"`
	ConnMaxLifetime int    `envconfig:"CONN_MAX_LIFETIME_SEC" default:"3600"`
}

// SQS is only needed by the processes on the ingest path, see Validate.
type SQS struct {
	Endpoint string `envconfig:"ENDPOINT"`
	QueueURL string `envconfig:"QUEUE_URL"`
	Region   string `envconfig:"REGION"`
}

// Validate reports a missing queue URL or region
func (s SQS) Validate() error {
	if s.QueueURL == "" {
		return errors.New("SQS_QUEUE_URL is required")
	}
	if s.Region == "" {
		return errors.New("SQS_REGION is required")
	}
	return nil
}

type Consumer struct {
	BatchSizeMax    int    `envconfig:"BATCH_SIZE_MAX" default:"2000"`
	BatchTimeoutSec int    `envconfig:"BATCH_TIMEOUT_SEC" default:"10"`
	HealthCheckPort string `envconfig:"HEALTH_CHECK_PORT" default:"8081"`

	// Must exceed the batch timeout so messages stay hidden until acked.
	VisibilityTimeoutSec int `envconfig:"VISIBILITY_TIMEOUT_SEC" default:"60"`

	// How often the keyed-journey routing table is reloaded.
	JourneyRefreshSec int `envconfig:"JOURNEY_REFRESH_SEC" default:"30"`
}

// Database is the relational store. A postgres:// URL selects Postgres,
// anything else is treated as a SQLite file path.
type Database struct {
	URL         string `envconfig:"URL" required:"true"`
	AutoMigrate bool   `envconfig:"AUTO_MIGRATE" default:"true"`
}

type Kafka struct {
	Brokers       string `envconfig:"BROKERS" default:"localhost:9092"`
	SignalTopic   string `envconfig:"SIGNAL_TOPIC" default:"journey-signals"`
	ConsumerGroup string `envconfig:"CONSUMER_GROUP" default:"journey-worker"`
	WriteTimeout  int    `envconfig:"WRITE_TIMEOUT_SEC" default:"3"`
}

type Valkey struct {
	Host                string `envconfig:"HOST" default:"localhost"`
	Port                string `envconfig:"PORT" default:"6379"`
	Password            string `envconfig:"PASSWORD" default:""`
	IdempotencyEnabled  bool   `envconfig:"IDEMPOTENCY_ENABLED" default:"true"`
	IdempotencyFailOpen bool   `envconfig:"IDEMPOTENCY_FAIL_OPEN" default:"true"`
	IdempotencyTTLSec   int    `envconfig:"IDEMPOTENCY_TTL_SEC" default:"86400"`
}

type Sweeper struct {
	IntervalSec     int    `envconfig:"INTERVAL_SEC" default:"10"`
	Concurrency     int    `envconfig:"CONCURRENCY" default:"4"`
	HealthCheckPort string `envconfig:"HEALTH_CHECK_PORT" default:"8082"`
}

type Worker struct {
	TimerPollSec    int    `envconfig:"TIMER_POLL_SEC" default:"1"`
	TimerBatchSize  int    `envconfig:"TIMER_BATCH_SIZE" default:"500"`
	HealthCheckPort string `envconfig:"HEALTH_CHECK_PORT" default:"8083"`
}

type SES struct {
	Region    string `envconfig:"REGION" default:"us-east-1"`
	Endpoint  string `envconfig:"ENDPOINT"`
	FromEmail string `envconfig:"FROM_EMAIL"`
}

type Secrets struct {
	Region   string `envconfig:"REGION" default:"us-east-1"`
	Endpoint string `envconfig:"ENDPOINT"`
	Table    string `envconfig:"TABLE" default:"workspace_secrets"`
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	return &cfg, nil
}

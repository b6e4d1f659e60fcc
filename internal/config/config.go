// Package config defines configuration parsing and helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all application configuration parsed from environment variables.
type Config struct {
	AppEnv string `env:"APP_ENV" envDefault:"dev"`

	// AWS backends. Endpoint override is for local stacks (LocalStack, minio).
	QueueURL       string `env:"QUEUE_URL,required"`
	TableName      string `env:"TABLE_NAME,required"`
	BucketName     string `env:"BUCKET_NAME,required"`
	AWSRegion      string `env:"AWS_REGION" envDefault:"us-east-1"`
	AWSProfile     string `env:"AWS_PROFILE"`
	AWSEndpointURL string `env:"AWS_ENDPOINT_URL"`

	// Worker pool and toolchain sandbox.
	WorkerCount   int    `env:"WORKER_COUNT" envDefault:"4"`
	WorkspaceRoot string `env:"WORKSPACE_ROOT" envDefault:"/tmp/compilation"`

	// Retry engine: deferred actions are re-attempted every ResendInterval.
	ResendInterval time.Duration `env:"RESEND_INTERVAL" envDefault:"3s"`
	// MailboxSize bounds deferred actions per client; a full mailbox blocks callers.
	MailboxSize int `env:"MAILBOX_SIZE" envDefault:"1000"`

	// Purgatory: records older than RetentionInterval are reaped on sweep.
	RetentionInterval time.Duration `env:"RETENTION_INTERVAL" envDefault:"24h"`
	SweepInterval     time.Duration `env:"SWEEP_INTERVAL" envDefault:"5s"`

	// PresignTTL is the lifetime of artifact download URLs committed to records.
	PresignTTL time.Duration `env:"PRESIGN_TTL" envDefault:"5h"`

	// Ops HTTP server (health, readiness, metrics).
	OpsPort               int           `env:"OPS_PORT" envDefault:"9090"`
	ServerShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"30s"`

	OTLPEndpoint    string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:""`
	OTELServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"contract-worker"`
}

// Load parses environment variables into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("op=config.Load: %w", err)
	}
	return cfg, nil
}

// IsDev reports whether the app is running in development mode.
func (c Config) IsDev() bool { return strings.ToLower(c.AppEnv) == "dev" }

// IsProd reports whether the app is running in production mode.
func (c Config) IsProd() bool { return strings.ToLower(c.AppEnv) == "prod" }

// IsTest reports whether the app is running in test mode.
func (c Config) IsTest() bool { return strings.ToLower(c.AppEnv) == "test" }

// LocalEndpoint reports whether an explicit AWS endpoint override is set.
func (c Config) LocalEndpoint() bool { return c.AWSEndpointURL != "" }

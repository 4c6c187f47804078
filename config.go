package pushkit

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds everything the Service needs, loadable from the
// environment.
type Config struct {
	AWSRegion          string `env:"AWS_REGION" envDefault:"us-east-1"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID"`
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY"`

	// AppIdentifier namespaces broadcast topic names so deployments can
	// share a gateway account.
	AppIdentifier string `env:"PUSH_APP_IDENTIFIER,required"`

	// TablePrefix is prepended to every table name.
	TablePrefix string `env:"PUSH_TABLE_PREFIX"`

	// Platform application handles. At least one must be set.
	APNSApplicationARN string `env:"PUSH_APNS_APPLICATION_ARN"`
	FCMApplicationARN  string `env:"PUSH_FCM_APPLICATION_ARN"`

	// Sandbox targets the APNs sandbox environment.
	Sandbox bool `env:"PUSH_APNS_SANDBOX" envDefault:"false"`

	// Row expiry. Zero disables expiration.
	SubscriberTTL time.Duration `env:"PUSH_SUBSCRIBER_TTL" envDefault:"4320h"`
	MembershipTTL time.Duration `env:"PUSH_MEMBERSHIP_TTL" envDefault:"4320h"`

	// JoinConcurrency caps parallel tag joins per registration.
	JoinConcurrency int `env:"PUSH_JOIN_CONCURRENCY" envDefault:"4"`

	// CatchAllErrors folds transport failures into *Error results
	// instead of returning them raw. Deployments that treat push as
	// strictly best-effort enable this.
	CatchAllErrors bool `env:"PUSH_CATCH_ALL_ERRORS" envDefault:"false"`

	// LogBufferSize caps the delivery log queue.
	LogBufferSize int `env:"PUSH_LOG_BUFFER_SIZE" envDefault:"1000"`
}

// Validate checks the invariants env parsing cannot express.
func (c Config) Validate() error {
	if c.AppIdentifier == "" {
		return errors.New("app identifier must be configured")
	}
	if c.APNSApplicationARN == "" && c.FCMApplicationARN == "" {
		return errors.New("at least one platform application ARN must be configured")
	}
	return nil
}

// LoadConfig reads Config from the environment, loading a .env file
// first when one exists.
func LoadConfig() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

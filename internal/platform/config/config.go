// Package config loads service configuration from an optional YAML file
// (CONFIG_PATH) with environment variable overrides, then validates the
// result so main stays lean.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config is the full configuration surface of the service.
type Config struct {
	Server     Server     `yaml:"server"`
	Log        Log        `yaml:"log"`
	Postgres   Postgres   `yaml:"postgres"`
	Redis      Redis      `yaml:"redis"`
	Queue      Queue      `yaml:"queue"`
	Secrets    Secrets    `yaml:"secrets"`
	Onboarding Onboarding `yaml:"onboarding"`
	RemoteExec RemoteExec `yaml:"remote_exec"`
	Webhook    Webhook    `yaml:"webhook"`
	Notify     Notify     `yaml:"notify"`
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string        `yaml:"addr" env:"ONBOARDER_ADDR" env-default:":8080"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"ONBOARDER_SHUTDOWN_TIMEOUT" env-default:"10s"`
}

type Log struct {
	Level string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
}

// Postgres configures the run-ledger store. An empty DSN selects the
// in-memory store.
type Postgres struct {
	DSN      string `yaml:"dsn" env:"DATABASE_DSN"`
	MaxConns int32  `yaml:"max_conns" env:"DATABASE_MAX_CONNS" env-default:"8"`
}

// Redis configures the secret cache. An empty URL disables caching.
type Redis struct {
	URL          string        `yaml:"url" env:"REDIS_URL"`
	PoolSize     int           `yaml:"pool_size" env:"REDIS_POOL_SIZE" env-default:"8"`
	MinIdleConns int           `yaml:"min_idle_conns" env:"REDIS_MIN_IDLE_CONNS" env-default:"1"`
	DialTimeout  time.Duration `yaml:"dial_timeout" env:"REDIS_DIAL_TIMEOUT" env-default:"5s"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"REDIS_READ_TIMEOUT" env-default:"3s"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"REDIS_WRITE_TIMEOUT" env-default:"3s"`
	SecretTTL    time.Duration `yaml:"secret_ttl" env:"REDIS_SECRET_TTL" env-default:"5m"`
}

// Queue configures phase-two deferral. An empty topic disables deferral and
// phase-two runs synchronously in the same invocation.
type Queue struct {
	Brokers       []string `yaml:"brokers" env:"KAFKA_BROKERS" env-separator:","`
	Topic         string   `yaml:"topic" env:"PHASE_TWO_TOPIC"`
	ConsumerGroup string   `yaml:"consumer_group" env:"PHASE_TWO_CONSUMER_GROUP" env-default:"onboarder"`
}

// Secrets names the credential documents the service reads from its secret
// store.
type Secrets struct {
	DirectoryCredentials string `yaml:"directory_credentials" env:"DIRECTORY_CREDENTIALS_SECRET" env-default:"directory-credentials"`
	TicketingCredentials string `yaml:"ticketing_credentials" env:"TICKETING_CREDENTIALS_SECRET" env-default:"ticketing-credentials"`
	IdentityCredentials  string `yaml:"identity_credentials" env:"IDENTITY_CREDENTIALS_SECRET" env-default:"identity-provider-credentials"`
	PlacementMapping     string `yaml:"placement_mapping" env:"PLACEMENT_MAPPING_SECRET" env-default:"placement-mapping"`
}

// Onboarding holds the behavior knobs of the orchestration itself.
type Onboarding struct {
	EmailFormat      string        `yaml:"email_format" env:"EMAIL_FORMAT" env-default:"first.last"`
	TicketingBaseURL string        `yaml:"ticketing_base_url" env:"TICKETING_BASE_URL"`
	CollabEnabled    bool          `yaml:"collab_enabled" env:"COLLAB_ENABLED" env-default:"false"`
	InitialDelay     time.Duration `yaml:"initial_delay" env:"PHASE_TWO_INITIAL_DELAY" env-default:"900s"`
	RetryDelay       time.Duration `yaml:"retry_delay" env:"PHASE_TWO_RETRY_DELAY" env-default:"300s"`
	MaxRetries       int           `yaml:"max_retries" env:"PHASE_TWO_MAX_RETRIES" env-default:"3"`
	UsageLocation    string        `yaml:"usage_location" env:"LICENSE_USAGE_LOCATION" env-default:"GB"`
}

// RemoteExec points at the fleet bridge that executes scripts, plus the
// assumed-role labels the bridge needs to act in the target account.
type RemoteExec struct {
	BridgeURL       string `yaml:"bridge_url" env:"FLEET_BRIDGE_URL"`
	TargetAccountID string `yaml:"target_account_id" env:"REMOTE_TARGET_ACCOUNT_ID"`
	RoleName        string `yaml:"role_name" env:"REMOTE_ROLE_NAME" env-default:"EmployeeOnboardingCrossAccountRole"`
	ExternalID      string `yaml:"external_id" env:"REMOTE_EXTERNAL_ID" env-default:"employee-onboarding-access"`
}

// Webhook configures inbound event authentication.
type Webhook struct {
	JWTSecret string `yaml:"jwt_secret" env:"WEBHOOK_JWT_SECRET"`
}

// Notify names the error-notification destination.
type Notify struct {
	Destination string `yaml:"destination" env:"ERROR_NOTIFY_DESTINATION"`
}

// Load reads CONFIG_PATH (when set) and environment overrides, then
// validates.
func Load() (*Config, error) {
	var cfg Config

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read config from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

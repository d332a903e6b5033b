package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeYAML(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write yaml: %v", err)
	}
	return path
}

const validYAML = `
server:
  addr: ":9090"
  shutdown_timeout: "5s"

log:
  level: "debug"

queue:
  brokers: ["localhost:9092"]
  topic: "onboarding.phase-two"
  consumer_group: "onboarder"

onboarding:
  email_format: "firstinitial.lastname"
  ticketing_base_url: "https://example.atlassian.net"
  collab_enabled: true
  initial_delay: "900s"
  retry_delay: "300s"
  max_retries: 3
  usage_location: "GB"

remote_exec:
  bridge_url: "https://fleet-bridge.internal"

webhook:
  jwt_secret: "a-long-shared-secret-for-webhook-auth"
`

func TestLoad_ValidYAML(t *testing.T) {
	path := writeYAML(t, t.TempDir(), validYAML)
	t.Setenv("CONFIG_PATH", path)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, EmailFormatInitialDotLast, cfg.Onboarding.EmailFormat)
	assert.Equal(t, "onboarding.phase-two", cfg.Queue.Topic)
	assert.True(t, cfg.Onboarding.CollabEnabled)
	assert.Equal(t, 3, cfg.Onboarding.MaxRetries)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeYAML(t, t.TempDir(), validYAML)
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("EMAIL_FORMAT", "first.last")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, EmailFormatFirstDotLast, cfg.Onboarding.EmailFormat)
}

func TestLoad_EnvOnly(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("TICKETING_BASE_URL", "https://example.atlassian.net")
	t.Setenv("FLEET_BRIDGE_URL", "https://fleet-bridge.internal")
	t.Setenv("WEBHOOK_JWT_SECRET", "secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, EmailFormatFirstDotLast, cfg.Onboarding.EmailFormat)
	assert.Equal(t, "", cfg.Queue.Topic, "deferral disabled by default")
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Onboarding: Onboarding{
				EmailFormat:      EmailFormatFirstDotLast,
				TicketingBaseURL: "https://example.atlassian.net",
				InitialDelay:     900e9,
				RetryDelay:       300e9,
				MaxRetries:       3,
			},
			RemoteExec: RemoteExec{BridgeURL: "https://fleet-bridge.internal"},
			Webhook:    Webhook{JWTSecret: "secret"},
		}
	}

	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, base().Validate())
	})

	t.Run("bad email format", func(t *testing.T) {
		cfg := base()
		cfg.Onboarding.EmailFormat = "lastname.first"
		assert.ErrorContains(t, cfg.Validate(), "email_format")
	})

	t.Run("missing ticketing url", func(t *testing.T) {
		cfg := base()
		cfg.Onboarding.TicketingBaseURL = ""
		assert.ErrorContains(t, cfg.Validate(), "ticketing_base_url")
	})

	t.Run("topic without brokers", func(t *testing.T) {
		cfg := base()
		cfg.Queue.Topic = "onboarding.phase-two"
		assert.ErrorContains(t, cfg.Validate(), "brokers")
	})

	t.Run("missing bridge url", func(t *testing.T) {
		cfg := base()
		cfg.RemoteExec.BridgeURL = ""
		assert.ErrorContains(t, cfg.Validate(), "bridge_url")
	})

	t.Run("missing webhook secret", func(t *testing.T) {
		cfg := base()
		cfg.Webhook.JWTSecret = ""
		assert.ErrorContains(t, cfg.Validate(), "jwt_secret")
	})
}

package config

import "fmt"

const (
	EmailFormatFirstDotLast   = "first.last"
	EmailFormatInitialDotLast = "firstinitial.lastname"
	maxPhaseTwoRetries        = 10
	minPhaseTwoDelaySecs      = 1
)

// Validate rejects configurations that would only fail later at runtime.
func (c *Config) Validate() error {
	switch c.Onboarding.EmailFormat {
	case EmailFormatFirstDotLast, EmailFormatInitialDotLast:
	default:
		return fmt.Errorf("onboarding.email_format must be %q or %q, got %q",
			EmailFormatFirstDotLast, EmailFormatInitialDotLast, c.Onboarding.EmailFormat)
	}

	if c.Onboarding.TicketingBaseURL == "" {
		return fmt.Errorf("onboarding.ticketing_base_url is required")
	}
	if c.Onboarding.MaxRetries < 0 || c.Onboarding.MaxRetries > maxPhaseTwoRetries {
		return fmt.Errorf("onboarding.max_retries must be between 0 and %d", maxPhaseTwoRetries)
	}
	if c.Onboarding.InitialDelay.Seconds() < minPhaseTwoDelaySecs {
		return fmt.Errorf("onboarding.initial_delay must be at least %ds", minPhaseTwoDelaySecs)
	}
	if c.Onboarding.RetryDelay.Seconds() < minPhaseTwoDelaySecs {
		return fmt.Errorf("onboarding.retry_delay must be at least %ds", minPhaseTwoDelaySecs)
	}

	if c.Queue.Topic != "" && len(c.Queue.Brokers) == 0 {
		return fmt.Errorf("queue.brokers is required when queue.topic is set")
	}

	if c.RemoteExec.BridgeURL == "" {
		return fmt.Errorf("remote_exec.bridge_url is required")
	}

	if c.Webhook.JWTSecret == "" {
		return fmt.Errorf("webhook.jwt_secret is required")
	}

	return nil
}
